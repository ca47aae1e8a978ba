package config

import (
	"context"
	"fmt"
	"path/filepath"
	"reflect"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const reloadDebounce = 250 * time.Millisecond

// Watch reloads path whenever it changes and hands each new valid
// configuration to onChange, from the watcher goroutine, together with the
// one delivered before it (current for the first call). Editors that
// replace the file are covered by watching the parent directory. Invalid or
// unchanged content is skipped. Watch returns when ctx ends.
func Watch(ctx context.Context, path string, current Config, onChange func(prev, next Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watch: %w", err)
	}
	defer w.Close()

	dir, file := filepath.Dir(path), filepath.Base(path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("config watch %s: %w", dir, err)
	}
	l := log.With().Str("component", "config").Str("path", path).Logger()
	l.Debug().Msg("config watcher started")

	reload := make(chan struct{}, 1)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != file || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// partial writes arrive as several events
			if timer == nil {
				timer = time.AfterFunc(reloadDebounce, func() {
					select {
					case reload <- struct{}{}:
					default:
					}
				})
			} else {
				timer.Reset(reloadDebounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			l.Warn().Err(err).Msg("config watch error")
		case <-reload:
			next, err := Load(path)
			if err != nil {
				l.Warn().Err(err).Msg("config rejected")
				continue
			}
			if reflect.DeepEqual(next, current) {
				l.Debug().Msg("config unchanged")
				continue
			}
			prev := current
			current = next
			onChange(prev, next)
		}
	}
}

// Reloadable reports whether moving from old to next only touches settings
// that apply without a restart: the log level and the fault log rate.
func Reloadable(old, next Config) bool {
	old.Log, next.Log = Log{}, Log{}
	old.Faults.RatePerSec, next.Faults.RatePerSec = 0, 0
	return reflect.DeepEqual(old, next)
}
