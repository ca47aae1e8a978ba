// Package handlers turns configured task definitions into scheduler
// callbacks. A kind names a Handler; the callback runs it to completion on
// the main loop under the task's timeout.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"tickflow/internal/domain"
	httpkind "tickflow/internal/handlers/http"
	"tickflow/internal/handlers/logmsg"
	"tickflow/internal/handlers/shell"
	"tickflow/internal/scheduler"
)

// DefaultTimeout applies to tasks without their own timeout. It stays below
// the default watchdog timeout so a slow handler fails before the main loop
// is declared stalled.
const DefaultTimeout = time.Second

var ErrUnknownKind = errors.New("unknown task kind")

type Handler interface {
	Handle(ctx context.Context, payload json.RawMessage) error
}

type Registry struct {
	ctx      context.Context
	log      zerolog.Logger
	handlers map[string]Handler
}

// NewRegistry returns an empty registry. ctx bounds every handler run.
func NewRegistry(ctx context.Context, l *zerolog.Logger) *Registry {
	if l == nil {
		l = &log.Logger
	}
	return &Registry{
		ctx:      ctx,
		log:      l.With().Str("component", "handlers").Logger(),
		handlers: map[string]Handler{},
	}
}

// Default registers the built-in kinds: log, shell and http.
func Default(ctx context.Context, l *zerolog.Logger) *Registry {
	r := NewRegistry(ctx, l)
	r.Register("log", logmsg.Log{Logger: &r.log})
	r.Register("shell", shell.Shell{})
	r.Register("http", httpkind.HTTP{})
	return r
}

func (r *Registry) Register(kind string, h Handler) { r.handlers[kind] = h }

func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Callback builds the scheduler callback for def. The payload is encoded
// once here so a bad payload fails at boot rather than on every run.
func (r *Registry) Callback(def domain.TaskDef) (scheduler.Callback, error) {
	h, ok := r.handlers[def.Kind]
	if !ok {
		return nil, fmt.Errorf("task %s: %w %q", def.Name, ErrUnknownKind, def.Kind)
	}
	payload, err := def.PayloadJSON()
	if err != nil {
		return nil, err
	}
	timeout := def.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	l := r.log.With().Str("task", def.Name).Uint8("id", def.ID).Str("kind", def.Kind).Logger()

	return func(any) {
		ctx, cancel := context.WithTimeout(r.ctx, timeout)
		defer cancel()
		start := time.Now()
		if err := h.Handle(ctx, payload); err != nil {
			l.Warn().Err(err).Dur("took", time.Since(start)).Msg("task failed")
			return
		}
		l.Debug().Dur("took", time.Since(start)).Msg("task ok")
	}, nil
}
