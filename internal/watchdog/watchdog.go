// Package watchdog is a software stand-in for an independent watchdog timer.
// Once started it must be refreshed within the timeout or onExpire runs.
package watchdog

import (
	"sync"
	"time"
)

type Watchdog struct {
	timeout  time.Duration
	onExpire func()

	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64
	expired bool
}

func New(timeout time.Duration, onExpire func()) *Watchdog {
	return &Watchdog{timeout: timeout, onExpire: onExpire}
}

func (w *Watchdog) Timeout() time.Duration { return w.timeout }

// Start arms the timer. Starting an armed watchdog re-arms it.
func (w *Watchdog) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.arm()
}

// Refresh pushes the deadline out by one timeout. It is a no-op unless the
// watchdog is armed.
func (w *Watchdog) Refresh() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer == nil || w.expired {
		return
	}
	w.arm()
}

func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.gen++
}

// Expired reports whether the current arming ran out.
func (w *Watchdog) Expired() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.expired
}

// arm must be called with mu held. The generation guards against a timer
// that already fired concurrently with a Refresh.
func (w *Watchdog) arm() {
	if w.timer != nil {
		w.timer.Stop()
	}
	w.gen++
	w.expired = false
	gen := w.gen
	w.timer = time.AfterFunc(w.timeout, func() { w.fire(gen) })
}

func (w *Watchdog) fire(gen uint64) {
	w.mu.Lock()
	if gen != w.gen || w.expired {
		w.mu.Unlock()
		return
	}
	w.expired = true
	w.mu.Unlock()

	if w.onExpire != nil {
		w.onExpire()
	}
}
