package scheduler

import (
	"sync"
	"time"
)

// TickSource stands in for the periodic hardware timer. Arm starts calling
// update once per period from its own goroutine; Disarm stops it and waits
// for the last call to return.
type TickSource interface {
	Arm(update func())
	Disarm()
}

type Ticker struct {
	period time.Duration

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func NewTicker(period time.Duration) *Ticker {
	if period <= 0 {
		period = DefaultTickPeriod
	}
	return &Ticker{period: period}
}

func (t *Ticker) Period() time.Duration { return t.period }

// Arm replaces any previous arming.
func (t *Ticker) Arm(update func()) {
	t.Disarm()

	stop, done := make(chan struct{}), make(chan struct{})
	t.mu.Lock()
	t.stop, t.done = stop, done
	t.mu.Unlock()

	go func() {
		defer close(done)
		tk := time.NewTicker(t.period)
		defer tk.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tk.C:
				update()
			}
		}
	}()
}

func (t *Ticker) Disarm() {
	t.mu.Lock()
	stop, done := t.stop, t.done
	t.stop, t.done = nil, nil
	t.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}

// Manual never fires. The owner calls Scheduler.Update itself, which is how
// tests step time.
type Manual struct{}

func (Manual) Arm(func()) {}
func (Manual) Disarm()    {}
