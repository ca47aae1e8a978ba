package journal

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"tickflow/internal/scheduler"
)

const (
	DefaultBuffer = 256
	pruneEvery    = time.Minute
	writeTimeout  = 5 * time.Second
)

// Recorder is a scheduler.Observer that hands executions to a background
// writer. TaskRan never blocks: when the queue is full the execution is
// dropped and counted.
type Recorder struct {
	// Keep bounds the journal to the newest Keep executions. Zero keeps all.
	Keep int

	store   *Store
	log     zerolog.Logger
	queue   chan scheduler.Execution
	dropped atomic.Uint64
	written atomic.Uint64
}

func NewRecorder(store *Store, buffer int, l *zerolog.Logger) *Recorder {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if l == nil {
		l = &log.Logger
	}
	return &Recorder{
		store: store,
		log:   l.With().Str("component", "journal").Logger(),
		queue: make(chan scheduler.Execution, buffer),
	}
}

func (r *Recorder) TaskRan(e scheduler.Execution) {
	select {
	case r.queue <- e:
	default:
		// log on powers of two
		if n := r.dropped.Add(1); n&(n-1) == 0 {
			r.log.Warn().Uint64("dropped", n).Msg("journal queue full")
		}
	}
}

// Run writes queued executions until ctx ends, then flushes what is left.
func (r *Recorder) Run(ctx context.Context) {
	var prune <-chan time.Time
	if r.Keep > 0 {
		t := time.NewTicker(pruneEvery)
		defer t.Stop()
		prune = t.C
	}
	for {
		select {
		case e := <-r.queue:
			r.write(e)
		case <-prune:
			r.prune(ctx)
		case <-ctx.Done():
			r.flush()
			return
		}
	}
}

func (r *Recorder) flush() {
	for {
		select {
		case e := <-r.queue:
			r.write(e)
		default:
			return
		}
	}
}

func (r *Recorder) prune(ctx context.Context) {
	n, err := r.store.Prune(ctx, r.Keep)
	if err != nil {
		r.log.Error().Err(err).Msg("prune journal")
		return
	}
	if n > 0 {
		r.log.Debug().Int("deleted", n).Int("keep", r.Keep).Msg("journal pruned")
	}
}

// write has its own deadline; rows dequeued after the run context ends are
// still stored.
func (r *Recorder) write(e scheduler.Execution) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if _, err := r.store.Record(ctx, e); err != nil {
		r.log.Error().Err(err).Uint8("task_id", e.TaskID).Msg("record execution")
		return
	}
	r.written.Add(1)
}

func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

func (r *Recorder) Written() uint64 { return r.written.Load() }
