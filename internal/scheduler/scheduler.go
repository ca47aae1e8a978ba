// Package scheduler is a cooperative, run-to-completion task scheduler
// driven by a periodic tick.
//
// Two contexts touch a Scheduler. The tick source (the timer interrupt)
// calls only Update. The main loop calls Init, Add, Delete and Dispatch, and
// every task callback runs on it. State shared between the two is atomic;
// the task table belongs to the main loop alone.
//
// While Dispatch works through a batch of overdue tasks it raises a deferral
// flag. Ticks arriving in that window go to a pending accumulator and are
// folded into the counter once the batch is done, so the batch sees one
// frozen value of "now".
package scheduler

import (
	"context"
	"errors"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"tickflow/internal/faults"
	"tickflow/internal/pqueue"
)

const (
	DefaultCapacity   = 31 // 2^5 - 1
	DefaultTickPeriod = 10 * time.Millisecond
)

var (
	ErrFull        = errors.New("scheduler: task table full")
	ErrEmpty       = errors.New("scheduler: task table empty")
	ErrNilCallback = errors.New("scheduler: nil callback")
	ErrNotRunning  = errors.New("scheduler: not initialized")
)

type Config struct {
	// Capacity of the task table. 2^n - 1 fills the heap's last level.
	Capacity   int
	TickPeriod time.Duration
	// Compare overrides RanksBelow. It must be a strict total order.
	Compare  func(a, b Task) bool
	Source   TickSource
	Watchdog Watchdog
	Observer Observer
	Faults   *faults.Register
	Logger   *zerolog.Logger
}

type Scheduler struct {
	cfg    Config
	log    zerolog.Logger
	faults *faults.Register
	heap   pqueue.Ops[Task]

	// main loop only
	tasks []Task
	count int
	seq   uint64
	now   uint32

	tick      atomic.Uint32
	pending   atomic.Uint32
	running   atomic.Bool
	executing atomic.Bool
	deferring atomic.Bool
	wake      chan struct{}

	snap atomic.Pointer[Snapshot]
}

func New(cfg Config) *Scheduler {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.TickPeriod <= 0 {
		cfg.TickPeriod = DefaultTickPeriod
	}
	if cfg.Compare == nil {
		cfg.Compare = RanksBelow
	}
	if cfg.Source == nil {
		cfg.Source = NewTicker(cfg.TickPeriod)
	}
	if cfg.Faults == nil {
		cfg.Faults = faults.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = &log.Logger
	}

	s := &Scheduler{
		cfg:    cfg,
		log:    cfg.Logger.With().Str("component", "scheduler").Logger(),
		faults: cfg.Faults,
		heap:   pqueue.New(cfg.Compare, cfg.Faults),
		tasks:  make([]Task, cfg.Capacity),
		wake:   make(chan struct{}, 1),
	}
	if c := cfg.Capacity; c&(c+1) != 0 {
		s.log.Debug().Int("capacity", c).Msg("capacity is not 2^n-1; last heap level stays partial")
	}
	s.publish()
	return s
}

// Init (re)starts the clock at tick 0. On a running scheduler every queued
// task is discarded; before the first Init, tasks registered with Add are
// kept and turned into a heap. Init arms the watchdog and the tick source.
func (s *Scheduler) Init() {
	s.cfg.Source.Disarm()

	if s.running.Load() {
		clear(s.tasks[:s.count])
		s.count = 0
	}
	s.tick.Store(0)
	s.pending.Store(0)
	s.executing.Store(false)
	s.deferring.Store(false)
	s.now = 0
	select {
	case <-s.wake:
	default:
	}

	if err := s.heap.Create(s.tasks, s.count); err != nil {
		s.log.Error().Err(err).Int("count", s.count).Msg("heapify failed")
	}
	s.running.Store(true)

	if s.cfg.Watchdog != nil {
		s.cfg.Watchdog.Start()
	}
	s.cfg.Source.Arm(s.Update)
	s.publish()

	s.log.Info().
		Int("tasks", s.count).
		Int("capacity", len(s.tasks)).
		Dur("tick", s.cfg.TickPeriod).
		Bool("watchdog", s.cfg.Watchdog != nil).
		Msg("scheduler started")
}

// Close disarms the tick source and stops the watchdog.
func (s *Scheduler) Close() {
	s.cfg.Source.Disarm()
	if s.cfg.Watchdog != nil {
		s.cfg.Watchdog.Stop()
	}
}

// Add queues a task that first becomes due delayTicks after now and then
// every periodTicks (0 for one-shot). Before Init, the delay counts from the
// Init-time zero and heap order is deferred to Init.
func (s *Scheduler) Add(cb Callback, arg any, priority uint8, periodTicks, delayTicks uint32, id uint8) error {
	if s.count >= len(s.tasks) {
		s.faults.Set(faults.SchedFull)
		return ErrFull
	}
	if cb == nil {
		return ErrNilCallback
	}

	s.seq++
	t := Task{
		Callback:    cb,
		Arg:         arg,
		Priority:    priority,
		PeriodTicks: periodTicks,
		ID:          id,
		seq:         s.seq,
	}

	if !s.running.Load() {
		t.DueTick = delayTicks
		s.tasks[s.count] = t
		s.count++
		s.publish()
		return nil
	}

	t.DueTick = s.tickPlus(delayTicks)
	if err := s.heap.Insert(s.tasks, s.count, t); err != nil {
		return err
	}
	s.count++
	s.publish()
	return nil
}

// Delete removes the first task, in table order, whose id matches. An
// unknown id is not an error.
func (s *Scheduler) Delete(id uint8) error {
	if s.count == 0 {
		s.faults.Set(faults.SchedEmpty)
		return ErrEmpty
	}
	for i := 0; i < s.count; i++ {
		if s.tasks[i].ID != id {
			continue
		}
		if err := s.heap.Delete(s.tasks, s.count, i); err != nil {
			return err
		}
		s.count--
		s.tasks[s.count] = Task{}
		s.publish()
		return nil
	}
	return nil
}

// Update is the tick handler. It never blocks.
func (s *Scheduler) Update() {
	if wd := s.cfg.Watchdog; wd != nil && !s.executing.Load() {
		wd.Refresh()
	}
	if s.deferring.Load() || !s.bump() {
		s.pending.Add(1)
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Dispatch runs every task whose due tick is strictly before the current
// tick, highest ranked first, then waits for the next tick or ctx.
func (s *Scheduler) Dispatch(ctx context.Context) {
	if s.count == 0 || !s.running.Load() {
		s.fold()
		s.idle(ctx)
		return
	}

	s.deferring.Store(true)
	s.now = s.tick.Load()

	var batch uuid.UUID
	ran := 0
	for s.count > 0 && s.tasks[0].DueTick < s.now {
		if ran == 0 && s.cfg.Observer != nil {
			batch = uuid.New()
		}
		t := s.tasks[0]
		s.execute(t, batch)
		s.settle(t)
		ran++
	}

	s.deferring.Store(false)
	s.fold()
	if ran > 0 {
		s.publish()
		s.log.Trace().Int("ran", ran).Uint32("tick", s.now).Int("queued", s.count).Msg("batch done")
	}
	s.idle(ctx)
}

// Run calls Dispatch until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.Load() {
		return ErrNotRunning
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.Dispatch(ctx)
	}
}

func (s *Scheduler) execute(t Task, batch uuid.UUID) {
	s.refreshWatchdog()
	start := time.Now()
	s.executing.Store(true)
	panicked := s.call(t)
	s.executing.Store(false)
	s.refreshWatchdog()

	if s.cfg.Observer != nil {
		s.cfg.Observer.TaskRan(Execution{
			Batch:    batch,
			TaskID:   t.ID,
			Priority: t.Priority,
			DueTick:  t.DueTick,
			Tick:     s.now,
			Periodic: t.Periodic(),
			Panicked: panicked,
			Started:  start,
			Duration: time.Since(start),
		})
	}
}

func (s *Scheduler) call(t Task) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			s.faults.Set(faults.TaskPanic)
			s.log.Error().
				Uint8("id", t.ID).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("task panicked")
		}
	}()
	t.Callback(t.Arg)
	return false
}

// settle removes or reschedules the task that just ran. The callback may
// have added or deleted tasks, so the task is looked up again by seq.
func (s *Scheduler) settle(t Task) {
	i := s.indexOf(t.seq)
	if i < 0 {
		return
	}
	if !t.Periodic() {
		var err error
		if i == 0 {
			err = s.heap.Pop(s.tasks, s.count)
		} else {
			err = s.heap.Delete(s.tasks, s.count, i)
		}
		if err != nil {
			s.log.Error().Err(err).Uint8("id", t.ID).Msg("remove one-shot task")
			return
		}
		s.count--
		s.tasks[s.count] = Task{}
		return
	}

	s.advanceDue(i, t.PeriodTicks)
	if i == 0 {
		s.heap.PushDown(s.tasks, s.count)
	} else {
		s.heap.Fix(s.tasks, s.count, i)
	}
}

func (s *Scheduler) indexOf(seq uint64) int {
	for i := 0; i < s.count; i++ {
		if s.tasks[i].seq == seq {
			return i
		}
	}
	return -1
}

// fold moves ticks deferred during the batch into the live counter.
func (s *Scheduler) fold() {
	if n := s.pending.Swap(0); n > 0 {
		s.advanceTick(n)
	}
}

// idle is the low-power wait: it returns on the next tick or when ctx ends.
func (s *Scheduler) idle(ctx context.Context) {
	select {
	case <-s.wake:
	case <-ctx.Done():
	}
}

func (s *Scheduler) refreshWatchdog() {
	if s.cfg.Watchdog != nil {
		s.cfg.Watchdog.Refresh()
	}
}

func (s *Scheduler) publish() {
	snap := &Snapshot{
		Running:  s.running.Load(),
		Capacity: len(s.tasks),
		Tasks:    make([]TaskInfo, s.count),
	}
	for i, t := range s.tasks[:s.count] {
		snap.Tasks[i] = TaskInfo{ID: t.ID, Priority: t.Priority, DueTick: t.DueTick, PeriodTicks: t.PeriodTicks, Seq: t.seq}
	}
	s.snap.Store(snap)
}

// Snapshot returns the task table as of the last main-loop change together
// with the live tick. Safe from any goroutine.
func (s *Scheduler) Snapshot() Snapshot {
	out := *s.snap.Load()
	out.Tick = s.tick.Load()
	return out
}

// Tick is the live tick counter.
func (s *Scheduler) Tick() uint32 { return s.tick.Load() }

// Pending is the number of ticks waiting to be folded in.
func (s *Scheduler) Pending() uint32 { return s.pending.Load() }

func (s *Scheduler) Running() bool { return s.running.Load() }

// Executing reports whether a task callback is on the stack.
func (s *Scheduler) Executing() bool { return s.executing.Load() }

// Len is the number of queued tasks. Main loop only.
func (s *Scheduler) Len() int { return s.count }

// Tasks returns a copy of the queued tasks in heap order. Main loop only.
func (s *Scheduler) Tasks() []Task {
	return append([]Task(nil), s.tasks[:s.count]...)
}

// HeapValid reports whether the task table satisfies the heap invariant.
// Main loop only.
func (s *Scheduler) HeapValid() bool { return s.heap.Valid(s.tasks, s.count) }

func (s *Scheduler) Faults() *faults.Register { return s.faults }

func (s *Scheduler) TickPeriod() time.Duration { return s.cfg.TickPeriod }
