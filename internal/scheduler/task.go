package scheduler

import (
	"time"

	"github.com/google/uuid"
)

// Callback is the body of a task. It runs to completion on the main loop.
type Callback func(arg any)

// Task is one entry of the scheduler's task table.
type Task struct {
	Callback    Callback
	Arg         any
	Priority    uint8  // higher runs first
	DueTick     uint32 // eligible once the tick counter passes it
	PeriodTicks uint32 // 0 for one-shot
	ID          uint8

	seq uint64
}

// Seq is the insertion sequence number assigned by Add.
func (t Task) Seq() uint64 { return t.seq }

func (t Task) Periodic() bool { return t.PeriodTicks > 0 }

// RanksBelow is the default ordering. Higher priority ranks higher; on equal
// priority the smaller DueTick ranks higher; on equal DueTick the task added
// first ranks higher.
func RanksBelow(a, b Task) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if a.DueTick != b.DueTick {
		return a.DueTick > b.DueTick
	}
	return a.seq > b.seq
}

// TaskInfo is the callback-free view of a task exposed in snapshots.
type TaskInfo struct {
	ID          uint8  `json:"id"`
	Priority    uint8  `json:"priority"`
	DueTick     uint32 `json:"due_tick"`
	PeriodTicks uint32 `json:"period_ticks"`
	Seq         uint64 `json:"seq"`
}

// Snapshot is a point-in-time copy of the task table. Tasks are in heap
// array order, so Tasks[0] is the next candidate for dispatch.
type Snapshot struct {
	Running  bool       `json:"running"`
	Tick     uint32     `json:"tick"`
	Capacity int        `json:"capacity"`
	Tasks    []TaskInfo `json:"tasks"`
}

// Execution describes one completed task run.
type Execution struct {
	Batch    uuid.UUID // one deferral window
	TaskID   uint8
	Priority uint8
	DueTick  uint32
	Tick     uint32 // frozen tick of the batch
	Periodic bool
	Panicked bool
	Started  time.Time
	Duration time.Duration
}

// Observer receives executions on the main loop. Implementations must not
// block.
type Observer interface {
	TaskRan(Execution)
}

// Watchdog is refreshed by the tick handler while no task runs and around
// every task. A task that never returns starves it.
type Watchdog interface {
	Start()
	Refresh()
	Stop()
}
