// Package faults is a sticky 32-bit fault register shared by the buffer,
// heap and scheduler packages. A failing operation sets its bit and becomes a
// no-op; the host polls, clears and surfaces the register when it chooses.
package faults

import (
	"math/bits"
	"sync/atomic"
)

type Code uint8

const (
	BufferEmpty Code = iota
	BufferFull

	PQueueInvalidCount
	PQueueEmpty
	PQueueFull

	SchedFull
	SchedEmpty
	TaskPanic

	// MaxCodes is the register width.
	MaxCodes = 32

	// All addresses every bit of the register.
	All Code = 0xFF
)

var descriptions = [...]string{
	BufferEmpty:        "delete from an empty buffer",
	BufferFull:         "insert into a full buffer",
	PQueueInvalidCount: "invalid element count for priority queue",
	PQueueEmpty:        "pop or delete on an empty priority queue",
	PQueueFull:         "insert into a full priority queue",
	SchedFull:          "add task when the task table is full",
	SchedEmpty:         "delete task when the task table is empty",
	TaskPanic:          "task callback panicked",
}

func (c Code) String() string {
	if c == All {
		return "all faults"
	}
	if int(c) < len(descriptions) && descriptions[c] != "" {
		return descriptions[c]
	}
	return "undefined fault"
}

// Defined returns every code that has a description, in bit order.
func Defined() []Code {
	out := make([]Code, 0, len(descriptions))
	for i := range descriptions {
		out = append(out, Code(i))
	}
	return out
}

func mask(c Code) uint32 {
	if c == All {
		return ^uint32(0)
	}
	if c >= MaxCodes {
		return 0
	}
	return 1 << c
}

// Notifier surfaces the register contents somewhere (log, LED, bus).
type Notifier interface {
	Notify(bits uint32)
}

// NotifierFunc adapts a plain function to Notifier.
type NotifierFunc func(bits uint32)

func (f NotifierFunc) Notify(bits uint32) { f(bits) }

// Register is safe for concurrent use. The zero value is an empty register
// with a no-op Notify.
type Register struct {
	bits     atomic.Uint32
	Notifier Notifier
}

func New() *Register { return &Register{} }

// Set is idempotent.
func (r *Register) Set(c Code) {
	if r == nil {
		return
	}
	m := mask(c)
	for {
		old := r.bits.Load()
		if old&m == m || r.bits.CompareAndSwap(old, old|m) {
			return
		}
	}
}

func (r *Register) Clear(c Code) {
	if r == nil {
		return
	}
	m := mask(c)
	for {
		old := r.bits.Load()
		if old&m == 0 || r.bits.CompareAndSwap(old, old&^m) {
			return
		}
	}
}

// Check reports whether the bit for c is set. For All it reports whether any
// bit is set.
func (r *Register) Check(c Code) bool {
	if r == nil {
		return false
	}
	return r.bits.Load()&mask(c) != 0
}

func (r *Register) Bits() uint32 {
	if r == nil {
		return 0
	}
	return r.bits.Load()
}

// Active lists the set codes in bit order.
func (r *Register) Active() []Code {
	return Decode(r.Bits())
}

// Notify hands the current register to the Notifier. Without one it does
// nothing.
func (r *Register) Notify() {
	if r == nil || r.Notifier == nil {
		return
	}
	r.Notifier.Notify(r.bits.Load())
}

// Decode splits a raw register value into codes.
func Decode(v uint32) []Code {
	out := make([]Code, 0, bits.OnesCount32(v))
	for v != 0 {
		i := bits.TrailingZeros32(v)
		out = append(out, Code(i))
		v &^= 1 << i
	}
	return out
}
