// Package ringbuf implements a fixed-capacity FIFO over caller-owned storage.
//
// The package keeps no buffer state. The caller owns the backing slice and
// the head/count cursors and passes them on every call, so any number of
// independent buffers can share one Ops value. The next element to read is
// buf[head]; it is read directly before calling Delete.
package ringbuf

import (
	"errors"

	"tickflow/internal/faults"
)

var (
	ErrFull  = errors.New("ringbuf: buffer full")
	ErrEmpty = errors.New("ringbuf: buffer empty")
)

type Ops[T any] struct {
	faults *faults.Register
}

// New returns buffer operations that report failures to reg. reg may be nil.
func New[T any](reg *faults.Register) Ops[T] {
	return Ops[T]{faults: reg}
}

// Insert appends elem at buf[(head+count) % len(buf)]. On a full buffer it
// leaves everything untouched and returns ErrFull.
func (o Ops[T]) Insert(buf []T, head, count *int, elem T) error {
	if *count >= len(buf) {
		o.faults.Set(faults.BufferFull)
		return ErrFull
	}
	buf[(*head+*count)%len(buf)] = elem
	*count++
	return nil
}

// Delete drops the element at head.
func (o Ops[T]) Delete(buf []T, head, count *int) error {
	if *count == 0 {
		o.faults.Set(faults.BufferEmpty)
		return ErrEmpty
	}
	*head = (*head + 1) % len(buf)
	*count--
	return nil
}
