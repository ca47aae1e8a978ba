// Package pqueue implements a fixed-capacity binary max-heap over
// caller-owned storage.
//
// Ops holds only the ordering and the fault register. The backing slice
// (its length is the capacity) and the live count belong to the caller.
// Insert, Pop and Delete never change the caller's count: after a successful
// call the caller increments (Insert) or decrements (Pop, Delete) it.
//
// The ordering is an injected relation below(a, b) meaning "a ranks below
// b". The element at index 0 is one that nothing else ranks above. The
// relation must be a strict total order over the live elements; the heap
// adds no stability of its own.
package pqueue

import (
	"errors"

	"tickflow/internal/faults"
)

var (
	ErrInvalidCount = errors.New("pqueue: count exceeds capacity")
	ErrFull         = errors.New("pqueue: queue full")
	ErrEmpty        = errors.New("pqueue: queue empty")
	ErrIndexRange   = errors.New("pqueue: index out of range")
)

type Ops[T any] struct {
	below  func(a, b T) bool
	faults *faults.Register
}

// New returns heap operations ordered by below. reg may be nil.
func New[T any](below func(a, b T) bool, reg *faults.Register) Ops[T] {
	return Ops[T]{below: below, faults: reg}
}

func parent(i int) int { return (i - 1) / 2 }
func left(i int) int   { return 2*i + 1 }

// Create heapifies arr[:count] in place (Floyd's bottom-up method).
func (o Ops[T]) Create(arr []T, count int) error {
	if count > len(arr) || count < 0 {
		o.faults.Set(faults.PQueueInvalidCount)
		return ErrInvalidCount
	}
	if count == 0 {
		return nil
	}
	for i := parent(count - 1); i >= 0; i-- {
		o.siftDown(arr, count, i)
	}
	return nil
}

// Insert writes elem at arr[count] and sifts it up. The caller increments
// its count on success.
func (o Ops[T]) Insert(arr []T, count int, elem T) error {
	if count > len(arr) || count < 0 {
		o.faults.Set(faults.PQueueInvalidCount)
		return ErrInvalidCount
	}
	if count == len(arr) {
		o.faults.Set(faults.PQueueFull)
		return ErrFull
	}
	arr[count] = elem
	o.siftUp(arr, count)
	return nil
}

// Pop moves the root to arr[count-1] and restores the heap over
// arr[:count-1]. The popped value stays readable at arr[count-1] until the
// slot is reused. The caller decrements its count on success.
func (o Ops[T]) Pop(arr []T, count int) error {
	if count == 0 {
		o.faults.Set(faults.PQueueEmpty)
		return ErrEmpty
	}
	if count > len(arr) || count < 0 {
		o.faults.Set(faults.PQueueInvalidCount)
		return ErrInvalidCount
	}
	arr[0], arr[count-1] = arr[count-1], arr[0]
	o.siftDown(arr, count-1, 0)
	return nil
}

// Delete removes arr[index] by swapping it with the last live element and
// repairing the heap at index. Only one of the two sifts can move the
// replacement. The caller decrements its count on success.
func (o Ops[T]) Delete(arr []T, count, index int) error {
	if count == 0 {
		o.faults.Set(faults.PQueueEmpty)
		return ErrEmpty
	}
	if count > len(arr) || count < 0 {
		o.faults.Set(faults.PQueueInvalidCount)
		return ErrInvalidCount
	}
	if index < 0 || index >= count {
		return ErrIndexRange
	}
	last := count - 1
	arr[index], arr[last] = arr[last], arr[index]
	if index < last {
		o.siftUp(arr, index)
		o.siftDown(arr, last, index)
	}
	return nil
}

// PushDown restores the heap after the root's key was changed in place.
func (o Ops[T]) PushDown(arr []T, count int) {
	if count > len(arr) {
		count = len(arr)
	}
	o.siftDown(arr, count, 0)
}

// Fix restores the heap after the key at index was changed in place.
func (o Ops[T]) Fix(arr []T, count, index int) {
	if count > len(arr) {
		count = len(arr)
	}
	if index < 0 || index >= count {
		return
	}
	o.siftUp(arr, index)
	o.siftDown(arr, count, index)
}

// Valid reports whether arr[:count] satisfies the heap invariant.
func (o Ops[T]) Valid(arr []T, count int) bool {
	if count > len(arr) {
		return false
	}
	for i := 1; i < count; i++ {
		if o.below(arr[parent(i)], arr[i]) {
			return false
		}
	}
	return true
}

func (o Ops[T]) siftUp(arr []T, i int) {
	for i > 0 {
		p := parent(i)
		if !o.below(arr[p], arr[i]) {
			return
		}
		arr[p], arr[i] = arr[i], arr[p]
		i = p
	}
}

// siftDown works on arr[:n].
func (o Ops[T]) siftDown(arr []T, n, i int) {
	for {
		c := left(i)
		if c >= n {
			return
		}
		// promote the child that does not rank below its sibling
		if r := c + 1; r < n && o.below(arr[c], arr[r]) {
			c = r
		}
		if !o.below(arr[i], arr[c]) {
			return
		}
		arr[i], arr[c] = arr[c], arr[i]
		i = c
	}
}
