//go:build property
// +build property

package pqueue

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"tickflow/internal/faults"
)

// TestHeapInvariantUnderOperations applies a random script of operations.
// Property: after every step no parent ranks below its child.
func TestHeapInvariantUnderOperations(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("heap invariant holds after any operation sequence", prop.ForAll(
		func(initial []int, script []int) bool {
			ops := New(func(a, b int) bool { return a < b }, faults.New())
			arr := make([]int, 15)
			count := copy(arr, initial)
			if ops.Create(arr, count) != nil || !ops.Valid(arr, count) {
				return false
			}
			for i, step := range script {
				switch step % 4 {
				case 0:
					if ops.Insert(arr, count, step) == nil {
						count++
					} else if count != len(arr) {
						return false
					}
				case 1:
					if ops.Pop(arr, count) == nil {
						count--
					}
				case 2:
					if count > 0 && ops.Delete(arr, count, i%count) == nil {
						count--
					}
				case 3:
					if count > 0 {
						arr[0] = step
						ops.PushDown(arr, count)
					}
				}
				if !ops.Valid(arr, count) {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(10, gen.IntRange(-50, 50)),
		gen.SliceOf(gen.IntRange(0, 400)),
	))

	properties.Property("capacity rejection leaves the heap unchanged", prop.ForAll(
		func(values []int, extra int) bool {
			reg := faults.New()
			ops := New(func(a, b int) bool { return a < b }, reg)
			arr := make([]int, len(values))
			count := copy(arr, values)
			_ = ops.Create(arr, count)
			before := append([]int(nil), arr...)
			if ops.Insert(arr, count, extra) != ErrFull || !reg.Check(faults.PQueueFull) {
				return false
			}
			for i := range arr {
				if arr[i] != before[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(7, gen.Int()),
		gen.Int(),
	))

	properties.TestingRun(t)
}
