package ringbuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tickflow/internal/faults"
)

func TestFIFOAcrossWrap(t *testing.T) {
	reg := faults.New()
	ops := New[int](reg)
	buf := make([]int, 4)
	head, count := 0, 0

	var got []int
	next := 0
	// interleave so head walks around the array several times
	for round := 0; round < 5; round++ {
		for i := 0; i < 3; i++ {
			require.NoError(t, ops.Insert(buf, &head, &count, next))
			next++
		}
		for i := 0; i < 3; i++ {
			got = append(got, buf[head])
			require.NoError(t, ops.Delete(buf, &head, &count))
		}
	}

	want := make([]int, next)
	for i := range want {
		want[i] = i
	}
	assert.Equal(t, want, got)
	assert.Zero(t, count)
	assert.False(t, reg.Check(faults.All))
}

func TestInsertFullLeavesStateUnchanged(t *testing.T) {
	reg := faults.New()
	ops := New[byte](reg)
	buf := make([]byte, 3)
	head, count := 2, 0
	for _, b := range []byte("abc") {
		require.NoError(t, ops.Insert(buf, &head, &count, b))
	}
	before := append([]byte(nil), buf...)

	err := ops.Insert(buf, &head, &count, 'z')
	assert.ErrorIs(t, err, ErrFull)
	assert.Equal(t, before, buf)
	assert.Equal(t, 2, head)
	assert.Equal(t, 3, count)
	assert.True(t, reg.Check(faults.BufferFull))
	assert.False(t, reg.Check(faults.BufferEmpty))
}

func TestDeleteEmptyLeavesStateUnchanged(t *testing.T) {
	reg := faults.New()
	ops := New[string](reg)
	buf := []string{"x", "y"}
	head, count := 1, 0

	err := ops.Delete(buf, &head, &count)
	assert.ErrorIs(t, err, ErrEmpty)
	assert.Equal(t, 1, head)
	assert.Zero(t, count)
	assert.Equal(t, []string{"x", "y"}, buf)
	assert.True(t, reg.Check(faults.BufferEmpty))
}

func TestIndependentBuffersShareOps(t *testing.T) {
	ops := New[int](nil)
	a, b := make([]int, 2), make([]int, 2)
	ah, ac, bh, bc := 0, 0, 0, 0

	require.NoError(t, ops.Insert(a, &ah, &ac, 1))
	require.NoError(t, ops.Insert(b, &bh, &bc, 2))
	require.NoError(t, ops.Insert(b, &bh, &bc, 3))
	assert.ErrorIs(t, ops.Insert(b, &bh, &bc, 4), ErrFull)

	assert.Equal(t, 1, ac)
	assert.Equal(t, 2, bc)
	assert.Equal(t, 1, a[ah])
	assert.Equal(t, 2, b[bh])
}
