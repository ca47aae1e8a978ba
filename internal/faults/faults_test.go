package faults

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetIsSticky(t *testing.T) {
	r := New()
	r.Set(BufferFull)
	r.Set(BufferFull)
	assert.True(t, r.Check(BufferFull))
	assert.False(t, r.Check(BufferEmpty))
	assert.Equal(t, uint32(1)<<BufferFull, r.Bits())

	r.Clear(BufferFull)
	assert.False(t, r.Check(BufferFull))
	assert.Zero(t, r.Bits())
}

func TestAllAddressesWholeRegister(t *testing.T) {
	r := New()
	assert.False(t, r.Check(All))

	r.Set(SchedEmpty)
	assert.True(t, r.Check(All))

	r.Set(All)
	for _, c := range Defined() {
		assert.True(t, r.Check(c), c.String())
	}
	assert.Equal(t, ^uint32(0), r.Bits())

	r.Clear(All)
	assert.Zero(t, r.Bits())
}

func TestActiveInBitOrder(t *testing.T) {
	r := New()
	r.Set(SchedFull)
	r.Set(BufferEmpty)
	r.Set(PQueueFull)
	assert.Equal(t, []Code{BufferEmpty, PQueueFull, SchedFull}, r.Active())
}

func TestNilRegisterIsInert(t *testing.T) {
	var r *Register
	r.Set(BufferFull)
	r.Clear(BufferFull)
	r.Notify()
	assert.False(t, r.Check(All))
	assert.Empty(t, r.Active())
}

func TestConcurrentSet(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for _, c := range Defined() {
		wg.Add(1)
		go func(c Code) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				r.Set(c)
			}
		}(c)
	}
	wg.Wait()
	assert.Equal(t, Defined(), r.Active())
}

func TestNotifyDefaultNoop(t *testing.T) {
	r := New()
	r.Set(BufferFull)
	r.Notify()

	var got uint32
	r.Notifier = NotifierFunc(func(bits uint32) { got = bits })
	r.Notify()
	assert.Equal(t, r.Bits(), got)
}

func TestLogNotifierLogsChanges(t *testing.T) {
	var buf bytes.Buffer
	l := zerolog.New(&buf).Level(zerolog.WarnLevel)
	n := NewLogNotifier(&l, 1)

	n.Notify(0)
	assert.Zero(t, buf.Len())

	n.Notify(1 << SchedFull)
	require.Contains(t, buf.String(), "add task when the task table is full")
	buf.Reset()

	// same value again is debug only, filtered by the writer level
	n.Notify(1 << SchedFull)
	assert.Zero(t, buf.Len())

	n.Notify(1<<SchedFull | 1<<BufferFull)
	assert.Contains(t, buf.String(), "insert into a full buffer")
}

func TestLogNotifierThrottlesRepeats(t *testing.T) {
	var buf bytes.Buffer
	l := zerolog.New(&buf).Level(zerolog.DebugLevel)
	n := NewLogNotifier(&l, 1)

	for i := 0; i < 5; i++ {
		n.Notify(1 << TaskPanic)
	}
	// the change plus one repeat within the burst
	assert.Equal(t, 2, strings.Count(buf.String(), "fault register"))

	buf.Reset()
	n.SetRate(100)
	time.Sleep(30 * time.Millisecond)
	n.Notify(1 << TaskPanic)
	assert.Equal(t, 1, strings.Count(buf.String(), "fault register"))
}

func TestCodeString(t *testing.T) {
	assert.Equal(t, "task callback panicked", TaskPanic.String())
	assert.Equal(t, "undefined fault", Code(20).String())
	assert.Equal(t, "all faults", All.String())
}
