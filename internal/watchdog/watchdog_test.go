package watchdog

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpiresWithoutRefresh(t *testing.T) {
	var fired atomic.Int32
	w := New(20*time.Millisecond, func() { fired.Add(1) })
	w.Start()
	defer w.Stop()

	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, w.Expired())

	// one expiry per arming
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

func TestRefreshKeepsItAlive(t *testing.T) {
	var fired atomic.Int32
	w := New(50*time.Millisecond, func() { fired.Add(1) })
	w.Start()
	defer w.Stop()

	for i := 0; i < 10; i++ {
		time.Sleep(10 * time.Millisecond)
		w.Refresh()
	}
	assert.Zero(t, fired.Load())
	assert.False(t, w.Expired())
}

func TestStopDisarms(t *testing.T) {
	var fired atomic.Int32
	w := New(10*time.Millisecond, func() { fired.Add(1) })
	w.Start()
	w.Stop()
	time.Sleep(40 * time.Millisecond)
	assert.Zero(t, fired.Load())

	// refresh on a stopped watchdog does not re-arm it
	w.Refresh()
	time.Sleep(40 * time.Millisecond)
	assert.Zero(t, fired.Load())
}

func TestRestartAfterExpiry(t *testing.T) {
	var fired atomic.Int32
	w := New(10*time.Millisecond, func() { fired.Add(1) })
	w.Start()
	require.Eventually(t, w.Expired, time.Second, 5*time.Millisecond)

	w.Start()
	assert.False(t, w.Expired())
	require.Eventually(t, func() bool { return fired.Load() == 2 }, time.Second, 5*time.Millisecond)
	w.Stop()
}
