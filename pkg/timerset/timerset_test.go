package timerset

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSet_FiresAndRemoves(t *testing.T) {
	s := New()
	fired := make(chan struct{})

	s.Set("a", 5*time.Millisecond, func() { close(fired) })
	require.True(t, s.Active("a"))

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}

	assert.Eventually(t, func() bool { return !s.Active("a") }, time.Second, time.Millisecond)
}

func TestSet_ReplaceSameKey(t *testing.T) {
	s := New()
	var first, second atomic.Int32

	s.Set("a", 10*time.Millisecond, func() { first.Add(1) })
	s.Set("a", 10*time.Millisecond, func() { second.Add(1) })

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), first.Load(), "replaced timer must not fire")
	assert.Equal(t, int32(1), second.Load())
}

func TestSet_StaleFireCannotUnregisterReplacement(t *testing.T) {
	s := New()
	var stale atomic.Int32

	s.Set("a", time.Millisecond, func() { stale.Add(1) })

	// Hold the lock across the expiry so the fired callback is stuck waiting,
	// then swap in a replacement before releasing it.
	s.mu.Lock()
	time.Sleep(10 * time.Millisecond)
	s.timers["a"].Stop()
	s.timers["a"] = time.AfterFunc(time.Hour, func() {})
	s.mu.Unlock()

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(0), stale.Load(), "replaced timer must not run its callback")
	assert.True(t, s.Active("a"), "replacement must stay registered")
	assert.True(t, s.Cancel("a"), "replacement must stay cancellable")
}

func TestSet_Cancel(t *testing.T) {
	s := New()
	var fired atomic.Int32

	s.Set("a", 10*time.Millisecond, func() { fired.Add(1) })
	assert.True(t, s.Cancel("a"))
	assert.False(t, s.Cancel("a"), "second cancel is a no-op")

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}

func TestSet_CancelAllKeepsSetUsable(t *testing.T) {
	s := New()
	var fired atomic.Int32

	s.Set("a", 10*time.Millisecond, func() { fired.Add(1) })
	s.Set("b", 10*time.Millisecond, func() { fired.Add(1) })
	require.Equal(t, 2, s.Len())

	s.CancelAll()
	assert.Equal(t, 0, s.Len())

	s.Set("c", 5*time.Millisecond, func() { fired.Add(1) })
	assert.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, time.Millisecond)
}

func TestSet_StopSuppressesEverything(t *testing.T) {
	s := New()
	var fired atomic.Int32

	s.Set("a", 10*time.Millisecond, func() { fired.Add(1) })
	s.Stop()
	s.Set("b", time.Millisecond, func() { fired.Add(1) })

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
	assert.Equal(t, 0, s.Len())
}
