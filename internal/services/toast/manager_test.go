package toast

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	m := NewManager(zap.NewNop(), opts...)
	t.Cleanup(m.Close)
	return m
}

// eventLog collects emitted events for assertions.
type eventLog struct {
	mu     sync.Mutex
	events map[EventName][]View
}

func newEventLog(m *Manager, names ...EventName) *eventLog {
	l := &eventLog{events: make(map[EventName][]View)}
	for _, name := range names {
		name := name
		m.On(name, func(v View) {
			l.mu.Lock()
			l.events[name] = append(l.events[name], v)
			l.mu.Unlock()
		})
	}
	return l
}

func (l *eventLog) count(name EventName) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events[name])
}

func (l *eventLog) last(name EventName) (View, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	vs := l.events[name]
	if len(vs) == 0 {
		return View{}, false
	}
	return vs[len(vs)-1], true
}

func TestShow_NormalizesDefaults(t *testing.T) {
	m := newTestManager(t)

	h := m.ShowMessage("saved")
	require.NotNil(t, h)
	v := h.View()
	assert.Equal(t, TypeInfo, v.Type)
	assert.Equal(t, "saved", v.Title)
	assert.Equal(t, PriorityNormal, v.Priority)
	assert.Equal(t, "info", v.Icon)
	assert.Equal(t, 4*time.Second, v.Duration)
	assert.True(t, v.Visible)
}

func TestShow_SequentialIDs(t *testing.T) {
	m := newTestManager(t)
	first := m.ShowMessage("one")
	second := m.ShowMessage("two")
	assert.Equal(t, "toast-1", first.ID())
	assert.Equal(t, "toast-2", second.ID())
}

func TestShow_DropsMalformedActions(t *testing.T) {
	m := newTestManager(t)
	h := m.Show(Config{
		Title: "order filled",
		Actions: []Action{
			{Label: "View", Callback: func() {}},
			{Label: "", Callback: func() {}},
			{Label: "Retry"},
		},
	})
	require.NotNil(t, h)

	m.mu.Lock()
	rec := m.toasts[h.ID()]
	m.mu.Unlock()
	require.Len(t, rec.cfg.Actions, 1)
	assert.Equal(t, "View", rec.cfg.Actions[0].Label)
}

func TestCapacity_NeverMoreThanMaxVisible(t *testing.T) {
	m := newTestManager(t)

	for i := 0; i < 8; i++ {
		require.NotNil(t, m.ShowMessage("msg"))
	}
	assert.Len(t, m.Visible(), 5)
	assert.Equal(t, 3, m.QueueLen())
}

func TestCapacity_QueueSortedByPriority(t *testing.T) {
	m := newTestManager(t, WithMaxVisible(1))

	m.ShowMessage("visible")
	low := m.Show(Config{Title: "low", Priority: PriorityLow})
	normal := m.Show(Config{Title: "normal"})
	crit := m.Show(Config{Title: "crit", Priority: PriorityCritical})
	normal2 := m.Show(Config{Title: "normal2"})

	m.mu.Lock()
	queue := append([]string{}, m.queue...)
	m.mu.Unlock()

	assert.Equal(t, []string{crit.ID(), normal.ID(), normal2.ID(), low.ID()}, queue)
}

func TestCapacity_OverflowEvictsLowestPriority(t *testing.T) {
	m := newTestManager(t, WithMaxVisible(1), WithMaxQueued(3))
	log := newEventLog(m, EventQueueOverflow, EventQueueFull)

	m.ShowMessage("visible")
	m.Show(Config{Title: "high", Priority: PriorityHigh})
	m.Show(Config{Title: "normal"})
	low := m.Show(Config{Title: "low", Priority: PriorityLow})
	require.Equal(t, 3, m.QueueLen())

	// 4th queued toast evicts the low-priority tail instead of growing the queue.
	next := m.Show(Config{Title: "next"})
	require.NotNil(t, next)
	assert.Equal(t, 3, m.QueueLen())
	assert.Equal(t, 1, log.count(EventQueueOverflow))
	evicted, ok := log.last(EventQueueOverflow)
	require.True(t, ok)
	assert.Equal(t, low.ID(), evicted.ID)
}

func TestCapacity_RejectsWhenQueueAllHighPriority(t *testing.T) {
	m := newTestManager(t, WithMaxVisible(1), WithMaxQueued(2))
	log := newEventLog(m, EventQueueFull)

	m.ShowMessage("visible")
	m.Show(Config{Title: "c1", Priority: PriorityCritical})
	m.Show(Config{Title: "h1", Priority: PriorityHigh})

	rejected := m.Show(Config{Title: "late", Priority: PriorityLow})
	require.NotNil(t, rejected)
	assert.Empty(t, rejected.ID())
	assert.Equal(t, 2, m.QueueLen())
	assert.Equal(t, 1, log.count(EventQueueFull))

	// The detached handle must be safe to chain into.
	rejected.Dismiss()
	rejected.UpdateProgress(50)
	assert.True(t, rejected.View().Dismissed)
	assert.Equal(t, 2, m.QueueLen())
}

func TestGrouping_CollapsesIntoParent(t *testing.T) {
	m := newTestManager(t)
	log := newEventLog(m, EventShown, EventUpdated)

	first := m.Show(Config{Title: "Fill", Message: "order filled", GroupKey: "fills"})
	second := m.Show(Config{Title: "Fill", Message: "order filled", GroupKey: "fills"})

	require.Equal(t, first.ID(), second.ID(), "second member must not create a new toast")
	assert.Len(t, m.Visible(), 1)
	assert.Equal(t, 1, log.count(EventShown))

	v := first.View()
	assert.Equal(t, 2, v.GroupSize)
	assert.Equal(t, "order filled (2 items)", v.Message)
}

func TestGrouping_LastMemberClearsMapping(t *testing.T) {
	m := newTestManager(t, WithExitWindow(5*time.Millisecond))

	first := m.Show(Config{Title: "Fill", GroupKey: "fills"})
	first.Dismiss()

	assert.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		_, mapped := m.groups["fills"]
		return !mapped
	}, time.Second, time.Millisecond)

	// A fresh toast under the same key starts a new group.
	again := m.Show(Config{Title: "Fill", GroupKey: "fills"})
	require.NotNil(t, again)
	assert.NotEqual(t, first.ID(), again.ID())
	assert.Equal(t, 1, again.View().GroupSize)
}

func TestTimers_AutoDismissAfterDuration(t *testing.T) {
	m := newTestManager(t, WithExitWindow(time.Millisecond))
	log := newEventLog(m, EventDismissed)

	dismissed := make(chan struct{})
	m.Show(Config{Title: "quick", Duration: 20 * time.Millisecond, OnDismiss: func() { close(dismissed) }})

	select {
	case <-dismissed:
	case <-time.After(time.Second):
		t.Fatal("toast did not auto-dismiss")
	}
	assert.Equal(t, 1, log.count(EventDismissed))
}

func TestTimers_PauseKeepsRemainingTime(t *testing.T) {
	m := newTestManager(t, WithExitWindow(time.Millisecond))

	start := time.Now()
	dismissed := make(chan struct{})
	h := m.Show(Config{Title: "hover", Duration: 200 * time.Millisecond, OnDismiss: func() { close(dismissed) }})

	time.Sleep(50 * time.Millisecond)
	m.Pause(h.ID())
	time.Sleep(100 * time.Millisecond)
	m.Resume(h.ID())

	select {
	case <-dismissed:
	case <-time.After(2 * time.Second):
		t.Fatal("paused toast never dismissed")
	}

	// Visible lifetime excluding the pause should be close to the nominal
	// duration, well under duration+pause.
	active := time.Since(start) - 100*time.Millisecond
	assert.InDelta(t, float64(200*time.Millisecond), float64(active), float64(60*time.Millisecond))
}

func TestTimers_QueuedTimeDoesNotCountDown(t *testing.T) {
	m := newTestManager(t, WithMaxVisible(1), WithExitWindow(time.Millisecond))

	blocker := m.Show(Config{Title: "blocker", Duration: 0})
	queuedDismissed := make(chan struct{})
	m.Show(Config{Title: "queued", Duration: 50 * time.Millisecond, OnDismiss: func() { close(queuedDismissed) }})

	// Longer than the queued toast's duration: its countdown must not start yet.
	time.Sleep(80 * time.Millisecond)
	select {
	case <-queuedDismissed:
		t.Fatal("queued toast counted down before becoming visible")
	default:
	}

	blocker.Dismiss()
	select {
	case <-queuedDismissed:
	case <-time.After(time.Second):
		t.Fatal("promoted toast never auto-dismissed")
	}
}

func TestTimers_LoadingFallbackConvertsToError(t *testing.T) {
	m := newTestManager(t, WithLoadingTimeout(20*time.Millisecond))
	log := newEventLog(m, EventUpdated)

	timedOut := make(chan struct{})
	h := m.Show(Config{Type: TypeLoading, Title: "swapping", OnTimeout: func() { close(timedOut) }})

	select {
	case <-timedOut:
	case <-time.After(time.Second):
		t.Fatal("loading fallback never fired")
	}

	assert.Eventually(t, func() bool {
		return h.View().Type == TypeError
	}, time.Second, time.Millisecond)
	assert.GreaterOrEqual(t, log.count(EventUpdated), 1)
}

func TestTimers_ResolvedLoadingSkipsFallback(t *testing.T) {
	m := newTestManager(t, WithLoadingTimeout(20*time.Millisecond))

	timedOut := make(chan struct{})
	h := m.Show(Config{Type: TypeLoading, Title: "swapping", OnTimeout: func() { close(timedOut) }})
	h.Complete("swapped")

	select {
	case <-timedOut:
		t.Fatal("fallback fired after the loading toast resolved")
	case <-time.After(60 * time.Millisecond):
	}
	assert.Equal(t, TypeSuccess, h.View().Type)
}

func TestDismiss_IdempotentAndPromotesQueue(t *testing.T) {
	m := newTestManager(t, WithMaxVisible(1), WithExitWindow(5*time.Millisecond))
	log := newEventLog(m, EventDismissed, EventShown)

	first := m.Show(Config{Title: "first", Duration: 0})
	m.Show(Config{Title: "second", Duration: 0})
	require.Equal(t, 1, m.QueueLen())

	first.Dismiss()
	first.Dismiss() // no-op

	assert.Equal(t, 1, log.count(EventDismissed))
	assert.Eventually(t, func() bool {
		vs := m.Visible()
		return len(vs) == 1 && vs[0].Title == "second"
	}, time.Second, time.Millisecond)
	assert.Equal(t, 0, m.QueueLen())
}

func TestDismissAll(t *testing.T) {
	m := newTestManager(t, WithExitWindow(time.Millisecond))
	for i := 0; i < 7; i++ {
		m.Show(Config{Title: "t", Duration: 0})
	}
	m.DismissAll()
	assert.Empty(t, m.Visible())
	assert.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return len(m.toasts) == 0
	}, time.Second, time.Millisecond)
}

func TestHandle_ProgressClampAndComplete(t *testing.T) {
	m := newTestManager(t)

	h := m.Show(Config{Type: TypeLoading, Title: "uploading"})
	h.UpdateProgress(150)
	assert.Equal(t, 100, h.View().Progress)
	h.UpdateProgress(-10)
	assert.Equal(t, 0, h.View().Progress)

	h.Complete("done")
	v := h.View()
	assert.Equal(t, TypeSuccess, v.Type)
	assert.Equal(t, "done", v.Message)
	assert.Equal(t, 2*time.Second, v.Duration)
}

func TestGetPersistentToasts(t *testing.T) {
	m := newTestManager(t)

	m.Show(Config{Title: "ephemeral"})
	m.Show(Config{Title: "keep-me", Persistent: true, Duration: 0})

	persistent := m.GetPersistentToasts()
	require.Len(t, persistent, 1)
	assert.Equal(t, "keep-me", persistent[0].Title)
}

func TestHandlerPanicDoesNotBreakManager(t *testing.T) {
	m := newTestManager(t)
	m.On(EventCreated, func(View) { panic("bad handler") })

	called := false
	m.On(EventCreated, func(View) { called = true })

	require.NotNil(t, m.ShowMessage("still works"))
	assert.True(t, called)
}

func TestClose_CancelsEverything(t *testing.T) {
	m := NewManager(zap.NewNop())
	fired := make(chan struct{}, 1)
	m.Show(Config{Title: "t", Duration: 10 * time.Millisecond, OnDismiss: func() { fired <- struct{}{} }})
	m.Close()

	select {
	case <-fired:
		t.Fatal("timer fired after Close")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Empty(t, m.ShowMessage("after close").ID())
}
