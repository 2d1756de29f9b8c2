package toast

import (
	"fmt"
	"sync"
	"time"

	"github.com/vadiminshakov/pulse/pkg/timerset"
	"go.uber.org/zap"
)

const (
	defaultMaxVisible     = 5
	defaultMaxQueued      = 20
	defaultExitWindow     = 300 * time.Millisecond
	defaultLoadingTimeout = 60 * time.Second
	completeDismissAfter  = 2 * time.Second
)

// record is the manager-owned state of one toast. All access goes through the
// manager's mutex.
type record struct {
	id        string
	cfg       Config
	groupSize int
	visible   bool
	queued    bool
	dismissed bool
	shownAt   time.Time
	remaining time.Duration
	paused    bool
}

// Manager owns the toast table and enforces the capacity, priority, grouping
// and countdown rules. Safe for concurrent use.
type Manager struct {
	logger         *zap.Logger
	maxVisible     int
	maxQueued      int
	exitWindow     time.Duration
	loadingTimeout time.Duration

	mu         sync.Mutex
	seq        int64
	toasts     map[string]*record
	visible    []string
	queue      []string
	groups     map[string]string
	handlers   map[EventName][]func(View)
	drawerOpen bool
	closed     bool

	timers *timerset.Set
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxVisible overrides the visible toast cap.
func WithMaxVisible(n int) Option {
	return func(m *Manager) { m.maxVisible = n }
}

// WithMaxQueued overrides the queued toast cap.
func WithMaxQueued(n int) Option {
	return func(m *Manager) { m.maxQueued = n }
}

// WithExitWindow overrides the exit-animation window before a dismissed toast
// is finally removed.
func WithExitWindow(d time.Duration) Option {
	return func(m *Manager) { m.exitWindow = d }
}

// WithLoadingTimeout overrides the hard fallback timeout applied to loading
// toasts.
func WithLoadingTimeout(d time.Duration) Option {
	return func(m *Manager) { m.loadingTimeout = d }
}

// NewManager creates a toast manager with the documented defaults: at most
// 5 visible, 20 queued, a 300 ms exit window and a 60 s loading fallback.
func NewManager(logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		logger:         logger,
		maxVisible:     defaultMaxVisible,
		maxQueued:      defaultMaxQueued,
		exitWindow:     defaultExitWindow,
		loadingTimeout: defaultLoadingTimeout,
		toasts:         make(map[string]*record),
		groups:         make(map[string]string),
		handlers:       make(map[EventName][]func(View)),
		timers:         timerset.New(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// On registers a handler for a lifecycle event. Handlers run synchronously
// after the triggering mutation; a panicking handler is recovered and logged.
func (m *Manager) On(event EventName, fn func(View)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = append(m.handlers[event], fn)
}

// Show admits a toast. It returns a handle for the displayed or queued toast,
// or the group parent when cfg carries an already-active group key. When the
// queue is saturated with high-priority entries the toast is rejected and the
// returned handle is detached: its methods are no-ops and its ID is empty.
func (m *Manager) Show(cfg Config) *Toast {
	var fx []func()
	m.mu.Lock()
	id := m.lockedShow(normalize(cfg, m.logger), &fx)
	m.mu.Unlock()
	m.run(fx)

	return &Toast{id: id, m: m}
}

// ShowMessage is string sugar: an info toast titled msg.
func (m *Manager) ShowMessage(msg string) *Toast {
	return m.Show(Config{Type: TypeInfo, Title: msg})
}

// Dismiss dismisses a toast by id. Idempotent.
func (m *Manager) Dismiss(id string) {
	var fx []func()
	m.mu.Lock()
	m.lockedDismiss(id, false, &fx)
	m.mu.Unlock()
	m.run(fx)
}

// DismissAll dismisses every live toast.
func (m *Manager) DismissAll() {
	var fx []func()
	m.mu.Lock()
	for id := range m.toasts {
		m.lockedDismiss(id, false, &fx)
	}
	m.mu.Unlock()
	m.run(fx)
}

// Update applies a partial update to a toast.
func (m *Manager) Update(id string, patch Patch) {
	var fx []func()
	m.mu.Lock()
	m.lockedUpdate(id, patch, &fx)
	m.mu.Unlock()
	m.run(fx)
}

// Pause freezes a visible toast's countdown, recording the remaining time.
// Rendering calls this on hover-enter.
func (m *Manager) Pause(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.toasts[id]
	if !ok || !rec.visible || rec.dismissed || rec.paused || rec.remaining <= 0 {
		return
	}
	m.timers.Cancel(durationKey(id))
	elapsed := time.Since(rec.shownAt)
	rec.remaining -= elapsed
	if rec.remaining < 0 {
		rec.remaining = 0
	}
	rec.paused = true
}

// Resume restarts a paused toast's countdown with exactly the remaining time.
// Rendering calls this on hover-leave.
func (m *Manager) Resume(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.toasts[id]
	if !ok || !rec.visible || rec.dismissed || !rec.paused {
		return
	}
	rec.paused = false
	rec.shownAt = time.Now()
	if rec.remaining > 0 {
		m.startCountdown(id, rec.remaining)
	}
}

// OnDrawerStateChange records whether the notification drawer is open. It only
// affects where rendering positions the container; queueing is untouched.
func (m *Manager) OnDrawerStateChange(open bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drawerOpen = open
}

// DrawerOpen reports the last drawer state pushed by presentation code.
func (m *Manager) DrawerOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drawerOpen
}

// Visible returns snapshots of the currently visible toasts, in display order.
func (m *Manager) Visible() []View {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]View, 0, len(m.visible))
	for _, id := range m.visible {
		out = append(out, m.view(m.toasts[id]))
	}
	return out
}

// QueueLen returns the number of queued (not yet visible) toasts.
func (m *Manager) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// GetPersistentToasts returns every non-dismissed toast flagged persistent,
// for historical display alongside tracked actions.
func (m *Manager) GetPersistentToasts() []View {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []View
	for _, id := range append(append([]string{}, m.visible...), m.queue...) {
		rec := m.toasts[id]
		if rec.cfg.Persistent && !rec.dismissed {
			out = append(out, m.view(rec))
		}
	}
	return out
}

// Close cancels every timer and stops the manager. Pending exit windows are
// abandoned; the table is dropped wholesale.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.timers.Stop()
	m.toasts = make(map[string]*record)
	m.visible = nil
	m.queue = nil
	m.groups = make(map[string]string)
}

// normalize fills per-type defaults and strips malformed actions.
func normalize(cfg Config, logger *zap.Logger) Config {
	if cfg.Type == "" {
		cfg.Type = TypeInfo
	}
	if cfg.Priority == "" {
		cfg.Priority = PriorityNormal
	}
	if cfg.Icon == "" {
		cfg.Icon = defaultIcon(cfg.Type)
	}
	if cfg.Duration == 0 {
		cfg.Duration = defaultDuration(cfg.Type)
	}
	if cfg.Duration < 0 {
		cfg.Duration = 0
	}

	if len(cfg.Actions) > 0 {
		valid := cfg.Actions[:0:0]
		for _, a := range cfg.Actions {
			if a.Label == "" || a.Callback == nil {
				logger.Warn("dropping malformed toast action", zap.String("label", a.Label))
				continue
			}
			valid = append(valid, a)
		}
		cfg.Actions = valid
	}
	return cfg
}

// lockedShow admits a normalized config and returns the id callers should hold,
// or "" on rejection.
func (m *Manager) lockedShow(cfg Config, fx *[]func()) string {
	if m.closed {
		return ""
	}

	// A live group absorbs the newcomer: the parent is updated in place.
	if cfg.GroupKey != "" {
		if parentID, ok := m.groups[cfg.GroupKey]; ok {
			parent := m.toasts[parentID]
			if parent == nil || parent.dismissed {
				delete(m.groups, cfg.GroupKey)
			} else {
				return m.absorbIntoGroup(parent, cfg, fx)
			}
		}
	}

	m.seq++
	rec := &record{
		id:        fmt.Sprintf("toast-%d", m.seq),
		cfg:       cfg,
		groupSize: 1,
	}
	m.toasts[rec.id] = rec
	if cfg.GroupKey != "" {
		m.groups[cfg.GroupKey] = rec.id
	}
	m.emit(EventCreated, m.view(rec), fx)

	if len(m.visible) < m.maxVisible {
		m.lockedMakeVisible(rec.id, fx)
		return rec.id
	}

	if len(m.queue) >= m.maxQueued {
		evicted := m.lockedEvict(fx)
		if !evicted {
			// Everything queued outranks the newcomer's slot: reject outright.
			m.logger.Warn("toast rejected, queue full of high-priority entries",
				zap.String("title", cfg.Title), zap.String("priority", string(cfg.Priority)))
			m.emit(EventQueueFull, m.view(rec), fx)
			m.lockedForget(rec.id)
			return ""
		}
	}

	m.lockedEnqueue(rec.id)
	return rec.id
}

// absorbIntoGroup updates the group parent in place instead of creating a
// second visible entry: title/message/description follow the newest member and
// the message carries the cumulative member count.
func (m *Manager) absorbIntoGroup(parent *record, cfg Config, fx *[]func()) string {
	parent.groupSize++
	parent.cfg.Title = cfg.Title
	parent.cfg.Message = fmt.Sprintf("%s (%d items)", cfg.Message, parent.groupSize)
	parent.cfg.Description = cfg.Description
	m.emit(EventUpdated, m.view(parent), fx)
	return parent.id
}

// lockedEvict removes the lowest-priority evictable queued toast. Returns false
// when every queued toast is critical or high priority.
func (m *Manager) lockedEvict(fx *[]func()) bool {
	// The queue is sorted by ascending priority rank, so scan from the tail.
	for i := len(m.queue) - 1; i >= 0; i-- {
		rec := m.toasts[m.queue[i]]
		if !rec.cfg.Priority.evictable() {
			return false
		}
		m.queue = append(m.queue[:i], m.queue[i+1:]...)
		m.emit(EventQueueOverflow, m.view(rec), fx)
		m.lockedForget(rec.id)
		return true
	}
	return false
}

// lockedEnqueue inserts by ascending priority rank, preserving insertion order
// among equals.
func (m *Manager) lockedEnqueue(id string) {
	rec := m.toasts[id]
	rec.queued = true
	rank := rec.cfg.Priority.rank()

	pos := len(m.queue)
	for i, qid := range m.queue {
		if m.toasts[qid].cfg.Priority.rank() > rank {
			pos = i
			break
		}
	}
	m.queue = append(m.queue, "")
	copy(m.queue[pos+1:], m.queue[pos:])
	m.queue[pos] = id
}

func (m *Manager) lockedMakeVisible(id string, fx *[]func()) {
	rec := m.toasts[id]
	rec.queued = false
	rec.visible = true
	rec.shownAt = time.Now()
	rec.remaining = rec.cfg.Duration
	m.visible = append(m.visible, id)

	if rec.cfg.Duration > 0 {
		m.startCountdown(id, rec.cfg.Duration)
	}
	if rec.cfg.Type == TypeLoading {
		m.timers.Set(loadingKey(id), m.loadingTimeout, func() { m.loadingTimedOut(id) })
	}
	m.emit(EventShown, m.view(rec), fx)
}

func (m *Manager) startCountdown(id string, d time.Duration) {
	m.timers.Set(durationKey(id), d, func() { m.countdownExpired(id) })
}

// countdownExpired is the duration timer callback.
func (m *Manager) countdownExpired(id string) {
	var fx []func()
	m.mu.Lock()
	m.lockedDismiss(id, true, &fx)
	m.mu.Unlock()
	m.run(fx)
}

// loadingTimedOut converts a stuck loading toast into an error in place,
// invoking OnTimeout first.
func (m *Manager) loadingTimedOut(id string) {
	var fx []func()
	m.mu.Lock()
	rec, ok := m.toasts[id]
	if ok && !rec.dismissed && rec.cfg.Type == TypeLoading {
		if cb := rec.cfg.OnTimeout; cb != nil {
			fx = append(fx, cb)
		}
		rec.cfg.Type = TypeError
		rec.cfg.Icon = defaultIcon(TypeError)
		m.emit(EventUpdated, m.view(rec), &fx)
	}
	m.mu.Unlock()
	m.run(fx)
}

// lockedDismiss implements the dismissal protocol: cancel timers, leave the
// visible list and group, then finalize after the exit window. byTimer marks
// auto-dismissal so OnTimeout fires too.
func (m *Manager) lockedDismiss(id string, byTimer bool, fx *[]func()) {
	rec, ok := m.toasts[id]
	if !ok || rec.dismissed {
		return
	}
	rec.dismissed = true
	m.timers.Cancel(durationKey(id))
	m.timers.Cancel(loadingKey(id))

	if byTimer {
		if cb := rec.cfg.OnTimeout; cb != nil {
			*fx = append(*fx, cb)
		}
	}
	if cb := rec.cfg.OnDismiss; cb != nil {
		*fx = append(*fx, cb)
	}

	if rec.queued {
		rec.queued = false
		for i, qid := range m.queue {
			if qid == id {
				m.queue = append(m.queue[:i], m.queue[i+1:]...)
				break
			}
		}
		m.emit(EventDismissed, m.view(rec), fx)
		m.lockedForget(id)
		return
	}

	for i, vid := range m.visible {
		if vid == id {
			m.visible = append(m.visible[:i], m.visible[i+1:]...)
			break
		}
	}
	rec.visible = false
	m.emit(EventDismissed, m.view(rec), fx)

	m.timers.Set(exitKey(id), m.exitWindow, func() { m.exitElapsed(id) })
}

// exitElapsed finalizes removal once the exit animation window passed and pulls
// queued toasts into freed slots.
func (m *Manager) exitElapsed(id string) {
	var fx []func()
	m.mu.Lock()
	m.lockedForget(id)
	for len(m.visible) < m.maxVisible && len(m.queue) > 0 {
		next := m.queue[0]
		m.queue = m.queue[1:]
		m.lockedMakeVisible(next, &fx)
	}
	m.mu.Unlock()
	m.run(fx)
}

// lockedForget drops a toast from the table and clears its group mapping when
// it was the last member.
func (m *Manager) lockedForget(id string) {
	rec, ok := m.toasts[id]
	if !ok {
		return
	}
	if rec.cfg.GroupKey != "" && m.groups[rec.cfg.GroupKey] == id {
		delete(m.groups, rec.cfg.GroupKey)
	}
	delete(m.toasts, id)
}

func (m *Manager) lockedUpdate(id string, patch Patch, fx *[]func()) {
	rec, ok := m.toasts[id]
	if !ok || rec.dismissed {
		return
	}
	if patch.Type != nil {
		if rec.cfg.Type == TypeLoading && *patch.Type != TypeLoading {
			// The toast resolved; the stuck-loading fallback no longer applies.
			m.timers.Cancel(loadingKey(id))
		}
		rec.cfg.Type = *patch.Type
		rec.cfg.Icon = defaultIcon(*patch.Type)
	}
	if patch.Title != nil {
		rec.cfg.Title = *patch.Title
	}
	if patch.Message != nil {
		rec.cfg.Message = *patch.Message
	}
	if patch.Description != nil {
		rec.cfg.Description = *patch.Description
	}
	if patch.Icon != nil {
		rec.cfg.Icon = *patch.Icon
	}
	if patch.Progress != nil {
		p := *patch.Progress
		if p < 0 {
			p = 0
		}
		if p > 100 {
			p = 100
		}
		rec.cfg.Progress = p
	}
	if patch.Duration != nil {
		rec.cfg.Duration = *patch.Duration
		if rec.visible {
			rec.shownAt = time.Now()
			rec.remaining = *patch.Duration
			rec.paused = false
			if *patch.Duration > 0 {
				m.startCountdown(id, *patch.Duration)
			} else {
				m.timers.Cancel(durationKey(id))
			}
		}
	}
	m.emit(EventUpdated, m.view(rec), fx)
}

func (m *Manager) view(rec *record) View {
	return View{
		ID:          rec.id,
		Type:        rec.cfg.Type,
		Title:       rec.cfg.Title,
		Message:     rec.cfg.Message,
		Description: rec.cfg.Description,
		Icon:        rec.cfg.Icon,
		Duration:    rec.cfg.Duration,
		Priority:    rec.cfg.Priority,
		Persistent:  rec.cfg.Persistent,
		Progress:    rec.cfg.Progress,
		GroupKey:    rec.cfg.GroupKey,
		GroupSize:   rec.groupSize,
		Visible:     rec.visible,
		Queued:      rec.queued,
		Dismissed:   rec.dismissed,
	}
}

// emit captures the handlers registered for an event, to be fired after the
// manager's lock is released.
func (m *Manager) emit(event EventName, v View, fx *[]func()) {
	handlers := m.handlers[event]
	if len(handlers) == 0 {
		return
	}
	snapshot := append([]func(View){}, handlers...)
	*fx = append(*fx, func() {
		for _, h := range snapshot {
			m.safeCall(h, v)
		}
	})
}

func (m *Manager) safeCall(h func(View), v View) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("toast event handler panicked", zap.Any("panic", r))
		}
	}()
	h(v)
}

func (m *Manager) run(fx []func()) {
	for _, fn := range fx {
		fn()
	}
}

func durationKey(id string) string { return "duration:" + id }
func loadingKey(id string) string  { return "loading:" + id }
func exitKey(id string) string     { return "exit:" + id }
