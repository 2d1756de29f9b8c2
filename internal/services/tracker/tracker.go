// Package tracker maintains the dashboard's canonical table of backend action
// records. It bridges a lossy push stream with request/response reconciliation:
// events are applied in arrival order, and snapshot merges are idempotent, so
// the table converges on server truth without losing local UI flags.
package tracker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/pulse/internal/clients"
	"github.com/vadiminshakov/pulse/internal/domain"
	"github.com/vadiminshakov/pulse/internal/services/toast"
	"github.com/vadiminshakov/pulse/pkg/timerset"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	defaultReconnectDelay        = 3 * time.Second
	defaultDismissCompletedAfter = 10 * time.Second
	defaultDismissFailedAfter    = 30 * time.Second

	reconnectKey    = "reconnect"
	activeActionsSF = "active_actions"
)

// API is the slice of the backend REST surface the tracker needs.
type API interface {
	ActiveActions(ctx context.Context) ([]*domain.Action, error)
	History(ctx context.Context, filter clients.HistoryFilter) (*domain.HistoryPage, error)
	ActionByID(ctx context.Context, id string) (*domain.Action, error)
}

// Stream is the push transport the tracker drives. The tracker owns the
// reconnect policy; the stream only dials and reads.
type Stream interface {
	Dial(ctx context.Context) error
	Close() error
}

// Toaster is the slice of the toast manager the tracker uses to surface
// notable lifecycle transitions.
type Toaster interface {
	Show(cfg toast.Config) *toast.Toast
}

// UpdateKind discriminates tracker notifications.
type UpdateKind string

const (
	KindSummary    UpdateKind = "summary"
	KindEvent      UpdateKind = "action_event"
	KindConnection UpdateKind = "connection"
	KindLag        UpdateKind = "lag"
	KindSyncError  UpdateKind = "sync_error"
)

// Update is what subscribers receive. Summary is always populated; the other
// fields depend on Kind.
type Update struct {
	Kind    UpdateKind        `json:"kind"`
	Event   *domain.Event     `json:"event,omitempty"`
	Action  *domain.Action    `json:"action,omitempty"`
	Reason  domain.SyncReason `json:"reason,omitempty"`
	Dropped int               `json:"dropped,omitempty"`
	Err     string            `json:"error,omitempty"`
	Summary domain.Summary    `json:"summary"`
}

// Tracker is the single source of truth for action records visible to the
// dashboard. All public methods are safe for concurrent use.
type Tracker struct {
	logger                *zap.Logger
	api                   API
	reconnectDelay        time.Duration
	dismissCompletedAfter time.Duration
	dismissFailedAfter    time.Duration

	mu            sync.Mutex
	actions       map[string]*domain.Action
	conn          domain.ConnectionState
	everConnected bool
	subscribers   map[string]func(Update)
	stream        Stream
	toasts        Toaster
	loading       map[string]*toast.Toast
	baseCtx       context.Context
	closed        bool

	timers *timerset.Set
	sf     singleflight.Group
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithReconnectDelay overrides the fixed delay before a reconnect attempt.
func WithReconnectDelay(d time.Duration) Option {
	return func(t *Tracker) { t.reconnectDelay = d }
}

// WithDismissWindows overrides the auto-dismiss delays applied to terminal
// actions (completed/cancelled, failed).
func WithDismissWindows(completed, failed time.Duration) Option {
	return func(t *Tracker) {
		t.dismissCompletedAfter = completed
		t.dismissFailedAfter = failed
	}
}

// WithToaster wires a toast manager for lifecycle notifications.
func WithToaster(ts Toaster) Option {
	return func(t *Tracker) { t.toasts = ts }
}

// New creates a tracker over the given REST client. Attach a stream with
// AttachStream before calling Connect.
func New(logger *zap.Logger, api API, opts ...Option) *Tracker {
	t := &Tracker{
		logger:                logger,
		api:                   api,
		reconnectDelay:        defaultReconnectDelay,
		dismissCompletedAfter: defaultDismissCompletedAfter,
		dismissFailedAfter:    defaultDismissFailedAfter,
		actions:               make(map[string]*domain.Action),
		subscribers:           make(map[string]func(Update)),
		loading:               make(map[string]*toast.Toast),
		conn:                  domain.ConnectionState{Status: domain.Disconnected, ChangedAt: time.Now()},
		timers:                timerset.New(),
		baseCtx:               context.Background(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// AttachStream binds the push transport. The stream must have been built with
// this tracker as its handler.
func (t *Tracker) AttachStream(s Stream) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stream = s
}

// Connect dials the push stream. The first dial error is returned for
// immediate feedback, but a reconnect is scheduled regardless: transport
// failures are retried indefinitely with a fixed delay.
func (t *Tracker) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errors.New("tracker is disconnected")
	}
	if t.stream == nil {
		t.mu.Unlock()
		return errors.New("no stream attached")
	}
	t.baseCtx = ctx
	stream := t.stream
	t.mu.Unlock()

	if err := stream.Dial(ctx); err != nil {
		t.logger.Warn("initial stream dial failed, will retry",
			zap.Duration("delay", t.reconnectDelay), zap.Error(err))
		t.scheduleReconnect()
		return err
	}
	t.streamConnected()
	return nil
}

// OnEvent applies one inbound push event. Events with a missing required
// payload are logged and dropped without touching state.
func (t *Tracker) OnEvent(ev domain.Event) {
	if err := ev.Validate(); err != nil {
		t.logger.Warn("dropping malformed action event",
			zap.String("action_id", ev.ActionID),
			zap.String("update_type", string(ev.UpdateType)),
			zap.Error(err))
		return
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	existing := t.actions[ev.ActionID]
	merged := merge(existing, ev.Action)
	merged.ID = ev.ActionID
	if ev.UpdateType == domain.UpdateActionStarted {
		// True creation: local flags start clean even if a stale record existed.
		merged.Read = false
		merged.Dismissed = false
	}
	t.actions[ev.ActionID] = merged

	switch ev.UpdateType {
	case domain.UpdateActionCompleted, domain.UpdateActionCancelled:
		t.timers.Set(dismissKey(ev.ActionID), t.dismissCompletedAfter, func() { t.Dismiss(ev.ActionID) })
	case domain.UpdateActionFailed:
		t.timers.Set(dismissKey(ev.ActionID), t.dismissFailedAfter, func() { t.Dismiss(ev.ActionID) })
	}

	snapshot := merged.Clone()
	update := Update{
		Kind:    KindEvent,
		Event:   &ev,
		Action:  snapshot,
		Summary: t.lockedSummary(),
	}
	subs := t.lockedSubscribers()
	t.mu.Unlock()

	t.emitToast(ev.UpdateType, snapshot)
	t.deliver(subs, update)
}

// OnLag handles the transport's dropped-messages signal: subscribers are told
// (for optional user messaging) and a reconciliation sync repairs the table.
func (t *Tracker) OnLag(dropped int) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	update := Update{Kind: KindLag, Dropped: dropped, Reason: domain.SyncLag, Summary: t.lockedSummary()}
	subs := t.lockedSubscribers()
	t.mu.Unlock()

	t.deliver(subs, update)
	go func() {
		if err := t.SyncActiveActions(t.currentCtx(), domain.SyncLag); err != nil {
			t.logger.Warn("lag-triggered sync failed", zap.Error(err))
		}
	}()
}

// OnDisconnect transitions to disconnected and schedules exactly one reconnect
// attempt. A nil error means a local teardown; no reconnect is scheduled.
func (t *Tracker) OnDisconnect(err error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.conn = domain.ConnectionState{Status: domain.Disconnected, ChangedAt: time.Now()}
	update := Update{Kind: KindConnection, Summary: t.lockedSummary()}
	subs := t.lockedSubscribers()
	t.mu.Unlock()

	t.deliver(subs, update)
	if err != nil {
		t.scheduleReconnect()
	}
}

// scheduleReconnect arms the single reconnect timer. Re-arming replaces the
// pending timer, so attempts are never duplicated.
func (t *Tracker) scheduleReconnect() {
	t.timers.Set(reconnectKey, t.reconnectDelay, t.redial)
}

func (t *Tracker) redial() {
	t.mu.Lock()
	if t.closed || t.stream == nil {
		t.mu.Unlock()
		return
	}
	stream := t.stream
	ctx := t.baseCtx
	t.mu.Unlock()

	if err := stream.Dial(ctx); err != nil {
		t.logger.Warn("stream reconnect failed, will retry",
			zap.Duration("delay", t.reconnectDelay), zap.Error(err))
		t.scheduleReconnect()
		return
	}
	t.streamConnected()
}

// streamConnected records the new connection and unconditionally triggers a
// reconciliation sync tagged with why the connection was (re)established.
func (t *Tracker) streamConnected() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	reason := domain.SyncInitialConnect
	if t.everConnected {
		reason = domain.SyncReconnect
	}
	t.everConnected = true
	t.conn = domain.ConnectionState{Status: domain.Connected, ChangedAt: time.Now()}
	update := Update{Kind: KindConnection, Reason: reason, Summary: t.lockedSummary()}
	subs := t.lockedSubscribers()
	t.mu.Unlock()

	t.deliver(subs, update)
	go func() {
		if err := t.SyncActiveActions(t.currentCtx(), reason); err != nil {
			t.logger.Warn("connect-triggered sync failed",
				zap.String("reason", string(reason)), zap.Error(err))
		}
	}()
}

// SyncActiveActions fetches the server's active-actions snapshot and merges it
// into the table. At most one fetch is in flight at any time; concurrent
// callers share the pending one. Failures are reported to subscribers as a
// non-fatal sync_error and returned, never panicking out of the tracker.
func (t *Tracker) SyncActiveActions(ctx context.Context, reason domain.SyncReason) error {
	_, err, _ := t.sf.Do(activeActionsSF, func() (any, error) {
		actions, err := t.api.ActiveActions(ctx)
		if err != nil {
			t.reportSyncError(reason, err)
			return nil, errors.Wrap(err, "active actions sync")
		}
		t.applySnapshot(actions)
		t.logger.Debug("active actions synced",
			zap.String("reason", string(reason)), zap.Int("count", len(actions)))
		return nil, nil
	})
	return err
}

func (t *Tracker) reportSyncError(reason domain.SyncReason, err error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	update := Update{Kind: KindSyncError, Reason: reason, Err: err.Error(), Summary: t.lockedSummary()}
	subs := t.lockedSubscribers()
	t.mu.Unlock()
	t.deliver(subs, update)
}

// applySnapshot merges a server result set by id and broadcasts the refreshed
// summary. Stale snapshots cannot regress local Read/Dismissed flags.
func (t *Tracker) applySnapshot(actions []*domain.Action) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	for _, incoming := range actions {
		if incoming == nil || incoming.ID == "" {
			continue
		}
		t.actions[incoming.ID] = merge(t.actions[incoming.ID], incoming)
	}
	update := Update{Kind: KindSummary, Summary: t.lockedSummary()}
	subs := t.lockedSubscribers()
	t.mu.Unlock()
	t.deliver(subs, update)
}

// FetchHistory queries one history page and folds the returned records into
// the table with the same merge rule snapshots use.
func (t *Tracker) FetchHistory(ctx context.Context, filter clients.HistoryFilter) (*domain.HistoryPage, error) {
	page, err := t.api.History(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "fetch history")
	}
	t.applySnapshot(page.Actions)
	return page, nil
}

// FetchActionByID fetches a single action, merges it, and returns the merged
// local view (so local flags are reflected in the result).
func (t *Tracker) FetchActionByID(ctx context.Context, id string) (*domain.Action, error) {
	action, err := t.api.ActionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	t.applySnapshot([]*domain.Action{action})

	t.mu.Lock()
	defer t.mu.Unlock()
	if local, ok := t.actions[id]; ok {
		return local.Clone(), nil
	}
	return action, nil
}

// AddNotification inserts a locally-originated record (clean local flags).
func (t *Tracker) AddNotification(action *domain.Action) {
	if action == nil || action.ID == "" {
		return
	}
	t.applySnapshot([]*domain.Action{action})
}

// UpdateNotification upserts a record, creating it if absent.
func (t *Tracker) UpdateNotification(action *domain.Action) {
	t.AddNotification(action)
}

// Dismiss soft-deletes a record: it leaves live views but stays queryable for
// historical tabs. Any pending auto-dismiss timer is cancelled.
func (t *Tracker) Dismiss(id string) {
	t.timers.Cancel(dismissKey(id))

	t.mu.Lock()
	rec, ok := t.actions[id]
	if !ok || t.closed || rec.Dismissed {
		t.mu.Unlock()
		return
	}
	rec.Dismissed = true
	update := Update{Kind: KindSummary, Action: rec.Clone(), Summary: t.lockedSummary()}
	subs := t.lockedSubscribers()
	t.mu.Unlock()
	t.deliver(subs, update)
}

// MarkAsRead flags a record read.
func (t *Tracker) MarkAsRead(id string) {
	t.mu.Lock()
	rec, ok := t.actions[id]
	if !ok || t.closed || rec.Read {
		t.mu.Unlock()
		return
	}
	rec.Read = true
	update := Update{Kind: KindSummary, Summary: t.lockedSummary()}
	subs := t.lockedSubscribers()
	t.mu.Unlock()
	t.deliver(subs, update)
}

// MarkAllAsRead flags every record read.
func (t *Tracker) MarkAllAsRead() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	for _, rec := range t.actions {
		rec.Read = true
	}
	update := Update{Kind: KindSummary, Summary: t.lockedSummary()}
	subs := t.lockedSubscribers()
	t.mu.Unlock()
	t.deliver(subs, update)
}

// ClearAll hard-removes every record and its timers. This is the only true
// deletion path; dismissal never removes records.
func (t *Tracker) ClearAll() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	for id := range t.actions {
		t.timers.Cancel(dismissKey(id))
	}
	t.actions = make(map[string]*domain.Action)
	update := Update{Kind: KindSummary, Summary: t.lockedSummary()}
	subs := t.lockedSubscribers()
	t.mu.Unlock()
	t.deliver(subs, update)
}

// Subscribe registers a callback and immediately replays the current summary
// to it. The returned function unsubscribes.
func (t *Tracker) Subscribe(cb func(Update)) func() {
	token := uuid.NewString()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return func() {}
	}
	t.subscribers[token] = cb
	replay := Update{Kind: KindSummary, Summary: t.lockedSummary()}
	t.mu.Unlock()

	t.safeNotify(cb, replay)

	return func() {
		t.mu.Lock()
		delete(t.subscribers, token)
		t.mu.Unlock()
	}
}

// GetSummary returns the current derived summary.
func (t *Tracker) GetSummary() domain.Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lockedSummary()
}

// GetRecent returns the n most recently-timestamped non-dismissed records,
// newest first.
func (t *Tracker) GetRecent(n int) []*domain.Action {
	out := t.filtered(func(a *domain.Action) bool { return !a.Dismissed })
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// GetActive returns non-dismissed in-progress records, newest first.
func (t *Tracker) GetActive() []*domain.Action {
	return t.filtered(func(a *domain.Action) bool {
		return a.Status() == domain.StatusInProgress && !a.Dismissed
	})
}

// GetCompleted returns completed records, newest first. Dismissed records are
// included only when includeDismissed is set.
func (t *Tracker) GetCompleted(includeDismissed bool) []*domain.Action {
	return t.filtered(func(a *domain.Action) bool {
		return a.Status() == domain.StatusCompleted && (includeDismissed || !a.Dismissed)
	})
}

// GetFailed returns failed records, newest first.
func (t *Tracker) GetFailed(includeDismissed bool) []*domain.Action {
	return t.filtered(func(a *domain.Action) bool {
		return a.Status() == domain.StatusFailed && (includeDismissed || !a.Dismissed)
	})
}

// ConnectionState returns the current stream connection view.
func (t *Tracker) ConnectionState() domain.ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn
}

// Disconnect tears down the transport, cancels every timer and drops all
// subscribers. Used on full teardown only; the tracker is unusable afterwards.
func (t *Tracker) Disconnect() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.timers.Stop()
	t.subscribers = make(map[string]func(Update))
	t.loading = make(map[string]*toast.Toast)
	stream := t.stream
	t.conn = domain.ConnectionState{Status: domain.Disconnected, ChangedAt: time.Now()}
	t.mu.Unlock()

	if stream != nil {
		if err := stream.Close(); err != nil {
			t.logger.Warn("stream close failed", zap.Error(err))
		}
	}
}

func (t *Tracker) filtered(keep func(*domain.Action) bool) []*domain.Action {
	t.mu.Lock()
	var out []*domain.Action
	for _, a := range t.actions {
		if keep(a) {
			out = append(out, a.Clone())
		}
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].DisplayTime().After(out[j].DisplayTime())
	})
	return out
}

// lockedSummary computes the derived summary. Completed/failed 24h windows
// count dismissed records too, for historical accuracy.
func (t *Tracker) lockedSummary() domain.Summary {
	cutoff := time.Now().Add(-24 * time.Hour)
	s := domain.Summary{Connection: t.conn}
	for _, a := range t.actions {
		if !a.Dismissed {
			s.Total++
			if a.Status() == domain.StatusInProgress {
				s.Active++
			}
			if !a.Read {
				s.Unread++
			}
		}
		if !a.DisplayTime().After(cutoff) {
			continue
		}
		switch a.Status() {
		case domain.StatusCompleted:
			s.Completed24h++
			s.Volume24h = s.Volume24h.Add(a.AmountIn())
		case domain.StatusFailed:
			s.Failed24h++
		}
	}
	return s
}

func (t *Tracker) lockedSubscribers() []func(Update) {
	subs := make([]func(Update), 0, len(t.subscribers))
	for _, cb := range t.subscribers {
		subs = append(subs, cb)
	}
	return subs
}

func (t *Tracker) deliver(subs []func(Update), update Update) {
	for _, cb := range subs {
		t.safeNotify(cb, update)
	}
}

// safeNotify shields delivery from a faulty observer: a panicking callback is
// logged and skipped so it cannot break delivery to others.
func (t *Tracker) safeNotify(cb func(Update), update Update) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("subscriber callback panicked", zap.Any("panic", r))
		}
	}()
	cb(update)
}

func (t *Tracker) currentCtx() context.Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.baseCtx
}

// emitToast maps notable lifecycle transitions to toast requests. Step-level
// events stay silent; the dashboard list view covers them. The loading toast
// shown for a start is retained per action and resolved in place by the
// terminal event, so no spinner outlives its action.
func (t *Tracker) emitToast(updateType domain.UpdateType, action *domain.Action) {
	t.mu.Lock()
	toasts := t.toasts
	t.mu.Unlock()
	if toasts == nil {
		return
	}

	title := actionTitle(action.Type)
	message := action.Symbol()

	switch updateType {
	case domain.UpdateActionStarted:
		h := toasts.Show(toast.Config{
			Type:      toast.TypeLoading,
			Title:     title + " started",
			Message:   message,
			OnDismiss: func() { t.takeLoading(action.ID) },
		})
		t.rememberLoading(action.ID, h)
	case domain.UpdateActionCompleted:
		if h := t.takeLoading(action.ID); h != nil {
			success := toast.TypeSuccess
			done := title + " completed"
			d := 4 * time.Second
			h.Update(toast.Patch{Type: &success, Title: &done, Message: &message, Duration: &d})
			return
		}
		toasts.Show(toast.Config{
			Type:    toast.TypeSuccess,
			Title:   title + " completed",
			Message: message,
		})
	case domain.UpdateActionFailed:
		if h := t.takeLoading(action.ID); h != nil {
			h.Dismiss()
		}
		toasts.Show(toast.Config{
			Type:        toast.TypeError,
			Title:       title + " failed",
			Message:     message,
			Description: firstStepError(action),
			Priority:    toast.PriorityHigh,
			Persistent:  true,
		})
	case domain.UpdateActionCancelled:
		if h := t.takeLoading(action.ID); h != nil {
			h.Dismiss()
		}
		toasts.Show(toast.Config{
			Type:    toast.TypeWarning,
			Title:   title + " cancelled",
			Message: message,
		})
	}
}

// rememberLoading keeps the loading toast handle for an in-flight action.
// Rejected (detached) handles carry no toast and are not tracked.
func (t *Tracker) rememberLoading(id string, h *toast.Toast) {
	if h == nil || h.ID() == "" {
		return
	}
	t.mu.Lock()
	if !t.closed {
		t.loading[id] = h
	}
	t.mu.Unlock()
}

// takeLoading removes and returns the loading toast handle for an action, if
// one is still outstanding. Also used as the toast's OnDismiss hook so a
// user-dismissed spinner is dropped from tracking.
func (t *Tracker) takeLoading(id string) *toast.Toast {
	t.mu.Lock()
	h := t.loading[id]
	delete(t.loading, id)
	t.mu.Unlock()
	return h
}

// actionTitle renders an action type for toast titles.
func actionTitle(at domain.ActionType) string {
	switch at {
	case domain.ActionSwapBuy:
		return "Swap buy"
	case domain.ActionSwapSell:
		return "Swap sell"
	case domain.ActionPositionOpen:
		return "Position open"
	case domain.ActionPositionClose:
		return "Position close"
	case domain.ActionDCA:
		return "DCA buy"
	case domain.ActionPartialExit:
		return "Partial exit"
	case domain.ActionManualOrder:
		return "Manual order"
	default:
		return "Action"
	}
}

func firstStepError(action *domain.Action) string {
	for _, step := range action.State.Steps {
		if step.Status == domain.StepFailed && step.Error != "" {
			return fmt.Sprintf("%s: %s", step.Name, step.Error)
		}
	}
	return ""
}

func dismissKey(id string) string { return "dismiss:" + id }
