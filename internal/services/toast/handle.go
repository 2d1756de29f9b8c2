package toast

// Toast is the caller-facing handle returned by Show. All methods proxy to the
// owning manager and are safe to call after dismissal (they become no-ops).
// A detached handle, returned when Show rejected the toast, behaves the same
// way: every method is a no-op and ID is empty.
type Toast struct {
	id string
	m  *Manager
}

// ID returns the session-scoped toast id, or "" for a detached handle.
func (t *Toast) ID() string {
	return t.id
}

// View returns the current snapshot of this toast, or a zero View when the
// toast has already been removed.
func (t *Toast) View() View {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	rec, ok := t.m.toasts[t.id]
	if !ok {
		return View{ID: t.id, Dismissed: true}
	}
	return t.m.view(rec)
}

// Dismiss dismisses the toast.
func (t *Toast) Dismiss() {
	t.m.Dismiss(t.id)
}

// Update applies a partial update.
func (t *Toast) Update(patch Patch) {
	t.m.Update(t.id, patch)
}

// UpdateProgress sets the progress indicator, clamped to 0-100.
func (t *Toast) UpdateProgress(percent int) {
	t.m.Update(t.id, Patch{Progress: &percent})
}

// Complete converts the toast to a success message that auto-dismisses after
// two seconds. Used to resolve loading toasts.
func (t *Toast) Complete(message string) {
	typ := TypeSuccess
	d := completeDismissAfter
	t.m.Update(t.id, Patch{Type: &typ, Message: &message, Duration: &d})
}

// Error converts the toast to an error message.
func (t *Toast) Error(message string) {
	typ := TypeError
	d := defaultDuration(TypeError)
	t.m.Update(t.id, Patch{Type: &typ, Message: &message, Duration: &d})
}
