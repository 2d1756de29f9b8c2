// Package toast implements a bounded, priority-ordered queue of ephemeral UI
// messages with grouping, pausable countdowns, and overflow eviction. It knows
// nothing about rendering; presentation code subscribes to manager events and
// draws the visible set however it likes.
package toast

import "time"

// Type classifies a toast message.
type Type string

const (
	TypeSuccess Type = "success"
	TypeError   Type = "error"
	TypeWarning Type = "warning"
	TypeInfo    Type = "info"
	TypeLoading Type = "loading"
	TypeAction  Type = "action"
)

// Priority orders toasts for queueing and eviction. Critical is shown and
// evicted last.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// rank maps a priority to its sort position, lower first.
func (p Priority) rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityLow:
		return 3
	default:
		return 2
	}
}

// evictable reports whether a queued toast of this priority may be dropped to
// make room for a newcomer.
func (p Priority) evictable() bool {
	return p.rank() >= PriorityNormal.rank()
}

// Action is a button attached to a toast.
type Action struct {
	Label    string
	Callback func()
}

// Config describes one toast. Zero fields are filled from per-type defaults by
// the manager. Duration 0 means manual dismiss only.
type Config struct {
	Type        Type
	Title       string
	Message     string
	Description string
	Icon        string
	Duration    time.Duration
	Priority    Priority
	Persistent  bool
	Progress    int
	Actions     []Action
	GroupKey    string
	OnDismiss   func()
	OnTimeout   func()
}

// Info is shorthand for a plain informational toast, the equivalent of passing
// a bare string to Show.
func Info(title string) Config {
	return Config{Type: TypeInfo, Title: title}
}

// defaultDuration returns the auto-dismiss window for a type. Loading and
// action toasts never auto-dismiss.
func defaultDuration(t Type) time.Duration {
	switch t {
	case TypeSuccess, TypeInfo:
		return 4 * time.Second
	case TypeWarning:
		return 5 * time.Second
	case TypeError:
		return 6 * time.Second
	default:
		return 0
	}
}

func defaultIcon(t Type) string {
	switch t {
	case TypeSuccess:
		return "check"
	case TypeError:
		return "cross"
	case TypeWarning:
		return "warning"
	case TypeLoading:
		return "spinner"
	case TypeAction:
		return "bolt"
	default:
		return "info"
	}
}

// Patch is a partial toast update; nil fields are left untouched.
type Patch struct {
	Type        *Type
	Title       *string
	Message     *string
	Description *string
	Icon        *string
	Duration    *time.Duration
	Progress    *int
}

// EventName identifies a manager lifecycle event.
type EventName string

const (
	EventCreated       EventName = "created"
	EventShown         EventName = "shown"
	EventDismissed     EventName = "dismissed"
	EventUpdated       EventName = "updated"
	EventQueueOverflow EventName = "queue-overflow"
	EventQueueFull     EventName = "queue-full"
)

// View is an immutable snapshot of a toast handed to event handlers and query
// callers.
type View struct {
	ID          string
	Type        Type
	Title       string
	Message     string
	Description string
	Icon        string
	Duration    time.Duration
	Priority    Priority
	Persistent  bool
	Progress    int
	GroupKey    string
	GroupSize   int
	Visible     bool
	Queued      bool
	Dismissed   bool
}
