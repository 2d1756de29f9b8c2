package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ActionType categorizes a backend-tracked long-running operation.
type ActionType string

const (
	ActionSwapBuy       ActionType = "swap_buy"
	ActionSwapSell      ActionType = "swap_sell"
	ActionPositionOpen  ActionType = "position_open"
	ActionPositionClose ActionType = "position_close"
	ActionDCA           ActionType = "dca"
	ActionPartialExit   ActionType = "partial_exit"
	ActionManualOrder   ActionType = "manual_order"
)

// ActionStatus is the lifecycle state of an action. An empty status means the
// server has not reported one yet.
type ActionStatus string

const (
	StatusInProgress ActionStatus = "in_progress"
	StatusCompleted  ActionStatus = "completed"
	StatusFailed     ActionStatus = "failed"
	StatusCancelled  ActionStatus = "cancelled"
	StatusUnknown    ActionStatus = ""
)

// Terminal reports whether the status is a final one.
func (s ActionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// StepStatus is the state of a single step inside an action.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
)

// Step is one unit of an action's finite step sequence.
type Step struct {
	Name   string     `json:"name"`
	Status StepStatus `json:"status"`
	Error  string     `json:"error,omitempty"`
}

// ActionState is the nested server-side state payload carried by an action.
type ActionState struct {
	Status ActionStatus `json:"status"`
	Steps  []Step       `json:"steps,omitempty"`
}

// Action is one backend-tracked long-running operation (a trade, a position
// change) as seen by the dashboard. Read and Dismissed are local-only flags and
// survive server merges; everything else reflects server truth.
type Action struct {
	ID          string            `json:"id"`
	Type        ActionType        `json:"action_type"`
	State       ActionState       `json:"state"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Timestamp   time.Time         `json:"timestamp,omitempty"`
	StartedAt   time.Time         `json:"started_at,omitempty"`
	CompletedAt time.Time         `json:"completed_at,omitempty"`
	Read        bool              `json:"read"`
	Dismissed   bool              `json:"dismissed"`
}

// Status returns the status derived from the nested state.
func (a *Action) Status() ActionStatus {
	return a.State.Status
}

// DisplayTime resolves the timestamp used for ordering and display, with
// precedence completedAt, then timestamp, then startedAt.
func (a *Action) DisplayTime() time.Time {
	switch {
	case !a.CompletedAt.IsZero():
		return a.CompletedAt
	case !a.Timestamp.IsZero():
		return a.Timestamp
	default:
		return a.StartedAt
	}
}

// Symbol returns the traded symbol from metadata, if present.
func (a *Action) Symbol() string {
	return a.Metadata["symbol"]
}

// AmountIn parses the input amount from metadata. Returns zero when the field
// is absent or malformed, so summary math never fails on junk metadata.
func (a *Action) AmountIn() decimal.Decimal {
	raw, ok := a.Metadata["input_amount"]
	if !ok {
		return decimal.Zero
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return amount
}

// Clone returns a deep copy, safe to hand to subscribers.
func (a *Action) Clone() *Action {
	cp := *a
	if a.State.Steps != nil {
		cp.State.Steps = make([]Step, len(a.State.Steps))
		copy(cp.State.Steps, a.State.Steps)
	}
	if a.Metadata != nil {
		cp.Metadata = make(map[string]string, len(a.Metadata))
		for k, v := range a.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
