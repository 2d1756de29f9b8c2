package domain

import (
	"time"

	"github.com/pkg/errors"
)

// UpdateType discriminates stream events pushed by the server.
type UpdateType string

const (
	UpdateActionStarted   UpdateType = "action_started"
	UpdateStepProgress    UpdateType = "step_progress"
	UpdateStepCompleted   UpdateType = "step_completed"
	UpdateStepFailed      UpdateType = "step_failed"
	UpdateActionCompleted UpdateType = "action_completed"
	UpdateActionFailed    UpdateType = "action_failed"
	UpdateActionCancelled UpdateType = "action_cancelled"
)

// Event is one inbound push message: which action changed, how, and the full
// action payload for that point in time.
type Event struct {
	ActionID   string     `json:"action_id"`
	UpdateType UpdateType `json:"update_type"`
	Action     *Action    `json:"action,omitempty"`
}

var ErrMissingPayload = errors.New("event is missing required action payload")

// Validate checks per-variant payload requirements. Every known update type
// carries the full action payload; events that lack it must be dropped by the
// caller without mutating state.
func (e *Event) Validate() error {
	if e.ActionID == "" {
		return errors.New("event has empty action_id")
	}
	switch e.UpdateType {
	case UpdateActionStarted, UpdateStepProgress, UpdateStepCompleted, UpdateStepFailed,
		UpdateActionCompleted, UpdateActionFailed, UpdateActionCancelled:
		if e.Action == nil {
			return errors.Wrapf(ErrMissingPayload, "update_type %s", e.UpdateType)
		}
		return nil
	default:
		return errors.Errorf("unknown update_type %q", e.UpdateType)
	}
}

// ConnectionStatus describes the push stream link.
type ConnectionStatus string

const (
	Connected    ConnectionStatus = "connected"
	Disconnected ConnectionStatus = "disconnected"
)

// ConnectionState is the derived connection view exposed to subscribers.
type ConnectionState struct {
	Status    ConnectionStatus `json:"status"`
	ChangedAt time.Time        `json:"changed_at"`
}

// SyncReason tags a reconciliation fetch with what triggered it.
type SyncReason string

const (
	SyncInitialConnect SyncReason = "initial_connect"
	SyncReconnect      SyncReason = "reconnect"
	SyncLag            SyncReason = "lag"
)
