package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAction_DisplayTime(t *testing.T) {
	started := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	stamped := started.Add(time.Minute)
	completed := started.Add(2 * time.Minute)

	tests := []struct {
		name     string
		action   Action
		expected time.Time
	}{
		{
			name:     "completedAt wins",
			action:   Action{StartedAt: started, Timestamp: stamped, CompletedAt: completed},
			expected: completed,
		},
		{
			name:     "timestamp when not completed",
			action:   Action{StartedAt: started, Timestamp: stamped},
			expected: stamped,
		},
		{
			name:     "startedAt as last resort",
			action:   Action{StartedAt: started},
			expected: started,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.action.DisplayTime())
		})
	}
}

func TestAction_AmountIn(t *testing.T) {
	a := Action{Metadata: map[string]string{"input_amount": "12.5", "symbol": "BTCUSDT"}}
	assert.True(t, a.AmountIn().Equal(decimal.NewFromFloat(12.5)))
	assert.Equal(t, "BTCUSDT", a.Symbol())

	assert.True(t, (&Action{}).AmountIn().IsZero())
	bad := Action{Metadata: map[string]string{"input_amount": "not-a-number"}}
	assert.True(t, bad.AmountIn().IsZero())
}

func TestAction_CloneIsDeep(t *testing.T) {
	a := &Action{
		ID:       "a1",
		State:    ActionState{Status: StatusInProgress, Steps: []Step{{Name: "quote", Status: StepCompleted}}},
		Metadata: map[string]string{"symbol": "ETHUSDT"},
	}
	cp := a.Clone()
	cp.State.Steps[0].Status = StepFailed
	cp.Metadata["symbol"] = "SOLUSDT"

	assert.Equal(t, StepCompleted, a.State.Steps[0].Status)
	assert.Equal(t, "ETHUSDT", a.Metadata["symbol"])
}

func TestEvent_Validate(t *testing.T) {
	payload := &Action{ID: "a1"}

	tests := []struct {
		name    string
		event   Event
		wantErr bool
	}{
		{name: "started with payload", event: Event{ActionID: "a1", UpdateType: UpdateActionStarted, Action: payload}},
		{name: "step progress with payload", event: Event{ActionID: "a1", UpdateType: UpdateStepProgress, Action: payload}},
		{name: "completed without payload", event: Event{ActionID: "a1", UpdateType: UpdateActionCompleted}, wantErr: true},
		{name: "started without payload", event: Event{ActionID: "a1", UpdateType: UpdateActionStarted}, wantErr: true},
		{name: "unknown type", event: Event{ActionID: "a1", UpdateType: "resharded", Action: payload}, wantErr: true},
		{name: "empty action id", event: Event{UpdateType: UpdateActionStarted, Action: payload}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestActionStatus_Terminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusInProgress.Terminal())
	assert.False(t, StatusUnknown.Terminal())
}
