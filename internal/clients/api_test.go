package clients

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/pulse/internal/domain"
)

func TestActiveActions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/actions/active", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"actions":[{"id":"a1","type":"swap_buy","state":{"status":"in_progress"}}]}`))
	}))
	defer srv.Close()

	client := NewAPIClient(srv.URL, "test-token")
	actions, err := client.ActiveActions(context.Background())
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "a1", actions[0].ID)
	assert.Equal(t, domain.StatusInProgress, actions[0].Status())
}

func TestActiveActionsNoAuthHeaderWithoutToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Write([]byte(`{"actions":[]}`))
	}))
	defer srv.Close()

	client := NewAPIClient(srv.URL, "")
	actions, err := client.ActiveActions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestHistoryQueryParams(t *testing.T) {
	after := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "10", q.Get("limit"))
		assert.Equal(t, "20", q.Get("offset"))
		assert.Equal(t, "swap_sell", q.Get("action_type"))
		assert.Equal(t, "pos-7", q.Get("entity_id"))
		assert.Equal(t, "failed", q.Get("state"))
		assert.Equal(t, "2025-06-01T00:00:00Z", q.Get("started_after"))
		assert.Empty(t, q.Get("started_before"))
		w.Write([]byte(`{"actions":[{"id":"a2"}],"total":1,"limit":10,"offset":20}`))
	}))
	defer srv.Close()

	client := NewAPIClient(srv.URL, "")
	page, err := client.History(context.Background(), HistoryFilter{
		Limit:        10,
		Offset:       20,
		ActionType:   domain.ActionSwapSell,
		EntityID:     "pos-7",
		State:        domain.StatusFailed,
		StartedAfter: after,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	require.Len(t, page.Actions, 1)
	assert.Equal(t, "a2", page.Actions[0].ID)
}

func TestActionByID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/actions/a3", r.URL.Path)
		w.Write([]byte(`{"action":{"id":"a3","state":{"status":"completed"}}}`))
	}))
	defer srv.Close()

	client := NewAPIClient(srv.URL, "")
	action, err := client.ActionByID(context.Background(), "a3")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, action.Status())
}

func TestActionByIDEmptyID(t *testing.T) {
	client := NewAPIClient("http://localhost", "")
	_, err := client.ActionByID(context.Background(), "")
	require.Error(t, err)
}

func TestActionByIDNotFoundPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := NewAPIClient(srv.URL, "")
	_, err := client.ActionByID(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestUnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewAPIClient(srv.URL, "")
	_, err := client.ActiveActions(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 500")
}
