package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/pulse/internal/domain"
)

const defaultRequestTimeout = 15 * time.Second

// HistoryFilter narrows the paginated action history query. Zero values are
// omitted from the request.
type HistoryFilter struct {
	Limit         int
	Offset        int
	ActionType    domain.ActionType
	EntityID      string
	State         domain.ActionStatus
	StartedAfter  time.Time
	StartedBefore time.Time
}

// APIClient talks to the bot backend's REST endpoints: the active-actions
// snapshot, the paginated history, and single-action lookup.
type APIClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewAPIClient creates a REST client for the given base URL. token may be empty
// when the backend runs without auth.
func NewAPIClient(baseURL, token string) *APIClient {
	return &APIClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: defaultRequestTimeout},
	}
}

// ActiveActions fetches the server's current in-progress action list, used for
// reconciliation after connects and lag signals.
func (c *APIClient) ActiveActions(ctx context.Context) ([]*domain.Action, error) {
	var out struct {
		Actions []*domain.Action `json:"actions"`
	}
	if err := c.get(ctx, "/api/actions/active", nil, &out); err != nil {
		return nil, errors.Wrap(err, "fetch active actions")
	}
	return out.Actions, nil
}

// History fetches one page of the action history.
func (c *APIClient) History(ctx context.Context, filter HistoryFilter) (*domain.HistoryPage, error) {
	q := url.Values{}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	if filter.Offset > 0 {
		q.Set("offset", strconv.Itoa(filter.Offset))
	}
	if filter.ActionType != "" {
		q.Set("action_type", string(filter.ActionType))
	}
	if filter.EntityID != "" {
		q.Set("entity_id", filter.EntityID)
	}
	if filter.State != "" {
		q.Set("state", string(filter.State))
	}
	if !filter.StartedAfter.IsZero() {
		q.Set("started_after", filter.StartedAfter.UTC().Format(time.RFC3339))
	}
	if !filter.StartedBefore.IsZero() {
		q.Set("started_before", filter.StartedBefore.UTC().Format(time.RFC3339))
	}

	var page domain.HistoryPage
	if err := c.get(ctx, "/api/actions", q, &page); err != nil {
		return nil, errors.Wrap(err, "fetch action history")
	}
	return &page, nil
}

// ActionByID fetches a single action.
func (c *APIClient) ActionByID(ctx context.Context, id string) (*domain.Action, error) {
	if id == "" {
		return nil, errors.New("empty action id")
	}
	var out struct {
		Action *domain.Action `json:"action"`
	}
	if err := c.get(ctx, "/api/actions/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, errors.Wrapf(err, "fetch action %s", id)
	}
	if out.Action == nil {
		return nil, errors.Errorf("action %s not found", id)
	}
	return out.Action, nil
}

func (c *APIClient) get(ctx context.Context, path string, query url.Values, dst any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, path)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}
