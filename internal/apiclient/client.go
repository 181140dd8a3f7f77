// Package apiclient calls the solidtracker HTTP API on behalf of the timer client and the
// operator CLI.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MayankBharati/solidtracker/internal/api"
	"github.com/MayankBharati/solidtracker/internal/mirrorsync"
)

// APIError is a non-2xx answer from the API.
type APIError struct {
	StatusCode int
	Type       string
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (%d): %s", e.Type, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("api status %d", e.StatusCode)
}

// Client calls the solidtracker API with a bearer token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient builds a Client. A nil httpClient uses a 30 second timeout so bulk syncs can finish.
func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), token: token, http: httpClient}
}

// Active returns the caller's running entry, if any, with the server clock.
func (c *Client) Active(ctx context.Context) (api.ActiveTimerResponse, error) {
	var out api.ActiveTimerResponse
	err := c.do(ctx, http.MethodGet, "/v1/timer/active", nil, &out)
	return out, err
}

// Start opens a timer on the task.
func (c *Client) Start(ctx context.Context, projectID, taskID string) (api.TimeEntryView, error) {
	var out api.TimeEntryView
	err := c.do(ctx, http.MethodPost, "/v1/timer/start", api.StartTimerRequest{ProjectID: projectID, TaskID: taskID}, &out)
	return out, err
}

// Stop closes the caller's running entry.
func (c *Client) Stop(ctx context.Context) (api.TimeEntryView, error) {
	var out api.TimeEntryView
	err := c.do(ctx, http.MethodPost, "/v1/timer/stop", nil, &out)
	return out, err
}

// Assignments lists the projects and tasks open to the caller.
func (c *Client) Assignments(ctx context.Context) ([]api.AssignmentView, error) {
	var out api.AssignmentsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/assignments", nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// Entries lists the caller's entries started at or after from.
func (c *Client) Entries(ctx context.Context, from time.Time, limit int) ([]api.TimeEntryView, error) {
	page, err := c.ListEntries(ctx, EntryQuery{From: from, Limit: limit})
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

// EntryQuery filters ListEntries. An empty EmployeeID lists the token subject's entries.
type EntryQuery struct {
	EmployeeID string
	From       time.Time
	To         time.Time
	Limit      int
	Cursor     string
}

// ListEntries returns one page of time entries.
func (c *Client) ListEntries(ctx context.Context, query EntryQuery) (api.ListTimeEntriesResponse, error) {
	q := url.Values{}
	if query.EmployeeID != "" {
		q.Set("employee_id", query.EmployeeID)
	}
	if !query.From.IsZero() {
		q.Set("from", query.From.UTC().Format(time.RFC3339))
	}
	if !query.To.IsZero() {
		q.Set("to", query.To.UTC().Format(time.RFC3339))
	}
	if query.Limit > 0 {
		q.Set("limit", strconv.Itoa(query.Limit))
	}
	if query.Cursor != "" {
		q.Set("cursor", query.Cursor)
	}
	var out api.ListTimeEntriesResponse
	err := c.do(ctx, http.MethodGet, "/v1/time-entries?"+q.Encode(), nil, &out)
	return out, err
}

// CreateManual records a closed entry.
func (c *Client) CreateManual(ctx context.Context, req api.CreateManualEntryRequest) (api.TimeEntryView, error) {
	var out api.TimeEntryView
	err := c.do(ctx, http.MethodPost, "/v1/time-entries", req, &out)
	return out, err
}

// Sync mirrors one entity. A failed attempt is returned as the response together with an
// *APIError carrying the HTTP status.
func (c *Client) Sync(ctx context.Context, entityType, entityID string) (api.SyncResponse, error) {
	var out api.SyncResponse
	err := c.do(ctx, http.MethodPost, "/v1/sync", api.SyncRequest{EntityType: entityType, EntityID: entityID}, &out)
	return out, err
}

// SyncAll mirrors every active employee, project or task.
func (c *Client) SyncAll(ctx context.Context, scope string) (mirrorsync.BatchResult, error) {
	var out mirrorsync.BatchResult
	err := c.do(ctx, http.MethodPost, "/v1/sync/all", api.SyncAllRequest{Scope: scope}, &out)
	return out, err
}

// Bind records remoteID as the remote counterpart of a local entity. Like Sync, a rejected bind
// is returned as the response together with an *APIError.
func (c *Client) Bind(ctx context.Context, entityType, entityID, remoteID string) (api.SyncResponse, error) {
	var out api.SyncResponse
	err := c.do(ctx, http.MethodPost, "/v1/sync/bind", api.BindRequest{EntityType: entityType, EntityID: entityID, RemoteID: remoteID}, &out)
	return out, err
}

// SyncStatus returns the linkage and the most recent sync log entries of one entity.
func (c *Client) SyncStatus(ctx context.Context, entityType, entityID string, limit int) (api.SyncStatusResponse, error) {
	q := url.Values{}
	q.Set("entity_type", entityType)
	q.Set("entity_id", entityID)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out api.SyncStatusResponse
	err := c.do(ctx, http.MethodGet, "/v1/sync/status?"+q.Encode(), nil, &out)
	return out, err
}

// Heartbeat reports the device the client runs on.
func (c *Client) Heartbeat(ctx context.Context, req api.DeviceHeartbeatRequest) error {
	return c.do(ctx, http.MethodPost, "/v1/devices", req, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var problem struct {
			Type   string `json:"type"`
			Detail string `json:"detail"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, &problem) == nil {
			apiErr.Type, apiErr.Detail = problem.Type, problem.Detail
		}
		if out != nil {
			_ = json.Unmarshal(raw, out)
		}
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
