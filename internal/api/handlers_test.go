package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MayankBharati/solidtracker/internal/auth"
	"github.com/MayankBharati/solidtracker/internal/domain"
	"github.com/MayankBharati/solidtracker/internal/logging"
	"github.com/MayankBharati/solidtracker/internal/mirror"
	"github.com/MayankBharati/solidtracker/internal/mirrorsync"
	"github.com/MayankBharati/solidtracker/internal/persistence/memory"
)

type fakeSyncer struct {
	outcome  mirrorsync.Outcome
	batch    mirrorsync.BatchResult
	linkage  *domain.RemoteLinkage
	log      []domain.SyncLogEntry
	calls    []string
	lastSize int
}

func (f *fakeSyncer) Sync(ctx context.Context, entityType domain.EntityType, id string) mirrorsync.Outcome {
	f.calls = append(f.calls, string(entityType)+":"+id)
	out := f.outcome
	out.EntityType, out.EntityID = entityType, id
	return out
}

func (f *fakeSyncer) SyncAllEmployees(ctx context.Context) mirrorsync.BatchResult {
	f.calls = append(f.calls, "all:employees")
	return f.batch
}

func (f *fakeSyncer) SyncAllProjects(ctx context.Context) mirrorsync.BatchResult {
	f.calls = append(f.calls, "all:projects")
	return f.batch
}

func (f *fakeSyncer) SyncAllTasks(ctx context.Context) mirrorsync.BatchResult {
	f.calls = append(f.calls, "all:tasks")
	return f.batch
}

func (f *fakeSyncer) Bind(ctx context.Context, entityType domain.EntityType, id, remoteID string) mirrorsync.Outcome {
	f.calls = append(f.calls, "bind:"+string(entityType)+":"+id+"="+remoteID)
	out := f.outcome
	out.EntityType, out.EntityID, out.Action = entityType, id, domain.SyncActionBind
	if out.Err == nil {
		out.RemoteID = remoteID
	}
	return out
}

func (f *fakeSyncer) Status(ctx context.Context, entityType domain.EntityType, id string, limit int) (*domain.RemoteLinkage, []domain.SyncLogEntry, error) {
	f.lastSize = limit
	return f.linkage, f.log, nil
}

type fixture struct {
	mux    *http.ServeMux
	store  *memory.Store
	syncer *fakeSyncer
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  memory.NewStore(),
		syncer: &fakeSyncer{},
		now:    time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	f.store.PutEmployee(domain.Employee{ID: "emp-1", Name: "Ada", ProjectIDs: []string{"p1"}})
	f.store.PutProject(domain.Project{ID: "p1", Name: "Apollo"})
	f.store.PutTask(domain.Task{ID: "t1", ProjectID: "p1", Name: "Design"})
	f.store.PutTask(domain.Task{ID: "t2", ProjectID: "p1", Name: "Review", EmployeeIDs: []string{"emp-2"}})

	service := domain.NewService(f.store, domain.WithClock(clock))
	handler := NewHandler(service, f.store, f.syncer, logging.Discard())
	handler.now = clock
	f.mux = http.NewServeMux()
	handler.RegisterRoutes(f.mux)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any, subject string, scopes ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if subject != "" {
		set := make(map[string]struct{}, len(scopes))
		for _, s := range scopes {
			set[s] = struct{}{}
		}
		req = req.WithContext(auth.WithClaims(req.Context(), &auth.Claims{
			Subject:   subject,
			Scopes:    set,
			ExpiresAt: f.now.Add(time.Hour),
		}))
	}
	rr := httptest.NewRecorder()
	f.mux.ServeHTTP(rr, req)
	return rr
}

func decodeJSON[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func errorType(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	return decodeJSON[map[string]string](t, rr)["type"]
}

var writer = []string{auth.ScopeTimerRead, auth.ScopeTimerWrite}

func TestTimerStartStopFlow(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/v1/timer/start", StartTimerRequest{ProjectID: "p1", TaskID: "t1"}, "emp-1", writer...)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	started := decodeJSON[TimeEntryView](t, rr)
	require.True(t, started.Active)
	require.Equal(t, "emp-1", started.EmployeeID)

	rr = f.do(t, http.MethodPost, "/v1/timer/start", StartTimerRequest{ProjectID: "p1", TaskID: "t1"}, "emp-1", writer...)
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, "already_active", errorType(t, rr))

	f.now = f.now.Add(90 * time.Second)
	rr = f.do(t, http.MethodGet, "/v1/timer/active", nil, "emp-1", writer...)
	require.Equal(t, http.StatusOK, rr.Code)
	active := decodeJSON[ActiveTimerResponse](t, rr)
	require.NotNil(t, active.Entry)
	require.Equal(t, started.ID, active.Entry.ID)
	require.Equal(t, int64(90), active.Entry.ElapsedSeconds)
	require.True(t, f.now.Equal(active.ServerTime))

	rr = f.do(t, http.MethodPost, "/v1/timer/stop", nil, "emp-1", writer...)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	stopped := decodeJSON[TimeEntryView](t, rr)
	require.False(t, stopped.Active)
	require.Equal(t, int64(90), *stopped.DurationSeconds)

	rr = f.do(t, http.MethodPost, "/v1/timer/stop", nil, "emp-1", writer...)
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, "no_active_entry", errorType(t, rr))

	rr = f.do(t, http.MethodGet, "/v1/timer/active", nil, "emp-1", writer...)
	require.Nil(t, decodeJSON[ActiveTimerResponse](t, rr).Entry)
}

func TestTimerRequiresClaimsAndScopes(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/v1/timer/start", StartTimerRequest{ProjectID: "p1", TaskID: "t1"}, "")
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = f.do(t, http.MethodPost, "/v1/timer/start", StartTimerRequest{ProjectID: "p1", TaskID: "t1"}, "emp-1", auth.ScopeTimerRead)
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = f.do(t, http.MethodGet, "/v1/timer/start", nil, "emp-1", writer...)
	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestActingForAnotherEmployeeNeedsAdmin(t *testing.T) {
	f := newFixture(t)
	req := StartTimerRequest{EmployeeID: "emp-2", ProjectID: "p1", TaskID: "t2"}

	rr := f.do(t, http.MethodPost, "/v1/timer/start", req, "emp-1", writer...)
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = f.do(t, http.MethodPost, "/v1/timer/start", req, "ops", auth.ScopeTimerAdmin)
	require.Equal(t, http.StatusCreated, rr.Code)
	require.Equal(t, "emp-2", decodeJSON[TimeEntryView](t, rr).EmployeeID)
}

func TestStartValidation(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/v1/timer/start", StartTimerRequest{ProjectID: "p1"}, "emp-1", writer...)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "validation_failed", errorType(t, rr))

	rr = f.do(t, http.MethodPost, "/v1/timer/start", map[string]string{"project": "p1"}, "emp-1", writer...)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "invalid_request", errorType(t, rr))
}

func TestManualEntriesAndListing(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		start := base.Add(time.Duration(i) * 24 * time.Hour)
		rr := f.do(t, http.MethodPost, "/v1/time-entries", CreateManualEntryRequest{
			ProjectID: "p1", TaskID: "t1", StartedAt: start, EndedAt: start.Add(2 * time.Hour),
		}, "emp-1", writer...)
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
		require.Equal(t, int64(7200), *decodeJSON[TimeEntryView](t, rr).DurationSeconds)
	}

	rr := f.do(t, http.MethodGet, "/v1/time-entries?limit=2", nil, "emp-1", writer...)
	require.Equal(t, http.StatusOK, rr.Code)
	page := decodeJSON[ListTimeEntriesResponse](t, rr)
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.NextCursor)
	require.True(t, page.Items[0].StartedAt.After(page.Items[1].StartedAt))

	rr = f.do(t, http.MethodGet, "/v1/time-entries?limit=2&cursor="+page.NextCursor, nil, "emp-1", writer...)
	rest := decodeJSON[ListTimeEntriesResponse](t, rr)
	require.Len(t, rest.Items, 1)
	require.Empty(t, rest.NextCursor)

	from := base.Add(12 * time.Hour).Format(time.RFC3339)
	rr = f.do(t, http.MethodGet, "/v1/time-entries?from="+from, nil, "emp-1", writer...)
	require.Len(t, decodeJSON[ListTimeEntriesResponse](t, rr).Items, 2)

	rr = f.do(t, http.MethodGet, "/v1/time-entries?from=yesterday", nil, "emp-1", writer...)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, http.MethodGet, "/v1/time-entries?cursor=not-a-cursor!", nil, "emp-1", writer...)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestManualEntryRejectsInvertedRange(t *testing.T) {
	f := newFixture(t)
	start := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	rr := f.do(t, http.MethodPost, "/v1/time-entries", CreateManualEntryRequest{
		ProjectID: "p1", TaskID: "t1", StartedAt: start, EndedAt: start.Add(-time.Hour),
	}, "emp-1", writer...)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "invalid_range", errorType(t, rr))

	rr = f.do(t, http.MethodPost, "/v1/time-entries", CreateManualEntryRequest{ProjectID: "p1", TaskID: "t1"}, "emp-1", writer...)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestUpdateTimeEntry(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, http.MethodPost, "/v1/timer/start", StartTimerRequest{ProjectID: "p1", TaskID: "t1"}, "emp-1", writer...)
	id := decodeJSON[TimeEntryView](t, rr).ID

	rr = f.do(t, http.MethodPut, "/v1/time-entries/"+id, nil, "emp-2", writer...)
	require.Equal(t, http.StatusNotFound, rr.Code, "entries of other employees are hidden")

	end := f.now.Add(30 * time.Minute)
	rr = f.do(t, http.MethodPut, "/v1/time-entries/"+id, UpdateTimeEntryRequest{EndedAt: &end}, "emp-1", writer...)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, int64(1800), *decodeJSON[TimeEntryView](t, rr).DurationSeconds)

	rr = f.do(t, http.MethodPut, "/v1/time-entries/"+id, UpdateTimeEntryRequest{EndedAt: &end}, "emp-1", writer...)
	require.Equal(t, http.StatusOK, rr.Code, "repeating the same end is idempotent")

	later := end.Add(time.Minute)
	rr = f.do(t, http.MethodPut, "/v1/time-entries/"+id, UpdateTimeEntryRequest{EndedAt: &later}, "emp-1", writer...)
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, "entry_closed", errorType(t, rr))

	rr = f.do(t, http.MethodGet, "/v1/time-entries/"+id, nil, "emp-1", writer...)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = f.do(t, http.MethodGet, "/v1/time-entries/missing", nil, "emp-1", writer...)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAssignmentsAndDevices(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodGet, "/v1/assignments", nil, "emp-1", writer...)
	require.Equal(t, http.StatusOK, rr.Code)
	resp := decodeJSON[AssignmentsResponse](t, rr)
	require.Len(t, resp.Items, 1)
	require.Equal(t, "Apollo", resp.Items[0].Project.Name)
	require.Len(t, resp.Items[0].Tasks, 1, "t2 is restricted to emp-2")

	rr = f.do(t, http.MethodPost, "/v1/devices", DeviceHeartbeatRequest{
		MACAddress: "AA:BB:CC", Hostname: "laptop", Info: map[string]any{"os": "linux"},
	}, "emp-1", writer...)
	require.Equal(t, http.StatusNoContent, rr.Code)
	devices := f.store.Devices("emp-1")
	require.Len(t, devices, 1)
	require.Equal(t, "laptop", devices[0].Hostname)
	require.True(t, f.now.Equal(devices[0].LastSeen))

	rr = f.do(t, http.MethodPost, "/v1/devices", DeviceHeartbeatRequest{Hostname: "laptop"}, "emp-1", writer...)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSyncEndpointStatusCodes(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		class  string
	}{
		{"success", nil, http.StatusOK, ""},
		{"dependency", &mirrorsync.DependencyError{EntityType: domain.EntityTimeEntry, EntityID: "te-1", Missing: []string{"task:t1"}}, http.StatusConflict, "dependency"},
		{"rate limited", &mirror.APIError{StatusCode: http.StatusTooManyRequests}, http.StatusTooManyRequests, "rate_limited"},
		{"local missing", mirrorsync.ErrEntityNotFound, http.StatusNotFound, "not_found"},
		{"remote rejected", errors.New("boom"), http.StatusBadGateway, "internal"},
		{"unconfirmed create", fmt.Errorf("te-1: %w", mirrorsync.ErrUnconfirmedCreate), http.StatusConflict, "unconfirmed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.syncer.outcome = mirrorsync.Outcome{RemoteID: "r-1", Action: domain.SyncActionCreate, Err: tc.err}

			rr := f.do(t, http.MethodPost, "/v1/sync", SyncRequest{EntityType: "timeEntry", EntityID: "te-1"}, "ops", auth.ScopeSyncWrite)
			require.Equal(t, tc.status, rr.Code, rr.Body.String())
			resp := decodeJSON[SyncResponse](t, rr)
			require.Equal(t, "time_entry", resp.EntityType)
			require.Equal(t, tc.class, resp.Type)
			require.Equal(t, []string{"time_entry:te-1"}, f.syncer.calls)
			if tc.class == "dependency" {
				require.Equal(t, []string{"task:t1"}, resp.Missing)
			}
		})
	}
}

func TestSyncEndpointValidation(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/v1/sync", SyncRequest{EntityType: "invoice", EntityID: "x"}, "ops", auth.ScopeSyncWrite)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, http.MethodPost, "/v1/sync", SyncRequest{EntityType: "employee"}, "ops", auth.ScopeSyncWrite)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, http.MethodPost, "/v1/sync", SyncRequest{EntityType: "employee", EntityID: "e1"}, "emp-1", writer...)
	require.Equal(t, http.StatusForbidden, rr.Code)
	require.Empty(t, f.syncer.calls)
}

func TestSyncAll(t *testing.T) {
	f := newFixture(t)
	f.syncer.batch = mirrorsync.BatchResult{SyncedCount: 2, DegradedCount: 1, FailedCount: 1, Errors: []string{"employee e3: boom"}}

	rr := f.do(t, http.MethodPost, "/v1/sync/all", SyncAllRequest{Scope: "projects"}, "ops", auth.ScopeSyncWrite)
	require.Equal(t, http.StatusOK, rr.Code)
	result := decodeJSON[mirrorsync.BatchResult](t, rr)
	require.Equal(t, 2, result.SyncedCount)
	require.Equal(t, 1, result.DegradedCount)
	require.Equal(t, []string{"all:projects"}, f.syncer.calls)

	rr = f.do(t, http.MethodPost, "/v1/sync/all", SyncAllRequest{Scope: "tasks"}, "ops", auth.ScopeSyncWrite)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, []string{"all:projects", "all:tasks"}, f.syncer.calls)

	rr = f.do(t, http.MethodPost, "/v1/sync/all", SyncAllRequest{Scope: "screenshots"}, "ops", auth.ScopeSyncWrite)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSyncBind(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/v1/sync/bind", BindRequest{EntityType: "employee", EntityID: "e1", RemoteID: "emp-77"}, "ops", auth.ScopeSyncWrite)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	resp := decodeJSON[SyncResponse](t, rr)
	require.Equal(t, "emp-77", resp.RemoteID)
	require.Equal(t, "bind", resp.Action)
	require.Equal(t, []string{"bind:employee:e1=emp-77"}, f.syncer.calls)

	f.syncer.outcome = mirrorsync.Outcome{Err: fmt.Errorf("e1: %w", mirrorsync.ErrLinkageConflict)}
	rr = f.do(t, http.MethodPost, "/v1/sync/bind", BindRequest{EntityType: "employee", EntityID: "e1", RemoteID: "other"}, "ops", auth.ScopeSyncWrite)
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = f.do(t, http.MethodPost, "/v1/sync/bind", BindRequest{EntityType: "employee", RemoteID: "x"}, "ops", auth.ScopeSyncWrite)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, http.MethodPost, "/v1/sync/bind", BindRequest{EntityType: "employee", EntityID: "e1", RemoteID: "x"}, "emp-1", writer...)
	require.Equal(t, http.StatusForbidden, rr.Code)
}

func TestSyncStatus(t *testing.T) {
	f := newFixture(t)
	synced := f.now.Add(-time.Minute)
	f.syncer.linkage = &domain.RemoteLinkage{RemoteID: "degraded:abc", LastSyncedAt: &synced, LastSyncStatus: domain.SyncStatusDegraded}
	f.syncer.log = []domain.SyncLogEntry{{Action: domain.SyncActionCreate, Status: domain.SyncStatusDegraded, CreatedAt: synced}}

	rr := f.do(t, http.MethodGet, "/v1/sync/status?entity_type=employee&entity_id=e1&limit=500", nil, "ops", auth.ScopeSyncRead)
	require.Equal(t, http.StatusOK, rr.Code)
	resp := decodeJSON[SyncStatusResponse](t, rr)
	require.True(t, resp.Linkage.Placeholder)
	require.Len(t, resp.Log, 1)
	require.Equal(t, 200, f.syncer.lastSize)

	rr = f.do(t, http.MethodGet, "/v1/sync/status?entity_type=employee", nil, "ops", auth.ScopeSyncRead)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, http.MethodGet, "/healthz", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok", rr.Body.String())
}
