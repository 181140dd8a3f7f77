package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MayankBharati/solidtracker/internal/api"
)

func TestClientSendsBearerAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/v1/timer/start":
			require.Equal(t, http.MethodPost, r.Method)
			var req api.StartTimerRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Equal(t, "p1", req.ProjectID)
			require.Equal(t, "t1", req.TaskID)
			_ = json.NewEncoder(w).Encode(api.TimeEntryView{ID: "te-1", TaskID: "t1", Active: true})
		case "/v1/time-entries":
			require.Equal(t, "2024-04-02T00:00:00Z", r.URL.Query().Get("from"))
			require.Equal(t, "50", r.URL.Query().Get("limit"))
			_ = json.NewEncoder(w).Encode(api.ListTimeEntriesResponse{Items: []api.TimeEntryView{{ID: "te-0"}}})
		case "/v1/devices":
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/", "tok", nil)
	ctx := context.Background()

	entry, err := client.Start(ctx, "p1", "t1")
	require.NoError(t, err)
	require.Equal(t, "te-1", entry.ID)

	entries, err := client.Entries(ctx, time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC), 50)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.NoError(t, client.Heartbeat(ctx, api.DeviceHeartbeatRequest{MACAddress: "aa:bb", Hostname: "laptop"}))
}

func TestClientMapsErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"type":"already_active","detail":"employee already has an active time entry"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", nil).Start(context.Background(), "p1", "t1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusConflict, apiErr.StatusCode)
	require.Equal(t, "already_active", apiErr.Type)
	require.Equal(t, "employee already has an active time entry", apiErr.Detail)
}

func TestClientSyncKeepsOutcomeOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/sync", r.URL.Path)
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(api.SyncResponse{
			EntityType: "task",
			EntityID:   "t1",
			Status:     "failed",
			Type:       "dependency",
			Detail:     "dependency not synced",
			Missing:    []string{"project:p1"},
		})
	}))
	defer srv.Close()

	resp, err := NewClient(srv.URL, "tok", nil).Sync(context.Background(), "task", "t1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "dependency", apiErr.Type)
	require.Equal(t, []string{"project:p1"}, resp.Missing)
}

func TestClientSyncStatusQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		require.Equal(t, "employee", q.Get("entity_type"))
		require.Equal(t, "e1", q.Get("entity_id"))
		require.Equal(t, "5", q.Get("limit"))
		_ = json.NewEncoder(w).Encode(api.SyncStatusResponse{
			EntityType: "employee",
			EntityID:   "e1",
			Linkage:    &api.LinkageView{RemoteID: "rem-1", LastSyncStatus: "success"},
			Log:        []api.SyncLogView{{Action: "create", Status: "success"}},
		})
	}))
	defer srv.Close()

	status, err := NewClient(srv.URL, "tok", nil).SyncStatus(context.Background(), "employee", "e1", 5)
	require.NoError(t, err)
	require.Equal(t, "rem-1", status.Linkage.RemoteID)
	require.Len(t, status.Log, 1)
}

func TestClientBindPostsRemoteID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/sync/bind", r.URL.Path)
		var req api.BindRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, api.BindRequest{EntityType: "employee", EntityID: "e1", RemoteID: "emp-77"}, req)
		_ = json.NewEncoder(w).Encode(api.SyncResponse{EntityType: "employee", EntityID: "e1", RemoteID: "emp-77", Action: "bind", Status: "success"})
	}))
	defer srv.Close()

	resp, err := NewClient(srv.URL, "tok", nil).Bind(context.Background(), "employee", "e1", "emp-77")
	require.NoError(t, err)
	require.Equal(t, "emp-77", resp.RemoteID)
	require.Equal(t, "bind", resp.Action)
}
