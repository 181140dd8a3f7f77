package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(Config{BaseURL: srv.URL, Token: "secret-token", Timeout: 2 * time.Second})
	require.NoError(t, err)
	return client
}

func TestNewClientRequiresToken(t *testing.T) {
	_, err := NewClient(Config{})
	require.ErrorIs(t, err, ErrMissingToken)
}

func TestCreateEmployeeSendsBearerAndCamelCase(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/employee", r.URL.Path)
		require.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "Ada", body["name"])
		require.Equal(t, "ada@example.com", body["email"])
		require.NotContains(t, body, "teamsId")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"rem-1","name":"Ada","organizationId":"org","createdAt":1700000000000}`))
	})

	emp, err := client.CreateEmployee(context.Background(), EmployeeInput{Name: "Ada", Email: "ada@example.com"})
	require.NoError(t, err)
	require.Equal(t, "rem-1", emp.ID)
	require.Equal(t, time.UnixMilli(1700000000000).UTC(), emp.CreatedAt.Time())
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		status    int
		want      error
		retryable bool
	}{
		{http.StatusTooManyRequests, ErrRateLimited, true},
		{http.StatusUnauthorized, ErrUnauthorized, false},
		{http.StatusForbidden, ErrUnauthorized, false},
		{http.StatusNotFound, ErrNotFound, false},
		{http.StatusUnprocessableEntity, ErrValidation, false},
		{http.StatusBadGateway, ErrServer, true},
	}
	for _, tc := range cases {
		status := tc.status
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if status == http.StatusTooManyRequests {
				w.Header().Set("Retry-After", "7")
			}
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"message":"nope"}`))
		})

		_, err := client.GetProject(context.Background(), "p1")
		require.ErrorIs(t, err, tc.want, "status %d", status)
		require.Equal(t, tc.retryable, Retryable(err), "status %d", status)

		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		require.Equal(t, status, apiErr.StatusCode)
		require.Equal(t, "nope", apiErr.Message)
		if status == http.StatusTooManyRequests {
			require.Equal(t, 7*time.Second, apiErr.RetryAfter)
		}
	}
}

func TestTransportErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL, Token: "t"})
	require.NoError(t, err)

	_, err = client.GetEmployees(context.Background())
	var transport *TransportError
	require.ErrorAs(t, err, &transport)
	require.True(t, Retryable(err))
}

func TestTimeoutIsTransportError(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	client, err := NewClient(Config{BaseURL: srv.URL, Token: "t", Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	_, err = client.GetTasks(context.Background(), "")
	var transport *TransportError
	require.ErrorAs(t, err, &transport)
	require.True(t, transport.Timeout())
}

func TestTimeEntryWireFormat(t *testing.T) {
	start := time.Date(2024, 5, 1, 8, 30, 0, 123_000_000, time.UTC)
	end := start.Add(45 * time.Minute)

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/window", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "emp-r", body["employeeId"])
		require.Equal(t, "proj-r", body["projectId"])
		require.Equal(t, "task-r", body["taskId"])
		require.Equal(t, float64(start.UnixMilli()), body["start"])
		require.Equal(t, float64(end.UnixMilli()), body["end"])
		require.Equal(t, "Europe/Berlin", body["timezone"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "win-1", "employeeId": "emp-r", "projectId": "proj-r", "taskId": "task-r",
			"start": body["start"], "end": body["end"], "duration": 2700,
		})
	})

	endMs := ToEpochMillis(end)
	entry, err := client.CreateManualTimeEntry(context.Background(), TimeEntryInput{
		EmployeeID: "emp-r", ProjectID: "proj-r", TaskID: "task-r",
		Start: ToEpochMillis(start), End: &endMs, Timezone: "Europe/Berlin",
	})
	require.NoError(t, err)

	gotStart, gotEnd := entry.Interval()
	require.True(t, start.Equal(gotStart))
	require.NotNil(t, gotEnd)
	require.True(t, end.Equal(*gotEnd))
}

func TestCreateManualTimeEntryRequiresEnd(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})
	_, err := client.CreateManualTimeEntry(context.Background(), TimeEntryInput{EmployeeID: "e"})
	require.ErrorIs(t, err, ErrValidation)
}

func TestStopTimeEntrySendsEnd(t *testing.T) {
	end := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/window/win-9", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		require.JSONEq(t, `{"end":1714554000000}`, string(raw))
		_, _ = w.Write([]byte(`{"id":"win-9","start":"1714550400000","end":1714554000000}`))
	})

	entry, err := client.StopTimeEntry(context.Background(), "win-9", end)
	require.NoError(t, err)
	require.Equal(t, EpochMillis(1714550400000), entry.Start)
}

func TestGetTimeEntriesFilterQuery(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		require.Equal(t, "1704067200000", q.Get("start"))
		require.Equal(t, "1704153600000", q.Get("end"))
		require.Equal(t, "emp-1", q.Get("employeeId"))
		require.Empty(t, q.Get("teamId"))
		_, _ = w.Write([]byte(`[]`))
	})

	entries, err := client.GetTimeEntries(context.Background(), Filter{Start: from, End: to, EmployeeID: "emp-1"})
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestUploadScreenshotMultipart(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.Equal(t, "emp-r", r.FormValue("employeeId"))
		require.JSONEq(t, `{"projectId":"proj-r"}`, r.FormValue("metadata"))

		file, header, err := r.FormFile("screenshot")
		require.NoError(t, err)
		defer file.Close()
		require.Equal(t, "shot.png", header.Filename)
		data, _ := io.ReadAll(file)
		require.Equal(t, "PNGDATA", string(data))

		_, _ = w.Write([]byte(`{"id":"shot-r","employeeId":"emp-r"}`))
	})

	shot, err := client.UploadScreenshot(context.Background(), ScreenshotUpload{
		EmployeeID: "emp-r",
		Image:      strings.NewReader("PNGDATA"),
		Filename:   "shot.png",
		Metadata:   &ScreenshotMetadata{ProjectID: "proj-r"},
	})
	require.NoError(t, err)
	require.Equal(t, "shot-r", shot.ID)
}

func TestEpochMillisRoundTrip(t *testing.T) {
	ts := time.Date(2023, 11, 14, 22, 13, 20, 999_999_999, time.FixedZone("X", 3600))
	ms := ToEpochMillis(ts)
	require.Equal(t, ts.Truncate(time.Millisecond).UTC(), FromEpochMillis(ms))

	var decoded struct {
		A EpochMillis `json:"a"`
		B EpochMillis `json:"b"`
		C EpochMillis `json:"c"`
		D EpochMillis `json:"d"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":1700000000000,"b":"1700000000000","c":"2023-11-14T22:13:20Z","d":null}`), &decoded))
	require.Equal(t, EpochMillis(1700000000000), decoded.A)
	require.Equal(t, EpochMillis(1700000000000), decoded.B)
	require.Equal(t, EpochMillis(1700000000000), decoded.C)
	require.Equal(t, EpochMillis(0), decoded.D)
}

func TestProjectArchiveAndDefaultTask(t *testing.T) {
	var paths []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		if r.URL.Path == "/task" {
			var body TaskInput
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Equal(t, "Default Task - Apollo", body.Name)
			require.Equal(t, "rem-p1", body.ProjectID)
			require.True(t, body.Billable)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"rem-t1","name":"Default Task - Apollo","projectId":"rem-p1"}`))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	ctx := context.Background()

	require.NoError(t, client.ArchiveProject(ctx, "rem-p1"))
	require.NoError(t, client.UnarchiveProject(ctx, "rem-p1"))
	task, err := client.CreateDefaultTask(ctx, "rem-p1", "Apollo")
	require.NoError(t, err)
	require.Equal(t, "rem-t1", task.ID)

	require.Equal(t, []string{
		"GET /project/archive/rem-p1",
		"GET /project/unarchive/rem-p1",
		"POST /task",
	}, paths)
}

func TestResourceEndpoints(t *testing.T) {
	window := Filter{Start: time.UnixMilli(1704067200000), End: time.UnixMilli(1704153600000), ProjectID: "proj-1"}
	cases := []struct {
		name   string
		method string
		path   string
		query  string
		reply  string
		call   func(ctx context.Context, c *Client) (any, error)
		check  func(t *testing.T, got any)
	}{
		{
			name: "deactivate employee", method: http.MethodGet, path: "/employee/deactivate/emp-1",
			reply: `{"id":"emp-1","deactivated":1704067200000}`,
			call:  func(ctx context.Context, c *Client) (any, error) { return c.DeactivateEmployee(ctx, "emp-1") },
			check: func(t *testing.T, got any) {
				emp := got.(*Employee)
				require.Equal(t, "emp-1", emp.ID)
				require.Equal(t, EpochMillis(1704067200000), emp.Deactivated)
			},
		},
		{
			name: "activate employee", method: http.MethodGet, path: "/employee/activate/emp-1",
			reply: `{"id":"emp-1","deactivated":null}`,
			call:  func(ctx context.Context, c *Client) (any, error) { return c.ActivateEmployee(ctx, "emp-1") },
			check: func(t *testing.T, got any) {
				emp := got.(*Employee)
				require.Equal(t, "emp-1", emp.ID)
				require.Zero(t, emp.Deactivated)
			},
		},
		{
			name: "list projects", method: http.MethodGet, path: "/project",
			reply: `[{"id":"proj-1","name":"Apollo","archived":false},{"id":"proj-2","name":"Gemini","archived":true}]`,
			call:  func(ctx context.Context, c *Client) (any, error) { return c.GetProjects(ctx) },
			check: func(t *testing.T, got any) {
				projects := got.([]Project)
				require.Len(t, projects, 2)
				require.Equal(t, "proj-1", projects[0].ID)
				require.True(t, projects[1].Archived)
			},
		},
		{
			name: "delete project", method: http.MethodDelete, path: "/project/proj-1",
			call: func(ctx context.Context, c *Client) (any, error) { return nil, c.DeleteProject(ctx, "proj-1") },
		},
		{
			name: "delete task", method: http.MethodDelete, path: "/task/task-1",
			call: func(ctx context.Context, c *Client) (any, error) { return nil, c.DeleteTask(ctx, "task-1") },
		},
		{
			name: "list screenshots", method: http.MethodGet, path: "/screenshot",
			query: "end=1704153600000&projectId=proj-1&start=1704067200000",
			reply: `[{"id":"shot-1","employeeId":"emp-1"}]`,
			call:  func(ctx context.Context, c *Client) (any, error) { return c.GetScreenshots(ctx, window) },
			check: func(t *testing.T, got any) {
				shots := got.([]Screenshot)
				require.Len(t, shots, 1)
				require.Equal(t, "shot-1", shots[0].ID)
				require.Equal(t, "emp-1", shots[0].EmployeeID)
			},
		},
		{
			name: "delete screenshot", method: http.MethodDelete, path: "/screenshot/shot-1",
			call: func(ctx context.Context, c *Client) (any, error) { return nil, c.DeleteScreenshot(ctx, "shot-1") },
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, tc.method, r.Method)
				require.Equal(t, tc.path, r.URL.Path)
				require.Equal(t, tc.query, r.URL.Query().Encode())
				require.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))
				if tc.reply == "" {
					w.WriteHeader(http.StatusNoContent)
					return
				}
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tc.reply))
			})

			got, err := tc.call(context.Background(), client)
			require.NoError(t, err)
			if tc.check != nil {
				tc.check(t, got)
			}
		})
	}
}

func TestUndecodableSuccessIsNotRetryable(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"emp-9","name":`))
	})

	_, err := client.CreateEmployee(context.Background(), EmployeeInput{Name: "Ada"})
	var decode *DecodeError
	require.ErrorAs(t, err, &decode)
	require.Equal(t, http.StatusCreated, decode.StatusCode)
	require.Equal(t, "/employee", decode.Path)
	require.Equal(t, `{"id":"emp-9","name":`, string(decode.Body))
	require.False(t, Retryable(err))

	var transport *TransportError
	require.False(t, errors.As(err, &transport))
}
