//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/MayankBharati/solidtracker/internal/domain"
	"github.com/MayankBharati/solidtracker/internal/persistence/postgres"
	"github.com/MayankBharati/solidtracker/internal/testsupport"
)

func seedCatalog(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	stmts := []string{
		`INSERT INTO employees (employee_id, name, email) VALUES ('e1','Ada','ada@example.com'), ('e2','Grace','grace@example.com')`,
		`INSERT INTO employees (employee_id, name, email, status) VALUES ('e3','Old','old@example.com','inactive')`,
		`INSERT INTO projects (project_id, name, description) VALUES ('p1','Apollo','moon'), ('p2','Gemini','')`,
		`INSERT INTO project_assignments (project_id, employee_id) VALUES ('p1','e1'), ('p2','e1'), ('p2','e2')`,
		`INSERT INTO tasks (task_id, project_id, name) VALUES ('t1','p1','Design'), ('t2','p2','Build'), ('t3','p2','Review')`,
		`INSERT INTO task_assignments (task_id, employee_id) VALUES ('t3','e2')`,
	}
	for _, stmt := range stmts {
		_, err := pool.Exec(ctx, stmt)
		require.NoError(t, err)
	}
}

func newRepo(t *testing.T) (*postgres.Repository, *pgxpool.Pool) {
	t.Helper()
	ctx := context.Background()
	pool := testsupport.StartPostgres(ctx, t)
	seedCatalog(t, ctx, pool)
	return postgres.NewRepository(pool), pool
}

func TestRepositoryTimerLifecycle(t *testing.T) {
	ctx := context.Background()
	repo, pool := newRepo(t)

	now := time.Date(2024, 4, 2, 9, 0, 0, 0, time.UTC)
	svc := domain.NewService(repo, domain.WithClock(func() time.Time { return now }))

	started, err := svc.Start(ctx, domain.StartInput{EmployeeID: "e1", ProjectID: "p1", TaskID: "t1"})
	require.NoError(t, err)

	_, err = svc.Start(ctx, domain.StartInput{EmployeeID: "e1", ProjectID: "p2", TaskID: "t2"})
	require.ErrorIs(t, err, domain.ErrAlreadyActive)

	active, err := svc.GetActive(ctx, "e1")
	require.NoError(t, err)
	require.Equal(t, started.ID, active.ID)

	now = now.Add(25 * time.Minute)
	stopped, err := svc.Stop(ctx, "e1")
	require.NoError(t, err)
	require.Equal(t, int64(25*60), *stopped.DurationSeconds)

	_, err = svc.Stop(ctx, "e1")
	require.ErrorIs(t, err, domain.ErrNoActiveEntry)

	var events []string
	rows, err := pool.Query(ctx, `SELECT event_type FROM outbox WHERE aggregate_id = $1 ORDER BY event_id`, started.ID)
	require.NoError(t, err)
	for rows.Next() {
		var e string
		require.NoError(t, rows.Scan(&e))
		events = append(events, e)
	}
	require.NoError(t, rows.Err())
	require.Equal(t, []string{"time_entry.started", "time_entry.stopped"}, events)
}

func TestRepositoryConcurrentStartsAllowOne(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepo(t)
	svc := domain.NewService(repo)

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Start(ctx, domain.StartInput{EmployeeID: "e2", ProjectID: "p2", TaskID: "t2"})
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		require.ErrorIs(t, err, domain.ErrAlreadyActive)
	}
	require.Equal(t, 1, ok)
}

func TestRepositoryUnknownReferenceIsValidationError(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepo(t)
	svc := domain.NewService(repo)

	_, err := svc.Start(ctx, domain.StartInput{EmployeeID: "e1", ProjectID: "p1", TaskID: "missing"})
	var validation *domain.ValidationError
	require.True(t, errors.As(err, &validation))
}

func TestRepositoryListPagination(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepo(t)
	base := time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC)
	svc := domain.NewService(repo, domain.WithClock(func() time.Time { return base.Add(48 * time.Hour) }))

	for i := 0; i < 5; i++ {
		start := base.Add(time.Duration(i) * time.Hour)
		_, err := svc.CreateManual(ctx, domain.ManualEntryInput{
			EmployeeID: "e1", ProjectID: "p1", TaskID: "t1",
			Start: start, End: start.Add(30 * time.Minute),
		})
		require.NoError(t, err)
	}

	page, cursor, err := svc.ListForEmployee(ctx, "e1", domain.TimeRange{}, nil, 3)
	require.NoError(t, err)
	require.Len(t, page, 3)
	require.NotNil(t, cursor)
	require.True(t, page[0].StartedAt.After(page[1].StartedAt))

	rest, _, err := svc.ListForEmployee(ctx, "e1", domain.TimeRange{}, cursor, 3)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	require.True(t, rest[0].StartedAt.Before(page[2].StartedAt))

	window, _, err := svc.ListForEmployee(ctx, "e1", domain.TimeRange{From: base.Add(time.Hour), To: base.Add(3 * time.Hour)}, nil, 10)
	require.NoError(t, err)
	require.Len(t, window, 2)
}

func TestRepositoryEntitiesAndAssignments(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepo(t)

	emp, err := repo.GetEmployee(ctx, "e1")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"p1", "p2"}, emp.ProjectIDs)

	missing, err := repo.GetEmployee(ctx, "nobody")
	require.NoError(t, err)
	require.Nil(t, missing)

	ids, err := repo.ListEmployeeIDs(ctx, domain.StatusActive)
	require.NoError(t, err)
	require.Equal(t, []string{"e1", "e2"}, ids)

	assignments, err := repo.ListAssignments(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, assignments, 2)
	for _, a := range assignments {
		for _, task := range a.Tasks {
			require.NotEqual(t, "t3", task.ID, "t3 is restricted to e2")
		}
	}

	require.NoError(t, repo.UpsertDevice(ctx, domain.Device{EmployeeID: "e1", MACAddress: "aa:bb", Hostname: "laptop", Info: map[string]any{"os": "linux"}}))
	require.NoError(t, repo.UpsertDevice(ctx, domain.Device{EmployeeID: "e1", MACAddress: "aa:bb", Hostname: "laptop-2"}))
}

func TestRepositoryTaskListings(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepo(t)

	ids, err := repo.ListTaskIDs(ctx, domain.StatusActive)
	require.NoError(t, err)
	require.Equal(t, []string{"t1", "t2", "t3"}, ids)

	tasks, err := repo.ListProjectTasks(ctx, "p2")
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	require.Equal(t, "t2", tasks[0].ID)
	require.Equal(t, []string{"e2"}, tasks[1].EmployeeIDs)

	none, err := repo.ListProjectTasks(ctx, "nope")
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestRepositoryBindRemoteIDIsCompareAndSet(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepo(t)

	link, err := repo.EnsureLinkage(ctx, domain.EntityProject, "p1")
	require.NoError(t, err)
	require.Empty(t, link.RemoteID)

	bound, err := repo.BindRemoteID(ctx, domain.EntityProject, "p1", "", "rem-1")
	require.NoError(t, err)
	require.Equal(t, "rem-1", bound)

	bound, err = repo.BindRemoteID(ctx, domain.EntityProject, "p1", "", "rem-2")
	require.NoError(t, err)
	require.Equal(t, "rem-1", bound, "a stale expectation must not overwrite")

	bound, err = repo.BindRemoteID(ctx, domain.EntityProject, "p1", "rem-1", "rem-3")
	require.NoError(t, err)
	require.Equal(t, "rem-3", bound)

	remote, err := repo.RemoteIDs(ctx, domain.EntityProject, []string{"p1", "p2"})
	require.NoError(t, err)
	require.Equal(t, map[string]string{"p1": "rem-3"}, remote)

	at := time.Date(2024, 4, 2, 10, 0, 0, 0, time.UTC)
	require.NoError(t, repo.RecordAttempt(ctx, domain.EntityProject, "p1", domain.SyncStatusSuccess, "", at))
	link, err = repo.GetLinkage(ctx, domain.EntityProject, "p1")
	require.NoError(t, err)
	require.Equal(t, domain.SyncStatusSuccess, link.LastSyncStatus)
	require.True(t, at.Equal(*link.LastSyncedAt))
}

func TestRepositoryLockEntitySerialises(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepo(t)

	unlock, err := repo.LockEntity(ctx, domain.EntityEmployee, "e1")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		second, err := repo.LockEntity(ctx, domain.EntityEmployee, "e1")
		if err == nil {
			close(acquired)
			second()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while first held")
	case <-time.After(200 * time.Millisecond):
	}

	other, err := repo.LockEntity(ctx, domain.EntityEmployee, "e2")
	require.NoError(t, err)
	other()

	unlock()
	select {
	case <-acquired:
	case <-time.After(5 * time.Second):
		t.Fatal("second lock never acquired")
	}
}

func TestRepositorySyncLogNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepo(t)

	for _, action := range []domain.SyncAction{domain.SyncActionCreate, domain.SyncActionUpdate} {
		require.NoError(t, repo.AppendSyncLog(ctx, domain.SyncLogEntry{
			EntityType:       domain.EntityEmployee,
			EntityID:         "e1",
			RemoteID:         "rem-1",
			Action:           action,
			Status:           domain.SyncStatusSuccess,
			ResponseSnapshot: []byte(`{"id":"rem-1"}`),
		}))
	}
	entries, err := repo.ListSyncLog(ctx, domain.EntityEmployee, "e1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, domain.SyncActionUpdate, entries[0].Action)
	require.JSONEq(t, `{"id":"rem-1"}`, string(entries[1].ResponseSnapshot))
}
