//go:build integration

// Package testsupport starts disposable infrastructure for integration tests.
package testsupport

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
)

const postgresImage = "postgres:16-alpine"

// StartPostgres runs a throwaway Postgres with every migration applied. The pool and the
// container are torn down with the test.
func StartPostgres(ctx context.Context, t *testing.T) *pgxpool.Pool {
	t.Helper()

	ctr, err := postgrescontainer.Run(ctx, postgresImage,
		postgrescontainer.WithDatabase("solidtracker"),
		postgrescontainer.WithUsername("solidtracker"),
		postgrescontainer.WithPassword("solidtracker"),
		postgrescontainer.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	// The wait strategy sees the server before it accepts TCP clients on some hosts.
	require.Eventually(t, func() bool { return pool.Ping(ctx) == nil }, 30*time.Second, 250*time.Millisecond)

	migrate(ctx, t, pool)
	return pool
}

// migrate executes db/postgres/migrations/*.up.sql in file name order.
func migrate(ctx context.Context, t *testing.T, pool *pgxpool.Pool) {
	t.Helper()

	_, self, _, ok := runtime.Caller(0)
	require.True(t, ok)
	dir := filepath.Join(filepath.Dir(self), "..", "..", "db", "postgres", "migrations")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	applied := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".up.sql") {
			continue
		}
		sql, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		require.NoError(t, err)
		_, err = pool.Exec(ctx, string(sql))
		require.NoErrorf(t, err, "migration %s", entry.Name())
		applied++
	}
	require.NotZero(t, applied, "no migrations found in %s", dir)
}
