package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("POSTGRES_URL", "")
	t.Setenv("KAFKA_BROKERS", "")

	cfg := Load()
	require.False(t, cfg.UsePostgres())
	require.False(t, cfg.UseKafka())
	require.Equal(t, 30*time.Second, cfg.InsightfulTimeout)
	require.False(t, cfg.AllowDegradedSync)
	require.True(t, cfg.RecreateMissingRemote)
	require.Equal(t, "UTC", cfg.InsightfulTimezone)
	require.Equal(t, "0 */15 * * * *", cfg.BulkSyncSchedule)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("POSTGRES_URL", "postgres://localhost/solid")
	t.Setenv("KAFKA_BROKERS", " k1:9092 , ,k2:9092")
	t.Setenv("OUTBOX_BATCH_SIZE", "10")
	t.Setenv("DLQ_BASE_DELAY", "5s")
	t.Setenv("ALLOW_DEGRADED_SYNC", "true")
	t.Setenv("RECREATE_MISSING_REMOTE", "0")

	cfg := Load()
	require.True(t, cfg.UsePostgres())
	require.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	require.Equal(t, 10, cfg.OutboxBatchSize)
	require.Equal(t, 5*time.Second, cfg.DLQBaseDelay)
	require.True(t, cfg.AllowDegradedSync)
	require.False(t, cfg.RecreateMissingRemote)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("OUTBOX_BATCH_SIZE", "lots")
	t.Setenv("INSIGHTFUL_TIMEOUT", "soon")
	t.Setenv("ALLOW_DEGRADED_SYNC", "maybe")

	cfg := Load()
	require.Equal(t, 25, cfg.OutboxBatchSize)
	require.Equal(t, 30*time.Second, cfg.InsightfulTimeout)
	require.False(t, cfg.AllowDegradedSync)
}
