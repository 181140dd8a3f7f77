// Package config centralises configuration parsing for the solidtracker binaries.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures runtime configuration values shared by every binary.
type Config struct {
	HTTPAddress    string
	MetricsAddress string
	// PostgresURL selects the Postgres store. Empty runs against the in-memory store.
	PostgresURL string
	// KafkaBrokers selects Kafka delivery of outbox events. Empty delivers in process.
	KafkaBrokers      []string
	SchemaRegistryURL string
	TimeEntryTopic    string
	ConsumerGroupID   string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int

	JWTSecret string
	JWTIssuer string

	DLQMaxRetries int           // Maximum number of DLQ retry attempts before quarantine.
	DLQBaseDelay  time.Duration // Base delay used for exponential backoff.
	DLQBatchSize  int
	DLQSchedule   string // Cron spec with seconds.

	BulkSyncSchedule string // Cron spec with seconds.

	InsightfulAPIURL   string
	InsightfulAPIToken string
	InsightfulTimeout  time.Duration
	InsightfulTimezone string

	AllowDegradedSync     bool
	RecreateMissingRemote bool
	ScreenshotDir         string

	LogLevel  string
	LogFormat string
}

// Load reads the environment. Unset, empty or unparsable variables fall back to defaults
// suited to a local stack.
func Load() Config {
	return Config{
		HTTPAddress:        str("HTTP_ADDRESS", ":8080"),
		MetricsAddress:     str("METRICS_ADDRESS", ":9102"),
		PostgresURL:        str("POSTGRES_URL", ""),
		KafkaBrokers:       list("KAFKA_BROKERS"),
		SchemaRegistryURL:  str("SCHEMA_REGISTRY_URL", "http://schema-registry:8081"),
		TimeEntryTopic:     str("TIME_ENTRY_TOPIC", "time_entry_events"),
		ConsumerGroupID:    str("CONSUMER_GROUP_ID", "solidtracker-sync"),
		OutboxPollInterval: parsed("OUTBOX_POLL_INTERVAL", 2*time.Second, time.ParseDuration),
		OutboxBatchSize:    parsed("OUTBOX_BATCH_SIZE", 25, strconv.Atoi),
		JWTSecret:          str("JWT_SECRET", "dev-secret-change-me"),
		JWTIssuer:          str("JWT_ISSUER", "solidtracker"),
		DLQMaxRetries:      parsed("DLQ_MAX_RETRIES", 5, strconv.Atoi),
		DLQBaseDelay:       parsed("DLQ_BASE_DELAY", time.Minute, time.ParseDuration),
		DLQBatchSize:       parsed("DLQ_BATCH_SIZE", 50, strconv.Atoi),
		DLQSchedule:        str("DLQ_SCHEDULE", "*/30 * * * * *"),
		BulkSyncSchedule:   str("BULK_SYNC_SCHEDULE", "0 */15 * * * *"),
		InsightfulAPIURL:   str("INSIGHTFUL_API_URL", "https://app.insightful.io/api/v1"),
		InsightfulAPIToken: str("INSIGHTFUL_API_TOKEN", ""),
		InsightfulTimeout:  parsed("INSIGHTFUL_TIMEOUT", 30*time.Second, time.ParseDuration),
		InsightfulTimezone: str("INSIGHTFUL_TIMEZONE", "UTC"),

		AllowDegradedSync:     parsed("ALLOW_DEGRADED_SYNC", false, strconv.ParseBool),
		RecreateMissingRemote: parsed("RECREATE_MISSING_REMOTE", true, strconv.ParseBool),
		ScreenshotDir:         str("SCREENSHOT_DIR", "./screenshots"),

		LogLevel:  str("LOG_LEVEL", "info"),
		LogFormat: str("LOG_FORMAT", "text"),
	}
}

func (c Config) UsePostgres() bool { return c.PostgresURL != "" }

// UseKafka reports whether outbox events go through Kafka rather than in-process sync.
func (c Config) UseKafka() bool { return len(c.KafkaBrokers) > 0 }

func str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func parsed[T any](key string, def T, parse func(string) (T, error)) T {
	raw := str(key, "")
	if raw == "" {
		return def
	}
	v, err := parse(raw)
	if err != nil {
		return def
	}
	return v
}

// list splits a comma separated variable, dropping blank items.
func list(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
