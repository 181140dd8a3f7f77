package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DLQManager replays due DLQ entries back through the outbox and quarantines entries whose
// retry budget is spent.
type DLQManager struct {
	pool       *pgxpool.Pool
	maxRetries int
	baseDelay  time.Duration
}

// NewDLQManager defaults to five retries starting one minute apart.
func NewDLQManager(pool *pgxpool.Pool, maxRetries int, baseDelay time.Duration) *DLQManager {
	m := &DLQManager{pool: pool, maxRetries: maxRetries, baseDelay: baseDelay}
	if m.maxRetries <= 0 {
		m.maxRetries = 5
	}
	if m.baseDelay <= 0 {
		m.baseDelay = time.Minute
	}
	return m
}

const selectDueDLQ = `
SELECT dlq_id, COALESCE(event_id, 0), event_type, topic, payload, error_message,
       aggregate_type, aggregate_id, schema_subject, partition_key, retry_count
  FROM outbox_dlq
 WHERE quarantined_at IS NULL
   AND requeued_event_id IS NULL
   AND next_retry_at <= NOW()
 ORDER BY next_retry_at, dlq_id
 LIMIT $1`

// RunOnce replays up to limit due entries and reports how many reached a decision. Per-entry
// failures are joined into the returned error without stopping the batch.
func (m *DLQManager) RunOnce(ctx context.Context, limit int) (int, error) {
	rows, err := m.pool.Query(ctx, selectDueDLQ, limit)
	if err != nil {
		return 0, fmt.Errorf("select due dlq entries: %w", err)
	}
	due, err := pgx.CollectRows(rows, scanDLQEntry)
	if err != nil {
		return 0, err
	}
	defer refreshPending(ctx, m.pool)

	var errs []error
	decided := 0
	for _, entry := range due {
		outcome, err := m.replay(ctx, entry)
		if err != nil {
			errs = append(errs, fmt.Errorf("dlq entry %d: %w", entry.ID, err))
			continue
		}
		observeReplay(entry, outcome)
		decided++
	}
	return decided, errors.Join(errs...)
}

func (m *DLQManager) replay(ctx context.Context, entry dlqEntry) (string, error) {
	if entry.RetryCount >= m.maxRetries {
		_, err := m.pool.Exec(ctx,
			`UPDATE outbox_dlq SET quarantined_at = NOW(), quarantine_reason = $2 WHERE dlq_id = $1`,
			entry.ID, "retry limit reached: "+entry.Reason)
		return replayQuarantined, err
	}

	delay := BackoffDelay(m.baseDelay, entry.RetryCount+1)
	requeueErr := pgx.BeginFunc(ctx, m.pool, func(tx pgx.Tx) error {
		eventID, err := requeueOutbox(ctx, tx, entry)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
UPDATE outbox_dlq
   SET retry_count = retry_count + 1, last_attempt_at = NOW(),
       next_retry_at = NOW() + $2::interval, requeued_event_id = $3
 WHERE dlq_id = $1`, entry.ID, delay, eventID)
		return err
	})
	if requeueErr == nil {
		return replayRequeued, nil
	}

	// The requeue transaction rolled back; push the entry out by one backoff step instead.
	_, err := m.pool.Exec(ctx, `
UPDATE outbox_dlq
   SET retry_count = retry_count + 1, last_attempt_at = NOW(),
       next_retry_at = NOW() + $2::interval, error_message = $3
 WHERE dlq_id = $1`, entry.ID, delay, requeueErr.Error())
	return replayDeferred, err
}

// BackoffDelay calculates base * 2^(attempt-1) capped at one hour.
func BackoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 30 {
		return time.Hour
	}
	delay := time.Duration(1<<uint(attempt-1)) * base
	if delay > time.Hour || delay <= 0 {
		delay = time.Hour
	}
	return delay
}

// requeueOutbox copies the entry back into the outbox carrying its next attempt number.
func requeueOutbox(ctx context.Context, tx pgx.Tx, entry dlqEntry) (int64, error) {
	if entry.SchemaSubject == "" {
		return 0, fmt.Errorf("missing schema_subject for dlq entry %d", entry.ID)
	}

	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, attempt)
                   VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING event_id`

	var id int64
	err := tx.QueryRow(ctx, stmt,
		entry.AggregateType,
		entry.AggregateID,
		entry.EventType,
		entry.Topic,
		entry.SchemaSubject,
		entry.PartitionKey,
		entry.Payload,
		entry.RetryCount+1,
	).Scan(&id)
	return id, err
}

// dlqEntry is one due outbox_dlq row.
type dlqEntry struct {
	ID            int64
	EventID       int64
	EventType     string
	Topic         string
	Payload       []byte
	Reason        string
	AggregateType string
	AggregateID   string
	SchemaSubject string
	PartitionKey  string
	RetryCount    int
}

func scanDLQEntry(row pgx.CollectableRow) (dlqEntry, error) {
	var entry dlqEntry
	if err := row.Scan(&entry.ID, &entry.EventID, &entry.EventType, &entry.Topic, &entry.Payload, &entry.Reason, &entry.AggregateType, &entry.AggregateID, &entry.SchemaSubject, &entry.PartitionKey, &entry.RetryCount); err != nil {
		return dlqEntry{}, err
	}
	return entry, nil
}
