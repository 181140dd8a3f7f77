package outbox

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
)

// MoveToDLQ records a failed outbox message. A failed replay of an earlier DLQ entry updates
// that entry instead of adding a new one, keeping its retry count.
func (s *PostgresStore) MoveToDLQ(ctx context.Context, msg Message, reason string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE outbox_dlq SET error_message = $2, last_attempt_at = NOW(), requeued_event_id = NULL
          WHERE requeued_event_id = $1`,
		msg.EventID, reason,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if err := insertDLQ(ctx, tx, msg, reason); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// Requeue records an event that failed after leaving the outbox (for example in the Kafka
// consumer) so the DLQ manager replays it with backoff. msg.Attempt seeds the retry count.
func (s *PostgresStore) Requeue(ctx context.Context, msg Message, reason string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := insertDLQ(ctx, tx, msg, reason); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func insertDLQ(ctx context.Context, tx pgx.Tx, msg Message, reason string) error {
	payload := msg.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	var eventID any
	if msg.EventID > 0 {
		eventID = msg.EventID
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO outbox_dlq (event_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, error_message, retry_count, next_retry_at)
	         VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10, NOW())`,
		eventID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Topic, msg.SchemaSubject, msg.PartitionKey, payload, reason, msg.Attempt,
	)
	return err
}
