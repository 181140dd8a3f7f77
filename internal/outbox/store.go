package outbox

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the Postgres-backed Store: claims, settlement, DLQ routing and requeues.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const claimOutbox = `
SELECT event_id, aggregate_type, aggregate_id, event_type, topic,
       schema_subject, partition_key, payload, attempt
  FROM outbox
 WHERE published_at IS NULL
 ORDER BY event_id
 LIMIT $1
   FOR UPDATE SKIP LOCKED`

// Claim takes up to limit unpublished rows in event order. SKIP LOCKED keeps concurrent
// dispatchers on disjoint rows.
func (s *PostgresStore) Claim(ctx context.Context, limit int) ([]Message, error) {
	var claimed []Message
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, claimOutbox, limit)
		if err != nil {
			return err
		}
		claimed, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (Message, error) {
			var m Message
			err := row.Scan(&m.EventID, &m.AggregateType, &m.AggregateID, &m.EventType, &m.Topic,
				&m.SchemaSubject, &m.PartitionKey, &m.Payload, &m.Attempt)
			return m, err
		})
		if err != nil || len(claimed) == 0 {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE outbox SET claimed_at = NOW() WHERE event_id = ANY($1)`, eventIDs(claimed))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("claim outbox: %w", err)
	}
	return claimed, nil
}

// MarkPublished settles delivered rows. DLQ entries whose replay is among them are resolved;
// failed replays were already detached by MoveToDLQ.
func (s *PostgresStore) MarkPublished(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE outbox SET published_at = NOW() WHERE event_id = ANY($1)`, ids); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM outbox_dlq WHERE requeued_event_id = ANY($1)`, ids)
		return err
	})
}

func eventIDs(msgs []Message) []int64 {
	ids := make([]int64, len(msgs))
	for i, m := range msgs {
		ids[i] = m.EventID
	}
	return ids
}
