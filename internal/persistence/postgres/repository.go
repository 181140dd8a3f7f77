// Package postgres implements the repositories on PostgreSQL via pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MayankBharati/solidtracker/internal/domain"
	"github.com/MayankBharati/solidtracker/internal/events"
	"github.com/MayankBharati/solidtracker/internal/observability"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"

	activeEntryIndex = "time_entries_one_active_per_employee"
)

const timeEntryColumns = `time_entry_id, employee_id, project_id, task_id, started_at, ended_at, duration_seconds, created_at, updated_at`

// Repository provides Postgres-backed persistence for time entries, entities, linkages and outbox events.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertTimeEntry persists the entry and records the outbox event inside a single transaction.
func (r *Repository) InsertTimeEntry(ctx context.Context, entry domain.TimeEntry, event domain.TimeEntryEvent) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	const stmt = `INSERT INTO time_entries (` + timeEntryColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	_, err = tx.Exec(ctx, stmt,
		entry.ID,
		entry.EmployeeID,
		entry.ProjectID,
		entry.TaskID,
		entry.StartedAt,
		entry.EndedAt,
		entry.DurationSeconds,
		entry.CreatedAt,
		entry.UpdatedAt,
	)
	if err != nil {
		return translateError(err)
	}

	if err = insertOutbox(ctx, tx, entry, event); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return err
	}
	observability.RecordTimeEntryPersisted(entry.UpdatedAt)
	if entry.Active() {
		observability.RecordTimerStarted()
	}
	return nil
}

// CloseActive locks the employee's open entry with FOR UPDATE so concurrent stops serialise.
func (r *Repository) CloseActive(ctx context.Context, employeeID string, event domain.TimeEntryEvent, fn domain.CloseFunc) (*domain.TimeEntry, error) {
	const query = `SELECT ` + timeEntryColumns + ` FROM time_entries WHERE employee_id=$1 AND ended_at IS NULL FOR UPDATE`
	entry, err := r.mutate(ctx, query, []any{employeeID}, event, func(e domain.TimeEntry) (domain.TimeEntry, bool, error) {
		closed, err := fn(e)
		return closed, err == nil, err
	})
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, domain.ErrNoActiveEntry
	}
	observability.RecordTimerStopped()
	return entry, nil
}

// UpdateTimeEntry locks the entry by id and stores fn's result.
func (r *Repository) UpdateTimeEntry(ctx context.Context, id string, event domain.TimeEntryEvent, fn domain.UpdateFunc) (*domain.TimeEntry, error) {
	const query = `SELECT ` + timeEntryColumns + ` FROM time_entries WHERE time_entry_id=$1 FOR UPDATE`
	entry, err := r.mutate(ctx, query, []any{id}, event, fn)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, domain.ErrTimeEntryNotFound
	}
	return entry, nil
}

// mutate returns nil without error when the locking query matches no row.
func (r *Repository) mutate(ctx context.Context, query string, args []any, event domain.TimeEntryEvent, fn domain.UpdateFunc) (_ *domain.TimeEntry, err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	current, err := scanTimeEntry(tx.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tx.Commit(ctx)
		}
		return nil, err
	}

	updated, changed, err := fn(current)
	if err != nil {
		return nil, err
	}
	if !changed {
		return &updated, tx.Commit(ctx)
	}

	const stmt = `UPDATE time_entries SET ended_at=$2, duration_seconds=$3, updated_at=$4 WHERE time_entry_id=$1`
	if _, err = tx.Exec(ctx, stmt, updated.ID, updated.EndedAt, updated.DurationSeconds, updated.UpdatedAt); err != nil {
		return nil, translateError(err)
	}
	if err = insertOutbox(ctx, tx, updated, event); err != nil {
		return nil, err
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}
	observability.RecordTimeEntryPersisted(updated.UpdatedAt)
	return &updated, nil
}

// GetTimeEntry returns nil when the entry does not exist.
func (r *Repository) GetTimeEntry(ctx context.Context, id string) (*domain.TimeEntry, error) {
	const query = `SELECT ` + timeEntryColumns + ` FROM time_entries WHERE time_entry_id=$1`
	return r.getOne(ctx, query, id)
}

// GetActive returns nil when the employee has no open entry.
func (r *Repository) GetActive(ctx context.Context, employeeID string) (*domain.TimeEntry, error) {
	const query = `SELECT ` + timeEntryColumns + ` FROM time_entries WHERE employee_id=$1 AND ended_at IS NULL`
	return r.getOne(ctx, query, employeeID)
}

func (r *Repository) getOne(ctx context.Context, query string, arg string) (*domain.TimeEntry, error) {
	entry, err := scanTimeEntry(r.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// ListForEmployee returns entries for an employee ordered by start time, newest first.
func (r *Repository) ListForEmployee(ctx context.Context, employeeID string, tr domain.TimeRange, cursor *domain.Cursor, limit int) ([]domain.TimeEntry, *domain.Cursor, error) {
	args := []any{employeeID, limit}
	query := `SELECT ` + timeEntryColumns + ` FROM time_entries WHERE employee_id=$1`

	if !tr.From.IsZero() {
		args = append(args, tr.From)
		query += fmt.Sprintf(` AND started_at >= $%d`, len(args))
	}
	if !tr.To.IsZero() {
		args = append(args, tr.To)
		query += fmt.Sprintf(` AND started_at < $%d`, len(args))
	}
	if cursor != nil {
		args = append(args, cursor.StartedAt, cursor.ID)
		query += fmt.Sprintf(` AND (started_at, time_entry_id) < ($%d, $%d)`, len(args)-1, len(args))
	}
	query += ` ORDER BY started_at DESC, time_entry_id DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	results := make([]domain.TimeEntry, 0, limit)
	for rows.Next() {
		entry, err := scanTimeEntry(rows)
		if err != nil {
			return nil, nil, err
		}
		results = append(results, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var nextCursor *domain.Cursor
	if len(results) == limit {
		last := results[len(results)-1]
		nextCursor = &domain.Cursor{StartedAt: last.StartedAt, ID: last.ID}
	}
	return results, nextCursor, nil
}

func scanTimeEntry(row pgx.Row) (domain.TimeEntry, error) {
	var e domain.TimeEntry
	err := row.Scan(&e.ID, &e.EmployeeID, &e.ProjectID, &e.TaskID, &e.StartedAt, &e.EndedAt, &e.DurationSeconds, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return domain.TimeEntry{}, err
	}
	e.StartedAt = e.StartedAt.UTC()
	if e.EndedAt != nil {
		end := e.EndedAt.UTC()
		e.EndedAt = &end
	}
	return e, nil
}

// translateError maps constraint violations onto domain errors.
func translateError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgUniqueViolation:
		if pgErr.ConstraintName == activeEntryIndex {
			return domain.ErrAlreadyActive
		}
	case pgForeignKeyViolation:
		return &domain.ValidationError{Field: "reference", Reason: "unknown employee, project or task"}
	case pgCheckViolation:
		return domain.ErrInvalidRange
	}
	return err
}

func insertOutbox(ctx context.Context, tx pgx.Tx, entry domain.TimeEntry, event domain.TimeEntryEvent) error {
	body, err := json.Marshal(events.NewTimeEntryChanged(entry))
	if err != nil {
		return err
	}

	meta, ok := eventCatalog[event]
	if !ok {
		return fmt.Errorf("unknown event type: %s", event)
	}

	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	_, err = tx.Exec(ctx, stmt,
		string(domain.EntityTimeEntry),
		entry.ID,
		string(event),
		meta.Topic,
		meta.SchemaSubject,
		meta.PartitionKeyFn(entry),
		body,
		fmt.Sprintf("%s:%s", entry.ID, event),
	)
	return err
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic          string
	SchemaSubject  string
	PartitionKeyFn func(domain.TimeEntry) string
}

// Keyed by employee so one employee's events stay ordered on a single partition.
func byEmployee(e domain.TimeEntry) string { return e.EmployeeID }

var timeEntryRoute = EventMetadata{
	Topic:          events.TimeEntryTopic,
	SchemaSubject:  events.TimeEntryTopic + "-value",
	PartitionKeyFn: byEmployee,
}

var eventCatalog = map[domain.TimeEntryEvent]EventMetadata{
	domain.EventTimeEntryStarted:  timeEntryRoute,
	domain.EventTimeEntryStopped:  timeEntryRoute,
	domain.EventTimeEntryRecorded: timeEntryRoute,
	domain.EventTimeEntryUpdated:  timeEntryRoute,
}
