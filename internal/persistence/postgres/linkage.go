package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/MayankBharati/solidtracker/internal/domain"
)

const linkageColumns = `entity_type, local_id, COALESCE(remote_id, ''), last_synced_at, COALESCE(last_sync_status, ''), COALESCE(last_error, ''), version, created_at, updated_at`

// LockEntity takes a session advisory lock keyed by entity on a dedicated connection. The
// lock is held until the returned unlock is called.
func (r *Repository) LockEntity(ctx context.Context, entityType domain.EntityType, localID string) (func(), error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	key := string(entityType) + ":" + localID
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock(hashtextextended($1, 0))`, key); err != nil {
		conn.Release()
		return nil, err
	}
	return func() {
		// The caller's ctx may already be cancelled; the unlock must still run.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(unlockCtx, `SELECT pg_advisory_unlock(hashtextextended($1, 0))`, key); err != nil {
			// Closing the connection drops every session lock it holds.
			_ = conn.Conn().Close(unlockCtx)
		}
		conn.Release()
	}, nil
}

// EnsureLinkage creates an unlinked record on first use and returns the current state.
func (r *Repository) EnsureLinkage(ctx context.Context, entityType domain.EntityType, localID string) (*domain.RemoteLinkage, error) {
	const stmt = `INSERT INTO remote_linkages (entity_type, local_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	if _, err := r.pool.Exec(ctx, stmt, string(entityType), localID); err != nil {
		return nil, err
	}
	l, err := r.GetLinkage(ctx, entityType, localID)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, errors.New("linkage vanished after insert")
	}
	return l, nil
}

// GetLinkage returns nil when the entity has never been synced.
func (r *Repository) GetLinkage(ctx context.Context, entityType domain.EntityType, localID string) (*domain.RemoteLinkage, error) {
	query := `SELECT ` + linkageColumns + ` FROM remote_linkages WHERE entity_type=$1 AND local_id=$2`
	var (
		l      domain.RemoteLinkage
		et     string
		status string
	)
	err := r.pool.QueryRow(ctx, query, string(entityType), localID).Scan(
		&et, &l.LocalID, &l.RemoteID, &l.LastSyncedAt, &status, &l.LastError, &l.Version, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	l.EntityType = domain.EntityType(et)
	l.LastSyncStatus = domain.SyncStatus(status)
	return &l, nil
}

// BindRemoteID sets remote_id only when it currently equals expected (NULL for an empty
// expected) and returns the value stored afterwards.
func (r *Repository) BindRemoteID(ctx context.Context, entityType domain.EntityType, localID, expected, remoteID string) (string, error) {
	const stmt = `UPDATE remote_linkages SET remote_id=$4, version=version+1, updated_at=NOW()
        WHERE entity_type=$1 AND local_id=$2 AND remote_id IS NOT DISTINCT FROM $3
        RETURNING remote_id`

	var bound string
	err := r.pool.QueryRow(ctx, stmt, string(entityType), localID, nullIfEmpty(expected), remoteID).Scan(&bound)
	if err == nil {
		return bound, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", err
	}
	current, err := r.GetLinkage(ctx, entityType, localID)
	if err != nil {
		return "", err
	}
	if current == nil {
		return "", errors.New("linkage not found")
	}
	return current.RemoteID, nil
}

// RecordAttempt stores the outcome of the latest attempt on the linkage.
func (r *Repository) RecordAttempt(ctx context.Context, entityType domain.EntityType, localID string, status domain.SyncStatus, errMsg string, at time.Time) error {
	const stmt = `INSERT INTO remote_linkages (entity_type, local_id, last_synced_at, last_sync_status, last_error, updated_at)
        VALUES ($1, $2, $3, $4, $5, $3)
        ON CONFLICT (entity_type, local_id) DO UPDATE
        SET last_synced_at = EXCLUDED.last_synced_at, last_sync_status = EXCLUDED.last_sync_status,
            last_error = EXCLUDED.last_error, updated_at = EXCLUDED.updated_at`
	_, err := r.pool.Exec(ctx, stmt, string(entityType), localID, at, string(status), nullIfEmpty(errMsg))
	return err
}

// RemoteIDs returns the bound remote ids for the given local ids, skipping unlinked ones.
func (r *Repository) RemoteIDs(ctx context.Context, entityType domain.EntityType, localIDs []string) (map[string]string, error) {
	out := make(map[string]string, len(localIDs))
	if len(localIDs) == 0 {
		return out, nil
	}
	const query = `SELECT local_id, remote_id FROM remote_linkages
        WHERE entity_type=$1 AND local_id = ANY($2) AND remote_id IS NOT NULL`
	rows, err := r.pool.Query(ctx, query, string(entityType), localIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var local, remote string
		if err := rows.Scan(&local, &remote); err != nil {
			return nil, err
		}
		out[local] = remote
	}
	return out, rows.Err()
}

// AppendSyncLog appends an audit entry.
func (r *Repository) AppendSyncLog(ctx context.Context, entry domain.SyncLogEntry) error {
	const stmt = `INSERT INTO sync_log (entity_type, entity_id, remote_id, action, status, error_class, error_message, response_snapshot, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,COALESCE($9, NOW()))`

	var snapshot any
	if len(entry.ResponseSnapshot) > 0 {
		snapshot = entry.ResponseSnapshot
	}
	var createdAt any
	if !entry.CreatedAt.IsZero() {
		createdAt = entry.CreatedAt
	}
	_, err := r.pool.Exec(ctx, stmt,
		string(entry.EntityType),
		entry.EntityID,
		nullIfEmpty(entry.RemoteID),
		string(entry.Action),
		string(entry.Status),
		nullIfEmpty(entry.ErrorClass),
		nullIfEmpty(entry.ErrorMessage),
		snapshot,
		createdAt,
	)
	return err
}

// ListSyncLog returns the newest entries for an entity first.
func (r *Repository) ListSyncLog(ctx context.Context, entityType domain.EntityType, localID string, limit int) ([]domain.SyncLogEntry, error) {
	const query = `SELECT log_id, entity_type, entity_id, COALESCE(remote_id, ''), action, status,
            COALESCE(error_class, ''), COALESCE(error_message, ''), response_snapshot, created_at
        FROM sync_log WHERE entity_type=$1 AND entity_id=$2
        ORDER BY created_at DESC, log_id DESC LIMIT $3`

	rows, err := r.pool.Query(ctx, query, string(entityType), localID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SyncLogEntry
	for rows.Next() {
		var (
			e             domain.SyncLogEntry
			et, act, stat string
			snapshot      []byte
		)
		if err := rows.Scan(&e.ID, &et, &e.EntityID, &e.RemoteID, &act, &stat, &e.ErrorClass, &e.ErrorMessage, &snapshot, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.EntityType = domain.EntityType(et)
		e.Action = domain.SyncAction(act)
		e.Status = domain.SyncStatus(stat)
		e.ResponseSnapshot = snapshot
		out = append(out, e)
	}
	return out, rows.Err()
}
