package memory

import (
	"context"
	"sync"
	"time"

	"github.com/MayankBharati/solidtracker/internal/domain"
)

// LockEntity serialises work on one entity until the returned unlock is called.
func (s *Store) LockEntity(ctx context.Context, entityType domain.EntityType, localID string) (func(), error) {
	return s.locks.lock(ctx, string(entityType)+":"+localID)
}

// EnsureLinkage creates an unlinked record on first use and returns the current state.
func (s *Store) EnsureLinkage(ctx context.Context, entityType domain.EntityType, localID string) (*domain.RemoteLinkage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := linkKey{entityType, localID}
	l, ok := s.linkages[key]
	if !ok {
		ts := now()
		l = domain.RemoteLinkage{EntityType: entityType, LocalID: localID, CreatedAt: ts, UpdatedAt: ts}
		s.linkages[key] = l
	}
	return &l, nil
}

// GetLinkage returns nil when the entity has never been synced.
func (s *Store) GetLinkage(ctx context.Context, entityType domain.EntityType, localID string) (*domain.RemoteLinkage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.linkages[linkKey{entityType, localID}]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

// BindRemoteID sets the remote id only when the stored value equals expected and returns
// the value stored afterwards.
func (s *Store) BindRemoteID(ctx context.Context, entityType domain.EntityType, localID, expected, remoteID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := linkKey{entityType, localID}
	l, ok := s.linkages[key]
	if !ok {
		ts := now()
		l = domain.RemoteLinkage{EntityType: entityType, LocalID: localID, CreatedAt: ts}
	}
	if l.RemoteID != expected {
		return l.RemoteID, nil
	}
	l.RemoteID = remoteID
	l.Version++
	l.UpdatedAt = now()
	s.linkages[key] = l
	return remoteID, nil
}

// RecordAttempt stores the outcome of the latest attempt on the linkage.
func (s *Store) RecordAttempt(ctx context.Context, entityType domain.EntityType, localID string, status domain.SyncStatus, errMsg string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := linkKey{entityType, localID}
	l, ok := s.linkages[key]
	if !ok {
		l = domain.RemoteLinkage{EntityType: entityType, LocalID: localID, CreatedAt: at}
	}
	l.LastSyncedAt = &at
	l.LastSyncStatus = status
	l.LastError = errMsg
	l.UpdatedAt = at
	s.linkages[key] = l
	return nil
}

// RemoteIDs returns the bound remote ids for the given local ids, skipping unlinked ones.
func (s *Store) RemoteIDs(ctx context.Context, entityType domain.EntityType, localIDs []string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(localIDs))
	for _, id := range localIDs {
		if l, ok := s.linkages[linkKey{entityType, id}]; ok && l.RemoteID != "" {
			out[id] = l.RemoteID
		}
	}
	return out, nil
}

// AppendSyncLog appends an audit entry.
func (s *Store) AppendSyncLog(ctx context.Context, entry domain.SyncLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextLogID++
	entry.ID = s.nextLogID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now()
	}
	s.syncLog = append(s.syncLog, entry)
	return nil
}

// ListSyncLog returns the newest entries for an entity first.
func (s *Store) ListSyncLog(ctx context.Context, entityType domain.EntityType, localID string, limit int) ([]domain.SyncLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.SyncLogEntry
	for i := len(s.syncLog) - 1; i >= 0; i-- {
		e := s.syncLog[i]
		if e.EntityType != entityType || e.EntityID != localID {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// keyedMutex hands out one channel-based lock per key so waiters can honour ctx.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	ch   chan struct{}
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refLock)}
}

func (k *keyedMutex) lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{ch: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(key, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			k.release(key, l)
		})
	}, nil
}

func (k *keyedMutex) release(key string, l *refLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}
