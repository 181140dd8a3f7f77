// Package memory provides in-memory repositories for local development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/MayankBharati/solidtracker/internal/domain"
)

// OutboxRecord is an event recorded alongside a time entry mutation.
type OutboxRecord struct {
	Event domain.TimeEntryEvent
	Entry domain.TimeEntry
}

// Store implements every repository interface on plain maps guarded by one lock.
type Store struct {
	mu          sync.RWMutex
	entries     map[string]domain.TimeEntry
	active      map[string]string
	employees   map[string]domain.Employee
	projects    map[string]domain.Project
	tasks       map[string]domain.Task
	screenshots map[string]domain.Screenshot
	devices     map[string]domain.Device
	linkages    map[linkKey]domain.RemoteLinkage
	syncLog     []domain.SyncLogEntry
	outbox      []OutboxRecord
	nextLogID   int64

	locks *keyedMutex
}

type linkKey struct {
	entityType domain.EntityType
	localID    string
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		entries:     make(map[string]domain.TimeEntry),
		active:      make(map[string]string),
		employees:   make(map[string]domain.Employee),
		projects:    make(map[string]domain.Project),
		tasks:       make(map[string]domain.Task),
		screenshots: make(map[string]domain.Screenshot),
		devices:     make(map[string]domain.Device),
		linkages:    make(map[linkKey]domain.RemoteLinkage),
		locks:       newKeyedMutex(),
	}
}

// InsertTimeEntry implements domain.TimeEntryRepository.
func (s *Store) InsertTimeEntry(ctx context.Context, entry domain.TimeEntry, event domain.TimeEntryEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.Active() {
		if _, ok := s.active[entry.EmployeeID]; ok {
			return domain.ErrAlreadyActive
		}
		s.active[entry.EmployeeID] = entry.ID
	}
	s.entries[entry.ID] = cloneEntry(entry)
	s.outbox = append(s.outbox, OutboxRecord{Event: event, Entry: cloneEntry(entry)})
	return nil
}

// CloseActive implements domain.TimeEntryRepository.
func (s *Store) CloseActive(ctx context.Context, employeeID string, event domain.TimeEntryEvent, fn domain.CloseFunc) (*domain.TimeEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.active[employeeID]
	if !ok {
		return nil, domain.ErrNoActiveEntry
	}
	closed, err := fn(cloneEntry(s.entries[id]))
	if err != nil {
		return nil, err
	}
	delete(s.active, employeeID)
	s.entries[id] = cloneEntry(closed)
	s.outbox = append(s.outbox, OutboxRecord{Event: event, Entry: cloneEntry(closed)})
	return &closed, nil
}

// UpdateTimeEntry implements domain.TimeEntryRepository.
func (s *Store) UpdateTimeEntry(ctx context.Context, id string, event domain.TimeEntryEvent, fn domain.UpdateFunc) (*domain.TimeEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.entries[id]
	if !ok {
		return nil, domain.ErrTimeEntryNotFound
	}
	updated, changed, err := fn(cloneEntry(current))
	if err != nil {
		return nil, err
	}
	if !changed {
		return &updated, nil
	}
	if current.Active() && !updated.Active() && s.active[current.EmployeeID] == id {
		delete(s.active, current.EmployeeID)
	}
	s.entries[id] = cloneEntry(updated)
	s.outbox = append(s.outbox, OutboxRecord{Event: event, Entry: cloneEntry(updated)})
	return &updated, nil
}

// GetTimeEntry returns nil when the entry does not exist.
func (s *Store) GetTimeEntry(ctx context.Context, id string) (*domain.TimeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[id]
	if !ok {
		return nil, nil
	}
	out := cloneEntry(entry)
	return &out, nil
}

// GetActive returns nil when the employee has no open entry.
func (s *Store) GetActive(ctx context.Context, employeeID string) (*domain.TimeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.active[employeeID]
	if !ok {
		return nil, nil
	}
	out := cloneEntry(s.entries[id])
	return &out, nil
}

// ListForEmployee implements domain.TimeEntryRepository.
func (s *Store) ListForEmployee(ctx context.Context, employeeID string, r domain.TimeRange, cursor *domain.Cursor, limit int) ([]domain.TimeEntry, *domain.Cursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]domain.TimeEntry, 0)
	for _, entry := range s.entries {
		if entry.EmployeeID != employeeID || !r.Contains(entry.StartedAt) {
			continue
		}
		if cursor != nil && !before(entry, *cursor) {
			continue
		}
		matches = append(matches, cloneEntry(entry))
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].StartedAt.Equal(matches[j].StartedAt) {
			return matches[i].ID > matches[j].ID
		}
		return matches[i].StartedAt.After(matches[j].StartedAt)
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	var next *domain.Cursor
	if limit > 0 && len(matches) == limit {
		last := matches[len(matches)-1]
		next = &domain.Cursor{StartedAt: last.StartedAt, ID: last.ID}
	}
	return matches, next, nil
}

// Outbox returns the events recorded so far.
func (s *Store) Outbox() []OutboxRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]OutboxRecord, len(s.outbox))
	copy(out, s.outbox)
	return out
}

// before reports whether e sorts after the cursor in (started_at, id) descending order.
func before(e domain.TimeEntry, c domain.Cursor) bool {
	if e.StartedAt.Equal(c.StartedAt) {
		return e.ID < c.ID
	}
	return e.StartedAt.Before(c.StartedAt)
}

func cloneEntry(e domain.TimeEntry) domain.TimeEntry {
	if e.EndedAt != nil {
		end := *e.EndedAt
		e.EndedAt = &end
	}
	if e.DurationSeconds != nil {
		d := *e.DurationSeconds
		e.DurationSeconds = &d
	}
	return e
}

func now() time.Time {
	return time.Now().UTC()
}
