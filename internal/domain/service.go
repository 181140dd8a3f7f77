// Package domain defines the business logic for time tracking and remote sync bookkeeping.
package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// CloseFunc derives the closed form of an entry inside the repository transaction.
type CloseFunc func(TimeEntry) (TimeEntry, error)

// UpdateFunc derives the new form of an entry inside the repository transaction. It reports
// false when the entry is left unchanged, in which case nothing is written.
type UpdateFunc func(TimeEntry) (TimeEntry, bool, error)

// TimeEntryRepository captures persistence operations. Every mutation records the given
// event in the outbox within the same transaction.
type TimeEntryRepository interface {
	// InsertTimeEntry stores a new entry. Inserting an active entry for an employee who already
	// has one returns ErrAlreadyActive.
	InsertTimeEntry(ctx context.Context, entry TimeEntry, event TimeEntryEvent) error
	// CloseActive locks the employee's active entry, applies fn and stores the result.
	// It returns ErrNoActiveEntry when there is nothing to close.
	CloseActive(ctx context.Context, employeeID string, event TimeEntryEvent, fn CloseFunc) (*TimeEntry, error)
	// UpdateTimeEntry locks the entry, applies fn and stores the result when it changed.
	// It returns ErrTimeEntryNotFound for an unknown id.
	UpdateTimeEntry(ctx context.Context, id string, event TimeEntryEvent, fn UpdateFunc) (*TimeEntry, error)
	GetTimeEntry(ctx context.Context, id string) (*TimeEntry, error)
	GetActive(ctx context.Context, employeeID string) (*TimeEntry, error)
	ListForEmployee(ctx context.Context, employeeID string, r TimeRange, cursor *Cursor, limit int) ([]TimeEntry, *Cursor, error)
}

// Service is the time entry store: it owns the lifecycle of time entries and the single-active
// invariant.
type Service struct {
	repo TimeEntryRepository
	now  func() time.Time
}

// ServiceOption customises a Service.
type ServiceOption func(*Service)

// WithClock overrides the wall clock used for start and stop timestamps.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs a Service.
func NewService(repo TimeEntryRepository, opts ...ServiceOption) *Service {
	s := &Service{repo: repo, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Timestamps are kept at millisecond precision so they survive the epoch-millisecond wire form.
func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

func normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// StartInput identifies what a new timer is tracking.
type StartInput struct {
	EmployeeID string
	ProjectID  string
	TaskID     string
}

func (in StartInput) validate() error {
	if err := requireID("employee_id", in.EmployeeID); err != nil {
		return err
	}
	if err := requireID("project_id", in.ProjectID); err != nil {
		return err
	}
	return requireID("task_id", in.TaskID)
}

// Start opens a new active entry stamped with the current time.
func (s *Service) Start(ctx context.Context, input StartInput) (*TimeEntry, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	existing, err := s.repo.GetActive(ctx, input.EmployeeID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrAlreadyActive
	}

	now := s.clock()
	entry := TimeEntry{
		ID:         uuid.NewString(),
		EmployeeID: input.EmployeeID,
		ProjectID:  input.ProjectID,
		TaskID:     input.TaskID,
		StartedAt:  now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	// The repository enforces the invariant again for concurrent starts.
	if err := s.repo.InsertTimeEntry(ctx, entry, EventTimeEntryStarted); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Stop closes the employee's active entry at the current time. A clock that went backwards
// yields a zero duration.
func (s *Service) Stop(ctx context.Context, employeeID string) (*TimeEntry, error) {
	if err := requireID("employee_id", employeeID); err != nil {
		return nil, err
	}
	now := s.clock()
	return s.repo.CloseActive(ctx, employeeID, EventTimeEntryStopped, func(e TimeEntry) (TimeEntry, error) {
		closed, err := closeAt(e, now, false)
		if err != nil {
			return TimeEntry{}, err
		}
		closed.UpdatedAt = now
		return closed, nil
	})
}

// ManualEntryInput describes a closed interval recorded after the fact.
type ManualEntryInput struct {
	EmployeeID string
	ProjectID  string
	TaskID     string
	Start      time.Time
	End        time.Time
}

// CreateManual records a closed entry. It never conflicts with an active entry.
func (s *Service) CreateManual(ctx context.Context, input ManualEntryInput) (*TimeEntry, error) {
	if err := (StartInput{EmployeeID: input.EmployeeID, ProjectID: input.ProjectID, TaskID: input.TaskID}).validate(); err != nil {
		return nil, err
	}
	if input.Start.IsZero() {
		return nil, &ValidationError{Field: "start", Reason: "required"}
	}
	if input.End.IsZero() {
		return nil, &ValidationError{Field: "end", Reason: "required"}
	}

	now := s.clock()
	entry, err := closeAt(TimeEntry{
		ID:         uuid.NewString(),
		EmployeeID: input.EmployeeID,
		ProjectID:  input.ProjectID,
		TaskID:     input.TaskID,
		StartedAt:  normalize(input.Start),
		CreatedAt:  now,
		UpdatedAt:  now,
	}, normalize(input.End), true)
	if err != nil {
		return nil, err
	}
	if err := s.repo.InsertTimeEntry(ctx, entry, EventTimeEntryRecorded); err != nil {
		return nil, err
	}
	return &entry, nil
}

// TimeEntryPatch is the only permitted update: closing an entry. A nil EndedAt means now.
type TimeEntryPatch struct {
	EndedAt *time.Time
}

// Update closes an entry by id and recomputes its duration. Repeating the same end is a
// no-op; a different end on a closed entry returns ErrEntryClosed.
func (s *Service) Update(ctx context.Context, id string, patch TimeEntryPatch) (*TimeEntry, error) {
	if err := requireID("id", id); err != nil {
		return nil, err
	}
	now := s.clock()
	end := now
	if patch.EndedAt != nil {
		end = normalize(*patch.EndedAt)
	}
	return s.repo.UpdateTimeEntry(ctx, id, EventTimeEntryUpdated, func(e TimeEntry) (TimeEntry, bool, error) {
		if !e.Active() {
			if patch.EndedAt != nil && e.EndedAt.Equal(end) {
				return e, false, nil
			}
			return TimeEntry{}, false, ErrEntryClosed
		}
		closed, err := closeAt(e, end, true)
		if err != nil {
			return TimeEntry{}, false, err
		}
		closed.UpdatedAt = now
		return closed, true, nil
	})
}

// GetActive returns the employee's open entry, or nil when there is none.
func (s *Service) GetActive(ctx context.Context, employeeID string) (*TimeEntry, error) {
	if err := requireID("employee_id", employeeID); err != nil {
		return nil, err
	}
	return s.repo.GetActive(ctx, employeeID)
}

// GetTimeEntry fetches by ID.
func (s *Service) GetTimeEntry(ctx context.Context, id string) (*TimeEntry, error) {
	entry, err := s.repo.GetTimeEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, ErrTimeEntryNotFound
	}
	return entry, nil
}

// ListForEmployee returns entries ordered by StartedAt descending with cursor pagination.
func (s *Service) ListForEmployee(ctx context.Context, employeeID string, r TimeRange, cursor *Cursor, limit int) ([]TimeEntry, *Cursor, error) {
	if err := requireID("employee_id", employeeID); err != nil {
		return nil, nil, err
	}
	if !r.From.IsZero() && !r.To.IsZero() && r.To.Before(r.From) {
		return nil, nil, ErrInvalidRange
	}
	return s.repo.ListForEmployee(ctx, employeeID, r, cursor, limit)
}
