package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrAlreadyActive is returned when an employee already has an open time entry.
	ErrAlreadyActive = errors.New("employee already has an active time entry")
	// ErrNoActiveEntry is returned when stop is called without an open time entry.
	ErrNoActiveEntry = errors.New("no active time entry")
	// ErrTimeEntryNotFound is returned when a time entry cannot be located.
	ErrTimeEntryNotFound = errors.New("time entry not found")
	// ErrInvalidRange is returned when an end timestamp precedes the start beyond ClockSkewTolerance.
	ErrInvalidRange = errors.New("end time precedes start time")
	// ErrEntryClosed is returned when a closed entry is given a different end timestamp.
	ErrEntryClosed = errors.New("time entry already closed")
)

// ClockSkewTolerance bounds how far an end timestamp may precede the start before it is rejected.
// Within the tolerance the end is clamped to the start.
const ClockSkewTolerance = 2 * time.Second

// ValidationError reports a malformed input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// TimeEntry is an interval of work by one employee on one task of one project.
// EndedAt and DurationSeconds are nil while the entry is active.
type TimeEntry struct {
	ID              string
	EmployeeID      string
	ProjectID       string
	TaskID          string
	StartedAt       time.Time
	EndedAt         *time.Time
	DurationSeconds *int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Active reports whether the entry is still open.
func (e TimeEntry) Active() bool {
	return e.EndedAt == nil
}

// Elapsed returns the time between StartedAt and now for an open entry, or the stored
// duration for a closed one. It never goes negative.
func (e TimeEntry) Elapsed(now time.Time) time.Duration {
	if e.DurationSeconds != nil {
		return time.Duration(*e.DurationSeconds) * time.Second
	}
	if d := now.Sub(e.StartedAt); d > 0 {
		return d
	}
	return 0
}

// DurationSeconds computes max(0, floor((end-start)/1s)).
func DurationSeconds(start, end time.Time) int64 {
	d := end.Sub(start)
	if d <= 0 {
		return 0
	}
	return int64(d / time.Second)
}

// closeAt returns a copy of e with EndedAt and DurationSeconds set. An end before the start is
// clamped to the start when strict is false or when the gap is within ClockSkewTolerance.
func closeAt(e TimeEntry, end time.Time, strict bool) (TimeEntry, error) {
	if end.Before(e.StartedAt) {
		if strict && e.StartedAt.Sub(end) > ClockSkewTolerance {
			return TimeEntry{}, ErrInvalidRange
		}
		end = e.StartedAt
	}
	duration := DurationSeconds(e.StartedAt, end)
	e.EndedAt = &end
	e.DurationSeconds = &duration
	return e, nil
}

// TimeRange bounds a listing by StartedAt. Zero values are open ends; To is exclusive.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the range.
func (r TimeRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.To) {
		return false
	}
	return true
}

// Cursor models the pagination token.
type Cursor struct {
	StartedAt time.Time
	ID        string
}

// TimeEntryEvent names the outbox events recorded with every time entry mutation.
type TimeEntryEvent string

const (
	EventTimeEntryStarted  TimeEntryEvent = "time_entry.started"
	EventTimeEntryStopped  TimeEntryEvent = "time_entry.stopped"
	EventTimeEntryRecorded TimeEntryEvent = "time_entry.recorded"
	EventTimeEntryUpdated  TimeEntryEvent = "time_entry.updated"
)

func requireID(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{Field: field, Reason: "required"}
	}
	return nil
}
