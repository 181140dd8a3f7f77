// Package events defines event payloads carried through the outbox and Kafka.
package events

import (
	"time"

	"github.com/MayankBharati/solidtracker/internal/domain"
)

// TimeEntryTopic is the topic every time entry event is routed to.
const TimeEntryTopic = "time_entry_events"

// TimeEntryChanged is emitted for every time entry mutation.
type TimeEntryChanged struct {
	TimeEntryID     string     `json:"time_entry_id"`
	EmployeeID      string     `json:"employee_id"`
	ProjectID       string     `json:"project_id"`
	TaskID          string     `json:"task_id"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationSeconds *int64     `json:"duration_seconds,omitempty"`
	OccurredAt      time.Time  `json:"occurred_at"`
}

// NewTimeEntryChanged builds the payload for an entry.
func NewTimeEntryChanged(e domain.TimeEntry) TimeEntryChanged {
	return TimeEntryChanged{
		TimeEntryID:     e.ID,
		EmployeeID:      e.EmployeeID,
		ProjectID:       e.ProjectID,
		TaskID:          e.TaskID,
		StartedAt:       e.StartedAt,
		EndedAt:         e.EndedAt,
		DurationSeconds: e.DurationSeconds,
		OccurredAt:      e.UpdatedAt,
	}
}
