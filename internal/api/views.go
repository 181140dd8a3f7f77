package api

import (
	"errors"
	"strings"
	"time"

	"github.com/MayankBharati/solidtracker/internal/domain"
)

// StartTimerRequest is the payload for POST /v1/timer/start. EmployeeID defaults to the token
// subject.
type StartTimerRequest struct {
	EmployeeID string `json:"employee_id,omitempty"`
	ProjectID  string `json:"project_id"`
	TaskID     string `json:"task_id"`
}

// StopTimerRequest is the optional payload for POST /v1/timer/stop.
type StopTimerRequest struct {
	EmployeeID string `json:"employee_id,omitempty"`
}

// CreateManualEntryRequest is the payload for POST /v1/time-entries.
type CreateManualEntryRequest struct {
	EmployeeID string    `json:"employee_id,omitempty"`
	ProjectID  string    `json:"project_id"`
	TaskID     string    `json:"task_id"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
}

// Validate ensures request correctness.
func (r CreateManualEntryRequest) Validate() error {
	if strings.TrimSpace(r.ProjectID) == "" {
		return errors.New("project_id is required")
	}
	if strings.TrimSpace(r.TaskID) == "" {
		return errors.New("task_id is required")
	}
	if r.StartedAt.IsZero() {
		return errors.New("started_at is required")
	}
	if r.EndedAt.IsZero() {
		return errors.New("ended_at is required")
	}
	return nil
}

// UpdateTimeEntryRequest closes an entry. A missing ended_at closes it now.
type UpdateTimeEntryRequest struct {
	EndedAt *time.Time `json:"ended_at,omitempty"`
}

// TimeEntryView exposes a time entry. ElapsedSeconds is computed at response time for active
// entries and equals DurationSeconds for closed ones.
type TimeEntryView struct {
	ID              string     `json:"id"`
	EmployeeID      string     `json:"employee_id"`
	ProjectID       string     `json:"project_id"`
	TaskID          string     `json:"task_id"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationSeconds *int64     `json:"duration_seconds,omitempty"`
	ElapsedSeconds  int64      `json:"elapsed_seconds"`
	Active          bool       `json:"active"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ActiveTimerResponse carries the active entry, if any, plus the server clock so clients can
// resynchronise their local ticker.
type ActiveTimerResponse struct {
	Entry      *TimeEntryView `json:"entry"`
	ServerTime time.Time      `json:"server_time"`
}

// ListTimeEntriesResponse packages list results.
type ListTimeEntriesResponse struct {
	Items      []TimeEntryView `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// ProjectView is a project as seen by an assigned employee.
type ProjectView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`
}

// TaskView is a task open to the requesting employee.
type TaskView struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
}

// AssignmentView groups a project with its tasks.
type AssignmentView struct {
	Project ProjectView `json:"project"`
	Tasks   []TaskView  `json:"tasks"`
}

// AssignmentsResponse is returned by GET /v1/assignments.
type AssignmentsResponse struct {
	Items []AssignmentView `json:"items"`
}

// DeviceHeartbeatRequest is the payload for POST /v1/devices.
type DeviceHeartbeatRequest struct {
	EmployeeID string         `json:"employee_id,omitempty"`
	MACAddress string         `json:"mac_address"`
	Hostname   string         `json:"hostname"`
	Info       map[string]any `json:"info,omitempty"`
}

// SyncRequest is the payload for POST /v1/sync.
type SyncRequest struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
}

// SyncAllRequest is the payload for POST /v1/sync/all.
type SyncAllRequest struct {
	Scope string `json:"scope"`
}

// BindRequest is the payload for POST /v1/sync/bind.
type BindRequest struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	RemoteID   string `json:"remote_id"`
}

// SyncResponse reports one sync attempt. Type and Detail follow the error body convention
// when the attempt failed.
type SyncResponse struct {
	EntityType string   `json:"entity_type"`
	EntityID   string   `json:"entity_id"`
	RemoteID   string   `json:"remote_id,omitempty"`
	Action     string   `json:"action,omitempty"`
	Status     string   `json:"status"`
	Type       string   `json:"type,omitempty"`
	Detail     string   `json:"detail,omitempty"`
	Missing    []string `json:"missing,omitempty"`
}

// LinkageView exposes a remote linkage.
type LinkageView struct {
	RemoteID       string     `json:"remote_id,omitempty"`
	LastSyncedAt   *time.Time `json:"last_synced_at,omitempty"`
	LastSyncStatus string     `json:"last_sync_status,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	Placeholder    bool       `json:"placeholder"`
}

// SyncLogView exposes one sync log entry.
type SyncLogView struct {
	Action       string    `json:"action"`
	Status       string    `json:"status"`
	RemoteID     string    `json:"remote_id,omitempty"`
	ErrorClass   string    `json:"error_class,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// SyncStatusResponse is returned by GET /v1/sync/status.
type SyncStatusResponse struct {
	EntityType string        `json:"entity_type"`
	EntityID   string        `json:"entity_id"`
	Linkage    *LinkageView  `json:"linkage,omitempty"`
	Log        []SyncLogView `json:"log"`
}

func (h *Handler) toView(e domain.TimeEntry) TimeEntryView {
	return TimeEntryView{
		ID:              e.ID,
		EmployeeID:      e.EmployeeID,
		ProjectID:       e.ProjectID,
		TaskID:          e.TaskID,
		StartedAt:       e.StartedAt,
		EndedAt:         e.EndedAt,
		DurationSeconds: e.DurationSeconds,
		ElapsedSeconds:  int64(e.Elapsed(h.now()) / time.Second),
		Active:          e.Active(),
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
	}
}

func toAssignmentView(a domain.ProjectAssignment) AssignmentView {
	view := AssignmentView{
		Project: ProjectView{
			ID:          a.Project.ID,
			Name:        a.Project.Name,
			Description: a.Project.Description,
			Status:      a.Project.Status,
		},
		Tasks: make([]TaskView, 0, len(a.Tasks)),
	}
	for _, t := range a.Tasks {
		view.Tasks = append(view.Tasks, TaskView{ID: t.ID, ProjectID: t.ProjectID, Name: t.Name, Status: t.Status})
	}
	return view
}

func toLinkageView(l domain.RemoteLinkage) LinkageView {
	return LinkageView{
		RemoteID:       l.RemoteID,
		LastSyncedAt:   l.LastSyncedAt,
		LastSyncStatus: string(l.LastSyncStatus),
		LastError:      l.LastError,
		Placeholder:    domain.IsPlaceholder(l.RemoteID),
	}
}

func toSyncLogView(e domain.SyncLogEntry) SyncLogView {
	return SyncLogView{
		Action:       string(e.Action),
		Status:       string(e.Status),
		RemoteID:     e.RemoteID,
		ErrorClass:   e.ErrorClass,
		ErrorMessage: e.ErrorMessage,
		CreatedAt:    e.CreatedAt,
	}
}
