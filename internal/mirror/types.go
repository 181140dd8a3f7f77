package mirror

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// EpochMillis is a timestamp in milliseconds since the Unix epoch. It decodes from a JSON
// number, a numeric string or an RFC 3339 string, since the remote is not consistent.
type EpochMillis int64

// ToEpochMillis converts t to the wire form. Sub-millisecond precision is dropped.
func ToEpochMillis(t time.Time) EpochMillis {
	return EpochMillis(t.UnixMilli())
}

// FromEpochMillis converts the wire form back to a UTC time.
func FromEpochMillis(ms EpochMillis) time.Time {
	return time.UnixMilli(int64(ms)).UTC()
}

// Time returns the UTC time, or the zero time for 0.
func (m EpochMillis) Time() time.Time {
	if m == 0 {
		return time.Time{}
	}
	return FromEpochMillis(m)
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *EpochMillis) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*m = 0
		return nil
	}
	if data[0] != '"' {
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		f, err := n.Float64()
		if err != nil {
			return err
		}
		*m = EpochMillis(int64(f))
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*m = 0
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*m = EpochMillis(n)
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	*m = ToEpochMillis(t)
	return nil
}

// SystemPermissions mirrors the remote permission states.
type SystemPermissions struct {
	Accessibility                 string `json:"accessibility,omitempty"`
	ScreenAndSystemAudioRecording string `json:"screenAndSystemAudioRecording,omitempty"`
}

// Permission states used in SystemPermissions.
const (
	PermissionAuthorized   = "authorized"
	PermissionDenied       = "denied"
	PermissionUndetermined = "undetermined"
)

// Employee is the remote employee resource.
type Employee struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	Email            string      `json:"email,omitempty"`
	TeamsID          string      `json:"teamsId,omitempty"`
	SharedSettingsID string      `json:"sharedSettingsId,omitempty"`
	AccountID        string      `json:"accountId,omitempty"`
	Identifier       string      `json:"identifier,omitempty"`
	Type             string      `json:"type,omitempty"`
	OrganizationID   string      `json:"organizationId,omitempty"`
	Projects         []string    `json:"projects,omitempty"`
	Deactivated      EpochMillis `json:"deactivated,omitempty"`
	Invited          EpochMillis `json:"invited,omitempty"`
	CreatedAt        EpochMillis `json:"createdAt,omitempty"`
}

// EmployeeInput is the create/update payload for employees.
type EmployeeInput struct {
	Name             string   `json:"name"`
	Email            string   `json:"email,omitempty"`
	TeamsID          string   `json:"teamsId,omitempty"`
	SharedSettingsID string   `json:"sharedSettingsId,omitempty"`
	Projects         []string `json:"projects,omitempty"`
}

// ScreenshotSettings toggles screenshot capture for a project.
type ScreenshotSettings struct {
	ScreenshotEnabled bool `json:"screenshotEnabled"`
}

// Project is the remote project resource.
type Project struct {
	ID                 string              `json:"id"`
	Archived           bool                `json:"archived"`
	Statuses           []string            `json:"statuses,omitempty"`
	Priorities         []string            `json:"priorities,omitempty"`
	Billable           bool                `json:"billable"`
	Name               string              `json:"name"`
	Description        string              `json:"description,omitempty"`
	Employees          []string            `json:"employees,omitempty"`
	CreatorID          string              `json:"creatorId,omitempty"`
	OrganizationID     string              `json:"organizationId,omitempty"`
	Teams              []string            `json:"teams,omitempty"`
	CreatedAt          EpochMillis         `json:"createdAt,omitempty"`
	ScreenshotSettings *ScreenshotSettings `json:"screenshotSettings,omitempty"`
}

// ProjectInput is the create/update payload for projects.
type ProjectInput struct {
	Name               string              `json:"name"`
	Description        string              `json:"description,omitempty"`
	Billable           bool                `json:"billable"`
	Employees          []string            `json:"employees,omitempty"`
	Teams              []string            `json:"teams,omitempty"`
	ScreenshotSettings *ScreenshotSettings `json:"screenshotSettings,omitempty"`
}

// Task is the remote task resource.
type Task struct {
	ID             string      `json:"id"`
	Status         string      `json:"status,omitempty"`
	Priority       string      `json:"priority,omitempty"`
	Billable       bool        `json:"billable"`
	Name           string      `json:"name"`
	ProjectID      string      `json:"projectId"`
	Employees      []string    `json:"employees,omitempty"`
	Description    string      `json:"description,omitempty"`
	CreatorID      string      `json:"creatorId,omitempty"`
	OrganizationID string      `json:"organizationId,omitempty"`
	Teams          []string    `json:"teams,omitempty"`
	CreatedAt      EpochMillis `json:"createdAt,omitempty"`
}

// TaskInput is the create/update payload for tasks.
type TaskInput struct {
	Name        string   `json:"name"`
	ProjectID   string   `json:"projectId"`
	Description string   `json:"description,omitempty"`
	Billable    bool     `json:"billable"`
	Employees   []string `json:"employees,omitempty"`
	Status      string   `json:"status,omitempty"`
	Priority    string   `json:"priority,omitempty"`
}

// TimeEntry is the remote time entry ("window") resource.
type TimeEntry struct {
	ID             string       `json:"id"`
	EmployeeID     string       `json:"employeeId"`
	ProjectID      string       `json:"projectId"`
	TaskID         string       `json:"taskId"`
	Start          EpochMillis  `json:"start"`
	End            *EpochMillis `json:"end,omitempty"`
	Duration       *int64       `json:"duration,omitempty"`
	Timezone       string       `json:"timezone,omitempty"`
	TimezoneOffset *int         `json:"timezoneOffset,omitempty"`
	Paid           *bool        `json:"paid,omitempty"`
	Billable       *bool        `json:"billable,omitempty"`
	Overtime       *bool        `json:"overtime,omitempty"`
}

// Interval returns the entry bounds; end is nil while the remote entry is open.
func (e TimeEntry) Interval() (time.Time, *time.Time) {
	start := FromEpochMillis(e.Start)
	if e.End == nil {
		return start, nil
	}
	end := FromEpochMillis(*e.End)
	return start, &end
}

// TimeEntryInput is the payload for starting or manually recording a time entry.
type TimeEntryInput struct {
	EmployeeID string       `json:"employeeId"`
	ProjectID  string       `json:"projectId"`
	TaskID     string       `json:"taskId"`
	Start      EpochMillis  `json:"start"`
	End        *EpochMillis `json:"end,omitempty"`
	Timezone   string       `json:"timezone,omitempty"`
}

// Screenshot is the remote screenshot resource.
type Screenshot struct {
	ID                  string             `json:"id"`
	Site                string             `json:"site,omitempty"`
	Productivity        *float64           `json:"productivity,omitempty"`
	EmployeeID          string             `json:"employeeId"`
	AppID               string             `json:"appId,omitempty"`
	TeamID              string             `json:"teamId,omitempty"`
	OrganizationID      string             `json:"organizationId,omitempty"`
	TimestampTranslated string             `json:"timestampTranslated,omitempty"`
	SystemPermissions   *SystemPermissions `json:"systemPermissions,omitempty"`
	Next                string             `json:"next,omitempty"`
}

// ScreenshotMetadata is sent as the JSON "metadata" form field on upload.
type ScreenshotMetadata struct {
	ProjectID         string             `json:"projectId,omitempty"`
	TaskID            string             `json:"taskId,omitempty"`
	CapturedAt        *EpochMillis       `json:"capturedAt,omitempty"`
	SystemPermissions *SystemPermissions `json:"systemPermissions,omitempty"`
}
