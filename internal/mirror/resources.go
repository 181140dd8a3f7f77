package mirror

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// GetEmployees lists every employee of the organisation.
func (c *Client) GetEmployees(ctx context.Context) ([]Employee, error) {
	var out []Employee
	if err := c.getJSON(ctx, "/employee", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetEmployee fetches one employee.
func (c *Client) GetEmployee(ctx context.Context, id string) (*Employee, error) {
	var out Employee
	if err := c.getJSON(ctx, "/employee/"+escape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateEmployee creates an employee.
func (c *Client) CreateEmployee(ctx context.Context, in EmployeeInput) (*Employee, error) {
	var out Employee
	if err := c.sendJSON(ctx, http.MethodPost, "/employee", nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateEmployee replaces the mutable fields of an employee.
func (c *Client) UpdateEmployee(ctx context.Context, id string, in EmployeeInput) (*Employee, error) {
	var out Employee
	if err := c.sendJSON(ctx, http.MethodPut, "/employee/"+escape(id), nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeactivateEmployee stops tracking for an employee without deleting them.
func (c *Client) DeactivateEmployee(ctx context.Context, id string) (*Employee, error) {
	var out Employee
	if err := c.getJSON(ctx, "/employee/deactivate/"+escape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ActivateEmployee reverses DeactivateEmployee.
func (c *Client) ActivateEmployee(ctx context.Context, id string) (*Employee, error) {
	var out Employee
	if err := c.getJSON(ctx, "/employee/activate/"+escape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetProjects lists every project.
func (c *Client) GetProjects(ctx context.Context) ([]Project, error) {
	var out []Project
	if err := c.getJSON(ctx, "/project", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetProject fetches one project.
func (c *Client) GetProject(ctx context.Context, id string) (*Project, error) {
	var out Project
	if err := c.getJSON(ctx, "/project/"+escape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateProject creates a project.
func (c *Client) CreateProject(ctx context.Context, in ProjectInput) (*Project, error) {
	var out Project
	if err := c.sendJSON(ctx, http.MethodPost, "/project", nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateProject replaces the mutable fields of a project.
func (c *Client) UpdateProject(ctx context.Context, id string, in ProjectInput) (*Project, error) {
	var out Project
	if err := c.sendJSON(ctx, http.MethodPut, "/project/"+escape(id), nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteProject removes a project.
func (c *Client) DeleteProject(ctx context.Context, id string) error {
	return c.sendJSON(ctx, http.MethodDelete, "/project/"+escape(id), nil, nil, nil)
}

// ArchiveProject hides a project from tracking.
func (c *Client) ArchiveProject(ctx context.Context, id string) error {
	return c.getJSON(ctx, "/project/archive/"+escape(id), nil, nil)
}

// UnarchiveProject reverses ArchiveProject.
func (c *Client) UnarchiveProject(ctx context.Context, id string) error {
	return c.getJSON(ctx, "/project/unarchive/"+escape(id), nil, nil)
}

// GetTasks lists tasks, optionally restricted to one project.
func (c *Client) GetTasks(ctx context.Context, projectID string) ([]Task, error) {
	var query url.Values
	if projectID != "" {
		query = url.Values{"projectId": {projectID}}
	}
	var out []Task
	if err := c.getJSON(ctx, "/task", query, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetTask fetches one task.
func (c *Client) GetTask(ctx context.Context, id string) (*Task, error) {
	var out Task
	if err := c.getJSON(ctx, "/task/"+escape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateTask creates a task.
func (c *Client) CreateTask(ctx context.Context, in TaskInput) (*Task, error) {
	var out Task
	if err := c.sendJSON(ctx, http.MethodPost, "/task", nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateTask replaces the mutable fields of a task.
func (c *Client) UpdateTask(ctx context.Context, id string, in TaskInput) (*Task, error) {
	var out Task
	if err := c.sendJSON(ctx, http.MethodPut, "/task/"+escape(id), nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteTask removes a task.
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.sendJSON(ctx, http.MethodDelete, "/task/"+escape(id), nil, nil, nil)
}

// CreateDefaultTask creates the single billable task used when a project has no task breakdown.
func (c *Client) CreateDefaultTask(ctx context.Context, projectID, projectName string) (*Task, error) {
	return c.CreateTask(ctx, TaskInput{
		Name:        "Default Task - " + projectName,
		ProjectID:   projectID,
		Description: "Default task for time tracking",
		Billable:    true,
		Status:      "active",
		Priority:    "normal",
	})
}

// Filter narrows time entry and screenshot listings. Start and End are required by the remote.
type Filter struct {
	Start      time.Time
	End        time.Time
	GroupBy    string
	Timezone   string
	EmployeeID string
	TeamID     string
	ProjectID  string
	TaskID     string
	ShiftID    string
	AppID      string
	Sort       string
}

func (f Filter) values() url.Values {
	v := url.Values{}
	v.Set("start", strconv.FormatInt(int64(ToEpochMillis(f.Start)), 10))
	v.Set("end", strconv.FormatInt(int64(ToEpochMillis(f.End)), 10))
	for key, value := range map[string]string{
		"groupBy":    f.GroupBy,
		"timezone":   f.Timezone,
		"employeeId": f.EmployeeID,
		"teamId":     f.TeamID,
		"projectId":  f.ProjectID,
		"taskId":     f.TaskID,
		"shiftId":    f.ShiftID,
		"appId":      f.AppID,
		"sort":       f.Sort,
	} {
		if value != "" {
			v.Set(key, value)
		}
	}
	return v
}

// GetTimeEntries lists time entries within the filter window.
func (c *Client) GetTimeEntries(ctx context.Context, f Filter) ([]TimeEntry, error) {
	var out []TimeEntry
	if err := c.getJSON(ctx, "/window", f.values(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// StartTimeEntry creates an open time entry.
func (c *Client) StartTimeEntry(ctx context.Context, in TimeEntryInput) (*TimeEntry, error) {
	in.End = nil
	var out TimeEntry
	if err := c.sendJSON(ctx, http.MethodPost, "/window", nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StopTimeEntry closes an open remote time entry at end.
func (c *Client) StopTimeEntry(ctx context.Context, id string, end time.Time) (*TimeEntry, error) {
	body := struct {
		End EpochMillis `json:"end"`
	}{End: ToEpochMillis(end)}
	var out TimeEntry
	if err := c.sendJSON(ctx, http.MethodPut, "/window/"+escape(id), nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateManualTimeEntry records a closed time entry.
func (c *Client) CreateManualTimeEntry(ctx context.Context, in TimeEntryInput) (*TimeEntry, error) {
	if in.End == nil {
		return nil, &APIError{StatusCode: http.StatusBadRequest, Method: http.MethodPost, Path: "/window", Message: "manual time entry requires end"}
	}
	var out TimeEntry
	if err := c.sendJSON(ctx, http.MethodPost, "/window", nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetScreenshots lists screenshots within the filter window.
func (c *Client) GetScreenshots(ctx context.Context, f Filter) ([]Screenshot, error) {
	var out []Screenshot
	if err := c.getJSON(ctx, "/screenshot", f.values(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteScreenshot removes a screenshot.
func (c *Client) DeleteScreenshot(ctx context.Context, id string) error {
	return c.sendJSON(ctx, http.MethodDelete, "/screenshot/"+escape(id), nil, nil, nil)
}
