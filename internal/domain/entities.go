package domain

import "time"

// Entity status values as stored locally.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
	StatusArchived = "archived"
)

// Employee is a person whose work is tracked.
type Employee struct {
	ID         string
	Name       string
	Email      string
	Status     string
	ProjectIDs []string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Project groups tasks and employees.
type Project struct {
	ID          string
	Name        string
	Description string
	Status      string
	EmployeeIDs []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Task belongs to exactly one project. An empty EmployeeIDs means open to every project member.
type Task struct {
	ID          string
	ProjectID   string
	Name        string
	Description string
	Status      string
	EmployeeIDs []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AssignedTo reports whether the employee may track time against the task.
func (t Task) AssignedTo(employeeID string) bool {
	if len(t.EmployeeIDs) == 0 {
		return true
	}
	for _, id := range t.EmployeeIDs {
		if id == employeeID {
			return true
		}
	}
	return false
}

// Screenshot is a captured image tied to an employee and optionally a time entry.
type Screenshot struct {
	ID            string
	EmployeeID    string
	TimeEntryID   string
	FilePath      string
	CapturedAt    time.Time
	HasPermission bool
	CreatedAt     time.Time
}

// ProjectAssignment is a project an employee works on together with the tasks open to them.
type ProjectAssignment struct {
	Project Project
	Tasks   []Task
}

// Device is the last known machine an employee tracked time from.
type Device struct {
	EmployeeID string
	MACAddress string
	Hostname   string
	Info       map[string]any
	LastSeen   time.Time
}
