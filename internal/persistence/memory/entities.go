package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/MayankBharati/solidtracker/internal/domain"
)

// PutEmployee seeds or replaces an employee.
func (s *Store) PutEmployee(e domain.Employee) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.Status == "" {
		e.Status = domain.StatusActive
	}
	e.ProjectIDs = append([]string(nil), e.ProjectIDs...)
	s.employees[e.ID] = e
}

// PutProject seeds or replaces a project.
func (s *Store) PutProject(p domain.Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Status == "" {
		p.Status = domain.StatusActive
	}
	p.EmployeeIDs = append([]string(nil), p.EmployeeIDs...)
	s.projects[p.ID] = p
}

// PutTask seeds or replaces a task.
func (s *Store) PutTask(t domain.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.Status == "" {
		t.Status = domain.StatusActive
	}
	t.EmployeeIDs = append([]string(nil), t.EmployeeIDs...)
	s.tasks[t.ID] = t
}

// PutScreenshot seeds or replaces a screenshot.
func (s *Store) PutScreenshot(sc domain.Screenshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.screenshots[sc.ID] = sc
}

// GetEmployee returns nil when the employee does not exist.
func (s *Store) GetEmployee(ctx context.Context, id string) (*domain.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.employees[id]
	if !ok {
		return nil, nil
	}
	e.ProjectIDs = s.projectIDsFor(id, e.ProjectIDs)
	return &e, nil
}

// GetProject returns nil when the project does not exist.
func (s *Store) GetProject(ctx context.Context, id string) (*domain.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, nil
	}
	members := make(map[string]struct{}, len(p.EmployeeIDs))
	for _, eid := range p.EmployeeIDs {
		members[eid] = struct{}{}
	}
	for eid, e := range s.employees {
		for _, pid := range e.ProjectIDs {
			if pid == id {
				members[eid] = struct{}{}
			}
		}
	}
	p.EmployeeIDs = make([]string, 0, len(members))
	for eid := range members {
		p.EmployeeIDs = append(p.EmployeeIDs, eid)
	}
	sort.Strings(p.EmployeeIDs)
	return &p, nil
}

// GetTask returns nil when the task does not exist.
func (s *Store) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, nil
	}
	t.EmployeeIDs = append([]string(nil), t.EmployeeIDs...)
	return &t, nil
}

// GetScreenshot returns nil when the screenshot does not exist.
func (s *Store) GetScreenshot(ctx context.Context, id string) (*domain.Screenshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.screenshots[id]
	if !ok {
		return nil, nil
	}
	return &sc, nil
}

// ListEmployeeIDs returns employee ids with the given status in id order.
func (s *Store) ListEmployeeIDs(ctx context.Context, status string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.employees))
	for id, e := range s.employees {
		if status == "" || e.Status == status {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// ListProjectIDs returns project ids with the given status in id order.
func (s *Store) ListProjectIDs(ctx context.Context, status string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.projects))
	for id, p := range s.projects {
		if status == "" || p.Status == status {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// ListTaskIDs returns task ids with the given status in id order.
func (s *Store) ListTaskIDs(ctx context.Context, status string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.tasks))
	for id, t := range s.tasks {
		if status == "" || t.Status == status {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// ListProjectTasks returns the active tasks of a project in id order.
func (s *Store) ListProjectTasks(ctx context.Context, projectID string) ([]domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Task
	for _, t := range s.tasks {
		if t.ProjectID == projectID && t.Status == domain.StatusActive {
			t.EmployeeIDs = append([]string(nil), t.EmployeeIDs...)
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListAssignments returns the active projects the employee belongs to with the tasks open to them.
func (s *Store) ListAssignments(ctx context.Context, employeeID string) ([]domain.ProjectAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.employees[employeeID]
	var projectIDs []string
	if ok {
		projectIDs = s.projectIDsFor(employeeID, e.ProjectIDs)
	} else {
		projectIDs = s.projectIDsFor(employeeID, nil)
	}

	out := make([]domain.ProjectAssignment, 0, len(projectIDs))
	for _, pid := range projectIDs {
		p, ok := s.projects[pid]
		if !ok || p.Status != domain.StatusActive {
			continue
		}
		assignment := domain.ProjectAssignment{Project: p}
		for _, t := range s.tasks {
			if t.ProjectID == pid && t.AssignedTo(employeeID) {
				assignment.Tasks = append(assignment.Tasks, t)
			}
		}
		sort.Slice(assignment.Tasks, func(i, j int) bool { return assignment.Tasks[i].ID < assignment.Tasks[j].ID })
		out = append(out, assignment)
	}
	return out, nil
}

// UpsertDevice records the device keyed by employee and MAC address.
func (s *Store) UpsertDevice(ctx context.Context, d domain.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.LastSeen.IsZero() {
		d.LastSeen = now()
	}
	s.devices[d.EmployeeID+"|"+strings.ToLower(d.MACAddress)] = d
	return nil
}

// Devices returns the devices recorded for an employee.
func (s *Store) Devices(employeeID string) []domain.Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Device
	for _, d := range s.devices {
		if d.EmployeeID == employeeID {
			out = append(out, d)
		}
	}
	return out
}

// projectIDsFor merges the employee's own project list with project membership lists.
func (s *Store) projectIDsFor(employeeID string, own []string) []string {
	seen := make(map[string]struct{}, len(own))
	ids := make([]string, 0, len(own))
	for _, id := range own {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	for pid, p := range s.projects {
		for _, eid := range p.EmployeeIDs {
			if eid == employeeID {
				if _, ok := seen[pid]; !ok {
					seen[pid] = struct{}{}
					ids = append(ids, pid)
				}
			}
		}
	}
	sort.Strings(ids)
	return ids
}
