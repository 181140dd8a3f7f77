package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/MayankBharati/solidtracker/internal/domain"
)

// GetEmployee returns nil when the employee does not exist.
func (r *Repository) GetEmployee(ctx context.Context, id string) (*domain.Employee, error) {
	const query = `SELECT e.employee_id, e.name, COALESCE(e.email, ''), e.status, e.created_at, e.updated_at,
            ARRAY(SELECT pa.project_id FROM project_assignments pa WHERE pa.employee_id = e.employee_id ORDER BY pa.project_id)
        FROM employees e WHERE e.employee_id=$1`

	var e domain.Employee
	err := r.pool.QueryRow(ctx, query, id).Scan(&e.ID, &e.Name, &e.Email, &e.Status, &e.CreatedAt, &e.UpdatedAt, &e.ProjectIDs)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

// GetProject returns nil when the project does not exist.
func (r *Repository) GetProject(ctx context.Context, id string) (*domain.Project, error) {
	const query = `SELECT p.project_id, p.name, p.description, p.status, p.created_at, p.updated_at,
            ARRAY(SELECT pa.employee_id FROM project_assignments pa WHERE pa.project_id = p.project_id ORDER BY pa.employee_id)
        FROM projects p WHERE p.project_id=$1`

	var p domain.Project
	err := r.pool.QueryRow(ctx, query, id).Scan(&p.ID, &p.Name, &p.Description, &p.Status, &p.CreatedAt, &p.UpdatedAt, &p.EmployeeIDs)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

const taskColumns = `t.task_id, t.project_id, t.name, t.description, t.status, t.created_at, t.updated_at,
            ARRAY(SELECT ta.employee_id FROM task_assignments ta WHERE ta.task_id = t.task_id ORDER BY ta.employee_id)`

func scanTask(row pgx.Row) (domain.Task, error) {
	var t domain.Task
	err := row.Scan(&t.ID, &t.ProjectID, &t.Name, &t.Description, &t.Status, &t.CreatedAt, &t.UpdatedAt, &t.EmployeeIDs)
	return t, err
}

// GetTask returns nil when the task does not exist.
func (r *Repository) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	t, err := scanTask(r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks t WHERE t.task_id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// GetScreenshot returns nil when the screenshot does not exist.
func (r *Repository) GetScreenshot(ctx context.Context, id string) (*domain.Screenshot, error) {
	const query = `SELECT screenshot_id, employee_id, COALESCE(time_entry_id, ''), file_path, captured_at, has_permission, created_at
        FROM screenshots WHERE screenshot_id=$1`

	var s domain.Screenshot
	err := r.pool.QueryRow(ctx, query, id).Scan(&s.ID, &s.EmployeeID, &s.TimeEntryID, &s.FilePath, &s.CapturedAt, &s.HasPermission, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// ListEmployeeIDs returns employee ids with the given status; an empty status lists all.
func (r *Repository) ListEmployeeIDs(ctx context.Context, status string) ([]string, error) {
	return r.listIDs(ctx, `SELECT employee_id FROM employees WHERE ($1 = '' OR status = $1) ORDER BY employee_id`, status)
}

// ListProjectIDs returns project ids with the given status; an empty status lists all.
func (r *Repository) ListProjectIDs(ctx context.Context, status string) ([]string, error) {
	return r.listIDs(ctx, `SELECT project_id FROM projects WHERE ($1 = '' OR status = $1) ORDER BY project_id`, status)
}

// ListTaskIDs returns task ids with the given status; an empty status lists all.
func (r *Repository) ListTaskIDs(ctx context.Context, status string) ([]string, error) {
	return r.listIDs(ctx, `SELECT task_id FROM tasks WHERE ($1 = '' OR status = $1) ORDER BY task_id`, status)
}

// ListProjectTasks returns the active tasks of a project in id order.
func (r *Repository) ListProjectTasks(ctx context.Context, projectID string) ([]domain.Task, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+taskColumns+` FROM tasks t
        WHERE t.project_id=$1 AND t.status='active' ORDER BY t.task_id`, projectID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Task, error) {
		return scanTask(row)
	})
}

func (r *Repository) listIDs(ctx context.Context, query, status string) ([]string, error) {
	rows, err := r.pool.Query(ctx, query, status)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// ListAssignments returns the active projects the employee belongs to with the tasks open to them.
func (r *Repository) ListAssignments(ctx context.Context, employeeID string) ([]domain.ProjectAssignment, error) {
	const projectsQuery = `SELECT p.project_id, p.name, p.description, p.status, p.created_at, p.updated_at
        FROM projects p JOIN project_assignments pa ON pa.project_id = p.project_id
        WHERE pa.employee_id=$1 AND p.status='active' ORDER BY p.project_id`

	rows, err := r.pool.Query(ctx, projectsQuery, employeeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ProjectAssignment
	index := make(map[string]int)
	var projectIDs []string
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		index[p.ID] = len(out)
		projectIDs = append(projectIDs, p.ID)
		out = append(out, domain.ProjectAssignment{Project: p})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(projectIDs) == 0 {
		return out, nil
	}

	tasksQuery := `SELECT ` + taskColumns + ` FROM tasks t
        WHERE t.project_id = ANY($1)
          AND (NOT EXISTS (SELECT 1 FROM task_assignments ta WHERE ta.task_id = t.task_id)
               OR EXISTS (SELECT 1 FROM task_assignments ta WHERE ta.task_id = t.task_id AND ta.employee_id = $2))
        ORDER BY t.task_id`
	taskRows, err := r.pool.Query(ctx, tasksQuery, projectIDs, employeeID)
	if err != nil {
		return nil, err
	}
	defer taskRows.Close()
	for taskRows.Next() {
		t, err := scanTask(taskRows)
		if err != nil {
			return nil, err
		}
		i := index[t.ProjectID]
		out[i].Tasks = append(out[i].Tasks, t)
	}
	return out, taskRows.Err()
}

// UpsertDevice records the device keyed by employee and MAC address.
func (r *Repository) UpsertDevice(ctx context.Context, d domain.Device) error {
	info, err := json.Marshal(d.Info)
	if err != nil {
		return err
	}
	const stmt = `INSERT INTO devices (employee_id, mac_address, hostname, device_info, last_seen)
        VALUES ($1, $2, $3, $4, COALESCE($5, NOW()))
        ON CONFLICT (employee_id, mac_address)
        DO UPDATE SET hostname = EXCLUDED.hostname, device_info = EXCLUDED.device_info, last_seen = EXCLUDED.last_seen`

	var lastSeen any
	if !d.LastSeen.IsZero() {
		lastSeen = d.LastSeen
	}
	_, err = r.pool.Exec(ctx, stmt, d.EmployeeID, strings.ToLower(d.MACAddress), d.Hostname, info, lastSeen)
	return translateError(err)
}
