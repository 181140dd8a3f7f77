package mirrorsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/MayankBharati/solidtracker/internal/domain"
	"github.com/MayankBharati/solidtracker/internal/mirror"
)

// plan holds the remote calls for one loaded entity whose dependencies are satisfied. after, when
// set, runs once the entity is created or updated under a real remote id and may replace the
// response.
type plan struct {
	create func(ctx context.Context) (remoteID string, resp any, err error)
	update func(ctx context.Context, remoteID string) (domain.SyncAction, any, error)
	after  func(ctx context.Context, remoteID string, resp any) (any, error)
}

func (c *Coordinator) planFor(ctx context.Context, entityType domain.EntityType, id string) (*plan, error) {
	switch entityType {
	case domain.EntityEmployee:
		return c.employeePlan(ctx, id)
	case domain.EntityProject:
		return c.projectPlan(ctx, id)
	case domain.EntityTask:
		return c.taskPlan(ctx, id)
	case domain.EntityTimeEntry:
		return c.timeEntryPlan(ctx, id)
	case domain.EntityScreenshot:
		return c.screenshotPlan(ctx, id)
	default:
		return nil, &domain.ValidationError{Field: "entity_type", Reason: fmt.Sprintf("unsupported entity type %q", entityType)}
	}
}

func notFound(entityType domain.EntityType, id string) error {
	return fmt.Errorf("%s %s: %w", entityType, id, ErrEntityNotFound)
}

func (c *Coordinator) employeePlan(ctx context.Context, id string) (*plan, error) {
	e, err := c.entities.GetEmployee(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load employee: %w", err)
	}
	if e == nil {
		return nil, notFound(domain.EntityEmployee, id)
	}
	projects, err := c.remoteIDList(ctx, domain.EntityProject, e.ProjectIDs)
	if err != nil {
		return nil, err
	}
	return &plan{
		create: func(ctx context.Context) (string, any, error) {
			res, err := c.remote.CreateEmployee(ctx, mirror.EmployeeInput{Name: e.Name, Email: e.Email})
			if err != nil {
				return "", nil, err
			}
			return res.ID, res, nil
		},
		update: func(ctx context.Context, remoteID string) (domain.SyncAction, any, error) {
			res, err := c.remote.UpdateEmployee(ctx, remoteID, mirror.EmployeeInput{Name: e.Name, Projects: projects})
			if err != nil {
				return domain.SyncActionUpdate, nil, err
			}
			return domain.SyncActionUpdate, res, nil
		},
		after: func(ctx context.Context, remoteID string, resp any) (any, error) {
			return c.reconcileEmployeeStatus(ctx, e.Status, remoteID, resp)
		},
	}, nil
}

// reconcileEmployeeStatus deactivates the remote employee when the local one is inactive, and
// reactivates it otherwise. resp is the last remote view of the employee, if any.
func (c *Coordinator) reconcileEmployeeStatus(ctx context.Context, status, remoteID string, resp any) (any, error) {
	remote, _ := resp.(*mirror.Employee)
	deactivated := remote != nil && remote.Deactivated != 0
	inactive := status == domain.StatusInactive

	var (
		res *mirror.Employee
		err error
	)
	switch {
	case inactive && !deactivated:
		res, err = c.remote.DeactivateEmployee(ctx, remoteID)
	case !inactive && deactivated:
		res, err = c.remote.ActivateEmployee(ctx, remoteID)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("set remote employee %s %s: %w", remoteID, status, err)
	}
	return res, nil
}

func (c *Coordinator) projectPlan(ctx context.Context, id string) (*plan, error) {
	p, err := c.entities.GetProject(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load project: %w", err)
	}
	if p == nil {
		return nil, notFound(domain.EntityProject, id)
	}
	employees, err := c.remoteIDList(ctx, domain.EntityEmployee, p.EmployeeIDs)
	if err != nil {
		return nil, err
	}
	in := mirror.ProjectInput{
		Name:               p.Name,
		Description:        p.Description,
		Billable:           true,
		Employees:          employees,
		ScreenshotSettings: &mirror.ScreenshotSettings{ScreenshotEnabled: true},
	}
	return &plan{
		create: func(ctx context.Context) (string, any, error) {
			res, err := c.remote.CreateProject(ctx, in)
			if err != nil {
				return "", nil, err
			}
			return res.ID, res, nil
		},
		update: func(ctx context.Context, remoteID string) (domain.SyncAction, any, error) {
			res, err := c.remote.UpdateProject(ctx, remoteID, in)
			if err != nil {
				return domain.SyncActionUpdate, nil, err
			}
			return domain.SyncActionUpdate, res, nil
		},
		after: func(ctx context.Context, remoteID string, resp any) (any, error) {
			c.bindDefaultTask(ctx, *p, remoteID)
			return nil, nil
		},
	}, nil
}

// bindDefaultTask gives a project whose only local task is not mirrored yet the remote default
// task, bound to that local task. Failures are recorded against the task and leave the project
// sync intact; the task is then created normally on its own sync.
func (c *Coordinator) bindDefaultTask(ctx context.Context, p domain.Project, projectRemote string) {
	tasks, err := c.entities.ListProjectTasks(ctx, p.ID)
	if err != nil {
		c.logger.Warn("default task skipped", slog.String("project_id", p.ID), slog.String("error", err.Error()))
		return
	}
	if len(tasks) != 1 {
		return
	}
	task := tasks[0]

	started := time.Now()
	unlock, err := c.linkages.LockEntity(ctx, domain.EntityTask, task.ID)
	if err != nil {
		c.logger.Warn("default task skipped", slog.String("task_id", task.ID), slog.String("error", err.Error()))
		return
	}
	defer unlock()

	link, err := c.linkages.EnsureLinkage(ctx, domain.EntityTask, task.ID)
	if err != nil {
		c.logger.Warn("default task skipped", slog.String("task_id", task.ID), slog.String("error", err.Error()))
		return
	}
	if link.Synced() || link.LastSyncStatus == domain.SyncStatusUnconfirmed {
		return
	}

	defaultTask := &plan{create: func(ctx context.Context) (string, any, error) {
		res, err := c.remote.CreateDefaultTask(ctx, projectRemote, p.Name)
		if err != nil {
			return "", nil, err
		}
		return res.ID, res, nil
	}}
	out := c.create(ctx, defaultTask, Outcome{EntityType: domain.EntityTask, EntityID: task.ID}, link.RemoteID, domain.SyncActionCreate)
	c.finish(ctx, &out, started)
}

func (c *Coordinator) taskPlan(ctx context.Context, id string) (*plan, error) {
	t, err := c.entities.GetTask(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load task: %w", err)
	}
	if t == nil {
		return nil, notFound(domain.EntityTask, id)
	}
	deps := newDependencies(domain.EntityTask, id)
	projectRemote, err := deps.require(ctx, c.linkages, domain.EntityProject, t.ProjectID)
	if err != nil {
		return nil, err
	}
	if err := deps.err(); err != nil {
		return nil, err
	}
	employees, err := c.remoteIDList(ctx, domain.EntityEmployee, t.EmployeeIDs)
	if err != nil {
		return nil, err
	}
	status := t.Status
	if status == "" {
		status = domain.StatusActive
	}
	in := mirror.TaskInput{
		Name:        t.Name,
		ProjectID:   projectRemote,
		Description: t.Description,
		Billable:    true,
		Employees:   employees,
		Status:      status,
	}
	return &plan{
		create: func(ctx context.Context) (string, any, error) {
			res, err := c.remote.CreateTask(ctx, in)
			if err != nil {
				return "", nil, err
			}
			return res.ID, res, nil
		},
		update: func(ctx context.Context, remoteID string) (domain.SyncAction, any, error) {
			res, err := c.remote.UpdateTask(ctx, remoteID, in)
			if err != nil {
				return domain.SyncActionUpdate, nil, err
			}
			return domain.SyncActionUpdate, res, nil
		},
	}, nil
}

func (c *Coordinator) timeEntryPlan(ctx context.Context, id string) (*plan, error) {
	e, err := c.entities.GetTimeEntry(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load time entry: %w", err)
	}
	if e == nil {
		return nil, notFound(domain.EntityTimeEntry, id)
	}
	deps := newDependencies(domain.EntityTimeEntry, id)
	employeeRemote, err := deps.require(ctx, c.linkages, domain.EntityEmployee, e.EmployeeID)
	if err != nil {
		return nil, err
	}
	projectRemote, err := deps.require(ctx, c.linkages, domain.EntityProject, e.ProjectID)
	if err != nil {
		return nil, err
	}
	taskRemote, err := deps.require(ctx, c.linkages, domain.EntityTask, e.TaskID)
	if err != nil {
		return nil, err
	}
	if err := deps.err(); err != nil {
		return nil, err
	}

	in := mirror.TimeEntryInput{
		EmployeeID: employeeRemote,
		ProjectID:  projectRemote,
		TaskID:     taskRemote,
		Start:      mirror.ToEpochMillis(e.StartedAt),
		Timezone:   c.timezone,
	}
	entry := *e
	return &plan{
		create: func(ctx context.Context) (string, any, error) {
			var res *mirror.TimeEntry
			var err error
			if entry.Active() {
				res, err = c.remote.StartTimeEntry(ctx, in)
			} else {
				end := mirror.ToEpochMillis(*entry.EndedAt)
				manual := in
				manual.End = &end
				res, err = c.remote.CreateManualTimeEntry(ctx, manual)
			}
			if err != nil {
				return "", nil, err
			}
			return res.ID, res, nil
		},
		update: func(ctx context.Context, remoteID string) (domain.SyncAction, any, error) {
			if entry.Active() {
				return domain.SyncActionSkip, nil, nil
			}
			res, err := c.remote.StopTimeEntry(ctx, remoteID, *entry.EndedAt)
			if err != nil {
				return domain.SyncActionUpdate, nil, err
			}
			return domain.SyncActionUpdate, res, nil
		},
	}, nil
}

func (c *Coordinator) screenshotPlan(ctx context.Context, id string) (*plan, error) {
	s, err := c.entities.GetScreenshot(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load screenshot: %w", err)
	}
	if s == nil {
		return nil, notFound(domain.EntityScreenshot, id)
	}
	deps := newDependencies(domain.EntityScreenshot, id)
	employeeRemote, err := deps.require(ctx, c.linkages, domain.EntityEmployee, s.EmployeeID)
	if err != nil {
		return nil, err
	}
	if err := deps.err(); err != nil {
		return nil, err
	}

	meta, err := c.screenshotMetadata(ctx, *s)
	if err != nil {
		return nil, err
	}
	shot := *s
	return &plan{
		create: func(ctx context.Context) (string, any, error) {
			if c.screenshots == nil {
				return "", nil, errors.New("screenshot source not configured")
			}
			img, err := c.screenshots.Open(ctx, shot.FilePath)
			if err != nil {
				return "", nil, fmt.Errorf("open screenshot %s: %w", shot.ID, err)
			}
			defer img.Close()
			res, err := c.remote.UploadScreenshot(ctx, mirror.ScreenshotUpload{
				EmployeeID: employeeRemote,
				Image:      img,
				Filename:   filepath.Base(shot.FilePath),
				Metadata:   meta,
			})
			if err != nil {
				return "", nil, err
			}
			return res.ID, res, nil
		},
		// Uploaded images are immutable remotely.
		update: func(ctx context.Context, remoteID string) (domain.SyncAction, any, error) {
			return domain.SyncActionSkip, nil, nil
		},
	}, nil
}

// screenshotMetadata attaches the project and task of the owning time entry when they are mirrored.
func (c *Coordinator) screenshotMetadata(ctx context.Context, s domain.Screenshot) (*mirror.ScreenshotMetadata, error) {
	permission := mirror.PermissionDenied
	if s.HasPermission {
		permission = mirror.PermissionAuthorized
	}
	meta := &mirror.ScreenshotMetadata{
		SystemPermissions: &mirror.SystemPermissions{ScreenAndSystemAudioRecording: permission},
	}
	if !s.CapturedAt.IsZero() {
		captured := mirror.ToEpochMillis(s.CapturedAt)
		meta.CapturedAt = &captured
	}
	if s.TimeEntryID == "" {
		return meta, nil
	}
	entry, err := c.entities.GetTimeEntry(ctx, s.TimeEntryID)
	if err != nil {
		return nil, fmt.Errorf("load time entry: %w", err)
	}
	if entry == nil {
		return meta, nil
	}
	if link, err := c.linkages.GetLinkage(ctx, domain.EntityProject, entry.ProjectID); err != nil {
		return nil, fmt.Errorf("load project linkage: %w", err)
	} else if link.Synced() {
		meta.ProjectID = link.RemoteID
	}
	if link, err := c.linkages.GetLinkage(ctx, domain.EntityTask, entry.TaskID); err != nil {
		return nil, fmt.Errorf("load task linkage: %w", err)
	} else if link.Synced() {
		meta.TaskID = link.RemoteID
	}
	return meta, nil
}

// remoteIDList maps local ids to mirrored remote ids in input order, dropping unmirrored ones.
func (c *Coordinator) remoteIDList(ctx context.Context, entityType domain.EntityType, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	found, err := c.linkages.RemoteIDs(ctx, entityType, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve %s remote ids: %w", entityType, err)
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if remote := found[id]; remote != "" && !domain.IsPlaceholder(remote) {
			out = append(out, remote)
		}
	}
	return out, nil
}

// dependencies collects every missing parent so one error names them all.
type dependencies struct {
	entityType domain.EntityType
	id         string
	missing    map[string]struct{}
}

func newDependencies(entityType domain.EntityType, id string) *dependencies {
	return &dependencies{entityType: entityType, id: id, missing: map[string]struct{}{}}
}

func (d *dependencies) require(ctx context.Context, linkages LinkageStore, parent domain.EntityType, parentID string) (string, error) {
	if parentID == "" {
		d.missing[string(parent)+":<unset>"] = struct{}{}
		return "", nil
	}
	link, err := linkages.GetLinkage(ctx, parent, parentID)
	if err != nil {
		return "", fmt.Errorf("load %s linkage: %w", parent, err)
	}
	if !link.Synced() {
		d.missing[string(parent)+":"+parentID] = struct{}{}
		return "", nil
	}
	return link.RemoteID, nil
}

func (d *dependencies) err() error {
	if len(d.missing) == 0 {
		return nil
	}
	return &DependencyError{EntityType: d.entityType, EntityID: d.id, Missing: missingList(d.missing)}
}
