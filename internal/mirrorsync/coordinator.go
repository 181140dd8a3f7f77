// Package mirrorsync mirrors local entities to the Insightful API. Every attempt is serialised per
// entity, checks that parent entities are already mirrored, binds remote ids exactly once and is
// recorded in the sync log.
package mirrorsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MayankBharati/solidtracker/internal/domain"
	"github.com/MayankBharati/solidtracker/internal/mirror"
	"github.com/MayankBharati/solidtracker/internal/observability"
)

// EntityReader loads local entities. Getters return nil, nil when the entity does not exist.
type EntityReader interface {
	GetEmployee(ctx context.Context, id string) (*domain.Employee, error)
	GetProject(ctx context.Context, id string) (*domain.Project, error)
	GetTask(ctx context.Context, id string) (*domain.Task, error)
	GetTimeEntry(ctx context.Context, id string) (*domain.TimeEntry, error)
	GetScreenshot(ctx context.Context, id string) (*domain.Screenshot, error)
	ListEmployeeIDs(ctx context.Context, status string) ([]string, error)
	ListProjectIDs(ctx context.Context, status string) ([]string, error)
	ListTaskIDs(ctx context.Context, status string) ([]string, error)
	ListProjectTasks(ctx context.Context, projectID string) ([]domain.Task, error)
}

// LinkageStore persists local to remote id bindings.
type LinkageStore interface {
	LockEntity(ctx context.Context, entityType domain.EntityType, localID string) (func(), error)
	EnsureLinkage(ctx context.Context, entityType domain.EntityType, localID string) (*domain.RemoteLinkage, error)
	GetLinkage(ctx context.Context, entityType domain.EntityType, localID string) (*domain.RemoteLinkage, error)
	BindRemoteID(ctx context.Context, entityType domain.EntityType, localID, expected, remoteID string) (string, error)
	RecordAttempt(ctx context.Context, entityType domain.EntityType, localID string, status domain.SyncStatus, errMsg string, at time.Time) error
	RemoteIDs(ctx context.Context, entityType domain.EntityType, localIDs []string) (map[string]string, error)
}

// SyncLog is the append-only audit trail.
type SyncLog interface {
	AppendSyncLog(ctx context.Context, entry domain.SyncLogEntry) error
	ListSyncLog(ctx context.Context, entityType domain.EntityType, localID string, limit int) ([]domain.SyncLogEntry, error)
}

// Mirror is the subset of the remote API the coordinator writes through.
type Mirror interface {
	CreateEmployee(ctx context.Context, in mirror.EmployeeInput) (*mirror.Employee, error)
	UpdateEmployee(ctx context.Context, id string, in mirror.EmployeeInput) (*mirror.Employee, error)
	DeactivateEmployee(ctx context.Context, id string) (*mirror.Employee, error)
	ActivateEmployee(ctx context.Context, id string) (*mirror.Employee, error)
	CreateProject(ctx context.Context, in mirror.ProjectInput) (*mirror.Project, error)
	UpdateProject(ctx context.Context, id string, in mirror.ProjectInput) (*mirror.Project, error)
	CreateTask(ctx context.Context, in mirror.TaskInput) (*mirror.Task, error)
	UpdateTask(ctx context.Context, id string, in mirror.TaskInput) (*mirror.Task, error)
	CreateDefaultTask(ctx context.Context, projectID, projectName string) (*mirror.Task, error)
	StartTimeEntry(ctx context.Context, in mirror.TimeEntryInput) (*mirror.TimeEntry, error)
	StopTimeEntry(ctx context.Context, id string, end time.Time) (*mirror.TimeEntry, error)
	CreateManualTimeEntry(ctx context.Context, in mirror.TimeEntryInput) (*mirror.TimeEntry, error)
	UploadScreenshot(ctx context.Context, up mirror.ScreenshotUpload) (*mirror.Screenshot, error)
}

// ScreenshotSource opens stored screenshot images.
type ScreenshotSource interface {
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}

const (
	defaultLogLimit   = 20
	maxRateLimitPause = time.Minute
)

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithDegradedSync binds a placeholder id when a create fails instead of reporting failure.
func WithDegradedSync(enabled bool) Option {
	return func(c *Coordinator) { c.allowDegraded = enabled }
}

// WithRecreateMissing controls whether a linked entity deleted remotely is created again.
func WithRecreateMissing(enabled bool) Option {
	return func(c *Coordinator) { c.recreateMissing = enabled }
}

// WithTimezone sets the IANA zone sent with time entries.
func WithTimezone(tz string) Option {
	return func(c *Coordinator) { c.timezone = tz }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// Coordinator runs sync attempts.
type Coordinator struct {
	entities    EntityReader
	linkages    LinkageStore
	log         SyncLog
	remote      Mirror
	screenshots ScreenshotSource

	allowDegraded   bool
	recreateMissing bool
	timezone        string
	now             func() time.Time
	logger          *slog.Logger
}

// NewCoordinator wires a Coordinator. screenshots may be nil when screenshot sync is unused.
func NewCoordinator(entities EntityReader, linkages LinkageStore, log SyncLog, remote Mirror, screenshots ScreenshotSource, opts ...Option) *Coordinator {
	c := &Coordinator{
		entities:        entities,
		linkages:        linkages,
		log:             log,
		remote:          remote,
		screenshots:     screenshots,
		recreateMissing: true,
		timezone:        "UTC",
		now:             time.Now,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Sync mirrors one entity. It never panics on remote failures; the outcome carries the error.
func (c *Coordinator) Sync(ctx context.Context, entityType domain.EntityType, localID string) Outcome {
	started := time.Now()
	out := Outcome{EntityType: entityType, EntityID: localID, Action: domain.SyncActionNone}

	unlock, err := c.linkages.LockEntity(ctx, entityType, localID)
	if err != nil {
		out.Err = fmt.Errorf("lock %s %s: %w", entityType, localID, err)
		c.finish(ctx, &out, started)
		return out
	}
	defer unlock()

	out = c.syncLocked(ctx, entityType, localID)
	c.finish(ctx, &out, started)
	return out
}

func (c *Coordinator) syncLocked(ctx context.Context, entityType domain.EntityType, localID string) Outcome {
	out := Outcome{EntityType: entityType, EntityID: localID, Action: domain.SyncActionNone}

	p, err := c.planFor(ctx, entityType, localID)
	if err != nil {
		out.Err = err
		return out
	}

	link, err := c.linkages.EnsureLinkage(ctx, entityType, localID)
	if err != nil {
		out.Err = fmt.Errorf("load linkage: %w", err)
		return out
	}
	if link.LastSyncStatus == domain.SyncStatusUnconfirmed {
		out.RemoteID = link.RemoteID
		out.Err = fmt.Errorf("%s %s: %w", entityType, localID, ErrUnconfirmedCreate)
		return out
	}

	if !link.Synced() {
		return c.followUp(ctx, p, c.create(ctx, p, out, link.RemoteID, domain.SyncActionCreate))
	}

	out.RemoteID = link.RemoteID
	action, resp, err := p.update(ctx, link.RemoteID)
	out.Action = action
	out.Response = resp
	if err == nil {
		return c.followUp(ctx, p, out)
	}
	if !errors.Is(err, mirror.ErrNotFound) {
		out.Err = err
		return out
	}
	if !c.recreateMissing {
		out.Err = fmt.Errorf("%s %s (remote %s): %w", entityType, localID, link.RemoteID, ErrRemoteMissing)
		return out
	}
	c.logger.Warn("remote entity missing, recreating",
		slog.String("entity_type", string(entityType)),
		slog.String("entity_id", localID),
		slog.String("remote_id", link.RemoteID))
	return c.followUp(ctx, p, c.create(ctx, p, out, link.RemoteID, domain.SyncActionRecreate))
}

// followUp runs the plan's after hook once the entity is mirrored under a real remote id.
func (c *Coordinator) followUp(ctx context.Context, p *plan, out Outcome) Outcome {
	if p.after == nil || out.Err != nil || out.Degraded {
		return out
	}
	resp, err := p.after(ctx, out.RemoteID, out.Response)
	if resp != nil {
		out.Response = resp
	}
	if err != nil {
		out.Err = err
	}
	return out
}

// create calls the remote create and binds the returned id if the linkage still holds expected.
func (c *Coordinator) create(ctx context.Context, p *plan, out Outcome, expected string, action domain.SyncAction) Outcome {
	out.Action = action
	remoteID, resp, err := p.create(ctx)
	out.Response = resp
	if err == nil && remoteID == "" {
		err = fmt.Errorf("remote %s create returned no id", out.EntityType)
	}
	if err != nil {
		var decode *mirror.DecodeError
		if errors.As(err, &decode) {
			out.Response = unreadableReply{StatusCode: decode.StatusCode, Body: string(decode.Body)}
			out.Err = fmt.Errorf("%s %s: %w: %w", out.EntityType, out.EntityID, ErrUnconfirmedCreate, err)
			return out
		}
		if c.allowDegraded && action == domain.SyncActionCreate {
			return c.degrade(ctx, out, expected, err)
		}
		out.Err = err
		return out
	}

	bound, err := c.linkages.BindRemoteID(ctx, out.EntityType, out.EntityID, expected, remoteID)
	if err != nil {
		out.Err = fmt.Errorf("bind remote id %s: %w", remoteID, err)
		return out
	}
	if bound != remoteID {
		out.RemoteID = bound
		out.Err = fmt.Errorf("%s %s: bound %s, created %s: %w", out.EntityType, out.EntityID, bound, remoteID, ErrLinkageConflict)
		return out
	}
	out.RemoteID = remoteID
	return out
}

// unreadableReply is the sync log snapshot of a create reply that could not be decoded.
type unreadableReply struct {
	StatusCode int    `json:"status_code"`
	Body       string `json:"raw_body"`
}

// degrade keeps or binds a placeholder id. An existing placeholder is reused.
func (c *Coordinator) degrade(ctx context.Context, out Outcome, expected string, cause error) Outcome {
	out.Degraded = true
	out.Detail = cause.Error()
	if domain.IsPlaceholder(expected) {
		out.RemoteID = expected
		return out
	}
	placeholder := domain.PlaceholderPrefix + uuid.NewString()
	bound, err := c.linkages.BindRemoteID(ctx, out.EntityType, out.EntityID, expected, placeholder)
	if err != nil {
		out.Degraded = false
		out.Err = errors.Join(cause, fmt.Errorf("bind placeholder: %w", err))
		return out
	}
	out.RemoteID = bound
	c.logger.Warn("degraded sync bound placeholder id",
		slog.String("entity_type", string(out.EntityType)),
		slog.String("entity_id", out.EntityID),
		slog.String("placeholder", bound),
		slog.String("error", cause.Error()))
	return out
}

// finish records the attempt on the linkage and in the sync log. Bookkeeping survives ctx cancellation.
func (c *Coordinator) finish(ctx context.Context, out *Outcome, started time.Time) {
	ctx = context.WithoutCancel(ctx)
	at := c.now().UTC()
	status := out.Status()

	msg := out.Detail
	if out.Err != nil {
		msg = out.Err.Error()
	}

	entry := domain.SyncLogEntry{
		EntityType:   out.EntityType,
		EntityID:     out.EntityID,
		RemoteID:     out.RemoteID,
		Action:       out.Action,
		Status:       status,
		ErrorClass:   string(Classify(out.Err)),
		ErrorMessage: msg,
		CreatedAt:    at,
	}
	if out.Response != nil {
		if snap, err := json.Marshal(out.Response); err == nil {
			entry.ResponseSnapshot = snap
		}
	}

	var bookkeeping []error
	if err := c.linkages.RecordAttempt(ctx, out.EntityType, out.EntityID, status, msg, at); err != nil {
		bookkeeping = append(bookkeeping, fmt.Errorf("record attempt: %w", err))
	}
	if err := c.log.AppendSyncLog(ctx, entry); err != nil {
		bookkeeping = append(bookkeeping, fmt.Errorf("append sync log: %w", err))
	}
	if len(bookkeeping) > 0 {
		out.Err = errors.Join(append([]error{out.Err}, bookkeeping...)...)
		status = out.Status()
	}

	syncAttempts.WithLabelValues(string(out.EntityType), string(out.Action), string(status)).Inc()
	syncDuration.WithLabelValues(string(out.EntityType)).Observe(time.Since(started).Seconds())
	if status == domain.SyncStatusSuccess || status == domain.SyncStatusDegraded {
		observability.RecordRemoteSynced(at)
	}

	attrs := []any{
		slog.String("entity_type", string(out.EntityType)),
		slog.String("entity_id", out.EntityID),
		slog.String("remote_id", out.RemoteID),
		slog.String("action", string(out.Action)),
		slog.String("status", string(status)),
	}
	if out.Err != nil {
		c.logger.Warn("sync failed", append(attrs, slog.String("error_class", string(Classify(out.Err))), slog.String("error", out.Err.Error()))...)
		return
	}
	c.logger.Debug("sync complete", attrs...)
}

// SyncAllEmployees mirrors every active employee sequentially.
func (c *Coordinator) SyncAllEmployees(ctx context.Context) BatchResult {
	ids, err := c.entities.ListEmployeeIDs(ctx, domain.StatusActive)
	if err != nil {
		return BatchResult{Errors: []string{fmt.Sprintf("list employees: %v", err)}}
	}
	return c.syncAll(ctx, domain.EntityEmployee, ids)
}

// SyncAllProjects mirrors every active project sequentially.
func (c *Coordinator) SyncAllProjects(ctx context.Context) BatchResult {
	ids, err := c.entities.ListProjectIDs(ctx, domain.StatusActive)
	if err != nil {
		return BatchResult{Errors: []string{fmt.Sprintf("list projects: %v", err)}}
	}
	return c.syncAll(ctx, domain.EntityProject, ids)
}

// SyncAllTasks mirrors every active task sequentially. Projects should be synced first.
func (c *Coordinator) SyncAllTasks(ctx context.Context) BatchResult {
	ids, err := c.entities.ListTaskIDs(ctx, domain.StatusActive)
	if err != nil {
		return BatchResult{Errors: []string{fmt.Sprintf("list tasks: %v", err)}}
	}
	return c.syncAll(ctx, domain.EntityTask, ids)
}

func (c *Coordinator) syncAll(ctx context.Context, entityType domain.EntityType, ids []string) BatchResult {
	result := BatchResult{Errors: []string{}}
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			result.FailedCount += len(ids) - i
			result.Errors = append(result.Errors, fmt.Sprintf("bulk %s sync interrupted: %v", entityType, err))
			break
		}
		out := c.Sync(ctx, entityType, id)
		result.add(out)
		if pause := rateLimitPause(out.Err); pause > 0 && i < len(ids)-1 {
			c.logger.Info("rate limited, pausing bulk sync", slog.Duration("pause", pause))
			select {
			case <-ctx.Done():
			case <-time.After(pause):
			}
		}
	}
	c.logger.Info("bulk sync complete",
		slog.String("entity_type", string(entityType)),
		slog.Int("synced", result.SyncedCount),
		slog.Int("degraded", result.DegradedCount),
		slog.Int("failed", result.FailedCount))
	return result
}

func rateLimitPause(err error) time.Duration {
	var apiErr *mirror.APIError
	if !errors.As(err, &apiErr) || !errors.Is(err, mirror.ErrRateLimited) {
		return 0
	}
	return min(apiErr.RetryAfter, maxRateLimitPause)
}

// Status returns the linkage and the most recent sync log entries for one entity.
func (c *Coordinator) Status(ctx context.Context, entityType domain.EntityType, localID string, limit int) (*domain.RemoteLinkage, []domain.SyncLogEntry, error) {
	if limit <= 0 {
		limit = defaultLogLimit
	}
	link, err := c.linkages.GetLinkage(ctx, entityType, localID)
	if err != nil {
		return nil, nil, fmt.Errorf("load linkage: %w", err)
	}
	entries, err := c.log.ListSyncLog(ctx, entityType, localID, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("list sync log: %w", err)
	}
	return link, entries, nil
}

// Bind records remoteID as the remote counterpart of a local entity without calling the remote.
// It resolves unconfirmed creates and replaces placeholder ids. A different confirmed id is a
// conflict.
func (c *Coordinator) Bind(ctx context.Context, entityType domain.EntityType, localID, remoteID string) Outcome {
	started := time.Now()
	out := Outcome{EntityType: entityType, EntityID: localID, Action: domain.SyncActionBind}

	remoteID = strings.TrimSpace(remoteID)
	if remoteID == "" || domain.IsPlaceholder(remoteID) {
		out.Err = &domain.ValidationError{Field: "remote_id", Reason: "a remote id issued by Insightful is required"}
		return out
	}

	unlock, err := c.linkages.LockEntity(ctx, entityType, localID)
	if err != nil {
		out.Err = fmt.Errorf("lock %s %s: %w", entityType, localID, err)
		c.finish(ctx, &out, started)
		return out
	}
	defer unlock()

	out = c.bindLocked(ctx, out, remoteID)
	c.finish(ctx, &out, started)
	return out
}

func (c *Coordinator) bindLocked(ctx context.Context, out Outcome, remoteID string) Outcome {
	if _, err := c.planFor(ctx, out.EntityType, out.EntityID); err != nil && !errors.Is(err, ErrDependencyNotSynced) {
		out.Err = err
		return out
	}
	link, err := c.linkages.EnsureLinkage(ctx, out.EntityType, out.EntityID)
	if err != nil {
		out.Err = fmt.Errorf("load linkage: %w", err)
		return out
	}
	if link.Synced() && link.RemoteID != remoteID && link.LastSyncStatus != domain.SyncStatusUnconfirmed {
		out.RemoteID = link.RemoteID
		out.Err = fmt.Errorf("%s %s: bound %s, requested %s: %w", out.EntityType, out.EntityID, link.RemoteID, remoteID, ErrLinkageConflict)
		return out
	}
	bound, err := c.linkages.BindRemoteID(ctx, out.EntityType, out.EntityID, link.RemoteID, remoteID)
	if err != nil {
		out.Err = fmt.Errorf("bind remote id %s: %w", remoteID, err)
		return out
	}
	out.RemoteID = bound
	if bound != remoteID {
		out.Err = fmt.Errorf("%s %s: bound %s, requested %s: %w", out.EntityType, out.EntityID, bound, remoteID, ErrLinkageConflict)
	}
	return out
}
