// Package api exposes HTTP handlers for the timer client, operator tooling and sync.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MayankBharati/solidtracker/internal/auth"
	"github.com/MayankBharati/solidtracker/internal/domain"
	"github.com/MayankBharati/solidtracker/internal/mirrorsync"
	"github.com/MayankBharati/solidtracker/internal/persistence"
)

// Directory serves the assignment and device reads used by the timer client.
type Directory interface {
	ListAssignments(ctx context.Context, employeeID string) ([]domain.ProjectAssignment, error)
	UpsertDevice(ctx context.Context, d domain.Device) error
}

// Syncer is the subset of the sync coordinator driven over HTTP.
type Syncer interface {
	Sync(ctx context.Context, entityType domain.EntityType, localID string) mirrorsync.Outcome
	SyncAllEmployees(ctx context.Context) mirrorsync.BatchResult
	SyncAllProjects(ctx context.Context) mirrorsync.BatchResult
	SyncAllTasks(ctx context.Context) mirrorsync.BatchResult
	Bind(ctx context.Context, entityType domain.EntityType, localID, remoteID string) mirrorsync.Outcome
	Status(ctx context.Context, entityType domain.EntityType, localID string, limit int) (*domain.RemoteLinkage, []domain.SyncLogEntry, error)
}

// Handler coordinates HTTP requests with the time entry service and the sync coordinator.
type Handler struct {
	service   *domain.Service
	directory Directory
	syncer    Syncer
	logger    *slog.Logger
	now       func() time.Time
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service, directory Directory, syncer Syncer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, directory: directory, syncer: syncer, logger: logger, now: time.Now}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/timer/start", h.startTimer)
	mux.HandleFunc("/v1/timer/stop", h.stopTimer)
	mux.HandleFunc("/v1/timer/active", h.activeTimer)
	mux.HandleFunc("/v1/time-entries", h.timeEntries)
	mux.HandleFunc("/v1/time-entries/", h.timeEntryByID)
	mux.HandleFunc("/v1/assignments", h.assignments)
	mux.HandleFunc("/v1/devices", h.devices)
	mux.HandleFunc("/v1/sync", h.syncEntity)
	mux.HandleFunc("/v1/sync/all", h.syncAll)
	mux.HandleFunc("/v1/sync/status", h.syncStatus)
	mux.HandleFunc("/v1/sync/bind", h.syncBind)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) startTimer(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	claims, ok := requireScope(w, r, auth.ScopeTimerWrite)
	if !ok {
		return
	}

	var req StartTimerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	employeeID, ok := actingEmployee(w, claims, req.EmployeeID)
	if !ok {
		return
	}

	entry, err := h.service.Start(r.Context(), domain.StartInput{
		EmployeeID: employeeID,
		ProjectID:  req.ProjectID,
		TaskID:     req.TaskID,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.toView(*entry))
}

func (h *Handler) stopTimer(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	claims, ok := requireScope(w, r, auth.ScopeTimerWrite)
	if !ok {
		return
	}

	var req StopTimerRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	employeeID, ok := actingEmployee(w, claims, req.EmployeeID)
	if !ok {
		return
	}

	entry, err := h.service.Stop(r.Context(), employeeID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toView(*entry))
}

func (h *Handler) activeTimer(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	claims, ok := requireScope(w, r, auth.ScopeTimerRead)
	if !ok {
		return
	}
	employeeID, ok := actingEmployee(w, claims, r.URL.Query().Get("employee_id"))
	if !ok {
		return
	}

	entry, err := h.service.GetActive(r.Context(), employeeID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	resp := ActiveTimerResponse{ServerTime: h.now().UTC()}
	if entry != nil {
		view := h.toView(*entry)
		resp.Entry = &view
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) timeEntries(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listTimeEntries(w, r)
	case http.MethodPost:
		h.createManualEntry(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) timeEntryByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/time-entries/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing time entry id")
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getTimeEntry(w, r, id)
	case http.MethodPut, http.MethodPatch:
		h.updateTimeEntry(w, r, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) listTimeEntries(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeTimerRead)
	if !ok {
		return
	}
	q := r.URL.Query()
	employeeID, ok := actingEmployee(w, claims, q.Get("employee_id"))
	if !ok {
		return
	}

	var window domain.TimeRange
	var err error
	if window.From, err = parseTimeParam(q.Get("from")); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid from: "+err.Error())
		return
	}
	if window.To, err = parseTimeParam(q.Get("to")); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid to: "+err.Error())
		return
	}

	limit := queryLimit(q, 50, 500)

	cursor, err := persistence.DecodeCursor(q.Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	entries, next, err := h.service.ListForEmployee(r.Context(), employeeID, window, cursor, limit)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	items := make([]TimeEntryView, 0, len(entries))
	for _, e := range entries {
		items = append(items, h.toView(e))
	}
	writeJSON(w, http.StatusOK, ListTimeEntriesResponse{
		Items:      items,
		NextCursor: persistence.EncodeCursor(next),
	})
}

func (h *Handler) createManualEntry(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeTimerWrite)
	if !ok {
		return
	}

	var req CreateManualEntryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}
	employeeID, ok := actingEmployee(w, claims, req.EmployeeID)
	if !ok {
		return
	}

	entry, err := h.service.CreateManual(r.Context(), domain.ManualEntryInput{
		EmployeeID: employeeID,
		ProjectID:  req.ProjectID,
		TaskID:     req.TaskID,
		Start:      req.StartedAt,
		End:        req.EndedAt,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.toView(*entry))
}

func (h *Handler) getTimeEntry(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := requireScope(w, r, auth.ScopeTimerRead)
	if !ok {
		return
	}
	entry, ok := h.ownedEntry(w, r, claims, id)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.toView(*entry))
}

func (h *Handler) updateTimeEntry(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := requireScope(w, r, auth.ScopeTimerWrite)
	if !ok {
		return
	}

	var req UpdateTimeEntryRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	if _, ok := h.ownedEntry(w, r, claims, id); !ok {
		return
	}

	entry, err := h.service.Update(r.Context(), id, domain.TimeEntryPatch{EndedAt: req.EndedAt})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toView(*entry))
}

// ownedEntry loads an entry and hides it from callers acting for another employee.
func (h *Handler) ownedEntry(w http.ResponseWriter, r *http.Request, claims *auth.Claims, id string) (*domain.TimeEntry, bool) {
	entry, err := h.service.GetTimeEntry(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return nil, false
	}
	if entry.EmployeeID != claims.Subject && !claims.HasScope(auth.ScopeTimerAdmin) {
		h.writeDomainError(w, domain.ErrTimeEntryNotFound)
		return nil, false
	}
	return entry, true
}

func (h *Handler) assignments(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	claims, ok := requireScope(w, r, auth.ScopeTimerRead)
	if !ok {
		return
	}
	employeeID, ok := actingEmployee(w, claims, r.URL.Query().Get("employee_id"))
	if !ok {
		return
	}

	assignments, err := h.directory.ListAssignments(r.Context(), employeeID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	resp := AssignmentsResponse{Items: make([]AssignmentView, 0, len(assignments))}
	for _, a := range assignments {
		resp.Items = append(resp.Items, toAssignmentView(a))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) devices(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	claims, ok := requireScope(w, r, auth.ScopeTimerWrite)
	if !ok {
		return
	}

	var req DeviceHeartbeatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.MACAddress) == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "mac_address is required")
		return
	}
	employeeID, ok := actingEmployee(w, claims, req.EmployeeID)
	if !ok {
		return
	}

	err := h.directory.UpsertDevice(r.Context(), domain.Device{
		EmployeeID: employeeID,
		MACAddress: req.MACAddress,
		Hostname:   req.Hostname,
		Info:       req.Info,
		LastSeen:   h.now().UTC(),
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	var validation *domain.ValidationError
	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, "validation_failed", validation.Error())
	case errors.Is(err, domain.ErrAlreadyActive):
		writeError(w, http.StatusConflict, "already_active", err.Error())
	case errors.Is(err, domain.ErrNoActiveEntry):
		writeError(w, http.StatusNotFound, "no_active_entry", err.Error())
	case errors.Is(err, domain.ErrTimeEntryNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrInvalidRange):
		writeError(w, http.StatusBadRequest, "invalid_range", err.Error())
	case errors.Is(err, domain.ErrEntryClosed):
		writeError(w, http.StatusConflict, "entry_closed", err.Error())
	default:
		h.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return false
	}
	return true
}

func requireScope(w http.ResponseWriter, r *http.Request, scope string) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	if !claims.HasScope(scope) {
		writeError(w, http.StatusForbidden, "forbidden", "scope "+scope+" required")
		return nil, false
	}
	return claims, true
}

// actingEmployee resolves which employee a request acts for. Only timer:admin may act for
// someone other than the token subject.
func actingEmployee(w http.ResponseWriter, claims *auth.Claims, requested string) (string, bool) {
	requested = strings.TrimSpace(requested)
	if requested == "" || requested == claims.Subject {
		return claims.Subject, true
	}
	if !claims.HasScope(auth.ScopeTimerAdmin) {
		writeError(w, http.StatusForbidden, "forbidden", "scope timer:admin required to act for another employee")
		return "", false
	}
	return requested, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	return decode(w, r, dst, false)
}

// decodeOptionalBody accepts an empty body and leaves dst untouched.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	return decode(w, r, dst, true)
}

func decode(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	err := dec.Decode(dst)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return true
	}
	writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
	return false
}

// parseTimeParam accepts RFC 3339 or epoch milliseconds.
func parseTimeParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Parse(time.RFC3339, raw)
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, map[string]string{
		"type":   code,
		"detail": detail,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// queryLimit reads ?limit= bounded to [1, max]. Missing or malformed values give def.
func queryLimit(q url.Values, def, max int) int {
	n, err := strconv.Atoi(q.Get("limit"))
	if err != nil {
		return def
	}
	return persistence.ClampLimit(n, def, max)
}
