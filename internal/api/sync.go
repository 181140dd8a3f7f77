package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MayankBharati/solidtracker/internal/auth"
	"github.com/MayankBharati/solidtracker/internal/domain"
	"github.com/MayankBharati/solidtracker/internal/mirrorsync"
)

func (h *Handler) syncEntity(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	if _, ok := requireScope(w, r, auth.ScopeSyncWrite); !ok {
		return
	}

	var req SyncRequest
	if !decodeBody(w, r, &req) {
		return
	}
	entityType, err := domain.ParseEntityType(req.EntityType)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if strings.TrimSpace(req.EntityID) == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "entity_id is required")
		return
	}

	outcome := h.syncer.Sync(r.Context(), entityType, req.EntityID)
	resp := toSyncResponse(outcome)
	writeJSON(w, syncStatusCode(outcome), resp)
}

func (h *Handler) syncAll(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	if _, ok := requireScope(w, r, auth.ScopeSyncWrite); !ok {
		return
	}

	var req SyncAllRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var result mirrorsync.BatchResult
	switch strings.ToLower(strings.TrimSpace(req.Scope)) {
	case "employees", "employee":
		result = h.syncer.SyncAllEmployees(r.Context())
	case "projects", "project":
		result = h.syncer.SyncAllProjects(r.Context())
	case "tasks", "task":
		result = h.syncer.SyncAllTasks(r.Context())
	default:
		writeError(w, http.StatusBadRequest, "validation_failed", "scope must be employees, projects or tasks")
		return
	}
	if result.Errors == nil {
		result.Errors = []string{}
	}
	writeJSON(w, http.StatusOK, result)
}

// syncBind records a remote id for an entity by hand, typically after an unconfirmed create.
func (h *Handler) syncBind(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	if _, ok := requireScope(w, r, auth.ScopeSyncWrite); !ok {
		return
	}

	var req BindRequest
	if !decodeBody(w, r, &req) {
		return
	}
	entityType, err := domain.ParseEntityType(req.EntityType)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if strings.TrimSpace(req.EntityID) == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "entity_id is required")
		return
	}

	outcome := h.syncer.Bind(r.Context(), entityType, req.EntityID, req.RemoteID)
	writeJSON(w, syncStatusCode(outcome), toSyncResponse(outcome))
}

func (h *Handler) syncStatus(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	if _, ok := requireScope(w, r, auth.ScopeSyncRead); !ok {
		return
	}

	q := r.URL.Query()
	entityType, err := domain.ParseEntityType(q.Get("entity_type"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	entityID := strings.TrimSpace(q.Get("entity_id"))
	if entityID == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "missing entity_id parameter")
		return
	}
	limit := queryLimit(q, 20, 200)

	linkage, entries, err := h.syncer.Status(r.Context(), entityType, entityID, limit)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	resp := SyncStatusResponse{
		EntityType: string(entityType),
		EntityID:   entityID,
		Log:        make([]SyncLogView, 0, len(entries)),
	}
	if linkage != nil {
		view := toLinkageView(*linkage)
		resp.Linkage = &view
	}
	for _, e := range entries {
		resp.Log = append(resp.Log, toSyncLogView(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

// syncStatusCode maps a sync outcome onto an HTTP status. Remote failures are reported as a
// bad gateway since the request itself was well formed.
func syncStatusCode(o mirrorsync.Outcome) int {
	if !o.Failed() {
		return http.StatusOK
	}
	switch mirrorsync.Classify(o.Err) {
	case mirrorsync.ClassDependency, mirrorsync.ClassUnconfirmed:
		return http.StatusConflict
	case mirrorsync.ClassNotFound:
		return http.StatusNotFound
	case mirrorsync.ClassRateLimited:
		return http.StatusTooManyRequests
	default:
		var validation *domain.ValidationError
		if errors.As(o.Err, &validation) {
			return http.StatusBadRequest
		}
		if errors.Is(o.Err, mirrorsync.ErrLinkageConflict) {
			return http.StatusConflict
		}
		return http.StatusBadGateway
	}
}

func toSyncResponse(o mirrorsync.Outcome) SyncResponse {
	resp := SyncResponse{
		EntityType: string(o.EntityType),
		EntityID:   o.EntityID,
		RemoteID:   o.RemoteID,
		Action:     string(o.Action),
		Status:     string(o.Status()),
		Detail:     o.Detail,
	}
	if o.Err != nil {
		resp.Type = string(mirrorsync.Classify(o.Err))
		resp.Detail = o.Err.Error()
		var dep *mirrorsync.DependencyError
		if errors.As(o.Err, &dep) {
			resp.Missing = dep.Missing
		}
	}
	return resp
}
