package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EntityType names a kind of local entity mirrored to the remote service.
type EntityType string

const (
	EntityEmployee   EntityType = "employee"
	EntityProject    EntityType = "project"
	EntityTask       EntityType = "task"
	EntityTimeEntry  EntityType = "time_entry"
	EntityScreenshot EntityType = "screenshot"
)

// EntityTypes lists every syncable entity type.
var EntityTypes = []EntityType{EntityEmployee, EntityProject, EntityTask, EntityTimeEntry, EntityScreenshot}

// ParseEntityType accepts snake_case, camelCase and hyphenated spellings.
func ParseEntityType(raw string) (EntityType, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.NewReplacer("-", "", "_", "").Replace(key)
	for _, t := range EntityTypes {
		if strings.ReplaceAll(string(t), "_", "") == key {
			return t, nil
		}
	}
	return "", &ValidationError{Field: "entity_type", Reason: fmt.Sprintf("unknown entity type %q", raw)}
}

// SyncStatus is the result of one sync attempt.
type SyncStatus string

const (
	SyncStatusSuccess SyncStatus = "success"
	SyncStatusFailed  SyncStatus = "failed"
	// SyncStatusDegraded marks an attempt that bound a placeholder id after a failed create.
	SyncStatusDegraded SyncStatus = "degraded"
	// SyncStatusUnconfirmed marks a create the remote accepted with a reply that could not be
	// read. The entity is not created again until a remote id is bound by hand.
	SyncStatusUnconfirmed SyncStatus = "unconfirmed"
)

// SyncAction is what an attempt did, or tried to do, remotely.
type SyncAction string

const (
	SyncActionCreate   SyncAction = "create"
	SyncActionUpdate   SyncAction = "update"
	SyncActionRecreate SyncAction = "recreate"
	SyncActionSkip     SyncAction = "skip"
	SyncActionNone     SyncAction = "none"
	SyncActionBind     SyncAction = "bind"
)

// PlaceholderPrefix marks remote ids bound by degraded sync. They are never real remote ids.
const PlaceholderPrefix = "degraded:"

// IsPlaceholder reports whether a remote id was bound by degraded sync.
func IsPlaceholder(remoteID string) bool {
	return strings.HasPrefix(remoteID, PlaceholderPrefix)
}

// RemoteLinkage ties a local entity to its remote counterpart. RemoteID is empty until the first
// successful create.
type RemoteLinkage struct {
	EntityType     EntityType
	LocalID        string
	RemoteID       string
	LastSyncedAt   *time.Time
	LastSyncStatus SyncStatus
	LastError      string
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Synced reports whether the linkage carries a real remote id.
func (l *RemoteLinkage) Synced() bool {
	return l != nil && l.RemoteID != "" && !IsPlaceholder(l.RemoteID)
}

// SyncLogEntry is the append-only audit record of one sync attempt.
type SyncLogEntry struct {
	ID               int64
	EntityType       EntityType
	EntityID         string
	RemoteID         string
	Action           SyncAction
	Status           SyncStatus
	ErrorClass       string
	ErrorMessage     string
	ResponseSnapshot json.RawMessage
	CreatedAt        time.Time
}
