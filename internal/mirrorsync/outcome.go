package mirrorsync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/MayankBharati/solidtracker/internal/domain"
	"github.com/MayankBharati/solidtracker/internal/mirror"
)

var (
	// ErrDependencyNotSynced is wrapped by DependencyError.
	ErrDependencyNotSynced = errors.New("dependency not synced")
	// ErrEntityNotFound is returned when the local entity does not exist.
	ErrEntityNotFound = errors.New("local entity not found")
	// ErrRemoteMissing is returned when a linked remote entity is gone and recreation is disabled.
	ErrRemoteMissing = errors.New("linked remote entity no longer exists")
	// ErrLinkageConflict is returned when another writer bound a different remote id first.
	ErrLinkageConflict = errors.New("remote id already bound to a different value")
	// ErrDegraded is reported to delivery paths for an attempt that only bound a placeholder id.
	ErrDegraded = errors.New("create failed, placeholder id bound")
	// ErrUnconfirmedCreate is returned when an earlier create was accepted remotely but its
	// reply could not be read. Bind the remote id by hand to resume syncing.
	ErrUnconfirmedCreate = errors.New("remote create unconfirmed, bind the remote id manually")
)

// DependencyError lists the parents that must be synced before the entity can be.
type DependencyError struct {
	EntityType domain.EntityType
	EntityID   string
	Missing    []string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s %s: %s: %s", e.EntityType, e.EntityID, ErrDependencyNotSynced, strings.Join(e.Missing, ", "))
}

func (e *DependencyError) Unwrap() error { return ErrDependencyNotSynced }

// ErrorClass is the coarse category recorded in the sync log.
type ErrorClass string

const (
	ClassNone          ErrorClass = ""
	ClassValidation    ErrorClass = "validation"
	ClassAuth          ErrorClass = "auth"
	ClassRateLimited   ErrorClass = "rate_limited"
	ClassTransport     ErrorClass = "transport"
	ClassNotFound      ErrorClass = "not_found"
	ClassDependency    ErrorClass = "dependency"
	ClassRemoteMissing ErrorClass = "remote_missing"
	ClassDegraded      ErrorClass = "degraded"
	ClassUnconfirmed   ErrorClass = "unconfirmed"
	ClassInternal      ErrorClass = "internal"
)

// Classify maps an error onto its ErrorClass.
func Classify(err error) ErrorClass {
	var transport *mirror.TransportError
	var decode *mirror.DecodeError
	var validation *domain.ValidationError
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, ErrUnconfirmedCreate), errors.As(err, &decode):
		return ClassUnconfirmed
	case errors.Is(err, ErrDegraded):
		return ClassDegraded
	case errors.Is(err, ErrDependencyNotSynced):
		return ClassDependency
	case errors.Is(err, ErrEntityNotFound):
		return ClassNotFound
	case errors.Is(err, ErrRemoteMissing):
		return ClassRemoteMissing
	case errors.Is(err, mirror.ErrRateLimited):
		return ClassRateLimited
	case errors.Is(err, mirror.ErrUnauthorized):
		return ClassAuth
	case errors.As(err, &transport), errors.Is(err, mirror.ErrServer),
		errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ClassTransport
	case errors.Is(err, mirror.ErrValidation), errors.Is(err, mirror.ErrNotFound), errors.As(err, &validation):
		return ClassValidation
	default:
		return ClassInternal
	}
}

// Outcome is the result of one Sync call.
type Outcome struct {
	EntityType domain.EntityType
	EntityID   string
	RemoteID   string
	Action     domain.SyncAction
	// Degraded is set when a placeholder id was bound after a failed create.
	Degraded bool
	// Detail carries the create failure behind a degraded outcome.
	Detail   string
	Err      error
	Response any
}

// Status is the sync log status for the outcome.
func (o Outcome) Status() domain.SyncStatus {
	switch {
	case errors.Is(o.Err, ErrUnconfirmedCreate):
		return domain.SyncStatusUnconfirmed
	case o.Err != nil:
		return domain.SyncStatusFailed
	case o.Degraded:
		return domain.SyncStatusDegraded
	default:
		return domain.SyncStatusSuccess
	}
}

// Failed reports whether the attempt failed.
func (o Outcome) Failed() bool { return o.Err != nil }

// DeliveryErr is the error event delivery acts on. A degraded outcome is not a delivery: the
// entity still has to be created remotely, so it is reported as ErrDegraded and retried.
func (o Outcome) DeliveryErr() error {
	if o.Err != nil {
		return o.Err
	}
	if o.Degraded {
		return fmt.Errorf("%s %s: %w: %s", o.EntityType, o.EntityID, ErrDegraded, o.Detail)
	}
	return nil
}

// BatchResult summarises a bulk sync. Degraded entities are counted apart from synced ones.
type BatchResult struct {
	SyncedCount   int      `json:"synced_count"`
	DegradedCount int      `json:"degraded_count"`
	FailedCount   int      `json:"failed_count"`
	Errors        []string `json:"errors"`
}

func (r *BatchResult) add(o Outcome) {
	switch {
	case o.Err != nil:
		r.FailedCount++
		r.Errors = append(r.Errors, fmt.Sprintf("%s %s: %v", o.EntityType, o.EntityID, o.Err))
	case o.Degraded:
		r.DegradedCount++
		r.Errors = append(r.Errors, fmt.Sprintf("%s %s: degraded, placeholder %s: %s", o.EntityType, o.EntityID, o.RemoteID, o.Detail))
	default:
		r.SyncedCount++
	}
}

// missingList renders dependency keys deterministically.
func missingList(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
