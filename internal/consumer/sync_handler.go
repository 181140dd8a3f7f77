package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/MayankBharati/solidtracker/internal/domain"
	"github.com/MayankBharati/solidtracker/internal/events"
	"github.com/MayankBharati/solidtracker/internal/mirrorsync"
	"github.com/MayankBharati/solidtracker/internal/outbox"
)

// Syncer mirrors one entity.
type Syncer interface {
	Sync(ctx context.Context, entityType domain.EntityType, entityID string) mirrorsync.Outcome
}

// Requeuer hands a failed event back to the DLQ for a delayed replay.
type Requeuer interface {
	Requeue(ctx context.Context, msg outbox.Message, reason string) error
}

// SyncHandler syncs the aggregate named by each event. Failed and degraded syncs are requeued and
// the message is acknowledged, so one stuck entity never blocks its partition.
type SyncHandler struct {
	syncer   Syncer
	requeuer Requeuer
	logger   *slog.Logger
}

// NewSyncHandler constructs a SyncHandler.
func NewSyncHandler(syncer Syncer, requeuer Requeuer, logger *slog.Logger) *SyncHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncHandler{syncer: syncer, requeuer: requeuer, logger: logger}
}

// Handle implements Handler. It returns an error only when a failed sync could not be requeued.
func (h *SyncHandler) Handle(ctx context.Context, msg Message) error {
	entityType, entityID, err := target(msg)
	if err != nil {
		return h.requeue(ctx, msg, err, mirrorsync.ClassValidation)
	}
	msg.AggregateType, msg.AggregateID = string(entityType), entityID

	outcome := h.syncer.Sync(ctx, entityType, entityID)
	err = outcome.DeliveryErr()
	if err == nil {
		return nil
	}
	return h.requeue(ctx, msg, err, mirrorsync.Classify(err))
}

func (h *SyncHandler) requeue(ctx context.Context, msg Message, cause error, class mirrorsync.ErrorClass) error {
	h.logger.Warn("sync from event failed, requeueing",
		"event_type", msg.EventType,
		"aggregate_id", msg.AggregateID,
		"attempt", msg.Attempt,
		"error_class", string(class),
		"error", cause)

	err := h.requeuer.Requeue(ctx, outbox.Message{
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Topic:         msg.Topic,
		SchemaSubject: msg.SchemaSubject,
		PartitionKey:  msg.Key,
		Payload:       msg.Payload,
		Attempt:       msg.Attempt,
	}, cause.Error())
	if err != nil {
		return fmt.Errorf("requeue %s %s: %w", msg.AggregateType, msg.AggregateID, err)
	}
	syncRequeues.WithLabelValues(string(class)).Inc()
	return nil
}

// target resolves the entity an event refers to, falling back to the payload for records
// written without aggregate headers.
func target(msg Message) (domain.EntityType, string, error) {
	if msg.AggregateType != "" && msg.AggregateID != "" {
		entityType, err := domain.ParseEntityType(msg.AggregateType)
		if err != nil {
			return "", "", err
		}
		return entityType, msg.AggregateID, nil
	}
	var payload events.TimeEntryChanged
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return "", "", fmt.Errorf("decode payload: %w", err)
	}
	if payload.TimeEntryID == "" {
		return "", "", &domain.ValidationError{Field: "time_entry_id", Reason: "missing from event payload"}
	}
	return domain.EntityTimeEntry, payload.TimeEntryID, nil
}
