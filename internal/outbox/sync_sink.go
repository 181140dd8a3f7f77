package outbox

import (
	"context"

	"github.com/MayankBharati/solidtracker/internal/domain"
	"github.com/MayankBharati/solidtracker/internal/mirrorsync"
)

// Syncer is the slice of the sync coordinator the direct sink needs.
type Syncer interface {
	Sync(ctx context.Context, entityType domain.EntityType, entityID string) mirrorsync.Outcome
}

// SyncSink delivers messages by syncing their aggregate in process, for deployments without Kafka.
type SyncSink struct {
	syncer Syncer
}

// NewSyncSink constructs a SyncSink.
func NewSyncSink(syncer Syncer) *SyncSink {
	return &SyncSink{syncer: syncer}
}

// Name implements Sink.
func (s *SyncSink) Name() string { return "sync" }

// Deliver syncs each message's aggregate in order. Events that repeat an aggregate already
// synced in this batch are settled by that sync, since it reads current local state. A degraded
// sync is a failure here so the replay retries the real create.
func (s *SyncSink) Deliver(ctx context.Context, messages []Message) []Failure {
	var failures []Failure
	done := make(map[string]error)
	for _, msg := range messages {
		key := msg.AggregateType + ":" + msg.AggregateID
		err, seen := done[key]
		if seen {
			eventsCoalesced.WithLabelValues(msg.AggregateType).Inc()
		} else {
			err = s.sync(ctx, msg)
			done[key] = err
		}
		if err != nil {
			failures = append(failures, Failure{Message: msg, Err: err})
		}
	}
	return failures
}

func (s *SyncSink) sync(ctx context.Context, msg Message) error {
	entityType, err := domain.ParseEntityType(msg.AggregateType)
	if err != nil {
		return err
	}
	return s.syncer.Sync(ctx, entityType, msg.AggregateID).DeliveryErr()
}
