package consumer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MayankBharati/solidtracker/internal/domain"
	"github.com/MayankBharati/solidtracker/internal/mirror"
	"github.com/MayankBharati/solidtracker/internal/mirrorsync"
	"github.com/MayankBharati/solidtracker/internal/outbox"
)

type fakeSyncer struct {
	calls    []string
	err      error
	degraded bool
}

func (s *fakeSyncer) Sync(ctx context.Context, entityType domain.EntityType, id string) mirrorsync.Outcome {
	s.calls = append(s.calls, string(entityType)+":"+id)
	out := mirrorsync.Outcome{EntityType: entityType, EntityID: id, Err: s.err}
	if s.degraded {
		out.Degraded = true
		out.RemoteID = domain.PlaceholderPrefix + "x"
		out.Detail = "insightful POST /window: status 500"
	}
	return out
}

type fakeRequeuer struct {
	msgs    []outbox.Message
	reasons []string
	err     error
}

func (r *fakeRequeuer) Requeue(ctx context.Context, msg outbox.Message, reason string) error {
	if r.err != nil {
		return r.err
	}
	r.msgs = append(r.msgs, msg)
	r.reasons = append(r.reasons, reason)
	return nil
}

func syncMessage() Message {
	return Message{
		Topic:         "time_entry_events",
		Key:           "emp-1",
		EventType:     "time_entry.stopped",
		AggregateType: "time_entry",
		AggregateID:   "te-1",
		SchemaSubject: "time_entry_events-value",
		Attempt:       1,
		Payload:       []byte(`{"time_entry_id":"te-1"}`),
	}
}

func TestSyncHandlerSyncsAggregate(t *testing.T) {
	syncer := &fakeSyncer{}
	requeuer := &fakeRequeuer{}
	h := NewSyncHandler(syncer, requeuer, quietLogger())

	require.NoError(t, h.Handle(context.Background(), syncMessage()))
	require.Equal(t, []string{"time_entry:te-1"}, syncer.calls)
	require.Empty(t, requeuer.msgs)
}

func TestSyncHandlerFallsBackToPayload(t *testing.T) {
	syncer := &fakeSyncer{}
	h := NewSyncHandler(syncer, &fakeRequeuer{}, quietLogger())

	msg := syncMessage()
	msg.AggregateType, msg.AggregateID = "", ""
	msg.Payload = []byte(`{"time_entry_id":"te-9"}`)

	require.NoError(t, h.Handle(context.Background(), msg))
	require.Equal(t, []string{"time_entry:te-9"}, syncer.calls)
}

func TestSyncHandlerRequeuesFailedSync(t *testing.T) {
	syncer := &fakeSyncer{err: &mirrorsync.DependencyError{EntityType: domain.EntityTimeEntry, EntityID: "te-1", Missing: []string{"task:t1"}}}
	requeuer := &fakeRequeuer{}
	h := NewSyncHandler(syncer, requeuer, quietLogger())

	require.NoError(t, h.Handle(context.Background(), syncMessage()))
	require.Len(t, requeuer.msgs, 1)
	requeued := requeuer.msgs[0]
	require.Equal(t, "te-1", requeued.AggregateID)
	require.Equal(t, "emp-1", requeued.PartitionKey)
	require.Equal(t, 1, requeued.Attempt)
	require.Zero(t, requeued.EventID)
	require.Contains(t, requeuer.reasons[0], "task:t1")
}

func TestSyncHandlerRequeuesDegradedSync(t *testing.T) {
	syncer := &fakeSyncer{degraded: true}
	requeuer := &fakeRequeuer{}
	h := NewSyncHandler(syncer, requeuer, quietLogger())

	require.NoError(t, h.Handle(context.Background(), syncMessage()))
	require.Len(t, requeuer.msgs, 1)
	require.Equal(t, "te-1", requeuer.msgs[0].AggregateID)
	require.Contains(t, requeuer.reasons[0], mirrorsync.ErrDegraded.Error())
	require.Contains(t, requeuer.reasons[0], "status 500")
}

func TestSyncHandlerReturnsErrorWhenRequeueFails(t *testing.T) {
	syncer := &fakeSyncer{err: &mirror.APIError{StatusCode: 503}}
	h := NewSyncHandler(syncer, &fakeRequeuer{err: errors.New("db down")}, quietLogger())

	err := h.Handle(context.Background(), syncMessage())
	require.ErrorContains(t, err, "db down")
}

func TestSyncHandlerRequeuesUnresolvableEvents(t *testing.T) {
	syncer := &fakeSyncer{}
	requeuer := &fakeRequeuer{}
	h := NewSyncHandler(syncer, requeuer, quietLogger())

	msg := syncMessage()
	msg.AggregateType, msg.AggregateID = "", ""
	msg.Payload = []byte(`{}`)

	require.NoError(t, h.Handle(context.Background(), msg))
	require.Empty(t, syncer.calls)
	require.Len(t, requeuer.msgs, 1)
}
