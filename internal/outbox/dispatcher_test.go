package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu        sync.Mutex
	pending   []Message
	published []int64
	dlq       map[int64]string
	claimErr  error
	dlqErr    error
}

func newMemoryStore(msgs ...Message) *memoryStore {
	return &memoryStore{pending: msgs, dlq: map[int64]string{}}
}

func (s *memoryStore) Claim(ctx context.Context, limit int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimErr != nil {
		return nil, s.claimErr
	}
	n := min(limit, len(s.pending))
	claimed := append([]Message(nil), s.pending[:n]...)
	s.pending = s.pending[n:]
	return claimed, nil
}

func (s *memoryStore) MarkPublished(ctx context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published = append(s.published, ids...)
	return nil
}

func (s *memoryStore) MoveToDLQ(ctx context.Context, msg Message, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dlqErr != nil {
		return s.dlqErr
	}
	s.dlq[msg.EventID] = reason
	return nil
}

type recordingSink struct {
	mu      sync.Mutex
	batches [][]Message
	failIDs map[int64]error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Deliver(ctx context.Context, messages []Message) []Failure {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, messages)
	var failures []Failure
	for _, msg := range messages {
		if err, ok := s.failIDs[msg.EventID]; ok {
			failures = append(failures, Failure{Message: msg, Err: err})
		}
	}
	return failures
}

func (s *recordingSink) delivered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func testMessage(id int64) Message {
	return Message{
		EventID:       id,
		AggregateType: "time_entry",
		AggregateID:   "te-1",
		EventType:     "time_entry.started",
		Topic:         "time_entry_events",
		SchemaSubject: "time_entry_events-value",
		PartitionKey:  "emp-1",
		Payload:       []byte(`{}`),
	}
}

func TestProcessBatchMarksEverythingPublished(t *testing.T) {
	store := newMemoryStore(testMessage(1), testMessage(2), testMessage(3))
	sink := &recordingSink{}
	d := NewDispatcher(store, sink, time.Millisecond, 2)

	before := testutil.ToFloat64(eventsDelivered.WithLabelValues("recording", "time_entry.started"))

	n, err := d.ProcessBatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, []int64{1, 2}, store.published)
	require.InDelta(t, before+2, testutil.ToFloat64(eventsDelivered.WithLabelValues("recording", "time_entry.started")), 0.0001)

	n, err = d.ProcessBatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = d.ProcessBatch(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
	require.Len(t, sink.batches, 2)
}

func TestProcessBatchRoutesFailuresToDLQ(t *testing.T) {
	store := newMemoryStore(testMessage(1), testMessage(2))
	sink := &recordingSink{failIDs: map[int64]error{2: errors.New("remote down")}}
	d := NewDispatcher(store, sink, time.Millisecond, 10)

	failed := eventsFailed.WithLabelValues("recording", "time_entry.started", "internal")
	dlq := dlqRouted.WithLabelValues("recording", "time_entry_events")
	beforeFailed := testutil.ToFloat64(failed)
	beforeDLQ := testutil.ToFloat64(dlq)

	_, err := d.ProcessBatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, map[int64]string{2: "remote down"}, store.dlq)
	require.Equal(t, []int64{1, 2}, store.published, "failed events leave the outbox once they are in the DLQ")
	require.InDelta(t, beforeFailed+1, testutil.ToFloat64(failed), 0.0001)
	require.InDelta(t, beforeDLQ+1, testutil.ToFloat64(dlq), 0.0001)
}

func TestProcessBatchKeepsRowsWhenDLQWriteFails(t *testing.T) {
	store := newMemoryStore(testMessage(1))
	store.dlqErr = errors.New("db gone")
	sink := &recordingSink{failIDs: map[int64]error{1: errors.New("remote down")}}
	d := NewDispatcher(store, sink, time.Millisecond, 10)

	_, err := d.ProcessBatch(context.Background())
	require.ErrorContains(t, err, "db gone")
	require.Empty(t, store.published)
}

func TestProcessBatchPropagatesClaimError(t *testing.T) {
	store := newMemoryStore()
	store.claimErr = errors.New("claim failed")
	d := NewDispatcher(store, &recordingSink{}, time.Millisecond, 10)

	_, err := d.ProcessBatch(context.Background())
	require.ErrorContains(t, err, "claim failed")
}

func TestDispatcherStartStopsOnCancel(t *testing.T) {
	store := newMemoryStore(testMessage(1))
	sink := &recordingSink{}
	d := NewDispatcher(store, sink, 5*time.Millisecond, 10)

	ctx, cancel := context.WithCancel(context.Background())
	go d.Start(ctx)

	require.Eventually(t, func() bool { return sink.delivered() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	done := make(chan struct{})
	go func() {
		d.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestBackoffDelay(t *testing.T) {
	base := 30 * time.Second
	require.Equal(t, 30*time.Second, BackoffDelay(base, 0))
	require.Equal(t, 30*time.Second, BackoffDelay(base, 1))
	require.Equal(t, time.Minute, BackoffDelay(base, 2))
	require.Equal(t, 4*time.Minute, BackoffDelay(base, 4))
	require.Equal(t, time.Hour, BackoffDelay(base, 12))
	require.Equal(t, time.Hour, BackoffDelay(base, 64))
}
