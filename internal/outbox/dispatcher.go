// Package outbox delivers time entry events recorded alongside local writes to the remote mirror,
// either through Kafka or by syncing in process.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"
)

// Message represents a row fetched from outbox.
type Message struct {
	EventID       int64
	AggregateType string
	AggregateID   string
	EventType     string
	Topic         string
	SchemaSubject string
	PartitionKey  string
	Payload       json.RawMessage
	// Attempt counts earlier failed deliveries of the same event.
	Attempt int
}

// Failure pairs an undelivered message with the reason.
type Failure struct {
	Message Message
	Err     error
}

// Sink delivers a claimed batch. It returns one Failure per message that was not delivered.
// Name labels the sink's metrics.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, messages []Message) []Failure
}

// Store is the durable side of the outbox.
type Store interface {
	Claim(ctx context.Context, limit int) ([]Message, error)
	MarkPublished(ctx context.Context, ids []int64) error
	MoveToDLQ(ctx context.Context, msg Message, reason string) error
}

// Dispatcher drains the outbox table and hands events to a Sink.
type Dispatcher struct {
	store            Store
	sink             Sink
	pollInterval     time.Duration
	batchSize        int
	logger           *slog.Logger
	shutdownComplete chan struct{}
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(store Store, sink Sink, pollInterval time.Duration, batchSize int, opts ...Option) *Dispatcher {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 25
	}
	d := &Dispatcher{
		store:            store,
		sink:             sink,
		pollInterval:     pollInterval,
		batchSize:        batchSize,
		logger:           slog.Default(),
		shutdownComplete: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the polling loop. It should be called in a goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer func() {
		ticker.Stop()
		close(d.shutdownComplete)
	}()

	for {
		if _, err := d.ProcessBatch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("outbox dispatcher error", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait waits until dispatcher stops.
func (d *Dispatcher) Wait() {
	<-d.shutdownComplete
}

// ProcessBatch claims, delivers and settles one batch and returns how many messages it claimed.
// Failed messages move to the DLQ; every claimed message is then marked published.
func (d *Dispatcher) ProcessBatch(ctx context.Context) (int, error) {
	start := time.Now()

	messages, err := d.store.Claim(ctx, d.batchSize)
	if err != nil {
		return 0, err
	}
	if len(messages) == 0 {
		return 0, nil
	}
	sink := d.sink.Name()
	failures := d.sink.Deliver(ctx, messages)
	for _, f := range failures {
		d.logger.Warn("outbox delivery failed",
			"event_id", f.Message.EventID,
			"event_type", f.Message.EventType,
			"aggregate_id", f.Message.AggregateID,
			"error", f.Err,
		)
		if err := d.store.MoveToDLQ(ctx, f.Message, f.Err.Error()); err != nil {
			return len(messages), err
		}
		dlqRouted.WithLabelValues(sink, f.Message.Topic).Inc()
	}
	observeBatch(sink, messages, failures, start)

	ids := make([]int64, 0, len(messages))
	for _, msg := range messages {
		ids = append(ids, msg.EventID)
	}
	return len(messages), d.store.MarkPublished(ctx, ids)
}

// failAll reports every message as failed with the same error.
func failAll(messages []Message, err error) []Failure {
	failures := make([]Failure, 0, len(messages))
	for _, msg := range messages {
		failures = append(failures, Failure{Message: msg, Err: err})
	}
	return failures
}
