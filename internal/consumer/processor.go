// Package consumer reads time entry events from Kafka and hands them to a Handler.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/MayankBharati/solidtracker/internal/outbox"
)

// Reader is the subset of *kafka.Reader the processor drives.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Handler consumes one decoded event. A non-nil error leaves the record uncommitted.
type Handler interface {
	Handle(context.Context, Message) error
}

// Message is a record produced by the outbox dispatcher, with its headers lifted into fields
// and the Confluent framing stripped from Payload.
type Message struct {
	Topic         string
	Partition     int
	Offset        int64
	Key           string
	Timestamp     time.Time
	EventType     string
	AggregateType string
	AggregateID   string
	SchemaSubject string
	SchemaID      int
	Attempt       int
	Payload       json.RawMessage
}

type Option func(*Processor)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Processor is the fetch, decode, handle and commit loop over one Reader.
type Processor struct {
	reader  Reader
	handler Handler
	logger  *slog.Logger
}

func NewProcessor(reader Reader, handler Handler, opts ...Option) *Processor {
	p := &Processor{reader: reader, handler: handler, logger: slog.Default().With("component", "consumer")}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run blocks until ctx ends. Transient fetch failures are logged and retried.
func (p *Processor) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		record, err := p.reader.FetchMessage(ctx)
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return err
		case err != nil:
			p.logger.Error("fetch failed", "error", err)
			continue
		}
		p.process(ctx, record)
	}
	return ctx.Err()
}

// process handles a single record. Undecodable records are committed so they cannot wedge the
// partition; records whose handler fails are not.
func (p *Processor) process(ctx context.Context, record kafka.Message) {
	msg, err := decodeMessage(record)
	if err != nil {
		p.logger.Warn("dropping undecodable record",
			"topic", record.Topic, "partition", record.Partition, "offset", record.Offset, "error", err)
		observeResult("", resultUndecodable)
		p.commit(ctx, record)
		return
	}

	if err := p.handler.Handle(ctx, msg); err != nil {
		p.logger.Error("handle failed",
			"event_type", msg.EventType, "aggregate_id", msg.AggregateID, "offset", record.Offset, "error", err)
		observeResult(msg.EventType, resultHandlerFail)
		return
	}
	if p.commit(ctx, record) {
		observeHandled(msg)
	}
}

func (p *Processor) commit(ctx context.Context, record kafka.Message) bool {
	if err := p.reader.CommitMessages(ctx, record); err != nil {
		p.logger.Error("commit failed", "partition", record.Partition, "offset", record.Offset, "error", err)
		return false
	}
	return true
}

func decodeMessage(msg kafka.Message) (Message, error) {
	if len(msg.Value) < 5 || msg.Value[0] != 0 {
		return Message{}, fmt.Errorf("invalid payload framing (length %d)", len(msg.Value))
	}

	eventType, ok := headerValue(msg, outbox.HeaderEventType)
	if !ok {
		return Message{}, errors.New("missing event_type header")
	}
	aggregateType, _ := headerValue(msg, outbox.HeaderAggregateType)
	aggregateID, _ := headerValue(msg, outbox.HeaderAggregateID)
	schemaSubject, _ := headerValue(msg, outbox.HeaderSchemaSubject)

	attempt := 0
	if raw, ok := headerValue(msg, outbox.HeaderAttempt); ok {
		n, err := strconv.Atoi(string(raw))
		if err != nil {
			return Message{}, fmt.Errorf("invalid attempt header %q", raw)
		}
		attempt = n
	}

	schemaID, body := outbox.DecodeWireFormat(msg.Value)
	payload := json.RawMessage(append([]byte(nil), body...))
	if !json.Valid(payload) {
		return Message{}, errors.New("payload is not valid JSON")
	}

	return Message{
		Topic:         msg.Topic,
		Partition:     msg.Partition,
		Offset:        msg.Offset,
		Key:           string(msg.Key),
		Timestamp:     msg.Time,
		EventType:     string(eventType),
		AggregateType: string(aggregateType),
		AggregateID:   string(aggregateID),
		SchemaSubject: string(schemaSubject),
		SchemaID:      schemaID,
		Attempt:       attempt,
		Payload:       payload,
	}, nil
}

func headerValue(msg kafka.Message, key string) ([]byte, bool) {
	for _, header := range msg.Headers {
		if header.Key == key {
			return header.Value, true
		}
	}
	return nil, false
}
