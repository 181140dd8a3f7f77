package outbox

import (
	"context"
	"encoding/binary"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(context.Context, string, ...kafka.Message) error
}

type schemaRegistrar interface {
	EnsureSchema(context.Context, string, string) (int, error)
}

// Kafka header names set on every published record.
const (
	HeaderEventType     = "event_type"
	HeaderAggregateType = "aggregate_type"
	HeaderAggregateID   = "aggregate_id"
	HeaderSchemaSubject = "schema_subject"
	HeaderAttempt       = "attempt"
)

// KafkaSink publishes outbox messages to Kafka using Schema Registry framing.
type KafkaSink struct {
	producer      messageWriter
	registry      schemaRegistrar
	schemaIDCache sync.Map
}

// NewKafkaSink constructs a KafkaSink.
func NewKafkaSink(producer messageWriter, registry schemaRegistrar) *KafkaSink {
	return &KafkaSink{producer: producer, registry: registry}
}

// Name implements Sink.
func (s *KafkaSink) Name() string { return "kafka" }

// Deliver groups messages by topic and writes each group in one call. A failed write fails
// every message of its topic.
func (s *KafkaSink) Deliver(ctx context.Context, messages []Message) []Failure {
	type topicBatch struct {
		source  []Message
		records []kafka.Message
	}

	var failures []Failure
	batches := make(map[string]*topicBatch)
	order := make([]string, 0)

	for _, msg := range messages {
		schemaID, err := s.schemaID(ctx, msg)
		if err != nil {
			failures = append(failures, Failure{Message: msg, Err: err})
			continue
		}

		record := kafka.Message{
			Key:   []byte(msg.PartitionKey),
			Value: encodeWireFormat(schemaID, msg.Payload),
			Time:  time.Now().UTC(),
			Headers: []kafka.Header{
				{Key: HeaderEventType, Value: []byte(msg.EventType)},
				{Key: HeaderAggregateType, Value: []byte(msg.AggregateType)},
				{Key: HeaderAggregateID, Value: []byte(msg.AggregateID)},
				{Key: HeaderSchemaSubject, Value: []byte(msg.SchemaSubject)},
				{Key: HeaderAttempt, Value: []byte(strconv.Itoa(msg.Attempt))},
			},
		}

		batch, exists := batches[msg.Topic]
		if !exists {
			batch = &topicBatch{}
			batches[msg.Topic] = batch
			order = append(order, msg.Topic)
		}
		batch.source = append(batch.source, msg)
		batch.records = append(batch.records, record)
	}

	for _, topic := range order {
		batch := batches[topic]
		if err := s.producer.WriteMessages(ctx, topic, batch.records...); err != nil {
			failures = append(failures, failAll(batch.source, fmt.Errorf("publish to %s: %w", topic, err))...)
		}
	}
	return failures
}

func (s *KafkaSink) schemaID(ctx context.Context, msg Message) (int, error) {
	meta, ok := schemaCatalog[msg.EventType]
	if !ok {
		return 0, fmt.Errorf("no schema metadata for event_type=%s", msg.EventType)
	}
	cacheKey := msg.SchemaSubject + "::" + meta.Schema
	if id, found := s.schemaIDCache.Load(cacheKey); found {
		return id.(int), nil
	}
	id, err := s.registry.EnsureSchema(ctx, msg.SchemaSubject, meta.Schema)
	if err != nil {
		return 0, err
	}
	s.schemaIDCache.Store(cacheKey, id)
	return id, nil
}

// encodeWireFormat applies Confluent framing for Schema Registry aware payloads.
func encodeWireFormat(schemaID int, payload []byte) []byte {
	frame := make([]byte, 5+len(payload))
	frame[0] = 0
	binary.BigEndian.PutUint32(frame[1:5], uint32(schemaID))
	copy(frame[5:], payload)
	return frame
}

// DecodeWireFormat strips Confluent framing and returns the schema id and payload. Unframed
// payloads are returned unchanged with schema id 0.
func DecodeWireFormat(value []byte) (int, []byte) {
	if len(value) >= 5 && value[0] == 0 {
		return int(binary.BigEndian.Uint32(value[1:5])), value[5:]
	}
	return 0, value
}
