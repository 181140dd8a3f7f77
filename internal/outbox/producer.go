package outbox

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaProducer writes synchronously to Kafka, opening one writer per topic on first use.
type KafkaProducer struct {
	addr    net.Addr
	timeout time.Duration

	mu      sync.Mutex
	byTopic map[string]*kafka.Writer
}

func NewKafkaProducer(brokers []string) *KafkaProducer {
	return &KafkaProducer{
		addr:    kafka.TCP(brokers...),
		timeout: 10 * time.Second,
		byTopic: map[string]*kafka.Writer{},
	}
}

func (p *KafkaProducer) WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error {
	return p.writer(topic).WriteMessages(ctx, msgs...)
}

// writer keys records by partition key hash so one employee's events stay ordered on a
// single partition, and waits for every in-sync replica.
func (p *KafkaProducer) writer(topic string) *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.byTopic[topic]
	if !ok {
		w = &kafka.Writer{
			Addr:                   p.addr,
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			Compression:            kafka.Snappy,
			WriteTimeout:           p.timeout,
			AllowAutoTopicCreation: true,
		}
		p.byTopic[topic] = w
	}
	return w
}

// Close flushes and closes every writer opened so far.
func (p *KafkaProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for topic, w := range p.byTopic {
		errs = append(errs, w.Close())
		delete(p.byTopic, topic)
	}
	return errors.Join(errs...)
}
