package notify

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// Publisher writes messages to a topic.
type Publisher interface {
	WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error
}

// KafkaProducer lazily manages writers per topic.
type KafkaProducer struct {
	brokers []string
	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

func NewKafkaProducer(brokers []string) *KafkaProducer {
	return &KafkaProducer{brokers: brokers, writers: make(map[string]*kafka.Writer)}
}

// WriteMessages writes synchronously, creating the topic writer on first use.
func (p *KafkaProducer) WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error {
	return p.writerFor(topic).WriteMessages(ctx, msgs...)
}

func (p *KafkaProducer) writerFor(topic string) *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w, ok := p.writers[topic]; ok {
		return w
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(p.brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
	}
	p.writers[topic] = w
	return w
}

// Close releases all writers.
func (p *KafkaProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for topic, w := range p.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.writers, topic)
	}
	return firstErr
}

// HealthPing dials the first reachable broker.
func (p *KafkaProducer) HealthPing(ctx context.Context) error {
	var lastErr error
	for _, b := range p.brokers {
		conn, err := kafka.DialContext(ctx, "tcp", b)
		if err != nil {
			lastErr = err
			continue
		}
		return conn.Close()
	}
	if lastErr == nil {
		lastErr = errors.New("no kafka brokers configured")
	}
	return lastErr
}

// LogPublisher stands in when no brokers are configured; it only logs.
type LogPublisher struct{ Log zerolog.Logger }

func (p LogPublisher) WriteMessages(_ context.Context, topic string, msgs ...kafka.Message) error {
	for _, m := range msgs {
		p.Log.Info().Str("topic", topic).Bytes("key", m.Key).RawJSON("value", m.Value).Msg("notification (no broker configured)")
	}
	return nil
}
