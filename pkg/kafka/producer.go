package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/config"
)

// Event is one outgoing message. Key picks the partition; Value is sent as
// JSON.
type Event struct {
	Key   string
	Value any
}

// Publisher is implemented by Producer and by test fakes.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	PublishBatch(ctx context.Context, events []Event) error
	Close() error
}

var jsonHeader = kafka.Header{Key: "content-type", Value: []byte("application/json")}

type Producer struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// NewProducer writes to topic with key hashing and leader acks.
func NewProducer(cfg config.KafkaConfig, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			BatchSize:              100,
			BatchTimeout:           10 * time.Millisecond,
			MaxAttempts:            3,
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
		logger: slog.Default().With("component", "kafka-producer", "topic", topic),
	}
}

func (p *Producer) Publish(ctx context.Context, event Event) error {
	return p.PublishBatch(ctx, []Event{event})
}

// PublishBatch encodes every event before writing any, so a bad value
// fails the whole call without a partial write.
func (p *Producer) PublishBatch(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, len(events))
	for i, ev := range events {
		m, err := toMessage(ev)
		if err != nil {
			return err
		}
		msgs[i] = m
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("writing %d messages to %s: %w", len(msgs), p.writer.Topic, err)
	}
	p.logger.Debug("published", "messages", len(msgs))
	return nil
}

// Close flushes buffered messages.
func (p *Producer) Close() error { return p.writer.Close() }

func toMessage(ev Event) (kafka.Message, error) {
	value, err := json.Marshal(ev.Value)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encoding event %q: %w", ev.Key, err)
	}
	return kafka.Message{
		Key:     []byte(ev.Key),
		Value:   value,
		Headers: []kafka.Header{jsonHeader},
	}, nil
}
