package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"healthwatch/internal/config"
	"healthwatch/internal/domain"
)

// KafkaPublisher publishes alert events to one topic keyed by scope.
// Params: kafka writer configured for the alert topic.
// Returns: publisher implementation for the Kafka transport.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates a Kafka alert event producer.
// Params: Kafka notifier config.
// Returns: initialized publisher.
func NewKafkaPublisher(cfg config.KafkaNotifier) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
	}
}

// Name returns the publisher key.
// Params: none.
// Returns: static transport name.
func (p *KafkaPublisher) Name() string {
	return "kafka"
}

// Publish writes one alert event keyed by the scope routing key.
// Params: context, scope, and event payload.
// Returns: marshal or write error.
func (p *KafkaPublisher) Publish(ctx context.Context, scope Scope, event domain.AlertEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal alert event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(scope.Key()),
		Value: body,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write alert event: %w", err)
	}
	return nil
}

// Close closes the Kafka writer.
// Params: none.
// Returns: close error.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
