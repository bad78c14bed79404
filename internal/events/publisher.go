// Package events publishes committed transaction state changes.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/payment-service/internal/models"
	"github.com/akylbek/payment-system/payment-service/internal/telemetry"
)

// KafkaPublisher writes one message per state change, keyed by transaction
// id so changes to the same transaction stay ordered within a partition.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.Hash{},
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event models.TransactionStateChanged) error {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode state change: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.TransactionID),
		Value: eventJSON,
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher only logs state changes. It is used when no broker is
// configured.
type LogPublisher struct{}

func (LogPublisher) Publish(ctx context.Context, event models.TransactionStateChanged) error {
	telemetry.LoggerFromContext(ctx).Info("Transaction state transition",
		zap.String("transaction_id", event.TransactionID),
		zap.String("from_state", event.PreviousState),
		zap.String("to_state", event.State),
		zap.String("source", event.Source),
	)
	return nil
}
