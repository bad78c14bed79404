package queue

import (
	"context"
	"errors"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/payment-service/internal/interfaces"
	"github.com/akylbek/payment-system/payment-service/internal/models"
	"github.com/akylbek/payment-system/payment-service/internal/telemetry"
)

// KafkaQueue writes jobs to a topic and reads them back through a consumer
// group. Offsets are committed after the handler returns, failed or not;
// failed events stay unprocessed in the store and are picked up by a replay.
type KafkaQueue struct {
	writer  *kafka.Writer
	brokers []string
	topic   string
	groupID string
}

func NewKafkaQueue(brokers []string, topic, groupID string) *KafkaQueue {
	return &KafkaQueue{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
		brokers: brokers,
		topic:   topic,
		groupID: groupID,
	}
}

func (q *KafkaQueue) Enqueue(ctx context.Context, job models.WebhookJob) error {
	data, err := encodeJob(job)
	if err != nil {
		return err
	}
	return q.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(job.EventID),
		Value: data,
	})
}

func (q *KafkaQueue) Consume(ctx context.Context, handler interfaces.JobHandler) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  q.brokers,
		Topic:    q.topic,
		GroupID:  q.groupID,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	telemetry.Logger.Info("Started consuming webhook jobs", zap.String("topic", q.topic))

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return ctx.Err()
			}
			telemetry.Logger.Error("Error reading message from Kafka", zap.Error(err))
			sleep(ctx, retryBackoff)
			continue
		}

		job, err := decodeJob(msg.Value)
		if err != nil {
			telemetry.Logger.Error("Dropping malformed job", zap.Error(err))
		} else if err := handler(ctx, job); err != nil {
			logHandlerError("kafka", job, err)
		}

		if err := reader.CommitMessages(context.WithoutCancel(ctx), msg); err != nil {
			telemetry.Logger.Error("Error committing Kafka offset", zap.Error(err))
		}
	}
}

func (q *KafkaQueue) Close() error {
	return q.writer.Close()
}
