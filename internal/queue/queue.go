// Package queue carries webhook jobs from the HTTP process to the worker.
// Delivery guarantees differ by backend:
//   - redis: at-least-once. Jobs held by a crashed worker are recovered from
//     the processing list, and failed jobs are pushed back.
//   - kafka: at-least-once across restarts, since the offset is committed
//     after the handler returns. A job whose handler fails is logged and
//     committed, not retried.
//   - sqs: at-least-once. A message is deleted only after the handler
//     succeeds and is redelivered after its visibility timeout otherwise.
//   - nats: at-most-once. Core NATS keeps no copy once delivered.
//   - memory: at-most-once and in-process only.
//
// A job that is delivered twice is harmless because event processing skips
// events that are already processed. Events lost in transit stay unprocessed
// in the database and are picked up by `webhooks replay`.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/payment-service/internal/config"
	"github.com/akylbek/payment-system/payment-service/internal/interfaces"
	"github.com/akylbek/payment-system/payment-service/internal/models"
	"github.com/akylbek/payment-system/payment-service/internal/telemetry"
)

// Queue is both ends of a job queue.
type Queue interface {
	interfaces.JobQueue
	interfaces.JobConsumer
}

// Open builds the backend selected by QUEUE_BACKEND. rdb may be nil unless
// the redis backend is selected.
func Open(ctx context.Context, cfg *config.Config, rdb *redis.Client) (Queue, error) {
	switch cfg.QueueBackend {
	case config.QueueBackendRedis:
		if rdb == nil {
			return nil, fmt.Errorf("redis queue requires a redis client")
		}
		return NewRedisQueue(rdb, cfg.WebhookQueue), nil
	case config.QueueBackendKafka:
		return NewKafkaQueue(cfg.KafkaBrokers, cfg.WebhookQueue, cfg.ServiceName), nil
	case config.QueueBackendNATS:
		return NewNATSQueue(cfg.NATSURL, cfg.WebhookQueue, cfg.ServiceName)
	case config.QueueBackendSQS:
		return NewSQSQueue(ctx, cfg.AWSRegion, cfg.SQSQueueURL)
	case config.QueueBackendMemory:
		return NewMemoryQueue(defaultMemoryCapacity), nil
	default:
		return nil, fmt.Errorf("unsupported queue backend %q", cfg.QueueBackend)
	}
}

func encodeJob(job models.WebhookJob) ([]byte, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}
	return data, nil
}

func decodeJob(data []byte) (models.WebhookJob, error) {
	var job models.WebhookJob
	if err := json.Unmarshal(data, &job); err != nil {
		return job, fmt.Errorf("decode job: %w", err)
	}
	if job.EventID == "" {
		return job, fmt.Errorf("decode job: missing event_id")
	}
	return job, nil
}

func logHandlerError(backend string, job models.WebhookJob, err error) {
	telemetry.Logger.Error("Webhook job failed",
		zap.String("backend", backend),
		zap.String("event_id", job.EventID),
		zap.String("correlation_id", job.CorrelationID),
		zap.Error(err),
	)
}
