package interfaces

import (
	"context"

	"github.com/akylbek/payment-system/payment-service/internal/models"
)

type JobQueue interface {
	Enqueue(ctx context.Context, job models.WebhookJob) error
}

// JobHandler processes one job. Returning an error leaves the job for
// redelivery on backends that support it.
type JobHandler func(ctx context.Context, job models.WebhookJob) error

// JobConsumer delivers jobs to handler until ctx is cancelled.
type JobConsumer interface {
	Consume(ctx context.Context, handler JobHandler) error
	Close() error
}

type EventPublisher interface {
	Publish(ctx context.Context, event models.TransactionStateChanged) error
}
