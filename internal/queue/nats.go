package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/payment-service/internal/interfaces"
	"github.com/akylbek/payment-system/payment-service/internal/models"
	"github.com/akylbek/payment-system/payment-service/internal/telemetry"
)

const natsFlushTimeout = 5 * time.Second

// NATSQueue publishes jobs on a subject and consumes them through a queue
// group, so each job reaches one worker. Core NATS does not redeliver; jobs
// published while no worker is subscribed are only recovered by a replay.
type NATSQueue struct {
	nc      *nats.Conn
	subject string
	group   string
}

func NewNATSQueue(url, subject, group string) (*NATSQueue, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &NATSQueue{nc: nc, subject: subject, group: group}, nil
}

func (q *NATSQueue) Enqueue(ctx context.Context, job models.WebhookJob) error {
	data, err := encodeJob(job)
	if err != nil {
		return err
	}
	if err := q.nc.Publish(q.subject, data); err != nil {
		return err
	}
	return q.nc.FlushTimeout(natsFlushTimeout)
}

func (q *NATSQueue) Consume(ctx context.Context, handler interfaces.JobHandler) error {
	sub, err := q.nc.QueueSubscribe(q.subject, q.group, func(msg *nats.Msg) {
		job, err := decodeJob(msg.Data)
		if err != nil {
			telemetry.Logger.Error("Dropping malformed job", zap.Error(err))
			return
		}
		if err := handler(ctx, job); err != nil {
			logHandlerError("nats", job, err)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", q.subject, err)
	}
	telemetry.Logger.Info("Started consuming webhook jobs", zap.String("subject", q.subject))

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		telemetry.Logger.Warn("Error draining NATS subscription", zap.Error(err))
	}
	return ctx.Err()
}

func (q *NATSQueue) Close() error {
	q.nc.Close()
	return nil
}
