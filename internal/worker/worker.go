// Package worker runs webhook jobs pulled from a queue.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/akylbek/payment-system/payment-service/internal/interfaces"
	"github.com/akylbek/payment-system/payment-service/internal/models"
	"github.com/akylbek/payment-system/payment-service/internal/telemetry"
)

type Pool struct {
	consumer    interfaces.JobConsumer
	handler     interfaces.JobHandler
	concurrency int
}

func NewPool(consumer interfaces.JobConsumer, handler interfaces.JobHandler, concurrency int) *Pool {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Pool{consumer: consumer, handler: handler, concurrency: concurrency}
}

// Run starts the consumers and blocks until ctx is cancelled and every
// consumer has returned. A consumer that fails for any reason other than
// cancellation cancels the others and its error is returned.
func (p *Pool) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	for i := 0; i < p.concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			err := p.consumer.Consume(ctx, p.wrap(worker))
			if err != nil && !errors.Is(err, context.Canceled) {
				once.Do(func() {
					firstErr = err
					cancel()
				})
			}
		}(i)
	}

	telemetry.Logger.Info("Webhook worker started", zap.Int("concurrency", p.concurrency))
	wg.Wait()
	telemetry.Logger.Info("Webhook worker stopped")
	return firstErr
}

// wrap adds logging and panic recovery around the handler.
func (p *Pool) wrap(worker int) interfaces.JobHandler {
	return func(ctx context.Context, job models.WebhookJob) (err error) {
		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				telemetry.Logger.Error("Webhook job panicked",
					zap.Int("worker", worker),
					zap.String("event_id", job.EventID),
					zap.Any("panic", r),
				)
				err = errors.New("webhook job panicked")
			}
		}()

		err = p.handler(ctx, job)
		telemetry.Logger.Debug("Webhook job handled",
			zap.Int("worker", worker),
			zap.String("event_id", job.EventID),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return err
	}
}
