package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/payment-service/internal/interfaces"
	"github.com/akylbek/payment-system/payment-service/internal/models"
	"github.com/akylbek/payment-system/payment-service/internal/telemetry"
)

const (
	redisPollTimeout = 5 * time.Second
	retryBackoff     = time.Second
)

// RedisQueue is a reliable list queue. A consumer moves each job to a
// processing list while it runs and removes it from there once handled, so
// jobs held by a crashed worker are recovered on the next start.
// Recovery runs once per queue, before the first consumer reads, so
// consumers sharing the queue never steal each other's in-flight jobs.
type RedisQueue struct {
	rdb         *redis.Client
	key         string
	processing  string
	pollTimeout time.Duration

	recoverOnce sync.Once
	recoverErr  error
}

func NewRedisQueue(rdb *redis.Client, key string) *RedisQueue {
	return &RedisQueue{rdb: rdb, key: key, processing: key + ":processing", pollTimeout: redisPollTimeout}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job models.WebhookJob) error {
	data, err := encodeJob(job)
	if err != nil {
		return err
	}
	return q.rdb.LPush(ctx, q.key, data).Err()
}

func (q *RedisQueue) Consume(ctx context.Context, handler interfaces.JobHandler) error {
	q.recoverOnce.Do(func() { q.recoverErr = q.recover(ctx) })
	if q.recoverErr != nil {
		return q.recoverErr
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		raw, err := q.rdb.BLMove(ctx, q.key, q.processing, "RIGHT", "LEFT", q.pollTimeout).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			telemetry.Logger.Error("Error reading job from Redis", zap.Error(err))
			sleep(ctx, retryBackoff)
			continue
		}

		job, err := decodeJob([]byte(raw))
		if err != nil {
			telemetry.Logger.Error("Dropping malformed job", zap.String("job", raw), zap.Error(err))
			q.ack(ctx, raw)
			continue
		}

		if err := handler(ctx, job); err != nil {
			logHandlerError("redis", job, err)
			q.requeue(ctx, raw)
			sleep(ctx, retryBackoff)
			continue
		}
		q.ack(ctx, raw)
	}
}

// recover moves jobs left in the processing list back to the queue.
func (q *RedisQueue) recover(ctx context.Context) error {
	for {
		_, err := q.rdb.LMove(ctx, q.processing, q.key, "RIGHT", "RIGHT").Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (q *RedisQueue) ack(ctx context.Context, raw string) {
	if err := q.rdb.LRem(context.WithoutCancel(ctx), q.processing, 1, raw).Err(); err != nil {
		telemetry.Logger.Error("Error acknowledging job", zap.Error(err))
	}
}

func (q *RedisQueue) requeue(ctx context.Context, raw string) {
	ctx = context.WithoutCancel(ctx)
	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.processing, 1, raw)
		pipe.LPush(ctx, q.key, raw)
		return nil
	})
	if err != nil {
		telemetry.Logger.Error("Error requeueing job", zap.Error(err))
	}
}

// Close is a no-op; the Redis client is owned by the caller.
func (q *RedisQueue) Close() error {
	return nil
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
