package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/akylbek/payment-system/payment-service/internal/interfaces"
	"github.com/akylbek/payment-system/payment-service/internal/models"
)

const defaultMemoryCapacity = 1024

var ErrQueueClosed = errors.New("queue closed")

// MemoryQueue is an in-process queue for development and tests. Jobs are
// lost when the process exits.
type MemoryQueue struct {
	mu     sync.RWMutex
	jobs   chan models.WebhookJob
	closed bool
}

func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	return &MemoryQueue{jobs: make(chan models.WebhookJob, capacity)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job models.WebhookJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume hands jobs to handler until ctx is cancelled or the queue is
// closed. Failed jobs are logged and dropped; their events stay unprocessed
// in the store for a later replay.
func (q *MemoryQueue) Consume(ctx context.Context, handler interfaces.JobHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job, ok := <-q.jobs:
			if !ok {
				return ErrQueueClosed
			}
			if err := handler(ctx, job); err != nil {
				logHandlerError("memory", job, err)
			}
		}
	}
}

// Len is the number of jobs waiting.
func (q *MemoryQueue) Len() int {
	return len(q.jobs)
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	return nil
}
