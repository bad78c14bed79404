package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/akylbek/payment-system/payment-service/internal/models"
)

func TestMemoryQueueDeliversInOrder(t *testing.T) {
	q := NewMemoryQueue(4)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for _, id := range []string{"a", "b", "c"} {
		if err := q.Enqueue(ctx, models.WebhookJob{EventID: id}); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}
	if q.Len() != 3 {
		t.Fatalf("expected 3 waiting jobs, got %d", q.Len())
	}

	var got []string
	err := q.Consume(ctx, func(_ context.Context, job models.WebhookJob) error {
		got = append(got, job.EventID)
		if len(got) == 3 {
			cancel()
		}
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("unexpected delivery order %v", got)
	}
}

func TestMemoryQueueKeepsConsumingAfterHandlerError(t *testing.T) {
	q := NewMemoryQueue(2)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_ = q.Enqueue(ctx, models.WebhookJob{EventID: "bad"})
	_ = q.Enqueue(ctx, models.WebhookJob{EventID: "good"})

	var handled []string
	_ = q.Consume(ctx, func(_ context.Context, job models.WebhookJob) error {
		handled = append(handled, job.EventID)
		if job.EventID == "bad" {
			return errors.New("boom")
		}
		cancel()
		return nil
	})
	if len(handled) != 2 {
		t.Fatalf("expected both jobs handled, got %v", handled)
	}
}

func TestMemoryQueueClose(t *testing.T) {
	q := NewMemoryQueue(1)
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	err := q.Enqueue(context.Background(), models.WebhookJob{EventID: "x"})
	if !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
	err = q.Consume(context.Background(), func(context.Context, models.WebhookJob) error { return nil })
	if !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed from consume, got %v", err)
	}
}

func TestMemoryQueueEnqueueHonoursContext(t *testing.T) {
	q := NewMemoryQueue(1)
	_ = q.Enqueue(context.Background(), models.WebhookJob{EventID: "fill"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Enqueue(ctx, models.WebhookJob{EventID: "overflow"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded on a full queue, got %v", err)
	}
}

func TestDecodeJob(t *testing.T) {
	job, err := decodeJob([]byte(`{"event_id":"42","correlation_id":"c-1"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if job.EventID != "42" || job.CorrelationID != "c-1" {
		t.Fatalf("unexpected job %+v", job)
	}

	if _, err := decodeJob([]byte(`{"correlation_id":"c-1"}`)); err == nil {
		t.Fatal("expected error for job without event id")
	}
	if _, err := decodeJob([]byte(`not json`)); err == nil {
		t.Fatal("expected error for malformed job")
	}
}
