package main

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

// embeddedWorker mimics worker.Pool.Run: it returns once ctx ends and
// records that it finished before reporting on done.
func embeddedWorker(ctx context.Context, finished *bool) <-chan error {
	done := make(chan error, 1)
	go func() {
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		*finished = true
		done <- ctx.Err()
	}()
	return done
}

func TestServeUntilDoneDrainsWorkerWhenListenFails(t *testing.T) {
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	var finished bool
	workerDone := embeddedWorker(ctx, &finished)
	listenErr := errors.New("listen tcp :8081: bind: address already in use")

	err := serveUntilDone(ctx, stop,
		func() error { return listenErr },
		func(context.Context) error { t.Error("shutdown called for a server that never started"); return nil },
		time.Second, workerDone)

	if !errors.Is(err, listenErr) {
		t.Errorf("err = %v, want the listen error", err)
	}
	if !finished {
		t.Error("returned before the embedded worker stopped")
	}
}

func TestServeUntilDoneShutsDownOnCancel(t *testing.T) {
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	var finished bool
	workerDone := embeddedWorker(ctx, &finished)
	closed := make(chan struct{})

	go func() {
		time.Sleep(20 * time.Millisecond)
		stop()
	}()
	err := serveUntilDone(ctx, stop,
		func() error { <-closed; return http.ErrServerClosed },
		func(context.Context) error { close(closed); return nil },
		time.Second, workerDone)

	if err != nil {
		t.Errorf("err = %v, want nil on graceful shutdown", err)
	}
	if !finished {
		t.Error("returned before the embedded worker stopped")
	}
}
