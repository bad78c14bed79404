package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/payment-service/internal/api"
	"github.com/akylbek/payment-system/payment-service/internal/auth"
	"github.com/akylbek/payment-system/payment-service/internal/config"
	"github.com/akylbek/payment-system/payment-service/internal/service"
	"github.com/akylbek/payment-system/payment-service/internal/telemetry"
	"github.com/akylbek/payment-system/payment-service/internal/worker"
)

var serveEmbeddedWorker bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the payment HTTP API",
	Long: `Run the payment HTTP API.

With QUEUE_BACKEND=memory the webhook worker always runs in the same
process, since nothing else can read the queue.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveEmbeddedWorker, "embedded-worker", false, "also run the webhook worker in this process")
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	gw, err := a.gateway()
	if err != nil {
		return err
	}
	verifier, err := auth.NewVerifier(cfg.JWTSecretKey, cfg.JWTAlgorithm)
	if err != nil {
		return err
	}

	idem := a.idempotency()
	webhooks := a.webhooks()
	router := api.NewRouter(cfg, api.Dependencies{
		Store:       a.store,
		Payments:    service.NewPaymentService(a.store, gw, idem, a.publisher),
		Webhooks:    webhooks,
		Idempotency: idem,
		Verifier:    verifier,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.GatewayTimeout + 30*time.Second,
	}

	workerDone := make(chan error, 1)
	if serveEmbeddedWorker || cfg.QueueBackend == config.QueueBackendMemory {
		pool := worker.NewPool(a.queue, webhooks.HandleJob, cfg.WorkerConcurrency)
		go func() { workerDone <- pool.Run(ctx) }()
	} else {
		close(workerDone)
	}

	telemetry.Logger.Info("Payment service starting", zap.String("port", cfg.Port))
	err = serveUntilDone(ctx, stop, srv.ListenAndServe, srv.Shutdown, cfg.ShutdownTimeout, workerDone)
	telemetry.Logger.Info("Server exited")
	return err
}

// serveUntilDone runs listen until it fails or ctx ends. Either way the
// embedded worker is stopped and drained before it returns, so callers can
// release the connections the worker uses.
func serveUntilDone(
	ctx context.Context,
	stop context.CancelFunc,
	listen func() error,
	shutdown func(context.Context) error,
	timeout time.Duration,
	workerDone <-chan error,
) error {
	serverErr := make(chan error, 1)
	go func() {
		if err := listen(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var err error
	select {
	case <-ctx.Done():
		telemetry.Logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			telemetry.Logger.Error("Server forced to shutdown", zap.Error(err))
		}
	case err = <-serverErr:
		telemetry.Logger.Error("Server failed", zap.Error(err))
		stop()
	}

	if werr := <-workerDone; werr != nil && !errors.Is(werr, context.Canceled) {
		telemetry.Logger.Error("Webhook worker stopped with error", zap.Error(werr))
	}
	return err
}
