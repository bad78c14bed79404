package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/akylbek/payment-system/payment-service/internal/worker"
)

var workerConcurrency int

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Reconcile queued webhook events",
	RunE: func(cmd *cobra.Command, args []string) error {
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

		concurrency := cfg.WorkerConcurrency
		if workerConcurrency > 0 {
			concurrency = workerConcurrency
		}
		return worker.NewPool(a.queue, a.webhooks().HandleJob, concurrency).Run(ctx)
	},
}

func init() {
	workerCmd.Flags().IntVarP(&workerConcurrency, "concurrency", "c", 0, "consumers to run (default WORKER_CONCURRENCY)")
}
