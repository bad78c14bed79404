package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/payment-service/internal/telemetry"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete expired idempotency records",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.store.Repositories().Idempotency.DeleteExpired(cmd.Context(), time.Now())
		if err != nil {
			return fmt.Errorf("delete expired idempotency records: %w", err)
		}
		telemetry.Logger.Info("Deleted expired idempotency records", zap.Int64("count", n))
		return nil
	},
}
