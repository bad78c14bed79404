package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/payment-service/internal/telemetry"
)

var replayLimit int

var webhooksCmd = &cobra.Command{
	Use:   "webhooks",
	Short: "Manage stored webhook events",
}

var webhooksReplayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Re-enqueue webhook events that were never processed",
	Long: `Re-enqueue webhook events that are still unprocessed, oldest first.

Events lost by a queue backend without redelivery are recovered this way.
Reprocessing is safe: events that completed in the meantime are skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.webhooks().ReplayUnprocessed(cmd.Context(), replayLimit)
		if err != nil {
			return fmt.Errorf("replay webhook events: %w", err)
		}
		telemetry.Logger.Info("Re-enqueued webhook events", zap.Int("count", n))
		return nil
	},
}

func init() {
	webhooksReplayCmd.Flags().IntVarP(&replayLimit, "limit", "n", 100, "maximum events to re-enqueue")
	webhooksCmd.AddCommand(webhooksReplayCmd)
}
