package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/akylbek/payment-system/payment-service/internal/repository"
	"github.com/akylbek/payment-system/payment-service/internal/telemetry"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the database schema",
	Long: `Create the payments, transactions, idempotency_keys and webhook_events
tables. Every statement is idempotent, so the command is safe to rerun.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required")
		}
		db, err := openDB(cmd.Context(), cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := repository.NewPostgresStore(db).InitDB(cmd.Context()); err != nil {
			return fmt.Errorf("initialize database: %w", err)
		}
		telemetry.Logger.Info("Database schema is up to date")
		return nil
	},
}
