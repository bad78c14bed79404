package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/akylbek/payment-system/payment-service/internal/interfaces"
)

var ErrNotFound = errors.New("record not found")

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Repositories() interfaces.Repositories {
	return repositoriesFor(s.db)
}

func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, repos interfaces.Repositories) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, repositoriesFor(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func repositoriesFor(q querier) interfaces.Repositories {
	return interfaces.Repositories{
		Payments:    &PaymentRepository{db: q},
		Idempotency: &IdempotencyRepository{db: q},
		Webhooks:    &WebhookRepository{db: q},
	}
}

// InitDB creates the schema. Statements are idempotent.
func (s *PostgresStore) InitDB(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS payments (
			id UUID PRIMARY KEY,
			customer_id VARCHAR(255) NOT NULL,
			payment_method_token VARCHAR(255),
			billing_address JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_customer_id ON payments(customer_id)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id UUID PRIMARY KEY,
			payment_id UUID NOT NULL REFERENCES payments(id),
			transaction_type VARCHAR(20) NOT NULL,
			status VARCHAR(20) NOT NULL,
			provider_transaction_id VARCHAR(64),
			amount NUMERIC(15,2) NOT NULL,
			currency VARCHAR(3) NOT NULL,
			customer_id VARCHAR(255),
			customer_email VARCHAR(255),
			correlation_id VARCHAR(255),
			metadata JSONB NOT NULL DEFAULT '{}',
			error_message TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_payment_id ON transactions(payment_id)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_provider_id ON transactions(provider_transaction_id)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_customer_id ON transactions(customer_id)`,
		`CREATE TABLE IF NOT EXISTS idempotency_keys (
			id BIGSERIAL PRIMARY KEY,
			idempotency_key VARCHAR(255) NOT NULL UNIQUE,
			request_hash VARCHAR(64) NOT NULL,
			response_body BYTEA NOT NULL,
			status_code INTEGER NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_idempotency_keys_expires_at ON idempotency_keys(expires_at)`,
		`CREATE TABLE IF NOT EXISTS webhook_events (
			id UUID PRIMARY KEY,
			event_type VARCHAR(100) NOT NULL,
			provider_transaction_id VARCHAR(64),
			raw_payload JSON NOT NULL,
			processed BOOLEAN NOT NULL DEFAULT FALSE,
			correlation_id VARCHAR(255),
			error_message TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			processed_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_webhook_events_unprocessed ON webhook_events(processed, created_at)`,
	}

	for _, query := range queries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return err
		}
	}

	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
