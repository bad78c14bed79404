package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/akylbek/payment-system/payment-service/internal/models"
)

const transactionColumns = `id, payment_id, transaction_type, status, provider_transaction_id, amount, currency,
	customer_id, customer_email, correlation_id, metadata, error_message, created_at, updated_at`

type PaymentRepository struct {
	db querier
}

func (r *PaymentRepository) CreatePayment(ctx context.Context, payment *models.Payment) error {
	var address []byte
	if payment.BillingAddress != nil {
		var err error
		if address, err = json.Marshal(payment.BillingAddress); err != nil {
			return fmt.Errorf("encode billing address: %w", err)
		}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO payments (id, customer_id, payment_method_token, billing_address, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, payment.ID, payment.CustomerID, nullString(payment.PaymentMethodToken), nullString(string(address)),
		payment.CreatedAt, payment.UpdatedAt)
	return err
}

// GetPayment loads the payment together with its transactions, oldest first.
func (r *PaymentRepository) GetPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var (
		payment models.Payment
		token   sql.NullString
		address []byte
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, customer_id, payment_method_token, billing_address, created_at, updated_at
		FROM payments WHERE id = $1
	`, id).Scan(&payment.ID, &payment.CustomerID, &token, &address, &payment.CreatedAt, &payment.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	payment.PaymentMethodToken = token.String
	if len(address) > 0 {
		payment.BillingAddress = &models.CustomerAddress{}
		if err := json.Unmarshal(address, payment.BillingAddress); err != nil {
			return nil, fmt.Errorf("decode billing address: %w", err)
		}
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE payment_id = $1 ORDER BY created_at`, id)
	if err != nil {
		return nil, err
	}
	payment.Transactions, err = scanTransactions(rows)
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *PaymentRepository) CreateTransaction(ctx context.Context, tx *models.Transaction) error {
	metadata, err := encodeMetadata(tx.Metadata)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, tx.ID, tx.PaymentID, tx.Type, tx.Status, nullString(tx.ProviderTransactionID), tx.Amount, tx.Currency,
		nullString(tx.CustomerID), nullString(tx.CustomerEmail), nullString(tx.CorrelationID), metadata,
		nullString(tx.ErrorMessage), tx.CreatedAt, tx.UpdatedAt)
	return err
}

func (r *PaymentRepository) GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return r.getTransaction(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
}

func (r *PaymentRepository) GetTransactionForUpdate(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return r.getTransaction(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id)
}

// GetTransactionByProviderID returns the most recent transaction carrying the
// provider reference, locked for update.
func (r *PaymentRepository) GetTransactionByProviderID(ctx context.Context, providerID string) (*models.Transaction, error) {
	return r.getTransaction(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE provider_transaction_id = $1
		ORDER BY created_at DESC
		LIMIT 1
		FOR UPDATE
	`, providerID)
}

func (r *PaymentRepository) UpdateTransaction(ctx context.Context, tx *models.Transaction) error {
	metadata, err := encodeMetadata(tx.Metadata)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE transactions
		SET status = $1, provider_transaction_id = $2, amount = $3, metadata = $4,
			error_message = $5, updated_at = $6
		WHERE id = $7
	`, tx.Status, nullString(tx.ProviderTransactionID), tx.Amount, metadata,
		nullString(tx.ErrorMessage), tx.UpdatedAt, tx.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PaymentRepository) ListTransactions(ctx context.Context, filter models.TransactionFilter) ([]*models.Transaction, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.CustomerID != "" {
		add("customer_id = $%d", filter.CustomerID)
	}
	if filter.PaymentID != nil {
		add("payment_id = $%d", *filter.PaymentID)
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	args = append(args, filter.Limit)
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanTransactions(rows)
}

func (r *PaymentRepository) getTransaction(ctx context.Context, query string, arg any) (*models.Transaction, error) {
	tx, err := scanTransaction(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return tx, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var (
		tx                            models.Transaction
		providerID, customerID, email sql.NullString
		correlationID, errorMessage   sql.NullString
		metadata                      []byte
	)
	err := row.Scan(&tx.ID, &tx.PaymentID, &tx.Type, &tx.Status, &providerID, &tx.Amount, &tx.Currency,
		&customerID, &email, &correlationID, &metadata, &errorMessage, &tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		return nil, err
	}
	tx.ProviderTransactionID = providerID.String
	tx.CustomerID = customerID.String
	tx.CustomerEmail = email.String
	tx.CorrelationID = correlationID.String
	tx.ErrorMessage = errorMessage.String
	tx.Metadata = map[string]any{}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &tx.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &tx, nil
}

func scanTransactions(rows *sql.Rows) ([]*models.Transaction, error) {
	defer rows.Close()

	var out []*models.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// encodeMetadata returns a string, since lib/pq sends []byte as bytea.
func encodeMetadata(metadata map[string]any) (string, error) {
	if metadata == nil {
		return "{}", nil
	}
	b, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(b), nil
}
