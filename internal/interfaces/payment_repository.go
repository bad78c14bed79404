package interfaces

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/akylbek/payment-system/payment-service/internal/models"
)

// PaymentRepository defines the contract for payment and transaction data access.
type PaymentRepository interface {
	CreatePayment(ctx context.Context, payment *models.Payment) error
	GetPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error)

	CreateTransaction(ctx context.Context, tx *models.Transaction) error
	GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	// GetTransactionForUpdate locks the row until the surrounding unit of work ends.
	GetTransactionForUpdate(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	GetTransactionByProviderID(ctx context.Context, providerID string) (*models.Transaction, error)
	UpdateTransaction(ctx context.Context, tx *models.Transaction) error
	ListTransactions(ctx context.Context, filter models.TransactionFilter) ([]*models.Transaction, error)
}

// IdempotencyRepository defines the contract for idempotency record storage.
type IdempotencyRepository interface {
	Get(ctx context.Context, key string) (*models.IdempotencyRecord, error)
	// Save stores rec unless an unexpired record already holds the key, in
	// which case it reports false.
	Save(ctx context.Context, rec *models.IdempotencyRecord) (bool, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// WebhookRepository defines the contract for inbound webhook event storage.
type WebhookRepository interface {
	Create(ctx context.Context, event *models.WebhookEvent) error
	Get(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error)
	// GetForUpdate locks the event row until the unit of work ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID, errMsg string, at time.Time) error
	ListUnprocessed(ctx context.Context, limit int) ([]*models.WebhookEvent, error)
}

type Repositories struct {
	Payments    PaymentRepository
	Idempotency IdempotencyRepository
	Webhooks    WebhookRepository
}

// Store hands out repositories and runs units of work. Repositories passed to
// fn are bound to the unit of work; it commits when fn returns nil and rolls
// back otherwise.
type Store interface {
	Repositories() Repositories
	WithinTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}

// IdempotencyCache fronts the idempotency repository. A miss is (nil, nil).
type IdempotencyCache interface {
	Get(ctx context.Context, key string) (*models.IdempotencyRecord, error)
	Set(ctx context.Context, rec *models.IdempotencyRecord) error
}
