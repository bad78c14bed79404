package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/akylbek/payment-system/payment-service/internal/models"
)

const webhookColumns = `id, event_type, provider_transaction_id, raw_payload, processed, correlation_id,
	error_message, created_at, processed_at`

type WebhookRepository struct {
	db querier
}

func (r *WebhookRepository) Create(ctx context.Context, event *models.WebhookEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO webhook_events (`+webhookColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, event.ID, event.EventType, nullString(event.ProviderTransactionID), string(event.RawPayload),
		event.Processed, nullString(event.CorrelationID), nullString(event.ErrorMessage),
		event.CreatedAt, event.ProcessedAt)
	return err
}

func (r *WebhookRepository) Get(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error) {
	return r.getEvent(ctx, `SELECT `+webhookColumns+` FROM webhook_events WHERE id = $1`, id)
}

func (r *WebhookRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error) {
	return r.getEvent(ctx, `SELECT `+webhookColumns+` FROM webhook_events WHERE id = $1 FOR UPDATE`, id)
}

func (r *WebhookRepository) getEvent(ctx context.Context, query string, id uuid.UUID) (*models.WebhookEvent, error) {
	event, err := scanWebhookEvent(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return event, err
}

func (r *WebhookRepository) MarkProcessed(ctx context.Context, id uuid.UUID, errMsg string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE webhook_events
		SET processed = TRUE, error_message = $2, processed_at = $3
		WHERE id = $1
	`, id, nullString(errMsg), at)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *WebhookRepository) ListUnprocessed(ctx context.Context, limit int) ([]*models.WebhookEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+webhookColumns+` FROM webhook_events
		WHERE processed = FALSE
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.WebhookEvent
	for rows.Next() {
		event, err := scanWebhookEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, event)
	}
	return out, rows.Err()
}

func scanWebhookEvent(row rowScanner) (*models.WebhookEvent, error) {
	var (
		event                                   models.WebhookEvent
		providerID, correlationID, errorMessage sql.NullString
		raw                                     []byte
		processedAt                             sql.NullTime
	)
	err := row.Scan(&event.ID, &event.EventType, &providerID, &raw, &event.Processed, &correlationID,
		&errorMessage, &event.CreatedAt, &processedAt)
	if err != nil {
		return nil, err
	}
	event.ProviderTransactionID = providerID.String
	event.CorrelationID = correlationID.String
	event.ErrorMessage = errorMessage.String
	event.RawPayload = raw
	if processedAt.Valid {
		event.ProcessedAt = &processedAt.Time
	}
	return &event, nil
}
