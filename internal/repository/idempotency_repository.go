package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/akylbek/payment-system/payment-service/internal/models"
)

type IdempotencyRepository struct {
	db querier
}

func (r *IdempotencyRepository) Get(ctx context.Context, key string) (*models.IdempotencyRecord, error) {
	var rec models.IdempotencyRecord
	err := r.db.QueryRowContext(ctx, `
		SELECT idempotency_key, request_hash, response_body, status_code, expires_at, created_at
		FROM idempotency_keys WHERE idempotency_key = $1
	`, key).Scan(&rec.Key, &rec.RequestHash, &rec.ResponseBody, &rec.StatusCode, &rec.ExpiresAt, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Save inserts the record, replacing an existing row only when that row has
// expired.
func (r *IdempotencyRepository) Save(ctx context.Context, rec *models.IdempotencyRecord) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO idempotency_keys (idempotency_key, request_hash, response_body, status_code, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (idempotency_key) DO UPDATE
		SET request_hash = EXCLUDED.request_hash,
			response_body = EXCLUDED.response_body,
			status_code = EXCLUDED.status_code,
			expires_at = EXCLUDED.expires_at,
			created_at = EXCLUDED.created_at
		WHERE idempotency_keys.expires_at <= EXCLUDED.created_at
	`, rec.Key, rec.RequestHash, rec.ResponseBody, rec.StatusCode, rec.ExpiresAt, rec.CreatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *IdempotencyRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE expires_at <= $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
