package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/akylbek/payment-system/payment-service/internal/apperrors"
	"github.com/akylbek/payment-system/payment-service/internal/interfaces"
	"github.com/akylbek/payment-system/payment-service/internal/models"
	"github.com/akylbek/payment-system/payment-service/internal/repository"
	"github.com/akylbek/payment-system/payment-service/internal/telemetry"
)

// HashRequest returns the SHA-256 hex digest of the canonical form of a JSON
// object body merged with the route parameters. Canonical form is compact
// JSON with keys sorted at every level and numbers kept as written.
func HashRequest(body []byte, params map[string]string) (string, error) {
	doc := map[string]any{}
	if len(bytes.TrimSpace(body)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()
		if err := dec.Decode(&doc); err != nil {
			return "", apperrors.Validation("request body must be a JSON object")
		}
		if _, err := dec.Token(); !errors.Is(err, io.EOF) {
			return "", apperrors.Validation("request body must contain a single JSON object")
		}
		if doc == nil {
			return "", apperrors.Validation("request body must be a JSON object")
		}
	}
	for k, v := range params {
		doc[k] = v
	}

	// encoding/json writes map keys in sorted order.
	canonical, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// IdempotencyService looks up and records first responses for client keys.
type IdempotencyService struct {
	cache interfaces.IdempotencyCache
	ttl   time.Duration
	now   func() time.Time
}

// NewIdempotencyService builds the service. cache may be nil.
func NewIdempotencyService(cache interfaces.IdempotencyCache, ttl time.Duration) *IdempotencyService {
	if ttl <= 0 {
		ttl = models.DefaultIdempotencyTTL
	}
	return &IdempotencyService{cache: cache, ttl: ttl, now: time.Now}
}

// Lookup returns the stored record to replay, nil when the request should
// execute, or a Conflict when the key was used for a different request.
func (s *IdempotencyService) Lookup(ctx context.Context, repo interfaces.IdempotencyRepository, key, requestHash string) (*models.IdempotencyRecord, error) {
	if key == "" {
		return nil, nil
	}
	logger := telemetry.LoggerFromContext(ctx).With(zap.String("idempotency_key", key))

	rec := s.fromCache(ctx, key)
	if rec == nil {
		var err error
		rec, err = repo.Get(ctx, key)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, apperrors.Internal("idempotency lookup failed", err)
		}
	}

	if rec.Expired(s.now()) {
		logger.Info("Idempotency key expired")
		return nil, nil
	}
	if rec.RequestHash != requestHash {
		logger.Warn("Idempotency key reused with a different request")
		telemetry.IdempotencyConflictsTotal.Inc()
		return nil, apperrors.Conflict("Idempotency key already used with a different request")
	}

	logger.Info("Idempotent request detected")
	telemetry.IdempotentReplaysTotal.Inc()
	return rec, nil
}

// Record stores the response for meta's key through repo, which should be
// bound to the unit of work that produced the response. It returns nil when
// the request carried no key.
func (s *IdempotencyService) Record(ctx context.Context, repo interfaces.IdempotencyRepository, meta models.RequestMeta, statusCode int, body []byte) (*models.IdempotencyRecord, error) {
	if meta.IdempotencyKey == "" {
		return nil, nil
	}
	now := s.now()
	rec := &models.IdempotencyRecord{
		Key:          meta.IdempotencyKey,
		RequestHash:  meta.RequestHash,
		ResponseBody: body,
		StatusCode:   statusCode,
		ExpiresAt:    now.Add(s.ttl),
		CreatedAt:    now,
	}
	saved, err := repo.Save(ctx, rec)
	if err != nil {
		return nil, err
	}
	if !saved {
		// Lost a race with a concurrent first request under the same key.
		telemetry.LoggerFromContext(ctx).Warn("Idempotency key already stored by a concurrent request",
			zap.String("idempotency_key", meta.IdempotencyKey))
		return nil, nil
	}
	return rec, nil
}

// Cache publishes a committed record to the cache. Failures only cost a
// database read on the next replay.
func (s *IdempotencyService) Cache(ctx context.Context, rec *models.IdempotencyRecord) {
	if s.cache == nil || rec == nil {
		return
	}
	if err := s.cache.Set(ctx, rec); err != nil {
		telemetry.LoggerFromContext(ctx).Warn("Failed to cache idempotency record",
			zap.String("idempotency_key", rec.Key), zap.Error(err))
	}
}

func (s *IdempotencyService) fromCache(ctx context.Context, key string) *models.IdempotencyRecord {
	if s.cache == nil {
		return nil
	}
	rec, err := s.cache.Get(ctx, key)
	if err != nil {
		telemetry.LoggerFromContext(ctx).Warn("Idempotency cache read failed",
			zap.String("idempotency_key", key), zap.Error(err))
		return nil
	}
	return rec
}
