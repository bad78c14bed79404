package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/akylbek/payment-system/payment-service/internal/models"
)

// RedisIdempotencyCache keeps stored responses in Redis until they expire so
// replays avoid a database round trip.
type RedisIdempotencyCache struct {
	client *redis.Client
}

func NewRedisIdempotencyCache(client *redis.Client) *RedisIdempotencyCache {
	return &RedisIdempotencyCache{client: client}
}

func idempotencyCacheKey(key string) string {
	return fmt.Sprintf("idempotency:%s", key)
}

// Get returns (nil, nil) on a cache miss.
func (c *RedisIdempotencyCache) Get(ctx context.Context, key string) (*models.IdempotencyRecord, error) {
	cached, err := c.client.Get(ctx, idempotencyCacheKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rec models.IdempotencyRecord
	if err := json.Unmarshal(cached, &rec); err != nil {
		return nil, fmt.Errorf("decode cached idempotency record: %w", err)
	}
	return &rec, nil
}

func (c *RedisIdempotencyCache) Set(ctx context.Context, rec *models.IdempotencyRecord) error {
	ttl := time.Until(rec.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, idempotencyCacheKey(rec.Key), data, ttl).Err()
}
