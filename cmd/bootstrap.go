package main

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/payment-service/internal/config"
	"github.com/akylbek/payment-system/payment-service/internal/events"
	"github.com/akylbek/payment-system/payment-service/internal/gateway/authorizenet"
	"github.com/akylbek/payment-system/payment-service/internal/interfaces"
	"github.com/akylbek/payment-system/payment-service/internal/queue"
	"github.com/akylbek/payment-system/payment-service/internal/repository"
	"github.com/akylbek/payment-system/payment-service/internal/service"
	"github.com/akylbek/payment-system/payment-service/internal/telemetry"
)

// app holds the connections shared by the commands. Everything opened is
// released by Close in reverse order.
type app struct {
	cfg       *config.Config
	db        *sql.DB
	rdb       *redis.Client
	store     interfaces.Store
	publisher interfaces.EventPublisher
	queue     queue.Queue
	closers   []func() error
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, publisher: events.LogPublisher{}}

	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		telemetry.Logger.Warn("Using in-memory store; state is lost on exit")
		a.store = repository.NewMemoryStore()
	default:
		db, err := openDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.db = db
		a.closers = append(a.closers, db.Close)
		a.store = repository.NewPostgresStore(db)
	}

	if cfg.RedisURL != "" {
		a.rdb = openRedis(cfg.RedisURL)
		a.closers = append(a.closers, a.rdb.Close)
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
	}

	if len(cfg.KafkaBrokers) > 0 {
		publisher := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.EventsTopic)
		a.publisher = publisher
		a.closers = append(a.closers, publisher.Close)
	}

	q, err := queue.Open(ctx, cfg, a.rdb)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open queue: %w", err)
	}
	a.queue = q
	a.closers = append(a.closers, q.Close)

	return a, nil
}

func (a *app) idempotency() *service.IdempotencyService {
	var cache interfaces.IdempotencyCache
	if a.rdb != nil {
		cache = repository.NewRedisIdempotencyCache(a.rdb)
	}
	return service.NewIdempotencyService(cache, a.cfg.IdempotencyTTL)
}

func (a *app) webhooks() *service.WebhookService {
	return service.NewWebhookService(a.store, a.queue, a.publisher, a.cfg.WebhookRejectRegressions)
}

func (a *app) gateway() (*authorizenet.Client, error) {
	return authorizenet.New(authorizenet.Config{
		APILoginID:     a.cfg.AuthorizeNet.APILoginID,
		TransactionKey: a.cfg.AuthorizeNet.TransactionKey,
		Environment:    a.cfg.AuthorizeNet.Environment,
		Timeout:        a.cfg.GatewayTimeout,
	})
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			telemetry.Logger.Warn("Error releasing resource", zap.Error(err))
		}
	}
	a.closers = nil
}

func openDB(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return db, nil
}

// openRedis accepts either a redis:// URL or a bare host:port.
func openRedis(url string) *redis.Client {
	opts, err := redis.ParseURL(url)
	if err != nil {
		opts = &redis.Options{Addr: url}
	}
	return redis.NewClient(opts)
}
