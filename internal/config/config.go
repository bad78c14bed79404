package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	QueueBackendRedis  = "redis"
	QueueBackendKafka  = "kafka"
	QueueBackendNATS   = "nats"
	QueueBackendSQS    = "sqs"
	QueueBackendMemory = "memory"
)

type Config struct {
	ServiceName string
	Port        string
	GinMode     string
	LogLevel    string
	APIPrefix   string
	CORSOrigins []string

	StoreDriver string
	DatabaseURL string
	RedisURL    string

	QueueBackend string
	WebhookQueue string
	KafkaBrokers []string
	EventsTopic  string
	NATSURL      string
	SQSQueueURL  string
	AWSRegion    string

	JaegerEndpoint string

	JWTSecretKey string
	JWTAlgorithm string

	AuthorizeNet AuthorizeNetConfig

	GatewayTimeout           time.Duration
	IdempotencyTTL           time.Duration
	WebhookRejectRegressions bool
	WorkerConcurrency        int
	ShutdownTimeout          time.Duration
}

type AuthorizeNetConfig struct {
	APILoginID     string
	TransactionKey string
	Environment    string
	WebhookSecret  string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVICE_NAME", "payment-service")
	v.SetDefault("PORT", "8081")
	v.SetDefault("GIN_MODE", "release")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("API_V1_PREFIX", "/api/v1")
	v.SetDefault("CORS_ORIGINS", "")
	v.SetDefault("STORE_DRIVER", StoreDriverPostgres)
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("QUEUE_BACKEND", QueueBackendRedis)
	v.SetDefault("WEBHOOK_QUEUE", "webhooks")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("EVENTS_TOPIC", "transaction.state.changed")
	v.SetDefault("NATS_URL", "")
	v.SetDefault("SQS_QUEUE_URL", "")
	v.SetDefault("AWS_REGION", "us-east-1")
	v.SetDefault("JAEGER_ENDPOINT", "")
	v.SetDefault("JWT_ALGORITHM", "HS256")
	v.SetDefault("AUTHORIZE_NET_ENVIRONMENT", "sandbox")
	v.SetDefault("GATEWAY_TIMEOUT", "30s")
	v.SetDefault("IDEMPOTENCY_TTL", "24h")
	v.SetDefault("WEBHOOK_REJECT_REGRESSIONS", false)
	v.SetDefault("WORKER_CONCURRENCY", 4)
	v.SetDefault("SHUTDOWN_TIMEOUT", "5s")
}

// Load reads configuration from the environment, an optional .env file and an
// optional config.yaml in the working directory. The environment wins.
func Load() (*Config, error) {
	if os.Getenv("GIN_MODE") != "release" {
		// .env is a development convenience; a missing file is fine.
		_ = godotenv.Load()
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	v.AutomaticEnv()

	cfg := &Config{
		ServiceName:  v.GetString("SERVICE_NAME"),
		Port:         v.GetString("PORT"),
		GinMode:      v.GetString("GIN_MODE"),
		LogLevel:     v.GetString("LOG_LEVEL"),
		APIPrefix:    strings.TrimSuffix(v.GetString("API_V1_PREFIX"), "/"),
		CORSOrigins:  splitList(v.GetString("CORS_ORIGINS")),
		StoreDriver:  strings.ToLower(v.GetString("STORE_DRIVER")),
		DatabaseURL:  v.GetString("DATABASE_URL"),
		RedisURL:     v.GetString("REDIS_URL"),
		QueueBackend: strings.ToLower(v.GetString("QUEUE_BACKEND")),
		WebhookQueue: v.GetString("WEBHOOK_QUEUE"),
		KafkaBrokers: splitList(v.GetString("KAFKA_BROKERS")),
		EventsTopic:  v.GetString("EVENTS_TOPIC"),
		NATSURL:      v.GetString("NATS_URL"),
		SQSQueueURL:  v.GetString("SQS_QUEUE_URL"),
		AWSRegion:    v.GetString("AWS_REGION"),

		JaegerEndpoint: v.GetString("JAEGER_ENDPOINT"),

		JWTSecretKey: v.GetString("JWT_SECRET_KEY"),
		JWTAlgorithm: v.GetString("JWT_ALGORITHM"),

		AuthorizeNet: AuthorizeNetConfig{
			APILoginID:     v.GetString("AUTHORIZE_NET_API_LOGIN_ID"),
			TransactionKey: v.GetString("AUTHORIZE_NET_TRANSACTION_KEY"),
			Environment:    strings.ToLower(v.GetString("AUTHORIZE_NET_ENVIRONMENT")),
			WebhookSecret:  v.GetString("AUTHORIZE_NET_WEBHOOK_SECRET"),
		},

		GatewayTimeout:           v.GetDuration("GATEWAY_TIMEOUT"),
		IdempotencyTTL:           v.GetDuration("IDEMPOTENCY_TTL"),
		WebhookRejectRegressions: v.GetBool("WEBHOOK_REJECT_REGRESSIONS"),
		WorkerConcurrency:        v.GetInt("WORKER_CONCURRENCY"),
		ShutdownTimeout:          v.GetDuration("SHUTDOWN_TIMEOUT"),
	}

	return cfg, nil
}

// Validate checks the values every process needs. Callers that only need a
// subset (e.g. the migrate command) may skip it.
func (c *Config) Validate() error {
	var missing []string
	if c.StoreDriver == StoreDriverPostgres && c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.JWTSecretKey == "" {
		missing = append(missing, "JWT_SECRET_KEY")
	}
	if c.AuthorizeNet.APILoginID == "" {
		missing = append(missing, "AUTHORIZE_NET_API_LOGIN_ID")
	}
	if c.AuthorizeNet.TransactionKey == "" {
		missing = append(missing, "AUTHORIZE_NET_TRANSACTION_KEY")
	}
	if c.AuthorizeNet.WebhookSecret == "" {
		missing = append(missing, "AUTHORIZE_NET_WEBHOOK_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	switch c.StoreDriver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver)
	}

	switch c.QueueBackend {
	case QueueBackendRedis:
		if c.RedisURL == "" {
			return errors.New("QUEUE_BACKEND=redis requires REDIS_URL")
		}
	case QueueBackendKafka:
		if len(c.KafkaBrokers) == 0 {
			return errors.New("QUEUE_BACKEND=kafka requires KAFKA_BROKERS")
		}
	case QueueBackendNATS:
		if c.NATSURL == "" {
			return errors.New("QUEUE_BACKEND=nats requires NATS_URL")
		}
	case QueueBackendSQS:
		if c.SQSQueueURL == "" {
			return errors.New("QUEUE_BACKEND=sqs requires SQS_QUEUE_URL")
		}
	case QueueBackendMemory:
	default:
		return fmt.Errorf("unsupported QUEUE_BACKEND %q", c.QueueBackend)
	}

	switch c.AuthorizeNet.Environment {
	case "sandbox", "production":
	default:
		return fmt.Errorf("unsupported AUTHORIZE_NET_ENVIRONMENT %q", c.AuthorizeNet.Environment)
	}

	if c.WorkerConcurrency <= 0 {
		return errors.New("WORKER_CONCURRENCY must be positive")
	}
	if c.IdempotencyTTL <= 0 {
		return errors.New("IDEMPOTENCY_TTL must be positive")
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
