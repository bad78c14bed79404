// Package middleware holds the gin middleware shared by the payment and
// webhook routes.
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/payment-service/internal/telemetry"
)

const (
	HeaderCorrelationID  = "X-Correlation-ID"
	HeaderIdempotencyKey = "X-Idempotency-Key"
	HeaderReplay         = "X-Idempotent-Replay"

	correlationIDKey = "correlation_id"
	idempotencyKey   = "idempotency_key"
	requestHashKey   = "request_hash"
	rawBodyKey       = "raw_body"
	subjectKey       = "subject"
)

// Correlation takes the correlation id from the request header or generates
// one, echoes it on the response and binds it to the request context so
// every log line for the request carries it.
func Correlation() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderCorrelationID)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(correlationIDKey, id)
		c.Header(HeaderCorrelationID, id)
		c.Request = c.Request.WithContext(telemetry.WithCorrelationID(c.Request.Context(), id))

		logger := telemetry.LoggerFromContext(c.Request.Context())
		logger.Info("Request started",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
		)
		start := time.Now()

		c.Next()

		logger.Info("Request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status_code", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

// CorrelationID returns the id bound by Correlation, or "" outside it.
func CorrelationID(c *gin.Context) string {
	return c.GetString(correlationIDKey)
}

// SetCorrelationID replaces the request's correlation id, e.g. with the
// reference carried inside a webhook payload.
func SetCorrelationID(c *gin.Context, id string) {
	if id == "" {
		return
	}
	c.Set(correlationIDKey, id)
	c.Header(HeaderCorrelationID, id)
	c.Request = c.Request.WithContext(telemetry.WithCorrelationID(c.Request.Context(), id))
}
