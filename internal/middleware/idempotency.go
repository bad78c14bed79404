package middleware

import (
	"bytes"
	"io"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/payment-service/internal/apperrors"
	"github.com/akylbek/payment-system/payment-service/internal/interfaces"
	"github.com/akylbek/payment-system/payment-service/internal/models"
	"github.com/akylbek/payment-system/payment-service/internal/service"
	"github.com/akylbek/payment-system/payment-service/internal/telemetry"
)

const jsonContentType = "application/json; charset=utf-8"

// Idempotency short-circuits retried mutating requests. A request without
// the key header passes through untouched. With a key, the body and route
// parameters are hashed; a stored record for the key is replayed verbatim
// when the hash matches and rejected as a conflict when it does not.
// Storing the first response is left to the service, which writes it in the
// same unit of work as the state change.
func Idempotency(idem *service.IdempotencyService, store interfaces.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			RespondError(c, apperrors.Validation("could not read request body"))
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		params := make(map[string]string, len(c.Params))
		for _, p := range c.Params {
			params[p.Key] = p.Value
		}
		hash, err := service.HashRequest(body, params)
		if err != nil {
			RespondError(c, err)
			return
		}

		ctx := c.Request.Context()
		rec, err := idem.Lookup(ctx, store.Repositories().Idempotency, key, hash)
		if err != nil {
			RespondError(c, err)
			return
		}
		if rec != nil {
			telemetry.LoggerFromContext(ctx).Info("Replaying stored response",
				zap.String("idempotency_key", key),
				zap.Int("status_code", rec.StatusCode),
			)
			c.Header(HeaderReplay, "true")
			c.Data(rec.StatusCode, jsonContentType, rec.ResponseBody)
			c.Abort()
			return
		}

		c.Set(idempotencyKey, key)
		c.Set(requestHashKey, hash)
		c.Next()
	}
}

// RequestMeta collects the values the middleware chain bound to the request.
func RequestMeta(c *gin.Context) models.RequestMeta {
	return models.RequestMeta{
		CorrelationID:  CorrelationID(c),
		IdempotencyKey: c.GetString(idempotencyKey),
		RequestHash:    c.GetString(requestHashKey),
	}
}
