package middleware

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/akylbek/payment-system/payment-service/internal/apperrors"
	"github.com/akylbek/payment-system/payment-service/internal/service"
	"github.com/akylbek/payment-system/payment-service/internal/telemetry"
)

const maxWebhookBody = 1 << 20

// WebhookSignature rejects notifications whose HMAC signature does not match
// the raw body. Nothing is persisted for a rejected request. The verified
// body is kept on the context for the handler.
func WebhookSignature(secretHex string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
		if err != nil {
			RespondError(c, apperrors.Validation("could not read request body"))
			return
		}

		signature := c.GetHeader("X-ANET-Signature")
		if signature == "" {
			signature = c.GetHeader("X-Authorize-Net-Signature")
		}
		if !service.VerifySignature(signature, raw, secretHex) {
			telemetry.LoggerFromContext(c.Request.Context()).Warn("Invalid webhook signature")
			telemetry.WebhookEventsTotal.WithLabelValues("receive", "invalid_signature").Inc()
			RespondError(c, apperrors.Unauthorized("Invalid signature"))
			return
		}

		c.Set(rawBodyKey, raw)
		c.Next()
	}
}

// RawBody returns the body verified by WebhookSignature.
func RawBody(c *gin.Context) []byte {
	raw, _ := c.Get(rawBodyKey)
	b, _ := raw.([]byte)
	return b
}
