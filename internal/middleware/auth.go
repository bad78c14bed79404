package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/payment-service/internal/apperrors"
	"github.com/akylbek/payment-system/payment-service/internal/interfaces"
	"github.com/akylbek/payment-system/payment-service/internal/telemetry"
)

// Auth rejects requests without a valid bearer token.
func Auth(verifier interfaces.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		scheme, token, ok := strings.Cut(c.GetHeader("Authorization"), " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			c.Header("WWW-Authenticate", "Bearer")
			RespondError(c, apperrors.Unauthorized("Invalid authentication credentials"))
			return
		}

		subject, err := verifier.Verify(strings.TrimSpace(token))
		if err != nil {
			telemetry.LoggerFromContext(c.Request.Context()).Warn("Rejected bearer token", zap.Error(err))
			c.Header("WWW-Authenticate", "Bearer")
			RespondError(c, apperrors.Unauthorized("Invalid authentication credentials"))
			return
		}

		c.Set(subjectKey, subject)
		c.Next()
	}
}

// Subject is the authenticated caller, or "" on unauthenticated routes.
func Subject(c *gin.Context) string {
	return c.GetString(subjectKey)
}
