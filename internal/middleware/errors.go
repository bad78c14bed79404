package middleware

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/akylbek/payment-system/payment-service/internal/apperrors"
)

// RespondError writes the JSON error body for err and aborts the chain. The
// body always carries the request's correlation id.
func RespondError(c *gin.Context, err error) {
	body := gin.H{
		"error":          apperrors.PublicMessage(err),
		"code":           apperrors.KindOf(err),
		"correlation_id": CorrelationID(c),
	}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) && appErr.Code != "" {
		body["provider_code"] = appErr.Code
	}
	for k, v := range apperrors.PublicFields(err) {
		body[k] = v
	}
	c.AbortWithStatusJSON(apperrors.HTTPStatus(err), body)
}
