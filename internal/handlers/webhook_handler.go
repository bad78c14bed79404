package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/akylbek/payment-system/payment-service/internal/middleware"
	"github.com/akylbek/payment-system/payment-service/internal/service"
)

type WebhookHandler struct {
	webhooks *service.WebhookService
}

func NewWebhookHandler(webhooks *service.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks}
}

// AuthorizeNet stores a verified notification and queues it. Reconciliation
// happens in the worker; this endpoint only accepts.
func (h *WebhookHandler) AuthorizeNet(c *gin.Context) {
	event, err := h.webhooks.Receive(c.Request.Context(), middleware.RawBody(c), middleware.CorrelationID(c))
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	middleware.SetCorrelationID(c, event.CorrelationID)
	c.JSON(http.StatusOK, gin.H{"status": "ok", "event_id": event.ID.String()})
}
