package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/payment-service/internal/apperrors"
	"github.com/akylbek/payment-system/payment-service/internal/middleware"
	"github.com/akylbek/payment-system/payment-service/internal/models"
	"github.com/akylbek/payment-system/payment-service/internal/service"
	"github.com/akylbek/payment-system/payment-service/internal/telemetry"
)

type PaymentHandler struct {
	payments *service.PaymentService
}

func NewPaymentHandler(payments *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

func (h *PaymentHandler) Purchase(c *gin.Context) {
	var req models.PurchaseRequest
	if !bindJSON(c, &req) {
		return
	}
	resp, err := h.payments.Purchase(c.Request.Context(), &req, middleware.RequestMeta(c))
	writeResponse(c, resp, err)
}

func (h *PaymentHandler) Authorize(c *gin.Context) {
	var req models.PurchaseRequest
	if !bindJSON(c, &req) {
		return
	}
	resp, err := h.payments.Authorize(c.Request.Context(), &req, middleware.RequestMeta(c))
	writeResponse(c, resp, err)
}

func (h *PaymentHandler) Capture(c *gin.Context) {
	id, ok := transactionID(c)
	if !ok {
		return
	}
	var req models.CaptureRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	resp, err := h.payments.Capture(c.Request.Context(), id, &req, middleware.RequestMeta(c))
	writeResponse(c, resp, err)
}

// Cancel voids the transaction. The request has no body.
func (h *PaymentHandler) Cancel(c *gin.Context) {
	id, ok := transactionID(c)
	if !ok {
		return
	}
	resp, err := h.payments.Void(c.Request.Context(), id, middleware.RequestMeta(c))
	writeResponse(c, resp, err)
}

func (h *PaymentHandler) Refund(c *gin.Context) {
	id, ok := transactionID(c)
	if !ok {
		return
	}
	var req models.RefundRequest
	if !bindJSON(c, &req) {
		return
	}
	resp, err := h.payments.Refund(c.Request.Context(), id, &req, middleware.RequestMeta(c))
	writeResponse(c, resp, err)
}

func (h *PaymentHandler) CreateSubscription(c *gin.Context) {
	var req models.SubscriptionRequest
	if !bindJSON(c, &req) {
		return
	}
	resp, err := h.payments.CreateSubscription(c.Request.Context(), &req, middleware.RequestMeta(c))
	writeResponse(c, resp, err)
}

func (h *PaymentHandler) GetTransaction(c *gin.Context) {
	id, ok := transactionID(c)
	if !ok {
		return
	}
	tx, err := h.payments.GetTransaction(c.Request.Context(), id)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

func (h *PaymentHandler) ListTransactions(c *gin.Context) {
	filter := models.TransactionFilter{
		CustomerID: c.Query("customer_id"),
		Status:     models.TransactionStatus(c.Query("status")),
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			middleware.RespondError(c, apperrors.Validation("limit must be an integer"))
			return
		}
		filter.Limit = limit
	}
	if raw := c.Query("payment_id"); raw != "" {
		paymentID, err := uuid.Parse(raw)
		if err != nil {
			middleware.RespondError(c, apperrors.Validation("payment_id must be a UUID"))
			return
		}
		filter.PaymentID = &paymentID
	}

	txs, err := h.payments.ListTransactions(c.Request.Context(), filter)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	if txs == nil {
		txs = []*models.Transaction{}
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs, "count": len(txs)})
}

func (h *PaymentHandler) GetPayment(c *gin.Context) {
	id, err := uuid.Parse(c.Param("payment_id"))
	if err != nil {
		middleware.RespondError(c, apperrors.Validation("payment_id must be a UUID"))
		return
	}
	payment, err := h.payments.GetPayment(c.Request.Context(), id)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

func transactionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("transaction_id"))
	if err != nil {
		middleware.RespondError(c, apperrors.Validation("transaction_id must be a UUID"))
		return uuid.Nil, false
	}
	return id, true
}

func bindJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		telemetry.LoggerFromContext(c.Request.Context()).Warn("Invalid payment request", zap.Error(err))
		middleware.RespondError(c, apperrors.Validation("%s", err.Error()))
		return false
	}
	return true
}

// bindOptionalJSON accepts an empty body and leaves obj untouched.
func bindOptionalJSON(c *gin.Context, obj any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		telemetry.LoggerFromContext(c.Request.Context()).Warn("Invalid payment request", zap.Error(err))
		middleware.RespondError(c, apperrors.Validation("%s", err.Error()))
		return false
	}
	return true
}

// writeResponse sends the service's serialized body as is, so the bytes a
// client sees on the first call are the bytes stored for replay.
func writeResponse(c *gin.Context, resp *service.Response, err error) {
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.Data(resp.StatusCode, "application/json; charset=utf-8", resp.Body)
}
