package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/akylbek/payment-system/payment-service/internal/config"
	"github.com/akylbek/payment-system/payment-service/internal/handlers"
	"github.com/akylbek/payment-system/payment-service/internal/interfaces"
	"github.com/akylbek/payment-system/payment-service/internal/middleware"
	"github.com/akylbek/payment-system/payment-service/internal/service"
	"github.com/akylbek/payment-system/payment-service/internal/telemetry"
)

// Dependencies are the collaborators the HTTP surface is built from.
type Dependencies struct {
	Store       interfaces.Store
	Payments    *service.PaymentService
	Webhooks    *service.WebhookService
	Idempotency *service.IdempotencyService
	Verifier    interfaces.TokenVerifier
}

func NewRouter(cfg *config.Config, deps Dependencies) *gin.Engine {
	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(telemetry.TracingMiddleware())
	r.Use(middleware.Correlation())
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderIdempotencyKey, middleware.HeaderCorrelationID},
			ExposeHeaders:    []string{middleware.HeaderCorrelationID, middleware.HeaderReplay},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Prometheus metrics
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": cfg.ServiceName})
	})

	paymentHandler := handlers.NewPaymentHandler(deps.Payments)
	webhookHandler := handlers.NewWebhookHandler(deps.Webhooks)
	idempotent := middleware.Idempotency(deps.Idempotency, deps.Store)

	v1 := r.Group(cfg.APIPrefix)

	payments := v1.Group("/payments", middleware.Auth(deps.Verifier))
	{
		payments.POST("/purchase", idempotent, paymentHandler.Purchase)
		payments.POST("/authorize", idempotent, paymentHandler.Authorize)
		payments.POST("/capture/:transaction_id", idempotent, paymentHandler.Capture)
		payments.POST("/cancel/:transaction_id", idempotent, paymentHandler.Cancel)
		payments.POST("/refund/:transaction_id", idempotent, paymentHandler.Refund)
		payments.POST("/subscriptions", idempotent, paymentHandler.CreateSubscription)
		payments.GET("/:payment_id", paymentHandler.GetPayment)
	}

	transactions := v1.Group("/transactions", middleware.Auth(deps.Verifier))
	{
		transactions.GET("", paymentHandler.ListTransactions)
		transactions.GET("/:transaction_id", paymentHandler.GetTransaction)
	}

	// Webhooks authenticate by signature, not bearer token.
	v1.POST("/webhooks/authorize-net",
		middleware.WebhookSignature(cfg.AuthorizeNet.WebhookSecret),
		webhookHandler.AuthorizeNet)

	return r
}
