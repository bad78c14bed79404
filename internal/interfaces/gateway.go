package interfaces

import (
	"context"

	"github.com/akylbek/payment-system/payment-service/internal/gateway"
)

// PaymentGateway is the card-processing provider. A declined call returns a
// Result with Success false; an error means the outcome is unknown.
type PaymentGateway interface {
	Purchase(ctx context.Context, req *gateway.ChargeRequest) (*gateway.Result, error)
	Authorize(ctx context.Context, req *gateway.ChargeRequest) (*gateway.Result, error)
	Capture(ctx context.Context, req *gateway.CaptureRequest) (*gateway.Result, error)
	Void(ctx context.Context, req *gateway.VoidRequest) (*gateway.Result, error)
	Refund(ctx context.Context, req *gateway.RefundRequest) (*gateway.Result, error)
	CreateSubscription(ctx context.Context, req *gateway.SubscriptionRequest) (*gateway.SubscriptionResult, error)
}

// TokenVerifier checks a bearer credential and returns the caller's identity.
type TokenVerifier interface {
	Verify(token string) (string, error)
}
