package models

import "github.com/shopspring/decimal"

// PurchaseRequest is the body of both purchase and authorize calls.
type PurchaseRequest struct {
	Amount          decimal.Decimal `json:"amount" binding:"required"`
	CreditCard      CreditCard      `json:"credit_card" binding:"required"`
	CustomerAddress CustomerAddress `json:"customer_address" binding:"required"`
	CustomerID      string          `json:"customer_id" binding:"required"`
	CustomerEmail   string          `json:"customer_email" binding:"required,email"`
	InvoiceNumber   string          `json:"invoice_number,omitempty" binding:"max=20"`
	Description     string          `json:"description,omitempty" binding:"max=255"`
	LineItems       []LineItem      `json:"line_items,omitempty"`
	Currency        string          `json:"currency,omitempty"`
}

type CaptureRequest struct {
	Amount *decimal.Decimal `json:"amount,omitempty"`
}

type RefundRequest struct {
	Amount          *decimal.Decimal `json:"amount,omitempty"`
	CardNumberLast4 string           `json:"card_number_last4" binding:"required"`
}

type SubscriptionSchedule struct {
	IntervalLength   int             `json:"interval_length" binding:"required"`
	IntervalUnit     string          `json:"interval_unit" binding:"required,oneof=days months"`
	StartDate        string          `json:"start_date" binding:"required,datetime=2006-01-02"`
	TotalOccurrences int             `json:"total_occurrences" binding:"required"`
	TrialOccurrences int             `json:"trial_occurrences"`
	TrialAmount      decimal.Decimal `json:"trial_amount"`
}

type SubscriptionRequest struct {
	Name            string               `json:"name" binding:"required,max=50"`
	Amount          decimal.Decimal      `json:"amount" binding:"required"`
	CreditCard      CreditCard           `json:"credit_card" binding:"required"`
	CustomerAddress CustomerAddress      `json:"customer_address" binding:"required"`
	Schedule        SubscriptionSchedule `json:"schedule" binding:"required"`
}

// RequestMeta carries the per-request values that are not part of the body.
type RequestMeta struct {
	CorrelationID  string
	IdempotencyKey string
	RequestHash    string
}

// RefID is the reference sent to the provider with each call.
func (m RequestMeta) RefID() string {
	if m.IdempotencyKey != "" {
		return m.IdempotencyKey
	}
	return m.CorrelationID
}

type TransactionResponse struct {
	TransactionID         string `json:"transaction_id"`
	Status                string `json:"status"`
	Amount                string `json:"amount"`
	Currency              string `json:"currency"`
	ProviderTransactionID string `json:"provider_transaction_id,omitempty"`
	Message               string `json:"message,omitempty"`
	CorrelationID         string `json:"correlation_id"`
}

type SubscriptionResponse struct {
	SubscriptionID string `json:"subscription_id,omitempty"`
	Status         string `json:"status"`
	MessageCode    string `json:"message_code,omitempty"`
	MessageText    string `json:"message_text,omitempty"`
	CorrelationID  string `json:"correlation_id"`
}
