package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionTypePurchase  TransactionType = "purchase"
	TransactionTypeAuthorize TransactionType = "authorize"
	TransactionTypeCapture   TransactionType = "capture"
	TransactionTypeRefund    TransactionType = "refund"
	TransactionTypeVoid      TransactionType = "void"
)

type TransactionStatus string

const (
	StatusPending    TransactionStatus = "pending"
	StatusAuthorized TransactionStatus = "authorized"
	StatusCaptured   TransactionStatus = "captured"
	StatusRefunded   TransactionStatus = "refunded"
	StatusVoided     TransactionStatus = "voided"
	StatusFailed     TransactionStatus = "failed"
)

// transitions is the directed graph of legal status changes. Statuses
// without outgoing edges are terminal.
var transitions = map[TransactionStatus][]TransactionStatus{
	StatusPending:    {StatusAuthorized, StatusCaptured, StatusVoided, StatusFailed},
	StatusAuthorized: {StatusCaptured, StatusVoided, StatusFailed},
	StatusCaptured:   {StatusRefunded, StatusFailed},
}

// rank orders statuses along the happy path so regressions can be detected.
var rank = map[TransactionStatus]int{
	StatusPending:    0,
	StatusAuthorized: 1,
	StatusCaptured:   2,
	StatusRefunded:   3,
	StatusVoided:     3,
	StatusFailed:     3,
}

func ParseTransactionStatus(s string) (TransactionStatus, bool) {
	status := TransactionStatus(s)
	_, ok := rank[status]
	return status, ok
}

func (s TransactionStatus) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// CanTransition reports whether moving from one status to another is allowed.
func CanTransition(from, to TransactionStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsRegression reports whether moving from one status to another would go
// backwards, e.g. captured -> authorized.
func IsRegression(from, to TransactionStatus) bool {
	if from == to || from == StatusFailed {
		return false
	}
	if from.IsTerminal() {
		return true
	}
	return rank[to] < rank[from]
}

// Transaction is one monetary operation attempt against the provider.
type Transaction struct {
	ID                    uuid.UUID         `json:"id"`
	PaymentID             uuid.UUID         `json:"payment_id"`
	Type                  TransactionType   `json:"transaction_type"`
	Status                TransactionStatus `json:"status"`
	ProviderTransactionID string            `json:"provider_transaction_id,omitempty"`
	Amount                decimal.Decimal   `json:"amount"`
	Currency              string            `json:"currency"`
	CustomerID            string            `json:"customer_id,omitempty"`
	CustomerEmail         string            `json:"customer_email,omitempty"`
	CorrelationID         string            `json:"correlation_id,omitempty"`
	Metadata              map[string]any    `json:"metadata,omitempty"`
	ErrorMessage          string            `json:"error_message,omitempty"`
	CreatedAt             time.Time         `json:"created_at"`
	UpdatedAt             time.Time         `json:"updated_at"`
}

func NewTransaction(paymentID uuid.UUID, txType TransactionType, amount decimal.Decimal, currency string, now time.Time) *Transaction {
	return &Transaction{
		ID:        uuid.New(),
		PaymentID: paymentID,
		Type:      txType,
		Status:    StatusPending,
		Amount:    amount,
		Currency:  currency,
		Metadata:  map[string]any{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo moves the transaction along the state graph, rejecting
// illegal and backward moves.
func (t *Transaction) TransitionTo(to TransactionStatus, now time.Time) error {
	if !CanTransition(t.Status, to) {
		return fmt.Errorf("illegal transition from %s to %s", t.Status, to)
	}
	t.Status = to
	t.UpdatedAt = now
	return nil
}

// Fail moves the transaction to failed and records the reason.
func (t *Transaction) Fail(reason string, now time.Time) error {
	if err := t.TransitionTo(StatusFailed, now); err != nil {
		return err
	}
	t.ErrorMessage = reason
	return nil
}

// MergeMetadata adds entries to the metadata map, overwriting existing keys.
func (t *Transaction) MergeMetadata(extra map[string]any) {
	if len(extra) == 0 {
		return
	}
	if t.Metadata == nil {
		t.Metadata = make(map[string]any, len(extra))
	}
	for k, v := range extra {
		t.Metadata[k] = v
	}
}

// Clone returns a copy that does not share the metadata map.
func (t *Transaction) Clone() *Transaction {
	c := *t
	if t.Metadata != nil {
		c.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

type TransactionFilter struct {
	CustomerID string
	PaymentID  *uuid.UUID
	Status     TransactionStatus
	Limit      int
}

// TransactionStateChanged is published after a status change is committed.
type TransactionStateChanged struct {
	TransactionID string    `json:"transaction_id"`
	PaymentID     string    `json:"payment_id"`
	State         string    `json:"state"`
	PreviousState string    `json:"previous_state"`
	Source        string    `json:"source"`
	ProviderID    string    `json:"provider_transaction_id,omitempty"`
	Amount        string    `json:"amount"`
	Currency      string    `json:"currency"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}
