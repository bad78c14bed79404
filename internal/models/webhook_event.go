package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// WebhookEvent is one notification pushed by the provider. The raw payload is
// kept exactly as received.
type WebhookEvent struct {
	ID                    uuid.UUID       `json:"id"`
	EventType             string          `json:"event_type"`
	ProviderTransactionID string          `json:"provider_transaction_id,omitempty"`
	RawPayload            json.RawMessage `json:"raw_payload"`
	Processed             bool            `json:"processed"`
	CorrelationID         string          `json:"correlation_id,omitempty"`
	ErrorMessage          string          `json:"error_message,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
	ProcessedAt           *time.Time      `json:"processed_at,omitempty"`
}

func (e *WebhookEvent) Clone() *WebhookEvent {
	c := *e
	c.RawPayload = append(json.RawMessage(nil), e.RawPayload...)
	if e.ProcessedAt != nil {
		at := *e.ProcessedAt
		c.ProcessedAt = &at
	}
	return &c
}

// WebhookJob is the message handed to the background worker.
type WebhookJob struct {
	EventID       string    `json:"event_id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
}
