package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cast"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/payment-service/internal/apperrors"
	"github.com/akylbek/payment-system/payment-service/internal/interfaces"
	"github.com/akylbek/payment-system/payment-service/internal/models"
	"github.com/akylbek/payment-system/payment-service/internal/repository"
	"github.com/akylbek/payment-system/payment-service/internal/telemetry"
)

const unknownEventType = "unknown"

// eventStatus maps provider event types to the status they report.
var eventStatus = map[string]models.TransactionStatus{
	"net.authorize.payment.authorization.created":    models.StatusAuthorized,
	"net.authorize.payment.authcapture.created":      models.StatusCaptured,
	"net.authorize.payment.priorAuthCapture.created": models.StatusCaptured,
	"net.authorize.payment.void.created":             models.StatusVoided,
	"net.authorize.payment.refund.created":           models.StatusRefunded,
}

type WebhookService struct {
	store     interfaces.Store
	queue     interfaces.JobQueue
	publisher interfaces.EventPublisher
	// rejectRegressions skips updates that would move a transaction backwards.
	rejectRegressions bool
	now               func() time.Time
}

func NewWebhookService(store interfaces.Store, queue interfaces.JobQueue, publisher interfaces.EventPublisher, rejectRegressions bool) *WebhookService {
	return &WebhookService{
		store:             store,
		queue:             queue,
		publisher:         publisher,
		rejectRegressions: rejectRegressions,
		now:               time.Now,
	}
}

// Receive persists a verified notification and queues it for reconciliation.
// The payload is stored byte for byte.
func (s *WebhookService) Receive(ctx context.Context, raw []byte, correlationID string) (*models.WebhookEvent, error) {
	payload, err := decodePayload(raw)
	if err != nil {
		return nil, apperrors.Validation("Invalid JSON payload")
	}

	event := &models.WebhookEvent{
		ID:                    uuid.New(),
		EventType:             cast.ToString(payload["eventType"]),
		ProviderTransactionID: extractTransactionID(payload),
		RawPayload:            append(json.RawMessage(nil), raw...),
		CorrelationID:         cast.ToString(payload["refId"]),
		CreatedAt:             s.now(),
	}
	if event.EventType == "" {
		event.EventType = unknownEventType
	}
	if event.CorrelationID == "" {
		event.CorrelationID = correlationID
	}

	logger := telemetry.LoggerFromContext(ctx).With(
		zap.String("event_id", event.ID.String()),
		zap.String("event_type", event.EventType),
	)

	webhooks := s.store.Repositories().Webhooks
	if err := webhooks.Create(ctx, event); err != nil {
		telemetry.WebhookEventsTotal.WithLabelValues("receive", "store_error").Inc()
		return nil, apperrors.Internal("store webhook event", err)
	}

	job := models.WebhookJob{EventID: event.ID.String(), CorrelationID: event.CorrelationID, EnqueuedAt: s.now()}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		logger.Error("Error enqueueing webhook", zap.Error(err))
		telemetry.WebhookEventsTotal.WithLabelValues("receive", "enqueue_error").Inc()
		if markErr := webhooks.MarkProcessed(ctx, event.ID, err.Error(), s.now()); markErr != nil {
			logger.Error("Failed to flag webhook event after enqueue failure", zap.Error(markErr))
		}
		return nil, apperrors.Internal("enqueue webhook event", err)
	}

	logger.Info("Enqueued webhook event", zap.String("provider_transaction_id", event.ProviderTransactionID))
	telemetry.WebhookEventsTotal.WithLabelValues("receive", "queued").Inc()
	return event, nil
}

// HandleJob adapts ProcessEvent to the worker's job handler signature.
func (s *WebhookService) HandleJob(ctx context.Context, job models.WebhookJob) error {
	id, err := uuid.Parse(job.EventID)
	if err != nil {
		telemetry.Logger.Warn("Dropping webhook job with malformed event id", zap.String("event_id", job.EventID))
		return nil
	}
	if job.CorrelationID != "" {
		ctx = telemetry.WithCorrelationID(ctx, job.CorrelationID)
	}
	return s.ProcessEvent(ctx, id)
}

// ProcessEvent reconciles one stored event against the transaction it
// refers to. It is safe to call repeatedly: processed events are skipped,
// and every attempt ends with the event flagged as processed.
func (s *WebhookService) ProcessEvent(ctx context.Context, id uuid.UUID) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "webhook.process", attribute.String("webhook.event_id", id.String()))
	defer func() { telemetry.EndSpan(span, err) }()

	logger := telemetry.LoggerFromContext(ctx).With(zap.String("event_id", id.String()))

	var (
		changed  *models.Transaction
		previous models.TransactionStatus
		skipped  bool
	)
	reconcileErr := s.store.WithinTx(ctx, func(ctx context.Context, repos interfaces.Repositories) error {
		changed, skipped = nil, false

		event, err := repos.Webhooks.GetForUpdate(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			logger.Warn("Webhook event not found")
			skipped = true
			return nil
		}
		if err != nil {
			return err
		}
		if event.Processed {
			logger.Info("Webhook event already processed")
			skipped = true
			return nil
		}

		note, tx, prev, err := s.reconcile(ctx, repos, event)
		if err != nil {
			return err
		}
		changed, previous = tx, prev
		return repos.Webhooks.MarkProcessed(ctx, event.ID, note, s.now())
	})

	if reconcileErr != nil {
		logger.Error("Error processing webhook", zap.Error(reconcileErr))
		telemetry.WebhookEventsTotal.WithLabelValues("process", "error").Inc()
		// The status update rolled back; flag the event so it is not retried forever.
		markErr := s.store.WithinTx(ctx, func(ctx context.Context, repos interfaces.Repositories) error {
			return repos.Webhooks.MarkProcessed(ctx, id, reconcileErr.Error(), s.now())
		})
		if markErr != nil {
			return fmt.Errorf("flag webhook event %s: %w", id, markErr)
		}
		return nil
	}
	if skipped {
		telemetry.WebhookEventsTotal.WithLabelValues("process", "skipped").Inc()
		return nil
	}

	telemetry.WebhookEventsTotal.WithLabelValues("process", "processed").Inc()
	if changed != nil && s.publisher != nil && changed.Status != previous {
		publishStateChange(ctx, s.publisher, changed, previous, "webhook", s.now())
	}
	return nil
}

// reconcile applies event inside the unit of work. It returns the note to
// record on the event and, when a transaction was updated, that transaction
// with its prior status.
func (s *WebhookService) reconcile(ctx context.Context, repos interfaces.Repositories, event *models.WebhookEvent) (string, *models.Transaction, models.TransactionStatus, error) {
	logger := telemetry.LoggerFromContext(ctx).With(
		zap.String("event_id", event.ID.String()),
		zap.String("event_type", event.EventType),
	)

	target, known := eventStatus[event.EventType]
	if !known {
		logger.Info("Unhandled webhook event type")
		return "", nil, "", nil
	}

	providerID := event.ProviderTransactionID
	if providerID == "" {
		if payload, err := decodePayload(event.RawPayload); err == nil {
			providerID = extractTransactionID(payload)
		}
	}
	if providerID == "" {
		logger.Warn("Webhook event has no transaction reference")
		return "missing transaction reference in payload", nil, "", nil
	}

	tx, err := repos.Payments.GetTransactionByProviderID(ctx, providerID)
	if errors.Is(err, repository.ErrNotFound) {
		logger.Warn("Transaction not found for webhook", zap.String("provider_transaction_id", providerID))
		return fmt.Sprintf("no transaction found for provider reference %s", providerID), nil, "", nil
	}
	if err != nil {
		return "", nil, "", err
	}

	previous := tx.Status
	if s.rejectRegressions && models.IsRegression(previous, target) {
		logger.Warn("Ignoring webhook that would regress transaction status",
			zap.String("transaction_id", tx.ID.String()),
			zap.String("current_status", string(previous)),
			zap.String("event_status", string(target)),
		)
		return fmt.Sprintf("ignored regression from %s to %s", previous, target), nil, "", nil
	}

	// The provider is authoritative: the reported status is applied as is.
	tx.Status = target
	tx.UpdatedAt = s.now()
	tx.ProviderTransactionID = providerID
	tx.MergeMetadata(map[string]any{"webhook_event_id": event.ID.String()})
	if err := repos.Payments.UpdateTransaction(ctx, tx); err != nil {
		return "", nil, "", err
	}

	logger.Info("Updated transaction from webhook",
		zap.String("transaction_id", tx.ID.String()),
		zap.String("provider_transaction_id", providerID),
		zap.String("status", string(target)),
	)
	return "", tx, previous, nil
}

// ReplayUnprocessed re-enqueues up to limit events still waiting for
// reconciliation, oldest first.
func (s *WebhookService) ReplayUnprocessed(ctx context.Context, limit int) (int, error) {
	events, err := s.store.Repositories().Webhooks.ListUnprocessed(ctx, limit)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, event := range events {
		job := models.WebhookJob{EventID: event.ID.String(), CorrelationID: event.CorrelationID, EnqueuedAt: s.now()}
		if err := s.queue.Enqueue(ctx, job); err != nil {
			return n, fmt.Errorf("enqueue event %s: %w", event.ID, err)
		}
		n++
	}
	return n, nil
}

func decodePayload(raw []byte) (map[string]any, error) {
	var payload map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, errors.New("payload is not an object")
	}
	return payload, nil
}

// extractTransactionID looks for the provider reference at the top level and
// then inside the nested payload object. Numeric ids are accepted.
func extractTransactionID(payload map[string]any) string {
	for _, key := range []string{"id", "transId"} {
		if id := cast.ToString(payload[key]); id != "" {
			return id
		}
	}
	nested, ok := payload["payload"].(map[string]any)
	if !ok {
		return ""
	}
	for _, key := range []string{"id", "transId"} {
		if id := cast.ToString(nested[key]); id != "" {
			return id
		}
	}
	return ""
}
