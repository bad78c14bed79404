package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/akylbek/payment-system/payment-service/internal/apperrors"
	"github.com/akylbek/payment-system/payment-service/internal/interfaces"
	"github.com/akylbek/payment-system/payment-service/internal/models"
	"github.com/akylbek/payment-system/payment-service/internal/repository"
)

type webhookFixture struct {
	*fixture
	queue    *fakeQueue
	webhooks *WebhookService
}

func newWebhookFixture(t *testing.T, rejectRegressions bool) *webhookFixture {
	t.Helper()
	f := newFixture(t)
	q := &fakeQueue{}
	return &webhookFixture{
		fixture:  f,
		queue:    q,
		webhooks: NewWebhookService(f.store, q, f.publisher, rejectRegressions),
	}
}

// authorized creates an authorized transaction and returns it.
func (f *webhookFixture) authorized(t *testing.T) *models.Transaction {
	t.Helper()
	resp, err := f.payments.Authorize(context.Background(), purchaseRequest("2.50"), models.RequestMeta{})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	return f.transaction(t, mustID(t, decodeResponse(t, resp).TransactionID))
}

func (f *webhookFixture) receive(t *testing.T, eventType, transID string) *models.WebhookEvent {
	t.Helper()
	raw := fmt.Sprintf(`{"notificationId":"n-1","eventType":%q,"payload":{"entityName":"transaction","id":%q}}`, eventType, transID)
	event, err := f.webhooks.Receive(context.Background(), []byte(raw), "corr-http")
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	return event
}

func (f *webhookFixture) event(t *testing.T, id uuid.UUID) *models.WebhookEvent {
	t.Helper()
	event, err := f.store.Repositories().Webhooks.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get event: %v", err)
	}
	return event
}

func TestReceiveStoresPayloadVerbatim(t *testing.T) {
	f := newWebhookFixture(t, false)
	raw := []byte(`{ "eventType": "net.authorize.payment.void.created", "refId": "ref-9", "payload": {"id": 60012345} }`)

	event, err := f.webhooks.Receive(context.Background(), raw, "corr-http")
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	stored := f.event(t, event.ID)
	if string(stored.RawPayload) != string(raw) {
		t.Errorf("payload changed: %s", stored.RawPayload)
	}
	if stored.ProviderTransactionID != "60012345" {
		t.Errorf("provider id = %q", stored.ProviderTransactionID)
	}
	if stored.CorrelationID != "ref-9" {
		t.Errorf("correlation id = %q, want refId", stored.CorrelationID)
	}
	if stored.Processed {
		t.Error("event processed before reconciliation")
	}
	if len(f.queue.jobs) != 1 || f.queue.jobs[0].EventID != event.ID.String() {
		t.Errorf("unexpected jobs: %+v", f.queue.jobs)
	}

	if _, err := f.webhooks.Receive(context.Background(), []byte(`{broken`), ""); !apperrors.Is(err, apperrors.KindValidation) {
		t.Errorf("invalid JSON: expected validation error, got %v", err)
	}
}

func TestReceiveEnqueueFailureFlagsEvent(t *testing.T) {
	f := newWebhookFixture(t, false)
	f.queue.err = errors.New("redis: connection refused")

	_, err := f.webhooks.Receive(context.Background(), []byte(`{"eventType":"x"}`), "")
	if !apperrors.Is(err, apperrors.KindInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
	events, _ := f.store.Repositories().Webhooks.ListUnprocessed(context.Background(), 10)
	if len(events) != 0 {
		t.Fatalf("event left unprocessed after enqueue failure")
	}
}

func TestProcessEventIsIdempotent(t *testing.T) {
	f := newWebhookFixture(t, false)
	tx := f.authorized(t)
	published := f.publisher.len()

	event := f.receive(t, "net.authorize.payment.authcapture.created", tx.ProviderTransactionID)
	for i := 0; i < 2; i++ {
		if err := f.webhooks.ProcessEvent(context.Background(), event.ID); err != nil {
			t.Fatalf("ProcessEvent #%d: %v", i+1, err)
		}
	}

	got := f.transaction(t, tx.ID)
	if got.Status != models.StatusCaptured {
		t.Errorf("status = %s, want captured", got.Status)
	}
	if got.Metadata["webhook_event_id"] != event.ID.String() {
		t.Errorf("webhook_event_id = %v", got.Metadata["webhook_event_id"])
	}
	if n := f.publisher.len() - published; n != 1 {
		t.Errorf("state updates = %d, want 1", n)
	}
	if stored := f.event(t, event.ID); !stored.Processed || stored.ErrorMessage != "" {
		t.Errorf("unexpected event state: %+v", stored)
	}
}

func TestProcessEventUnknownTypeAndMissingTransaction(t *testing.T) {
	f := newWebhookFixture(t, false)
	tx := f.authorized(t)

	unknown := f.receive(t, "net.authorize.customer.created", tx.ProviderTransactionID)
	if err := f.webhooks.ProcessEvent(context.Background(), unknown.ID); err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}
	if stored := f.event(t, unknown.ID); !stored.Processed || stored.ErrorMessage != "" {
		t.Errorf("unknown event: %+v", stored)
	}
	if got := f.transaction(t, tx.ID); got.Status != models.StatusAuthorized {
		t.Errorf("unknown event changed status to %s", got.Status)
	}

	orphan := f.receive(t, "net.authorize.payment.void.created", "99999999")
	if err := f.webhooks.ProcessEvent(context.Background(), orphan.ID); err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}
	if stored := f.event(t, orphan.ID); !stored.Processed || stored.ErrorMessage == "" {
		t.Errorf("orphan event should be processed with an error: %+v", stored)
	}

	if err := f.webhooks.ProcessEvent(context.Background(), uuid.New()); err != nil {
		t.Errorf("missing event: %v", err)
	}
}

func TestProcessEventLastWriterWins(t *testing.T) {
	f := newWebhookFixture(t, false)
	tx := f.authorized(t)

	captured := f.receive(t, "net.authorize.payment.authcapture.created", tx.ProviderTransactionID)
	late := f.receive(t, "net.authorize.payment.authorization.created", tx.ProviderTransactionID)
	for _, e := range []*models.WebhookEvent{captured, late} {
		if err := f.webhooks.ProcessEvent(context.Background(), e.ID); err != nil {
			t.Fatalf("ProcessEvent: %v", err)
		}
	}
	if got := f.transaction(t, tx.ID); got.Status != models.StatusAuthorized {
		t.Errorf("status = %s, want authorized (last writer wins)", got.Status)
	}
}

func TestProcessEventRejectsRegressionsWhenEnabled(t *testing.T) {
	f := newWebhookFixture(t, true)
	tx := f.authorized(t)

	captured := f.receive(t, "net.authorize.payment.authcapture.created", tx.ProviderTransactionID)
	late := f.receive(t, "net.authorize.payment.authorization.created", tx.ProviderTransactionID)
	for _, e := range []*models.WebhookEvent{captured, late} {
		if err := f.webhooks.ProcessEvent(context.Background(), e.ID); err != nil {
			t.Fatalf("ProcessEvent: %v", err)
		}
	}
	if got := f.transaction(t, tx.ID); got.Status != models.StatusCaptured {
		t.Errorf("status = %s, want captured", got.Status)
	}
	if stored := f.event(t, late.ID); !stored.Processed || stored.ErrorMessage == "" {
		t.Errorf("regressing event should be annotated: %+v", stored)
	}
}

func TestReplayUnprocessed(t *testing.T) {
	f := newWebhookFixture(t, false)
	tx := f.authorized(t)
	done := f.receive(t, "net.authorize.payment.void.created", tx.ProviderTransactionID)
	f.receive(t, "net.authorize.payment.void.created", tx.ProviderTransactionID)
	if err := f.webhooks.ProcessEvent(context.Background(), done.ID); err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}
	f.queue.jobs = nil

	n, err := f.webhooks.ReplayUnprocessed(context.Background(), 10)
	if err != nil {
		t.Fatalf("ReplayUnprocessed: %v", err)
	}
	if n != 1 || len(f.queue.jobs) != 1 {
		t.Errorf("replayed %d events, queued %d; want 1", n, len(f.queue.jobs))
	}
}

func TestExtractTransactionID(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{`{"id":"111"}`, "111"},
		{`{"transId":"222"}`, "222"},
		{`{"payload":{"id":"333"}}`, "333"},
		{`{"payload":{"transId":444}}`, "444"},
		{`{"payload":"nope"}`, ""},
		{`{}`, ""},
	}
	for _, tt := range tests {
		payload, err := decodePayload([]byte(tt.raw))
		if err != nil {
			t.Fatalf("decode %s: %v", tt.raw, err)
		}
		if got := extractTransactionID(payload); got != tt.want {
			t.Errorf("extractTransactionID(%s) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

// failingUpdateStore fails every transaction update made inside a unit of work.
type failingUpdateStore struct {
	*repository.MemoryStore
	err error
}

func (s *failingUpdateStore) WithinTx(ctx context.Context, fn func(ctx context.Context, repos interfaces.Repositories) error) error {
	return s.MemoryStore.WithinTx(ctx, func(ctx context.Context, repos interfaces.Repositories) error {
		repos.Payments = failingUpdates{PaymentRepository: repos.Payments, err: s.err}
		return fn(ctx, repos)
	})
}

type failingUpdates struct {
	interfaces.PaymentRepository
	err error
}

func (r failingUpdates) UpdateTransaction(context.Context, *models.Transaction) error {
	return r.err
}

func TestProcessEventFailureRollsBackAndFlagsEvent(t *testing.T) {
	f := newWebhookFixture(t, false)
	tx := f.authorized(t)
	event := f.receive(t, "net.authorize.payment.void.created", tx.ProviderTransactionID)

	store := &failingUpdateStore{MemoryStore: f.store, err: errors.New("disk full")}
	webhooks := NewWebhookService(store, f.queue, f.publisher, false)
	published := f.publisher.len()

	if err := webhooks.ProcessEvent(context.Background(), event.ID); err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}
	if got := f.transaction(t, tx.ID); got.Status != models.StatusAuthorized {
		t.Errorf("status = %s, want authorized after rollback", got.Status)
	}
	stored := f.event(t, event.ID)
	if !stored.Processed || !strings.Contains(stored.ErrorMessage, "disk full") {
		t.Errorf("event should be processed with the failure recorded: %+v", stored)
	}
	if f.publisher.len() != published {
		t.Error("state change published for a rolled back update")
	}
}

func TestProcessEventConcurrentDeliveryAppliesOnce(t *testing.T) {
	f := newWebhookFixture(t, false)
	tx := f.authorized(t)
	event := f.receive(t, "net.authorize.payment.void.created", tx.ProviderTransactionID)
	published := f.publisher.len()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.webhooks.ProcessEvent(context.Background(), event.ID); err != nil {
				t.Errorf("ProcessEvent: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := f.publisher.len() - published; got != 1 {
		t.Errorf("published %d state changes, want 1", got)
	}
	if got := f.transaction(t, tx.ID); got.Status != models.StatusVoided {
		t.Errorf("status = %s, want voided", got.Status)
	}
}
