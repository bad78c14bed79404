package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/akylbek/payment-system/payment-service/internal/auth"
	"github.com/akylbek/payment-system/payment-service/internal/config"
	"github.com/akylbek/payment-system/payment-service/internal/events"
	"github.com/akylbek/payment-system/payment-service/internal/gateway"
	"github.com/akylbek/payment-system/payment-service/internal/models"
	"github.com/akylbek/payment-system/payment-service/internal/queue"
	"github.com/akylbek/payment-system/payment-service/internal/repository"
	"github.com/akylbek/payment-system/payment-service/internal/service"
)

const webhookSecret = "1234567890abcdef"

type stubGateway struct {
	mu    sync.Mutex
	calls int
	next  int
}

func (g *stubGateway) approve() (*gateway.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.next++
	return &gateway.Result{
		Success:       true,
		TransactionID: fmt.Sprintf("4000%04d", g.next),
		ResponseCode:  "1",
		Message:       "This transaction has been approved.",
	}, nil
}

func (g *stubGateway) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *stubGateway) Purchase(context.Context, *gateway.ChargeRequest) (*gateway.Result, error) {
	return g.approve()
}

func (g *stubGateway) Authorize(context.Context, *gateway.ChargeRequest) (*gateway.Result, error) {
	return g.approve()
}

func (g *stubGateway) Capture(context.Context, *gateway.CaptureRequest) (*gateway.Result, error) {
	return g.approve()
}

func (g *stubGateway) Void(context.Context, *gateway.VoidRequest) (*gateway.Result, error) {
	return g.approve()
}

func (g *stubGateway) Refund(context.Context, *gateway.RefundRequest) (*gateway.Result, error) {
	return g.approve()
}

func (g *stubGateway) CreateSubscription(context.Context, *gateway.SubscriptionRequest) (*gateway.SubscriptionResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return &gateway.SubscriptionResult{Success: true, SubscriptionID: "7001", MessageCode: "I00001", MessageText: "Successful."}, nil
}

type testServer struct {
	router   *gin.Engine
	store    *repository.MemoryStore
	gateway  *stubGateway
	queue    *queue.MemoryQueue
	webhooks *service.WebhookService
	token    string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := &config.Config{
		ServiceName:  "payment-service",
		GinMode:      gin.TestMode,
		APIPrefix:    "/api/v1",
		AuthorizeNet: config.AuthorizeNetConfig{WebhookSecret: webhookSecret},
	}

	verifier, err := auth.NewVerifier("test-secret", "HS256")
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	token, err := verifier.Issue("merchant-1", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	s := &testServer{
		store:   repository.NewMemoryStore(),
		gateway: &stubGateway{},
		queue:   queue.NewMemoryQueue(16),
		token:   token,
	}
	idem := service.NewIdempotencyService(nil, models.DefaultIdempotencyTTL)
	s.webhooks = service.NewWebhookService(s.store, s.queue, events.LogPublisher{}, false)
	s.router = NewRouter(cfg, Dependencies{
		Store:       s.store,
		Payments:    service.NewPaymentService(s.store, s.gateway, idem, events.LogPublisher{}),
		Webhooks:    s.webhooks,
		Idempotency: idem,
		Verifier:    verifier,
	})
	return s
}

func (s *testServer) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func chargeBody(amount string) string {
	return fmt.Sprintf(`{
		"amount": %q,
		"credit_card": {"card_number": "4111111111111111", "expiration_date": "2035-12", "card_code": "123"},
		"customer_address": {"first_name": "Ada", "last_name": "Lovelace", "address": "1 Main St", "city": "New York", "state": "NY", "zip": "10001"},
		"customer_id": "cust-1",
		"customer_email": "ada@example.com"
	}`, amount)
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func sign(payload []byte) string {
	key, _ := hex.DecodeString(webhookSecret)
	mac := hmac.New(sha512.New, key)
	mac.Write(payload)
	return "SHA512=" + hex.EncodeToString(mac.Sum(nil))
}

func TestIdempotentReplayReturnsStoredResponse(t *testing.T) {
	s := newTestServer(t)
	headers := map[string]string{"X-Idempotency-Key": "order-42"}

	first := s.do(http.MethodPost, "/api/v1/payments/authorize", chargeBody("2.50"), headers)
	if first.Code != http.StatusOK {
		t.Fatalf("first call: %d %s", first.Code, first.Body.String())
	}
	second := s.do(http.MethodPost, "/api/v1/payments/authorize", chargeBody("2.50"), headers)
	if second.Code != http.StatusOK {
		t.Fatalf("replay: %d %s", second.Code, second.Body.String())
	}

	if !bytes.Equal(first.Body.Bytes(), second.Body.Bytes()) {
		t.Errorf("replayed body differs:\n%s\n%s", first.Body.String(), second.Body.String())
	}
	if second.Header().Get("X-Idempotent-Replay") != "true" {
		t.Error("replay header missing")
	}
	if n := s.gateway.count(); n != 1 {
		t.Errorf("gateway called %d times, want 1", n)
	}
}

func TestIdempotencyConflict(t *testing.T) {
	s := newTestServer(t)
	headers := map[string]string{"X-Idempotency-Key": "order-43"}

	first := s.do(http.MethodPost, "/api/v1/payments/purchase", chargeBody("2.50"), headers)
	if first.Code != http.StatusOK {
		t.Fatalf("first call: %d %s", first.Code, first.Body.String())
	}
	conflict := s.do(http.MethodPost, "/api/v1/payments/purchase", chargeBody("9.99"), headers)
	if conflict.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", conflict.Code, conflict.Body.String())
	}
	if body := decode(t, conflict); body["correlation_id"] == "" || body["code"] != "conflict" {
		t.Errorf("unexpected conflict body: %v", body)
	}

	replay := s.do(http.MethodPost, "/api/v1/payments/purchase", chargeBody("2.50"), headers)
	if !bytes.Equal(first.Body.Bytes(), replay.Body.Bytes()) {
		t.Error("stored record changed after a conflicting request")
	}
	if n := s.gateway.count(); n != 1 {
		t.Errorf("gateway called %d times, want 1", n)
	}
}

func TestCaptureKeyIsScopedToTransaction(t *testing.T) {
	s := newTestServer(t)

	var ids []string
	for i := 0; i < 2; i++ {
		w := s.do(http.MethodPost, "/api/v1/payments/authorize", chargeBody("1.00"), nil)
		ids = append(ids, decode(t, w)["transaction_id"].(string))
	}

	headers := map[string]string{"X-Idempotency-Key": "capture-1"}
	if w := s.do(http.MethodPost, "/api/v1/payments/capture/"+ids[0], "", headers); w.Code != http.StatusOK {
		t.Fatalf("capture: %d %s", w.Code, w.Body.String())
	}
	if w := s.do(http.MethodPost, "/api/v1/payments/capture/"+ids[1], "", headers); w.Code != http.StatusConflict {
		t.Fatalf("same key on another transaction: expected 409, got %d", w.Code)
	}
}

func TestAuthorizeCaptureRefundOverHTTP(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/api/v1/payments/authorize", chargeBody("2.50"), nil)
	authorized := decode(t, w)
	if authorized["status"] != "authorized" || authorized["amount"] != "2.50" {
		t.Fatalf("unexpected authorize response: %v", authorized)
	}
	id := authorized["transaction_id"].(string)

	w = s.do(http.MethodPost, "/api/v1/payments/capture/"+id, "", nil)
	if got := decode(t, w); got["status"] != "captured" {
		t.Fatalf("unexpected capture response: %d %v", w.Code, got)
	}

	w = s.do(http.MethodPost, "/api/v1/payments/refund/"+id, `{"amount": "2.50", "card_number_last4": "1111"}`, nil)
	if got := decode(t, w); got["status"] != "refunded" {
		t.Fatalf("unexpected refund response: %d %v", w.Code, got)
	}

	w = s.do(http.MethodPost, "/api/v1/payments/refund/"+id, `{"card_number_last4": "1111"}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("second refund: expected 400, got %d %s", w.Code, w.Body.String())
	}

	w = s.do(http.MethodGet, "/api/v1/transactions/"+id, "", nil)
	if got := decode(t, w); got["status"] != "refunded" {
		t.Errorf("GET transaction: %v", got)
	}
}

func TestAuthorizeVoidThenCaptureOverHTTP(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/api/v1/payments/authorize", chargeBody("2.40"), nil)
	id := decode(t, w)["transaction_id"].(string)

	w = s.do(http.MethodPost, "/api/v1/payments/cancel/"+id, "", nil)
	if got := decode(t, w); got["status"] != "voided" {
		t.Fatalf("unexpected void response: %d %v", w.Code, got)
	}

	calls := s.gateway.count()
	w = s.do(http.MethodPost, "/api/v1/payments/capture/"+id, "", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("capture after void: expected 400, got %d", w.Code)
	}
	if s.gateway.count() != calls {
		t.Error("capture after void reached the gateway")
	}
}

func TestRequestValidation(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/api/v1/payments/purchase", `{"amount": "2.50"}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing fields: expected 400, got %d", w.Code)
	}
	w = s.do(http.MethodPost, "/api/v1/payments/capture/not-a-uuid", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad id: expected 400, got %d", w.Code)
	}
	w = s.do(http.MethodPost, "/api/v1/payments/capture/"+uuid.NewString(), "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown transaction: expected 404, got %d", w.Code)
	}
	w = s.do(http.MethodPost, "/api/v1/payments/purchase", `{not json`, map[string]string{"X-Idempotency-Key": "k"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed body with key: expected 400, got %d", w.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/purchase", bytes.NewBufferString(chargeBody("1.00")))
	req.Header.Set("X-Correlation-ID", "corr-123")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if got := w.Header().Get("X-Correlation-ID"); got != "corr-123" {
		t.Errorf("correlation header = %q", got)
	}
	if body := decode(t, w); body["correlation_id"] != "corr-123" {
		t.Errorf("correlation id missing from error body: %v", body)
	}
	if s.gateway.count() != 0 {
		t.Error("unauthenticated request reached the gateway")
	}
}

func TestCorrelationIDGenerated(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("health: %d", w.Code)
	}
	if _, err := uuid.Parse(w.Header().Get("X-Correlation-ID")); err != nil {
		t.Errorf("expected generated UUID correlation id, got %q", w.Header().Get("X-Correlation-ID"))
	}
}

func TestWebhookFlow(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/api/v1/payments/authorize", chargeBody("2.50"), nil)
	authorized := decode(t, w)
	id := uuid.MustParse(authorized["transaction_id"].(string))

	payload := []byte(fmt.Sprintf(`{"notificationId":"n-9","eventType":"net.authorize.payment.priorAuthCapture.created","payload":{"id":%q}}`,
		authorized["provider_transaction_id"]))

	bad := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/authorize-net", bytes.NewReader(payload))
	bad.Header.Set("X-ANET-Signature", sign([]byte(`{"tampered":true}`)))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, bad)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad signature: expected 401, got %d", rec.Code)
	}
	if s.queue.Len() != 0 {
		t.Fatal("rejected webhook was queued")
	}

	good := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/authorize-net", bytes.NewReader(payload))
	good.Header.Set("X-ANET-Signature", sign(payload))
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, good)
	if rec.Code != http.StatusOK {
		t.Fatalf("webhook: %d %s", rec.Code, rec.Body.String())
	}
	if s.queue.Len() != 1 {
		t.Fatalf("queued %d jobs, want 1", s.queue.Len())
	}
	eventID := uuid.MustParse(decode(t, rec)["event_id"].(string))

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := s.webhooks.ProcessEvent(ctx, eventID); err != nil {
			t.Fatalf("ProcessEvent: %v", err)
		}
	}

	tx, err := s.store.Repositories().Payments.GetTransaction(ctx, id)
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if tx.Status != models.StatusCaptured || tx.Metadata["webhook_event_id"] != eventID.String() {
		t.Errorf("unexpected transaction after webhook: %+v", tx)
	}
}
