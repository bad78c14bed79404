package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/akylbek/payment-system/payment-service/internal/gateway"
	"github.com/akylbek/payment-system/payment-service/internal/models"
	"github.com/akylbek/payment-system/payment-service/internal/repository"
)

type fakeGateway struct {
	mu      sync.Mutex
	calls   map[string]int
	results map[string]*gateway.Result
	errs    map[string]error
	nextID  int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		calls:   map[string]int{},
		results: map[string]*gateway.Result{},
		errs:    map[string]error{},
	}
}

func (g *fakeGateway) do(op string) (*gateway.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls[op]++
	if err := g.errs[op]; err != nil {
		return nil, err
	}
	if r := g.results[op]; r != nil {
		c := *r
		return &c, nil
	}
	g.nextID++
	return &gateway.Result{
		Success:       true,
		TransactionID: fmt.Sprintf("6000%04d", g.nextID),
		ResponseCode:  "1",
		MessageCode:   "1",
		Message:       "This transaction has been approved.",
	}, nil
}

func (g *fakeGateway) count(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

func (g *fakeGateway) total() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		n += c
	}
	return n
}

func (g *fakeGateway) Purchase(context.Context, *gateway.ChargeRequest) (*gateway.Result, error) {
	return g.do("purchase")
}

func (g *fakeGateway) Authorize(context.Context, *gateway.ChargeRequest) (*gateway.Result, error) {
	return g.do("authorize")
}

func (g *fakeGateway) Capture(context.Context, *gateway.CaptureRequest) (*gateway.Result, error) {
	return g.do("capture")
}

func (g *fakeGateway) Void(context.Context, *gateway.VoidRequest) (*gateway.Result, error) {
	return g.do("void")
}

func (g *fakeGateway) Refund(context.Context, *gateway.RefundRequest) (*gateway.Result, error) {
	return g.do("refund")
}

func (g *fakeGateway) CreateSubscription(context.Context, *gateway.SubscriptionRequest) (*gateway.SubscriptionResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["subscription"]++
	if err := g.errs["subscription"]; err != nil {
		return nil, err
	}
	return &gateway.SubscriptionResult{Success: true, SubscriptionID: "9001", MessageCode: "I00001", MessageText: "Successful."}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.TransactionStateChanged
}

func (p *recordingPublisher) Publish(_ context.Context, event models.TransactionStateChanged) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []models.WebhookJob
	err  error
}

func (q *fakeQueue) Enqueue(_ context.Context, job models.WebhookJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

type fixture struct {
	store     *repository.MemoryStore
	gateway   *fakeGateway
	publisher *recordingPublisher
	idem      *IdempotencyService
	payments  *PaymentService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:     repository.NewMemoryStore(),
		gateway:   newFakeGateway(),
		publisher: &recordingPublisher{},
	}
	f.idem = NewIdempotencyService(nil, models.DefaultIdempotencyTTL)
	f.payments = NewPaymentService(f.store, f.gateway, f.idem, f.publisher)
	return f
}

func purchaseRequest(amount string) *models.PurchaseRequest {
	return &models.PurchaseRequest{
		Amount: decimal.RequireFromString(amount),
		CreditCard: models.CreditCard{
			CardNumber:     "4111 1111 1111 1111",
			ExpirationDate: "2035-12",
			CardCode:       "123",
		},
		CustomerAddress: models.CustomerAddress{
			FirstName: "Ada",
			LastName:  "Lovelace",
			Address:   "1 Main St",
			City:      "New York",
			State:     "NY",
			Zip:       "10001",
			Country:   "US",
		},
		CustomerID:    "cust-1",
		CustomerEmail: "ada@example.com",
	}
}

func decodeResponse(t *testing.T, resp *Response) models.TransactionResponse {
	t.Helper()
	var out models.TransactionResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func mustID(t *testing.T, s string) uuid.UUID {
	t.Helper()
	id, err := uuid.Parse(s)
	if err != nil {
		t.Fatalf("parse id %q: %v", s, err)
	}
	return id
}

func (f *fixture) transaction(t *testing.T, id uuid.UUID) *models.Transaction {
	t.Helper()
	tx, err := f.store.Repositories().Payments.GetTransaction(context.Background(), id)
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	return tx
}

var errNetwork = errors.New("dial tcp: connection refused")
