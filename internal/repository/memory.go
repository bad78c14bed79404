package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/akylbek/payment-system/payment-service/internal/interfaces"
	"github.com/akylbek/payment-system/payment-service/internal/models"
)

// MemoryStore keeps all state in process. Units of work are serialized and
// operate on a snapshot that replaces the live state only on success.
type MemoryStore struct {
	mu    sync.Mutex
	state *memoryState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemoryState()}
}

type memoryState struct {
	payments     map[uuid.UUID]*models.Payment
	transactions map[uuid.UUID]*models.Transaction
	idempotency  map[string]*models.IdempotencyRecord
	webhooks     map[uuid.UUID]*models.WebhookEvent
}

func newMemoryState() *memoryState {
	return &memoryState{
		payments:     make(map[uuid.UUID]*models.Payment),
		transactions: make(map[uuid.UUID]*models.Transaction),
		idempotency:  make(map[string]*models.IdempotencyRecord),
		webhooks:     make(map[uuid.UUID]*models.WebhookEvent),
	}
}

func (s *memoryState) clone() *memoryState {
	c := newMemoryState()
	for k, v := range s.payments {
		c.payments[k] = clonePayment(v)
	}
	for k, v := range s.transactions {
		c.transactions[k] = v.Clone()
	}
	for k, v := range s.idempotency {
		c.idempotency[k] = cloneRecord(v)
	}
	for k, v := range s.webhooks {
		c.webhooks[k] = v.Clone()
	}
	return c
}

func (s *MemoryStore) Repositories() interfaces.Repositories {
	return memoryRepositories(&memoryRepo{store: s})
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, repos interfaces.Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(ctx, memoryRepositories(&memoryRepo{tx: snapshot})); err != nil {
		return err
	}
	s.state = snapshot
	return nil
}

func memoryRepositories(r *memoryRepo) interfaces.Repositories {
	return interfaces.Repositories{
		Payments:    &memoryPayments{r},
		Idempotency: &memoryIdempotency{r},
		Webhooks:    &memoryWebhooks{r},
	}
}

// memoryRepo is bound either to a unit-of-work snapshot (tx) or to the live
// store, in which case every call takes the store lock.
type memoryRepo struct {
	store *MemoryStore
	tx    *memoryState
}

func (r *memoryRepo) with(fn func(st *memoryState) error) error {
	if r.tx != nil {
		return fn(r.tx)
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return fn(r.store.state)
}

type memoryPayments struct{ *memoryRepo }

func (r *memoryPayments) CreatePayment(_ context.Context, payment *models.Payment) error {
	return r.with(func(st *memoryState) error {
		st.payments[payment.ID] = clonePayment(payment)
		return nil
	})
}

func (r *memoryPayments) GetPayment(_ context.Context, id uuid.UUID) (*models.Payment, error) {
	var out *models.Payment
	err := r.with(func(st *memoryState) error {
		p, ok := st.payments[id]
		if !ok {
			return ErrNotFound
		}
		out = clonePayment(p)
		for _, tx := range st.transactions {
			if tx.PaymentID == id {
				out.Transactions = append(out.Transactions, tx.Clone())
			}
		}
		sort.Slice(out.Transactions, func(i, j int) bool {
			return out.Transactions[i].CreatedAt.Before(out.Transactions[j].CreatedAt)
		})
		return nil
	})
	return out, err
}

func (r *memoryPayments) CreateTransaction(_ context.Context, tx *models.Transaction) error {
	return r.with(func(st *memoryState) error {
		st.transactions[tx.ID] = tx.Clone()
		return nil
	})
}

func (r *memoryPayments) GetTransaction(_ context.Context, id uuid.UUID) (*models.Transaction, error) {
	var out *models.Transaction
	err := r.with(func(st *memoryState) error {
		tx, ok := st.transactions[id]
		if !ok {
			return ErrNotFound
		}
		out = tx.Clone()
		return nil
	})
	return out, err
}

func (r *memoryPayments) GetTransactionForUpdate(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return r.GetTransaction(ctx, id)
}

func (r *memoryPayments) GetTransactionByProviderID(_ context.Context, providerID string) (*models.Transaction, error) {
	var out *models.Transaction
	err := r.with(func(st *memoryState) error {
		for _, tx := range st.transactions {
			if tx.ProviderTransactionID != providerID {
				continue
			}
			if out == nil || tx.CreatedAt.After(out.CreatedAt) {
				out = tx
			}
		}
		if out == nil {
			return ErrNotFound
		}
		out = out.Clone()
		return nil
	})
	return out, err
}

func (r *memoryPayments) UpdateTransaction(_ context.Context, tx *models.Transaction) error {
	return r.with(func(st *memoryState) error {
		if _, ok := st.transactions[tx.ID]; !ok {
			return ErrNotFound
		}
		st.transactions[tx.ID] = tx.Clone()
		return nil
	})
}

func (r *memoryPayments) ListTransactions(_ context.Context, filter models.TransactionFilter) ([]*models.Transaction, error) {
	var out []*models.Transaction
	err := r.with(func(st *memoryState) error {
		for _, tx := range st.transactions {
			if filter.CustomerID != "" && tx.CustomerID != filter.CustomerID {
				continue
			}
			if filter.PaymentID != nil && tx.PaymentID != *filter.PaymentID {
				continue
			}
			if filter.Status != "" && tx.Status != filter.Status {
				continue
			}
			out = append(out, tx.Clone())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

type memoryIdempotency struct{ *memoryRepo }

func (r *memoryIdempotency) Get(_ context.Context, key string) (*models.IdempotencyRecord, error) {
	var out *models.IdempotencyRecord
	err := r.with(func(st *memoryState) error {
		rec, ok := st.idempotency[key]
		if !ok {
			return ErrNotFound
		}
		out = cloneRecord(rec)
		return nil
	})
	return out, err
}

func (r *memoryIdempotency) Save(_ context.Context, rec *models.IdempotencyRecord) (bool, error) {
	saved := false
	err := r.with(func(st *memoryState) error {
		if existing, ok := st.idempotency[rec.Key]; ok && !existing.Expired(rec.CreatedAt) {
			return nil
		}
		st.idempotency[rec.Key] = cloneRecord(rec)
		saved = true
		return nil
	})
	return saved, err
}

func (r *memoryIdempotency) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	var n int64
	err := r.with(func(st *memoryState) error {
		for key, rec := range st.idempotency {
			if rec.Expired(before) {
				delete(st.idempotency, key)
				n++
			}
		}
		return nil
	})
	return n, err
}

type memoryWebhooks struct{ *memoryRepo }

func (r *memoryWebhooks) Create(_ context.Context, event *models.WebhookEvent) error {
	return r.with(func(st *memoryState) error {
		st.webhooks[event.ID] = event.Clone()
		return nil
	})
}

func (r *memoryWebhooks) Get(_ context.Context, id uuid.UUID) (*models.WebhookEvent, error) {
	var out *models.WebhookEvent
	err := r.with(func(st *memoryState) error {
		event, ok := st.webhooks[id]
		if !ok {
			return ErrNotFound
		}
		out = event.Clone()
		return nil
	})
	return out, err
}

// GetForUpdate needs no row lock: WithinTx already holds the store lock.
func (r *memoryWebhooks) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error) {
	return r.Get(ctx, id)
}

func (r *memoryWebhooks) MarkProcessed(_ context.Context, id uuid.UUID, errMsg string, at time.Time) error {
	return r.with(func(st *memoryState) error {
		event, ok := st.webhooks[id]
		if !ok {
			return ErrNotFound
		}
		event.Processed = true
		event.ErrorMessage = errMsg
		event.ProcessedAt = &at
		return nil
	})
}

func (r *memoryWebhooks) ListUnprocessed(_ context.Context, limit int) ([]*models.WebhookEvent, error) {
	var out []*models.WebhookEvent
	err := r.with(func(st *memoryState) error {
		for _, event := range st.webhooks {
			if !event.Processed {
				out = append(out, event.Clone())
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func clonePayment(p *models.Payment) *models.Payment {
	c := *p
	if p.BillingAddress != nil {
		addr := *p.BillingAddress
		c.BillingAddress = &addr
	}
	c.Transactions = nil
	return &c
}

func cloneRecord(rec *models.IdempotencyRecord) *models.IdempotencyRecord {
	c := *rec
	c.ResponseBody = append([]byte(nil), rec.ResponseBody...)
	return &c
}
