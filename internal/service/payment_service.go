package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/payment-service/internal/apperrors"
	"github.com/akylbek/payment-system/payment-service/internal/gateway"
	"github.com/akylbek/payment-system/payment-service/internal/interfaces"
	"github.com/akylbek/payment-system/payment-service/internal/models"
	"github.com/akylbek/payment-system/payment-service/internal/repository"
	"github.com/akylbek/payment-system/payment-service/internal/telemetry"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Response is a serialized API result. Body is exactly what is stored for
// idempotent replay.
type Response struct {
	StatusCode int
	Body       []byte
}

type PaymentService struct {
	store       interfaces.Store
	gateway     interfaces.PaymentGateway
	idempotency *IdempotencyService
	publisher   interfaces.EventPublisher
	now         func() time.Time
}

func NewPaymentService(store interfaces.Store, gw interfaces.PaymentGateway, idempotency *IdempotencyService, publisher interfaces.EventPublisher) *PaymentService {
	return &PaymentService{
		store:       store,
		gateway:     gw,
		idempotency: idempotency,
		publisher:   publisher,
		now:         time.Now,
	}
}

// outcome is what a unit of work produced. declined is set when the provider
// rejected the call; the failed transaction is still committed.
type outcome struct {
	tx       *models.Transaction
	previous models.TransactionStatus
	response any
	declined *apperrors.Error
	body     []byte
	record   *models.IdempotencyRecord
}

// Purchase authorizes and captures in one call.
func (s *PaymentService) Purchase(ctx context.Context, req *models.PurchaseRequest, meta models.RequestMeta) (*Response, error) {
	return s.charge(ctx, "purchase", models.TransactionTypePurchase, models.StatusCaptured, req, meta)
}

// Authorize places a hold to be captured or voided later.
func (s *PaymentService) Authorize(ctx context.Context, req *models.PurchaseRequest, meta models.RequestMeta) (*Response, error) {
	return s.charge(ctx, "authorize", models.TransactionTypeAuthorize, models.StatusAuthorized, req, meta)
}

func (s *PaymentService) charge(ctx context.Context, op string, txType models.TransactionType, success models.TransactionStatus, req *models.PurchaseRequest, meta models.RequestMeta) (*Response, error) {
	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = models.DefaultCurrency
	}
	if err := validateAmount("amount", req.Amount, currency); err != nil {
		return nil, err
	}
	card, err := gateway.NewCard(req.CreditCard.CardNumber, req.CreditCard.ExpirationDate, req.CreditCard.CardCode)
	if err != nil {
		return nil, err
	}
	gwReq, err := gateway.NewChargeRequest(meta.RefID(), req.Amount, currency, card,
		toGatewayAddress(req.CustomerAddress),
		gateway.Customer{ID: req.CustomerID, Email: req.CustomerEmail})
	if err != nil {
		return nil, err
	}
	gwReq.InvoiceNumber = req.InvoiceNumber
	gwReq.Description = req.Description
	for _, item := range req.LineItems {
		gwReq.LineItems = append(gwReq.LineItems, gateway.LineItem(item))
	}

	logger := telemetry.LoggerFromContext(ctx)
	logger.Info("Processing "+op+" transaction",
		zap.String("customer_id", req.CustomerID),
		zap.String("amount", models.FormatAmount(req.Amount, currency)),
		zap.String("currency", currency),
	)

	return s.execute(ctx, op, meta, func(ctx context.Context, repos interfaces.Repositories) (*outcome, error) {
		now := s.now()
		address := req.CustomerAddress
		payment := models.NewPayment(req.CustomerID, &address, now)
		tx := models.NewTransaction(payment.ID, txType, req.Amount, currency, now)
		tx.CustomerID = req.CustomerID
		tx.CustomerEmail = req.CustomerEmail
		tx.CorrelationID = meta.CorrelationID
		if req.InvoiceNumber != "" {
			tx.Metadata["invoice_number"] = req.InvoiceNumber
		}

		if err := repos.Payments.CreatePayment(ctx, payment); err != nil {
			return nil, err
		}
		if err := repos.Payments.CreateTransaction(ctx, tx); err != nil {
			return nil, err
		}

		result, err := s.callGateway(ctx, op, func(ctx context.Context) (*gateway.Result, error) {
			if txType == models.TransactionTypePurchase {
				return s.gateway.Purchase(ctx, gwReq)
			}
			return s.gateway.Authorize(ctx, gwReq)
		})
		if err != nil {
			return nil, err
		}

		previous := tx.Status
		if !result.Success {
			return s.decline(ctx, repos, tx, op, result)
		}
		if err := tx.TransitionTo(success, s.now()); err != nil {
			return nil, err
		}
		tx.ProviderTransactionID = result.TransactionID
		tx.MergeMetadata(map[string]any{"provider_response_code": result.ResponseCode})
		if err := repos.Payments.UpdateTransaction(ctx, tx); err != nil {
			return nil, err
		}

		return &outcome{
			tx:       tx,
			previous: previous,
			response: transactionResponse(tx, tx.Amount, result.Message, meta),
		}, nil
	})
}

// Capture settles an authorized transaction, optionally for less than the
// authorized amount.
func (s *PaymentService) Capture(ctx context.Context, id uuid.UUID, req *models.CaptureRequest, meta models.RequestMeta) (*Response, error) {
	return s.execute(ctx, "capture", meta, func(ctx context.Context, repos interfaces.Repositories) (*outcome, error) {
		tx, err := s.loadForUpdate(ctx, repos, id)
		if err != nil {
			return nil, err
		}
		if tx.Status != models.StatusAuthorized {
			return nil, apperrors.Validation("Transaction is not in an authorized state (status: %s)", tx.Status)
		}
		if tx.ProviderTransactionID == "" {
			return nil, apperrors.Validation("Missing provider transaction reference for capture")
		}

		amount := tx.Amount
		if req != nil && req.Amount != nil {
			amount = *req.Amount
		}
		if err := validateAmount("amount", amount, tx.Currency); err != nil {
			return nil, err
		}
		if amount.GreaterThan(tx.Amount) {
			return nil, apperrors.Validation("Capture amount cannot exceed authorized amount")
		}

		gwReq, err := gateway.NewCaptureRequest(meta.RefID(), tx.ProviderTransactionID, amount)
		if err != nil {
			return nil, err
		}
		result, err := s.callGateway(ctx, "capture", func(ctx context.Context) (*gateway.Result, error) {
			return s.gateway.Capture(ctx, gwReq)
		})
		if err != nil {
			return nil, err
		}

		previous := tx.Status
		if !result.Success {
			return s.decline(ctx, repos, tx, "capture", result)
		}
		if err := tx.TransitionTo(models.StatusCaptured, s.now()); err != nil {
			return nil, err
		}
		tx.MergeMetadata(map[string]any{
			"auth_transaction_id": tx.ProviderTransactionID,
			"authorized_amount":   models.FormatAmount(tx.Amount, tx.Currency),
		})
		tx.Amount = amount
		if result.TransactionID != "" {
			tx.ProviderTransactionID = result.TransactionID
		}
		if err := repos.Payments.UpdateTransaction(ctx, tx); err != nil {
			return nil, err
		}

		return &outcome{
			tx:       tx,
			previous: previous,
			response: transactionResponse(tx, amount, result.Message, meta),
		}, nil
	})
}

// Void cancels a transaction that has not been captured.
func (s *PaymentService) Void(ctx context.Context, id uuid.UUID, meta models.RequestMeta) (*Response, error) {
	return s.execute(ctx, "void", meta, func(ctx context.Context, repos interfaces.Repositories) (*outcome, error) {
		tx, err := s.loadForUpdate(ctx, repos, id)
		if err != nil {
			return nil, err
		}
		if tx.Status != models.StatusAuthorized && tx.Status != models.StatusPending {
			return nil, apperrors.Validation("Transaction is not voidable (status: %s)", tx.Status)
		}
		if tx.ProviderTransactionID == "" {
			return nil, apperrors.Validation("Missing provider transaction reference for void")
		}

		gwReq, err := gateway.NewVoidRequest(meta.RefID(), tx.ProviderTransactionID)
		if err != nil {
			return nil, err
		}
		result, err := s.callGateway(ctx, "void", func(ctx context.Context) (*gateway.Result, error) {
			return s.gateway.Void(ctx, gwReq)
		})
		if err != nil {
			return nil, err
		}

		previous := tx.Status
		if !result.Success {
			return s.decline(ctx, repos, tx, "void", result)
		}
		if err := tx.TransitionTo(models.StatusVoided, s.now()); err != nil {
			return nil, err
		}
		tx.MergeMetadata(map[string]any{"voided_auth_transaction_id": tx.ProviderTransactionID})
		if result.TransactionID != "" {
			tx.ProviderTransactionID = result.TransactionID
		}
		if err := repos.Payments.UpdateTransaction(ctx, tx); err != nil {
			return nil, err
		}

		return &outcome{
			tx:       tx,
			previous: previous,
			response: transactionResponse(tx, tx.Amount, result.Message, meta),
		}, nil
	})
}

// Refund returns captured funds. A partial refund still moves the
// transaction to refunded; the refunded amount is kept in metadata.
func (s *PaymentService) Refund(ctx context.Context, id uuid.UUID, req *models.RefundRequest, meta models.RequestMeta) (*Response, error) {
	return s.execute(ctx, "refund", meta, func(ctx context.Context, repos interfaces.Repositories) (*outcome, error) {
		tx, err := s.loadForUpdate(ctx, repos, id)
		if err != nil {
			return nil, err
		}
		if tx.Status != models.StatusCaptured {
			return nil, apperrors.Validation("Transaction is not in a captured state (status: %s)", tx.Status)
		}
		if tx.ProviderTransactionID == "" {
			return nil, apperrors.Validation("Missing provider transaction reference for refund")
		}

		amount := tx.Amount
		if req.Amount != nil {
			amount = *req.Amount
		}
		if err := validateAmount("amount", amount, tx.Currency); err != nil {
			return nil, err
		}
		if amount.GreaterThan(tx.Amount) {
			return nil, apperrors.Validation("Refund amount cannot exceed captured amount")
		}

		gwReq, err := gateway.NewRefundRequest(meta.RefID(), tx.ProviderTransactionID, amount, req.CardNumberLast4)
		if err != nil {
			return nil, err
		}
		result, err := s.callGateway(ctx, "refund", func(ctx context.Context) (*gateway.Result, error) {
			return s.gateway.Refund(ctx, gwReq)
		})
		if err != nil {
			return nil, err
		}

		previous := tx.Status
		if !result.Success {
			return s.decline(ctx, repos, tx, "refund", result)
		}
		if err := tx.TransitionTo(models.StatusRefunded, s.now()); err != nil {
			return nil, err
		}
		tx.MergeMetadata(map[string]any{
			"refunded_transaction_id": tx.ProviderTransactionID,
			"refund_amount":           models.FormatAmount(amount, tx.Currency),
		})
		if result.TransactionID != "" {
			tx.ProviderTransactionID = result.TransactionID
		}
		if err := repos.Payments.UpdateTransaction(ctx, tx); err != nil {
			return nil, err
		}

		return &outcome{
			tx:       tx,
			previous: previous,
			response: transactionResponse(tx, amount, result.Message, meta),
		}, nil
	})
}

// CreateSubscription sets up provider-side recurring billing. Subscriptions
// are not stored locally.
func (s *PaymentService) CreateSubscription(ctx context.Context, req *models.SubscriptionRequest, meta models.RequestMeta) (*Response, error) {
	if err := validateAmount("amount", req.Amount, models.DefaultCurrency); err != nil {
		return nil, err
	}
	card, err := gateway.NewCard(req.CreditCard.CardNumber, req.CreditCard.ExpirationDate, req.CreditCard.CardCode)
	if err != nil {
		return nil, err
	}
	start, err := time.Parse("2006-01-02", req.Schedule.StartDate)
	if err != nil {
		return nil, apperrors.Validation("start_date must be YYYY-MM-DD")
	}
	gwReq, err := gateway.NewSubscriptionRequest(meta.RefID(), req.Name, req.Amount, card,
		toGatewayAddress(req.CustomerAddress),
		gateway.Schedule{
			IntervalLength:   req.Schedule.IntervalLength,
			IntervalUnit:     gateway.IntervalUnit(strings.ToLower(req.Schedule.IntervalUnit)),
			StartDate:        start,
			TotalOccurrences: req.Schedule.TotalOccurrences,
			TrialOccurrences: req.Schedule.TrialOccurrences,
			TrialAmount:      req.Schedule.TrialAmount,
		})
	if err != nil {
		return nil, err
	}

	ctx, span := telemetry.StartSpan(ctx, "gateway.subscription")
	result, err := s.gateway.CreateSubscription(ctx, gwReq)
	telemetry.EndSpan(span, err)
	if err != nil {
		telemetry.TransactionsTotal.WithLabelValues("subscription", "error").Inc()
		return nil, apperrors.Connectivity(err)
	}

	logger := telemetry.LoggerFromContext(ctx)
	if !result.Success {
		logger.Error("Subscription creation failed",
			zap.String("error_code", result.ErrorCode),
			zap.String("error_text", result.ErrorText),
		)
		telemetry.TransactionsTotal.WithLabelValues("subscription", "failed").Inc()
		text := result.ErrorText
		if text == "" {
			text = "Subscription creation failed"
		}
		return nil, apperrors.GatewayFailure(text, result.ErrorCode)
	}

	body, err := json.Marshal(models.SubscriptionResponse{
		SubscriptionID: result.SubscriptionID,
		Status:         "active",
		MessageCode:    result.MessageCode,
		MessageText:    result.MessageText,
		CorrelationID:  meta.CorrelationID,
	})
	if err != nil {
		return nil, apperrors.Internal("encode response", err)
	}

	var rec *models.IdempotencyRecord
	err = s.store.WithinTx(ctx, func(ctx context.Context, repos interfaces.Repositories) error {
		var err error
		rec, err = s.idempotency.Record(ctx, repos.Idempotency, meta, http.StatusOK, body)
		return err
	})
	if err != nil {
		// The subscription exists at the provider; only the replay record is lost.
		logger.Error("Failed to store idempotency record for subscription",
			zap.String("subscription_id", result.SubscriptionID), zap.Error(err))
	}
	s.idempotency.Cache(ctx, rec)

	logger.Info("Subscription created", zap.String("subscription_id", result.SubscriptionID))
	telemetry.TransactionsTotal.WithLabelValues("subscription", "active").Inc()
	return &Response{StatusCode: http.StatusOK, Body: body}, nil
}

func (s *PaymentService) GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	tx, err := s.store.Repositories().Payments.GetTransaction(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("Transaction %s not found", id)
	}
	if err != nil {
		return nil, apperrors.Internal("load transaction", err)
	}
	return tx, nil
}

func (s *PaymentService) ListTransactions(ctx context.Context, filter models.TransactionFilter) ([]*models.Transaction, error) {
	if filter.Status != "" {
		if _, ok := models.ParseTransactionStatus(string(filter.Status)); !ok {
			return nil, apperrors.Validation("unknown status %q", filter.Status)
		}
	}
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultListLimit
	case filter.Limit > maxListLimit:
		filter.Limit = maxListLimit
	}
	txs, err := s.store.Repositories().Payments.ListTransactions(ctx, filter)
	if err != nil {
		return nil, apperrors.Internal("list transactions", err)
	}
	return txs, nil
}

func (s *PaymentService) GetPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	payment, err := s.store.Repositories().Payments.GetPayment(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("Payment %s not found", id)
	}
	if err != nil {
		return nil, apperrors.Internal("load payment", err)
	}
	return payment, nil
}

// execute runs fn as one unit of work. On success the response and its
// idempotency record are committed together; afterwards the record is cached
// and a state change event is published.
func (s *PaymentService) execute(ctx context.Context, op string, meta models.RequestMeta, fn func(ctx context.Context, repos interfaces.Repositories) (*outcome, error)) (*Response, error) {
	logger := telemetry.LoggerFromContext(ctx)

	var out *outcome
	err := s.store.WithinTx(ctx, func(ctx context.Context, repos interfaces.Repositories) error {
		o, err := fn(ctx, repos)
		if err != nil {
			return err
		}
		if o.declined == nil {
			o.body, err = json.Marshal(o.response)
			if err != nil {
				return apperrors.Internal("encode response", err)
			}
			o.record, err = s.idempotency.Record(ctx, repos.Idempotency, meta, http.StatusOK, o.body)
			if err != nil {
				return err
			}
		}
		out = o
		return nil
	})
	if err != nil {
		err = classify(err)
		if apperrors.KindOf(err) == apperrors.KindInternal || apperrors.KindOf(err) == apperrors.KindConnectivity {
			logger.Error("Error processing "+op, zap.Error(err))
		} else {
			logger.Warn("Rejected "+op, zap.Error(err))
		}
		telemetry.TransactionsTotal.WithLabelValues(op, string(apperrors.KindOf(err))).Inc()
		return nil, err
	}

	s.idempotency.Cache(ctx, out.record)
	s.publish(ctx, out.tx, out.previous, "api")
	telemetry.TransactionsTotal.WithLabelValues(op, string(out.tx.Status)).Inc()

	if out.declined != nil {
		return nil, out.declined
	}
	logger.Info(op+" successful",
		zap.String("transaction_id", out.tx.ID.String()),
		zap.String("provider_transaction_id", out.tx.ProviderTransactionID),
		zap.String("status", string(out.tx.Status)),
	)
	return &Response{StatusCode: http.StatusOK, Body: out.body}, nil
}

// decline persists the provider's rejection. The unit of work still commits.
func (s *PaymentService) decline(ctx context.Context, repos interfaces.Repositories, tx *models.Transaction, op string, result *gateway.Result) (*outcome, error) {
	previous := tx.Status
	reason := result.FailureText()
	if err := tx.Fail(reason, s.now()); err != nil {
		return nil, err
	}
	if err := repos.Payments.UpdateTransaction(ctx, tx); err != nil {
		return nil, err
	}

	telemetry.LoggerFromContext(ctx).Error(op+" declined",
		zap.String("transaction_id", tx.ID.String()),
		zap.String("error_code", result.ErrorCode),
		zap.String("error_text", reason),
	)
	return &outcome{
		tx:       tx,
		previous: previous,
		declined: apperrors.GatewayFailure(reason, result.ErrorCode).With("transaction_id", tx.ID.String()),
	}, nil
}

func (s *PaymentService) callGateway(ctx context.Context, op string, call func(ctx context.Context) (*gateway.Result, error)) (*gateway.Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "gateway."+op, attribute.String("gateway.operation", op))
	result, err := call(ctx)
	telemetry.EndSpan(span, err)
	if err != nil {
		return nil, apperrors.Connectivity(err)
	}
	return result, nil
}

func (s *PaymentService) loadForUpdate(ctx context.Context, repos interfaces.Repositories, id uuid.UUID) (*models.Transaction, error) {
	tx, err := repos.Payments.GetTransactionForUpdate(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("Transaction %s not found", id)
	}
	return tx, err
}

func (s *PaymentService) publish(ctx context.Context, tx *models.Transaction, previous models.TransactionStatus, source string) {
	if s.publisher == nil || tx == nil || tx.Status == previous {
		return
	}
	publishStateChange(ctx, s.publisher, tx, previous, source, s.now())
}

func publishStateChange(ctx context.Context, publisher interfaces.EventPublisher, tx *models.Transaction, previous models.TransactionStatus, source string, now time.Time) {
	event := models.TransactionStateChanged{
		TransactionID: tx.ID.String(),
		PaymentID:     tx.PaymentID.String(),
		State:         string(tx.Status),
		PreviousState: string(previous),
		Source:        source,
		ProviderID:    tx.ProviderTransactionID,
		Amount:        models.FormatAmount(tx.Amount, tx.Currency),
		Currency:      tx.Currency,
		CorrelationID: telemetry.CorrelationID(ctx),
		Timestamp:     now,
	}
	if err := publisher.Publish(ctx, event); err != nil {
		telemetry.LoggerFromContext(ctx).Error("Failed to publish transaction state change",
			zap.String("transaction_id", event.TransactionID),
			zap.String("state", event.State),
			zap.Error(err),
		)
	}
}

func transactionResponse(tx *models.Transaction, amount decimal.Decimal, message string, meta models.RequestMeta) *models.TransactionResponse {
	return &models.TransactionResponse{
		TransactionID:         tx.ID.String(),
		Status:                string(tx.Status),
		Amount:                models.FormatAmount(amount, tx.Currency),
		Currency:              tx.Currency,
		ProviderTransactionID: tx.ProviderTransactionID,
		Message:               message,
		CorrelationID:         meta.CorrelationID,
	}
}

func validateAmount(field string, amount decimal.Decimal, currency string) error {
	if !amount.IsPositive() {
		return apperrors.Validation("%s must be greater than zero", field)
	}
	if !models.FitsCurrency(amount, currency) {
		return apperrors.Validation("%s has more decimal places than %s allows", field, currency)
	}
	return nil
}

func toGatewayAddress(a models.CustomerAddress) gateway.Address {
	return gateway.Address(a)
}

// classify maps unclassified errors onto the error taxonomy.
func classify(err error) error {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	var connErr *gateway.ConnectionError
	if errors.As(err, &connErr) {
		return apperrors.Connectivity(err)
	}
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NotFound("record not found")
	}
	return apperrors.Internal("unexpected error", err)
}
