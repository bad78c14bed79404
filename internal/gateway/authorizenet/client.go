// Package authorizenet implements the payment gateway capability against the
// Authorize.Net JSON API.
package authorizenet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/payment-service/internal/gateway"
	"github.com/akylbek/payment-system/payment-service/internal/telemetry"
)

const (
	SandboxEndpoint    = "https://apitest.authorize.net/xml/v1/request.api"
	ProductionEndpoint = "https://api.authorize.net/xml/v1/request.api"

	maxRefIDLength = 20
	resultCodeOK   = "Ok"

	txAuthCapture      = "authCaptureTransaction"
	txAuthOnly         = "authOnlyTransaction"
	txPriorAuthCapture = "priorAuthCaptureTransaction"
	txVoid             = "voidTransaction"
	txRefund           = "refundTransaction"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

type Config struct {
	APILoginID     string
	TransactionKey string
	Environment    string
	// Endpoint overrides the URL derived from Environment.
	Endpoint string
	Timeout  time.Duration
}

type Client struct {
	http     *resty.Client
	endpoint string
	auth     merchantAuthentication
}

func New(cfg Config) (*Client, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		switch cfg.Environment {
		case "sandbox", "":
			endpoint = SandboxEndpoint
		case "production":
			endpoint = ProductionEndpoint
		default:
			return nil, fmt.Errorf("unsupported Authorize.Net environment: %s", cfg.Environment)
		}
	}
	if cfg.APILoginID == "" || cfg.TransactionKey == "" {
		return nil, fmt.Errorf("authorize.net credentials are required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		http:     httpClient,
		endpoint: endpoint,
		auth: merchantAuthentication{
			Name:           cfg.APILoginID,
			TransactionKey: cfg.TransactionKey,
		},
	}, nil
}

func (c *Client) Purchase(ctx context.Context, req *gateway.ChargeRequest) (*gateway.Result, error) {
	return c.createTransaction(ctx, "purchase", req.RefID, chargeRequest(txAuthCapture, req))
}

func (c *Client) Authorize(ctx context.Context, req *gateway.ChargeRequest) (*gateway.Result, error) {
	return c.createTransaction(ctx, "authorize", req.RefID, chargeRequest(txAuthOnly, req))
}

func (c *Client) Capture(ctx context.Context, req *gateway.CaptureRequest) (*gateway.Result, error) {
	return c.createTransaction(ctx, "capture", req.RefID, transactionRequest{
		TransactionType: txPriorAuthCapture,
		Amount:          req.Amount.StringFixed(2),
		RefTransID:      req.ProviderTransactionID,
	})
}

func (c *Client) Void(ctx context.Context, req *gateway.VoidRequest) (*gateway.Result, error) {
	return c.createTransaction(ctx, "void", req.RefID, transactionRequest{
		TransactionType: txVoid,
		RefTransID:      req.ProviderTransactionID,
	})
}

// Refund identifies the card by its last four digits; the provider expects a
// masked expiration date in that case.
func (c *Client) Refund(ctx context.Context, req *gateway.RefundRequest) (*gateway.Result, error) {
	return c.createTransaction(ctx, "refund", req.RefID, transactionRequest{
		TransactionType: txRefund,
		Amount:          req.Amount.StringFixed(2),
		Payment: &payment{CreditCard: creditCard{
			CardNumber:     req.CardLast4,
			ExpirationDate: "XXXX",
		}},
		RefTransID: req.ProviderTransactionID,
	})
}

func (c *Client) CreateSubscription(ctx context.Context, req *gateway.SubscriptionRequest) (*gateway.SubscriptionResult, error) {
	envelope := arbCreateSubscriptionEnvelope{Request: arbCreateSubscriptionRequest{
		MerchantAuthentication: c.auth,
		RefID:                  sanitizeRefID(req.RefID),
		Subscription: arbSubscription{
			Name: req.Name,
			PaymentSchedule: paymentSchedule{
				Interval: scheduleInterval{
					Length: req.Schedule.IntervalLength,
					Unit:   string(req.Schedule.IntervalUnit),
				},
				StartDate:        req.Schedule.StartDate.Format("2006-01-02"),
				TotalOccurrences: req.Schedule.TotalOccurrences,
				TrialOccurrences: req.Schedule.TrialOccurrences,
			},
			Amount:  req.Amount.StringFixed(2),
			Payment: cardPayment(req.Card),
			BillTo:  address(req.BillTo),
		},
	}}
	if req.Schedule.TrialOccurrences > 0 {
		envelope.Request.Subscription.TrialAmount = req.Schedule.TrialAmount.StringFixed(2)
	}

	var resp arbCreateSubscriptionResponse
	if err := c.post(ctx, "subscription", envelope, &resp); err != nil {
		return nil, err
	}

	result := &gateway.SubscriptionResult{}
	var msg message
	if len(resp.Messages.Message) > 0 {
		msg = resp.Messages.Message[0]
	}
	if resp.Messages.ResultCode == resultCodeOK {
		result.Success = true
		result.SubscriptionID = resp.SubscriptionID
		result.MessageCode = msg.Code
		result.MessageText = msg.Text
		return result, nil
	}
	result.ErrorCode = msg.Code
	result.ErrorText = msg.Text
	return result, nil
}

func (c *Client) createTransaction(ctx context.Context, op, refID string, txReq transactionRequest) (*gateway.Result, error) {
	envelope := createTransactionEnvelope{Request: createTransactionRequest{
		MerchantAuthentication: c.auth,
		RefID:                  sanitizeRefID(refID),
		TransactionRequest:     txReq,
	}}

	var resp createTransactionResponse
	if err := c.post(ctx, op, envelope, &resp); err != nil {
		return nil, err
	}
	return parseTransactionResponse(&resp), nil
}

func (c *Client) post(ctx context.Context, op string, body, out any) error {
	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		Post(c.endpoint)
	outcome := "ok"
	defer func() {
		telemetry.GatewayRequestDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
	}()

	if err != nil {
		outcome = "connection_error"
		telemetry.LoggerFromContext(ctx).Error("Authorize.Net request failed",
			zap.String("operation", op),
			zap.Error(err),
		)
		return &gateway.ConnectionError{Op: op, Err: err}
	}
	if resp.IsError() {
		outcome = "http_error"
		return &gateway.ConnectionError{Op: op, Err: fmt.Errorf("unexpected status %s", resp.Status())}
	}

	// Responses are prefixed with a UTF-8 byte order mark.
	raw := bytes.TrimPrefix(resp.Body(), utf8BOM)
	if err := json.Unmarshal(raw, out); err != nil {
		outcome = "decode_error"
		return &gateway.ConnectionError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func parseTransactionResponse(resp *createTransactionResponse) *gateway.Result {
	tr := resp.TransactionResponse
	if resp.Messages.ResultCode == resultCodeOK && tr != nil {
		if len(tr.Messages) > 0 {
			return &gateway.Result{
				Success:       true,
				TransactionID: tr.TransID,
				ResponseCode:  tr.ResponseCode,
				MessageCode:   tr.Messages[0].Code,
				Message:       tr.Messages[0].Description,
			}
		}
	}

	result := &gateway.Result{}
	if tr != nil {
		result.TransactionID = tr.TransID
		result.ResponseCode = tr.ResponseCode
		if len(tr.Errors) > 0 {
			result.ErrorCode = tr.Errors[0].ErrorCode
			result.ErrorText = tr.Errors[0].ErrorText
			return result
		}
	}
	if len(resp.Messages.Message) > 0 {
		result.ErrorCode = resp.Messages.Message[0].Code
		result.ErrorText = resp.Messages.Message[0].Text
	}
	return result
}

func chargeRequest(txType string, req *gateway.ChargeRequest) transactionRequest {
	pay := cardPayment(req.Card)
	billTo := address(req.BillTo)
	tr := transactionRequest{
		TransactionType: txType,
		Amount:          req.Amount.StringFixed(2),
		Payment:         &pay,
		Customer: &customerData{
			Type:  "individual",
			ID:    req.Customer.ID,
			Email: req.Customer.Email,
		},
		BillTo: &billTo,
	}
	if req.InvoiceNumber != "" || req.Description != "" {
		tr.Order = &order{InvoiceNumber: req.InvoiceNumber, Description: req.Description}
	}
	if len(req.LineItems) > 0 {
		items := make([]lineItem, 0, len(req.LineItems))
		for _, item := range req.LineItems {
			items = append(items, lineItem{
				ItemID:      item.ItemID,
				Name:        item.Name,
				Description: item.Description,
				Quantity:    item.Quantity,
				UnitPrice:   item.UnitPrice,
			})
		}
		tr.LineItems = &lineItems{LineItem: items}
	}
	if req.DuplicateWindow > 0 {
		tr.TransactionSettings = &transactionSettings{Setting: []setting{{
			SettingName:  "duplicateWindow",
			SettingValue: strconv.Itoa(req.DuplicateWindow),
		}}}
	}
	return tr
}

func cardPayment(card gateway.Card) payment {
	return payment{CreditCard: creditCard{
		CardNumber:     card.Number,
		ExpirationDate: card.Expiration,
		CardCode:       card.Code,
	}}
}

func address(a gateway.Address) nameAndAddress {
	return nameAndAddress{
		FirstName: a.FirstName,
		LastName:  a.LastName,
		Company:   a.Company,
		Address:   a.Address,
		City:      a.City,
		State:     a.State,
		Zip:       a.Zip,
		Country:   a.Country,
	}
}

func sanitizeRefID(refID string) string {
	if len(refID) > maxRefIDLength {
		telemetry.Logger.Warn("Truncating refId to provider length limit",
			zap.String("ref_id", refID),
			zap.Int("max_length", maxRefIDLength),
		)
		return refID[:maxRefIDLength]
	}
	return refID
}
