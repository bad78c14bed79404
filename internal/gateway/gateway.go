// Package gateway defines the provider-agnostic requests and results
// exchanged with a card-processing gateway. Requests are validated by their
// constructors so adapters never see malformed input.
package gateway

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/akylbek/payment-system/payment-service/internal/apperrors"
)

// DefaultDuplicateWindow is the provider-side duplicate detection window in
// seconds applied to charges.
const DefaultDuplicateWindow = 600

var (
	digitsOnly  = regexp.MustCompile(`^[0-9]+$`)
	isoExpiry   = regexp.MustCompile(`^([0-9]{4})-([0-9]{2})$`)
	slashExpiry = regexp.MustCompile(`^[0-9]{2}/[0-9]{2}$`)
)

type Card struct {
	Number     string
	Expiration string
	Code       string
}

// NewCard strips separators from the number and converts YYYY-MM expiry
// dates to MM/YY.
func NewCard(number, expiration, code string) (Card, error) {
	number = strings.NewReplacer(" ", "", "-", "").Replace(number)
	if len(number) < 13 || len(number) > 19 || !digitsOnly.MatchString(number) {
		return Card{}, apperrors.Validation("card_number must be 13 to 19 digits")
	}

	switch {
	case isoExpiry.MatchString(expiration):
		m := isoExpiry.FindStringSubmatch(expiration)
		expiration = m[2] + "/" + m[1][2:]
	case slashExpiry.MatchString(expiration):
	default:
		return Card{}, apperrors.Validation("expiration_date must be YYYY-MM or MM/YY")
	}
	month := expiration[:2]
	if month < "01" || month > "12" {
		return Card{}, apperrors.Validation("expiration_date has an invalid month")
	}

	if code != "" && (len(code) < 3 || len(code) > 4 || !digitsOnly.MatchString(code)) {
		return Card{}, apperrors.Validation("card_code must be 3 or 4 digits")
	}
	return Card{Number: number, Expiration: expiration, Code: code}, nil
}

// Last4 returns the last four digits of the card number.
func (c Card) Last4() string {
	if len(c.Number) < 4 {
		return c.Number
	}
	return c.Number[len(c.Number)-4:]
}

type Address struct {
	FirstName string
	LastName  string
	Company   string
	Address   string
	City      string
	State     string
	Zip       string
	Country   string
}

type Customer struct {
	ID    string
	Email string
}

type LineItem struct {
	ItemID      string
	Name        string
	Description string
	Quantity    string
	UnitPrice   string
}

// ChargeRequest is used for both purchase (auth+capture) and authorize-only.
type ChargeRequest struct {
	RefID           string
	Amount          decimal.Decimal
	Currency        string
	Card            Card
	BillTo          Address
	Customer        Customer
	InvoiceNumber   string
	Description     string
	LineItems       []LineItem
	DuplicateWindow int
}

func NewChargeRequest(refID string, amount decimal.Decimal, currency string, card Card, billTo Address, customer Customer) (*ChargeRequest, error) {
	if err := positive("amount", amount); err != nil {
		return nil, err
	}
	if customer.ID == "" {
		return nil, apperrors.Validation("customer id is required")
	}
	return &ChargeRequest{
		RefID:           refID,
		Amount:          amount,
		Currency:        currency,
		Card:            card,
		BillTo:          billTo,
		Customer:        customer,
		DuplicateWindow: DefaultDuplicateWindow,
	}, nil
}

type CaptureRequest struct {
	RefID                 string
	ProviderTransactionID string
	Amount                decimal.Decimal
}

func NewCaptureRequest(refID, providerTransactionID string, amount decimal.Decimal) (*CaptureRequest, error) {
	if providerTransactionID == "" {
		return nil, apperrors.Validation("provider transaction reference is required")
	}
	if err := positive("amount", amount); err != nil {
		return nil, err
	}
	return &CaptureRequest{RefID: refID, ProviderTransactionID: providerTransactionID, Amount: amount}, nil
}

type VoidRequest struct {
	RefID                 string
	ProviderTransactionID string
}

func NewVoidRequest(refID, providerTransactionID string) (*VoidRequest, error) {
	if providerTransactionID == "" {
		return nil, apperrors.Validation("provider transaction reference is required")
	}
	return &VoidRequest{RefID: refID, ProviderTransactionID: providerTransactionID}, nil
}

type RefundRequest struct {
	RefID                 string
	ProviderTransactionID string
	Amount                decimal.Decimal
	CardLast4             string
}

func NewRefundRequest(refID, providerTransactionID string, amount decimal.Decimal, cardLast4 string) (*RefundRequest, error) {
	if providerTransactionID == "" {
		return nil, apperrors.Validation("provider transaction reference is required")
	}
	if err := positive("amount", amount); err != nil {
		return nil, err
	}
	if len(cardLast4) != 4 || !digitsOnly.MatchString(cardLast4) {
		return nil, apperrors.Validation("card_number_last4 must be exactly 4 digits")
	}
	return &RefundRequest{
		RefID:                 refID,
		ProviderTransactionID: providerTransactionID,
		Amount:                amount,
		CardLast4:             cardLast4,
	}, nil
}

type IntervalUnit string

const (
	IntervalDays   IntervalUnit = "days"
	IntervalMonths IntervalUnit = "months"
)

type Schedule struct {
	IntervalLength   int
	IntervalUnit     IntervalUnit
	StartDate        time.Time
	TotalOccurrences int
	TrialOccurrences int
	TrialAmount      decimal.Decimal
}

// Validate applies the provider's recurring billing limits.
func (s Schedule) Validate() error {
	switch s.IntervalUnit {
	case IntervalDays:
		if s.IntervalLength < 7 || s.IntervalLength > 365 {
			return apperrors.Validation("interval_length must be between 7 and 365 days")
		}
	case IntervalMonths:
		if s.IntervalLength < 1 || s.IntervalLength > 12 {
			return apperrors.Validation("interval_length must be between 1 and 12 months")
		}
	default:
		return apperrors.Validation("interval_unit must be 'days' or 'months'")
	}
	if s.StartDate.IsZero() {
		return apperrors.Validation("start_date is required")
	}
	if s.TotalOccurrences <= 0 {
		return apperrors.Validation("total_occurrences must be positive")
	}
	if s.TrialOccurrences < 0 {
		return apperrors.Validation("trial_occurrences must not be negative")
	}
	if s.TrialAmount.IsNegative() {
		return apperrors.Validation("trial_amount must not be negative")
	}
	return nil
}

type SubscriptionRequest struct {
	RefID    string
	Name     string
	Amount   decimal.Decimal
	Card     Card
	BillTo   Address
	Schedule Schedule
}

func NewSubscriptionRequest(refID, name string, amount decimal.Decimal, card Card, billTo Address, schedule Schedule) (*SubscriptionRequest, error) {
	if name == "" || len(name) > 50 {
		return nil, apperrors.Validation("name must be 1 to 50 characters")
	}
	if err := positive("amount", amount); err != nil {
		return nil, err
	}
	if err := schedule.Validate(); err != nil {
		return nil, err
	}
	return &SubscriptionRequest{
		RefID:    refID,
		Name:     name,
		Amount:   amount,
		Card:     card,
		BillTo:   billTo,
		Schedule: schedule,
	}, nil
}

// Result is the outcome of a transaction call that reached the provider.
// Success false is a decline, not a transport failure.
type Result struct {
	Success       bool
	TransactionID string
	ResponseCode  string
	MessageCode   string
	Message       string
	ErrorCode     string
	ErrorText     string
}

// FailureText is the provider's reason for a decline.
func (r *Result) FailureText() string {
	if r.ErrorText != "" {
		return r.ErrorText
	}
	return "Transaction declined"
}

type SubscriptionResult struct {
	Success        bool
	SubscriptionID string
	MessageCode    string
	MessageText    string
	ErrorCode      string
	ErrorText      string
}

// ConnectionError reports that the provider could not be reached or returned
// something unreadable. The outcome of the call is unknown.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func positive(field string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return apperrors.Validation("%s must be greater than zero", field)
	}
	return nil
}
