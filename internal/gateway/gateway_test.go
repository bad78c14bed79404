package gateway

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/akylbek/payment-system/payment-service/internal/apperrors"
)

func TestNewCard(t *testing.T) {
	tests := []struct {
		name       string
		number     string
		expiration string
		code       string
		wantNumber string
		wantExp    string
		wantErr    bool
	}{
		{"iso expiry", "4111 1111-1111 1111", "2035-12", "123", "4111111111111111", "12/35", false},
		{"slash expiry", "4111111111111111", "07/30", "", "4111111111111111", "07/30", false},
		{"short number", "4111", "2035-12", "", "", "", true},
		{"letters", "4111abcd11111111", "2035-12", "", "", "", true},
		{"bad expiry", "4111111111111111", "12-2035", "", "", "", true},
		{"bad month", "4111111111111111", "2035-13", "", "", "", true},
		{"bad code", "4111111111111111", "2035-12", "12", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			card, err := NewCard(tt.number, tt.expiration, tt.code)
			if tt.wantErr {
				if !apperrors.Is(err, apperrors.KindValidation) {
					t.Fatalf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if card.Number != tt.wantNumber || card.Expiration != tt.wantExp {
				t.Errorf("got %s %s, want %s %s", card.Number, card.Expiration, tt.wantNumber, tt.wantExp)
			}
		})
	}
}

func TestNewRefundRequestRequiresLast4(t *testing.T) {
	amount := decimal.RequireFromString("2.50")
	for _, last4 := range []string{"", "123", "12345", "12a4"} {
		if _, err := NewRefundRequest("ref", "60012345", amount, last4); err == nil {
			t.Errorf("last4 %q: expected error", last4)
		}
	}
	req, err := NewRefundRequest("ref", "60012345", amount, "1111")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.CardLast4 != "1111" {
		t.Errorf("CardLast4 = %s", req.CardLast4)
	}
}

func TestProviderReferenceRequired(t *testing.T) {
	if _, err := NewCaptureRequest("ref", "", decimal.NewFromInt(1)); err == nil {
		t.Error("capture: expected error")
	}
	if _, err := NewVoidRequest("ref", ""); err == nil {
		t.Error("void: expected error")
	}
}

func TestChargeRequestRejectsNonPositiveAmount(t *testing.T) {
	card, _ := NewCard("4111111111111111", "2035-12", "")
	for _, amount := range []string{"0", "-1.00"} {
		_, err := NewChargeRequest("ref", decimal.RequireFromString(amount), "USD", card, Address{}, Customer{ID: "c1"})
		if err == nil {
			t.Errorf("amount %s: expected error", amount)
		}
	}
	req, err := NewChargeRequest("ref", decimal.RequireFromString("2.50"), "USD", card, Address{}, Customer{ID: "c1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.DuplicateWindow != DefaultDuplicateWindow {
		t.Errorf("DuplicateWindow = %d", req.DuplicateWindow)
	}
}

func TestScheduleValidate(t *testing.T) {
	start := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		s       Schedule
		wantErr bool
	}{
		{"monthly", Schedule{IntervalLength: 1, IntervalUnit: IntervalMonths, StartDate: start, TotalOccurrences: 12}, false},
		{"weekly", Schedule{IntervalLength: 7, IntervalUnit: IntervalDays, StartDate: start, TotalOccurrences: 4}, false},
		{"days too short", Schedule{IntervalLength: 3, IntervalUnit: IntervalDays, StartDate: start, TotalOccurrences: 4}, true},
		{"months too long", Schedule{IntervalLength: 13, IntervalUnit: IntervalMonths, StartDate: start, TotalOccurrences: 4}, true},
		{"unknown unit", Schedule{IntervalLength: 1, IntervalUnit: "weeks", StartDate: start, TotalOccurrences: 4}, true},
		{"no occurrences", Schedule{IntervalLength: 1, IntervalUnit: IntervalMonths, StartDate: start}, true},
		{"negative trial", Schedule{IntervalLength: 1, IntervalUnit: IntervalMonths, StartDate: start, TotalOccurrences: 4, TrialAmount: decimal.NewFromInt(-1)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.s.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
