package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

const DefaultCurrency = "USD"

var zeroDecimalCurrencies = map[string]bool{
	"JPY": true,
	"KRW": true,
	"VND": true,
	"CLP": true,
	"ISK": true,
}

// CurrencyScale is the number of minor-unit digits for a currency code.
func CurrencyScale(currency string) int32 {
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		return 0
	}
	return 2
}

// FitsCurrency reports whether the amount needs no rounding at the
// currency's scale.
func FitsCurrency(amount decimal.Decimal, currency string) bool {
	return amount.Equal(amount.Round(CurrencyScale(currency)))
}

// FormatAmount renders the amount with exactly the currency's scale.
func FormatAmount(amount decimal.Decimal, currency string) string {
	return amount.StringFixed(CurrencyScale(currency))
}
