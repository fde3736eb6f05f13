package currency

import (
	"testing"

	"cryptoscope/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFormat(t *testing.T) {
	two := int32(2)
	aud := model.Currency{Ticker: "AUD", Fiat: true, Prefix: "$", Precision: &two}
	btc := model.Currency{Ticker: "BTC"}
	jpy := model.Currency{Ticker: "JPY", Fiat: true}
	eur := model.Currency{Ticker: "EUR", Fiat: true, Prefix: "€"}

	tests := []struct {
		name     string
		currency model.Currency
		amount   string
		want     string
	}{
		{"fiat keeps trailing zeros", aud, "1234.5", "$1,234.50"},
		{"fiat rounds half up", aud, "0.125", "$0.13"},
		{"fiat negative", aud, "-12", "($12.00)"},
		{"crypto strips zeros", btc, "10", "BTC 10"},
		{"crypto small amount", btc, "0.00012", "BTC 0.00012"},
		{"crypto significant digits after zeros", btc, "0.000123456789123", "BTC 0.00012345679"},
		{"crypto grouping", btc, "1234567.25", "BTC 1,234,567.25"},
		{"fiat minor units without precision", jpy, "1234.4", "JPY 1,234"},
		{"fiat cents without precision", eur, "3.5", "€3.50"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Format(tt.currency, decimal.RequireFromString(tt.amount), DefaultDisplayDecimals))
		})
	}
}
