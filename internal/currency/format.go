package currency

import (
	"strings"

	"cryptoscope/internal/model"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// DefaultDisplayDecimals is the number of significant fractional digits shown
// by Format.
const DefaultDisplayDecimals = 8

// Format renders amount for display. It keeps maxDecimals significant digits
// after the leading fractional zeros, capped by the currency's precision.
// Fiat currencies without a configured precision use their ISO 4217 minor
// units.
// Crypto amounts drop trailing zeros; negative amounts are parenthesised.
func Format(c model.Currency, amount decimal.Decimal, maxDecimals int) string {
	negative := amount.IsNegative()
	amount = amount.Abs()

	precision := int32(leadingFractionZeros(amount) + maxDecimals)
	if limit, ok := displayPrecision(c); ok && limit < precision {
		precision = limit
	}
	fixed := amount.StringFixed(precision)

	intPart, fracPart, _ := strings.Cut(fixed, ".")
	number := groupThousands(intPart)
	if fracPart != "" {
		number += "." + fracPart
	}
	if !c.Fiat && strings.Contains(number, ".") {
		number = strings.TrimRight(strings.TrimRight(number, "0"), ".")
	}

	if c.Prefix != "" {
		number = c.Prefix + number
	} else {
		number = c.ShortName() + " " + number
	}
	if negative {
		return "(" + number + ")"
	}
	return number
}

func displayPrecision(c model.Currency) (int32, bool) {
	if c.Precision != nil {
		return *c.Precision, true
	}
	if !c.Fiat {
		return 0, false
	}
	iso := money.GetCurrency(c.Ticker)
	if iso == nil {
		return 0, false
	}
	return int32(iso.Fraction), true
}

func leadingFractionZeros(d decimal.Decimal) int {
	frac := d.Sub(d.Truncate(0))
	if frac.IsZero() {
		return 0
	}
	_, digits, _ := strings.Cut(frac.String(), ".")
	return len(digits) - len(strings.TrimLeft(digits, "0"))
}

func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	head := len(digits) % 3
	if head > 0 {
		b.WriteString(digits[:head])
	}
	for i := head; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
