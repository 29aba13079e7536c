// Package money is the single conversion point between the NUMERIC(12,2)
// storage representation, decimal.Decimal values carried by the domain, and
// the float64 domain used by commission arithmetic.
package money

import (
	"strings"

	"github.com/shopspring/decimal"

	"agencyflow/apperror"
)

// Scale is the number of fractional digits stored for every amount.
const Scale = 2

var (
	ErrInvalidAmount   = apperror.Validation("amount_invalid", "money: amount is not a valid number")
	ErrTooManyDecimals = apperror.Validation("amount_precision", "money: amount has more than two decimal places")
)

// Float converts a stored amount to the float64 domain of the commission
// calculator. It is the only such conversion.
func Float(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// FromFloat rounds a computed value back to a storable amount.
func FromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f).Round(Scale)
}

// Parse reads a wire amount. Values with more precision than the storage
// scale are rejected rather than rounded.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if !d.Equal(d.Round(Scale)) {
		return decimal.Zero, ErrTooManyDecimals
	}
	return d, nil
}

// String renders d with exactly two fractional digits.
func String(d decimal.Decimal) string {
	return d.StringFixed(Scale)
}

// NullString renders a nullable amount, returning nil when unset.
func NullString(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := String(d.Decimal)
	return &s
}

var ErrInvalidCurrency = apperror.Validation("currency_invalid", "money: currency must be a three-letter code")

// NormalizeCurrency upper-cases and validates an ISO 4217 style code. No
// conversion between currencies is ever performed.
func NormalizeCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 3 {
		return "", ErrInvalidCurrency
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return "", ErrInvalidCurrency
		}
	}
	return code, nil
}
