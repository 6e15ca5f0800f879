package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// Money stores an exact amount in the smallest currency unit together with its ISO currency code.
type Money struct {
	Amount   int64
	Currency string
}

// NewMoney validates the currency code and returns a Money value.
func NewMoney(amount int64, code string) (Money, error) {
	normalized, err := NormalizeCurrency(code)
	if err != nil {
		return Money{}, err
	}
	return Money{Amount: amount, Currency: normalized}, nil
}

// ZeroMoney returns a zero amount tagged with the supplied currency.
func ZeroMoney(code string) Money {
	return Money{Currency: strings.ToUpper(strings.TrimSpace(code))}
}

// NormalizeCurrency upper-cases the code and checks it against the ISO 4217 table.
func NormalizeCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 3 {
		return "", fmt.Errorf("%w: currency %q must be a 3-letter code", ErrValidation, code)
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", fmt.Errorf("%w: unknown currency %q", ErrValidation, code)
	}
	return unit.String(), nil
}

// Add returns m+other. Both values must share a currency.
func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency(other, "add"); err != nil {
		return Money{}, err
	}
	return Money{Amount: m.Amount + other.Amount, Currency: m.Currency}, nil
}

// Subtract returns m-other. Both values must share a currency.
func (m Money) Subtract(other Money) (Money, error) {
	if err := m.sameCurrency(other, "subtract"); err != nil {
		return Money{}, err
	}
	return Money{Amount: m.Amount - other.Amount, Currency: m.Currency}, nil
}

// Negate flips the sign of the amount.
func (m Money) Negate() Money {
	return Money{Amount: -m.Amount, Currency: m.Currency}
}

// MultiplyQuantity scales the amount by an integral quantity.
func (m Money) MultiplyQuantity(quantity int) Money {
	return Money{Amount: m.Amount * int64(quantity), Currency: m.Currency}
}

// IsNonNegative reports whether the amount is zero or positive.
func (m Money) IsNonNegative() bool {
	return m.Amount >= 0
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool {
	return m.Amount == 0
}

// String renders the amount in minor units with its currency, e.g. "1250 NZD".
func (m Money) String() string {
	return fmt.Sprintf("%d %s", m.Amount, m.Currency)
}

// Major returns the amount in major units using the currency's standard scale, e.g. 1250 NZD is 12.50
// and 1250 JPY is 1250.
func (m Money) Major() decimal.Decimal {
	scale := 2
	if unit, err := currency.ParseISO(m.Currency); err == nil {
		scale, _ = currency.Standard.Rounding(unit)
	}
	return decimal.New(m.Amount, int32(-scale))
}

// Format renders the amount in major units with its currency, e.g. "12.50 NZD".
func (m Money) Format() string {
	scale := 2
	if unit, err := currency.ParseISO(m.Currency); err == nil {
		scale, _ = currency.Standard.Rounding(unit)
	}
	return m.Major().StringFixed(int32(scale)) + " " + m.Currency
}

func (m Money) sameCurrency(other Money, op string) error {
	if m.Currency != other.Currency {
		return fmt.Errorf("%w: cannot %s %s to %s", ErrInvalidOperation, op, other.Currency, m.Currency)
	}
	return nil
}

// SumMoney adds all values, starting from a zero amount in the given currency.
func SumMoney(code string, values ...Money) (Money, error) {
	total := ZeroMoney(code)
	for _, value := range values {
		next, err := total.Add(value)
		if err != nil {
			return Money{}, err
		}
		total = next
	}
	return total, nil
}
