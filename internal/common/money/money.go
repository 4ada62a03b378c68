// Package money provides integer minor-unit monetary values.
//
// All arithmetic is exact int64 arithmetic. Rates are expressed in basis
// points (1/100 of a percent) so that no floating point ever touches an
// amount that moves between parties.
package money

import (
	"encoding/json"
	"fmt"
)

// Currency represents an ISO 4217 currency code
type Currency string

const (
	USD Currency = "USD"
	EUR Currency = "EUR"
	GBP Currency = "GBP"
)

// BasisPointDenominator is the divisor for basis-point rates (10000 bps = 100%).
const BasisPointDenominator = 10000

// Money represents a monetary amount in minor units (cents, pence, etc.)
type Money struct {
	AmountMinor int64    `json:"amount_minor"`
	Currency    Currency `json:"currency"`
}

// New creates a new Money value from minor units
func New(amountMinor int64, currency Currency) Money {
	return Money{
		AmountMinor: amountMinor,
		Currency:    currency,
	}
}

// ShareFloor computes floor(amountMinor * basisPoints / 10000) for
// non-negative inputs. The caller assigns any rounding remainder, this
// function never does.
func ShareFloor(amountMinor, basisPoints int64) int64 {
	return amountMinor * basisPoints / BasisPointDenominator
}

// String returns a minor-unit representation, e.g. "12345 USD (minor)".
func (m Money) String() string {
	return fmt.Sprintf("%d %s (minor)", m.AmountMinor, m.Currency)
}

// MarshalJSON implements json.Marshaler
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		AmountMinor int64  `json:"amount_minor"`
		Currency    string `json:"currency"`
	}{
		AmountMinor: m.AmountMinor,
		Currency:    string(m.Currency),
	})
}

// UnmarshalJSON implements json.Unmarshaler
func (m *Money) UnmarshalJSON(data []byte) error {
	var v struct {
		AmountMinor int64  `json:"amount_minor"`
		Currency    string `json:"currency"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	m.AmountMinor = v.AmountMinor
	m.Currency = Currency(v.Currency)
	return nil
}
