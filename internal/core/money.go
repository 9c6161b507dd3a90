// Package core holds the budget domain model, the derived aggregation and
// the merge algorithm. Everything in this package is pure: no I/O, no
// clocks except where a constructor explicitly stamps one.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ParseAmountToCents converts a user-entered decimal string to cents.
//
// It accepts both dot (12.34) and comma (12,34) separators and rounds
// half-up on the third decimal. Only strictly positive amounts are valid.
func ParseAmountToCents(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return 0, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	cents := d.Mul(hundred).Round(0).IntPart()
	if cents <= 0 {
		return 0, ErrInvalidAmount
	}
	return cents, nil
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Add returns m + o.
func (m Money) Add(o Money) Money {
	return Money{Cents: m.Cents + o.Cents}
}

// Sub returns m - o.
func (m Money) Sub(o Money) Money {
	return Money{Cents: m.Cents - o.Cents}
}

// Euros returns the euro value as a float64 for display purposes only.
// Calculations stay in cents.
func (m Money) Euros() float64 {
	return float64(m.Cents) / 100.0
}
