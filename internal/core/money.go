// Package core provides money parsing and handling utilities.
//
// Amounts are carried as decimal.Decimal in memory and persisted as integer
// cents, so conversions live here.
package core

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrInvalidAmount = errors.New("invalid amount")

var hundred = decimal.NewFromInt(100)

// ToCents converts an amount to integer cents with half-up rounding.
func ToCents(d decimal.Decimal) int64 {
	return d.Mul(hundred).Round(0).IntPart()
}

// FromCents converts integer cents back to a decimal amount.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// ParseAmount parses a decimal string.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and keeps
// the sign, so aggregator inflows such as "-1500.00" round-trip unchanged.
//
// Examples:
//
//	ParseAmount("12.34")  -> 12.34, nil
//	ParseAmount("12,34")  -> 12.34, nil
//	ParseAmount("-1500")  -> -1500, nil
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// FormatAmount renders an amount with two decimals for presentation.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// Round2 rounds to two decimal places. Only the presentation layer calls it.
func Round2(d decimal.Decimal) float64 {
	f, _ := d.Round(2).Float64()
	return f
}
