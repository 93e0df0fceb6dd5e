// Package core defines the ledger's domain records and money handling.
//
// This file contains functions for parsing monetary amounts from strings
// and converting between cents and unit representations.
package core

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// ParseSignedDecimalToCents converts a signed decimal string to cents with
// half-up rounding on the third decimal place. It accepts both dot (12.34)
// and comma (12,34) separators. Negative values are expenses, positive
// values income; zero is rejected because a zero-amount ledger line has no
// balance impact.
//
// Examples:
//
//	ParseSignedDecimalToCents("-12.34") -> -1234, nil
//	ParseSignedDecimalToCents("12,34")  -> 1234, nil
//	ParseSignedDecimalToCents("12.346") -> 1235, nil (rounds up)
func ParseSignedDecimalToCents(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")

	negative := false
	switch {
	case strings.HasPrefix(s, "-"):
		negative = true
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return 0, ErrInvalidAmount
	}
	intPart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}
	if intPart == "" {
		intPart = "0"
	}
	for _, r := range intPart {
		if !unicode.IsDigit(r) {
			return 0, ErrInvalidAmount
		}
	}
	for _, r := range fracPart {
		if !unicode.IsDigit(r) {
			return 0, ErrInvalidAmount
		}
	}

	iv, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	// Prevent overflow when multiplying by 100
	const maxSafeInt64 = (1<<63 - 1) / 100
	if iv > maxSafeInt64 {
		return 0, ErrInvalidAmount
	}

	// Take the first two fractional digits, then half-up rounding on the third
	var fracCents int64
	if len(fracPart) > 0 {
		d1 := int64(fracPart[0] - '0')
		fracCents = d1 * 10
		if len(fracPart) > 1 {
			d2 := int64(fracPart[1] - '0')
			fracCents += d2
			if len(fracPart) > 2 && fracPart[2] >= '5' {
				fracCents++
			}
		}
	}

	cents := iv*100 + fracCents
	if cents == 0 {
		return 0, ErrInvalidAmount
	}
	if negative {
		cents = -cents
	}
	return cents, nil
}

// Units returns the amount in whole currency units as a float64 for display.
// Use cents for calculations to avoid floating-point precision issues.
func (m Money) Units() float64 {
	return float64(m.Cents) / 100.0
}

// String formats the amount as a signed decimal with two fraction digits.
func (m Money) String() string {
	cents := m.Cents
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// IsExpense reports whether the amount reduces the balance.
func (m Money) IsExpense() bool { return m.Cents < 0 }
