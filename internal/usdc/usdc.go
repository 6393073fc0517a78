// Package usdc handles USDC amount parsing and formatting.
//
// Amounts travel through the API as decimal strings and are held
// internally as big.Int values in the smallest unit (6 decimals,
// so 1 USDC = 1,000,000 units).
package usdc

import (
	"math/big"
	"strings"
)

const Decimals = 6

// Parse converts a decimal string such as "12.50" to its smallest-unit
// representation (12500000). Returns (nil, false) on invalid input.
//
// An empty string parses as zero. Negative amounts and strings with
// more than one decimal point are rejected. Fractional digits beyond
// six are truncated.
func Parse(s string) (*big.Int, bool) {
	if s == "" {
		return big.NewInt(0), true
	}
	if strings.HasPrefix(s, "-") {
		return nil, false
	}

	whole, frac, found := strings.Cut(s, ".")
	if found && strings.Contains(frac, ".") {
		return nil, false
	}

	for len(frac) < Decimals {
		frac += "0"
	}
	frac = frac[:Decimals]

	v, ok := new(big.Int).SetString(whole+frac, 10)
	return v, ok
}

// Format renders a smallest-unit amount as a decimal string with
// exactly six decimal places ("12.500000").
func Format(amount *big.Int) string {
	if amount == nil {
		return "0.000000"
	}
	neg := amount.Sign() < 0
	s := new(big.Int).Abs(amount).String()
	for len(s) < Decimals+1 {
		s = "0" + s
	}
	cut := len(s) - Decimals
	out := s[:cut] + "." + s[cut:]
	if neg {
		out = "-" + out
	}
	return out
}

// IsZero reports whether s parses as a valid zero amount.
func IsZero(s string) bool {
	v, ok := Parse(s)
	return ok && v.Sign() == 0
}
