package domain

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Decimals is the number of implied fractional digits in every amount. All
// balance arithmetic happens on 256-bit unsigned integers in this fixed-point
// domain; conversion to and from decimal strings is a boundary concern.
const Decimals = 18

// oneUnit is 10^18, the scale factor between whole tokens and base units.
var oneUnit = uint256.NewInt(1_000_000_000_000_000_000)

// Units converts a whole-token count to base units (n * 10^18). A uint64
// token count scaled by 10^18 always fits in 256 bits.
func Units(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), oneUnit)
}

// ParseAmount parses a non-negative base-unit amount from its decimal string
// representation, as transmitted by the front end.
func ParseAmount(s string) (*uint256.Int, error) {
	a, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("domain: parse amount %q: %w", s, ErrInvalidAmount)
	}
	return a, nil
}

// FormatAmount renders a base-unit amount as a decimal string.
func FormatAmount(a *uint256.Int) string {
	if a == nil {
		return "0"
	}
	return a.Dec()
}
