// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package calc

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// ToAtomic scales a whole-unit value to the asset's fixed-point integer,
// rounding half away from zero.
func ToAtomic(v decimal.Decimal, exp uint8) *big.Int {
	return v.Shift(int32(exp)).Round(0).BigInt()
}

// ParseAtomic parses a whole-unit decimal string to the fixed-point integer.
func ParseAtomic(s string, exp uint8) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return ToAtomic(d, exp), nil
}

// FromAtomic is the whole-unit value of a fixed-point integer.
func FromAtomic(v *big.Int, exp uint8) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -int32(exp))
}

// FormatBalance renders a fixed-point balance in whole units with the given
// number of decimal places.
func FormatBalance(v *big.Int, exp uint8, places int32) string {
	return FromAtomic(v, exp).StringFixed(places)
}
