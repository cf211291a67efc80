package domain

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Amounts are held as int64 cents and cross the HTTP boundary as dollars.

// MaxNotional caps any single monetary amount, and quantity × price of any
// order, at $10 trillion. At that size notional × (taker+maker+auction
// fee bps) still fits in an int64.
const MaxNotional int64 = 1_000_000_000_000_000

var (
	hundred  = decimal.NewFromInt(100)
	maxCents = decimal.NewFromInt(MaxNotional)
)

// DollarsToCents converts a dollar amount to cents. Values with more than
// two decimal places are rejected, not rounded.
func DollarsToCents(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("monetary values must be finite")
	}
	// NewFromFloat keeps the shortest decimal that round-trips, so 1.1
	// is exactly 1.1 here rather than 1.0999999...
	cents := decimal.NewFromFloat(f).Mul(hundred)
	if !cents.IsInteger() {
		return 0, fmt.Errorf("monetary values must have at most 2 decimal places")
	}
	if cents.Abs().GreaterThan(maxCents) {
		return 0, fmt.Errorf("monetary value %v is out of range", f)
	}
	return cents.IntPart(), nil
}

// NotionalWithin reports whether quantity × price stays within MaxNotional
// for positive operands, without computing the product.
func NotionalWithin(quantity, price int64) bool {
	if quantity <= 0 || price <= 0 {
		return true
	}
	return price <= MaxNotional/quantity
}

// CentsToDollars converts cents to dollars for display.
func CentsToDollars(c int64) float64 {
	return decimal.New(c, -2).InexactFloat64()
}
