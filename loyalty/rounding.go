/*
rounding.go - Centralized rounding policy

PURPOSE:
  All point and currency rounding in the engine goes through this file so
  behavior cannot diverge between the award path, the redemption path, and
  display formatting.

POLICY:
  - Points: floor. Earned points are always rounded down, both for the base
    amount-to-points conversion and after applying multipliers.
  - Currency display: round half-up to 2 decimal places. Stored currency
    amounts keep full decimal precision; rounding applies at the boundary.
*/
package loyalty

import "github.com/shopspring/decimal"

// FloorPoints converts a decimal quantity to whole points, rounding down.
// Negative inputs floor toward zero points; the engine never awards debt.
func FloorPoints(d decimal.Decimal) int64 {
	if d.Sign() <= 0 {
		return 0
	}
	return d.Floor().IntPart()
}

// MultiplyPoints applies a multiplier to a whole point count and floors the
// result. Used for the large-order bonus and the premium-category multiplier.
func MultiplyPoints(points int64, multiplier decimal.Decimal) int64 {
	return FloorPoints(decimal.NewFromInt(points).Mul(multiplier))
}

// RoundCurrency rounds a currency amount for display: half-up, 2 places.
func RoundCurrency(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
