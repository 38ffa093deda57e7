package service

import "github.com/shopspring/decimal"

// Input bounds. Money columns are NUMERIC(12,2), so the largest line
// (MaxQuantity * MaxUnitPrice) and any session amount fit in a column.
const MaxQuantity = 9999

var (
	MaxUnitPrice = decimal.RequireFromString("999999.99")
	MaxAmount    = decimal.RequireFromString("9999999999.99")
)

// wholeCents reports whether d has no fractional digits beyond the cent.
func wholeCents(d decimal.Decimal) bool {
	return d.Equal(d.Round(2))
}

// validPrice accepts non-negative whole-cent prices up to MaxUnitPrice.
func validPrice(d decimal.Decimal) bool {
	return !d.IsNegative() && wholeCents(d) && d.LessThanOrEqual(MaxUnitPrice)
}

// validAmount accepts whole-cent amounts up to MaxAmount. Sign rules are
// left to the caller.
func validAmount(d decimal.Decimal) bool {
	return wholeCents(d) && d.LessThanOrEqual(MaxAmount)
}
