package ledger

import "github.com/shopspring/decimal"

// Round rounds an amount to cents for display.
func Round(amount float64) float64 {
	return decimal.NewFromFloat(amount).Round(2).InexactFloat64()
}

// Format renders an amount with exactly two decimals.
func Format(amount float64) string {
	return decimal.NewFromFloat(amount).StringFixed(2)
}
