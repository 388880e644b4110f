package models

import "github.com/shopspring/decimal"

// Balances are kept at rest as integer cents so that guarded relative updates
// stay exact on every backend.

func ToCents(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

func FromCents(c int64) decimal.Decimal {
	return decimal.New(c, -2)
}

func IsWholeCents(d decimal.Decimal) bool {
	return d.Equal(d.Round(2))
}
