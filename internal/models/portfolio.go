package models

import "github.com/shopspring/decimal"

// Holding is a position valued at the last known price. CurrentPrice and
// MarketValue are empty when no price could be fetched.
type Holding struct {
	Position
	CurrentPrice  decimal.NullDecimal `json:"currentPrice"`
	MarketValue   decimal.NullDecimal `json:"marketValue"`
	UnrealizedPnL decimal.NullDecimal `json:"unrealizedPnl"`
}

type Portfolio struct {
	UserID         int64           `json:"userId,string"`
	CashBalance    decimal.Decimal `json:"cashBalance"`
	LockedCash     decimal.Decimal `json:"lockedCash"`
	AvailableCash  decimal.Decimal `json:"availableCash"`
	Holdings       []Holding       `json:"holdings"`
	PortfolioValue decimal.Decimal `json:"portfolioValue"`
	NetWorth       decimal.Decimal `json:"netWorth"`
	PricesComplete bool            `json:"pricesComplete"`
}
