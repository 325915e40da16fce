package models

import "github.com/shopspring/decimal"

const (
	VenueBybit       = "bybit"
	VenueHyperliquid = "hyperliquid"
)

type VenueBalance struct {
	Total         decimal.Decimal `json:"total"`
	Available     decimal.Decimal `json:"available"`
	Used          decimal.Decimal `json:"used"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// BalanceSnapshot holds per-venue balances keyed by venue name.
type BalanceSnapshot struct {
	Balances map[string]VenueBalance `json:"balances"`
}

// Total sums the total balance over every venue.
func (b *BalanceSnapshot) Total() decimal.Decimal {
	sum := decimal.Zero
	if b == nil {
		return sum
	}
	for _, v := range b.Balances {
		sum = sum.Add(v.Total)
	}
	return sum
}
