package models

import "github.com/shopspring/decimal"

// PairRecord is one symbol listed on both venues.
type PairRecord struct {
	Symbol               string          `json:"symbol"`
	FundingRate          decimal.Decimal `json:"funding_rate"`
	BybitBid             decimal.Decimal `json:"bybit_bid"`
	BybitAsk             decimal.Decimal `json:"bybit_ask"`
	HyperliquidBid       decimal.Decimal `json:"hyperliquid_bid"`
	HyperliquidAsk       decimal.Decimal `json:"hyperliquid_ask"`
	Volume24h            decimal.Decimal `json:"volume_24h"`
	HyperliquidAvailable bool            `json:"hyperliquid_available"`
}

// MarketSnapshot replaces the previous snapshot wholesale.
type MarketSnapshot struct {
	Pairs []PairRecord `json:"pairs"`
}

// Pair looks up a symbol in the snapshot.
func (m *MarketSnapshot) Pair(symbol string) (PairRecord, bool) {
	if m == nil {
		return PairRecord{}, false
	}
	for _, p := range m.Pairs {
		if p.Symbol == symbol {
			return p, true
		}
	}
	return PairRecord{}, false
}
