package models

import "github.com/shopspring/decimal"

// PositionRecord is a server-tracked hedge across both venues, identified
// by its symbol. Exit prices and ClosedAt are only set on closed positions.
type PositionRecord struct {
	Symbol                      string          `json:"symbol"`
	Size                        decimal.Decimal `json:"size"`
	EntryPriceBybit             decimal.Decimal `json:"entry_price_bybit"`
	EntryPriceHyperliquid       decimal.Decimal `json:"entry_price_hyperliquid"`
	ExitPriceBybit              decimal.Decimal `json:"exit_price_bybit"`
	ExitPriceHyperliquid        decimal.Decimal `json:"exit_price_hyperliquid"`
	UnrealizedPnL               decimal.Decimal `json:"unrealized_pnl"`
	RealizedPnL                 decimal.Decimal `json:"realized_pnl"`
	Fees                        decimal.Decimal `json:"fees"`
	FundingCollected            decimal.Decimal `json:"funding_collected"`
	Leverage                    decimal.Decimal `json:"leverage"`
	LiquidationPriceBybit       decimal.Decimal `json:"liquidation_price_bybit"`
	LiquidationPriceHyperliquid decimal.Decimal `json:"liquidation_price_hyperliquid"`
	LiquidationDistance         decimal.Decimal `json:"liquidation_distance"`
	OpenedAt                    string          `json:"opened_at"`
	ClosedAt                    string          `json:"closed_at,omitempty"`
}

// PositionList is the payload of both active_positions and closed_positions.
type PositionList struct {
	Positions []PositionRecord `json:"positions"`
}

// Symbols returns the position symbols in order.
func (l *PositionList) Symbols() []string {
	if l == nil {
		return nil
	}
	out := make([]string, 0, len(l.Positions))
	for _, p := range l.Positions {
		out = append(out, p.Symbol)
	}
	return out
}
