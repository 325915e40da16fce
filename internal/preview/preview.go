package preview

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"fundingdesk/config"
	"fundingdesk/models"
)

var (
	ErrUnknownPair   = errors.New("unknown pair")
	ErrInvalidAmount = errors.New("amount must be greater than 0")
	ErrNoPrice       = errors.New("pair has no usable price")
)

// Fees is the taker fee schedule and leverage used for a preview.
type Fees struct {
	BybitTaker       decimal.Decimal
	HyperliquidTaker decimal.Decimal
	Leverage         decimal.Decimal
}

func FeesFromConfig(cfg config.PreviewConfig) Fees {
	lev := int64(cfg.Leverage)
	if lev <= 0 {
		lev = 1
	}
	return Fees{
		BybitTaker:       decimal.NewFromFloat(cfg.BybitTakerFee),
		HyperliquidTaker: decimal.NewFromFloat(cfg.HyperliquidTakerFee),
		Leverage:         decimal.NewFromInt(lev),
	}
}

// Preview is the estimated cost and return of opening a hedge: one leg on
// each venue, each leg sized at the full notional.
type Preview struct {
	Symbol               string          `json:"symbol"`
	Notional             decimal.Decimal `json:"notional"`
	Margin               decimal.Decimal `json:"margin"`
	EntryPrice           decimal.Decimal `json:"entry_price"`
	Quantity             decimal.Decimal `json:"quantity"`
	BybitFee             decimal.Decimal `json:"bybit_fee"`
	HyperliquidFee       decimal.Decimal `json:"hyperliquid_fee"`
	TotalFees            decimal.Decimal `json:"total_fees"`
	FundingRate          decimal.Decimal `json:"funding_rate"`
	FundingPerInterval   decimal.Decimal `json:"funding_per_interval"`
	BreakEvenIntervals   int64           `json:"break_even_intervals"`
	HyperliquidAvailable bool            `json:"hyperliquid_available"`
}

// Compute previews a position of notional on symbol against the market
// snapshot. Fees are charged on entry and exit of both legs.
func Compute(market *models.MarketSnapshot, symbol string, notional decimal.Decimal, fees Fees) (Preview, error) {
	if !notional.IsPositive() {
		return Preview{}, ErrInvalidAmount
	}
	pair, ok := market.Pair(symbol)
	if !ok {
		return Preview{}, fmt.Errorf("%w: %s", ErrUnknownPair, symbol)
	}

	price := midPrice(pair)
	if !price.IsPositive() {
		return Preview{}, fmt.Errorf("%w: %s", ErrNoPrice, symbol)
	}

	leverage := fees.Leverage
	if !leverage.IsPositive() {
		leverage = decimal.NewFromInt(1)
	}

	roundTrip := decimal.NewFromInt(2)
	bybitFee := notional.Mul(fees.BybitTaker).Mul(roundTrip)
	hlFee := notional.Mul(fees.HyperliquidTaker).Mul(roundTrip)
	total := bybitFee.Add(hlFee)
	funding := notional.Mul(pair.FundingRate.Abs())

	p := Preview{
		Symbol:               pair.Symbol,
		Notional:             notional,
		Margin:               notional.Div(leverage).Round(8),
		EntryPrice:           price,
		Quantity:             notional.DivRound(price, 8),
		BybitFee:             bybitFee.Round(8),
		HyperliquidFee:       hlFee.Round(8),
		TotalFees:            total.Round(8),
		FundingRate:          pair.FundingRate,
		FundingPerInterval:   funding.Round(8),
		BreakEvenIntervals:   -1,
		HyperliquidAvailable: pair.HyperliquidAvailable,
	}
	if funding.IsPositive() {
		p.BreakEvenIntervals = total.Div(funding).Ceil().IntPart()
	}
	return p, nil
}

// midPrice averages the best quotes that are present.
func midPrice(p models.PairRecord) decimal.Decimal {
	var quotes []decimal.Decimal
	for _, q := range []decimal.Decimal{p.BybitBid, p.BybitAsk, p.HyperliquidBid, p.HyperliquidAsk} {
		if q.IsPositive() {
			quotes = append(quotes, q)
		}
	}
	if len(quotes) == 0 {
		return decimal.Zero
	}
	return decimal.Avg(quotes[0], quotes[1:]...)
}
