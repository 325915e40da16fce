package preview

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"fundingdesk/config"
	"fundingdesk/models"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func market() *models.MarketSnapshot {
	return &models.MarketSnapshot{Pairs: []models.PairRecord{
		{
			Symbol:               "BTCUSDT",
			FundingRate:          d("0.0001"),
			BybitBid:             d("99"),
			BybitAsk:             d("101"),
			HyperliquidBid:       d("99.5"),
			HyperliquidAsk:       d("100.5"),
			HyperliquidAvailable: true,
		},
		{Symbol: "FLATUSDT", FundingRate: decimal.Zero, BybitBid: d("2"), BybitAsk: d("2")},
		{Symbol: "NOPRICE", FundingRate: d("0.001")},
	}}
}

func TestCompute(t *testing.T) {
	fees := FeesFromConfig(config.PreviewConfig{BybitTakerFee: 0.00055, HyperliquidTakerFee: 0.00035, Leverage: 2})
	p, err := Compute(market(), "BTCUSDT", d("1000"), fees)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}

	checks := map[string][2]decimal.Decimal{
		"entry price":          {p.EntryPrice, d("100")},
		"quantity":             {p.Quantity, d("10")},
		"margin":               {p.Margin, d("500")},
		"bybit fee":            {p.BybitFee, d("1.1")},
		"hyperliquid fee":      {p.HyperliquidFee, d("0.7")},
		"total fees":           {p.TotalFees, d("1.8")},
		"funding per interval": {p.FundingPerInterval, d("0.1")},
	}
	for name, c := range checks {
		if !c[0].Equal(c[1]) {
			t.Errorf("%s = %s, want %s", name, c[0], c[1])
		}
	}
	if p.BreakEvenIntervals != 18 {
		t.Errorf("break-even intervals = %d, want 18", p.BreakEvenIntervals)
	}
	if !p.HyperliquidAvailable {
		t.Errorf("availability flag lost")
	}
}

func TestComputeRejectsBadInput(t *testing.T) {
	fees := FeesFromConfig(config.PreviewConfig{})
	if _, err := Compute(market(), "BTCUSDT", decimal.Zero, fees); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := Compute(market(), "DOGEUSDT", d("10"), fees); !errors.Is(err, ErrUnknownPair) {
		t.Fatalf("expected ErrUnknownPair, got %v", err)
	}
	if _, err := Compute(nil, "BTCUSDT", d("10"), fees); !errors.Is(err, ErrUnknownPair) {
		t.Fatalf("expected ErrUnknownPair without a snapshot, got %v", err)
	}
	if _, err := Compute(market(), "NOPRICE", d("10"), fees); !errors.Is(err, ErrNoPrice) {
		t.Fatalf("expected ErrNoPrice, got %v", err)
	}
}

func TestZeroFundingNeverBreaksEven(t *testing.T) {
	p, err := Compute(market(), "FLATUSDT", d("10"), FeesFromConfig(config.PreviewConfig{BybitTakerFee: 0.001}))
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if p.BreakEvenIntervals != -1 {
		t.Fatalf("expected -1 break-even intervals, got %d", p.BreakEvenIntervals)
	}
	if !p.Margin.Equal(d("10")) {
		t.Fatalf("leverage should default to 1, margin %s", p.Margin)
	}
}
