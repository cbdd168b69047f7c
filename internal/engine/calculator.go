package engine

import (
	"fmt"
	"math"

	"github.com/millelog/albion-market-tools/internal/aodata"
)

// Compute derives a FlipOpportunity from a current quote, historical stats,
// and fee configuration. It is pure and side-effect free: identical inputs
// always produce identical outputs, so it is safe from any number of
// concurrent callers.
//
// The buy side fills the best standing buy order (buy_price_max) and the
// sell side undercuts the best ask (sell_price_min). The margin is the
// fee-adjusted variant:
//
//	margin = sell − buy − round(buy×buyFeeRate) − round(sell×sellFeeRate)
//
// Setting both fee rates to zero yields the raw sell−buy margin.
func Compute(q aodata.Quote, stats ItemStats, cfg FlipConfig) FlipOpportunity {
	buyPrice := q.BuyPriceMax
	sellPrice := q.SellPriceMin

	buyFee := int64(math.Round(float64(buyPrice) * cfg.BuyOrderFeeRate))
	sellFee := int64(math.Round(float64(sellPrice) * cfg.SellOrderFeeRate))
	margin := sellPrice - buyPrice - buyFee - sellFee

	// Expected volume is capped by what history supports: never assume a
	// flip larger than the historical average volume allows.
	capture := cfg.VolumeCaptureRate
	if capture <= 0 {
		capture = 1
	}
	expected := int64(math.Round(stats.AvgVolume * capture))
	if cfg.MaxExpectedVolume > 0 && expected > cfg.MaxExpectedVolume {
		expected = cfg.MaxExpectedVolume
	}
	if expected < 0 {
		expected = 0
	}

	opp := FlipOpportunity{
		Key:            NewItemKey(q.ItemID, q.Quality, q.City),
		ItemName:       stats.ItemName,
		BuyPrice:       buyPrice,
		SellPrice:      sellPrice,
		AvgPrice:       stats.AvgPrice,
		FlipMargin:     margin,
		ExpectedVolume: expected,
		ComputedAt:     q.ObservedAt,
	}
	if margin > 0 {
		opp.Profitable = true
		opp.PotentialProfit = margin * expected
	}
	opp.TotalInvestment = buyPrice * expected
	if opp.TotalInvestment > 0 {
		opp.ROIDefined = true
		roi := float64(opp.PotentialProfit) / float64(opp.TotalInvestment) * 100
		opp.ROIPercent = math.Round(roi*10) / 10
	}
	opp.BelowThreshold = opp.PotentialProfit < cfg.MinProfitThreshold
	return opp
}

// Recompute re-derives a FlipOpportunity after substituting one editable
// price field. This is the only path used by the live-edit workflow: it
// replaces an input and runs the full computation again, so the result is
// identical to calling Compute fresh with the substituted field.
func Recompute(existing FlipOpportunity, field PriceField, value int64, stats ItemStats, cfg FlipConfig) (FlipOpportunity, error) {
	if value < 0 {
		return FlipOpportunity{}, fmt.Errorf("engine: %s must be non-negative, got %d", field, value)
	}
	q := aodata.Quote{
		ItemID:       existing.Key.ItemID,
		City:         existing.Key.City,
		Quality:      existing.Key.Quality,
		BuyPriceMax:  existing.BuyPrice,
		SellPriceMin: existing.SellPrice,
		ObservedAt:   existing.ComputedAt,
	}
	switch field {
	case FieldBuyPrice:
		q.BuyPriceMax = value
	case FieldSellPrice:
		q.SellPriceMin = value
	default:
		return FlipOpportunity{}, fmt.Errorf("engine: unknown price field %q", field)
	}
	return Compute(q, stats, cfg), nil
}
