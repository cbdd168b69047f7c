package engine

import (
	"testing"
	"time"

	"github.com/millelog/albion-market-tools/internal/aodata"
)

func testQuote() aodata.Quote {
	return aodata.Quote{
		ItemID:       "T4_BAG",
		City:         "Lymhurst",
		Quality:      1,
		BuyPriceMax:  2547,
		SellPriceMin: 3325,
		ObservedAt:   time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC),
	}
}

func testStats() ItemStats {
	return ItemStats{
		Key:       NewItemKey("T4_BAG", 1, "Lymhurst"),
		ItemName:  "Adept's Bag",
		AvgPrice:  2890,
		AvgVolume: 150,
	}
}

func TestCompute_NoFees(t *testing.T) {
	opp := Compute(testQuote(), testStats(), FlipConfig{})

	if opp.FlipMargin != 778 {
		t.Errorf("FlipMargin = %d, want 778", opp.FlipMargin)
	}
	if opp.ExpectedVolume != 150 {
		t.Errorf("ExpectedVolume = %d, want 150", opp.ExpectedVolume)
	}
	if opp.PotentialProfit != 116700 {
		t.Errorf("PotentialProfit = %d, want 116700", opp.PotentialProfit)
	}
	if opp.TotalInvestment != 2547*150 {
		t.Errorf("TotalInvestment = %d, want %d", opp.TotalInvestment, 2547*150)
	}
	if !opp.Profitable {
		t.Error("Profitable = false, want true")
	}
	if !opp.ROIDefined {
		t.Error("ROIDefined = false, want true")
	}
	if opp.ROIPercent != 30.5 {
		t.Errorf("ROIPercent = %v, want 30.5", opp.ROIPercent)
	}
}

func TestCompute_FeesReduceMargin(t *testing.T) {
	cfg := FlipConfig{BuyOrderFeeRate: 0.025, SellOrderFeeRate: 0.04}
	opp := Compute(testQuote(), testStats(), cfg)

	// 3325 - 2547 - round(2547*0.025) - round(3325*0.04) = 778 - 64 - 133
	if opp.FlipMargin != 581 {
		t.Errorf("FlipMargin = %d, want 581", opp.FlipMargin)
	}
}

func TestCompute_NegativeMarginNotProfitable(t *testing.T) {
	q := testQuote()
	q.BuyPriceMax = 3400 // standing buy orders above the best ask
	opp := Compute(q, testStats(), FlipConfig{})

	if opp.Profitable {
		t.Error("Profitable = true for negative margin")
	}
	if opp.PotentialProfit != 0 {
		t.Errorf("PotentialProfit = %d, want 0 for negative margin", opp.PotentialProfit)
	}
	if opp.FlipMargin >= 0 {
		t.Errorf("FlipMargin = %d, want negative", opp.FlipMargin)
	}
}

func TestCompute_VolumeCaptureRate(t *testing.T) {
	cfg := FlipConfig{VolumeCaptureRate: 0.10}
	opp := Compute(testQuote(), testStats(), cfg)

	if opp.ExpectedVolume != 15 {
		t.Errorf("ExpectedVolume = %d, want 15 (10%% of 150)", opp.ExpectedVolume)
	}
	if opp.PotentialProfit != 778*15 {
		t.Errorf("PotentialProfit = %d, want %d", opp.PotentialProfit, 778*15)
	}
}

func TestCompute_MaxExpectedVolumeCaps(t *testing.T) {
	cfg := FlipConfig{MaxExpectedVolume: 10}
	opp := Compute(testQuote(), testStats(), cfg)

	if opp.ExpectedVolume != 10 {
		t.Errorf("ExpectedVolume = %d, want 10", opp.ExpectedVolume)
	}
}

func TestCompute_ROIUndefinedAtZeroInvestment(t *testing.T) {
	stats := testStats()
	stats.AvgVolume = 0
	opp := Compute(testQuote(), stats, FlipConfig{})

	if opp.ROIDefined {
		t.Error("ROIDefined = true with zero investment")
	}
	if opp.ROIPercent != 0 {
		t.Errorf("ROIPercent = %v, want 0", opp.ROIPercent)
	}
	if opp.PotentialProfit != 0 {
		t.Errorf("PotentialProfit = %d, want 0 with no expected volume", opp.PotentialProfit)
	}
}

func TestCompute_BelowThresholdFlagged(t *testing.T) {
	cfg := FlipConfig{MinProfitThreshold: 200000}
	opp := Compute(testQuote(), testStats(), cfg)

	if !opp.BelowThreshold {
		t.Error("BelowThreshold = false, want true for profit under threshold")
	}
	if !opp.Profitable {
		t.Error("Profitable = false; threshold must not affect profitability")
	}
}

func TestCompute_Deterministic(t *testing.T) {
	cfg := FlipConfig{BuyOrderFeeRate: 0.025, SellOrderFeeRate: 0.025, VolumeCaptureRate: 0.1}
	first := Compute(testQuote(), testStats(), cfg)
	second := Compute(testQuote(), testStats(), cfg)
	if first != second {
		t.Errorf("identical inputs produced different results:\n%+v\n%+v", first, second)
	}
}

func TestCompute_ComputedAtFromQuote(t *testing.T) {
	opp := Compute(testQuote(), testStats(), FlipConfig{})
	if !opp.ComputedAt.Equal(testQuote().ObservedAt) {
		t.Errorf("ComputedAt = %v, want quote observation time %v", opp.ComputedAt, testQuote().ObservedAt)
	}
}

func TestRecompute_MatchesFreshCompute(t *testing.T) {
	cfg := FlipConfig{BuyOrderFeeRate: 0.025, SellOrderFeeRate: 0.025, VolumeCaptureRate: 0.1}
	stats := testStats()
	existing := Compute(testQuote(), stats, cfg)

	edited, err := Recompute(existing, FieldSellPrice, 4000, stats, cfg)
	if err != nil {
		t.Fatalf("Recompute() error = %v", err)
	}

	q := testQuote()
	q.SellPriceMin = 4000
	fresh := Compute(q, stats, cfg)
	if edited != fresh {
		t.Errorf("Recompute() = %+v, want fresh Compute result %+v", edited, fresh)
	}
}

func TestRecompute_BuyPriceField(t *testing.T) {
	cfg := FlipConfig{}
	stats := testStats()
	existing := Compute(testQuote(), stats, cfg)

	edited, err := Recompute(existing, FieldBuyPrice, 3000, stats, cfg)
	if err != nil {
		t.Fatalf("Recompute() error = %v", err)
	}
	if edited.BuyPrice != 3000 {
		t.Errorf("BuyPrice = %d, want 3000", edited.BuyPrice)
	}
	if edited.FlipMargin != 3325-3000 {
		t.Errorf("FlipMargin = %d, want %d", edited.FlipMargin, 3325-3000)
	}
}

func TestRecompute_EditCanFlipToUnprofitable(t *testing.T) {
	cfg := FlipConfig{}
	stats := testStats()
	existing := Compute(testQuote(), stats, cfg)

	edited, err := Recompute(existing, FieldBuyPrice, 3500, stats, cfg)
	if err != nil {
		t.Fatalf("Recompute() error = %v", err)
	}
	if edited.Profitable {
		t.Error("edit above the ask should make the row unprofitable")
	}
}

func TestRecompute_RejectsNegativeValue(t *testing.T) {
	existing := Compute(testQuote(), testStats(), FlipConfig{})
	if _, err := Recompute(existing, FieldBuyPrice, -1, testStats(), FlipConfig{}); err == nil {
		t.Error("Recompute() accepted a negative price")
	}
}

func TestRecompute_RejectsUnknownField(t *testing.T) {
	existing := Compute(testQuote(), testStats(), FlipConfig{})
	if _, err := Recompute(existing, PriceField("avg_price"), 100, testStats(), FlipConfig{}); err == nil {
		t.Error("Recompute() accepted an uneditable field")
	}
}

func TestEnchantLevel(t *testing.T) {
	cases := []struct {
		id   string
		want int
	}{
		{"T4_BAG", 0},
		{"T4_BAG@1", 1},
		{"T8_MAIN_SWORD@3", 3},
		{"T4_BAG@", 0},
		{"T4_BAG@x", 0},
	}
	for _, c := range cases {
		if got := EnchantLevel(c.id); got != c.want {
			t.Errorf("EnchantLevel(%q) = %d, want %d", c.id, got, c.want)
		}
	}
}
