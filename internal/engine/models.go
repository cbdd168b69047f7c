package engine

import (
	"strconv"
	"strings"
	"time"
)

// ItemKey uniquely identifies one tradeable line. It is the join key across
// quotes, historical snapshots, and flip opportunities: joins are always by
// exact (item, quality, enchant, city) match, never coalesced.
type ItemKey struct {
	ItemID  string `json:"item_id"`
	Quality int    `json:"quality"`
	Enchant int    `json:"enchant"`
	City    string `json:"city"`
}

// NewItemKey builds an ItemKey, deriving the enchantment level from the
// item identifier suffix.
func NewItemKey(itemID string, quality int, city string) ItemKey {
	return ItemKey{
		ItemID:  itemID,
		Quality: quality,
		Enchant: EnchantLevel(itemID),
		City:    city,
	}
}

// EnchantLevel parses the enchantment suffix of an item identifier
// ("T4_BAG@2" → 2). Identifiers without a suffix are enchantment 0.
func EnchantLevel(itemID string) int {
	if i := strings.IndexByte(itemID, '@'); i >= 0 {
		if n, err := strconv.Atoi(itemID[i+1:]); err == nil && n >= 0 {
			return n
		}
	}
	return 0
}

// Snapshot is one appended price/volume observation for an ItemKey.
type Snapshot struct {
	Key        ItemKey
	ItemName   string
	Price      int64
	Volume     int64
	ObservedAt time.Time
}

// ItemStats is derived from snapshots within a retention window. It is a
// cache over the snapshot store, never an independent source of truth.
type ItemStats struct {
	Key         ItemKey
	ItemName    string
	AvgPrice    float64 // volume-weighted average price
	AvgVolume   float64 // mean traded volume per observation period
	DataPoints  int
	WindowStart time.Time
	WindowEnd   time.Time
}

// MarketValue is the ranking score used for "popular item" queries.
func (s ItemStats) MarketValue() float64 {
	return s.AvgVolume * s.AvgPrice
}

// FlipConfig carries the fee and threshold configuration for the calculator.
type FlipConfig struct {
	BuyOrderFeeRate    float64 // fraction of the buy price
	SellOrderFeeRate   float64 // fraction of the sell price
	MinProfitThreshold int64   // below this, computed but flagged filterable
	VolumeCaptureRate  float64 // fraction of avg volume one order captures; <=0 means 1.0
	MaxExpectedVolume  int64   // additional hard cap; 0 = none
}

// FlipOpportunity is the derived, ephemeral result of one flip computation.
// It is recreated on every pass and every edit, never persisted, and its
// derived fields are never mutated in place.
type FlipOpportunity struct {
	Key             ItemKey `json:"key"`
	ItemName        string  `json:"item_name"`
	BuyPrice        int64   `json:"buy_price"`
	SellPrice       int64   `json:"sell_price"`
	AvgPrice        float64 `json:"avg_price"`
	FlipMargin      int64   `json:"flip_margin"`
	ExpectedVolume  int64   `json:"expected_volume"`
	PotentialProfit int64   `json:"potential_profit"`
	TotalInvestment int64   `json:"total_investment"`
	ROIPercent      float64 `json:"roi_percent"`
	ROIDefined      bool    `json:"roi_defined"` // false when total investment is zero
	Profitable      bool    `json:"profitable"`  // flip margin > 0
	BelowThreshold  bool    `json:"below_threshold"`

	// Taken from the quote's observation time so that recomputation from
	// identical inputs is deterministic.
	ComputedAt time.Time `json:"computed_at"`
}

// SortKey selects the ranking order for filtered opportunities.
type SortKey string

const (
	SortByProfit SortKey = "profit"
	SortByROI    SortKey = "roi"
)

// ParseSortKey validates a sort key string.
func ParseSortKey(s string) (SortKey, bool) {
	switch SortKey(s) {
	case SortByProfit, SortByROI:
		return SortKey(s), true
	}
	return "", false
}

// PriceField names the editable inputs of a FlipOpportunity.
type PriceField string

const (
	FieldBuyPrice  PriceField = "buy_price"
	FieldSellPrice PriceField = "sell_price"
)

// TrackedItem seeds which ItemKeys are analyzed before enough history exists.
type TrackedItem struct {
	ItemID      string
	Name        string
	Quality     int
	DailyVolume float64
	AvgPrice    float64
}
