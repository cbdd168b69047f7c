package engine

import "sort"

// DefaultMaxResults is the number of ranked opportunities returned when a
// pass does not specify a limit.
const DefaultMaxResults = 50

// FilterAndRank removes non-opportunities (margin ≤ 0), records below the
// profit threshold, and suppressed keys, then sorts descending by the chosen
// key. Ties break by item_id ascending, then quality, then enchant, so the
// ordering is strict and deterministic. Under SortByROI, records with an
// undefined ROI sort below every defined one.
func FilterAndRank(opps []FlipOpportunity, key SortKey, suppressed map[ItemKey]bool) []FlipOpportunity {
	kept := make([]FlipOpportunity, 0, len(opps))
	for _, o := range opps {
		if !o.Profitable || o.BelowThreshold {
			continue
		}
		if suppressed[o.Key] {
			continue
		}
		kept = append(kept, o)
	}

	sort.Slice(kept, func(i, j int) bool {
		a, b := kept[i], kept[j]
		switch key {
		case SortByROI:
			if a.ROIDefined != b.ROIDefined {
				return a.ROIDefined
			}
			if a.ROIPercent != b.ROIPercent {
				return a.ROIPercent > b.ROIPercent
			}
		default:
			if a.PotentialProfit != b.PotentialProfit {
				return a.PotentialProfit > b.PotentialProfit
			}
		}
		if a.Key.ItemID != b.Key.ItemID {
			return a.Key.ItemID < b.Key.ItemID
		}
		if a.Key.Quality != b.Key.Quality {
			return a.Key.Quality < b.Key.Quality
		}
		return a.Key.Enchant < b.Key.Enchant
	})
	return kept
}

// EffectiveMaxResults returns the result limit, using defaultVal if v <= 0.
func EffectiveMaxResults(v, defaultVal int) int {
	if v <= 0 {
		return defaultVal
	}
	return v
}
