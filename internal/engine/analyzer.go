package engine

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/millelog/albion-market-tools/internal/aodata"
	"github.com/millelog/albion-market-tools/internal/metrics"
)

// QuoteFetcher is the upstream market data client.
type QuoteFetcher interface {
	FetchPrices(ctx context.Context, items []string, cities []string, qualities []int) ([]aodata.Quote, aodata.FetchReport, error)
	FetchHistory(ctx context.Context, items []string, cities []string, timeScale int) ([]aodata.HistoryRecord, aodata.FetchReport, error)
}

// SnapshotStore persists historical snapshots and serves derived stats.
type SnapshotStore interface {
	// InsertSnapshots appends one batch atomically. The caller guarantees
	// at most one call per observation per ItemKey; duplicates double-count.
	InsertSnapshots(snaps []Snapshot) error
	// LatestObservation returns the newest observed_at for a key, if any.
	LatestObservation(key ItemKey) (time.Time, bool)
	// Stats aggregates snapshots within the window. ok is false when no
	// snapshots exist there: missing data is not zero data.
	Stats(key ItemKey, window time.Duration) (ItemStats, bool)
	// TopByVolume ranks keys in a city by avg volume within the active
	// window; ties break by higher avg price, then item_id ascending.
	TopByVolume(city string, n int) []ItemStats
	// Prune deletes snapshots at or before the cutoff.
	Prune(olderThan time.Time) (int64, error)
}

// SuppressionStore tracks user-removed rows per (city, item, quality,
// enchant). Suppression outlives recomputation passes until cleared.
type SuppressionStore interface {
	Suppress(key ItemKey) error
	Unsuppress(key ItemKey) error
	SuppressedFor(city string) map[ItemKey]bool
}

// PassParams are the inputs for one analysis pass.
type PassParams struct {
	Cities      []string
	SortKey     SortKey
	TopN        int // tracked items per city; 0 = DefaultMaxResults
	MaxResults  int // ranked rows per city; 0 = DefaultMaxResults
	StatsWindow time.Duration
}

// RefreshParams are the inputs for one history ingestion cycle.
type RefreshParams struct {
	Cities    []string
	TimeScale int           // hours per history bucket
	Retention time.Duration // snapshots older than this are pruned after ingest
}

// Analyzer orchestrates fetch, compute, and rank. The calculator itself is
// pure; the Analyzer owns the mutable state of the current pass (the rows
// the edit and suppress workflows act on).
type Analyzer struct {
	Fetcher      QuoteFetcher
	Store        SnapshotStore
	Suppressions SuppressionStore
	Flip         FlipConfig

	// Seed lists which items to analyze per city before the store has
	// enough history to rank popular items itself.
	Seed map[string][]TrackedItem

	mu        sync.RWMutex
	lastPass  map[string][]FlipOpportunity
	lastStats map[ItemKey]ItemStats
}

// NewAnalyzer creates an Analyzer with the given collaborators.
func NewAnalyzer(fetcher QuoteFetcher, store SnapshotStore, suppressions SuppressionStore, flip FlipConfig, seed map[string][]TrackedItem) *Analyzer {
	return &Analyzer{
		Fetcher:      fetcher,
		Store:        store,
		Suppressions: suppressions,
		Flip:         flip,
		Seed:         seed,
		lastPass:     make(map[string][]FlipOpportunity),
		lastStats:    make(map[ItemKey]ItemStats),
	}
}

// trackedStats returns the stats for the items analyzed in a city: the
// store's popularity ranking when history exists, the seed list otherwise.
func (a *Analyzer) trackedStats(city string, topN int) []ItemStats {
	if a.Store != nil {
		if stats := a.Store.TopByVolume(city, topN); len(stats) > 0 {
			return stats
		}
	}
	var stats []ItemStats
	for _, t := range a.Seed[city] {
		stats = append(stats, ItemStats{
			Key:       NewItemKey(t.ItemID, t.Quality, city),
			ItemName:  t.Name,
			AvgPrice:  t.AvgPrice,
			AvgVolume: t.DailyVolume,
		})
		if len(stats) == topN {
			break
		}
	}
	return stats
}

// RunPass runs one full analysis pass: select tracked items per city, fetch
// current quotes, compute flip metrics against historical stats, then filter
// and rank. The returned report tells callers whether any batches failed.
func (a *Analyzer) RunPass(ctx context.Context, params PassParams) (map[string][]FlipOpportunity, aodata.FetchReport, error) {
	topN := EffectiveMaxResults(params.TopN, DefaultMaxResults)

	statsByKey := make(map[ItemKey]ItemStats)
	var ids []string
	qualSet := make(map[int]bool)
	for _, city := range params.Cities {
		for _, s := range a.trackedStats(city, topN) {
			statsByKey[s.Key] = s
			ids = append(ids, s.Key.ItemID)
			qualSet[s.Key.Quality] = true
		}
	}
	qualities := sortedKeys(qualSet)

	quotes, report, err := a.Fetcher.FetchPrices(ctx, ids, params.Cities, qualities)
	if err != nil {
		return nil, report, err
	}

	byCity := make(map[string][]FlipOpportunity, len(params.Cities))
	for _, q := range quotes {
		key := NewItemKey(q.ItemID, q.Quality, q.City)
		stats, ok := statsByKey[key]
		if !ok {
			continue // not tracked at this city/quality
		}
		byCity[q.City] = append(byCity[q.City], Compute(q, stats, a.Flip))
	}

	limit := EffectiveMaxResults(params.MaxResults, DefaultMaxResults)
	for _, city := range params.Cities {
		ranked := FilterAndRank(byCity[city], params.SortKey, a.suppressedFor(city))
		if len(ranked) > limit {
			ranked = ranked[:limit]
		}
		byCity[city] = ranked
		metrics.OpportunitiesFound.WithLabelValues(city).Set(float64(len(ranked)))
	}

	a.mu.Lock()
	a.lastPass = byCity
	a.lastStats = statsByKey
	a.mu.Unlock()
	return byCity, report, nil
}

// EditField substitutes one editable price field on a row from the last pass
// and re-derives the full record. Returns removed=true when the edited row
// no longer qualifies (it is dropped from the pass, mirroring what the next
// filter step would do).
func (a *Analyzer) EditField(city string, key ItemKey, field PriceField, value int64) (FlipOpportunity, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rows := a.lastPass[city]
	idx := -1
	for i := range rows {
		if rows[i].Key == key {
			idx = i
			break
		}
	}
	if idx < 0 {
		return FlipOpportunity{}, false, fmt.Errorf("engine: no current row for %s q%d in %s", key.ItemID, key.Quality, city)
	}

	opp, err := Recompute(rows[idx], field, value, a.lastStats[key], a.Flip)
	if err != nil {
		return FlipOpportunity{}, false, err
	}
	if !opp.Profitable || opp.BelowThreshold {
		a.lastPass[city] = append(rows[:idx], rows[idx+1:]...)
		return opp, true, nil
	}
	rows[idx] = opp
	return opp, false, nil
}

// RefreshHistory runs one ingestion cycle: fetch volume history for every
// tracked item, append the observations the store has not seen yet, then
// prune past the retention horizon. Only fully parsed records are ingested,
// each as one atomic batch.
func (a *Analyzer) RefreshHistory(ctx context.Context, params RefreshParams) (int, error) {
	names := make(map[string]string)
	var ids []string
	for _, city := range params.Cities {
		for _, t := range a.Seed[city] {
			ids = append(ids, t.ItemID)
			if t.Name != "" {
				names[t.ItemID] = t.Name
			}
		}
		if a.Store != nil {
			for _, s := range a.Store.TopByVolume(city, DefaultMaxResults) {
				ids = append(ids, s.Key.ItemID)
			}
		}
	}

	records, report, fetchErr := a.Fetcher.FetchHistory(ctx, ids, params.Cities, params.TimeScale)

	ingested := 0
	for _, rec := range records {
		if ctx.Err() != nil {
			break
		}
		key := NewItemKey(rec.ItemID, rec.Quality, rec.Location)
		var latest time.Time
		if t, ok := a.Store.LatestObservation(key); ok {
			latest = t
		}

		var snaps []Snapshot
		for _, p := range rec.Data {
			t := p.Time()
			if t.IsZero() || p.AvgPrice <= 0 {
				continue // no-data point, excluded from this cycle
			}
			if !t.After(latest) {
				continue // already ingested; re-ingesting would double-count
			}
			snaps = append(snaps, Snapshot{
				Key:        key,
				ItemName:   names[rec.ItemID],
				Price:      int64(math.Round(p.AvgPrice)),
				Volume:     p.ItemCount,
				ObservedAt: t,
			})
		}
		if len(snaps) == 0 {
			continue
		}
		if err := a.Store.InsertSnapshots(snaps); err != nil {
			log.Printf("[engine] ingest %s q%d %s: %v", key.ItemID, key.Quality, key.City, err)
			continue
		}
		ingested += len(snaps)
	}

	if params.Retention > 0 {
		cutoff := time.Now().UTC().Add(-params.Retention)
		if n, err := a.Store.Prune(cutoff); err != nil {
			log.Printf("[engine] prune: %v", err)
		} else if n > 0 {
			log.Printf("[engine] pruned %d snapshots past retention", n)
		}
	}

	if fetchErr != nil {
		return ingested, fetchErr
	}
	if report.BatchesFailed > 0 {
		log.Printf("[engine] history refresh: %d/%d batches failed", report.BatchesFailed, report.BatchesTotal)
	}
	return ingested, nil
}

// Suppress hides a row from ranked output until explicitly cleared. The row
// is removed from the current pass immediately and stays filtered on every
// later pass.
func (a *Analyzer) Suppress(key ItemKey) error {
	if err := a.Suppressions.Suppress(key); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	rows := a.lastPass[key.City]
	for i := range rows {
		if rows[i].Key == key {
			a.lastPass[key.City] = append(rows[:i], rows[i+1:]...)
			break
		}
	}
	return nil
}

// Unsuppress clears a suppression; the row reappears on the next pass if it
// still qualifies.
func (a *Analyzer) Unsuppress(key ItemKey) error {
	return a.Suppressions.Unsuppress(key)
}

// LastPass returns a copy of the most recent pass results.
func (a *Analyzer) LastPass() map[string][]FlipOpportunity {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string][]FlipOpportunity, len(a.lastPass))
	for city, rows := range a.lastPass {
		out[city] = append([]FlipOpportunity(nil), rows...)
	}
	return out
}

func (a *Analyzer) suppressedFor(city string) map[ItemKey]bool {
	if a.Suppressions == nil {
		return nil
	}
	return a.Suppressions.SuppressedFor(city)
}

func sortedKeys(set map[int]bool) []int {
	out := make([]int, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}
