package engine

import (
	"context"
	"testing"
	"time"

	"github.com/millelog/albion-market-tools/internal/aodata"
)

type fakeFetcher struct {
	quotes  []aodata.Quote
	records []aodata.HistoryRecord
	report  aodata.FetchReport
	err     error

	priceCalls   int
	historyCalls int
}

func (f *fakeFetcher) FetchPrices(ctx context.Context, items, cities []string, qualities []int) ([]aodata.Quote, aodata.FetchReport, error) {
	f.priceCalls++
	return f.quotes, f.report, f.err
}

func (f *fakeFetcher) FetchHistory(ctx context.Context, items, cities []string, timeScale int) ([]aodata.HistoryRecord, aodata.FetchReport, error) {
	f.historyCalls++
	return f.records, f.report, f.err
}

type fakeStore struct {
	top      map[string][]ItemStats
	latest   map[ItemKey]time.Time
	inserted [][]Snapshot
	pruned   []time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		top:    make(map[string][]ItemStats),
		latest: make(map[ItemKey]time.Time),
	}
}

func (s *fakeStore) InsertSnapshots(snaps []Snapshot) error {
	s.inserted = append(s.inserted, snaps)
	for _, snap := range snaps {
		if snap.ObservedAt.After(s.latest[snap.Key]) {
			s.latest[snap.Key] = snap.ObservedAt
		}
	}
	return nil
}

func (s *fakeStore) LatestObservation(key ItemKey) (time.Time, bool) {
	t, ok := s.latest[key]
	return t, ok
}

func (s *fakeStore) Stats(key ItemKey, window time.Duration) (ItemStats, bool) {
	for _, stats := range s.top[key.City] {
		if stats.Key == key {
			return stats, true
		}
	}
	return ItemStats{}, false
}

func (s *fakeStore) TopByVolume(city string, n int) []ItemStats {
	stats := s.top[city]
	if len(stats) > n {
		stats = stats[:n]
	}
	return stats
}

func (s *fakeStore) Prune(olderThan time.Time) (int64, error) {
	s.pruned = append(s.pruned, olderThan)
	return 0, nil
}

type fakeSuppressions struct {
	keys map[ItemKey]bool
}

func newFakeSuppressions() *fakeSuppressions {
	return &fakeSuppressions{keys: make(map[ItemKey]bool)}
}

func (s *fakeSuppressions) Suppress(key ItemKey) error {
	s.keys[key] = true
	return nil
}

func (s *fakeSuppressions) Unsuppress(key ItemKey) error {
	delete(s.keys, key)
	return nil
}

func (s *fakeSuppressions) SuppressedFor(city string) map[ItemKey]bool {
	out := make(map[ItemKey]bool)
	for k := range s.keys {
		if k.City == city {
			out[k] = true
		}
	}
	return out
}

func testAnalyzer(fetcher *fakeFetcher, store *fakeStore) *Analyzer {
	return NewAnalyzer(fetcher, store, newFakeSuppressions(), FlipConfig{}, nil)
}

func lymhurstQuote(itemID string, buy, sell int64) aodata.Quote {
	return aodata.Quote{
		ItemID: itemID, City: "Lymhurst", Quality: 1,
		BuyPriceMax: buy, SellPriceMin: sell,
		ObservedAt: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC),
	}
}

func lymhurstStats(itemID string, avgVolume float64) ItemStats {
	return ItemStats{
		Key:       NewItemKey(itemID, 1, "Lymhurst"),
		AvgVolume: avgVolume,
		AvgPrice:  1000,
	}
}

func TestRunPass_ComputesAndRanks(t *testing.T) {
	store := newFakeStore()
	store.top["Lymhurst"] = []ItemStats{
		lymhurstStats("T4_BAG", 100),
		lymhurstStats("T5_BAG", 100),
	}
	fetcher := &fakeFetcher{quotes: []aodata.Quote{
		lymhurstQuote("T4_BAG", 2000, 2100), // margin 100
		lymhurstQuote("T5_BAG", 2000, 2500), // margin 500
	}}

	a := testAnalyzer(fetcher, store)
	results, report, err := a.RunPass(context.Background(), PassParams{
		Cities: []string{"Lymhurst"}, SortKey: SortByProfit,
	})
	if err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}
	if report.BatchesFailed != 0 {
		t.Errorf("BatchesFailed = %d, want 0", report.BatchesFailed)
	}
	rows := results["Lymhurst"]
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}
	if rows[0].Key.ItemID != "T5_BAG" {
		t.Errorf("top row = %s, want T5_BAG (higher profit)", rows[0].Key.ItemID)
	}
}

func TestRunPass_IgnoresUntrackedQuotes(t *testing.T) {
	store := newFakeStore()
	store.top["Lymhurst"] = []ItemStats{lymhurstStats("T4_BAG", 100)}
	fetcher := &fakeFetcher{quotes: []aodata.Quote{
		lymhurstQuote("T4_BAG", 2000, 2100),
		lymhurstQuote("T9_UNKNOWN", 10, 9999),
	}}

	a := testAnalyzer(fetcher, store)
	results, _, err := a.RunPass(context.Background(), PassParams{
		Cities: []string{"Lymhurst"}, SortKey: SortByProfit,
	})
	if err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}
	if len(results["Lymhurst"]) != 1 {
		t.Errorf("len(rows) = %d, want 1 (untracked quote must be ignored)", len(results["Lymhurst"]))
	}
}

func TestRunPass_SeedUsedWithoutHistory(t *testing.T) {
	seed := map[string][]TrackedItem{
		"Lymhurst": {{ItemID: "T4_BAG", Name: "Adept's Bag", Quality: 1, DailyVolume: 80, AvgPrice: 2000}},
	}
	fetcher := &fakeFetcher{quotes: []aodata.Quote{lymhurstQuote("T4_BAG", 2000, 2100)}}
	a := NewAnalyzer(fetcher, newFakeStore(), newFakeSuppressions(), FlipConfig{}, seed)

	results, _, err := a.RunPass(context.Background(), PassParams{
		Cities: []string{"Lymhurst"}, SortKey: SortByProfit,
	})
	if err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}
	rows := results["Lymhurst"]
	if len(rows) != 1 {
		t.Fatalf("len(rows) = %d, want 1", len(rows))
	}
	if rows[0].ItemName != "Adept's Bag" {
		t.Errorf("ItemName = %q, want seed name", rows[0].ItemName)
	}
	if rows[0].ExpectedVolume != 80 {
		t.Errorf("ExpectedVolume = %d, want 80 from seed volume", rows[0].ExpectedVolume)
	}
}

func TestRunPass_MaxResultsLimits(t *testing.T) {
	store := newFakeStore()
	var quotes []aodata.Quote
	for _, id := range []string{"T4_BAG", "T5_BAG", "T6_BAG"} {
		store.top["Lymhurst"] = append(store.top["Lymhurst"], lymhurstStats(id, 100))
		quotes = append(quotes, lymhurstQuote(id, 2000, 2500))
	}
	a := testAnalyzer(&fakeFetcher{quotes: quotes}, store)

	results, _, err := a.RunPass(context.Background(), PassParams{
		Cities: []string{"Lymhurst"}, SortKey: SortByProfit, MaxResults: 2,
	})
	if err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}
	if len(results["Lymhurst"]) != 2 {
		t.Errorf("len(rows) = %d, want 2", len(results["Lymhurst"]))
	}
}

func TestEditField_UpdatesRow(t *testing.T) {
	store := newFakeStore()
	store.top["Lymhurst"] = []ItemStats{lymhurstStats("T4_BAG", 100)}
	a := testAnalyzer(&fakeFetcher{quotes: []aodata.Quote{lymhurstQuote("T4_BAG", 2000, 2100)}}, store)
	if _, _, err := a.RunPass(context.Background(), PassParams{Cities: []string{"Lymhurst"}, SortKey: SortByProfit}); err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}

	key := NewItemKey("T4_BAG", 1, "Lymhurst")
	opp, removed, err := a.EditField("Lymhurst", key, FieldSellPrice, 3000)
	if err != nil {
		t.Fatalf("EditField() error = %v", err)
	}
	if removed {
		t.Fatal("removed = true, want row kept")
	}
	if opp.SellPrice != 3000 || opp.FlipMargin != 1000 {
		t.Errorf("edited row = sell %d margin %d, want 3000 / 1000", opp.SellPrice, opp.FlipMargin)
	}
	if got := a.LastPass()["Lymhurst"][0].SellPrice; got != 3000 {
		t.Errorf("LastPass sell price = %d, edit did not stick", got)
	}
}

func TestEditField_RemovesDisqualifiedRow(t *testing.T) {
	store := newFakeStore()
	store.top["Lymhurst"] = []ItemStats{lymhurstStats("T4_BAG", 100)}
	a := testAnalyzer(&fakeFetcher{quotes: []aodata.Quote{lymhurstQuote("T4_BAG", 2000, 2100)}}, store)
	if _, _, err := a.RunPass(context.Background(), PassParams{Cities: []string{"Lymhurst"}, SortKey: SortByProfit}); err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}

	key := NewItemKey("T4_BAG", 1, "Lymhurst")
	_, removed, err := a.EditField("Lymhurst", key, FieldBuyPrice, 2200)
	if err != nil {
		t.Fatalf("EditField() error = %v", err)
	}
	if !removed {
		t.Error("removed = false, want true for a now-unprofitable row")
	}
	if len(a.LastPass()["Lymhurst"]) != 0 {
		t.Error("disqualified row still present in last pass")
	}
}

func TestEditField_UnknownRow(t *testing.T) {
	a := testAnalyzer(&fakeFetcher{}, newFakeStore())
	key := NewItemKey("T4_BAG", 1, "Lymhurst")
	if _, _, err := a.EditField("Lymhurst", key, FieldBuyPrice, 100); err == nil {
		t.Error("EditField() succeeded for a row that does not exist")
	}
}

func TestSuppress_RemovesNowAndFiltersLater(t *testing.T) {
	store := newFakeStore()
	store.top["Lymhurst"] = []ItemStats{
		lymhurstStats("T4_BAG", 100),
		lymhurstStats("T5_BAG", 100),
	}
	fetcher := &fakeFetcher{quotes: []aodata.Quote{
		lymhurstQuote("T4_BAG", 2000, 2100),
		lymhurstQuote("T5_BAG", 2000, 2500),
	}}
	a := testAnalyzer(fetcher, store)
	if _, _, err := a.RunPass(context.Background(), PassParams{Cities: []string{"Lymhurst"}, SortKey: SortByProfit}); err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}

	key := NewItemKey("T5_BAG", 1, "Lymhurst")
	if err := a.Suppress(key); err != nil {
		t.Fatalf("Suppress() error = %v", err)
	}
	for _, row := range a.LastPass()["Lymhurst"] {
		if row.Key == key {
			t.Fatal("suppressed row still in current pass")
		}
	}

	// The suppression survives the next pass.
	if _, _, err := a.RunPass(context.Background(), PassParams{Cities: []string{"Lymhurst"}, SortKey: SortByProfit}); err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}
	for _, row := range a.LastPass()["Lymhurst"] {
		if row.Key == key {
			t.Fatal("suppressed row reappeared on the next pass")
		}
	}

	// Clearing it lets the row come back.
	if err := a.Unsuppress(key); err != nil {
		t.Fatalf("Unsuppress() error = %v", err)
	}
	if _, _, err := a.RunPass(context.Background(), PassParams{Cities: []string{"Lymhurst"}, SortKey: SortByProfit}); err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}
	found := false
	for _, row := range a.LastPass()["Lymhurst"] {
		if row.Key == key {
			found = true
		}
	}
	if !found {
		t.Error("row did not return after unsuppress")
	}
}

func TestRefreshHistory_IngestsOnlyNewPoints(t *testing.T) {
	key := NewItemKey("T4_BAG", 1, "Lymhurst")
	store := newFakeStore()
	store.latest[key] = time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	fetcher := &fakeFetcher{records: []aodata.HistoryRecord{
		{
			Location: "Lymhurst", ItemID: "T4_BAG", Quality: 1,
			Data: []aodata.HistoryPoint{
				{ItemCount: 100, AvgPrice: 2500, Timestamp: "2026-01-01T00:00:00"}, // already stored
				{ItemCount: 110, AvgPrice: 2550, Timestamp: "2026-01-02T00:00:00"}, // equal to latest
				{ItemCount: 120, AvgPrice: 2600, Timestamp: "2026-01-03T00:00:00"}, // new
			},
		},
	}}
	seed := map[string][]TrackedItem{"Lymhurst": {{ItemID: "T4_BAG", Quality: 1}}}
	a := NewAnalyzer(fetcher, store, newFakeSuppressions(), FlipConfig{}, seed)

	ingested, err := a.RefreshHistory(context.Background(), RefreshParams{
		Cities: []string{"Lymhurst"}, TimeScale: 24,
	})
	if err != nil {
		t.Fatalf("RefreshHistory() error = %v", err)
	}
	if ingested != 1 {
		t.Errorf("ingested = %d, want 1 (only the strictly newer point)", ingested)
	}
	if len(store.inserted) != 1 || len(store.inserted[0]) != 1 {
		t.Fatalf("inserted = %v, want one batch of one snapshot", store.inserted)
	}
	if got := store.inserted[0][0].ObservedAt; !got.Equal(time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("inserted ObservedAt = %v, want 2026-01-03", got)
	}
}

func TestRefreshHistory_SkipsNoDataPoints(t *testing.T) {
	fetcher := &fakeFetcher{records: []aodata.HistoryRecord{
		{
			Location: "Lymhurst", ItemID: "T4_BAG", Quality: 1,
			Data: []aodata.HistoryPoint{
				{ItemCount: 0, AvgPrice: 0, Timestamp: "2026-01-01T00:00:00"},
				{ItemCount: 50, AvgPrice: 2500, Timestamp: "bogus"},
			},
		},
	}}
	seed := map[string][]TrackedItem{"Lymhurst": {{ItemID: "T4_BAG", Quality: 1}}}
	store := newFakeStore()
	a := NewAnalyzer(fetcher, store, newFakeSuppressions(), FlipConfig{}, seed)

	ingested, err := a.RefreshHistory(context.Background(), RefreshParams{Cities: []string{"Lymhurst"}, TimeScale: 24})
	if err != nil {
		t.Fatalf("RefreshHistory() error = %v", err)
	}
	if ingested != 0 {
		t.Errorf("ingested = %d, want 0", ingested)
	}
	if len(store.inserted) != 0 {
		t.Errorf("inserted = %v, want nothing", store.inserted)
	}
}

func TestRefreshHistory_PrunesAfterIngest(t *testing.T) {
	seed := map[string][]TrackedItem{"Lymhurst": {{ItemID: "T4_BAG", Quality: 1}}}
	store := newFakeStore()
	a := NewAnalyzer(&fakeFetcher{}, store, newFakeSuppressions(), FlipConfig{}, seed)

	if _, err := a.RefreshHistory(context.Background(), RefreshParams{
		Cities: []string{"Lymhurst"}, TimeScale: 24, Retention: 30 * 24 * time.Hour,
	}); err != nil {
		t.Fatalf("RefreshHistory() error = %v", err)
	}
	if len(store.pruned) != 1 {
		t.Fatalf("Prune called %d times, want 1", len(store.pruned))
	}
	wantCutoff := time.Now().UTC().Add(-30 * 24 * time.Hour)
	if diff := store.pruned[0].Sub(wantCutoff); diff < -time.Minute || diff > time.Minute {
		t.Errorf("prune cutoff = %v, want ~%v", store.pruned[0], wantCutoff)
	}
}
