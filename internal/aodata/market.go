package aodata

import (
	"context"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/millelog/albion-market-tools/internal/metrics"
)

// maxBatchesInFlight bounds concurrent batch requests. The rate limiter is
// the real ceiling; this just keeps connection use sane.
const maxBatchesInFlight = 4

// apiTimeLayout is the timestamp format used by the market data API.
const apiTimeLayout = "2006-01-02T15:04:05"

// Quote is one current-price record for an (item, quality) in a city.
// Zero prices mean "no data", not a real price; FetchPrices filters entries
// where either side of the flip has no data.
type Quote struct {
	ItemID       string `json:"item_id"`
	City         string `json:"city"`
	Quality      int    `json:"quality"`
	SellPriceMin int64  `json:"sell_price_min"`
	SellPriceMax int64  `json:"sell_price_max"`
	BuyPriceMin  int64  `json:"buy_price_min"`
	BuyPriceMax  int64  `json:"buy_price_max"`

	ObservedAt time.Time `json:"-"` // parsed from the price timestamps
}

// quoteJSON mirrors the raw API response record.
type quoteJSON struct {
	ItemID           string `json:"item_id"`
	City             string `json:"city"`
	Quality          int    `json:"quality"`
	SellPriceMin     int64  `json:"sell_price_min"`
	SellPriceMinDate string `json:"sell_price_min_date"`
	SellPriceMax     int64  `json:"sell_price_max"`
	BuyPriceMin      int64  `json:"buy_price_min"`
	BuyPriceMax      int64  `json:"buy_price_max"`
	BuyPriceMaxDate  string `json:"buy_price_max_date"`
}

// FetchReport describes the outcome of one fetch cycle, so callers can tell
// "some batches missing" apart from "no data at all".
type FetchReport struct {
	BatchesTotal  int
	BatchesFailed int
	QuotesDropped int // zero-price or unresolvable entries
}

// Partial reports whether some batches failed while others succeeded.
func (r FetchReport) Partial() bool {
	return r.BatchesFailed > 0 && r.BatchesFailed < r.BatchesTotal
}

// FetchPrices fetches current price quotes for the given item identifiers
// across the given cities and qualities. Items are deduplicated, split into
// URL-length-bounded batches, and fetched with up to maxBatchesInFlight
// batches concurrently under the shared rate limiter.
//
// A batch that exhausts its retries is dropped and counted in the report;
// the remaining batches' quotes are still returned. Cancelling ctx stops the
// cycle between batches and returns the quotes fetched so far together with
// the context error.
func (c *Client) FetchPrices(ctx context.Context, items []string, cities []string, qualities []int) ([]Quote, FetchReport, error) {
	var report FetchReport

	ids := dedupe(items)
	if len(ids) == 0 {
		return nil, report, nil
	}

	quals := make([]string, len(qualities))
	qualSet := make(map[int]bool, len(qualities))
	for i, q := range qualities {
		quals[i] = strconv.Itoa(q)
		qualSet[q] = true
	}
	citySet := make(map[string]bool, len(cities))
	for _, city := range cities {
		citySet[city] = true
	}
	idSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}

	template := strings.NewReplacer(
		"{locations}", strings.Join(cities, ","),
		"{qualities}", strings.Join(quals, ","),
	).Replace(pricesEndpoint)

	batches, err := SplitIntoBatches(ids, c.baseURL, template, MaxURLLength)
	if err != nil {
		// Configuration error: abort before any network activity.
		return nil, report, err
	}
	report.BatchesTotal = len(batches)

	var mu sync.Mutex
	var quotes []Quote

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxBatchesInFlight)
	for _, batch := range batches {
		g.Go(func() error {
			// Abort between batches, never mid-batch.
			if err := gctx.Err(); err != nil {
				return err
			}
			var raw []quoteJSON
			if err := c.getBatchWithRetry(gctx, batchURL(c.baseURL, template, batch), &raw); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				log.Printf("[aodata] batch of %d items failed: %v", len(batch), err)
				metrics.BatchesFailedTotal.Inc()
				mu.Lock()
				report.BatchesFailed++
				mu.Unlock()
				return nil
			}

			parsed, dropped := parseQuotes(raw, idSet, citySet, qualSet)
			mu.Lock()
			quotes = append(quotes, parsed...)
			report.QuotesDropped += dropped
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return quotes, report, err
	}
	return quotes, report, nil
}

// getBatchWithRetry issues one batch request with bounded exponential backoff.
func (c *Client) getBatchWithRetry(ctx context.Context, url string, dst interface{}) error {
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if serr := sleepCtx(ctx, initialBackoff<<(attempt-1)); serr != nil {
				return serr
			}
		}
		if err = c.getJSON(ctx, url, dst); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return err
}

// parseQuotes converts raw records into Quotes, dropping entries that cannot
// be resolved against the request set and entries with zero prices on either
// side of the flip.
func parseQuotes(raw []quoteJSON, idSet map[string]bool, citySet map[string]bool, qualSet map[int]bool) ([]Quote, int) {
	quotes := make([]Quote, 0, len(raw))
	dropped := 0
	for _, r := range raw {
		if !idSet[r.ItemID] || !citySet[r.City] || (len(qualSet) > 0 && !qualSet[r.Quality]) {
			dropped++
			continue
		}
		if r.BuyPriceMax <= 0 || r.SellPriceMin <= 0 {
			dropped++
			continue
		}
		quotes = append(quotes, Quote{
			ItemID:       r.ItemID,
			City:         r.City,
			Quality:      r.Quality,
			SellPriceMin: r.SellPriceMin,
			SellPriceMax: r.SellPriceMax,
			BuyPriceMin:  r.BuyPriceMin,
			BuyPriceMax:  r.BuyPriceMax,
			ObservedAt:   parseAPITime(r.SellPriceMinDate, r.BuyPriceMaxDate),
		})
	}
	return quotes, dropped
}

// parseAPITime returns the later of the two price timestamps, or the current
// time if neither parses.
func parseAPITime(sellDate, buyDate string) time.Time {
	var best time.Time
	for _, s := range []string{sellDate, buyDate} {
		if t, err := time.Parse(apiTimeLayout, s); err == nil && t.After(best) {
			best = t
		}
	}
	if best.IsZero() {
		return time.Now().UTC().Truncate(time.Second)
	}
	return best
}
