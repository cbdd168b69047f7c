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

// HistoryPoint is one bucket of an item's traded-volume time series.
type HistoryPoint struct {
	ItemCount int64   `json:"item_count"`
	AvgPrice  float64 `json:"avg_price"`
	Timestamp string  `json:"timestamp"`
}

// Time parses the point's timestamp. Returns the zero time if unparseable.
func (p HistoryPoint) Time() time.Time {
	t, err := time.Parse(apiTimeLayout, p.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

// HistoryRecord is the traded-volume time series for one (item, quality)
// in one city.
type HistoryRecord struct {
	Location string         `json:"location"`
	ItemID   string         `json:"item_id"`
	Quality  int            `json:"quality"`
	Data     []HistoryPoint `json:"data"`
}

// FetchHistory fetches price/volume history for the given items across the
// given cities, bucketed at timeScale hours per point. Batching, retries,
// partial failure, and cancellation behave exactly as in FetchPrices.
func (c *Client) FetchHistory(ctx context.Context, items []string, cities []string, timeScale int) ([]HistoryRecord, FetchReport, error) {
	var report FetchReport

	ids := dedupe(items)
	if len(ids) == 0 {
		return nil, report, nil
	}

	template := strings.NewReplacer(
		"{locations}", strings.Join(cities, ","),
		"{scale}", strconv.Itoa(timeScale),
	).Replace(historyEndpoint)

	batches, err := SplitIntoBatches(ids, c.baseURL, template, MaxURLLength)
	if err != nil {
		return nil, report, err
	}
	report.BatchesTotal = len(batches)

	idSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}
	citySet := make(map[string]bool, len(cities))
	for _, city := range cities {
		citySet[city] = true
	}

	var mu sync.Mutex
	var records []HistoryRecord

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxBatchesInFlight)
	for _, batch := range batches {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			var raw []HistoryRecord
			if err := c.getBatchWithRetry(gctx, batchURL(c.baseURL, template, batch), &raw); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				log.Printf("[aodata] history batch of %d items failed: %v", len(batch), err)
				metrics.BatchesFailedTotal.Inc()
				mu.Lock()
				report.BatchesFailed++
				mu.Unlock()
				return nil
			}

			mu.Lock()
			for _, r := range raw {
				if !idSet[r.ItemID] || !citySet[r.Location] {
					report.QuotesDropped++
					continue
				}
				records = append(records, r)
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return records, report, err
	}
	return records, report, nil
}
