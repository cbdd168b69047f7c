// Package metrics provides Prometheus instrumentation for the flip engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// FetchRequestsTotal counts upstream API requests, partitioned by outcome.
	FetchRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "amt_fetch_requests_total",
		Help: "Total requests issued against the market data API",
	}, []string{"endpoint", "outcome"})

	// BatchesFailedTotal counts batches that exhausted their retries.
	BatchesFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "amt_batches_failed_total",
		Help: "Batches dropped after exhausting retries",
	})

	// RateLimitWaitSeconds tracks time spent suspended on the rate limiter.
	RateLimitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "amt_rate_limit_wait_seconds",
		Help:    "Time spent waiting for rate-limit capacity",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
	})

	// SnapshotsIngestedTotal counts historical snapshots written to the store.
	SnapshotsIngestedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "amt_snapshots_ingested_total",
		Help: "Historical snapshots ingested",
	})

	// SnapshotsPrunedTotal counts snapshots removed by retention pruning.
	SnapshotsPrunedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "amt_snapshots_pruned_total",
		Help: "Historical snapshots deleted by retention pruning",
	})

	// OpportunitiesFound tracks ranked opportunities from the last pass, per city.
	OpportunitiesFound = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "amt_opportunities_found",
		Help: "Flip opportunities surfaced by the most recent analysis pass",
	}, []string{"city"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
