// Package aodata is a rate-limited client for the Albion Online Data API.
package aodata

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/millelog/albion-market-tools/internal/metrics"
)

// Region selects which API host to query. Each region runs a separate
// marketplace with its own price data.
type Region string

const (
	RegionAmericas Region = "Americas"
	RegionAsia     Region = "Asia"
	RegionEurope   Region = "Europe"
)

// regionHosts maps regions to their API base URLs.
var regionHosts = map[Region]string{
	RegionAmericas: "https://west.albion-online-data.com",
	RegionAsia:     "https://east.albion-online-data.com",
	RegionEurope:   "https://europe.albion-online-data.com",
}

// Endpoint templates. {locations} and the endpoint-specific parameters are
// filled before batch planning; {items} is filled per batch.
const (
	pricesEndpoint  = "/api/v2/stats/prices/{items}.json?locations={locations}&qualities={qualities}"
	historyEndpoint = "/api/v2/stats/history/{items}.json?locations={locations}&time-scale={scale}"
)

const (
	maxAttempts    = 4
	initialBackoff = 500 * time.Millisecond
)

// Client is a rate-limited HTTP client for the Albion Online Data API.
type Client struct {
	http    *http.Client
	baseURL string
	limiter *Limiter
}

// NewClient creates a client for the given region. The limiter is shared
// process-wide so that concurrent fetch cycles respect one set of ceilings.
func NewClient(region Region, limiter *Limiter) (*Client, error) {
	host, ok := regionHosts[region]
	if !ok {
		return nil, fmt.Errorf("aodata: unknown region %q", region)
	}
	return &Client{
		http:    &http.Client{Timeout: 30 * time.Second},
		baseURL: host,
		limiter: limiter,
	}, nil
}

// BaseURL returns the API host for the client's region.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// getJSON fetches a URL and decodes JSON into dst. It waits for rate-limit
// capacity first, requests a gzip body, and decompresses it itself.
func (c *Client) getJSON(ctx context.Context, url string, dst interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "albion-market-tools/1.0 (github.com/millelog)")
	req.Header.Set("Accept", "application/json")
	// Setting Accept-Encoding manually disables the transport's transparent
	// decompression, so the gzip reader below is on us.
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.FetchRequestsTotal.WithLabelValues(endpointLabel(url), "error").Inc()
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		metrics.FetchRequestsTotal.WithLabelValues(endpointLabel(url), fmt.Sprintf("%d", resp.StatusCode)).Inc()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("aodata: HTTP %d: %s", resp.StatusCode, string(body))
	}
	metrics.FetchRequestsTotal.WithLabelValues(endpointLabel(url), "ok").Inc()

	var body io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return fmt.Errorf("aodata: gzip: %w", err)
		}
		defer gz.Close()
		body = gz
	}
	return json.NewDecoder(body).Decode(dst)
}

// endpointLabel classifies a URL for metrics without leaking item lists
// into label cardinality.
func endpointLabel(url string) string {
	switch {
	case strings.Contains(url, "/stats/prices/"):
		return "prices"
	case strings.Contains(url, "/stats/history/"):
		return "history"
	default:
		return "other"
	}
}
