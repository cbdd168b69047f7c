package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/millelog/albion-market-tools/internal/config"
	"github.com/millelog/albion-market-tools/internal/db"
	"github.com/millelog/albion-market-tools/internal/engine"
	"github.com/millelog/albion-market-tools/internal/logger"
	"github.com/millelog/albion-market-tools/internal/metrics"
)

// Server is the HTTP API server that connects the market data client,
// analysis engine, and snapshot store.
type Server struct {
	cfg      *config.Config
	analyzer *engine.Analyzer
	db       *db.DB

	mu          sync.RWMutex
	lastScan    time.Time
	lastRefresh time.Time
}

// NewServer creates a Server with the given config, analyzer, and database.
func NewServer(cfg *config.Config, analyzer *engine.Analyzer, database *db.DB) *Server {
	return &Server{cfg: cfg, analyzer: analyzer, db: database}
}

// Handler returns the HTTP handler with all API routes and CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/config", s.handleGetConfig)
	mux.HandleFunc("POST /api/scan", s.handleScan)
	mux.HandleFunc("GET /api/results", s.handleResults)
	mux.HandleFunc("POST /api/history/refresh", s.handleHistoryRefresh)
	mux.HandleFunc("GET /api/top-items/{city}", s.handleTopItems)
	mux.HandleFunc("GET /api/market-stats", s.handleMarketStats)
	mux.HandleFunc("POST /api/rows/edit", s.handleRowEdit)
	mux.HandleFunc("POST /api/rows/suppress", s.handleRowSuppress)
	mux.HandleFunc("POST /api/rows/unsuppress", s.handleRowUnsuppress)
	mux.Handle("GET /metrics", metrics.Handler())
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(204)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	lastScan, lastRefresh := s.lastScan, s.lastRefresh
	s.mu.RUnlock()

	snapshots, _ := s.db.SnapshotCount()
	writeJSON(w, map[string]interface{}{
		"region":       s.cfg.Region,
		"cities":       s.cfg.Cities,
		"snapshots":    snapshots,
		"last_scan":    timeOrNull(lastScan),
		"last_refresh": timeOrNull(lastRefresh),
	})
}

func timeOrNull(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.cfg)
}

type scanRequest struct {
	Cities     []string `json:"cities"`
	SortBy     string   `json:"sort_by"`
	MaxResults int      `json:"max_results"`
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}
	cities := req.Cities
	if len(cities) == 0 {
		cities = s.cfg.Cities
	}
	sortKey, ok := engine.ParseSortKey(req.SortBy)
	if !ok {
		sortKey, _ = engine.ParseSortKey(s.cfg.SortKey)
	}

	start := time.Now()
	results, report, err := s.analyzer.RunPass(r.Context(), engine.PassParams{
		Cities:      cities,
		SortKey:     sortKey,
		TopN:        s.cfg.ItemsToAnalyze,
		MaxResults:  req.MaxResults,
		StatsWindow: s.cfg.StatsWindow(),
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, "scan failed: "+err.Error())
		return
	}

	s.mu.Lock()
	s.lastScan = time.Now()
	s.mu.Unlock()

	total := 0
	for _, rows := range results {
		total += len(rows)
	}
	logger.Success("SCAN", fmt.Sprintf("Found %d opportunities across %d cities in %s",
		total, len(cities), time.Since(start).Round(time.Millisecond)))

	writeJSON(w, map[string]interface{}{
		"results":        results,
		"batches_total":  report.BatchesTotal,
		"batches_failed": report.BatchesFailed,
		"quotes_dropped": report.QuotesDropped,
		"partial":        report.Partial(),
	})
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.analyzer.LastPass())
}

type refreshRequest struct {
	Cities []string `json:"cities"`
}

func (s *Server) handleHistoryRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}
	cities := req.Cities
	if len(cities) == 0 {
		cities = s.cfg.Cities
	}

	ingested, err := s.analyzer.RefreshHistory(r.Context(), engine.RefreshParams{
		Cities:    cities,
		TimeScale: s.cfg.HistoryTimeScale,
		Retention: s.cfg.Retention(),
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, "history refresh failed: "+err.Error())
		return
	}

	s.mu.Lock()
	s.lastRefresh = time.Now()
	s.mu.Unlock()

	logger.Success("HISTORY", fmt.Sprintf("Ingested %d snapshots", ingested))
	writeJSON(w, map[string]int{"ingested": ingested})
}

func (s *Server) handleTopItems(w http.ResponseWriter, r *http.Request) {
	city := r.PathValue("city")
	n := s.cfg.ItemsToAnalyze
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		n = parsed
	}
	writeJSON(w, map[string]interface{}{
		"city":  city,
		"items": s.db.TopByVolume(city, n),
	})
}

func (s *Server) handleMarketStats(w http.ResponseWriter, r *http.Request) {
	city := r.URL.Query().Get("city")
	itemID := r.URL.Query().Get("item_id")
	if city == "" || itemID == "" {
		writeError(w, http.StatusBadRequest, "city and item_id are required")
		return
	}
	quality := 1
	if v := r.URL.Query().Get("quality"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "quality must be an integer")
			return
		}
		quality = parsed
	}

	key := engine.NewItemKey(itemID, quality, city)
	stats, ok := s.db.Stats(key, s.cfg.StatsWindow())
	if !ok {
		writeError(w, http.StatusNotFound, "no historical data for "+itemID+" in "+city)
		return
	}
	writeJSON(w, stats)
}

// rowRef identifies one row of the current pass.
type rowRef struct {
	City    string `json:"city"`
	ItemID  string `json:"item_id"`
	Quality int    `json:"quality"`
}

func (rr rowRef) key() engine.ItemKey {
	return engine.NewItemKey(rr.ItemID, rr.Quality, rr.City)
}

func (rr rowRef) validate() error {
	if rr.City == "" || rr.ItemID == "" {
		return fmt.Errorf("city and item_id are required")
	}
	return nil
}

type editRequest struct {
	rowRef
	Field string `json:"field"`
	Value int64  `json:"value"`
}

func (s *Server) handleRowEdit(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	opp, removed, err := s.analyzer.EditField(req.City, req.key(), engine.PriceField(req.Field), req.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{
		"row":     opp,
		"removed": removed,
	})
}

func (s *Server) handleRowSuppress(w http.ResponseWriter, r *http.Request) {
	var req rowRef
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.analyzer.Suppress(req.key()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]bool{"suppressed": true})
}

func (s *Server) handleRowUnsuppress(w http.ResponseWriter, r *http.Request) {
	var req rowRef
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.analyzer.Unsuppress(req.key()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]bool{"suppressed": false})
}
