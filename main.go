package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/millelog/albion-market-tools/internal/aodata"
	"github.com/millelog/albion-market-tools/internal/api"
	"github.com/millelog/albion-market-tools/internal/config"
	"github.com/millelog/albion-market-tools/internal/db"
	"github.com/millelog/albion-market-tools/internal/engine"
	"github.com/millelog/albion-market-tools/internal/logger"
	"github.com/millelog/albion-market-tools/internal/seed"
)

var version = "dev"

func main() {
	port := flag.Int("port", 0, "HTTP server port (overrides AMT_PORT)")
	region := flag.String("region", "", "market data region: Americas, Asia, or Europe (overrides AMT_REGION)")
	sortBy := flag.String("sort", "", "default sort key: profit or roi (overrides AMT_SORT_KEY)")
	flag.Parse()

	logger.Banner(version)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("CONFIG", fmt.Sprintf("Failed to load config: %v", err))
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Port = *port
	}
	if *region != "" {
		cfg.Region = *region
	}
	if *sortBy != "" {
		cfg.SortKey = *sortBy
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("CONFIG", fmt.Sprintf("Invalid config: %v", err))
		os.Exit(1)
	}

	logger.Section("Configuration")
	logger.Stats("Region", cfg.Region)
	logger.Stats("Cities", len(cfg.Cities))
	logger.Stats("Items per city", cfg.ItemsToAnalyze)
	logger.Stats("Retention days", cfg.RetentionDays)

	database, err := db.Open(cfg.DBPath, cfg.StatsWindow(), cfg.MinDataPoints)
	if err != nil {
		logger.Error("DB", fmt.Sprintf("Failed to open database: %v", err))
		os.Exit(1)
	}
	defer database.Close()

	limiter := aodata.NewLimiter(cfg.RatePerMinute, cfg.RatePer5Minutes)
	client, err := aodata.NewClient(aodata.Region(cfg.Region), limiter)
	if err != nil {
		logger.Error("AODATA", fmt.Sprintf("Failed to create client: %v", err))
		os.Exit(1)
	}

	seeds, err := seed.Load(cfg.SeedDir, cfg.Cities)
	if err != nil {
		logger.Error("SEED", fmt.Sprintf("Failed to load seed lists: %v", err))
		os.Exit(1)
	}

	analyzer := engine.NewAnalyzer(client, database, database, engine.FlipConfig{
		BuyOrderFeeRate:    cfg.BuyOrderFeeRate,
		SellOrderFeeRate:   cfg.SellOrderFeeRate,
		MinProfitThreshold: cfg.MinProfitThreshold,
		VolumeCaptureRate:  cfg.VolumeCaptureRate,
	}, seeds)

	srv := api.NewServer(cfg, analyzer, database)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	logger.Server(addr)
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		logger.Error("Server", fmt.Sprintf("Failed: %v", err))
		os.Exit(1)
	}
}
