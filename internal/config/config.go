// Package config holds application settings with env-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application settings (in-memory representation).
type Config struct {
	Region string   `json:"region"` // Americas | Asia | Europe
	Cities []string `json:"cities"`

	// Market fees, as fractions of the respective price.
	BuyOrderFeeRate  float64 `json:"buy_order_fee_rate"`
	SellOrderFeeRate float64 `json:"sell_order_fee_rate"`

	// Analysis parameters.
	MinProfitThreshold int64   `json:"min_profit_threshold"`
	VolumeCaptureRate  float64 `json:"volume_capture_rate"` // fraction of daily volume one order captures
	ItemsToAnalyze     int     `json:"items_to_analyze"`    // tracked items per city
	SortKey            string  `json:"sort_key"`            // profit | roi

	// Historical store.
	DBPath           string `json:"db_path"`
	RetentionDays    int    `json:"retention_days"`
	MinDataPoints    int    `json:"min_data_points"`
	HistoryTimeScale int    `json:"history_time_scale"` // hours per history bucket

	// Rate limiting (upstream API ceilings).
	RatePerMinute   int `json:"rate_per_minute"`
	RatePer5Minutes int `json:"rate_per_5_minutes"`

	// HTTP server.
	Port int `json:"port"`

	// Popular-items seed lists, one JSON file per city.
	SeedDir string `json:"seed_dir"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Region:             "Europe",
		Cities:             []string{"Lymhurst", "Fort Sterling", "Bridgewatch", "Martlock", "Thetford", "Caerleon"},
		BuyOrderFeeRate:    0.025,
		SellOrderFeeRate:   0.025,
		MinProfitThreshold: 10000,
		VolumeCaptureRate:  0.10,
		ItemsToAnalyze:     50,
		SortKey:            "profit",
		DBPath:             "market.db",
		RetentionDays:      30,
		MinDataPoints:      3,
		HistoryTimeScale:   24,
		RatePerMinute:      180,
		RatePer5Minutes:    300,
		Port:               13380,
		SeedDir:            "popular_items",
	}
}

// Load builds a Config from defaults, a .env file if present, and environment
// variables. Priority: environment > .env > defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	cfg.Region = getEnv("AMT_REGION", cfg.Region)
	if cities := getEnv("AMT_CITIES", ""); cities != "" {
		cfg.Cities = splitCSV(cities)
	}
	cfg.BuyOrderFeeRate = getEnvFloat("AMT_BUY_ORDER_FEE_RATE", cfg.BuyOrderFeeRate)
	cfg.SellOrderFeeRate = getEnvFloat("AMT_SELL_ORDER_FEE_RATE", cfg.SellOrderFeeRate)
	cfg.MinProfitThreshold = int64(getEnvInt("AMT_MIN_PROFIT_THRESHOLD", int(cfg.MinProfitThreshold)))
	cfg.VolumeCaptureRate = getEnvFloat("AMT_VOLUME_CAPTURE_RATE", cfg.VolumeCaptureRate)
	cfg.ItemsToAnalyze = getEnvInt("AMT_ITEMS_TO_ANALYZE", cfg.ItemsToAnalyze)
	cfg.SortKey = getEnv("AMT_SORT_KEY", cfg.SortKey)
	cfg.DBPath = getEnv("AMT_DB_PATH", cfg.DBPath)
	cfg.RetentionDays = getEnvInt("AMT_RETENTION_DAYS", cfg.RetentionDays)
	cfg.MinDataPoints = getEnvInt("AMT_MIN_DATA_POINTS", cfg.MinDataPoints)
	cfg.HistoryTimeScale = getEnvInt("AMT_HISTORY_TIME_SCALE", cfg.HistoryTimeScale)
	cfg.RatePerMinute = getEnvInt("AMT_RATE_PER_MINUTE", cfg.RatePerMinute)
	cfg.RatePer5Minutes = getEnvInt("AMT_RATE_PER_5_MINUTES", cfg.RatePer5Minutes)
	cfg.Port = getEnvInt("AMT_PORT", cfg.Port)
	cfg.SeedDir = getEnv("AMT_SEED_DIR", cfg.SeedDir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks that configuration values are usable.
func (c *Config) Validate() error {
	switch c.Region {
	case "Americas", "Asia", "Europe":
	default:
		return fmt.Errorf("unknown region %q", c.Region)
	}
	if len(c.Cities) == 0 {
		return fmt.Errorf("at least one city is required")
	}
	if c.BuyOrderFeeRate < 0 || c.BuyOrderFeeRate >= 1 {
		return fmt.Errorf("buy_order_fee_rate must be in [0, 1)")
	}
	if c.SellOrderFeeRate < 0 || c.SellOrderFeeRate >= 1 {
		return fmt.Errorf("sell_order_fee_rate must be in [0, 1)")
	}
	if c.VolumeCaptureRate <= 0 || c.VolumeCaptureRate > 1 {
		return fmt.Errorf("volume_capture_rate must be in (0, 1]")
	}
	if c.SortKey != "profit" && c.SortKey != "roi" {
		return fmt.Errorf("sort_key must be profit or roi, got %q", c.SortKey)
	}
	if c.RatePerMinute < 1 || c.RatePer5Minutes < 1 {
		return fmt.Errorf("rate ceilings must be at least 1")
	}
	if c.RetentionDays < 1 {
		return fmt.Errorf("retention_days must be at least 1")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	return nil
}

// StatsWindow is how far back historical aggregates look. It matches the
// retention horizon: everything still stored participates.
func (c *Config) StatsWindow() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// Retention is the age past which snapshots are pruned.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an environment variable as an integer or returns a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat retrieves an environment variable as a float64 or returns a default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}
