// Package seed loads per-city lists of popular items used to bootstrap
// analysis before the snapshot store has enough history to rank items
// itself.
package seed

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/millelog/albion-market-tools/internal/engine"
	"github.com/millelog/albion-market-tools/internal/logger"
)

// Item is one seed record as stored on disk.
type Item struct {
	UniqueName   string  `json:"unique_name"`
	Name         string  `json:"name"`
	Quality      int     `json:"quality"`
	DailyVolume  float64 `json:"daily_volume"`
	AveragePrice float64 `json:"average_price"`
}

// Load reads one seed file per city from dir. File names derive from the
// city name lowercased with spaces collapsed ("Fort Sterling" reads
// fort_sterling.json). A missing file is logged and skipped; the city
// just has no seed list.
func Load(dir string, cities []string) (map[string][]engine.TrackedItem, error) {
	out := make(map[string][]engine.TrackedItem, len(cities))
	for _, city := range cities {
		path := filepath.Join(dir, FileName(city))
		items, err := loadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				logger.Warn("SEED", fmt.Sprintf("No seed file for %s (%s)", city, path))
				continue
			}
			return nil, fmt.Errorf("seed for %s: %w", city, err)
		}
		out[city] = items
		logger.Info("SEED", fmt.Sprintf("Loaded %d items for %s", len(items), city))
	}
	return out, nil
}

// FileName returns the seed file name for a city.
func FileName(city string) string {
	name := strings.ToLower(strings.ReplaceAll(city, " ", "_"))
	return name + ".json"
}

func loadFile(path string) ([]engine.TrackedItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw []Item
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	items := make([]engine.TrackedItem, 0, len(raw))
	for _, r := range raw {
		if r.UniqueName == "" {
			continue
		}
		quality := r.Quality
		if quality <= 0 {
			quality = 1
		}
		items = append(items, engine.TrackedItem{
			ItemID:      r.UniqueName,
			Name:        r.Name,
			Quality:     quality,
			DailyVolume: r.DailyVolume,
			AvgPrice:    r.AveragePrice,
		})
	}
	return items, nil
}
