package db

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/millelog/albion-market-tools/internal/engine"
)

// statsTTL bounds how long a cached aggregate may serve reads. Ingest
// invalidates eagerly; the TTL only covers the window edge drifting as
// time passes.
const statsTTL = time.Minute

type statsCacheKey struct {
	key    engine.ItemKey
	window time.Duration
}

type statsCacheEntry struct {
	stats   engine.ItemStats
	ok      bool
	expires time.Time
}

// statsCache is a read-through cache over queryStats. Concurrent misses
// for the same key collapse into a single query via singleflight.
type statsCache struct {
	db *DB

	mu      sync.RWMutex
	entries map[statsCacheKey]statsCacheEntry
	group   singleflight.Group
}

func newStatsCache(db *DB) *statsCache {
	return &statsCache{
		db:      db,
		entries: make(map[statsCacheKey]statsCacheEntry),
	}
}

func (c *statsCache) get(key engine.ItemKey, window time.Duration) (engine.ItemStats, bool) {
	ck := statsCacheKey{key: key, window: window}

	c.mu.RLock()
	entry, hit := c.entries[ck]
	c.mu.RUnlock()
	if hit && time.Now().Before(entry.expires) {
		return entry.stats, entry.ok
	}

	flightKey := fmt.Sprintf("%s|%s|%d|%d|%d", key.City, key.ItemID, key.Quality, key.Enchant, window)
	v, _, _ := c.group.Do(flightKey, func() (interface{}, error) {
		stats, ok := c.db.queryStats(key, window)
		e := statsCacheEntry{stats: stats, ok: ok, expires: time.Now().Add(statsTTL)}
		c.mu.Lock()
		c.entries[ck] = e
		c.mu.Unlock()
		return e, nil
	})
	e := v.(statsCacheEntry)
	return e.stats, e.ok
}

// invalidate drops every cached window for one item key.
func (c *statsCache) invalidate(key engine.ItemKey) {
	c.mu.Lock()
	for ck := range c.entries {
		if ck.key == key {
			delete(c.entries, ck)
		}
	}
	c.mu.Unlock()
}

func (c *statsCache) invalidateAll() {
	c.mu.Lock()
	c.entries = make(map[statsCacheKey]statsCacheEntry)
	c.mu.Unlock()
}
