package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/millelog/albion-market-tools/internal/engine"
	"github.com/millelog/albion-market-tools/internal/metrics"
)

// InsertSnapshot appends a single historical observation.
func (d *DB) InsertSnapshot(s engine.Snapshot) error {
	return d.InsertSnapshots([]engine.Snapshot{s})
}

// InsertSnapshots appends a batch of historical observations in one
// transaction: either every snapshot lands or none do. The store is
// append-only; callers must not re-insert observations already present
// for a key, as duplicates would double-count in every aggregate.
func (d *DB) InsertSnapshots(snaps []engine.Snapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	tx, err := d.sql.Begin()
	if err != nil {
		return fmt.Errorf("begin insert snapshots: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO market_snapshots (city, item_id, quality, enchant, item_name, price, volume, observed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert snapshots: %w", err)
	}
	defer stmt.Close()

	for _, s := range snaps {
		_, err := stmt.Exec(
			s.Key.City, s.Key.ItemID, s.Key.Quality, s.Key.Enchant,
			s.ItemName, s.Price, s.Volume,
			s.ObservedAt.UTC().Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("insert snapshot %s: %w", s.Key.ItemID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert snapshots: %w", err)
	}

	for _, s := range snaps {
		d.stats.invalidate(s.Key)
	}
	metrics.SnapshotsIngestedTotal.Add(float64(len(snaps)))
	return nil
}

// LatestObservation returns the newest observed_at for a key, if any
// snapshot exists for it.
func (d *DB) LatestObservation(key engine.ItemKey) (time.Time, bool) {
	var raw sql.NullString
	err := d.sql.QueryRow(`
		SELECT MAX(observed_at) FROM market_snapshots
		WHERE city = ? AND item_id = ? AND quality = ? AND enchant = ?
	`, key.City, key.ItemID, key.Quality, key.Enchant).Scan(&raw)
	if err != nil || !raw.Valid {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, raw.String)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Stats aggregates a key's snapshots within the window ending now. The
// second return is false when no snapshots fall inside the window: a key
// with no history has no stats, rather than zero-valued ones.
func (d *DB) Stats(key engine.ItemKey, window time.Duration) (engine.ItemStats, bool) {
	return d.stats.get(key, window)
}

// queryStats is the uncached aggregate behind Stats. The whole aggregate
// runs as one statement, so it always sees a consistent view even with
// concurrent ingest or prune.
func (d *DB) queryStats(key engine.ItemKey, window time.Duration) (engine.ItemStats, bool) {
	now := time.Now().UTC()
	cutoff := now.Add(-window)

	var (
		count       int64
		sumVolume   int64
		priceVolume float64
		plainAvg    float64
		name        string
	)
	err := d.sql.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(volume), 0),
		       COALESCE(SUM(price * volume), 0),
		       COALESCE(AVG(price), 0),
		       COALESCE(MAX(item_name), '')
		FROM market_snapshots
		WHERE city = ? AND item_id = ? AND quality = ? AND enchant = ?
		  AND observed_at > ?
	`, key.City, key.ItemID, key.Quality, key.Enchant,
		cutoff.Format(time.RFC3339)).Scan(&count, &sumVolume, &priceVolume, &plainAvg, &name)
	if err != nil || count == 0 {
		return engine.ItemStats{}, false
	}

	// Volume-weighted average; falls back to the plain mean when every
	// point in the window traded zero volume.
	avgPrice := plainAvg
	if sumVolume > 0 {
		avgPrice = priceVolume / float64(sumVolume)
	}

	return engine.ItemStats{
		Key:         key,
		ItemName:    name,
		AvgPrice:    avgPrice,
		AvgVolume:   float64(sumVolume) / float64(count),
		DataPoints:  int(count),
		WindowStart: cutoff,
		WindowEnd:   now,
	}, true
}

// TopByVolume ranks a city's keys by average traded volume within the
// store's active window. Ties break by higher weighted average price,
// then item_id ascending, then quality, then enchant, so the ranking is
// strict and stable across calls.
func (d *DB) TopByVolume(city string, n int) []engine.ItemStats {
	now := time.Now().UTC()
	cutoff := now.Add(-d.window)

	rows, err := d.sql.Query(`
		SELECT item_id, quality, enchant,
		       COALESCE(MAX(item_name), ''),
		       COUNT(*),
		       COALESCE(SUM(volume), 0),
		       COALESCE(SUM(price * volume), 0),
		       COALESCE(AVG(price), 0)
		FROM market_snapshots
		WHERE city = ? AND observed_at > ?
		GROUP BY item_id, quality, enchant
		HAVING COUNT(*) >= ?
		ORDER BY CAST(SUM(volume) AS REAL) / COUNT(*) DESC,
		         CASE WHEN SUM(volume) > 0
		              THEN CAST(SUM(price * volume) AS REAL) / SUM(volume)
		              ELSE AVG(price) END DESC,
		         item_id ASC, quality ASC, enchant ASC
		LIMIT ?
	`, city, cutoff.Format(time.RFC3339), d.minPoints, n)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var out []engine.ItemStats
	for rows.Next() {
		var (
			s           engine.ItemStats
			count       int64
			sumVolume   int64
			priceVolume float64
			plainAvg    float64
		)
		s.Key.City = city
		if err := rows.Scan(&s.Key.ItemID, &s.Key.Quality, &s.Key.Enchant,
			&s.ItemName, &count, &sumVolume, &priceVolume, &plainAvg); err != nil {
			continue
		}
		s.AvgPrice = plainAvg
		if sumVolume > 0 {
			s.AvgPrice = priceVolume / float64(sumVolume)
		}
		s.AvgVolume = float64(sumVolume) / float64(count)
		s.DataPoints = int(count)
		s.WindowStart = cutoff
		s.WindowEnd = now
		out = append(out, s)
	}
	return out
}

// Prune deletes every snapshot observed at or before the cutoff and
// returns how many were removed. A cutoff equal to the newest observation
// leaves exactly the strictly-newer snapshots in place.
func (d *DB) Prune(olderThan time.Time) (int64, error) {
	res, err := d.sql.Exec(`
		DELETE FROM market_snapshots WHERE observed_at <= ?
	`, olderThan.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		d.stats.invalidateAll()
		metrics.SnapshotsPrunedTotal.Add(float64(n))
	}
	return n, nil
}

// StaleKeys returns every key whose newest observation is older than
// maxAge, i.e. items whose history has gone quiet and needs a refresh.
func (d *DB) StaleKeys(maxAge time.Duration) ([]engine.ItemKey, error) {
	cutoff := time.Now().UTC().Add(-maxAge)

	rows, err := d.sql.Query(`
		SELECT city, item_id, quality, enchant
		FROM market_snapshots
		GROUP BY city, item_id, quality, enchant
		HAVING MAX(observed_at) < ?
		ORDER BY city, item_id, quality, enchant
	`, cutoff.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("stale keys: %w", err)
	}
	defer rows.Close()

	var keys []engine.ItemKey
	for rows.Next() {
		var k engine.ItemKey
		if err := rows.Scan(&k.City, &k.ItemID, &k.Quality, &k.Enchant); err != nil {
			return nil, fmt.Errorf("scan stale key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// SnapshotCount returns the total number of stored snapshots.
func (d *DB) SnapshotCount() (int64, error) {
	var n int64
	err := d.sql.QueryRow("SELECT COUNT(*) FROM market_snapshots").Scan(&n)
	return n, err
}
