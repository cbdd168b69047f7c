package db

import (
	"fmt"
	"time"

	"github.com/millelog/albion-market-tools/internal/engine"
)

// Suppress hides a key from ranked output until explicitly cleared.
// Suppressing an already-suppressed key is a no-op.
func (d *DB) Suppress(key engine.ItemKey) error {
	_, err := d.sql.Exec(`
		INSERT OR IGNORE INTO suppressions (city, item_id, quality, enchant, suppressed_at)
		VALUES (?, ?, ?, ?, ?)
	`, key.City, key.ItemID, key.Quality, key.Enchant,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("suppress %s: %w", key.ItemID, err)
	}
	return nil
}

// Unsuppress clears a suppression. Clearing a key that was never
// suppressed is a no-op.
func (d *DB) Unsuppress(key engine.ItemKey) error {
	_, err := d.sql.Exec(`
		DELETE FROM suppressions
		WHERE city = ? AND item_id = ? AND quality = ? AND enchant = ?
	`, key.City, key.ItemID, key.Quality, key.Enchant)
	if err != nil {
		return fmt.Errorf("unsuppress %s: %w", key.ItemID, err)
	}
	return nil
}

// SuppressedFor returns the set of suppressed keys in a city.
func (d *DB) SuppressedFor(city string) map[engine.ItemKey]bool {
	rows, err := d.sql.Query(`
		SELECT city, item_id, quality, enchant FROM suppressions WHERE city = ?
	`, city)
	if err != nil {
		return nil
	}
	defer rows.Close()

	out := make(map[engine.ItemKey]bool)
	for rows.Next() {
		var k engine.ItemKey
		if err := rows.Scan(&k.City, &k.ItemID, &k.Quality, &k.Enchant); err != nil {
			continue
		}
		out[k] = true
	}
	return out
}
