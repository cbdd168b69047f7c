package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/millelog/albion-market-tools/internal/logger"
	_ "modernc.org/sqlite"
)

// DB wraps a SQLite database connection holding historical market snapshots
// and row suppressions.
type DB struct {
	sql       *sql.DB
	window    time.Duration // active stats window for popularity queries
	minPoints int           // observations required before a key may rank
	stats     *statsCache
}

// Open opens (or creates) the SQLite database at path and runs migrations.
// window bounds how far back TopByVolume aggregates; minPoints is how many
// observations a key needs inside the window before it may rank.
func Open(path string, window time.Duration, minPoints int) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	d := &DB{sql: sqlDB, window: window, minPoints: minPoints}
	d.stats = newStatsCache(d)
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	logger.Success("DB", fmt.Sprintf("Opened %s", path))
	return d, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.sql.Close()
}

func (d *DB) migrate() error {
	version := 0
	d.sql.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)

	if version < 1 {
		_, err := d.sql.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

			CREATE TABLE IF NOT EXISTS market_snapshots (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				city        TEXT NOT NULL,
				item_id     TEXT NOT NULL,
				quality     INTEGER NOT NULL,
				enchant     INTEGER NOT NULL,
				item_name   TEXT NOT NULL DEFAULT '',
				price       INTEGER NOT NULL,
				volume      INTEGER NOT NULL,
				observed_at TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_snapshots_key
				ON market_snapshots(city, item_id, quality, enchant, observed_at);
			CREATE INDEX IF NOT EXISTS idx_snapshots_observed
				ON market_snapshots(observed_at);

			CREATE TABLE IF NOT EXISTS suppressions (
				city          TEXT NOT NULL,
				item_id       TEXT NOT NULL,
				quality       INTEGER NOT NULL,
				enchant       INTEGER NOT NULL,
				suppressed_at TEXT NOT NULL,
				PRIMARY KEY (city, item_id, quality, enchant)
			);

			INSERT OR IGNORE INTO schema_version (version) VALUES (1);
		`)
		if err != nil {
			return fmt.Errorf("migration v1: %w", err)
		}
		logger.Info("DB", "Applied migration v1")
	}

	return nil
}

// SqlDB returns the underlying *sql.DB for use by other packages.
func (d *DB) SqlDB() *sql.DB {
	return d.sql
}
