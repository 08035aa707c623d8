// Package store is the SQLite persistence layer. All writes for one
// competitor's reconciliation go through a single transaction.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps sql.DB with SQLite-specific setup.
type DB struct {
	*sql.DB
}

// Open creates the database file if needed and opens it with WAL mode and a
// busy timeout. The scraper is a single sequential writer, so the pool is
// pinned to one connection.
func Open(dbPath string) (*DB, error) {
	cleanPath := filepath.Clean(dbPath)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)", cleanPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &DB{db}, nil
}

// Migrate creates the schema. Idempotent.
func (db *DB) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS competitors (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			page_id TEXT UNIQUE NOT NULL,
			name TEXT NOT NULL,
			is_active BOOLEAN DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS ads (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			competitor_id INTEGER NOT NULL REFERENCES competitors(id) ON DELETE CASCADE,
			source_ad_id TEXT NOT NULL,
			ad_text TEXT,
			media_type TEXT NOT NULL DEFAULT 'IMAGE',
			media_url TEXT,
			thumbnail_url TEXT,
			local_media_path TEXT,
			media_downloaded BOOLEAN DEFAULT 0,
			cta_type TEXT,
			landing_page_url TEXT,
			platforms TEXT,
			regions TEXT,
			started_running_on DATETIME,
			first_seen_at DATETIME NOT NULL,
			last_seen_at DATETIME NOT NULL,
			days_running INTEGER DEFAULT 0,
			is_active BOOLEAN DEFAULT 1,
			has_low_impressions BOOLEAN DEFAULT 0,
			winner_score INTEGER DEFAULT 0,
			scaling_cluster_id TEXT,
			snapshot_count INTEGER DEFAULT 0,
			UNIQUE(competitor_id, source_ad_id)
		)`,

		`CREATE TABLE IF NOT EXISTS scrape_runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_type TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'RUNNING',
			started_at DATETIME NOT NULL,
			ended_at DATETIME,
			competitors_attempted INTEGER DEFAULT 0,
			competitors_failed INTEGER DEFAULT 0,
			ads_found INTEGER DEFAULT 0,
			new_count INTEGER DEFAULT 0,
			updated_count INTEGER DEFAULT 0,
			removed_count INTEGER DEFAULT 0,
			media_downloaded INTEGER DEFAULT 0,
			errors_count INTEGER DEFAULT 0,
			metadata TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS ad_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ad_id INTEGER NOT NULL REFERENCES ads(id) ON DELETE CASCADE,
			run_id INTEGER NOT NULL REFERENCES scrape_runs(id) ON DELETE CASCADE,
			classification TEXT NOT NULL,
			captured_fields TEXT,
			captured_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS scrape_errors (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id INTEGER NOT NULL REFERENCES scrape_runs(id) ON DELETE CASCADE,
			page_id TEXT,
			category TEXT NOT NULL,
			message TEXT NOT NULL,
			diagnostic_capture TEXT,
			retry_count INTEGER DEFAULT 0,
			occurred_at DATETIME NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_competitors_active ON competitors(is_active)`,
		`CREATE INDEX IF NOT EXISTS idx_ads_competitor ON ads(competitor_id)`,
		`CREATE INDEX IF NOT EXISTS idx_ads_active ON ads(is_active)`,
		`CREATE INDEX IF NOT EXISTS idx_ads_score ON ads(winner_score)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_ad ON ad_snapshots(ad_id)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_run ON ad_snapshots(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON scrape_runs(started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_errors_run ON scrape_errors(run_id)`,
	}

	for _, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.DB.Close()
}
