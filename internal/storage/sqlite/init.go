package sqlite

import (
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite database at path and creates the schema if it
// doesn't exist.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS models (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		resource_id TEXT NOT NULL,
		backend TEXT NOT NULL,
		location TEXT NOT NULL,
		total_size INTEGER NOT NULL,
		download_date DATETIME NOT NULL,
		metadata TEXT
	)`); err != nil {
		return nil, fmt.Errorf("failed to create models table: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS download_history (
		id INTEGER PRIMARY KEY,
		resource_id TEXT NOT NULL,
		identity TEXT NOT NULL,
		backend TEXT NOT NULL,
		status TEXT NOT NULL,
		bytes INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		instance_id TEXT,
		occurred_at DATETIME NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("failed to create download_history table: %w", err)
	}

	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_history_resource
		ON download_history (resource_id, occurred_at)`); err != nil {
		return nil, fmt.Errorf("failed to create history index: %w", err)
	}

	return db, nil
}
