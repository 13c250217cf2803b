// Package db provides the SQLite connection and schema for brited.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection.
type DB struct {
	*sql.DB
}

// Open opens the database and initializes the schema.
func Open(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &DB{db}, nil
}

// initSchema creates all required tables.
func initSchema(db *sql.DB) error {
	// Fired-action ledger: append-only audit of every scheduler firing.
	// The unique index on occurrence_key makes restart-window re-firing a
	// no-op (INSERT OR IGNORE, first writer wins).
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS fired_actions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			occurrence_key TEXT NOT NULL,
			schedule_id TEXT NOT NULL,
			action TEXT NOT NULL,
			fired_at INTEGER NOT NULL
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_fired_occurrence ON fired_actions(occurrence_key);
		CREATE INDEX IF NOT EXISTS idx_fired_at ON fired_actions(fired_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to create fired_actions table: %w", err)
	}

	// Persisted schedule entries, one JSON payload per entry.
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS schedule_entries (
			id TEXT PRIMARY KEY,
			payload TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create schedule_entries table: %w", err)
	}

	// Last light snapshot, restored at boot. Single row.
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS light_state (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			payload TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create light_state table: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}
