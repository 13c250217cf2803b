// Package storage persists the schedule table and the last light snapshot
// across power cycles, as JSON payload rows in SQLite. Loading tolerates
// corrupt rows: invalid entries are skipped and counted, never fatal.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/smartbrite/brited/internal/light"
	"github.com/smartbrite/brited/internal/schedule"
)

// Store reads and writes persisted state.
type Store struct {
	db *sql.DB
}

// New creates a Store on the provided database connection.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// SaveEntries replaces the persisted schedule with the given entries.
func (s *Store) SaveEntries(entries []schedule.Entry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM schedule_entries`); err != nil {
		return fmt.Errorf("failed to clear schedule entries: %w", err)
	}

	now := time.Now().UTC().Unix()
	for _, e := range entries {
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal entry %s: %w", e.ID, err)
		}
		if _, err := tx.Exec(`
			INSERT INTO schedule_entries (id, payload, updated_at) VALUES (?, ?, ?)
		`, e.ID, string(payload), now); err != nil {
			return fmt.Errorf("failed to insert entry %s: %w", e.ID, err)
		}
	}

	return tx.Commit()
}

// LoadEntries reads all persisted schedule entries. Rows that fail to decode
// or validate are skipped; the skipped count is returned for reporting.
func (s *Store) LoadEntries() (entries []schedule.Entry, skipped int, err error) {
	rows, err := s.db.Query(`SELECT id, payload FROM schedule_entries`)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, skipped, err
		}

		var e schedule.Entry
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			log.Warn().Str("id", id).Err(err).Msg("Skipping undecodable schedule entry")
			skipped++
			continue
		}
		if err := e.Validate(); err != nil {
			log.Warn().Str("id", id).Err(err).Msg("Skipping invalid schedule entry")
			skipped++
			continue
		}
		entries = append(entries, e)
	}
	return entries, skipped, rows.Err()
}

// SaveSnapshot persists the light snapshot (single row, last writer wins).
func (s *Store) SaveSnapshot(snap light.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal light snapshot: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO light_state (id, payload, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at
	`, string(payload), time.Now().UTC().Unix())
	return err
}

// Clear drops the persisted schedule and snapshot. Used by the reset
// command and the --reset-state startup flag.
func (s *Store) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM schedule_entries`); err != nil {
		return fmt.Errorf("failed to clear schedule entries: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM light_state`); err != nil {
		return fmt.Errorf("failed to clear light state: %w", err)
	}
	return nil
}

// LoadSnapshot reads the persisted light snapshot. Returns nil without error
// when none is stored or the stored payload is invalid.
func (s *Store) LoadSnapshot() (*light.Snapshot, error) {
	var payload string
	err := s.db.QueryRow(`SELECT payload FROM light_state WHERE id = 1`).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var snap light.Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		log.Warn().Err(err).Msg("Skipping undecodable light snapshot")
		return nil, nil
	}
	if err := snap.Color.Validate(); err != nil {
		log.Warn().Err(err).Msg("Skipping invalid light snapshot")
		return nil, nil
	}
	return &snap, nil
}
