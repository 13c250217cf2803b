// Package ledger records every fired schedule occurrence. It gives the
// engine restart-safe deduplication (an occurrence fires at most once even
// if the process restarts inside a tick gap) and an audit trail.
package ledger

import (
	"database/sql"
	"time"
)

// Entry is one fired occurrence.
type Entry struct {
	ID            int64
	OccurrenceKey string
	ScheduleID    string
	Action        string
	FiredAt       time.Time
}

// Ledger is the fired-action log backed by SQLite.
type Ledger struct {
	db *sql.DB
}

// New creates a Ledger on the provided database connection.
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// RecordFired logs a fired occurrence. First writer wins: recording the same
// occurrence key twice is a silent no-op, enforced by the unique index.
func (l *Ledger) RecordFired(occurrenceKey, scheduleID, action string, firedAt time.Time) error {
	_, err := l.db.Exec(`
		INSERT OR IGNORE INTO fired_actions (occurrence_key, schedule_id, action, fired_at)
		VALUES (?, ?, ?, ?)
	`, occurrenceKey, scheduleID, action, firedAt.UTC().Unix())
	return err
}

// HasFired reports whether an occurrence was already recorded.
func (l *Ledger) HasFired(occurrenceKey string) bool {
	if occurrenceKey == "" {
		return false
	}

	var exists int
	err := l.db.QueryRow(`
		SELECT 1 FROM fired_actions WHERE occurrence_key = ? LIMIT 1
	`, occurrenceKey).Scan(&exists)

	return err == nil && exists == 1
}

// Recent returns the latest fired occurrences, newest first.
func (l *Ledger) Recent(limit int) ([]Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, occurrence_key, schedule_id, action, fired_at
		FROM fired_actions
		ORDER BY fired_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var firedAt int64
		if err := rows.Scan(&e.ID, &e.OccurrenceKey, &e.ScheduleID, &e.Action, &firedAt); err != nil {
			return nil, err
		}
		e.FiredAt = time.Unix(firedAt, 0).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DeleteOlderThan removes entries outside the retention window.
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UTC().Unix()
	result, err := l.db.Exec(`DELETE FROM fired_actions WHERE fired_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
