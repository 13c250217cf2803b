package schedule

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Table is the ordered collection of schedule entries, keyed by id and kept
// sorted by (next-fire-time, id) for the due scan. All methods are safe for
// concurrent use; mutations never overlap reads.
type Table struct {
	mu      sync.RWMutex
	loc     *time.Location
	entries map[string]*Entry
	order   []*Entry
}

// NewTable creates an empty table. Time-of-day recurrences are evaluated in
// the given location.
func NewTable(loc *time.Location) *Table {
	if loc == nil {
		loc = time.UTC
	}
	return &Table{
		loc:     loc,
		entries: make(map[string]*Entry),
	}
}

// Location returns the table's timezone.
func (t *Table) Location() *time.Location {
	return t.loc
}

// Add validates and inserts an entry, computing its first trigger time from
// now. An empty id requests auto-generation. Returns the entry id, or
// ErrDuplicateID if the id is already present.
func (t *Table) Add(e Entry, now time.Time) (string, error) {
	if err := e.Validate(); err != nil {
		return "", err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	} else if _, exists := t.entries[e.ID]; exists {
		return "", ErrDuplicateID
	}

	e.Enabled = true
	e.NextFire = e.Recur.FirstFire(now, t.loc)

	stored := e
	t.entries[stored.ID] = &stored
	t.order = append(t.order, &stored)
	t.resort()

	log.Debug().
		Str("id", stored.ID).
		Str("action", string(stored.Action.Kind)).
		Str("recurrence", string(stored.Recur.Kind)).
		Time("next_fire", stored.NextFire).
		Msg("Schedule entry added")

	return stored.ID, nil
}

// Remove deletes an entry. Removing an absent id returns ErrNotFound, which
// callers treat as non-fatal for "already removed".
func (t *Table) Remove(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[id]; !exists {
		return ErrNotFound
	}
	delete(t.entries, id)
	for i, e := range t.order {
		if e.ID == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}

	log.Debug().Str("id", id).Msg("Schedule entry removed")
	return nil
}

// Due returns snapshots of all enabled entries whose next-fire-time is at or
// before now, in (trigger-time, id) order. Pure query, no mutation.
func (t *Table) Due(now time.Time) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var due []Entry
	for _, e := range t.order {
		if e.NextFire.After(now) {
			break
		}
		if e.Enabled {
			due = append(due, *e)
		}
	}
	return due
}

// Advance moves an entry past its current trigger time: recurring entries
// get the next occurrence strictly after now, one-shot entries are disabled
// in place.
func (t *Table) Advance(id string, now time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, exists := t.entries[id]
	if !exists {
		return ErrNotFound
	}

	if e.Recur.Kind == RecurOnce {
		e.Enabled = false
	} else {
		e.NextFire = e.Recur.NextAfter(now, t.loc)
	}
	t.resort()

	log.Debug().
		Str("id", id).
		Bool("enabled", e.Enabled).
		Time("next_fire", e.NextFire).
		Msg("Schedule entry advanced")
	return nil
}

// List returns snapshots of all entries in (trigger-time, id) order,
// disabled ones included.
func (t *Table) List() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Entry, 0, len(t.order))
	for _, e := range t.order {
		out = append(out, *e)
	}
	return out
}

// Len returns the number of entries, disabled ones included.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Restore loads persisted entries. Recurring entries get a fresh trigger
// time computed from now so that occurrences missed while powered off are
// not replayed; one-shot entries keep their stored instant. Invalid entries
// are skipped and counted.
func (t *Table) Restore(entries []Entry, now time.Time) (loaded, skipped int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, e := range entries {
		if e.ID == "" || e.Validate() != nil {
			skipped++
			continue
		}
		if _, exists := t.entries[e.ID]; exists {
			skipped++
			continue
		}
		if e.Recur.Kind != RecurOnce && e.Enabled {
			e.NextFire = e.Recur.FirstFire(now, t.loc)
		}
		stored := e
		t.entries[stored.ID] = &stored
		t.order = append(t.order, &stored)
		loaded++
	}
	t.resort()
	return loaded, skipped
}

// resort re-establishes (next-fire-time, id) order. Caller holds the lock.
func (t *Table) resort() {
	sort.Slice(t.order, func(i, j int) bool {
		if !t.order[i].NextFire.Equal(t.order[j].NextFire) {
			return t.order[i].NextFire.Before(t.order[j].NextFire)
		}
		return t.order[i].ID < t.order[j].ID
	})
}
