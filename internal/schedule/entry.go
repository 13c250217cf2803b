// Package schedule holds the table of timed light actions and the
// recurrence rules that compute when each entry fires next.
package schedule

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/smartbrite/brited/internal/color"
)

// Sentinel errors surfaced to the command dispatcher.
var (
	ErrDuplicateID  = errors.New("duplicate schedule id")
	ErrNotFound     = errors.New("schedule entry not found")
	ErrInvalidEntry = errors.New("invalid schedule entry")
)

// ActionKind names what a schedule entry does to the light when it fires.
type ActionKind string

const (
	ActionOn    ActionKind = "on"
	ActionOff   ActionKind = "off"
	ActionColor ActionKind = "color"
)

// Action is the operation applied to the light state machine when an entry
// becomes due. Color is set only for ActionColor.
type Action struct {
	Kind  ActionKind   `json:"kind"`
	Color *color.Color `json:"color,omitempty"`
}

// Validate checks the action shape.
func (a Action) Validate() error {
	switch a.Kind {
	case ActionOn, ActionOff:
		return nil
	case ActionColor:
		if a.Color == nil {
			return fmt.Errorf("%w: color action without a color", ErrInvalidEntry)
		}
		return a.Color.Validate()
	default:
		return fmt.Errorf("%w: unknown action kind %q", ErrInvalidEntry, a.Kind)
	}
}

// RecurrenceKind tags the recurrence variant.
type RecurrenceKind string

const (
	RecurOnce   RecurrenceKind = "once"
	RecurDaily  RecurrenceKind = "daily"
	RecurWeekly RecurrenceKind = "weekly"
)

// TimeOfDay is a wall-clock time within a day, minute resolution.
// It travels as "HH:MM" on the wire and in persisted entries.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	// time.Parse rejects trailing text and out-of-range fields, which
	// Sscanf-style parsing would let through.
	parsed, err := time.Parse("15:04", s)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("%w: bad time of day %q", ErrInvalidEntry, s)
	}
	return TimeOfDay{Hour: parsed.Hour(), Minute: parsed.Minute()}, nil
}

// String formats the time as "HH:MM".
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// MarshalJSON implements json.Marshaler.
func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *TimeOfDay) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Recurrence is a tagged variant: once at an absolute instant, daily at a
// time of day, or weekly at a time of day on a set of weekdays.
type Recurrence struct {
	Kind RecurrenceKind `json:"kind"`

	// At is the absolute instant for once entries.
	At time.Time `json:"at,omitempty"`

	// Time is the time of day for daily and weekly entries.
	Time TimeOfDay `json:"time,omitempty"`

	// Days is the weekday set for weekly entries.
	Days []time.Weekday `json:"days,omitempty"`
}

// Once builds a one-shot recurrence firing at the given instant.
func Once(at time.Time) Recurrence {
	return Recurrence{Kind: RecurOnce, At: at}
}

// Daily builds a recurrence firing every day at the given time.
func Daily(t TimeOfDay) Recurrence {
	return Recurrence{Kind: RecurDaily, Time: t}
}

// Weekly builds a recurrence firing at the given time on the given weekdays.
func Weekly(t TimeOfDay, days ...time.Weekday) Recurrence {
	return Recurrence{Kind: RecurWeekly, Time: t, Days: days}
}

// Validate checks the recurrence shape.
func (r Recurrence) Validate() error {
	switch r.Kind {
	case RecurOnce:
		if r.At.IsZero() {
			return fmt.Errorf("%w: once recurrence without an instant", ErrInvalidEntry)
		}
	case RecurDaily:
		// TimeOfDay zero value (00:00) is a valid trigger time.
	case RecurWeekly:
		if len(r.Days) == 0 {
			return fmt.Errorf("%w: weekly recurrence without weekdays", ErrInvalidEntry)
		}
		for _, d := range r.Days {
			if d < time.Sunday || d > time.Saturday {
				return fmt.Errorf("%w: weekday %d out of range", ErrInvalidEntry, d)
			}
		}
	default:
		return fmt.Errorf("%w: unknown recurrence kind %q", ErrInvalidEntry, r.Kind)
	}
	return nil
}

// FirstFire computes the initial trigger time at or after now. Once entries
// fire at their instant even if it is already in the past (the next tick
// picks them up, matching the no-silent-drop rule).
func (r Recurrence) FirstFire(now time.Time, loc *time.Location) time.Time {
	switch r.Kind {
	case RecurOnce:
		return r.At
	case RecurDaily:
		return nextDaily(now, r.Time, loc, true)
	case RecurWeekly:
		return nextWeekly(now, r.Time, r.Days, loc, true)
	}
	return time.Time{}
}

// NextAfter computes the next trigger time strictly after now. For once
// entries it returns the zero time: the table disables them instead.
func (r Recurrence) NextAfter(now time.Time, loc *time.Location) time.Time {
	switch r.Kind {
	case RecurDaily:
		return nextDaily(now, r.Time, loc, false)
	case RecurWeekly:
		return nextWeekly(now, r.Time, r.Days, loc, false)
	}
	return time.Time{}
}

// nextDaily returns the next instant with the given time of day. When
// inclusive, an exact match with now is returned as-is.
func nextDaily(now time.Time, tod TimeOfDay, loc *time.Location, inclusive bool) time.Time {
	local := now.In(loc)
	candidate := time.Date(local.Year(), local.Month(), local.Day(), tod.Hour, tod.Minute, 0, 0, loc)
	if candidate.After(now) || (inclusive && candidate.Equal(now)) {
		return candidate
	}
	return candidate.AddDate(0, 0, 1)
}

// nextWeekly returns the next instant with the given time of day falling on
// one of the given weekdays.
func nextWeekly(now time.Time, tod TimeOfDay, days []time.Weekday, loc *time.Location, inclusive bool) time.Time {
	candidate := nextDaily(now, tod, loc, inclusive)
	for i := 0; i < 7; i++ {
		if weekdayIn(candidate.In(loc).Weekday(), days) {
			return candidate
		}
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}

func weekdayIn(day time.Weekday, days []time.Weekday) bool {
	for _, d := range days {
		if d == day {
			return true
		}
	}
	return false
}

// Entry is a single scheduled action. NextFire is maintained by the table;
// one-shot entries are disabled after firing rather than removed, keeping
// them visible in listings.
type Entry struct {
	ID       string     `json:"id"`
	Action   Action     `json:"action"`
	Recur    Recurrence `json:"recurrence"`
	NextFire time.Time  `json:"next_fire"`
	Enabled  bool       `json:"enabled"`
}

// Validate checks the entry's action and recurrence.
func (e Entry) Validate() error {
	if err := e.Action.Validate(); err != nil {
		return err
	}
	return e.Recur.Validate()
}
