package dispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/smartbrite/brited/internal/color"
	"github.com/smartbrite/brited/internal/light"
	"github.com/smartbrite/brited/internal/schedule"
)

// Wire command names.
const (
	cmdSetColor       = "set_color"
	cmdSetBrightness  = "set_brightness"
	cmdSetPower       = "set_power"
	cmdToggle         = "toggle"
	cmdAddSchedule    = "add_schedule"
	cmdRemoveSchedule = "remove_schedule"
	cmdListSchedule   = "list_schedule"
	cmdQueryState     = "query_state"
	cmdReset          = "reset"
)

// Wire error kinds of the response envelope.
const (
	ErrKindMalformedCommand = "MalformedCommand"
	ErrKindInvalidValue     = "InvalidValue"
	ErrKindInvalidColorSpec = "InvalidColorSpec"
	ErrKindDuplicateID      = "DuplicateId"
	ErrKindNotFound         = "NotFound"
)

// command is the decoded wire request. One flat document covers every
// command kind; the dispatcher checks the fields each kind requires.
type command struct {
	Cmd string `json:"cmd"`

	// set_color
	Color *color.Color `json:"color,omitempty"`

	// set_brightness
	Level *int `json:"level,omitempty"`

	// set_power
	On *bool `json:"on,omitempty"`

	// add_schedule / remove_schedule
	ID         string   `json:"id,omitempty"`
	Action     string   `json:"action,omitempty"`
	Recurrence string   `json:"recurrence,omitempty"`
	Time       string   `json:"time,omitempty"`
	At         string   `json:"at,omitempty"`
	Days       []string `json:"days,omitempty"`
}

// Response is the uniform reply envelope.
type Response struct {
	OK      bool            `json:"ok"`
	Error   string          `json:"error,omitempty"`
	ID      string          `json:"id,omitempty"`
	State   *light.Snapshot `json:"state,omitempty"`
	Entries []EntryView     `json:"entries,omitempty"`
}

// EntryView is the wire shape of a schedule entry in list responses.
type EntryView struct {
	ID         string       `json:"id"`
	Action     string       `json:"action"`
	Color      *color.Color `json:"color,omitempty"`
	Recurrence string       `json:"recurrence"`
	Time       string       `json:"time,omitempty"`
	At         string       `json:"at,omitempty"`
	Days       []string     `json:"days,omitempty"`
	Enabled    bool         `json:"enabled"`
	NextFire   time.Time    `json:"next_fire"`
}

// viewOf converts a table snapshot entry to its wire shape.
func viewOf(e schedule.Entry) EntryView {
	v := EntryView{
		ID:         e.ID,
		Action:     string(e.Action.Kind),
		Color:      e.Action.Color,
		Recurrence: string(e.Recur.Kind),
		Enabled:    e.Enabled,
		NextFire:   e.NextFire,
	}
	switch e.Recur.Kind {
	case schedule.RecurOnce:
		v.At = e.Recur.At.Format(time.RFC3339)
	case schedule.RecurDaily:
		v.Time = e.Recur.Time.String()
	case schedule.RecurWeekly:
		v.Time = e.Recur.Time.String()
		for _, d := range e.Recur.Days {
			v.Days = append(v.Days, strings.ToLower(d.String()[:3]))
		}
	}
	return v
}

// buildEntry assembles a schedule entry from an add_schedule command. Shape
// errors come back as ErrInvalidEntry so they map to the InvalidValue kind.
func buildEntry(cmd command) (schedule.Entry, error) {
	e := schedule.Entry{ID: cmd.ID}

	switch cmd.Action {
	case "on":
		e.Action = schedule.Action{Kind: schedule.ActionOn}
	case "off":
		e.Action = schedule.Action{Kind: schedule.ActionOff}
	case "color":
		e.Action = schedule.Action{Kind: schedule.ActionColor, Color: cmd.Color}
	default:
		return e, fmt.Errorf("%w: unknown schedule action %q", schedule.ErrInvalidEntry, cmd.Action)
	}

	switch cmd.Recurrence {
	case "once":
		at, err := time.Parse(time.RFC3339, cmd.At)
		if err != nil {
			return e, fmt.Errorf("%w: bad instant %q", schedule.ErrInvalidEntry, cmd.At)
		}
		e.Recur = schedule.Once(at)
	case "daily":
		tod, err := schedule.ParseTimeOfDay(cmd.Time)
		if err != nil {
			return e, err
		}
		e.Recur = schedule.Daily(tod)
	case "weekly":
		tod, err := schedule.ParseTimeOfDay(cmd.Time)
		if err != nil {
			return e, err
		}
		days, err := parseWeekdays(cmd.Days)
		if err != nil {
			return e, err
		}
		e.Recur = schedule.Weekly(tod, days...)
	default:
		return e, fmt.Errorf("%w: unknown recurrence %q", schedule.ErrInvalidEntry, cmd.Recurrence)
	}

	return e, nil
}

func parseWeekdays(names []string) ([]time.Weekday, error) {
	var days []time.Weekday
	for _, name := range names {
		d, err := parseWeekday(name)
		if err != nil {
			return nil, err
		}
		days = append(days, d)
	}
	return days, nil
}

func parseWeekday(name string) (time.Weekday, error) {
	switch strings.ToLower(name) {
	case "sun", "sunday":
		return time.Sunday, nil
	case "mon", "monday":
		return time.Monday, nil
	case "tue", "tuesday":
		return time.Tuesday, nil
	case "wed", "wednesday":
		return time.Wednesday, nil
	case "thu", "thursday":
		return time.Thursday, nil
	case "fri", "friday":
		return time.Friday, nil
	case "sat", "saturday":
		return time.Saturday, nil
	}
	return time.Sunday, fmt.Errorf("%w: unknown weekday %q", schedule.ErrInvalidEntry, name)
}
