// Package dispatch decodes wire commands, routes them to the light state
// machine or the schedule table, and encodes the uniform response envelope.
// Component errors never escape: each is mapped to a wire error kind.
package dispatch

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/smartbrite/brited/internal/color"
	"github.com/smartbrite/brited/internal/eventbus"
	"github.com/smartbrite/brited/internal/light"
	"github.com/smartbrite/brited/internal/schedule"
)

// Clock supplies the current time for command application.
type Clock func() time.Time

// Dispatcher is the command entry point for the transport adapter.
type Dispatcher struct {
	lights *light.Machine
	table  *schedule.Table
	bus    *eventbus.Bus
	clock  Clock
}

// New creates a dispatcher. A nil clock means time.Now.
func New(lights *light.Machine, table *schedule.Table, bus *eventbus.Bus, clock Clock) *Dispatcher {
	if clock == nil {
		clock = time.Now
	}
	return &Dispatcher{lights: lights, table: table, bus: bus, clock: clock}
}

// Handle processes one complete logical command and returns the response
// document. Decode failures return a MalformedCommand envelope without
// touching any state.
func (d *Dispatcher) Handle(raw []byte) []byte {
	var cmd command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		log.Debug().Err(err).Msg("Undecodable command")
		if errors.Is(err, color.ErrInvalidColorSpec) {
			return encode(Response{OK: false, Error: ErrKindInvalidColorSpec})
		}
		return encode(Response{OK: false, Error: ErrKindMalformedCommand})
	}

	log.Debug().Str("cmd", cmd.Cmd).Msg("Handling command")

	resp := d.route(cmd)
	return encode(resp)
}

func (d *Dispatcher) route(cmd command) Response {
	now := d.clock()

	switch cmd.Cmd {
	case cmdSetColor:
		if cmd.Color == nil {
			return fail(color.ErrInvalidColorSpec)
		}
		if err := d.lights.SetColor(*cmd.Color, now); err != nil {
			return fail(err)
		}
		d.notifyState()
		return Response{OK: true}

	case cmdSetBrightness:
		if cmd.Level == nil {
			return Response{OK: false, Error: ErrKindMalformedCommand}
		}
		if err := d.lights.SetBrightness(*cmd.Level, now); err != nil {
			return fail(err)
		}
		d.notifyState()
		return Response{OK: true}

	case cmdSetPower:
		if cmd.On == nil {
			return Response{OK: false, Error: ErrKindMalformedCommand}
		}
		d.lights.SetPower(*cmd.On, now)
		d.notifyState()
		return Response{OK: true}

	case cmdToggle:
		d.lights.Toggle(now)
		d.notifyState()
		return Response{OK: true}

	case cmdReset:
		d.lights.Reset(now)
		d.notifyState()
		return Response{OK: true}

	case cmdAddSchedule:
		entry, err := buildEntry(cmd)
		if err != nil {
			return fail(err)
		}
		id, err := d.table.Add(entry, now)
		if err != nil {
			return fail(err)
		}
		d.notifySchedule()
		return Response{OK: true, ID: id}

	case cmdRemoveSchedule:
		if err := d.table.Remove(cmd.ID); err != nil {
			return fail(err)
		}
		d.notifySchedule()
		return Response{OK: true}

	case cmdListSchedule:
		entries := d.table.List()
		views := make([]EntryView, 0, len(entries))
		for _, e := range entries {
			views = append(views, viewOf(e))
		}
		return Response{OK: true, Entries: views}

	case cmdQueryState:
		snap := d.lights.Snapshot()
		return Response{OK: true, State: &snap}

	default:
		log.Debug().Str("cmd", cmd.Cmd).Msg("Unknown command")
		return Response{OK: false, Error: ErrKindMalformedCommand}
	}
}

// notifyState pushes a state snapshot so every connected client observes the
// change, not only the one that issued the command.
func (d *Dispatcher) notifyState() {
	d.bus.Publish(eventbus.Event{Type: eventbus.TypeState, Payload: d.lights.Snapshot()})
}

// notifySchedule pushes the changed table for persistence and observers.
func (d *Dispatcher) notifySchedule() {
	d.bus.Publish(eventbus.Event{Type: eventbus.TypeScheduleChanged, Payload: d.table.List()})
}

// fail maps a component error to its wire error kind.
func fail(err error) Response {
	switch {
	case errors.Is(err, color.ErrInvalidColorSpec):
		return Response{OK: false, Error: ErrKindInvalidColorSpec}
	case errors.Is(err, light.ErrInvalidValue), errors.Is(err, schedule.ErrInvalidEntry):
		return Response{OK: false, Error: ErrKindInvalidValue}
	case errors.Is(err, schedule.ErrDuplicateID):
		return Response{OK: false, Error: ErrKindDuplicateID}
	case errors.Is(err, schedule.ErrNotFound):
		return Response{OK: false, Error: ErrKindNotFound}
	default:
		log.Error().Err(err).Msg("Unmapped component error")
		return Response{OK: false, Error: ErrKindMalformedCommand}
	}
}

func encode(resp Response) []byte {
	data, err := json.Marshal(resp)
	if err != nil {
		// Response types are all marshalable; this is a programming error.
		log.Error().Err(err).Msg("Failed to encode response")
		return []byte(`{"ok":false,"error":"MalformedCommand"}`)
	}
	return data
}
