// Package engine runs the scheduler loop: a fixed-interval poll that fires
// due schedule entries into the light state machine. Polling rather than
// per-entry timers keeps firing correct across clock adjustments and missed
// ticks; every entry due in a gap fires exactly once on the next tick.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/smartbrite/brited/internal/eventbus"
	"github.com/smartbrite/brited/internal/ledger"
	"github.com/smartbrite/brited/internal/light"
	"github.com/smartbrite/brited/internal/schedule"
)

// DefaultInterval is the poll period. Schedule granularity is one minute, so
// one second is comfortably fine-grained.
const DefaultInterval = time.Second

// Clock supplies the current time. Injected so tests can drive the engine
// without real time passing.
type Clock func() time.Time

// Fired is the bus payload for a fired schedule occurrence.
type Fired struct {
	EntryID string              `json:"entry_id"`
	Action  schedule.ActionKind `json:"action"`
	At      time.Time           `json:"at"`
}

// Engine evaluates the schedule table against the clock and applies due
// actions to the light machine in (trigger-time, id) order.
type Engine struct {
	table    *schedule.Table
	lights   *light.Machine
	bus      *eventbus.Bus
	ledger   *ledger.Ledger // nil disables restart dedupe and auditing
	clock    Clock
	interval time.Duration
}

// New creates an engine. A nil clock means time.Now; a non-positive interval
// means DefaultInterval.
func New(table *schedule.Table, lights *light.Machine, bus *eventbus.Bus, l *ledger.Ledger, clock Clock, interval time.Duration) *Engine {
	if clock == nil {
		clock = time.Now
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Engine{
		table:    table,
		lights:   lights,
		bus:      bus,
		ledger:   l,
		clock:    clock,
		interval: interval,
	}
}

// Run executes the tick loop until the context is cancelled. The loop never
// waits on the transport or any client; the two are cancellation-independent.
func (e *Engine) Run(ctx context.Context) error {
	log.Info().Dur("interval", e.interval).Msg("Scheduler engine started")

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Scheduler engine stopping")
			return nil
		case <-ticker.C:
			e.Tick(e.clock())
		}
	}
}

// Tick fires all entries due at now, in trigger-time-then-id order, then
// advances each. Exported so tests can run ticks against a simulated clock.
func (e *Engine) Tick(now time.Time) {
	due := e.table.Due(now)
	if len(due) == 0 {
		return
	}

	fired := 0
	for _, entry := range due {
		key := occurrenceKey(entry)

		if e.ledger != nil && e.ledger.HasFired(key) {
			// Replayed occurrence (restart inside a tick gap): skip the
			// action but still advance past it.
			log.Debug().Str("occurrence", key).Msg("Occurrence already fired, skipping")
			if err := e.table.Advance(entry.ID, now); err != nil {
				log.Warn().Err(err).Str("id", entry.ID).Msg("Failed to advance schedule entry")
			}
			continue
		}

		e.apply(entry, now)
		if err := e.table.Advance(entry.ID, now); err != nil {
			// Entry was removed between Due and Advance; the action
			// already applied, which is the accepted command/tick race.
			log.Warn().Err(err).Str("id", entry.ID).Msg("Failed to advance schedule entry")
		}
		if e.ledger != nil {
			if err := e.ledger.RecordFired(key, entry.ID, string(entry.Action.Kind), now); err != nil {
				log.Error().Err(err).Str("occurrence", key).Msg("Failed to record fired occurrence")
			}
		}

		log.Info().
			Str("id", entry.ID).
			Str("action", string(entry.Action.Kind)).
			Time("trigger", entry.NextFire).
			Msg("Schedule entry fired")

		e.bus.Publish(eventbus.Event{Type: eventbus.TypeSchedule, Payload: Fired{
			EntryID: entry.ID,
			Action:  entry.Action.Kind,
			At:      now,
		}})
		fired++
	}

	if fired > 0 {
		// One snapshot per tick: near-simultaneous actions collapse to the
		// state after applying them in order.
		e.bus.Publish(eventbus.Event{Type: eventbus.TypeState, Payload: e.lights.Snapshot()})
		e.bus.Publish(eventbus.Event{Type: eventbus.TypeScheduleChanged, Payload: e.table.List()})
	}
}

// apply routes a due entry's action into the light machine.
func (e *Engine) apply(entry schedule.Entry, now time.Time) {
	switch entry.Action.Kind {
	case schedule.ActionOn:
		e.lights.SetPower(true, now)
	case schedule.ActionOff:
		e.lights.SetPower(false, now)
	case schedule.ActionColor:
		if entry.Action.Color == nil {
			log.Error().Str("id", entry.ID).Msg("Color action without color, dropping")
			return
		}
		if err := e.lights.SetColor(*entry.Action.Color, now); err != nil {
			log.Error().Err(err).Str("id", entry.ID).Msg("Failed to apply scheduled color")
		}
	}
}

// occurrenceKey identifies one firing of one entry for dedupe and audit.
func occurrenceKey(entry schedule.Entry) string {
	return fmt.Sprintf("%s/%d", entry.ID, entry.NextFire.Unix())
}
