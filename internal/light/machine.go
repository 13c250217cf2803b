// Package light owns the fixture's light state: power, brightness, color and
// the transition cursor for gradient playback. It is the single writer of
// that state; every mutation happens under the machine's lock, and output
// events are emitted to the LED boundary outside of it.
package light

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/smartbrite/brited/internal/color"
)

// ErrInvalidValue is returned for out-of-range command values.
var ErrInvalidValue = errors.New("invalid value")

// State is the machine's coarse state.
type State int

const (
	StateOff State = iota
	StateOnSteady
	StateOnTransitioning
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateOff:
		return "off"
	case StateOnSteady:
		return "on_steady"
	case StateOnTransitioning:
		return "on_transitioning"
	default:
		return "unknown"
	}
}

// Output is the value handed to the LED driver boundary. While power is off
// the brightness sent to hardware is forced to zero.
type Output struct {
	Brightness uint8       `json:"brightness"`
	Color      color.Solid `json:"color"`
}

// Snapshot is a read-only copy of the stored state, used for query
// responses, notifications and persistence.
type Snapshot struct {
	Power      bool        `json:"power"`
	Brightness uint8       `json:"brightness"`
	Color      color.Color `json:"color"`
	State      string      `json:"state"`
}

// Sink consumes output-change events. Called outside the machine lock.
type Sink func(Output)

// Machine is the light state machine. All mutation methods are safe for
// concurrent use; critical sections are pure data mutation and the sink
// runs after the lock is released.
type Machine struct {
	mu         sync.Mutex
	power      bool
	brightness uint8
	col        color.Color
	state      State

	// transitionStart anchors the gradient cursor; zero while not
	// transitioning.
	transitionStart time.Time

	sink       Sink
	lastOutput Output
	emitted    bool
	seq        uint64

	// emitMu serializes sink delivery. applied tracks the newest frame
	// handed to the sink so a frame that lost the race to a later one is
	// dropped instead of overwriting it on the hardware.
	emitMu  sync.Mutex
	applied uint64
}

// NewMachine creates a machine in the default boot state: off, white, full
// brightness. A nil sink discards output events.
func NewMachine(sink Sink) *Machine {
	if sink == nil {
		sink = func(Output) {}
	}
	return &Machine{
		brightness: 255,
		col:        color.NewSolid(color.White),
		state:      StateOff,
		sink:       sink,
	}
}

// SetPower turns the light on or off. Turning on restores the stored color
// and brightness; a stored gradient resumes from the start of its cycle.
// Turning off stops any transition and darkens the output while keeping the
// stored values for the next power-on.
func (m *Machine) SetPower(on bool, now time.Time) {
	m.mu.Lock()
	m.power = on
	if on {
		if m.col.IsGradient() {
			m.state = StateOnTransitioning
			m.transitionStart = now
		} else {
			m.state = StateOnSteady
			m.transitionStart = time.Time{}
		}
	} else {
		m.state = StateOff
		m.transitionStart = time.Time{}
	}
	out, seq, changed := m.outputLocked(now)
	m.mu.Unlock()

	log.Debug().Bool("on", on).Msg("Light power set")
	if changed {
		m.emit(out, seq)
	}
}

// Toggle flips the power state, reading the current state under the same
// lock so two racing toggles cannot both observe the same side. Returns the
// resulting power state.
func (m *Machine) Toggle(now time.Time) bool {
	m.mu.Lock()
	on := !m.power
	m.power = on
	if on {
		if m.col.IsGradient() {
			m.state = StateOnTransitioning
			m.transitionStart = now
		} else {
			m.state = StateOnSteady
			m.transitionStart = time.Time{}
		}
	} else {
		m.state = StateOff
		m.transitionStart = time.Time{}
	}
	out, seq, changed := m.outputLocked(now)
	m.mu.Unlock()

	log.Debug().Bool("on", on).Msg("Light power toggled")
	if changed {
		m.emit(out, seq)
	}
	return on
}

// SetColor installs a new color. A solid puts an already-on light into the
// steady state; a gradient starts a transition with the cursor at zero.
// While off only the stored color changes.
func (m *Machine) SetColor(c color.Color, now time.Time) error {
	if err := c.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	m.col = c
	if m.power {
		if c.IsGradient() {
			m.state = StateOnTransitioning
			m.transitionStart = now
		} else {
			m.state = StateOnSteady
			m.transitionStart = time.Time{}
		}
	}
	out, seq, changed := m.outputLocked(now)
	m.mu.Unlock()

	if changed {
		m.emit(out, seq)
	}
	return nil
}

// SetBrightness updates the stored brightness. It has no effect on hardware
// output while the light is off.
func (m *Machine) SetBrightness(level int, now time.Time) error {
	if level < 0 || level > 255 {
		return fmt.Errorf("%w: brightness %d out of range [0,255]", ErrInvalidValue, level)
	}

	m.mu.Lock()
	m.brightness = uint8(level)
	out, seq, changed := m.outputLocked(now)
	m.mu.Unlock()

	if changed {
		m.emit(out, seq)
	}
	return nil
}

// Reset restores the default boot state (off, white, full brightness).
func (m *Machine) Reset(now time.Time) {
	m.mu.Lock()
	m.power = false
	m.brightness = 255
	m.col = color.NewSolid(color.White)
	m.state = StateOff
	m.transitionStart = time.Time{}
	out, seq, changed := m.outputLocked(now)
	m.mu.Unlock()

	log.Debug().Msg("Light state reset to defaults")
	if changed {
		m.emit(out, seq)
	}
}

// Tick advances gradient playback. Driven by the external render loop; a
// no-op unless the machine is transitioning. A finished one-shot gradient
// settles into the steady state at its final keyframe.
func (m *Machine) Tick(now time.Time) {
	m.mu.Lock()
	if m.state != StateOnTransitioning || m.col.Gradient == nil {
		m.mu.Unlock()
		return
	}

	g := m.col.Gradient
	elapsed := now.Sub(m.transitionStart)
	if !g.Repeat && elapsed >= g.Duration {
		final := g.Keyframes[len(g.Keyframes)-1]
		m.col = color.NewSolid(final)
		m.state = StateOnSteady
		m.transitionStart = time.Time{}
	}
	out, seq, changed := m.outputLocked(now)
	m.mu.Unlock()

	if changed {
		m.emit(out, seq)
	}
}

// Snapshot returns a copy of the stored state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Power:      m.power,
		Brightness: m.brightness,
		Color:      m.col,
		State:      m.state.String(),
	}
}

// Restore installs a persisted snapshot, emitting the resulting output so
// the hardware reflects the restored state.
func (m *Machine) Restore(s Snapshot, now time.Time) error {
	if err := s.Color.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	m.power = s.Power
	m.brightness = s.Brightness
	m.col = s.Color
	if s.Power {
		if s.Color.IsGradient() {
			m.state = StateOnTransitioning
			m.transitionStart = now
		} else {
			m.state = StateOnSteady
		}
	} else {
		m.state = StateOff
		m.transitionStart = time.Time{}
	}
	out, seq, changed := m.outputLocked(now)
	if !changed {
		// Restore always re-emits so the hardware matches the
		// restored state even when it equals the last frame.
		m.seq++
		seq = m.seq
	}
	m.mu.Unlock()

	m.emit(out, seq)
	return nil
}

// outputLocked computes the current hardware output, records whether it
// differs from the last emitted one and assigns its emission sequence
// number. Caller holds the lock.
func (m *Machine) outputLocked(now time.Time) (Output, uint64, bool) {
	var out Output
	if m.power {
		out.Brightness = m.brightness
		if m.state == StateOnTransitioning && m.col.Gradient != nil {
			out.Color = m.col.Gradient.Interpolate(now.Sub(m.transitionStart))
		} else {
			out.Color = m.col.AsSolid()
		}
	} else {
		// Power off forces dark output; stored color is kept for the
		// next power-on.
		out.Brightness = 0
		out.Color = m.col.AsSolid()
	}

	if m.emitted && out == m.lastOutput {
		return out, m.seq, false
	}
	m.emitted = true
	m.lastOutput = out
	m.seq++
	return out, m.seq, true
}

// emit delivers a frame to the sink. Emission happens outside the state
// lock, so two racing mutations can arrive here in either order; the
// sequence number assigned under the lock decides which frame is newer.
func (m *Machine) emit(out Output, seq uint64) {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()
	if seq <= m.applied {
		return
	}
	m.applied = seq
	m.sink(out)
}
