// Package led is the output boundary. A Driver receives the brightness and
// color frames the light machine emits; the Renderer ticks the machine so
// gradient playback advances even when no commands arrive.
package led

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/smartbrite/brited/internal/eventbus"
	"github.com/smartbrite/brited/internal/light"
)

// DefaultInterval is the render tick period. Gradients are sampled at this
// rate; 50ms is smooth enough for RGB strips without burning CPU.
const DefaultInterval = 50 * time.Millisecond

// Driver pushes a frame to the hardware.
type Driver interface {
	Apply(out light.Output) error
	Close() error
}

// LogDriver is the development driver: frames go to the log instead of a
// strip. Kept at debug level since transitions emit one frame per tick.
type LogDriver struct{}

func (LogDriver) Apply(out light.Output) error {
	log.Debug().
		Uint8("brightness", out.Brightness).
		Uint8("r", out.Color.R).
		Uint8("g", out.Color.G).
		Uint8("b", out.Color.B).
		Msg("LED frame")
	return nil
}

func (LogDriver) Close() error { return nil }

// Sink adapts a driver into the machine's output sink. Each emitted frame is
// applied to the hardware and republished on the bus for observers. Drive
// failures are logged and dropped: the machine's state stays authoritative
// and the next frame retries the hardware.
func Sink(driver Driver, bus *eventbus.Bus) light.Sink {
	return func(out light.Output) {
		if err := driver.Apply(out); err != nil {
			log.Error().Err(err).Msg("Failed to apply LED frame")
		}
		if bus != nil {
			bus.Publish(eventbus.Event{Type: eventbus.TypeOutput, Payload: out})
		}
	}
}

// Renderer advances the light machine on a fixed cadence so gradient
// transitions progress between commands. Output delivery itself happens
// through the machine's sink.
type Renderer struct {
	lights   *light.Machine
	clock    func() time.Time
	interval time.Duration
}

// NewRenderer creates a renderer. A nil clock means time.Now; a
// non-positive interval means DefaultInterval.
func NewRenderer(lights *light.Machine, clock func() time.Time, interval time.Duration) *Renderer {
	if clock == nil {
		clock = time.Now
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Renderer{lights: lights, clock: clock, interval: interval}
}

// Run ticks the machine until the context is cancelled.
func (r *Renderer) Run(ctx context.Context) error {
	log.Info().Dur("interval", r.interval).Msg("Render loop started")
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Render loop stopped")
			return ctx.Err()
		case <-ticker.C:
			r.lights.Tick(r.clock())
		}
	}
}
