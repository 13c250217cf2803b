// Package color models the fixture's color values: solid RGB colors and
// gradients made of keyframes interpolated over a cycle duration.
package color

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidColorSpec is returned when a color value fails validation.
var ErrInvalidColorSpec = errors.New("invalid color spec")

// Solid is a single RGB color, one 8-bit channel each.
type Solid struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// White is the default color applied at first boot.
var White = Solid{R: 255, G: 255, B: 255}

// Gradient is an ordered run of at least two keyframes spread evenly over
// Duration. When Repeat is set the cycle wraps around, otherwise playback
// clamps at the final keyframe.
type Gradient struct {
	Keyframes []Solid
	Duration  time.Duration
	Repeat    bool
}

// NewGradient builds a gradient, validating the keyframe count and duration.
func NewGradient(keyframes []Solid, duration time.Duration, repeat bool) (*Gradient, error) {
	g := &Gradient{Keyframes: keyframes, Duration: duration, Repeat: repeat}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// Validate checks the gradient invariants: >=2 keyframes, duration > 0.
func (g *Gradient) Validate() error {
	if len(g.Keyframes) < 2 {
		return fmt.Errorf("%w: gradient needs at least 2 keyframes, got %d", ErrInvalidColorSpec, len(g.Keyframes))
	}
	if g.Duration <= 0 {
		return fmt.Errorf("%w: gradient duration must be positive, got %s", ErrInvalidColorSpec, g.Duration)
	}
	return nil
}

// Interpolate returns the color at the given elapsed offset into the cycle.
// For repeating gradients elapsed is taken modulo the cycle duration; for
// one-shot gradients it clamps at the final keyframe.
func (g *Gradient) Interpolate(elapsed time.Duration) Solid {
	if elapsed < 0 {
		elapsed = 0
	}
	if g.Repeat {
		elapsed = elapsed % g.Duration
	} else if elapsed >= g.Duration {
		return g.Keyframes[len(g.Keyframes)-1]
	}

	// Keyframes are evenly spaced: segment i covers
	// [i*seg, (i+1)*seg) with seg = duration / (n-1).
	segments := len(g.Keyframes) - 1
	seg := float64(g.Duration) / float64(segments)
	pos := float64(elapsed) / seg
	idx := int(pos)
	if idx >= segments {
		return g.Keyframes[segments]
	}
	return blend(g.Keyframes[idx], g.Keyframes[idx+1], pos-float64(idx))
}

// blend linearly mixes two solids, t in [0,1], rounding each channel.
func blend(a, b Solid, t float64) Solid {
	return Solid{
		R: blendChannel(a.R, b.R, t),
		G: blendChannel(a.G, b.G, t),
		B: blendChannel(a.B, b.B, t),
	}
}

func blendChannel(a, b uint8, t float64) uint8 {
	return uint8(math.Round(float64(a) + (float64(b)-float64(a))*t))
}

// Color is the tagged union installed into the light state or a schedule
// entry: either a solid value or a gradient.
type Color struct {
	Solid    *Solid
	Gradient *Gradient
}

// NewSolid wraps a solid value as a Color.
func NewSolid(s Solid) Color {
	return Color{Solid: &s}
}

// IsGradient reports whether the color is a gradient.
func (c Color) IsGradient() bool {
	return c.Gradient != nil
}

// AsSolid collapses the color to a single solid value: the color itself for
// solids, the keyframe at elapsed zero for gradients.
func (c Color) AsSolid() Solid {
	if c.Gradient != nil {
		return c.Gradient.Interpolate(0)
	}
	if c.Solid != nil {
		return *c.Solid
	}
	return White
}

// Validate checks whichever variant is present.
func (c Color) Validate() error {
	if c.Solid == nil && c.Gradient == nil {
		return fmt.Errorf("%w: color has neither solid nor gradient value", ErrInvalidColorSpec)
	}
	if c.Solid != nil && c.Gradient != nil {
		return fmt.Errorf("%w: color cannot be both solid and gradient", ErrInvalidColorSpec)
	}
	if c.Gradient != nil {
		return c.Gradient.Validate()
	}
	return nil
}

// Wire format. Solids are flat {"type":"solid","r":..,"g":..,"b":..}; the
// type tag may be omitted for solids. Gradient durations travel as seconds.
type colorJSON struct {
	Type string `json:"type,omitempty"`

	R *uint8 `json:"r,omitempty"`
	G *uint8 `json:"g,omitempty"`
	B *uint8 `json:"b,omitempty"`

	Keyframes []Solid  `json:"keyframes,omitempty"`
	Seconds   *float64 `json:"duration,omitempty"`
	Repeat    bool     `json:"repeat,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (c Color) MarshalJSON() ([]byte, error) {
	if c.Gradient != nil {
		secs := c.Gradient.Duration.Seconds()
		return json.Marshal(colorJSON{
			Type:      "gradient",
			Keyframes: c.Gradient.Keyframes,
			Seconds:   &secs,
			Repeat:    c.Gradient.Repeat,
		})
	}
	s := c.AsSolid()
	return json.Marshal(colorJSON{Type: "solid", R: &s.R, G: &s.G, B: &s.B})
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Color) UnmarshalJSON(data []byte) error {
	var raw colorJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch raw.Type {
	case "gradient":
		var secs float64
		if raw.Seconds != nil {
			secs = *raw.Seconds
		}
		c.Solid = nil
		c.Gradient = &Gradient{
			Keyframes: raw.Keyframes,
			Duration:  time.Duration(secs * float64(time.Second)),
			Repeat:    raw.Repeat,
		}
	case "solid", "":
		s := Solid{}
		if raw.R != nil {
			s.R = *raw.R
		}
		if raw.G != nil {
			s.G = *raw.G
		}
		if raw.B != nil {
			s.B = *raw.B
		}
		c.Gradient = nil
		c.Solid = &s
	default:
		return fmt.Errorf("%w: unknown color type %q", ErrInvalidColorSpec, raw.Type)
	}
	return nil
}
