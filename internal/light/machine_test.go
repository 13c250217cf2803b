package light

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/smartbrite/brited/internal/color"
)

var t0 = time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

// collector records output events from the machine.
type collector struct {
	mu   sync.Mutex
	outs []Output
}

func (c *collector) sink(o Output) {
	c.mu.Lock()
	c.outs = append(c.outs, o)
	c.mu.Unlock()
}

func (c *collector) last() (Output, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.outs) == 0 {
		return Output{}, false
	}
	return c.outs[len(c.outs)-1], true
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.outs)
}

func TestDefaultState(t *testing.T) {
	m := NewMachine(nil)
	s := m.Snapshot()

	if s.Power {
		t.Error("default power should be off")
	}
	if s.Brightness != 255 {
		t.Errorf("default brightness = %d, want 255", s.Brightness)
	}
	if s.Color.AsSolid() != color.White {
		t.Errorf("default color = %v, want white", s.Color.AsSolid())
	}
	if s.State != StateOff.String() {
		t.Errorf("default state = %s, want off", s.State)
	}
}

func TestSetPower_RestoresStoredValues(t *testing.T) {
	var c collector
	m := NewMachine(c.sink)

	green := color.NewSolid(color.Solid{G: 255})
	if err := m.SetColor(green, t0); err != nil {
		t.Fatalf("SetColor() error = %v", err)
	}
	if err := m.SetBrightness(100, t0); err != nil {
		t.Fatalf("SetBrightness() error = %v", err)
	}

	// Still off: no hardware output yet.
	if got, ok := c.last(); ok && got.Brightness != 0 {
		t.Errorf("output while off = %+v, want dark", got)
	}

	m.SetPower(true, t0)
	got, ok := c.last()
	if !ok {
		t.Fatal("power-on emitted no output event")
	}
	want := Output{Brightness: 100, Color: color.Solid{G: 255}}
	if got != want {
		t.Errorf("power-on output = %+v, want %+v", got, want)
	}
}

func TestSetPower_OffForcesDarkOutputAndKeepsState(t *testing.T) {
	var c collector
	m := NewMachine(c.sink)

	m.SetPower(true, t0)
	if err := m.SetBrightness(42, t0); err != nil {
		t.Fatalf("SetBrightness() error = %v", err)
	}

	m.SetPower(false, t0)
	got, _ := c.last()
	if got.Brightness != 0 {
		t.Errorf("power-off output brightness = %d, want 0", got.Brightness)
	}

	s := m.Snapshot()
	if s.Brightness != 42 {
		t.Errorf("stored brightness after power-off = %d, want 42", s.Brightness)
	}
	if s.State != StateOff.String() {
		t.Errorf("state after power-off = %s, want off", s.State)
	}
}

func TestSetBrightness_Validation(t *testing.T) {
	m := NewMachine(nil)

	for _, level := range []int{-1, 256, 100000} {
		if err := m.SetBrightness(level, t0); !errors.Is(err, ErrInvalidValue) {
			t.Errorf("SetBrightness(%d) error = %v, want ErrInvalidValue", level, err)
		}
	}
	for _, level := range []int{0, 128, 255} {
		if err := m.SetBrightness(level, t0); err != nil {
			t.Errorf("SetBrightness(%d) error = %v", level, err)
		}
	}
}

func TestSetColor_InvalidGradientRejected(t *testing.T) {
	m := NewMachine(nil)

	bad := color.Color{Gradient: &color.Gradient{Keyframes: []color.Solid{{R: 1}}, Duration: time.Second}}
	if err := m.SetColor(bad, t0); !errors.Is(err, color.ErrInvalidColorSpec) {
		t.Errorf("SetColor(bad gradient) error = %v, want ErrInvalidColorSpec", err)
	}
	// State untouched by a rejected command.
	if s := m.Snapshot(); s.Color.AsSolid() != color.White {
		t.Errorf("color after rejected SetColor = %v, want white", s.Color.AsSolid())
	}
}

func TestGradient_TransitionAndSettle(t *testing.T) {
	var c collector
	m := NewMachine(c.sink)
	m.SetPower(true, t0)

	g, err := color.NewGradient([]color.Solid{{R: 200}, {B: 200}}, 10*time.Second, false)
	if err != nil {
		t.Fatalf("NewGradient() error = %v", err)
	}
	if err := m.SetColor(color.Color{Gradient: g}, t0); err != nil {
		t.Fatalf("SetColor() error = %v", err)
	}
	if s := m.Snapshot(); s.State != StateOnTransitioning.String() {
		t.Fatalf("state after gradient SetColor = %s, want on_transitioning", s.State)
	}

	m.Tick(t0.Add(5 * time.Second))
	got, _ := c.last()
	if got.Color != (color.Solid{R: 100, B: 100}) {
		t.Errorf("midpoint output = %+v, want blended {100 0 100}", got.Color)
	}

	// One-shot gradient settles at the final keyframe.
	m.Tick(t0.Add(11 * time.Second))
	s := m.Snapshot()
	if s.State != StateOnSteady.String() {
		t.Errorf("state after one-shot finished = %s, want on_steady", s.State)
	}
	if s.Color.AsSolid() != (color.Solid{B: 200}) {
		t.Errorf("settled color = %v, want final keyframe", s.Color.AsSolid())
	}

	// Further ticks change nothing and emit nothing.
	n := c.count()
	m.Tick(t0.Add(20 * time.Second))
	if c.count() != n {
		t.Error("Tick() after settling emitted a spurious output event")
	}
}

func TestGradient_RepeatKeepsCycling(t *testing.T) {
	var c collector
	m := NewMachine(c.sink)
	m.SetPower(true, t0)

	g, err := color.NewGradient([]color.Solid{{R: 200}, {B: 200}}, 10*time.Second, true)
	if err != nil {
		t.Fatalf("NewGradient() error = %v", err)
	}
	if err := m.SetColor(color.Color{Gradient: g}, t0); err != nil {
		t.Fatalf("SetColor() error = %v", err)
	}

	// A full cycle later the machine is still transitioning, wrapped around.
	m.Tick(t0.Add(10 * time.Second))
	if s := m.Snapshot(); s.State != StateOnTransitioning.String() {
		t.Errorf("state after full repeat cycle = %s, want on_transitioning", s.State)
	}
	got, _ := c.last()
	if got.Color != (color.Solid{R: 200}) {
		t.Errorf("wrapped output = %+v, want first keyframe", got.Color)
	}
}

func TestPowerOff_ClearsTransitionCursor(t *testing.T) {
	m := NewMachine(nil)
	m.SetPower(true, t0)

	g, err := color.NewGradient([]color.Solid{{R: 200}, {B: 200}}, 10*time.Second, true)
	if err != nil {
		t.Fatalf("NewGradient() error = %v", err)
	}
	if err := m.SetColor(color.Color{Gradient: g}, t0); err != nil {
		t.Fatalf("SetColor() error = %v", err)
	}

	m.SetPower(false, t0.Add(time.Second))
	if s := m.Snapshot(); s.State != StateOff.String() {
		t.Errorf("state after power-off mid-transition = %s, want off", s.State)
	}

	// Tick while off must not resurrect the transition.
	m.Tick(t0.Add(2 * time.Second))
	if s := m.Snapshot(); s.State != StateOff.String() {
		t.Errorf("state after Tick while off = %s, want off", s.State)
	}
}

func TestConcurrentMutations_StateStaysSane(t *testing.T) {
	m := NewMachine(nil)
	m.SetPower(true, t0)

	g, err := color.NewGradient([]color.Solid{{R: 200}, {B: 200}}, time.Second, true)
	if err != nil {
		t.Fatalf("NewGradient() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				switch n % 4 {
				case 0:
					_ = m.SetBrightness(j%256, t0.Add(time.Duration(j)*time.Millisecond))
				case 1:
					m.Tick(t0.Add(time.Duration(j) * time.Millisecond))
				case 2:
					_ = m.SetColor(color.Color{Gradient: g}, t0)
				case 3:
					m.SetPower(j%2 == 0, t0)
				}
			}
		}(i)
	}
	wg.Wait()

	m.SetPower(false, t0)
	s := m.Snapshot()
	if s.State != StateOff.String() {
		t.Errorf("state after final power-off = %s, want off (no dangling transition)", s.State)
	}
}

func TestReset_RestoresDefaults(t *testing.T) {
	m := NewMachine(nil)
	m.SetPower(true, t0)
	_ = m.SetBrightness(10, t0)
	_ = m.SetColor(color.NewSolid(color.Solid{R: 5}), t0)

	m.Reset(t0)
	s := m.Snapshot()
	if s.Power || s.Brightness != 255 || s.Color.AsSolid() != color.White {
		t.Errorf("Reset() snapshot = %+v, want off/255/white", s)
	}
}

func TestToggle_FlipsPowerUnderOneLock(t *testing.T) {
	var c collector
	m := NewMachine(c.sink)

	if on := m.Toggle(t0); !on {
		t.Fatal("first toggle should turn the light on")
	}
	if s := m.Snapshot(); !s.Power || s.State != StateOnSteady.String() {
		t.Errorf("state after toggle on = %+v", s)
	}

	if on := m.Toggle(t0.Add(time.Second)); on {
		t.Fatal("second toggle should turn the light off")
	}
	s := m.Snapshot()
	if s.Power || s.State != StateOff.String() {
		t.Errorf("state after toggle off = %+v", s)
	}
	if out, ok := c.last(); !ok || out.Brightness != 0 {
		t.Errorf("last output = %+v, want dark frame", out)
	}
}

func TestToggle_OnWithStoredGradientStartsTransition(t *testing.T) {
	m := NewMachine(nil)
	grad, err := color.NewGradient([]color.Solid{{R: 10}, {R: 200}}, 4*time.Second, false)
	if err != nil {
		t.Fatalf("NewGradient() error = %v", err)
	}
	if err := m.SetColor(color.Color{Gradient: grad}, t0); err != nil {
		t.Fatalf("SetColor() error = %v", err)
	}

	m.Toggle(t0)
	if s := m.Snapshot(); s.State != StateOnTransitioning.String() {
		t.Errorf("state = %s, want transitioning", s.State)
	}
}

func TestEmit_DropsFramesOlderThanNewestApplied(t *testing.T) {
	var c collector
	m := NewMachine(c.sink)

	// Two mutations race past the state lock: the newer frame (seq 2)
	// reaches the sink first, then the older one arrives.
	newer := Output{Brightness: 0, Color: color.White}
	older := Output{Brightness: 255, Color: color.White}
	m.emit(newer, 2)
	m.emit(older, 1)

	if got := c.count(); got != 1 {
		t.Fatalf("sink received %d frames, want 1", got)
	}
	if out, _ := c.last(); out != newer {
		t.Errorf("applied frame = %+v, want the newer %+v", out, newer)
	}
}

func TestConcurrentPowerFlips_FinalFrameMatchesState(t *testing.T) {
	var c collector
	m := NewMachine(c.sink)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				m.SetPower((i+j)%2 == 0, t0.Add(time.Duration(j)*time.Millisecond))
			}
		}(i)
	}
	wg.Wait()

	out, ok := c.last()
	if !ok {
		t.Fatal("no output emitted")
	}
	s := m.Snapshot()
	if s.Power && out.Brightness != s.Brightness {
		t.Errorf("final frame %+v does not match on state %+v", out, s)
	}
	if !s.Power && out.Brightness != 0 {
		t.Errorf("final frame %+v not dark while power is off", out)
	}
}
