package led

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/smartbrite/brited/internal/color"
	"github.com/smartbrite/brited/internal/eventbus"
	"github.com/smartbrite/brited/internal/light"
)

type fakeDriver struct {
	mu     sync.Mutex
	frames []light.Output
	err    error
}

func (d *fakeDriver) Apply(out light.Output) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frames = append(d.frames, out)
	return d.err
}

func (d *fakeDriver) Close() error { return nil }

func (d *fakeDriver) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.frames)
}

func TestSinkAppliesAndPublishes(t *testing.T) {
	driver := &fakeDriver{}
	bus := eventbus.New()
	defer bus.Close(context.Background())

	outputs := make(chan light.Output, 4)
	bus.Subscribe(eventbus.TypeOutput, func(e eventbus.Event) {
		if out, ok := e.Payload.(light.Output); ok {
			outputs <- out
		}
	})

	sink := Sink(driver, bus)
	frame := light.Output{Brightness: 128, Color: color.Solid{R: 10, G: 20, B: 30}}
	sink(frame)

	if got := driver.count(); got != 1 {
		t.Fatalf("driver received %d frames, want 1", got)
	}
	select {
	case out := <-outputs:
		if out != frame {
			t.Errorf("published output = %+v, want %+v", out, frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no output event published")
	}
}

func TestSinkSwallowsDriverErrors(t *testing.T) {
	driver := &fakeDriver{err: errors.New("spi write failed")}
	sink := Sink(driver, nil)

	// Must not panic and must keep accepting frames.
	sink(light.Output{Brightness: 1})
	sink(light.Output{Brightness: 2})

	if got := driver.count(); got != 2 {
		t.Errorf("driver received %d frames, want 2", got)
	}
}

func TestRendererAdvancesTransitions(t *testing.T) {
	driver := &fakeDriver{}
	lights := light.NewMachine(Sink(driver, nil))

	now := time.Now()
	lights.SetPower(true, now)
	grad, err := color.NewGradient([]color.Solid{{R: 0}, {R: 200}}, 100*time.Millisecond, true)
	if err != nil {
		t.Fatalf("NewGradient() error = %v", err)
	}
	if err := lights.SetColor(color.Color{Gradient: grad}, now); err != nil {
		t.Fatalf("SetColor() error = %v", err)
	}

	r := NewRenderer(lights, nil, 5*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	if err := r.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() error = %v, want deadline exceeded", err)
	}

	driver.mu.Lock()
	defer driver.mu.Unlock()
	if len(driver.frames) < 3 {
		t.Fatalf("got %d frames, want several during a transition", len(driver.frames))
	}
	first, last := driver.frames[0], driver.frames[len(driver.frames)-1]
	if first == last {
		t.Errorf("gradient did not advance: first and last frames both %+v", first)
	}
}
