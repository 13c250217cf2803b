package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	b := New()
	defer b.Close(context.Background())

	var mu sync.Mutex
	got := make(map[int]int)
	var wg sync.WaitGroup
	wg.Add(2)

	for i := 0; i < 2; i++ {
		idx := i
		b.Subscribe(TypeState, func(e Event) {
			mu.Lock()
			got[idx]++
			mu.Unlock()
			wg.Done()
		})
	}

	b.Publish(Event{Type: TypeState, Payload: "snapshot"})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("subscribers did not all receive the event")
	}

	mu.Lock()
	defer mu.Unlock()
	if got[0] != 1 || got[1] != 1 {
		t.Errorf("deliveries = %v, want one per subscriber", got)
	}
}

func TestPublishIgnoresOtherTypes(t *testing.T) {
	b := New()
	defer b.Close(context.Background())

	delivered := make(chan Event, 1)
	b.Subscribe(TypeSchedule, func(e Event) { delivered <- e })

	b.Publish(Event{Type: TypeState})

	select {
	case e := <-delivered:
		t.Errorf("schedule subscriber received %v for a state event", e)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHandlerPanicDoesNotKillWorkers(t *testing.T) {
	b := NewWithConfig(1, 8)
	defer b.Close(context.Background())

	survived := make(chan struct{}, 1)
	b.Subscribe(TypeOutput, func(Event) { panic("handler bug") })
	b.Subscribe(TypeOutput, func(Event) { survived <- struct{}{} })

	b.Publish(Event{Type: TypeOutput})

	select {
	case <-survived:
	case <-time.After(2 * time.Second):
		t.Fatal("worker died after handler panic")
	}
}

func TestPublishRacingCloseIsSafe(t *testing.T) {
	b := NewWithConfig(2, 4)
	b.Subscribe(TypeState, func(Event) {})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				b.Publish(Event{Type: TypeState, Payload: j})
			}
		}()
	}

	b.Close(context.Background())
	wg.Wait()

	// Publishing after close is a silent drop.
	b.Publish(Event{Type: TypeState, Payload: "late"})
}
