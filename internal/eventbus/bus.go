// Package eventbus is the in-process fan-out between the engine, the
// dispatcher and the transport adapter. Notifications are fire-and-forget:
// when the queue is full or the bus is closing, events are dropped rather
// than queued, matching the no-replay-buffer contract.
package eventbus

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Type tags an event.
type Type string

const (
	// TypeState carries a light.Snapshot after any successful mutation,
	// whether a client command or a scheduler firing caused it.
	TypeState Type = "state"

	// TypeSchedule carries details of a fired schedule occurrence.
	TypeSchedule Type = "schedule"

	// TypeOutput carries a light.Output for the LED driver boundary.
	TypeOutput Type = "output"

	// TypeScheduleChanged carries the full entry list after the table
	// changed (add, remove or advance), for persistence.
	TypeScheduleChanged Type = "schedule_changed"
)

const (
	defaultWorkers   = 2
	defaultQueueSize = 64
)

// Event is a typed payload on the bus.
type Event struct {
	Type    Type
	Payload any
}

// Handler consumes events. Handlers run on bus workers and must not block
// for long; a stalled transport must never stall the scheduler.
type Handler func(Event)

type work struct {
	event   Event
	handler Handler
}

// Bus routes events to subscribed handlers through a bounded worker pool.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Type][]Handler

	queue chan work
	wg    sync.WaitGroup

	// closed is set under mu before the queue channel is closed, so a
	// publisher holding the read lock can never send on a closed queue.
	closed    bool
	closeOnce sync.Once
}

// New creates a bus with default worker and queue sizes.
func New() *Bus {
	return NewWithConfig(defaultWorkers, defaultQueueSize)
}

// NewWithConfig creates a bus with the given worker count and queue size.
func NewWithConfig(workers, queueSize int) *Bus {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	b := &Bus{
		handlers: make(map[Type][]Handler),
		queue:    make(chan work, queueSize),
	}
	for i := 0; i < workers; i++ {
		b.wg.Add(1)
		go b.worker()
	}
	return b
}

func (b *Bus) worker() {
	defer b.wg.Done()
	for w := range b.queue {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Interface("panic", r).
						Str("event_type", string(w.event.Type)).
						Msg("Event handler panicked")
				}
			}()
			w.handler(w.event)
		}()
	}
}

// Subscribe registers a handler for an event type.
func (b *Bus) Subscribe(t Type, h Handler) {
	b.mu.Lock()
	b.handlers[t] = append(b.handlers[t], h)
	b.mu.Unlock()
}

// Publish hands the event to every subscriber. Non-blocking: events are
// dropped with a warning if the queue is full or the bus is closing.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		log.Warn().Str("event_type", string(event.Type)).Msg("Event bus closed, dropping event")
		return
	}
	for _, h := range b.handlers[event.Type] {
		select {
		case b.queue <- work{event: event, handler: h}:
		default:
			log.Warn().Str("event_type", string(event.Type)).Msg("Event bus queue full, dropping event")
		}
	}
}

// Close drains the workers, waiting up to the context deadline.
func (b *Bus) Close(ctx context.Context) {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()
		close(b.queue)
	})

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		log.Warn().Msg("Event bus shutdown timed out, some events may be lost")
	}
}
