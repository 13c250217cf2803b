// Package transport carries framed command documents between clients and
// the dispatcher. The dispatcher behind the Handler boundary works on
// complete logical commands; framing, connection lifetime and fan-out of
// notifications all live here.
package transport

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/smartbrite/brited/internal/eventbus"
	"github.com/smartbrite/brited/internal/light"
)

// Handler processes one complete command document and returns the response
// document. It is the seam between the transport and the command engine.
type Handler interface {
	Handle(raw []byte) []byte
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(raw []byte) []byte

func (f HandlerFunc) Handle(raw []byte) []byte { return f(raw) }

// Notification is the unsolicited frame pushed to every connected client
// when state changes, whether by command or by the scheduler.
type Notification struct {
	Event string          `json:"event"`
	State *light.Snapshot `json:"state,omitempty"`
}

const (
	eventState           = "state"
	eventScheduleChanged = "schedule_changed"
)

// encodeNotification marshals a bus event into a push frame, or nil when the
// event carries nothing clients need.
func encodeNotification(e eventbus.Event) []byte {
	var n Notification
	switch e.Type {
	case eventbus.TypeState:
		snap, ok := e.Payload.(light.Snapshot)
		if !ok {
			return nil
		}
		n = Notification{Event: eventState, State: &snap}
	case eventbus.TypeScheduleChanged:
		// Schedule payloads stay server-side; clients re-list on this signal.
		n = Notification{Event: eventScheduleChanged}
	default:
		return nil
	}

	data, err := json.Marshal(n)
	if err != nil {
		log.Error().Err(err).Str("event", n.Event).Msg("Failed to encode notification")
		return nil
	}
	return data
}
