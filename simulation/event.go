package simulation

import (
	"time"

	"github.com/rs/xid"
)

// VTime is the virtual time of a simulation, counted from its start.
type VTime = time.Duration

// An Event is something going to happen in the future.
type Event interface {
	// Time returns when the event happens.
	Time() VTime

	// Handler returns who handles the event.
	Handler() Handler

	// IsSecondary tells if the event runs after every primary event of
	// the same time.
	IsSecondary() bool
}

// EventBase provides the basic fields and getters for other events.
type EventBase struct {
	ID        string
	time      VTime
	handler   Handler
	secondary bool
}

// NewEventBase creates a new EventBase.
func NewEventBase(t VTime, handler Handler) *EventBase {
	return &EventBase{
		ID:      xid.New().String(),
		time:    t,
		handler: handler,
	}
}

// Time returns when the event happens.
func (e EventBase) Time() VTime {
	return e.time
}

// Handler returns the handler of the event.
func (e EventBase) Handler() Handler {
	return e.handler
}

// IsSecondary returns true if the event is a secondary event.
func (e EventBase) IsSecondary() bool {
	return e.secondary
}

// A Handler handles events scheduled for it.
type Handler interface {
	Handle(e Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(e Event) error

// Handle calls f.
func (f HandlerFunc) Handle(e Event) error {
	return f(e)
}
