// Package capture turns hardware interrupt status into numbered, timestamped
// frames. It owns the interrupt root, the ordered per-slot dispatch, start of
// frame drift correction and the session worker.
package capture

import (
	"github.com/sarchlab/capseq/frame"
)

// EventType tells a Sink why a frame is delivered.
type EventType int

// Event types.
const (
	EventDataReady EventType = iota
	EventStatisReady
	EventIRQ
	EventError
)

func (e EventType) String() string {
	switch e {
	case EventDataReady:
		return "data-ready"
	case EventStatisReady:
		return "statis-ready"
	case EventIRQ:
		return "irq"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// A Sink receives every frame a session produces. The frame belongs to the
// sink afterwards; data and statistics buffers go back through
// Session.QueueBuffer and event frames through Session.ReleaseFrame.
//
// In group mode Dispatch runs inside the interrupt handler and must return
// quickly without blocking.
type Sink interface {
	Dispatch(evt EventType, f *frame.Frame, s *Session)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(evt EventType, f *frame.Frame, s *Session)

// Dispatch calls fn.
func (fn SinkFunc) Dispatch(evt EventType, f *frame.Frame, s *Session) {
	fn(evt, f, s)
}

// StatusEvent is a status snapshot taken by the interrupt handler for the
// session worker.
type StatusEvent struct {
	Status0 uint32
	Status1 uint32

	// Fatal holds the fatal bits that moved the session to StateError in
	// this interrupt. The worker reports them before dispatching.
	Fatal uint32
}

// Reset clears the event for reuse.
func (e *StatusEvent) Reset() {
	*e = StatusEvent{}
}

// FixResult is the outcome of start of frame drift correction.
type FixResult int

// Drift correction outcomes.
const (
	// Fixed means the index is right and normal dispatch continues.
	Fixed FixResult = iota

	// DeferToNext means drift was seen in group mode for the first time.
	// Nothing is dispatched this pass and the fix runs on the next start of
	// frame.
	DeferToNext

	// BufferReady means two groups were renumbered and the buffers for the
	// coming group are already committed.
	BufferReady
)

func (r FixResult) String() string {
	switch r {
	case Fixed:
		return "fixed"
	case DeferToNext:
		return "defer-to-next"
	case BufferReady:
		return "buffer-ready"
	default:
		return "unknown"
	}
}

// IRQResult tells the interrupt line owner whether the interrupt was ours.
type IRQResult int

// Interrupt results.
const (
	IRQNone IRQResult = iota
	IRQHandled
)

func (r IRQResult) String() string {
	if r == IRQHandled {
		return "handled"
	}

	return "none"
}
