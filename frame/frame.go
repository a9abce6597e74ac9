// Package frame defines the unit of work that flows from the capture engine
// to its consumers.
package frame

import "time"

// Kind tells a consumer what a frame carries.
type Kind int

// Frame kinds.
const (
	KindData Kind = iota
	KindStatis
	KindEvent
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindStatis:
		return "statis"
	case KindEvent:
		return "event"
	default:
		return "unknown"
	}
}

// IRQProperty tells which hardware event an event frame reports.
type IRQProperty int

// Event frame properties.
const (
	IRQNone IRQProperty = iota
	IRQStartOfFrame
	IRQSensorEndOfFrame
	IRQError
)

func (p IRQProperty) String() string {
	switch p {
	case IRQStartOfFrame:
		return "sof"
	case IRQSensorEndOfFrame:
		return "sensor-eof"
	case IRQError:
		return "error"
	default:
		return "none"
	}
}

// MotionVector is the global motion estimate attached to a data frame when
// temporal noise reduction runs.
type MotionVector struct {
	X, Y         int32
	ProjectMode  bool
	SubMEBypass  bool
	SourceWidth  uint32
	SourceHeight uint32
	Valid        bool
}

// Frame is one buffer's worth of output or one event notification.
type Frame struct {
	// ID is the externally visible frame number.
	ID uint32

	// Reserved marks a placeholder buffer that hardware may write to but
	// that must never reach a consumer.
	Reserved bool

	// Channel is the path that produced the frame.
	Channel int
	Kind    Kind
	IRQ     IRQProperty

	// Addr is the device address hardware writes this buffer to.
	Addr uint32

	SensorTime     time.Time
	BootSensorTime time.Duration
	Interval       time.Duration

	// Time and BootTime are stamped when the frame is handed to a consumer.
	Time     time.Time
	BootTime time.Duration

	Width, Height uint32
	Stats         []uint32
	Motion        MotionVector
}

// New creates an empty frame.
func New() *Frame {
	return &Frame{}
}

// Reset clears the frame for reuse, keeping the capacity of Stats.
func (f *Frame) Reset() {
	stats := f.Stats[:0]
	*f = Frame{Stats: stats}
}
