package simulation

import (
	"log"
	"sync"

	"github.com/sarchlab/capseq/capture"
	"github.com/sarchlab/capseq/frame"
	"github.com/sarchlab/capseq/monitoring"
	"github.com/sarchlab/capseq/path"
)

// A Consumer is the sink of a simulated session. It plays the role of the
// camera service: frames are looked at and handed straight back to the
// session so that capture never starves.
type Consumer struct {
	mu       sync.Mutex
	ids      map[int][]uint32
	events   map[capture.EventType]int
	errors   []uint32
	keepIDs  bool
	progress *monitoring.ProgressBar
}

// NewConsumer creates a Consumer. With keepIDs set, the ID of every data and
// statistics frame is kept for later inspection.
func NewConsumer(keepIDs bool) *Consumer {
	return &Consumer{
		ids:     make(map[int][]uint32),
		events:  make(map[capture.EventType]int),
		keepIDs: keepIDs,
	}
}

// TrackProgress counts start of frame events on a progress bar.
func (c *Consumer) TrackProgress(pb *monitoring.ProgressBar) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.progress = pb
}

// Dispatch receives one frame.
func (c *Consumer) Dispatch(
	evt capture.EventType,
	f *frame.Frame,
	s *capture.Session,
) {
	c.mu.Lock()
	c.events[evt]++

	switch evt {
	case capture.EventDataReady, capture.EventStatisReady:
		if c.keepIDs {
			c.ids[f.Channel] = append(c.ids[f.Channel], f.ID)
		}
	case capture.EventError:
		if len(f.Stats) > 0 {
			c.errors = append(c.errors, f.Stats[0])
		}
	case capture.EventIRQ:
		if c.progress != nil && f.IRQ == frame.IRQStartOfFrame {
			c.progress.IncrementFinished(1)
		}
	}
	c.mu.Unlock()

	if evt == capture.EventDataReady || evt == capture.EventStatisReady {
		if err := s.QueueBuffer(path.ID(f.Channel), f); err != nil {
			log.Printf("%s: returning buffer %d of %s: %v",
				s.Name(), f.ID, path.ID(f.Channel), err)
			s.ReleaseFrame(f)
		}

		return
	}

	s.ReleaseFrame(f)
}

// IDs returns the frame IDs delivered on a path, in delivery order.
func (c *Consumer) IDs(p path.ID) []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]uint32(nil), c.ids[int(p)]...)
}

// Count returns how many frames of an event type were delivered.
func (c *Consumer) Count(evt capture.EventType) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.events[evt]
}

// Errors returns the status words of the reported faults.
func (c *Consumer) Errors() []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]uint32(nil), c.errors...)
}
