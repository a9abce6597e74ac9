package capture

import (
	"fmt"
	"sync/atomic"

	"github.com/sarchlab/capseq/hw"
)

// Slot is one physical hardware execution slot. A session is bound to a slot
// only while it captures.
type Slot struct {
	id      int
	name    string
	profile hw.Profile
	engine  *Engine

	session atomic.Pointer[Session]

	// handled masks suppress bits of the pass in progress. They are only
	// touched by the dispatching goroutine with the session lock held.
	handled0 uint32
	handled1 uint32

	tracker Tracker
}

// ID returns the slot number.
func (s *Slot) ID() int {
	return s.id
}

// Name returns the slot name used in logs.
func (s *Slot) Name() string {
	return s.name
}

// Profile returns the capability profile of the slot.
func (s *Slot) Profile() hw.Profile {
	return s.profile
}

// Session returns the bound session, or nil.
func (s *Slot) Session() *Session {
	return s.session.Load()
}

// Tracker returns the interrupt counters of the slot.
func (s *Slot) Tracker() *Tracker {
	return &s.tracker
}

func (s *Slot) takeHandled() (uint32, uint32) {
	h0, h1 := s.handled0, s.handled1
	s.handled0, s.handled1 = 0, 0

	return h0, h1
}

func (s *Slot) String() string {
	return fmt.Sprintf("%s(%s)", s.name, s.profile.Name)
}
