package path

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/sarchlab/capseq/frame"
	"github.com/sarchlab/capseq/queueing"
)

var (
	// ErrInvalidPath is returned for a path ID outside the known range.
	ErrInvalidPath = errors.New("invalid path")

	// ErrInactive is returned when a frame is requested from a path that has
	// no users or is shut off.
	ErrInactive = errors.New("path inactive")

	// ErrStarved is returned when no committed write can be taken from the
	// in-flight queue.
	ErrStarved = errors.New("path starved")

	// ErrNoBuffer is returned when neither an output nor a reserved buffer
	// is available to commit.
	ErrNoBuffer = errors.New("no buffer available")
)

// PauseState is the requested run state of a path that can be paused.
type PauseState int

// Pause states.
const (
	Resumed PauseState = iota
	Paused
)

func (p PauseState) String() string {
	if p == Paused {
		return "paused"
	}

	return "resumed"
}

// State is the bookkeeping of one output path.
type State struct {
	id ID

	users   atomic.Int32
	shutOff atomic.Bool

	// FrameSkip is the number of leading frames that are never committed.
	FrameSkip int

	// FrameDeci makes the path commit one frame out of every FrameDeci+1.
	FrameDeci int

	// SourceSelect switches VCH2 between data and statistics output.
	SourceSelect bool

	frameCount int
	deciCount  int
	committed  atomic.Int32

	pauseMu     sync.Mutex
	pause       PauseState
	pauseUpdate bool

	out      queueing.Queue[*frame.Frame]
	result   queueing.Queue[*frame.Frame]
	reserved queueing.Queue[*frame.Frame]
	middle   queueing.Queue[*frame.Frame]
	motion   queueing.Queue[*frame.MotionState]
}

// ID returns the path ID.
func (s *State) ID() ID {
	return s.id
}

// Enable adds a user.
func (s *State) Enable() {
	s.users.Add(1)
}

// Disable removes a user.
func (s *State) Disable() {
	if s.users.Add(-1) < 0 {
		s.users.Store(0)
	}
}

// Users returns the number of users.
func (s *State) Users() int {
	return int(s.users.Load())
}

// SetShutOff turns the path off without dropping its users.
func (s *State) SetShutOff(off bool) {
	s.shutOff.Store(off)
}

// ShutOff reports whether the path is shut off.
func (s *State) ShutOff() bool {
	return s.shutOff.Load()
}

// Active reports whether the path has users and is not shut off.
func (s *State) Active() bool {
	return s.users.Load() > 0 && !s.shutOff.Load()
}

// Committed returns the number of writes committed to hardware and not yet
// taken back.
func (s *State) Committed() int {
	return int(s.committed.Load())
}

// OutQueue holds buffers supplied by consumers.
func (s *State) OutQueue() queueing.Queue[*frame.Frame] { return s.out }

// ResultQueue holds buffers committed to hardware, oldest first.
func (s *State) ResultQueue() queueing.Queue[*frame.Frame] { return s.result }

// ReservedQueue holds placeholder buffers.
func (s *State) ReservedQueue() queueing.Queue[*frame.Frame] {
	return s.reserved
}

// MiddleQueue holds finished frames waiting for their motion vector.
func (s *State) MiddleQueue() queueing.Queue[*frame.Frame] { return s.middle }

// MotionQueue holds motion vectors waiting for their frame.
func (s *State) MotionQueue() queueing.Queue[*frame.MotionState] {
	return s.motion
}

// NoteFrameProduced counts one captured frame and reports whether it should
// be committed. The first FrameSkip frames are dropped, then one frame out of
// every FrameDeci+1 passes. In group mode decimation does not apply.
func (s *State) NoteFrameProduced(group bool) bool {
	s.frameCount++
	if s.frameCount <= s.FrameSkip {
		return false
	}

	pass := s.deciCount >= s.FrameDeci || group
	s.deciCount++

	if pass {
		s.deciCount = 0
	}

	return pass
}

// RequestPause asks the path to stop committing at the next start of frame.
func (s *State) RequestPause() {
	s.setPause(Paused)
}

// RequestResume asks the path to commit again at the next start of frame.
func (s *State) RequestResume() {
	s.setPause(Resumed)
}

func (s *State) setPause(p PauseState) {
	s.pauseMu.Lock()
	defer s.pauseMu.Unlock()

	s.pause = p
	s.pauseUpdate = true
}

// TakePauseUpdate returns the requested pause state and whether it changed
// since the last call. Pausing credits one committed write so that the frame
// already in flight can still be delivered.
func (s *State) TakePauseUpdate() (PauseState, bool) {
	s.pauseMu.Lock()
	defer s.pauseMu.Unlock()

	updated := s.pauseUpdate
	s.pauseUpdate = false

	if updated && s.pause == Paused {
		s.committed.Add(1)
	}

	return s.pause, updated
}

// Commit moves the next buffer, or a reserved one when consumers supplied
// none, to the in-flight queue and numbers it id.
func (s *State) Commit(id uint32) (*frame.Frame, error) {
	f, ok := s.out.Dequeue()
	if !ok {
		f, ok = s.reserved.Dequeue()
	}

	if !ok {
		return nil, fmt.Errorf("%s: %w", s.id, ErrNoBuffer)
	}

	if err := s.result.TryEnqueue(f); err != nil {
		if rerr := s.Recycle(f); rerr != nil {
			return nil, errors.Join(err, rerr)
		}

		return nil, fmt.Errorf("%s: %w", s.id, err)
	}

	f.ID = id
	f.Channel = int(s.id)
	s.committed.Add(1)

	return f, nil
}

// PopCommittedResult takes the oldest in-flight buffer. The newest committed
// buffer is the hardware's current target and is never taken, so a path with
// one or fewer committed writes reports ErrStarved.
func (s *State) PopCommittedResult() (*frame.Frame, error) {
	if s.committed.Load() <= 1 {
		return nil, fmt.Errorf("%s: %w, %d committed", s.id, ErrStarved,
			s.committed.Load())
	}

	f, ok := s.result.Dequeue()
	if !ok {
		return nil, fmt.Errorf("%s: %w, result queue empty", s.id, ErrStarved)
	}

	s.committed.Add(-1)

	return f, nil
}

// Recycle puts a buffer back where it came from.
func (s *State) Recycle(f *frame.Frame) error {
	q := s.out
	if f.Reserved {
		q = s.reserved
	}

	if err := q.TryEnqueue(f); err != nil {
		return fmt.Errorf("%s: recycle frame %d: %w", s.id, f.ID, err)
	}

	return nil
}

// RetireGroup takes the newest count in-flight buffers, renumbers them and
// puts them back in their original order. renumber receives each buffer's
// position, 1 for the oldest of the group, and its current ID. Nothing
// happens when fewer than count buffers are in flight. It returns how many
// buffers went back in flight.
func (s *State) RetireGroup(
	count int,
	renumber func(pos int, id uint32) uint32,
) int {
	if count <= 0 || s.result.Count() < count {
		return 0
	}

	group := make([]*frame.Frame, count)
	for i := count - 1; i >= 0; i-- {
		f, ok := s.result.DequeueTail()
		if !ok {
			group = group[i+1:]
			break
		}

		group[i] = f
	}

	requeued := 0

	for i, f := range group {
		f.ID = renumber(i+1, f.ID)
		if s.requeue(f) {
			requeued++
		}
	}

	return requeued
}

// CorrectNewest renumbers the newest in-flight buffer.
func (s *State) CorrectNewest(id uint32) bool {
	f, ok := s.result.DequeueTail()
	if !ok {
		return false
	}

	f.ID = id

	return s.requeue(f)
}

// requeue puts a renumbered buffer back in flight. A buffer the result queue
// refuses stops counting as committed and returns to its origin queue.
func (s *State) requeue(f *frame.Frame) bool {
	err := s.result.TryEnqueue(f)
	if err == nil {
		return true
	}

	s.committed.Add(-1)

	if rerr := s.Recycle(f); rerr != nil {
		log.Printf("%s: frame %d dropped: %v", s.id, f.ID, errors.Join(err, rerr))
		return false
	}

	log.Printf("%s: frame %d returned to its queue: %v", s.id, f.ID, err)

	return false
}

// Reset drops all counters and queued buffers, handing every buffer to
// release.
func (s *State) Reset(release func(*frame.Frame)) {
	s.frameCount = 0
	s.deciCount = 0
	s.committed.Store(0)

	s.pauseMu.Lock()
	s.pause = Resumed
	s.pauseUpdate = false
	s.pauseMu.Unlock()

	for _, q := range []queueing.Queue[*frame.Frame]{
		s.out, s.result, s.reserved, s.middle,
	} {
		q.Clear(release)
		q.Reopen()
	}

	s.motion.Clear(nil)
	s.motion.Reopen()
}
