package capture

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"
	"github.com/sarchlab/capseq/frame"
	"github.com/sarchlab/capseq/hooking"
	"github.com/sarchlab/capseq/hw"
	"github.com/sarchlab/capseq/path"
	"github.com/sarchlab/capseq/queueing"
	"github.com/sarchlab/capseq/timestamp"
	"golang.org/x/time/rate"
)

// State is the lifecycle state of a session.
type State int32

// Session states. Error is terminal.
const (
	StateInit State = iota
	StateIdle
	StateRunning
	StateError
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

type motionSlot struct {
	ready  bool
	parked int
}

// Session is one capture stream. It keeps the frame index, the start of
// frame stamps and the state of every path, and delivers finished frames to
// its sink.
type Session struct {
	id   string
	name string

	sink  Sink
	clock timestamp.Clock

	state         atomic.Int32
	errorNotified atomic.Bool
	lastMMU       atomic.Uint32
	slot          atomic.Pointer[Slot]

	// mu guards the fast-path state below. Handlers run with it held.
	mu         sync.Mutex
	frameIndex uint32
	indexToSet uint32
	needFix    bool
	autoCopy   uint32
	ring       *timestamp.Ring
	motion     [2]motionSlot

	groupSize   uint32
	window      uint32
	baseID      uint32
	nr3         bool
	width       uint32
	height      uint32
	histW       uint32
	histH       uint32
	refill      int
	drainPoll   time.Duration
	paths       *path.Table
	framePool   *queueing.Pool[*frame.Frame]
	motionPool  *queueing.Pool[*frame.MotionState]
	eventPool   *queueing.Pool[*StatusEvent]
	events      queueing.Queue[*StatusEvent]
	wake        chan struct{}
	inflight    atomic.Int64
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	lifecycleMu sync.Mutex

	starvedLog  rate.Sometimes
	reservedLog rate.Sometimes
	commitLog   rate.Sometimes
}

// SessionBuilder can build sessions.
type SessionBuilder struct {
	sink          Sink
	clock         timestamp.Clock
	groupSize     uint32
	window        uint32
	ringSize      int
	baseID        uint32
	eventCapacity int
	framePool     *queueing.Pool[*frame.Frame]
	refill        int
	nr3           bool
	width, height uint32
	histW, histH  uint32
	tables        path.TableBuilder
	logInterval   time.Duration
}

// MakeSessionBuilder creates a SessionBuilder with default parameters.
func MakeSessionBuilder() SessionBuilder {
	return SessionBuilder{
		groupSize:     1,
		window:        64,
		ringSize:      256,
		eventCapacity: 256,
		refill:        16,
		tables:        path.MakeTableBuilder(),
		logInterval:   5 * time.Second,
	}
}

// WithSink sets where frames are delivered.
func (b SessionBuilder) WithSink(s Sink) SessionBuilder {
	b.sink = s
	return b
}

// WithClock sets the clock that stamps frames.
func (b SessionBuilder) WithClock(c timestamp.Clock) SessionBuilder {
	b.clock = c
	return b
}

// WithGroupSize sets how many frames hardware writes per group. Zero and one
// disable grouping.
func (b SessionBuilder) WithGroupSize(n uint32) SessionBuilder {
	if n == 0 {
		n = 1
	}

	b.groupSize = n

	return b
}

// WithWindow sets the modulus of the hardware frame counter.
func (b SessionBuilder) WithWindow(n uint32) SessionBuilder {
	b.window = n
	return b
}

// WithRingSize sets how many start of frame stamps are kept.
func (b SessionBuilder) WithRingSize(n int) SessionBuilder {
	b.ringSize = n
	return b
}

// WithBaseFrameID sets the offset added to the frame index to form frame
// IDs.
func (b SessionBuilder) WithBaseFrameID(id uint32) SessionBuilder {
	b.baseID = id
	return b
}

// WithEventQueueCapacity sets how many status snapshots may wait for the
// worker.
func (b SessionBuilder) WithEventQueueCapacity(n int) SessionBuilder {
	b.eventCapacity = n
	return b
}

// WithFramePool shares a frame pool between sessions.
func (b SessionBuilder) WithFramePool(
	p *queueing.Pool[*frame.Frame],
) SessionBuilder {
	b.framePool = p
	return b
}

// WithRefill sets how many frames the worker creates when the pool is empty.
func (b SessionBuilder) WithRefill(n int) SessionBuilder {
	b.refill = n
	return b
}

// With3DNR pairs full and binned frames with motion vectors.
func (b SessionBuilder) With3DNR(on bool) SessionBuilder {
	b.nr3 = on
	return b
}

// WithCaptureSize sets the source size reported with motion vectors.
func (b SessionBuilder) WithCaptureSize(w, h uint32) SessionBuilder {
	b.width, b.height = w, h
	return b
}

// WithHistogramROI sets the size reported with full RGB histograms.
func (b SessionBuilder) WithHistogramROI(w, h uint32) SessionBuilder {
	b.histW, b.histH = w, h
	return b
}

// WithPathTable sets how path queues are sized.
func (b SessionBuilder) WithPathTable(t path.TableBuilder) SessionBuilder {
	b.tables = t
	return b
}

// WithLogInterval sets how often repeated warnings are logged.
func (b SessionBuilder) WithLogInterval(d time.Duration) SessionBuilder {
	b.logInterval = d
	return b
}

// Build creates a new Session.
func (b SessionBuilder) Build(name string) *Session {
	b.mustBeValid(name)

	clock := b.clock
	if clock == nil {
		clock = timestamp.SystemClock()
	}

	s := &Session{
		id:        xid.New().String(),
		name:      name,
		sink:      b.sink,
		clock:     clock,
		ring:      timestamp.NewRing(b.ringSize),
		groupSize: b.groupSize,
		window:    b.window,
		baseID:    b.baseID,
		nr3:       b.nr3,
		width:     b.width,
		height:    b.height,
		histW:     b.histW &^ 1,
		histH:     b.histH &^ 1,
		refill:    b.refill,
		drainPoll: 50 * time.Microsecond,
		paths:     b.tables.Build(name),
		framePool: b.framePool,
		wake:      make(chan struct{}, b.eventCapacity),
		events: queueing.MakeQueueBuilder[*StatusEvent]().
			WithCapacity(b.eventCapacity).
			WithLogInterval(b.logInterval).
			Build(name + ".Events"),
		eventPool: queueing.MakePoolBuilder[*StatusEvent]().
			WithNew(func() *StatusEvent { return &StatusEvent{} }).
			WithFreeCapacity(b.eventCapacity).
			WithPrefill(48).
			WithMaxLive(2 * b.eventCapacity).
			Build(name + ".EventPool"),
		motionPool: queueing.MakePoolBuilder[*frame.MotionState]().
			WithNew(frame.NewMotionState).
			WithFreeCapacity(16).
			WithPrefill(4).
			Build(name + ".MotionPool"),
	}

	if s.framePool == nil {
		s.framePool = NewFramePool(name + ".FramePool")
	}

	for _, l := range []*rate.Sometimes{
		&s.starvedLog, &s.reservedLog, &s.commitLog,
	} {
		*l = rate.Sometimes{First: 1, Interval: b.logInterval}
	}

	return s
}

func (b SessionBuilder) mustBeValid(name string) {
	if b.sink == nil {
		log.Panicf("session %s: no sink given", name)
	}

	if !timestamp.IsPowerOfTwo(int(b.window)) ||
		b.window > hw.FrameCounterMask+1 {
		log.Panicf("session %s: window %d must be a power of two up to %d",
			name, b.window, hw.FrameCounterMask+1)
	}

	if !timestamp.IsPowerOfTwo(b.ringSize) || b.ringSize < int(b.window) {
		log.Panicf("session %s: ring size %d must be a power of two "+
			"no smaller than the window", name, b.ringSize)
	}

	if b.eventCapacity <= 0 {
		log.Panicf("session %s: event queue capacity must be positive", name)
	}

	if b.refill <= 0 {
		log.Panicf("session %s: refill must be positive", name)
	}
}

// NewFramePool creates a pool of frames that sessions can share.
func NewFramePool(name string) *queueing.Pool[*frame.Frame] {
	return queueing.MakePoolBuilder[*frame.Frame]().
		WithNew(frame.New).
		WithFreeCapacity(3072).
		WithMaxLive(3072).
		WithPrefill(16).
		Build(name)
}

// ID returns the unique ID of the session.
func (s *Session) ID() string {
	return s.id
}

// Name returns the name of the session.
func (s *Session) Name() string {
	return s.name
}

// State returns the lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Slot returns the slot the session is bound to, or nil.
func (s *Session) Slot() *Slot {
	return s.slot.Load()
}

// GroupSize returns the number of frames per group.
func (s *Session) GroupSize() uint32 {
	return s.groupSize
}

func (s *Session) grouped() bool {
	return s.groupSize > 1
}

// BaseFrameID returns the offset of frame IDs.
func (s *Session) BaseFrameID() uint32 {
	return s.baseID
}

// FrameIndex returns the index of the next start of frame.
func (s *Session) FrameIndex() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.frameIndex
}

// IndexToSet returns the index the next committed buffers are numbered
// after.
func (s *Session) IndexToSet() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.indexToSet
}

// NeedFix reports whether a drift seen in group mode waits to be repaired.
func (s *Session) NeedFix() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.needFix
}

// Stamp returns the start of frame stamp kept for a frame index.
func (s *Session) Stamp(index uint32) timestamp.Stamp {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.ring.Stamp(index)
}

// Paths returns the path table.
func (s *Session) Paths() *path.Table {
	return s.paths
}

// Path returns the state of one path.
func (s *Session) Path(id path.ID) (*path.State, error) {
	return s.paths.Get(id)
}

// EnablePath adds a user to a path.
func (s *Session) EnablePath(id path.ID) error {
	st, err := s.paths.Get(id)
	if err != nil {
		return err
	}

	st.Enable()

	return nil
}

// DisablePath removes a user from a path.
func (s *Session) DisablePath(id path.ID) error {
	st, err := s.paths.Get(id)
	if err != nil {
		return err
	}

	st.Disable()

	return nil
}

// QueueBuffer gives a buffer to a path.
func (s *Session) QueueBuffer(id path.ID, f *frame.Frame) error {
	st, err := s.paths.Get(id)
	if err != nil {
		return err
	}

	f.Reserved = false

	return st.OutQueue().TryEnqueue(f)
}

// Reserve gives a path a placeholder buffer at addr. Hardware writes to it
// when consumers supply nothing, and it is never delivered.
func (s *Session) Reserve(id path.ID, addr uint32) error {
	st, err := s.paths.Get(id)
	if err != nil {
		return err
	}

	f, err := s.framePool.Acquire(queueing.BulkRefill(s.refill))
	if err != nil {
		return err
	}

	f.Reserved = true
	f.Addr = addr

	if err := st.ReservedQueue().TryEnqueue(f); err != nil {
		s.framePool.Release(f)
		return err
	}

	return nil
}

// NewFrame takes a frame from the session's pool.
func (s *Session) NewFrame() (*frame.Frame, error) {
	return s.framePool.Acquire(queueing.BulkRefill(s.refill))
}

// ReleaseFrame returns a delivered event frame to the pool.
func (s *Session) ReleaseFrame(f *frame.Frame) {
	s.framePool.Release(f)
}

// FramePool returns the frame pool.
func (s *Session) FramePool() *queueing.Pool[*frame.Frame] {
	return s.framePool
}

// Events returns the worker queue.
func (s *Session) Events() queueing.Queue[*StatusEvent] {
	return s.events
}

// Start commits the first buffer of every active path and starts
// capturing. The session must be bound.
func (s *Session) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	slot := s.slot.Load()
	if slot == nil {
		return fmt.Errorf("%s: %w", s.name, ErrNotBound)
	}

	switch s.State() {
	case StateError:
		return fmt.Errorf("%s: %w", s.name, ErrSessionError)
	case StateRunning:
		return nil
	}

	s.mu.Lock()
	s.frameIndex = 0
	s.indexToSet = 0
	s.needFix = false
	s.autoCopy = 0
	s.motion = [2]motionSlot{}
	s.ring.Reset()

	p := &Pass{engine: slot.engine, slot: slot, session: s}
	p.Write(hw.RegFrameCounter, 0)

	for _, st := range s.paths.Active() {
		s.commit(p, st)
	}

	p.Write(hw.RegAutoCopy, s.autoCopy|hw.AutoCopyCapture)
	s.autoCopy = 0
	s.mu.Unlock()

	s.events.Reopen()

	wctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)

	go s.run(wctx)

	s.state.Store(int32(StateRunning))

	return nil
}

// Stop ends capturing and returns every queued buffer to the frame pool.
// It must not be called from a Sink.
func (s *Session) Stop() error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.cancel == nil {
		return fmt.Errorf("%s: %w", s.name, ErrNotRunning)
	}

	if slot := s.slot.Load(); slot != nil {
		slot.engine.ahb.Lock()
		s.state.CompareAndSwap(int32(StateRunning), int32(StateIdle))
		slot.engine.ahb.Unlock()
	} else {
		s.state.CompareAndSwap(int32(StateRunning), int32(StateIdle))
	}

	s.cancel()
	s.wg.Wait()
	s.cancel = nil

	s.events.Clear(s.eventPool.Release)
	s.inflight.Store(0)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.paths.Each(func(st *path.State) {
		st.Reset(s.framePool.Release)
	})

	return nil
}

// Drain waits until the worker has processed every queued status event.
func (s *Session) Drain(ctx context.Context) error {
	for s.inflight.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.drainPoll):
		}
	}

	return nil
}

// Pending returns the number of status events waiting for the worker.
func (s *Session) Pending() int {
	return int(s.inflight.Load())
}

// NotifyFatalError moves the session to the error state and reports status
// to the sink. Only the first report of a session reaches the sink.
func (s *Session) NotifyFatalError(status uint32) bool {
	for {
		cur := s.state.Load()
		if cur == int32(StateError) ||
			s.state.CompareAndSwap(cur, int32(StateError)) {
			break
		}
	}

	return s.reportError(s.slot.Load(), status)
}

func (s *Session) reportError(slot *Slot, status uint32) bool {
	if !s.errorNotified.CompareAndSwap(false, true) {
		return false
	}

	log.Printf("%s: fatal error %s", s.name, hw.Describe(status, 0))

	slotID := -1
	if slot != nil {
		slotID = slot.id
		slot.engine.invokeFatal(FatalDetail{Session: s, Slot: slotID, Status: status})
	}

	f, err := s.framePool.Acquire(queueing.NonBlocking())
	if err != nil {
		log.Printf("%s: no frame to report the error: %v", s.name, err)
		return true
	}

	s.mu.Lock()
	f.ID = s.baseID + s.frameIndex
	s.mu.Unlock()

	f.Kind = frame.KindEvent
	f.IRQ = frame.IRQError
	f.Channel = slotID
	f.Stats = append(f.Stats, status)

	s.deliver(slot, EventError, f)

	return true
}

func (s *Session) recordStartOfFrame() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ring.Record(s.frameIndex, s.clock.Now(), s.clock.Boot())
}

func (s *Session) noteMMUStatus(v uint32) bool {
	return s.lastMMU.Swap(v) != v
}

func (s *Session) wakeWorker() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Session) deliver(slot *Slot, evt EventType, f *frame.Frame) {
	f.Time = s.clock.Now()
	f.BootTime = s.clock.Boot()

	if slot != nil {
		slot.engine.invokeDispatch(slot, s, evt, f)
	}

	s.sink.Dispatch(evt, f, s)
}

// AcceptHook forwards a hook to every queue of the session.
func (s *Session) AcceptHook(h hooking.Hook) {
	for _, q := range s.paths.Queues() {
		q.AcceptHook(h)
	}

	s.events.AcceptHook(h)
}
