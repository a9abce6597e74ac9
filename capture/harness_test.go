package capture

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/gomega"
	"github.com/sarchlab/capseq/frame"
	"github.com/sarchlab/capseq/hw"
	"github.com/sarchlab/capseq/path"
	"github.com/sarchlab/capseq/timestamp"
)

type delivered struct {
	evt      EventType
	id       uint32
	channel  int
	kind     frame.Kind
	irq      frame.IRQProperty
	boot     time.Duration
	interval time.Duration
	motion   frame.MotionVector
	stats    []uint32
	w, h     uint32
}

// recordingSink keeps a copy of every delivery and hands buffers back to
// the session so that capture can go on.
type recordingSink struct {
	mu   sync.Mutex
	got  []delivered
	keep bool
}

func (r *recordingSink) Dispatch(evt EventType, f *frame.Frame, s *Session) {
	d := delivered{
		evt:      evt,
		id:       f.ID,
		channel:  f.Channel,
		kind:     f.Kind,
		irq:      f.IRQ,
		boot:     f.BootSensorTime,
		interval: f.Interval,
		motion:   f.Motion,
		stats:    append([]uint32(nil), f.Stats...),
		w:        f.Width,
		h:        f.Height,
	}

	r.mu.Lock()
	r.got = append(r.got, d)
	r.mu.Unlock()

	if r.keep {
		return
	}

	if evt == EventDataReady || evt == EventStatisReady {
		_ = s.QueueBuffer(path.ID(f.Channel), f)
	} else {
		s.ReleaseFrame(f)
	}
}

func (r *recordingSink) all() []delivered {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]delivered(nil), r.got...)
}

func (r *recordingSink) of(evt EventType) []delivered {
	var out []delivered
	for _, d := range r.all() {
		if d.evt == evt {
			out = append(out, d)
		}
	}

	return out
}

func (r *recordingSink) ids(evt EventType, channel int) []uint32 {
	var out []uint32
	for _, d := range r.of(evt) {
		if d.channel == channel {
			out = append(out, d.id)
		}
	}

	return out
}

const (
	frameTime = 33 * time.Millisecond
	baseID    = 100
)

type harness struct {
	regs    *hw.SimRegisters
	engine  *Engine
	clock   *timestamp.ManualClock
	sink    *recordingSink
	session *Session
	ctx     context.Context
	cancel  context.CancelFunc
}

func newHarness(
	group uint32,
	eb func(EngineBuilder) EngineBuilder,
	sb func(SessionBuilder) SessionBuilder,
	paths ...path.ID,
) *harness {
	h := &harness{
		regs:  hw.NewSimRegisters(3, 64),
		clock: timestamp.NewManualClock(time.Unix(1000, 0), time.Second),
		sink:  &recordingSink{},
	}

	engineBuilder := MakeEngineBuilder().WithRegisters(h.regs)
	if eb != nil {
		engineBuilder = eb(engineBuilder)
	}

	h.engine = engineBuilder.Build("Engine")

	sessionBuilder := MakeSessionBuilder().
		WithSink(h.sink).
		WithClock(h.clock).
		WithGroupSize(group).
		WithBaseFrameID(baseID)
	if sb != nil {
		sessionBuilder = sb(sessionBuilder)
	}

	h.session = sessionBuilder.Build("Session")

	buffers := 4
	if group > 1 {
		buffers = int(3 * group)
	}

	for _, id := range paths {
		Expect(h.session.EnablePath(id)).To(Succeed())

		for i := 0; i < buffers; i++ {
			f := frame.New()
			f.Addr = uint32(id)<<16 | uint32(i+1)<<4
			Expect(h.session.QueueBuffer(id, f)).To(Succeed())
		}
	}

	h.ctx, h.cancel = context.WithCancel(context.Background())

	return h
}

func (h *harness) start() {
	Expect(h.engine.Bind(h.session, 0)).To(Succeed())
	Expect(h.session.Start(h.ctx)).To(Succeed())
}

func (h *harness) stop() {
	_ = h.engine.Teardown(h.session)
	h.cancel()
}

// irq raises bits and runs the interrupt to completion.
func (h *harness) irq(irqs ...hw.IRQ) IRQResult {
	h.regs.Raise(0, irqs...)
	res := h.engine.HandleIRQ(0)
	h.drain()

	return res
}

// sof advances the hardware by one frame and raises a start of frame along
// with extra bits.
func (h *harness) sof(extra ...hw.IRQ) {
	h.clock.Advance(frameTime)
	h.regs.AdvanceFrame(0)
	h.irq(append([]hw.IRQ{hw.CapSOF}, extra...)...)
}

// lostSOF advances the hardware by one frame without an interrupt.
func (h *harness) lostSOF() {
	h.clock.Advance(frameTime)
	h.regs.AdvanceFrame(0)
}

func (h *harness) drain() {
	ctx, cancel := context.WithTimeout(h.ctx, time.Second)
	defer cancel()

	Expect(h.session.Drain(ctx)).To(Succeed())
}

// withLock runs fn as a handler of a pass over slot 0.
func (h *harness) withLock(fn func(p *Pass)) {
	slot := h.engine.slots[0]
	p := &Pass{engine: h.engine, slot: slot, session: h.session}

	h.session.mu.Lock()
	fn(p)
	h.session.mu.Unlock()
}
