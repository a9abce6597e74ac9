package simulation

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/sarchlab/capseq/capture"
	"github.com/sarchlab/capseq/hw"
	"github.com/sarchlab/capseq/path"
)

// frameStartEvent opens a frame: the frame counter moves and the start of
// frame interrupt fires unless it is lost.
type frameStartEvent struct {
	*EventBase
	frame int
}

// frameDoneEvent closes a frame: the done bits of every written path fire.
type frameDoneEvent struct {
	*EventBase
	frame int
}

// A Sensor drives a simulated device slot at a fixed frame rate. Every frame
// raises a start of frame followed, half a frame later, by the done bits of
// the paths it writes. In group mode only the binned path completes every
// frame; the other paths complete once per group.
type Sensor struct {
	name     string
	engine   *Engine
	regs     *hw.SimRegisters
	capture  *capture.Engine
	session  *capture.Session
	slot     int
	interval time.Duration
	exposure time.Duration
	frames   int
	dropSOF  float64
	rand     *rand.Rand
	forced   map[int]bool

	perFrame []hw.IRQ
	perGroup []hw.IRQ
	group    int

	lost      []int
	irqs      int
	unhandled int
}

// SensorBuilder builds Sensors.
type SensorBuilder struct {
	engine   *Engine
	regs     *hw.SimRegisters
	capture  *capture.Engine
	session  *capture.Session
	slot     int
	fps      float64
	frames   int
	dropSOF  float64
	seed     int64
	forced   []int
	extraIRQ []hw.IRQ
}

// MakeSensorBuilder creates a SensorBuilder for a 30 fps sensor.
func MakeSensorBuilder() SensorBuilder {
	return SensorBuilder{
		fps:    30,
		frames: 100,
		seed:   1,
	}
}

// WithEngine sets the event engine.
func (b SensorBuilder) WithEngine(e *Engine) SensorBuilder {
	b.engine = e
	return b
}

// WithDevice sets the register bank, the interrupt root and the slot the
// sensor is wired to.
func (b SensorBuilder) WithDevice(
	regs *hw.SimRegisters,
	e *capture.Engine,
	slot int,
) SensorBuilder {
	b.regs = regs
	b.capture = e
	b.slot = slot

	return b
}

// WithSession sets the session whose active paths the sensor writes.
func (b SensorBuilder) WithSession(s *capture.Session) SensorBuilder {
	b.session = s
	return b
}

// WithFPS sets the frame rate.
func (b SensorBuilder) WithFPS(fps float64) SensorBuilder {
	b.fps = fps
	return b
}

// WithFrames sets how many frames the sensor produces.
func (b SensorBuilder) WithFrames(n int) SensorBuilder {
	b.frames = n
	return b
}

// WithDropSOF sets the probability that a frame's start interrupt is lost.
// A lost frame raises no interrupt at all.
func (b SensorBuilder) WithDropSOF(p float64) SensorBuilder {
	b.dropSOF = p
	return b
}

// WithSeed seeds the random source that decides which frames are lost.
func (b SensorBuilder) WithSeed(seed int64) SensorBuilder {
	b.seed = seed
	return b
}

// WithLostFrames loses the start interrupt of the given frames, counted
// from zero, on top of the random losses.
func (b SensorBuilder) WithLostFrames(frames ...int) SensorBuilder {
	b.forced = append([]int(nil), frames...)
	return b
}

// WithExtraIRQs adds bits raised together with the done bits of every
// frame.
func (b SensorBuilder) WithExtraIRQs(irqs ...hw.IRQ) SensorBuilder {
	b.extraIRQ = append([]hw.IRQ(nil), irqs...)
	return b
}

// Build creates the Sensor. The session's active paths are read once, so
// paths must be enabled before Build.
func (b SensorBuilder) Build(name string) *Sensor {
	b.mustBeValid(name)

	interval := time.Duration(float64(time.Second) / b.fps)

	s := &Sensor{
		name:     name,
		engine:   b.engine,
		regs:     b.regs,
		capture:  b.capture,
		session:  b.session,
		slot:     b.slot,
		interval: interval,
		exposure: interval / 2,
		frames:   b.frames,
		dropSOF:  b.dropSOF,
		rand:     rand.New(rand.NewSource(b.seed)),
		group:    int(b.session.GroupSize()),
		forced:   make(map[int]bool, len(b.forced)),
	}

	for _, f := range b.forced {
		s.forced[f] = true
	}

	for _, st := range b.session.Paths().Active() {
		irq := hw.DoneIRQ(st.ID())
		if s.group > 1 && st.ID() != path.Bin {
			s.perGroup = append(s.perGroup, irq)
			continue
		}

		s.perFrame = append(s.perFrame, irq)
	}

	s.perFrame = append(s.perFrame, b.extraIRQ...)

	return s
}

func (b SensorBuilder) mustBeValid(name string) {
	if b.engine == nil || b.regs == nil || b.capture == nil {
		log.Panicf("sensor %s: engine and device are required", name)
	}

	if b.session == nil {
		log.Panicf("sensor %s: session is required", name)
	}

	if b.fps <= 0 {
		log.Panicf("sensor %s: fps must be positive", name)
	}

	if b.dropSOF < 0 || b.dropSOF >= 1 {
		log.Panicf("sensor %s: drop probability must be in [0, 1)", name)
	}
}

// Name returns the name of the sensor.
func (s *Sensor) Name() string {
	return s.name
}

// Interval returns the frame interval.
func (s *Sensor) Interval() time.Duration {
	return s.interval
}

// LostSOFs returns the number of frames whose start interrupt was lost.
func (s *Sensor) LostSOFs() int {
	return len(s.lost)
}

// LostFrames returns the frames whose start interrupt was lost.
func (s *Sensor) LostFrames() []int {
	return append([]int(nil), s.lost...)
}

// IRQs returns how many interrupt passes the sensor triggered and how many
// of them the engine did not handle.
func (s *Sensor) IRQs() (total, unhandled int) {
	return s.irqs, s.unhandled
}

// Kickoff schedules the first frame one interval after the current time.
func (s *Sensor) Kickoff() {
	if s.frames <= 0 {
		return
	}

	now := s.engine.CurrentTime()
	s.engine.Schedule(frameStartEvent{
		EventBase: NewEventBase(now+s.interval, s),
		frame:     0,
	})
}

// Handle runs the sensor's events.
func (s *Sensor) Handle(e Event) error {
	switch evt := e.(type) {
	case frameStartEvent:
		return s.startFrame(evt)
	case frameDoneEvent:
		return s.finishFrame(evt)
	default:
		return fmt.Errorf("sensor %s: cannot handle %T", s.name, e)
	}
}

func (s *Sensor) startFrame(evt frameStartEvent) error {
	s.regs.AdvanceFrame(s.slot)

	if next := evt.frame + 1; next < s.frames {
		s.engine.Schedule(frameStartEvent{
			EventBase: NewEventBase(evt.Time()+s.interval, s),
			frame:     next,
		})
	}

	if s.loses(evt.frame) {
		s.lost = append(s.lost, evt.frame)
		return nil
	}

	s.engine.Schedule(frameDoneEvent{
		EventBase: NewEventBase(evt.Time()+s.exposure, s),
		frame:     evt.frame,
	})

	return s.interrupt(hw.CapSOF)
}

func (s *Sensor) loses(frame int) bool {
	if s.forced[frame] {
		return true
	}

	return s.dropSOF > 0 && s.rand.Float64() < s.dropSOF
}

func (s *Sensor) finishFrame(evt frameDoneEvent) error {
	irqs := append([]hw.IRQ(nil), s.perFrame...)
	if s.group > 1 && evt.frame%s.group == s.group-1 {
		irqs = append(irqs, s.perGroup...)
	}

	if len(irqs) == 0 {
		return nil
	}

	return s.interrupt(irqs...)
}

// interrupt latches bits and runs the interrupt root. Status events queued
// for the session's worker are drained before virtual time moves on.
func (s *Sensor) interrupt(irqs ...hw.IRQ) error {
	s.regs.Raise(s.slot, irqs...)

	s.irqs++
	if s.capture.HandleIRQ(s.slot) != capture.IRQHandled {
		s.unhandled++
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := s.session.Drain(ctx); err != nil {
		return fmt.Errorf("sensor %s: draining session: %w", s.name, err)
	}

	return nil
}
