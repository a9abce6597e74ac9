package capture

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sarchlab/capseq/frame"
	"github.com/sarchlab/capseq/hooking"
	"github.com/sarchlab/capseq/hw"
	"golang.org/x/time/rate"
)

// HookPosDispatch marks a frame being handed to a sink. The item is the frame
// and the detail a DispatchDetail.
var HookPosDispatch = &hooking.HookPos{Name: "Capture Dispatch"}

// HookPosDrift marks a start of frame whose hardware counter disagreed with
// the software index. The detail is a DriftDetail.
var HookPosDrift = &hooking.HookPos{Name: "Capture Drift"}

// HookPosFatal marks a session entering the error state. The detail is a
// FatalDetail.
var HookPosFatal = &hooking.HookPos{Name: "Capture Fatal"}

// HookPosEventDropped marks a status event lost because the worker queue or
// the event pool was full. The item is the session.
var HookPosEventDropped = &hooking.HookPos{Name: "Capture Event Dropped"}

// DispatchDetail describes one delivered frame.
type DispatchDetail struct {
	Session *Session
	Slot    int
	Event   EventType
}

// DriftDetail describes one repaired start of frame.
type DriftDetail struct {
	Session   *Session
	Slot      int
	HWCount   uint32
	Expected  uint32
	OldIndex  uint32
	NewIndex  uint32
	GroupSize uint32
	Result    FixResult
}

// FatalDetail describes a session fault.
type FatalDetail struct {
	Session *Session
	Slot    int
	Status  uint32
}

// A Handler processes one status bit. It runs with the session's fast-path
// lock held and must not block.
type Handler func(p *Pass)

// Engine is the interrupt root of one capture device. It owns the hardware
// slots and routes each interrupt to the session bound to the slot.
type Engine struct {
	hooking.HookableBase

	name     string
	regs     hw.Registers
	slots    []*Slot
	handlers [hw.NumIRQ]Handler

	// ahb serializes interrupt handling against binding and teardown.
	ahb sync.RWMutex

	notRunningLog rate.Sometimes
	missingLog    rate.Sometimes
	unexpectedLog rate.Sometimes
	droppedLog    rate.Sometimes
	overflowLog   rate.Sometimes
}

// EngineBuilder can build capture engines.
type EngineBuilder struct {
	regs        hw.Registers
	profiles    []hw.Profile
	overrides   map[hw.IRQ]Handler
	logInterval time.Duration
}

// MakeEngineBuilder creates an EngineBuilder with the three standard slots.
func MakeEngineBuilder() EngineBuilder {
	return EngineBuilder{
		profiles:    []hw.Profile{hw.DCAM0, hw.DCAM1, hw.DCAM2},
		logInterval: 5 * time.Second,
	}
}

// WithRegisters sets the register bank of the device.
func (b EngineBuilder) WithRegisters(r hw.Registers) EngineBuilder {
	b.regs = r
	return b
}

// WithSlots replaces the slot profiles. Slot i gets profiles[i].
func (b EngineBuilder) WithSlots(profiles ...hw.Profile) EngineBuilder {
	b.profiles = profiles
	return b
}

// WithHandler replaces the handler of one bit. A nil handler unregisters
// the bit.
func (b EngineBuilder) WithHandler(irq hw.IRQ, h Handler) EngineBuilder {
	overrides := make(map[hw.IRQ]Handler, len(b.overrides)+1)
	for k, v := range b.overrides {
		overrides[k] = v
	}

	overrides[irq] = h
	b.overrides = overrides

	return b
}

// WithLogInterval sets how often repeated warnings are logged.
func (b EngineBuilder) WithLogInterval(d time.Duration) EngineBuilder {
	b.logInterval = d
	return b
}

// Build creates a new Engine.
func (b EngineBuilder) Build(name string) *Engine {
	if b.regs == nil {
		log.Panicf("capture engine %s: no registers given", name)
	}

	if len(b.profiles) == 0 {
		log.Panicf("capture engine %s: no slots given", name)
	}

	e := &Engine{
		name: name,
		regs: b.regs,
	}

	for _, s := range []*rate.Sometimes{
		&e.notRunningLog, &e.missingLog, &e.unexpectedLog,
		&e.droppedLog, &e.overflowLog,
	} {
		*s = rate.Sometimes{First: 1, Interval: b.logInterval}
	}

	for i := hw.IRQ(0); i < hw.NumIRQ; i++ {
		e.handlers[i] = defaultHandler(i)
	}

	for irq, h := range b.overrides {
		e.handlers[irq] = h
	}

	for i, p := range b.profiles {
		e.slots = append(e.slots, &Slot{
			id:      i,
			name:    fmt.Sprintf("%s.Slot[%d]", name, i),
			profile: p,
			engine:  e,
		})
	}

	return e
}

// Name returns the name of the engine.
func (e *Engine) Name() string {
	return e.name
}

// Registers returns the register bank of the device.
func (e *Engine) Registers() hw.Registers {
	return e.regs
}

// Slots returns all slots.
func (e *Engine) Slots() []*Slot {
	return e.slots
}

// Slot returns one slot.
func (e *Engine) Slot(id int) (*Slot, error) {
	if id < 0 || id >= len(e.slots) {
		return nil, fmt.Errorf("%s: slot %d: %w", e.name, id, ErrNoSlot)
	}

	return e.slots[id], nil
}

// Handler returns the handler registered for a bit.
func (e *Engine) Handler(irq hw.IRQ) Handler {
	return e.handlers[irq]
}

// Bind attaches a session to a slot.
func (e *Engine) Bind(s *Session, slotID int) error {
	slot, err := e.Slot(slotID)
	if err != nil {
		return err
	}

	e.ahb.Lock()
	defer e.ahb.Unlock()

	if s.slot.Load() != nil {
		return fmt.Errorf("%s: %w", s.name, ErrAlreadyBound)
	}

	if slot.session.Load() != nil {
		return fmt.Errorf("%s: %w", slot.name, ErrSlotBusy)
	}

	slot.handled0, slot.handled1 = 0, 0
	slot.session.Store(s)
	s.slot.Store(slot)

	return nil
}

// Unbind detaches a session from its slot. It waits for an interrupt in
// progress to finish, so it must not be called from a sink in group mode.
func (e *Engine) Unbind(s *Session) error {
	e.ahb.Lock()
	defer e.ahb.Unlock()

	slot := s.slot.Load()
	if slot == nil || slot.engine != e {
		return fmt.Errorf("%s: %w", s.name, ErrNotBound)
	}

	slot.session.Store(nil)
	s.slot.Store(nil)

	return nil
}

// Teardown stops a session and detaches it from its slot.
func (e *Engine) Teardown(s *Session) error {
	_ = s.Stop()

	return e.Unbind(s)
}

// NotifyFatalError moves the session bound to a slot to the error state and
// reports it once.
func (e *Engine) NotifyFatalError(slotID int, status uint32) error {
	slot, err := e.Slot(slotID)
	if err != nil {
		return err
	}

	s := slot.session.Load()
	if s == nil {
		return fmt.Errorf("%s: %w", slot.name, ErrNotBound)
	}

	s.NotifyFatalError(status)

	return nil
}

func (e *Engine) invokeDispatch(
	slot *Slot,
	s *Session,
	evt EventType,
	f *frame.Frame,
) {
	if e.NumHooks() == 0 {
		return
	}

	e.InvokeHook(hooking.HookCtx{
		Domain: e,
		Pos:    HookPosDispatch,
		Item:   f,
		Detail: DispatchDetail{Session: s, Slot: slot.id, Event: evt},
	})
}

func (e *Engine) invokeDrift(d DriftDetail) {
	if e.NumHooks() == 0 {
		return
	}

	e.InvokeHook(hooking.HookCtx{
		Domain: e,
		Pos:    HookPosDrift,
		Item:   d.Session,
		Detail: d,
	})
}

func (e *Engine) invokeFatal(d FatalDetail) {
	if e.NumHooks() == 0 {
		return
	}

	e.InvokeHook(hooking.HookCtx{
		Domain: e,
		Pos:    HookPosFatal,
		Item:   d.Session,
		Detail: d,
	})
}

func (e *Engine) invokeDropped(s *Session, err error) {
	if e.NumHooks() == 0 {
		return
	}

	e.InvokeHook(hooking.HookCtx{
		Domain: e,
		Pos:    HookPosEventDropped,
		Item:   s,
		Detail: err,
	})
}
