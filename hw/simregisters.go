package hw

import (
	"sync"

	"github.com/sarchlab/capseq/path"
)

// Write is one register write seen by SimRegisters.
type Write struct {
	Slot  int
	Reg   Reg
	Value uint32
}

// SimRegisters is an in-memory register file that behaves like the capture
// hardware where the core depends on it: status bits latch until written to
// the clear register, the frame counter wraps, and path write addresses take
// effect on auto copy.
type SimRegisters struct {
	mu     sync.Mutex
	window uint32
	slots  []simSlot
	writes []Write
}

type simSlot struct {
	regs   map[Reg]uint32
	shadow map[path.ID]uint32
}

// NewSimRegisters creates a register file with numSlots slots whose frame
// counters wrap at window.
func NewSimRegisters(numSlots int, window uint32) *SimRegisters {
	r := &SimRegisters{
		window: window,
		slots:  make([]simSlot, numSlots),
	}

	for i := range r.slots {
		r.slots[i] = simSlot{
			regs:   make(map[Reg]uint32),
			shadow: make(map[path.ID]uint32),
		}
	}

	return r
}

// Read returns the value of a register.
func (r *SimRegisters) Read(slot int, reg Reg) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.slots[slot].regs[reg]
}

// Write writes a register.
func (r *SimRegisters) Write(slot int, reg Reg, value uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.write(slot, reg, value)
}

// MaskedWrite replaces the masked bits of a register.
func (r *SimRegisters) MaskedWrite(slot int, reg Reg, mask, value uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.slots[slot].regs[reg]
	r.write(slot, reg, old&^mask|value&mask)
}

func (r *SimRegisters) write(slot int, reg Reg, value uint32) {
	s := &r.slots[slot]
	r.writes = append(r.writes, Write{Slot: slot, Reg: reg, Value: value})

	switch {
	case reg == RegClear0:
		s.regs[RegStatus0] &^= value
	case reg == RegClear1:
		s.regs[RegStatus1] &^= value
	case reg == RegAutoCopy:
		for p, addr := range s.shadow {
			if value&AutoCopyPath(p) != 0 {
				s.regs[StoreAddrReg(p)] = addr
				delete(s.shadow, p)
			}
		}
	case reg >= RegStoreAddr && reg < RegStoreAddr+Reg(path.NumPaths):
		s.shadow[path.ID(reg-RegStoreAddr)] = value
	default:
		s.regs[reg] = value
	}
}

// Raise latches interrupt bits.
func (r *SimRegisters) Raise(slot int, irqs ...IRQ) {
	w0, w1 := Masks(irqs...)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.slots[slot].regs[RegStatus0] |= w0
	r.slots[slot].regs[RegStatus1] |= w1
}

// Pending reports whether any status bit is latched.
func (r *SimRegisters) Pending(slot int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.slots[slot].regs[RegStatus0] != 0 ||
		r.slots[slot].regs[RegStatus1] != 0
}

// AdvanceFrame counts one captured frame.
func (r *SimRegisters) AdvanceFrame(slot int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.slots[slot].regs[RegFrameCounter]
	r.slots[slot].regs[RegFrameCounter] = (c + 1) % r.window
}

// Set forces a register value without any side effect.
func (r *SimRegisters) Set(slot int, reg Reg, value uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.slots[slot].regs[reg] = value
}

// Writes returns the writes seen so far.
func (r *SimRegisters) Writes() []Write {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Write, len(r.writes))
	copy(out, r.writes)

	return out
}

// WritesTo returns the values written to one register of one slot.
func (r *SimRegisters) WritesTo(slot int, reg Reg) []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var values []uint32
	for _, w := range r.writes {
		if w.Slot == slot && w.Reg == reg {
			values = append(values, w.Value)
		}
	}

	return values
}

// ResetWrites forgets the recorded writes.
func (r *SimRegisters) ResetWrites() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.writes = nil
}
