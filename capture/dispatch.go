package capture

import (
	"log"

	"github.com/sarchlab/capseq/frame"
	"github.com/sarchlab/capseq/hw"
	"github.com/sarchlab/capseq/queueing"
)

// Pass is one walk over the status bits of an interrupt. Handlers use it to
// reach the hardware, suppress later bits and queue frames for delivery.
type Pass struct {
	engine  *Engine
	slot    *Slot
	session *Session
	inline  bool
	outbox  []delivery
}

type delivery struct {
	evt EventType
	f   *frame.Frame
}

// Session returns the session the pass runs for.
func (p *Pass) Session() *Session {
	return p.session
}

// Slot returns the slot the interrupt came from.
func (p *Pass) Slot() *Slot {
	return p.slot
}

// Inline reports whether the pass runs in interrupt context.
func (p *Pass) Inline() bool {
	return p.inline
}

// Read reads a register of the slot.
func (p *Pass) Read(reg hw.Reg) uint32 {
	return p.engine.regs.Read(p.slot.id, reg)
}

// Write writes a register of the slot.
func (p *Pass) Write(reg hw.Reg, v uint32) {
	p.engine.regs.Write(p.slot.id, reg, v)
}

// MarkHandled suppresses bits for the rest of the pass.
func (p *Pass) MarkHandled(word0, word1 uint32) {
	p.slot.handled0 |= word0
	p.slot.handled1 |= word1
}

// Deliver queues a frame for the sink. Frames are delivered in order once
// the running handler returns.
func (p *Pass) Deliver(evt EventType, f *frame.Frame) {
	p.outbox = append(p.outbox, delivery{evt: evt, f: f})
}

func (p *Pass) allocator() queueing.Allocator {
	if p.inline {
		return queueing.NonBlocking()
	}

	return queueing.BulkRefill(p.session.refill)
}

func (p *Pass) flush() {
	for i, d := range p.outbox {
		p.session.deliver(p.slot, d.evt, d.f)
		p.outbox[i] = delivery{}
	}

	p.outbox = p.outbox[:0]
}

// dispatch walks the status words in the slot's order. A handler may mark
// later bits as handled, and those are skipped.
func (e *Engine) dispatch(
	slot *Slot,
	s *Session,
	status0, status1 uint32,
	inline bool,
) {
	p := &Pass{engine: e, slot: slot, session: s, inline: inline}

	status0 = e.walk(p, slot.profile.Sequence[0], status0, &status1, 0)
	status0 &^= hw.Benign0

	if status0 != 0 {
		e.unexpected(slot, status0, 0)
	}

	status1 = e.walk(p, slot.profile.Sequence[1], status1, nil, 1)
	if status1 != 0 {
		e.unexpected(slot, 0, status1)
	}
}

func (e *Engine) walk(
	p *Pass,
	seq []hw.IRQ,
	status uint32,
	other *uint32,
	word int,
) uint32 {
	for _, irq := range seq {
		if status == 0 {
			break
		}

		if status&irq.Mask() == 0 {
			continue
		}

		h := e.handlers[irq]
		if h == nil {
			e.missingLog.Do(func() {
				log.Printf("%s: no handler for %s", p.slot.name, irq)
			})
		} else {
			p.session.mu.Lock()
			h(p)
			h0, h1 := p.slot.takeHandled()
			p.session.mu.Unlock()

			if word == 0 {
				status &^= h0
				if other != nil {
					*other &^= h1
				}
			} else {
				status &^= h1
			}

			p.flush()
		}

		status &^= irq.Mask()
	}

	return status
}

func (e *Engine) unexpected(slot *Slot, status0, status1 uint32) {
	e.unexpectedLog.Do(func() {
		log.Printf("%s: unexpected status %s", slot.name,
			hw.Describe(status0, status1))
	})
}
