package capture

import (
	"log"

	"github.com/sarchlab/capseq/hw"
	"github.com/sarchlab/capseq/queueing"
)

// HandleIRQ is the interrupt entry of a slot. It latches and clears the
// status bits, handles faults, and then either dispatches the bits inline
// (group mode) or hands a snapshot to the session worker. It never blocks.
func (e *Engine) HandleIRQ(slotID int) IRQResult {
	if slotID < 0 || slotID >= len(e.slots) {
		return IRQNone
	}

	if !e.ahb.TryRLock() {
		// The device is being bound or torn down. The status stays latched.
		return IRQHandled
	}
	defer e.ahb.RUnlock()

	slot := e.slots[slotID]

	s := slot.session.Load()
	if s == nil || s.State() != StateRunning {
		e.discard(slot, s)
		return IRQNone
	}

	status0 := e.regs.Read(slotID, hw.RegStatus0) & slot.profile.LineMask[0]
	status1 := e.regs.Read(slotID, hw.RegStatus1) & slot.profile.LineMask[1]

	if status0 == 0 && status1 == 0 {
		return IRQNone
	}

	e.regs.Write(slotID, hw.RegClear0, status0)
	e.regs.Write(slotID, hw.RegClear1, status1)

	slot.tracker.record(status0, status1)

	var fatal uint32
	if status0&hw.Error0 != 0 {
		fatal = e.handleErrors(slot, s, status0)
		status0 &^= hw.Error0
	}

	if status0 == 0 && status1 == 0 && fatal == 0 {
		return IRQHandled
	}

	if s.grouped() {
		if fatal != 0 {
			s.reportError(slot, fatal)
		}

		e.dispatch(slot, s, status0, status1, true)

		return IRQHandled
	}

	if status0&hw.CapSOF.Mask() != 0 {
		s.recordStartOfFrame()
	}

	return e.enqueueStatus(slot, s, status0, status1, fatal)
}

func (e *Engine) discard(slot *Slot, s *Session) {
	e.regs.Write(slot.id, hw.RegClear0, 0xFFFFFFFF)
	e.regs.Write(slot.id, hw.RegClear1, 0xFFFFFFFF)

	e.notRunningLog.Do(func() {
		state := "unbound"
		if s != nil {
			state = s.State().String()
		}

		log.Printf("%s: interrupt while %s, status discarded", slot.name, state)
	})
}

// handleErrors logs the error bits and returns the fatal ones. The other bits
// of the interrupt are dispatched either way.
func (e *Engine) handleErrors(
	slot *Slot,
	s *Session,
	status0 uint32,
) uint32 {
	log.Printf("%s: error status %s", slot.name, hw.Describe(status0&hw.Error0, 0))

	if status0&hw.MMU.Mask() != 0 {
		mmu := e.regs.Read(slot.id, hw.RegMMUStatus)
		if s.noteMMUStatus(mmu) {
			log.Printf("%s: mmu fault, status 0x%08x", slot.name, mmu)
		}
	}

	if status0&hw.Overflow.Mask() != 0 &&
		e.regs.Read(slot.id, hw.RegFrameCounter)&hw.FrameCounterMask == 0 {
		// The counter reads 0 before the first frame and at every wrap.
		e.overflowLog.Do(func() {
			log.Printf("%s: overflow at frame counter 0, ignored", slot.name)
		})

		return 0
	}

	if status0&hw.Fatal0 == 0 {
		return 0
	}

	if !s.state.CompareAndSwap(int32(StateRunning), int32(StateError)) {
		return 0
	}

	return status0 & hw.Fatal0
}

func (e *Engine) enqueueStatus(
	slot *Slot,
	s *Session,
	status0, status1, fatal uint32,
) IRQResult {
	evt, err := s.eventPool.Acquire(queueing.NonBlocking())
	if err != nil {
		e.drop(slot, s, err)
		return IRQNone
	}

	evt.Status0 = status0
	evt.Status1 = status1
	evt.Fatal = fatal

	s.inflight.Add(1)

	if err := s.events.TryEnqueue(evt); err != nil {
		s.inflight.Add(-1)
		s.eventPool.Release(evt)
		e.drop(slot, s, err)

		return IRQNone
	}

	s.wakeWorker()

	return IRQHandled
}

func (e *Engine) drop(slot *Slot, s *Session, err error) {
	e.droppedLog.Do(func() {
		log.Printf("%s: status event dropped: %v", slot.name, err)
	})

	e.invokeDropped(s, err)
}
