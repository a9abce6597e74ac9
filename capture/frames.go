package capture

import (
	"log"

	"github.com/sarchlab/capseq/frame"
	"github.com/sarchlab/capseq/hw"
	"github.com/sarchlab/capseq/path"
)

// commit hands the next buffer of a path to hardware, numbered after
// indexToSet.
func (s *Session) commit(p *Pass, st *path.State) {
	id := st.ID()
	fid := s.baseID + s.indexToSet

	if s.grouped() && (id == path.AEM || id == path.Hist) {
		fid += s.groupSize - 1
	}

	f, err := st.Commit(fid)
	if err != nil {
		s.commitLog.Do(func() {
			log.Printf("%s: commit frame %d: %v", s.name, fid, err)
		})

		return
	}

	p.Write(hw.StoreAddrReg(id), f.Addr)
	s.autoCopy |= hw.AutoCopyPath(id)

	if !s.grouped() || id != path.Bin {
		return
	}

	for i := uint32(1); i < s.groupSize; i++ {
		if _, err := st.Commit(s.baseID + s.indexToSet + i); err != nil {
			log.Printf("%s: group commit missed %d of %d frames: %v",
				s.name, s.groupSize-i, s.groupSize, err)

			return
		}
	}
}

// prepare takes the oldest in-flight buffer of a path and stamps it with
// the start of frame it belongs to. It returns nil when there is nothing to
// deliver.
func (s *Session) prepare(id path.ID) *frame.Frame {
	st := s.paths.MustGet(id)

	if !st.Active() {
		s.starvedLog.Do(func() {
			log.Printf("%s: %s: %v", s.name, id, path.ErrInactive)
		})

		return nil
	}

	if state := s.State(); state != StateRunning && state != StateError {
		log.Printf("%s: %s done while %s", s.name, id, state)
		return nil
	}

	f, err := st.PopCommittedResult()
	if err != nil {
		s.starvedLog.Do(func() {
			log.Printf("%s: %v", s.name, err)
		})

		return nil
	}

	if f.Reserved {
		if !s.grouped() && id != path.NR3 {
			s.reservedLog.Do(func() {
				log.Printf("%s: %s wrote reserved buffer %d", s.name, id, f.ID)
			})
		}

		s.recycle(st, f)

		return nil
	}

	index := f.ID - s.baseID
	f.SensorTime, f.BootSensorTime = s.ring.Read(index)
	f.Interval = s.ring.Interval(index)

	if f.BootSensorTime == 0 {
		log.Printf("%s: %s frame %d has no start of frame stamp",
			s.name, id, f.ID)
		s.recycle(st, f)

		return nil
	}

	f.Kind = id.Kind()
	if id == path.VCH2 && !st.SourceSelect {
		f.Kind = frame.KindStatis
	}

	return f
}

func (s *Session) recycle(st *path.State, f *frame.Frame) {
	if err := st.Recycle(f); err != nil {
		log.Printf("%s: %v, frame dropped", s.name, err)
		s.framePool.Release(f)
	}
}

// eventFrame builds an event notification numbered after the current frame
// index.
func (s *Session) eventFrame(p *Pass, irq frame.IRQProperty) *frame.Frame {
	f, err := s.framePool.Acquire(p.allocator())
	if err != nil {
		s.commitLog.Do(func() {
			log.Printf("%s: no frame for %s event: %v", s.name, irq, err)
		})

		return nil
	}

	f.Kind = frame.KindEvent
	f.IRQ = irq
	f.ID = s.baseID + s.frameIndex
	f.Channel = p.slot.id
	f.SensorTime = s.clock.Now()
	f.BootSensorTime = s.clock.Boot()

	return f
}

func (s *Session) deliverEvent(p *Pass, irq frame.IRQProperty) {
	if f := s.eventFrame(p, irq); f != nil {
		p.Deliver(EventIRQ, f)
	}
}

func eventTypeOf(f *frame.Frame) EventType {
	if f.Kind == frame.KindData {
		return EventDataReady
	}

	return EventStatisReady
}
