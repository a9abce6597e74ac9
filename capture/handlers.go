package capture

import (
	"log"

	"github.com/sarchlab/capseq/frame"
	"github.com/sarchlab/capseq/hw"
	"github.com/sarchlab/capseq/path"
)

var donePaths = map[hw.IRQ]path.ID{
	hw.FullDone:   path.Full,
	hw.BinDone:    path.Bin,
	hw.RawDone:    path.Raw,
	hw.PDAFDone:   path.PDAF,
	hw.VCH2Done:   path.VCH2,
	hw.VCH3Done:   path.VCH3,
	hw.AEMDone:    path.AEM,
	hw.AFMIntReq1: path.AFM,
	hw.HistDone:   path.Hist,
	hw.LSCMDone:   path.LSCM,
}

func defaultHandler(irq hw.IRQ) Handler {
	switch irq {
	case hw.CapSOF:
		return handleCapSOF
	case hw.CapEOF:
		return handleCapEOF
	case hw.PreviewSOF:
		return handlePreviewSOF
	case hw.SensorEOF:
		return handleSensorEOF
	case hw.NR3Done:
		return handleNR3Done
	case hw.GTMDone:
		return handleGTMDone
	case hw.AFLDone:
		return handleAFLDone
	case hw.FRGBHistDone:
		return handleFRGBHistDone
	case hw.SensorSOF, hw.SensorSOF1, hw.SensorSOF2, hw.SensorSOF3,
		hw.DummyStart, hw.DummyDone, hw.FMCUInt1, hw.FMCUInt2, hw.DecDone:
		return handleNothing
	}

	if id, ok := donePaths[irq]; ok {
		return pathDoneHandler(id)
	}

	return nil
}

func handleNothing(*Pass) {}

func handleCapSOF(p *Pass) {
	s := p.session

	result := s.fixIndex(p)
	if result == DeferToNext {
		return
	}

	commit := true

	if s.grouped() {
		n := s.frameIndex % s.groupSize
		if n == s.groupSize-1 {
			s.autoCopy |= hw.AutoCopyPath(path.Bin) | hw.AutoCopyCoef
		}

		if n != 0 || result == BufferReady {
			commit = false
		} else {
			s.indexToSet = s.frameIndex + s.groupSize
		}
	}

	if commit {
		s.commitAll(p)
	}

	p.Write(hw.RegAutoCopy, s.autoCopy|hw.AutoCopyCapture)
	s.autoCopy = 0

	if !s.grouped() || s.frameIndex%s.groupSize == 0 {
		s.deliverEvent(p, frame.IRQStartOfFrame)
	}

	s.frameIndex++
}

func (s *Session) commitAll(p *Pass) {
	for _, st := range s.paths.Active() {
		if st.ID() == path.AFL {
			// AFL commits when its previous write is done.
			continue
		}

		if !st.NoteFrameProduced(s.grouped()) {
			continue
		}

		if st.ID() == path.Full {
			pause, updated := st.TakePauseUpdate()
			if updated {
				s.applyPause(p, pause)
			}

			if pause == path.Paused {
				continue
			}
		}

		s.commit(p, st)
	}
}

func (s *Session) applyPause(p *Pass, pause path.PauseState) {
	if pause == path.Paused {
		p.Write(hw.RegPathCtrl, hw.PathCtrl(path.Full, hw.PathCtrlPause))
		s.autoCopy |= hw.AutoCopyPath(path.Full)

		return
	}

	p.Write(hw.RegPathCtrl, hw.PathCtrl(path.Full, hw.PathCtrlResume))
}

func handlePreviewSOF(p *Pass) {
	s := p.session
	s.frameIndex += s.groupSize

	for _, st := range s.paths.Active() {
		s.commit(p, st)
	}

	s.deliverEvent(p, frame.IRQStartOfFrame)
}

func handleCapEOF(p *Pass) {
	p.Write(hw.RegAXICountClear, 1)
}

func handleSensorEOF(p *Pass) {
	p.session.deliverEvent(p, frame.IRQSensorEndOfFrame)
}

func pathDoneHandler(id path.ID) Handler {
	return func(p *Pass) {
		s := p.session

		f := s.prepare(id)
		if f == nil {
			return
		}

		if s.nr3 && (id == path.Full || id == path.Bin) {
			if !s.attachMotion(id, f) {
				return
			}
		}

		p.Deliver(eventTypeOf(f), f)
	}
}

// attachMotion pairs a finished frame with the motion vector of its
// frame. Frames that arrive before their vector are parked and false is
// returned.
func (s *Session) attachMotion(id path.ID, f *frame.Frame) bool {
	st := s.paths.MustGet(id)
	m := &s.motion[motionSlotOf(id)]

	if !m.ready {
		if err := st.MiddleQueue().TryEnqueue(f); err != nil {
			log.Printf("%s: %s: park frame %d: %v", s.name, id, f.ID, err)
			s.recycle(st, f)

			return false
		}

		m.parked++

		return false
	}

	if ms, ok := st.MotionQueue().Dequeue(); ok {
		f.Motion = ms.Vector
		s.motionPool.Release(ms)
	}

	m.ready = false
	m.parked = 0

	return true
}

func motionSlotOf(id path.ID) int {
	if id == path.Bin {
		return 1
	}

	return 0
}

func handleNR3Done(p *Pass) {
	s := p.session

	param := p.Read(hw.RegNR3MEParam)
	out0 := p.Read(hw.RegNR3MEOut0)

	vec := frame.MotionVector{
		X:            int32((out0 >> 8) & 0xff),
		Y:            int32(out0 & 0xff),
		ProjectMode:  (param>>4)&1 == 1,
		SubMEBypass:  (param>>8)&1 == 1,
		SourceWidth:  s.width,
		SourceHeight: s.height,
		Valid:        true,
	}

	for _, id := range []path.ID{path.Full, path.Bin} {
		s.publishMotion(p, id, vec)
	}

	if f := s.prepare(path.NR3); f != nil {
		s.recycle(s.paths.MustGet(path.NR3), f)
	}
}

func (s *Session) publishMotion(p *Pass, id path.ID, vec frame.MotionVector) {
	st := s.paths.MustGet(id)
	m := &s.motion[motionSlotOf(id)]
	m.ready = true

	ms, err := s.motionPool.Acquire(p.allocator())
	if err == nil {
		ms.Channel = int(id)
		ms.Vector = vec

		if st.MotionQueue().TryEnqueue(ms) != nil {
			s.motionPool.Release(ms)
		}
	}

	if m.parked == 0 {
		return
	}

	ms, hasMotion := st.MotionQueue().Dequeue()

	if f, ok := st.MiddleQueue().Dequeue(); ok {
		if hasMotion {
			f.Motion = ms.Vector
		}

		p.Deliver(eventTypeOf(f), f)
	}

	if hasMotion {
		s.motionPool.Release(ms)
	}

	m.ready = false
	m.parked = 0
}

func handleGTMDone(p *Pass) {
	s := p.session

	f := s.prepare(path.GTMHist)
	if f == nil {
		return
	}

	bins := f.Stats[:0]
	for i := uint32(0); i < hw.GTMHistBins; i++ {
		p.Write(hw.RegGTMHistIndex, i)
		bins = append(bins, p.Read(hw.RegGTMHistValue))
	}

	size := p.Read(hw.RegGTMSize)
	f.Width = size >> 16
	f.Height = size & 0xffff
	f.Stats = append(bins, f.Width*f.Height, f.ID)

	p.Deliver(EventStatisReady, f)
}

func handleAFLDone(p *Pass) {
	s := p.session
	st := s.paths.MustGet(path.AFL)

	if st.Active() {
		s.commit(p, st)
	}

	if f := s.prepare(path.AFL); f != nil {
		p.Deliver(EventStatisReady, f)
	}
}

func handleFRGBHistDone(p *Pass) {
	s := p.session

	f := s.prepare(path.FRGBHist)
	if f == nil {
		return
	}

	f.Width, f.Height = s.histW, s.histH

	p.Deliver(EventStatisReady, f)
}
