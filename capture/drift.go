package capture

import (
	"log"

	"github.com/sarchlab/capseq/hw"
	"github.com/sarchlab/capseq/path"
)

// fixIndex compares the hardware frame counter with the software index at a
// start of frame and repairs the index, the stamps and the numbering of
// in-flight buffers when start of frame interrupts were lost.
func (s *Session) fixIndex(p *Pass) FixResult {
	mask := s.window - 1
	hwCount := p.Read(hw.RegFrameCounter) & hw.FrameCounterMask
	expected := (s.frameIndex + 1) & mask
	group := s.grouped()

	if hwCount == expected {
		if group {
			s.ring.Record(s.frameIndex, s.clock.Now(), s.clock.Boot())
		}

		s.indexToSet = s.frameIndex + 1

		return Fixed
	}

	drift := DriftDetail{
		Session:   s,
		Slot:      p.slot.id,
		HWCount:   hwCount,
		Expected:  expected,
		GroupSize: s.groupSize,
	}

	if group && !s.needFix {
		p.MarkHandled(0xFFFFFFFF, 0xFFFFFFFF)
		s.needFix = true

		drift.OldIndex, drift.NewIndex = s.frameIndex, s.frameIndex
		drift.Result = DeferToNext
		p.engine.invokeDrift(drift)

		return DeferToNext
	}

	diff := (s.window + hwCount - expected) & mask
	oldIndex := s.frameIndex - 1
	stamped := s.frameIndex
	s.frameIndex += diff

	log.Printf("%s: start of frame drift, counter %d, expected %d, index %d -> %d",
		s.name, hwCount, expected, stamped, s.frameIndex)

	var result FixResult
	if group {
		s.ring.Record(s.frameIndex, s.clock.Now(), s.clock.Boot())
		result = s.fixGroups(p, oldIndex)
	} else {
		wall, boot := s.ring.Read(stamped)
		s.ring.Record(s.frameIndex, wall, boot)
		s.renumberNewest(p)
		s.indexToSet = s.frameIndex + 1
		result = Fixed
	}

	drift.OldIndex, drift.NewIndex = stamped, s.frameIndex
	drift.Result = result
	p.engine.invokeDrift(drift)

	return result
}

// renumberNewest gives the newest in-flight buffer of every busy path the
// corrected index. When a reference path's oldest buffer is still the
// hardware's write target, this pass's write-done bits are stale and get
// suppressed.
func (s *Session) renumberNewest(p *Pass) {
	vote := false

	for _, st := range s.paths.Active() {
		if st.Committed() < 1 {
			continue
		}

		if s.isReference(p, st.ID()) {
			vote = vote || s.stillWriting(p, st)
		}

		st.CorrectNewest(s.baseID + s.frameIndex)
	}

	if vote {
		p.MarkHandled(hw.TxDone0, hw.TxDone1)
	}
}

func (s *Session) isReference(p *Pass, id path.ID) bool {
	for _, ref := range p.slot.profile.ReferencePaths {
		if ref == id {
			return true
		}
	}

	return false
}

// stillWriting reports whether the oldest in-flight buffer of a path is the
// one hardware currently writes to.
func (s *Session) stillWriting(p *Pass, st *path.State) bool {
	head, ok := st.ResultQueue().PeekFront()
	if !ok {
		return false
	}

	return head.Addr == p.Read(hw.StoreAddrReg(st.ID()))
}

// fixGroups repairs a drift in group mode once the group boundary is known.
func (s *Session) fixGroups(p *Pass, oldIndex uint32) FixResult {
	g := s.groupSize
	s.needFix = false

	end := s.frameIndex
	begin := roundDown(end, g)

	if oldIndex+1 > begin {
		begin = oldIndex + 1
	}

	if begin == 0 {
		return Fixed
	}

	s.ring.Extrapolate(begin, end-1, oldIndex)

	if oldIndex/g == s.frameIndex/g {
		return Fixed
	}

	groupStart := roundDown(s.frameIndex, g)

	if oldIndex%g != g-1 {
		p.MarkHandled(hw.TxDone0, hw.TxDone1)
		s.retireGroups(groupStart, 2)

		return BufferReady
	}

	if s.paths.MustGet(path.Bin).ResultQueue().Count() <= int(g) {
		p.MarkHandled(hw.TxDone0, hw.TxDone1)
	}

	s.retireGroups(groupStart, 1)

	return Fixed
}

// retireGroups renumbers the newest groups of in-flight buffers of every
// active path so that they line up with the group starting at begin.
func (s *Session) retireGroups(begin uint32, groups int) {
	g := s.groupSize
	first := s.baseID + begin - 1

	for _, st := range s.paths.Active() {
		count := groups
		if st.ID() == path.Bin {
			count *= int(g)
		}

		var renumber func(int, uint32) uint32

		switch st.ID() {
		case path.Bin:
			renumber = func(pos int, _ uint32) uint32 {
				return first + uint32(pos)
			}
		case path.AEM, path.Hist:
			renumber = func(pos int, _ uint32) uint32 {
				return first + uint32(pos)*g
			}
		default:
			renumber = func(pos int, _ uint32) uint32 {
				return first + uint32(pos-1)*g + 1
			}
		}

		st.RetireGroup(count, renumber)
	}
}

func roundDown(v, g uint32) uint32 {
	return v - v%g
}
