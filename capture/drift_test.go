package capture

import (
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/capseq/hooking"
	"github.com/sarchlab/capseq/hw"
	"github.com/sarchlab/capseq/path"
)

func resultIDs(st *path.State) []uint32 {
	var out []uint32
	for _, f := range st.ResultQueue().Items() {
		out = append(out, f.ID)
	}

	return out
}

var _ = Describe("Drift correction", func() {
	var h *harness

	AfterEach(func() {
		h.stop()
	})

	Describe("index distance", func() {
		BeforeEach(func() {
			h = newHarness(0, nil, nil, path.Full, path.Bin)
			h.start()
		})

		moves := func(start, d uint32) {
			h.regs.Set(0, hw.RegFrameCounter, (start+1+d)%64)
			h.withLock(func(p *Pass) {
				h.session.frameIndex = start
				h.session.fixIndex(p)
			})

			Expect(h.session.FrameIndex()).To(BeNumerically(">=", start))
			Expect(h.session.FrameIndex() - start).To(Equal(d))
		}

		var entries []any
		for _, start := range []uint32{10, 62} {
			for d := uint32(0); d < 64; d++ {
				entries = append(entries,
					Entry(fmt.Sprintf("from %d by %d", start, d), start, d))
			}
		}

		DescribeTable("should move forward by the counter distance",
			append([]any{moves}, entries...)...)
	})

	Context("without grouping", func() {
		BeforeEach(func() {
			h = newHarness(0, nil, nil, path.Full, path.Bin)
			h.start()
		})

		It("should accept a counter that matches", func() {
			var result FixResult

			h.regs.Set(0, hw.RegFrameCounter, 11)
			h.withLock(func(p *Pass) {
				h.session.frameIndex = 10
				result = h.session.fixIndex(p)
			})

			Expect(result).To(Equal(Fixed))
			Expect(h.session.FrameIndex()).To(Equal(uint32(10)))
			Expect(h.session.IndexToSet()).To(Equal(uint32(11)))

			st, _ := h.session.Path(path.Full)
			f, _ := st.ResultQueue().PeekTail()
			Expect(f.ID).To(Equal(uint32(baseID)))
		})

		It("should skip the index over lost frames", func() {
			var result FixResult

			h.regs.Set(0, hw.RegFrameCounter, 13)
			h.withLock(func(p *Pass) {
				h.session.frameIndex = 10
				result = h.session.fixIndex(p)
			})

			Expect(result).To(Equal(Fixed))
			Expect(h.session.FrameIndex()).To(Equal(uint32(12)))
			Expect(h.session.IndexToSet()).To(Equal(uint32(13)))

			for _, id := range []path.ID{path.Full, path.Bin} {
				st, _ := h.session.Path(id)
				f, _ := st.ResultQueue().PeekTail()
				Expect(f.ID).To(Equal(uint32(baseID + 12)))
			}
		})

		It("should move the index by the counter distance across the wrap", func() {
			for _, d := range []uint32{1, 5, 63} {
				h.regs.Set(0, hw.RegFrameCounter, (62+1+d)%64)
				h.withLock(func(p *Pass) {
					h.session.frameIndex = 62
					h.session.fixIndex(p)
				})

				Expect(h.session.IndexToSet() - 63).To(Equal(d % 64))
			}
		})

		It("should renumber only the newest in-flight buffer of each path", func() {
			h.sof()
			h.sof()

			before := map[path.ID][]uint32{}
			for _, id := range []path.ID{path.Full, path.Bin} {
				st, _ := h.session.Path(id)
				before[id] = resultIDs(st)
				Expect(before[id]).To(HaveLen(3))
			}

			h.regs.Set(0, hw.RegFrameCounter, 5)
			h.withLock(func(p *Pass) {
				h.session.fixIndex(p)
			})

			Expect(h.session.FrameIndex()).To(Equal(uint32(4)))

			for _, id := range []path.ID{path.Full, path.Bin} {
				st, _ := h.session.Path(id)
				after := resultIDs(st)

				Expect(after).To(HaveLen(3))
				Expect(after[:2]).To(Equal(before[id][:2]))
				Expect(after[2]).To(Equal(uint32(baseID + 4)))
			}
		})

		It("should suppress write-done bits when hardware still writes the oldest buffer", func() {
			h.regs.Set(0, hw.RegFrameCounter, 3)
			h.withLock(func(p *Pass) {
				h.session.frameIndex = 0
				h.session.fixIndex(p)
			})

			h0, h1 := h.engine.slots[0].takeHandled()
			Expect(h0).To(Equal(hw.TxDone0))
			Expect(h1).To(Equal(hw.TxDone1))
		})

		It("should not suppress anything when hardware moved on", func() {
			h.sof()

			h.regs.Set(0, hw.RegFrameCounter, 4)
			h.withLock(func(p *Pass) {
				h.session.fixIndex(p)
			})

			h0, h1 := h.engine.slots[0].takeHandled()
			Expect(h0).To(BeZero())
			Expect(h1).To(BeZero())
		})

		It("should keep frame IDs increasing across a lost start of frame", func() {
			var drifts []DriftDetail
			h.engine.AcceptHook(hooking.HookFunc(func(ctx hooking.HookCtx) {
				if ctx.Pos == HookPosDrift {
					drifts = append(drifts, ctx.Detail.(DriftDetail))
				}
			}))

			for i := 0; i < 3; i++ {
				h.sof()
				h.irq(hw.FullDone)
			}

			h.lostSOF()
			h.sof()
			h.irq(hw.FullDone)
			h.sof()
			h.irq(hw.FullDone)

			Expect(h.sink.ids(EventDataReady, int(path.Full))).To(Equal(
				[]uint32{baseID, baseID + 1, baseID + 2, baseID + 4, baseID + 5}))
			Expect(h.sink.ids(EventIRQ, 0)).To(Equal(
				[]uint32{baseID, baseID + 1, baseID + 2, baseID + 4, baseID + 5}))

			Expect(drifts).To(HaveLen(1))
			Expect(drifts[0].OldIndex).To(Equal(uint32(3)))
			Expect(drifts[0].NewIndex).To(Equal(uint32(4)))
			Expect(drifts[0].Result).To(Equal(Fixed))

			data := h.sink.of(EventDataReady)
			Expect(data[3].boot).To(Equal(h.session.Stamp(4).Boot))
			Expect(data[3].boot).NotTo(BeZero())
		})
	})

	Context("in group mode", func() {
		const g = 4

		BeforeEach(func() {
			h = newHarness(g, nil, nil, path.Bin, path.Full)
			h.start()
		})

		It("should defer the first drift to the next start of frame", func() {
			h.sof()
			h.sof()
			before := len(h.sink.all())

			h.lostSOF()
			h.clock.Advance(frameTime)
			h.regs.AdvanceFrame(0)
			h.irq(hw.CapSOF, hw.BinDone)

			Expect(h.sink.all()).To(HaveLen(before))
			Expect(h.session.NeedFix()).To(BeTrue())
			Expect(h.session.FrameIndex()).To(Equal(uint32(2)))
		})

		It("should fill the stamps of lost frames", func() {
			var result FixResult

			h.withLock(func(p *Pass) {
				s := h.session
				s.ring.Record(3, h.clock.Now(), 10*time.Second)
				s.ring.Record(4, h.clock.Now(), 10*time.Second+frameTime)
				h.clock.Set(11 * time.Second)

				s.frameIndex = 5
				s.needFix = true
				h.regs.Set(0, hw.RegFrameCounter, 7)

				result = s.fixIndex(p)
			})

			Expect(result).To(Equal(Fixed))
			Expect(h.session.FrameIndex()).To(Equal(uint32(6)))
			Expect(h.session.NeedFix()).To(BeFalse())
			Expect(h.session.Stamp(6).Boot).To(Equal(11 * time.Second))
			Expect(h.session.Stamp(5).Boot).To(Equal(11*time.Second - frameTime))
		})

		It("should renumber two groups when the drift crosses mid group", func() {
			var result FixResult

			bin, _ := h.session.Path(path.Bin)
			full, _ := h.session.Path(path.Full)

			h.withLock(func(p *Pass) {
				s := h.session
				for i := 0; i < 4; i++ {
					_, err := bin.Commit(baseID + 50 + uint32(i))
					Expect(err).NotTo(HaveOccurred())
				}
				_, err := full.Commit(baseID + 60)
				Expect(err).NotTo(HaveOccurred())

				s.frameIndex = 7
				s.needFix = true
				h.regs.Set(0, hw.RegFrameCounter, 10)

				result = s.fixIndex(p)
			})

			Expect(result).To(Equal(BufferReady))
			Expect(h.session.FrameIndex()).To(Equal(uint32(9)))

			h0, _ := h.engine.slots[0].takeHandled()
			Expect(h0).To(Equal(hw.TxDone0))

			ids := func(st *path.State) []uint32 {
				var out []uint32
				for _, f := range st.ResultQueue().Items() {
					out = append(out, f.ID)
				}
				return out
			}

			Expect(ids(bin)).To(Equal([]uint32{
				baseID + 8, baseID + 9, baseID + 10, baseID + 11,
				baseID + 12, baseID + 13, baseID + 14, baseID + 15,
			}))
			Expect(ids(full)).To(Equal([]uint32{baseID + 8, baseID + 12}))
		})

		It("should renumber one group when the drift ends a group", func() {
			var result FixResult

			bin, _ := h.session.Path(path.Bin)

			h.withLock(func(p *Pass) {
				s := h.session
				s.frameIndex = 4
				s.needFix = true
				h.regs.Set(0, hw.RegFrameCounter, 6)

				result = s.fixIndex(p)
			})

			Expect(result).To(Equal(Fixed))
			Expect(h.session.FrameIndex()).To(Equal(uint32(5)))

			h0, _ := h.engine.slots[0].takeHandled()
			Expect(h0).To(Equal(hw.TxDone0))

			var got []uint32
			for _, f := range bin.ResultQueue().Items() {
				got = append(got, f.ID)
			}
			Expect(got).To(Equal([]uint32{
				baseID + 4, baseID + 5, baseID + 6, baseID + 7,
			}))
		})
	})
})
