package capture

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/capseq/frame"
	"github.com/sarchlab/capseq/hooking"
	"github.com/sarchlab/capseq/hw"
	"github.com/sarchlab/capseq/path"
)

var _ = Describe("Dispatch", func() {
	var h *harness

	AfterEach(func() {
		h.stop()
	})

	Context("without grouping", func() {
		BeforeEach(func() {
			h = newHarness(0, nil, nil, path.Full, path.Bin)
			h.start()
		})

		It("should commit the first buffer on start", func() {
			st, _ := h.session.Path(path.Full)
			Expect(st.Committed()).To(Equal(1))

			f, _ := st.ResultQueue().PeekFront()
			Expect(f.ID).To(Equal(uint32(baseID)))
			Expect(h.regs.Read(0, hw.StoreAddrReg(path.Full))).To(Equal(f.Addr))
			Expect(h.session.State()).To(Equal(StateRunning))
		})

		It("should number frames in capture order", func() {
			for i := 0; i < 10; i++ {
				h.sof()
				h.irq(hw.BinDone, hw.FullDone)
			}

			want := make([]uint32, 10)
			for i := range want {
				want[i] = baseID + uint32(i)
			}

			Expect(h.sink.ids(EventDataReady, int(path.Full))).To(Equal(want))
			Expect(h.sink.ids(EventDataReady, int(path.Bin))).To(Equal(want))
			Expect(h.sink.ids(EventIRQ, 0)).To(Equal(want))
			Expect(h.session.FrameIndex()).To(Equal(uint32(10)))
		})

		It("should stamp frames with their start of frame", func() {
			h.sof()
			h.irq(hw.FullDone)
			h.sof()
			h.irq(hw.FullDone)

			data := h.sink.of(EventDataReady)
			Expect(data).To(HaveLen(2))
			Expect(data[0].boot).To(Equal(h.session.Stamp(0).Boot))
			Expect(data[0].interval).To(BeZero())
			Expect(data[1].interval).To(Equal(frameTime))
			Expect(data[0].kind).To(Equal(frame.KindData))
		})

		It("should deliver in table order within one interrupt", func() {
			h.sof()
			h.clock.Advance(frameTime)
			h.regs.AdvanceFrame(0)
			h.irq(hw.FullDone, hw.SensorEOF, hw.CapSOF)

			got := h.sink.all()
			Expect(got).To(HaveLen(4))
			Expect(got[1].irq).To(Equal(frame.IRQStartOfFrame))
			Expect(got[1].id).To(Equal(uint32(baseID + 1)))
			Expect(got[2].irq).To(Equal(frame.IRQSensorEndOfFrame))
			Expect(got[3].evt).To(Equal(EventDataReady))
			Expect(got[3].id).To(Equal(uint32(baseID)))
		})

		It("should not deliver a frame that has not been captured", func() {
			h.irq(hw.FullDone)
			Expect(h.sink.of(EventDataReady)).To(BeEmpty())

			h.sof()
			h.irq(hw.FullDone)
			h.irq(hw.FullDone)
			Expect(h.sink.ids(EventDataReady, int(path.Full))).
				To(Equal([]uint32{baseID}))
		})

		It("should clear the auto copy and AXI count", func() {
			h.regs.ResetWrites()
			h.sof(hw.CapEOF)

			copies := h.regs.WritesTo(0, hw.RegAutoCopy)
			Expect(copies).To(HaveLen(1))
			Expect(copies[0] & hw.AutoCopyCapture).NotTo(BeZero())
			Expect(copies[0] & hw.AutoCopyPath(path.Full)).NotTo(BeZero())
			Expect(h.regs.WritesTo(0, hw.RegAXICountClear)).
				To(Equal([]uint32{1}))
		})

		It("should count interrupts per slot", func() {
			h.sof()
			h.sof(hw.FullDone)

			tracker := h.engine.slots[0].Tracker()
			Expect(tracker.Count(hw.CapSOF)).To(Equal(uint64(2)))
			Expect(tracker.Snapshot()).To(HaveKeyWithValue("FULL_TX_DONE", uint64(1)))

			tracker.Reset()
			Expect(tracker.Snapshot()).To(BeEmpty())
		})

		It("should report every dispatch to hooks", func() {
			var events []EventType
			h.engine.AcceptHook(hooking.HookFunc(func(ctx hooking.HookCtx) {
				if ctx.Pos == HookPosDispatch {
					events = append(events, ctx.Detail.(DispatchDetail).Event)
				}
			}))

			h.sof()
			h.irq(hw.FullDone)

			Expect(events).To(Equal([]EventType{EventIRQ, EventDataReady}))
		})

		It("should skip frames and decimate", func() {
			st, _ := h.session.Path(path.Bin)
			st.FrameSkip = 1
			st.FrameDeci = 1

			for i := 0; i < 6; i++ {
				h.sof()
				h.irq(hw.BinDone)
			}

			Expect(h.sink.ids(EventDataReady, int(path.Bin))).
				To(Equal([]uint32{baseID, baseID + 3}))
		})

		It("should hold back reserved buffers", func() {
			st, _ := h.session.Path(path.Bin)
			st.OutQueue().Clear(nil)
			st.OutQueue().Reopen()
			Expect(h.session.Reserve(path.Bin, 0xBEEF0)).To(Succeed())

			h.sof()
			h.irq(hw.BinDone)
			h.sof()
			h.irq(hw.BinDone)

			Expect(h.sink.ids(EventDataReady, int(path.Bin))).
				To(Equal([]uint32{baseID}))
			Expect(st.ReservedQueue().Count()).To(Equal(1))
		})
	})

	Context("with a handler that suppresses later bits", func() {
		BeforeEach(func() {
			h = newHarness(0, func(b EngineBuilder) EngineBuilder {
				return b.WithHandler(hw.SensorEOF, func(p *Pass) {
					p.MarkHandled(hw.FullDone.Mask(), hw.DecDone.Mask())
				})
			}, nil, path.Full)
			h.start()
		})

		It("should skip the suppressed bits of this pass only", func() {
			h.sof()
			h.irq(hw.SensorEOF, hw.FullDone)
			Expect(h.sink.of(EventDataReady)).To(BeEmpty())

			h.sof()
			h.irq(hw.FullDone)
			Expect(h.sink.ids(EventDataReady, int(path.Full))).
				To(Equal([]uint32{baseID}))
		})
	})

	Context("with a bit that has no handler", func() {
		BeforeEach(func() {
			h = newHarness(0, func(b EngineBuilder) EngineBuilder {
				return b.WithHandler(hw.SensorEOF, nil)
			}, nil, path.Full)
			h.start()
		})

		It("should still handle the other bits in order", func() {
			h.clock.Advance(frameTime)
			h.regs.AdvanceFrame(0)
			Expect(h.irq(hw.CapSOF, hw.SensorEOF, hw.AFMIntReq0)).
				To(Equal(IRQHandled))
			h.sof(hw.SensorEOF, hw.FullDone)

			got := h.sink.all()
			Expect(got).To(HaveLen(3))
			Expect(got[0].irq).To(Equal(frame.IRQStartOfFrame))
			Expect(got[1].irq).To(Equal(frame.IRQStartOfFrame))
			Expect(got[2].evt).To(Equal(EventDataReady))
		})
	})

	Context("in group mode", func() {
		BeforeEach(func() {
			h = newHarness(4, nil, nil, path.Bin, path.AEM)
			h.start()
		})

		It("should commit one group ahead", func() {
			st, _ := h.session.Path(path.Bin)
			Expect(st.Committed()).To(Equal(4))

			h.sof()
			Expect(st.Committed()).To(Equal(8))
			Expect(h.session.IndexToSet()).To(Equal(uint32(4)))

			aem, _ := h.session.Path(path.AEM)
			f, _ := aem.ResultQueue().PeekTail()
			Expect(f.ID).To(Equal(uint32(baseID + 7)))
		})

		It("should number every frame of a group", func() {
			for i := 0; i < 8; i++ {
				h.sof()
				h.irq(hw.BinDone)
			}

			want := make([]uint32, 8)
			for i := range want {
				want[i] = baseID + uint32(i)
			}

			Expect(h.sink.ids(EventDataReady, int(path.Bin))).To(Equal(want))
			Expect(h.sink.ids(EventIRQ, 0)).
				To(Equal([]uint32{baseID, baseID + 4}))
		})

		It("should copy binned coefficients at the end of a group", func() {
			for i := 0; i < 4; i++ {
				h.sof()
			}

			copies := h.regs.WritesTo(0, hw.RegAutoCopy)
			last := copies[len(copies)-1]
			Expect(last & hw.AutoCopyCoef).NotTo(BeZero())
			Expect(last & hw.AutoCopyPath(path.Bin)).NotTo(BeZero())
		})
	})
})
