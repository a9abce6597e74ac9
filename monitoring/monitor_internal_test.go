package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/capseq/capture"
	"github.com/sarchlab/capseq/frame"
	"github.com/sarchlab/capseq/hw"
	"github.com/sarchlab/capseq/path"
	"github.com/sarchlab/capseq/queueing"
	"github.com/sarchlab/capseq/tracing"
)

type sampleStruct struct {
	field1 int
	field2 string
	field3 *sampleStruct
	field4 []sampleStruct
}

type fakeBuffer struct {
	name        string
	count, capa int
}

func (b fakeBuffer) Name() string  { return b.name }
func (b fakeBuffer) Count() int    { return b.count }
func (b fakeBuffer) Capacity() int { return b.capa }

var _ = Describe("Monitor", func() {
	var (
		m       *Monitor
		regs    *hw.SimRegisters
		engine  *capture.Engine
		session *capture.Session
		ctx     context.Context
		cancel  context.CancelFunc
	)

	get := func(url string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		m.router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))

		return rec
	}

	BeforeEach(func() {
		m = NewMonitor()

		regs = hw.NewSimRegisters(3, 64)
		engine = capture.MakeEngineBuilder().
			WithRegisters(regs).
			Build("Engine")
		session = capture.MakeSessionBuilder().
			WithSink(capture.SinkFunc(
				func(capture.EventType, *frame.Frame, *capture.Session) {})).
			Build("Session")

		ctx, cancel = context.WithCancel(context.Background())

		m.RegisterEngine(engine)
		m.RegisterSession(session)
	})

	AfterEach(func() {
		_ = engine.Teardown(session)
		cancel()
	})

	It("should register the queues of a session", func() {
		Expect(m.buffers).To(HaveLen(1 + len(session.Paths().Queues())))
	})

	It("should list slots and their sessions", func() {
		Expect(engine.Bind(session, 1)).To(Succeed())

		rec := get("/api/slots")
		Expect(rec.Code).To(Equal(http.StatusOK))

		var slots []slotRsp
		Expect(json.Unmarshal(rec.Body.Bytes(), &slots)).To(Succeed())
		Expect(slots).To(HaveLen(3))
		Expect(slots[0].Session).To(BeEmpty())
		Expect(slots[1].Session).To(Equal(session.ID()))
		Expect(slots[1].State).To(Equal(session.State().String()))
	})

	It("should list sessions", func() {
		rec := get("/api/sessions")

		var sessions []sessionRsp
		Expect(json.Unmarshal(rec.Body.Bytes(), &sessions)).To(Succeed())
		Expect(sessions).To(HaveLen(1))
		Expect(sessions[0].Name).To(Equal("Session"))
		Expect(sessions[0].Slot).To(Equal(-1))
		Expect(sessions[0].GroupSize).To(Equal(uint32(1)))
	})

	It("should report and reset interrupt counters", func() {
		Expect(engine.Bind(session, 0)).To(Succeed())
		Expect(session.Start(ctx)).To(Succeed())

		regs.Raise(0, hw.SensorSOF)
		Expect(engine.HandleIRQ(0)).To(Equal(capture.IRQHandled))

		rec := get("/api/tracker/Engine/0")
		Expect(rec.Code).To(Equal(http.StatusOK))

		var counts map[string]uint64
		Expect(json.Unmarshal(rec.Body.Bytes(), &counts)).To(Succeed())
		Expect(counts).To(HaveKeyWithValue("SENSOR_SOF", uint64(1)))

		resetRec := httptest.NewRecorder()
		m.router().ServeHTTP(resetRec, httptest.NewRequest(
			http.MethodPost, "/api/tracker/Engine/0/reset", nil))
		Expect(resetRec.Code).To(Equal(http.StatusNoContent))

		slot, err := engine.Slot(0)
		Expect(err).NotTo(HaveOccurred())
		Expect(slot.Tracker().Snapshot()).To(BeEmpty())
	})

	It("should return 404 for unknown slots and sessions", func() {
		Expect(get("/api/tracker/Other/0").Code).
			To(Equal(http.StatusNotFound))
		Expect(get("/api/tracker/Engine/7").Code).
			To(Equal(http.StatusNotFound))
		Expect(get("/api/tracker/Engine/x").Code).
			To(Equal(http.StatusBadRequest))
		Expect(get("/api/session/nobody").Code).
			To(Equal(http.StatusNotFound))
	})

	It("should serve statistics only when registered", func() {
		Expect(get("/api/stats").Code).To(Equal(http.StatusNotFound))

		stats := tracing.NewStatsTracer()
		engine.AcceptHook(stats)
		m.RegisterStats(stats)

		rec := get("/api/stats")
		Expect(rec.Code).To(Equal(http.StatusOK))

		var rsp statsRsp
		Expect(json.Unmarshal(rec.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp.Events).To(HaveKeyWithValue("data-ready", uint64(0)))
		Expect(rsp.Drifts).To(HaveLen(3))
	})

	Context("hang detector", func() {
		BeforeEach(func() {
			m.buffers = []Buffer{
				fakeBuffer{name: "A", count: 2, capa: 4},
				fakeBuffer{name: "B", count: 3, capa: 10},
				fakeBuffer{name: "C", count: 1, capa: 1},
			}
		})

		It("should sort by percent by default", func() {
			rec := get("/api/hangdetector/buffers")

			var rsp []bufferRsp
			Expect(json.Unmarshal(rec.Body.Bytes(), &rsp)).To(Succeed())
			Expect(rsp).To(HaveLen(3))
			Expect(rsp[0].Buffer).To(Equal("C"))
			Expect(rsp[1].Buffer).To(Equal("A"))
			Expect(rsp[2].Buffer).To(Equal("B"))
		})

		It("should sort by level with limit and offset", func() {
			rec := get("/api/hangdetector/buffers?sort=level&limit=1&offset=1")

			var rsp []bufferRsp
			Expect(json.Unmarshal(rec.Body.Bytes(), &rsp)).To(Succeed())
			Expect(rsp).To(HaveLen(1))
			Expect(rsp[0].Buffer).To(Equal("A"))
		})

		It("should clamp an offset past the end", func() {
			Expect(m.sortAndSelectBuffers("level", 0, 10)).To(BeEmpty())
		})

		It("should reject bad parameters", func() {
			Expect(get("/api/hangdetector/buffers?sort=name").Code).
				To(Equal(http.StatusBadRequest))
			Expect(get("/api/hangdetector/buffers?limit=x").Code).
				To(Equal(http.StatusBadRequest))
			Expect(get("/api/hangdetector/buffers?offset=-1").Code).
				To(Equal(http.StatusBadRequest))
		})
	})

	It("should track progress bars", func() {
		bar := m.CreateProgressBar("frames", 2)
		bar.IncrementInProgress(2)
		bar.MoveInProgressToFinished(2)

		Expect(bar.Done()).To(BeTrue())
		Expect(m.progressBars).To(HaveLen(1))

		m.CompleteProgressBar(bar)
		Expect(m.progressBars).To(BeEmpty())
	})

	It("should walk int fields", func() {
		s := &sampleStruct{field1: 1}

		elem, err := m.walkFields(s, "field1")

		Expect(err).To(BeNil())
		Expect(elem.Kind()).To(Equal(reflect.Int))
		Expect(elem.Int()).To(Equal(int64(1)))
	})

	It("should walk slices recursively", func() {
		s := &sampleStruct{
			field4: []sampleStruct{{
				field3: &sampleStruct{field2: "abc"},
			}},
		}

		elem, err := m.walkFields(s, "field4.0.field3.field2")

		Expect(err).To(BeNil())
		Expect(elem.String()).To(Equal("abc"))
	})

	It("should reject unknown fields and indices", func() {
		s := &sampleStruct{field4: []sampleStruct{{}}}

		_, err := m.walkFields(s, "nothing")
		Expect(err).To(HaveOccurred())

		_, err = m.walkFields(s, "field4.3")
		Expect(err).To(HaveOccurred())

		_, err = m.walkFields(s, "field3.field1")
		Expect(err).To(HaveOccurred())
	})

	It("should find path queues by name", func() {
		state := session.Paths().MustGet(path.Full)
		m.buffers = []Buffer{state.OutQueue()}

		Expect(m.sortAndSelectBuffers("percent", 0, 0)[0].Name()).
			To(Equal(state.OutQueue().Name()))
	})

	It("should accept plain queues", func() {
		q := queueing.MakeQueueBuilder[int]().WithCapacity(2).Build("Q")
		Expect(q.TryEnqueue(1)).To(Succeed())

		m.RegisterBuffer(q)
		Expect(m.buffers).To(ContainElement(q))
	})
})
