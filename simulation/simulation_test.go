package simulation

import (
	"context"
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/capseq/capture"
	"github.com/sarchlab/capseq/datarecording"
	"github.com/sarchlab/capseq/path"
	"github.com/sarchlab/capseq/tracing"
)

const base = 100

func idsFrom(first, n int, skip ...int) []uint32 {
	skipped := make(map[int]bool)
	for _, s := range skip {
		skipped[s] = true
	}

	var out []uint32
	for i := first; i < first+n; i++ {
		if !skipped[i] {
			out = append(out, uint32(base+i))
		}
	}

	return out
}

var _ = Describe("Simulation", func() {
	var s *Simulation

	AfterEach(func() {
		if s != nil {
			s.Terminate()
		}
	})

	It("should deliver every frame in order", func() {
		s = MakeBuilder().
			WithFrames(10).
			WithBaseFrameID(base).
			WithFrameIDs().
			Build()

		Expect(s.Run(context.Background())).To(Succeed())

		Expect(s.Consumer().IDs(path.Full)).To(Equal(idsFrom(0, 10)))
		Expect(s.Consumer().IDs(path.Bin)).To(Equal(idsFrom(0, 10)))
		Expect(s.Consumer().IDs(path.AEM)).To(Equal(idsFrom(0, 10)))

		sum := s.Summary()
		Expect(sum.LostSOFs).To(BeZero())
		Expect(sum.Unhandled).To(BeZero())
		Expect(sum.Delivered["irq"]).To(Equal(10))
		Expect(sum.Delivered["data-ready"]).To(Equal(20))
		Expect(sum.Delivered["statis-ready"]).To(Equal(10))
		Expect(sum.Drifts["fixed"]).To(BeZero())
		Expect(sum.Faults).To(BeEmpty())
		Expect(sum.FinalState).To(Equal("idle"))
	})

	It("should stamp frames with virtual time", func() {
		s = MakeBuilder().WithFrames(3).WithFPS(25).Build()

		Expect(s.Run(context.Background())).To(Succeed())

		stats := s.Stats().Paths()
		Expect(stats).NotTo(BeEmpty())
		for _, ps := range stats {
			Expect(ps.Frames).To(Equal(uint64(3)))
			Expect(ps.Gaps).To(BeZero())
			Expect(ps.MaxLatency).To(Equal(s.Sensor().Interval() / 2))
		}
	})

	It("should skip the IDs of frames whose start was lost", func() {
		s = MakeBuilder().
			WithFrames(10).
			WithBaseFrameID(base).
			WithPaths(path.Full).
			WithLostFrames(3, 7).
			WithFrameIDs().
			Build()

		Expect(s.Run(context.Background())).To(Succeed())

		Expect(s.Sensor().LostFrames()).To(Equal([]int{3, 7}))
		Expect(s.Consumer().IDs(path.Full)).To(Equal(idsFrom(0, 10, 3, 7)))

		sum := s.Summary()
		Expect(sum.Drifts["fixed"]).To(Equal(uint64(2)))
		Expect(sum.Paths[0].Gaps).To(Equal(uint64(2)))
	})

	It("should keep IDs increasing when starts are lost at random", func() {
		s = MakeBuilder().
			WithFrames(60).
			WithPaths(path.Full).
			WithDropSOF(0.2).
			WithSeed(7).
			WithFrameIDs().
			Build()

		Expect(s.Run(context.Background())).To(Succeed())

		ids := s.Consumer().IDs(path.Full)
		Expect(ids).To(HaveLen(60 - s.Sensor().LostSOFs()))

		for i := 1; i < len(ids); i++ {
			Expect(ids[i]).To(BeNumerically(">", ids[i-1]))
		}

		Expect(ids[len(ids)-1]).To(BeNumerically("<", 60))
		Expect(s.Summary().Faults).To(BeEmpty())
	})

	It("should number every frame of a group", func() {
		s = MakeBuilder().
			WithFrames(8).
			WithGroupSize(4).
			WithBaseFrameID(base).
			WithPaths(path.Bin).
			WithFrameIDs().
			Build()

		Expect(s.Run(context.Background())).To(Succeed())

		Expect(s.Consumer().IDs(path.Bin)).To(Equal(idsFrom(0, 8)))
		Expect(s.Consumer().Count(capture.EventIRQ)).To(Equal(2))
	})

	It("should record the run", func() {
		db, err := sql.Open("sqlite3", ":memory:")
		Expect(err).NotTo(HaveOccurred())
		db.SetMaxOpenConns(1)
		defer db.Close()

		s = MakeBuilder().
			WithFrames(5).
			WithPaths(path.Full).
			WithDataRecorder(datarecording.NewWithDB(db)).
			Build()

		Expect(s.Run(context.Background())).To(Succeed())
		s.Terminate()
		s = nil

		var rows int
		err = db.QueryRow(
			"SELECT COUNT(*) FROM " + tracing.DispatchTable).Scan(&rows)
		Expect(err).NotTo(HaveOccurred())
		Expect(rows).To(Equal(10))
	})

	It("should serve the run on the monitor", func() {
		s = MakeBuilder().
			WithFrames(2).
			WithMonitoring(0).
			Build()

		Expect(s.Monitor()).NotTo(BeNil())
		Expect(s.Run(context.Background())).To(Succeed())
	})

	It("should refuse a slot that is out of range", func() {
		s = MakeBuilder().WithFrames(1).WithSlot(5).Build()

		Expect(s.Run(context.Background())).To(MatchError(capture.ErrNoSlot))
	})
})
