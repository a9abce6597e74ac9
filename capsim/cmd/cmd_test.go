package cmd_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/capseq/capsim/cmd"
	"github.com/sarchlab/capseq/simulation"
	"github.com/spf13/pflag"
)

func execute(args ...string) (string, error) {
	out := new(bytes.Buffer)

	root := cmd.NewRootCmd()
	root.SetOut(out)
	root.SetErr(GinkgoWriter)
	root.SetArgs(args)

	err := root.Execute()

	return out.String(), err
}

var _ = Describe("Environment", func() {
	var flags *pflag.FlagSet

	BeforeEach(func() {
		flags = pflag.NewFlagSet("test", pflag.ContinueOnError)
		flags.Int("frames", 100, "")
		flags.Float64("drop-sof", 0, "")
	})

	It("should name variables after flags", func() {
		Expect(cmd.EnvName("drop-sof")).To(Equal("CAPSIM_DROP_SOF"))
	})

	It("should fill flags that were not given", func() {
		GinkgoT().Setenv("CAPSIM_FRAMES", "12")
		GinkgoT().Setenv("CAPSIM_DROP_SOF", "0.25")

		Expect(cmd.ApplyEnv(flags)).To(Succeed())

		frames, _ := flags.GetInt("frames")
		drop, _ := flags.GetFloat64("drop-sof")
		Expect(frames).To(Equal(12))
		Expect(drop).To(Equal(0.25))
	})

	It("should keep flags the user gave", func() {
		GinkgoT().Setenv("CAPSIM_FRAMES", "12")
		Expect(flags.Parse([]string{"--frames=7"})).To(Succeed())

		Expect(cmd.ApplyEnv(flags)).To(Succeed())

		frames, _ := flags.GetInt("frames")
		Expect(frames).To(Equal(7))
	})

	It("should report bad values", func() {
		GinkgoT().Setenv("CAPSIM_FRAMES", "many")

		err := cmd.ApplyEnv(flags)

		Expect(err).To(MatchError(ContainSubstring("CAPSIM_FRAMES")))
	})

	It("should load variables from an env file", func() {
		dir := GinkgoT().TempDir()
		file := filepath.Join(dir, "capsim.env")
		Expect(os.WriteFile(file, []byte("CAPSIM_FRAMES=4\n"), 0o600)).
			To(Succeed())
		DeferCleanup(os.Unsetenv, "CAPSIM_FRAMES")

		out, err := execute("run", "--env-file", file, "--json")

		Expect(err).NotTo(HaveOccurred())

		var sum simulation.Summary
		Expect(json.Unmarshal([]byte(out), &sum)).To(Succeed())
		Expect(sum.Frames).To(Equal(4))
	})

	It("should fail on a missing env file the user named", func() {
		_, err := execute("run", "--env-file", "no-such.env")

		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Run", func() {
	It("should print a JSON summary", func() {
		out, err := execute("run", "--frames", "6", "--json")

		Expect(err).NotTo(HaveOccurred())

		var sum simulation.Summary
		Expect(json.Unmarshal([]byte(out), &sum)).To(Succeed())
		Expect(sum.Frames).To(Equal(6))
		Expect(sum.LostSOFs).To(Equal(0))
		Expect(sum.Delivered["data-ready"]).To(Equal(12))
		Expect(sum.Delivered["statis-ready"]).To(Equal(6))
		Expect(sum.FinalState).To(Equal("idle"))
	})

	It("should print a table", func() {
		out, err := execute("run", "--frames", "3")

		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("delivered data-ready"))
		Expect(out).To(ContainSubstring("FULL"))
	})

	DescribeTable("should reject bad options",
		func(args ...string) {
			_, err := execute(append([]string{"run"}, args...)...)

			Expect(err).To(HaveOccurred())
		},
		Entry("negative frames", "--frames", "-1"),
		Entry("zero fps", "--fps", "0"),
		Entry("zero group", "--slow-motion", "0"),
		Entry("certain drop", "--drop-sof", "1"),
		Entry("unknown backend", "--record", "--backend", "csv"),
		Entry("browser without monitor", "--open-browser"),
	)
})

var _ = Describe("Report", func() {
	It("should summarize a recording", func() {
		db := filepath.Join(GinkgoT().TempDir(), "run")

		_, err := execute("run", "--frames", "5", "--record", "--db", db)
		Expect(err).NotTo(HaveOccurred())

		out, err := execute("report", db+".sqlite3", "--json")
		Expect(err).NotTo(HaveOccurred())

		var rep cmd.Report
		Expect(json.Unmarshal([]byte(out), &rep)).To(Succeed())
		Expect(rep.DriftTotal).To(Equal(0))
		Expect(rep.Faults).To(BeEmpty())
		Expect(rep.Drops).To(Equal(0))
		var full *cmd.DispatchCount
		for i := range rep.Dispatched {
			c := &rep.Dispatched[i]
			if c.Event == "data-ready" && c.Path == "FULL" {
				full = c
			}
		}

		Expect(full).NotTo(BeNil())
		Expect(full.Frames).To(Equal(5))
		Expect(full.MinID).To(Equal(uint32(0)))
		Expect(full.MaxID).To(Equal(uint32(4)))
		Expect(full.MaxLat).To(BeNumerically(">", 0))
	})

	It("should fail on a missing file", func() {
		_, err := execute("report", "no-such.sqlite3")

		Expect(err).To(HaveOccurred())
	})
})
