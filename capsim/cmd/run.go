package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"text/tabwriter"

	"github.com/pkg/browser"
	"github.com/sarchlab/capseq/datarecording"
	"github.com/sarchlab/capseq/simulation"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "run",
		Short: "Run one simulated capture.",
		Long: "`run` binds a session to a simulated slot, plays the sensor " +
			"frames and prints what the sink received.",
		Args: cobra.NoArgs,
		RunE: runSimulation,
	}

	f := c.Flags()
	f.Int("frames", 100, "Number of sensor frames")
	f.Float64("fps", 30, "Sensor frame rate")
	f.Uint32("slow-motion", 1, "Frames per group, 1 turns slow motion off")
	f.Float64("drop-sof", 0, "Probability that a start of frame is lost")
	f.Int64("seed", 1, "Seed of the lost frame choice")
	f.Int("slot", 0, "Hardware slot to bind")
	f.Bool("3dnr", false, "Enable temporal noise reduction")
	f.Bool("record", false, "Record dispatched frames")
	f.String("db", "", "Recording file, without the .sqlite3 suffix")
	f.String("backend", datarecording.BackendSQLite,
		"Recording backend, sqlite or clickhouse")
	f.String("clickhouse-host", "localhost", "ClickHouse host")
	f.Int("clickhouse-port", 9000, "ClickHouse native port")
	f.String("clickhouse-db", "default", "ClickHouse database")
	f.String("clickhouse-user", "default", "ClickHouse user")
	f.String("clickhouse-password", "", "ClickHouse password")
	f.Bool("monitor", false, "Serve the monitor")
	f.Int("port", 0, "Monitor port, 0 picks one")
	f.Bool("open-browser", false, "Open the monitor in a browser")
	f.Bool("hold", false, "Keep the monitor up after the run until interrupted")
	f.Bool("json", false, "Print the summary as JSON")

	return c
}

type runOptions struct {
	frames     int
	fps        float64
	slowMotion uint32
	dropSOF    float64
	seed       int64
	slot       int
	nr3        bool

	record   bool
	recorder datarecording.RecorderConfig

	monitor     bool
	port        int
	openBrowser bool
	hold        bool
	json        bool
}

func parseRunOptions(cmd *cobra.Command) (runOptions, error) {
	f := cmd.Flags()
	o := runOptions{}

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	var err error
	o.frames, err = f.GetInt("frames")
	collect(err)
	o.fps, err = f.GetFloat64("fps")
	collect(err)
	o.slowMotion, err = f.GetUint32("slow-motion")
	collect(err)
	o.dropSOF, err = f.GetFloat64("drop-sof")
	collect(err)
	o.seed, err = f.GetInt64("seed")
	collect(err)
	o.slot, err = f.GetInt("slot")
	collect(err)
	o.nr3, err = f.GetBool("3dnr")
	collect(err)
	o.record, err = f.GetBool("record")
	collect(err)
	o.recorder.Path, err = f.GetString("db")
	collect(err)
	o.recorder.Backend, err = f.GetString("backend")
	collect(err)
	o.recorder.ClickHouse.Host, err = f.GetString("clickhouse-host")
	collect(err)
	o.recorder.ClickHouse.Port, err = f.GetInt("clickhouse-port")
	collect(err)
	o.recorder.ClickHouse.Database, err = f.GetString("clickhouse-db")
	collect(err)
	o.recorder.ClickHouse.Username, err = f.GetString("clickhouse-user")
	collect(err)
	o.recorder.ClickHouse.Password, err = f.GetString("clickhouse-password")
	collect(err)
	o.monitor, err = f.GetBool("monitor")
	collect(err)
	o.port, err = f.GetInt("port")
	collect(err)
	o.openBrowser, err = f.GetBool("open-browser")
	collect(err)
	o.hold, err = f.GetBool("hold")
	collect(err)
	o.json, err = f.GetBool("json")
	collect(err)

	if len(errs) > 0 {
		return o, errors.Join(errs...)
	}

	return o, o.validate()
}

func (o runOptions) validate() error {
	switch {
	case o.frames < 0:
		return errors.New("--frames cannot be negative")
	case o.fps <= 0:
		return errors.New("--fps must be positive")
	case o.slowMotion == 0:
		return errors.New("--slow-motion must be at least 1")
	case o.dropSOF < 0 || o.dropSOF >= 1:
		return errors.New("--drop-sof must be in [0, 1)")
	}

	switch o.recorder.Backend {
	case datarecording.BackendSQLite, datarecording.BackendClickHouse:
	default:
		return fmt.Errorf("unknown backend %q", o.recorder.Backend)
	}

	if o.openBrowser && !o.monitor {
		return errors.New("--open-browser needs --monitor")
	}

	return nil
}

func (o runOptions) builder() simulation.Builder {
	b := simulation.MakeBuilder().
		WithFrames(o.frames).
		WithFPS(o.fps).
		WithGroupSize(o.slowMotion).
		WithDropSOF(o.dropSOF).
		WithSeed(o.seed).
		WithSlot(o.slot).
		With3DNR(o.nr3)

	if o.record {
		b = b.WithRecording(o.recorder)
	}

	if o.monitor {
		b = b.WithMonitoring(o.port)
	}

	return b
}

func runSimulation(cmd *cobra.Command, _ []string) error {
	o, err := parseRunOptions(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	sim := o.builder().Build()
	defer sim.Terminate()

	if o.openBrowser {
		url := fmt.Sprintf("http://localhost:%d", sim.MonitorPort())
		if err := browser.OpenURL(url); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "cannot open %s: %v\n", url, err)
		}
	}

	if err := sim.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	sum := sim.Summary()

	if o.json {
		err = printJSON(cmd.OutOrStdout(), sum)
	} else {
		err = printSummary(cmd.OutOrStdout(), sum)
	}

	if err != nil {
		return err
	}

	if o.monitor && o.hold {
		fmt.Fprintf(cmd.ErrOrStderr(),
			"monitor on port %d, interrupt to exit\n", sim.MonitorPort())
		<-ctx.Done()
	}

	return nil
}

func printSummary(w io.Writer, sum simulation.Summary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "frames\t%d\n", sum.Frames)
	fmt.Fprintf(tw, "lost SOFs\t%d\n", sum.LostSOFs)
	fmt.Fprintf(tw, "interrupts\t%d\n", sum.IRQs)
	fmt.Fprintf(tw, "unhandled\t%d\n", sum.Unhandled)
	fmt.Fprintf(tw, "dropped events\t%d\n", sum.Dropped)
	fmt.Fprintf(tw, "faults\t%d\n", len(sum.Faults))
	fmt.Fprintf(tw, "final state\t%s\n", sum.FinalState)

	for _, k := range sortedKeys(sum.Delivered) {
		fmt.Fprintf(tw, "delivered %s\t%d\n", k, sum.Delivered[k])
	}

	for _, k := range sortedKeys(sum.Drifts) {
		fmt.Fprintf(tw, "drift %s\t%d\n", k, sum.Drifts[k])
	}

	if len(sum.Paths) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "path\tframes\tlast\tgaps\tavg latency\tmax latency")
	}

	for _, p := range sum.Paths {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\t%s\n",
			p.Path, p.Frames, p.LastID, p.Gaps, p.AvgLatency, p.MaxLatency)
	}

	return tw.Flush()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}
