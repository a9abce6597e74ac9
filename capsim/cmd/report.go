package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/sarchlab/capseq/datarecording"
	"github.com/sarchlab/capseq/tracing"
	"github.com/spf13/cobra"
)

func newReportCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "report <recording.sqlite3>",
		Short: "Summarize a recorded run.",
		Args:  cobra.ExactArgs(1),
		RunE:  runReport,
	}

	c.Flags().String("session", "", "Only report rows of this session")
	c.Flags().Int("drifts", 10, "Number of drift rows to list, 0 lists all")
	c.Flags().Bool("json", false, "Print the report as JSON")

	return c
}

// Report is what a recording holds, grouped the way capsim prints it.
type Report struct {
	Dispatched []DispatchCount      `json:"dispatched"`
	Drifts     []tracing.DriftEntry `json:"drifts"`
	DriftTotal int                  `json:"drift_total"`
	Faults     []tracing.FatalEntry `json:"faults"`
	Drops      int                  `json:"drops"`
}

// DispatchCount is the number of frames of one event kind on one path.
type DispatchCount struct {
	Event  string  `json:"event"`
	Path   string  `json:"path"`
	Frames int     `json:"frames"`
	MinID  uint32  `json:"min_id"`
	MaxID  uint32  `json:"max_id"`
	MaxLat float64 `json:"max_latency"`
}

func runReport(cmd *cobra.Command, args []string) error {
	file := args[0]
	if _, err := os.Stat(file); err != nil {
		return err
	}

	session, _ := cmd.Flags().GetString("session")
	drifts, _ := cmd.Flags().GetInt("drifts")
	asJSON, _ := cmd.Flags().GetBool("json")

	reader := datarecording.NewReader(file)
	defer func() { _ = reader.Close() }()

	rep, err := buildReport(cmd, reader, session, drifts)
	if err != nil {
		return err
	}

	if asJSON {
		return printJSON(cmd.OutOrStdout(), rep)
	}

	return printReport(cmd.OutOrStdout(), rep)
}

func buildReport(
	cmd *cobra.Command,
	reader datarecording.DataReader,
	session string,
	drifts int,
) (Report, error) {
	ctx := cmd.Context()
	rep := Report{}

	reader.MapTable(tracing.DispatchTable, tracing.DispatchEntry{})
	reader.MapTable(tracing.DriftTable, tracing.DriftEntry{})
	reader.MapTable(tracing.FatalTable, tracing.FatalEntry{})
	reader.MapTable(tracing.DropTable, tracing.DropEntry{})

	filter := datarecording.QueryParams{}
	if session != "" {
		filter.Where = "Session = ?"
		filter.Args = []any{session}
	}

	rows, _, err := reader.Query(ctx, tracing.DispatchTable, filter)
	if err != nil {
		return rep, err
	}

	rep.Dispatched = countDispatches(rows)

	driftFilter := filter
	driftFilter.Limit = drifts
	driftFilter.OrderBy = "NewIndex"

	rows, rep.DriftTotal, err = reader.Query(ctx, tracing.DriftTable, driftFilter)
	if err != nil {
		return rep, err
	}

	for _, r := range rows {
		rep.Drifts = append(rep.Drifts, *r.(*tracing.DriftEntry))
	}

	rows, _, err = reader.Query(ctx, tracing.FatalTable, filter)
	if err != nil {
		return rep, err
	}

	for _, r := range rows {
		rep.Faults = append(rep.Faults, *r.(*tracing.FatalEntry))
	}

	_, rep.Drops, err = reader.Query(ctx, tracing.DropTable,
		datarecording.QueryParams{
			Where: filter.Where,
			Args:  filter.Args,
			Limit: 1,
		})
	if err != nil {
		return rep, err
	}

	return rep, nil
}

func countDispatches(rows []any) []DispatchCount {
	type key struct{ event, path string }

	counts := make(map[key]*DispatchCount)

	for _, r := range rows {
		e := r.(*tracing.DispatchEntry)
		k := key{e.Event, e.Path}

		c, ok := counts[k]
		if !ok {
			c = &DispatchCount{
				Event: e.Event,
				Path:  e.Path,
				MinID: e.FrameID,
				MaxID: e.FrameID,
			}
			counts[k] = c
		}

		c.Frames++
		c.MinID = min(c.MinID, e.FrameID)
		c.MaxID = max(c.MaxID, e.FrameID)
		c.MaxLat = max(c.MaxLat, e.Latency)
	}

	out := make([]DispatchCount, 0, len(counts))
	for _, c := range counts {
		out = append(out, *c)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Event != out[j].Event {
			return out[i].Event < out[j].Event
		}

		return out[i].Path < out[j].Path
	})

	return out
}

func printReport(w io.Writer, rep Report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintln(tw, "event\tpath\tframes\tfirst\tlast\tmax latency")

	for _, c := range rep.Dispatched {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%.6f\n",
			c.Event, c.Path, c.Frames, c.MinID, c.MaxID, c.MaxLat)
	}

	fmt.Fprintf(tw, "\ndrifts\t%d\n", rep.DriftTotal)

	for _, d := range rep.Drifts {
		fmt.Fprintf(tw, "  hw %d expected %d\t%d -> %d\t%s\n",
			d.HWCount, d.Expected, d.OldIndex, d.NewIndex, d.Result)
	}

	fmt.Fprintf(tw, "faults\t%d\n", len(rep.Faults))

	for _, f := range rep.Faults {
		fmt.Fprintf(tw, "  slot %d\t%#08x\n", f.Slot, f.Status)
	}

	fmt.Fprintf(tw, "dropped events\t%d\n", rep.Drops)

	return tw.Flush()
}
