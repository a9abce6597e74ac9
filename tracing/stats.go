package tracing

import (
	"sort"
	"sync"
	"time"

	"github.com/sarchlab/capseq/capture"
	"github.com/sarchlab/capseq/frame"
	"github.com/sarchlab/capseq/hooking"
	"github.com/sarchlab/capseq/path"
)

// PathStats summarizes the frames one path delivered.
type PathStats struct {
	Path       string        `json:"path"`
	Frames     uint64        `json:"frames"`
	LastID     uint32        `json:"last_id"`
	Gaps       uint64        `json:"gaps"`
	AvgLatency time.Duration `json:"avg_latency"`
	MaxLatency time.Duration `json:"max_latency"`

	totalLatency time.Duration
	seen         bool
}

// StatsTracer keeps running counters of what the engine delivered. It is
// cheap enough to stay attached for the whole run.
type StatsTracer struct {
	lock    sync.Mutex
	events  map[string]uint64
	paths   map[string]*PathStats
	drifts  map[string]uint64
	fatals  uint64
	dropped uint64
}

// NewStatsTracer creates an empty StatsTracer.
func NewStatsTracer() *StatsTracer {
	return &StatsTracer{
		events: make(map[string]uint64),
		paths:  make(map[string]*PathStats),
		drifts: make(map[string]uint64),
	}
}

// Func updates the counters.
func (t *StatsTracer) Func(ctx hooking.HookCtx) {
	t.lock.Lock()
	defer t.lock.Unlock()

	switch ctx.Pos {
	case capture.HookPosDispatch:
		d := ctx.Detail.(capture.DispatchDetail)
		t.events[d.Event.String()]++

		if f, ok := ctx.Item.(*frame.Frame); ok && f.Kind != frame.KindEvent {
			t.countFrame(f)
		}
	case capture.HookPosDrift:
		d := ctx.Detail.(capture.DriftDetail)
		t.drifts[d.Result.String()]++
	case capture.HookPosFatal:
		t.fatals++
	case capture.HookPosEventDropped:
		t.dropped++
	}
}

func (t *StatsTracer) countFrame(f *frame.Frame) {
	name := path.ID(f.Channel).String()

	ps, ok := t.paths[name]
	if !ok {
		ps = &PathStats{Path: name}
		t.paths[name] = ps
	}

	if ps.seen && f.ID > ps.LastID+1 {
		ps.Gaps += uint64(f.ID - ps.LastID - 1)
	}

	latency := f.BootTime - f.BootSensorTime
	if latency < 0 {
		latency = 0
	}

	ps.Frames++
	ps.LastID = f.ID
	ps.seen = true
	ps.totalLatency += latency
	ps.AvgLatency = ps.totalLatency / time.Duration(ps.Frames)

	if latency > ps.MaxLatency {
		ps.MaxLatency = latency
	}
}

// EventCount returns how many times an event type was delivered.
func (t *StatsTracer) EventCount(evt capture.EventType) uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.events[evt.String()]
}

// DriftCount returns how many repairs ended with the given result.
func (t *StatsTracer) DriftCount(result capture.FixResult) uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.drifts[result.String()]
}

// FatalCount returns the number of session faults.
func (t *StatsTracer) FatalCount() uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.fatals
}

// DroppedCount returns the number of status events that were lost.
func (t *StatsTracer) DroppedCount() uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.dropped
}

// Paths returns a copy of the per-path statistics, sorted by path name.
func (t *StatsTracer) Paths() []PathStats {
	t.lock.Lock()
	defer t.lock.Unlock()

	out := make([]PathStats, 0, len(t.paths))
	for _, ps := range t.paths {
		out = append(out, *ps)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })

	return out
}

// Reset clears every counter.
func (t *StatsTracer) Reset() {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.events = make(map[string]uint64)
	t.paths = make(map[string]*PathStats)
	t.drifts = make(map[string]uint64)
	t.fatals = 0
	t.dropped = 0
}
