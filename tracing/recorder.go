// Package tracing turns capture engine hooks into recorded rows and summary
// statistics.
package tracing

import (
	"sync"

	"github.com/sarchlab/capseq/capture"
	"github.com/sarchlab/capseq/datarecording"
	"github.com/sarchlab/capseq/frame"
	"github.com/sarchlab/capseq/hooking"
	"github.com/sarchlab/capseq/path"
	"github.com/tebeka/atexit"
)

// Table names used by the Recorder.
const (
	DispatchTable = "capture_dispatch"
	DriftTable    = "capture_drift"
	FatalTable    = "capture_fatal"
	DropTable     = "capture_drop"
)

// DispatchEntry is one frame handed to a sink.
type DispatchEntry struct {
	Session    string
	Slot       int
	Event      string
	Kind       string
	Path       string
	FrameID    uint32
	Reserved   bool
	SensorBoot float64
	Interval   float64
	Boot       float64
	Latency    float64
}

// DriftEntry is one start of frame whose hardware counter was repaired.
type DriftEntry struct {
	Session   string
	Slot      int
	HWCount   uint32
	Expected  uint32
	OldIndex  uint32
	NewIndex  uint32
	GroupSize uint32
	Result    string
}

// FatalEntry is one session fault.
type FatalEntry struct {
	Session string
	Slot    int
	Status  uint32
}

// DropEntry is one status event the engine could not queue.
type DropEntry struct {
	Session string
	Slot    int
	Pending int
	Reason  string
}

// Recorder is a hook that writes what a capture engine does into a
// DataRecorder.
type Recorder struct {
	mu      sync.Mutex
	backend datarecording.DataRecorder
	enabled bool
	counts  map[string]uint64
}

// NewRecorder creates a Recorder and the tables it writes to.
func NewRecorder(backend datarecording.DataRecorder) *Recorder {
	r := &Recorder{
		backend: backend,
		enabled: true,
		counts:  make(map[string]uint64),
	}

	backend.CreateTable(DispatchTable, DispatchEntry{})
	backend.CreateTable(DriftTable, DriftEntry{})
	backend.CreateTable(FatalTable, FatalEntry{})
	backend.CreateTable(DropTable, DropEntry{})

	atexit.Register(func() { r.Terminate() })

	return r
}

// StartTracing resumes recording.
func (r *Recorder) StartTracing() {
	r.mu.Lock()
	r.enabled = true
	r.mu.Unlock()
}

// StopTracing pauses recording. Hooks that fire while paused are ignored.
func (r *Recorder) StopTracing() {
	r.mu.Lock()
	r.enabled = false
	r.mu.Unlock()
}

// Count returns how many rows were written to a table.
func (r *Recorder) Count(table string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.counts[table]
}

// Terminate flushes the rows buffered by the backend.
func (r *Recorder) Terminate() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.backend.Flush()
}

// Func records the hook site.
func (r *Recorder) Func(ctx hooking.HookCtx) {
	switch ctx.Pos {
	case capture.HookPosDispatch:
		r.recordDispatch(ctx)
	case capture.HookPosDrift:
		r.recordDrift(ctx)
	case capture.HookPosFatal:
		r.recordFatal(ctx)
	case capture.HookPosEventDropped:
		r.recordDrop(ctx)
	}
}

func (r *Recorder) recordDispatch(ctx hooking.HookCtx) {
	f, ok := ctx.Item.(*frame.Frame)
	if !ok {
		return
	}

	d := ctx.Detail.(capture.DispatchDetail)

	entry := DispatchEntry{
		Session:    sessionID(d.Session),
		Slot:       d.Slot,
		Event:      d.Event.String(),
		Kind:       f.Kind.String(),
		FrameID:    f.ID,
		Reserved:   f.Reserved,
		SensorBoot: f.BootSensorTime.Seconds(),
		Interval:   f.Interval.Seconds(),
		Boot:       f.BootTime.Seconds(),
	}

	if f.Kind == frame.KindEvent {
		entry.Path = f.IRQ.String()
	} else {
		entry.Path = path.ID(f.Channel).String()
		entry.Latency = (f.BootTime - f.BootSensorTime).Seconds()
	}

	r.insert(DispatchTable, entry)
}

func (r *Recorder) recordDrift(ctx hooking.HookCtx) {
	d := ctx.Detail.(capture.DriftDetail)

	r.insert(DriftTable, DriftEntry{
		Session:   sessionID(d.Session),
		Slot:      d.Slot,
		HWCount:   d.HWCount,
		Expected:  d.Expected,
		OldIndex:  d.OldIndex,
		NewIndex:  d.NewIndex,
		GroupSize: d.GroupSize,
		Result:    d.Result.String(),
	})
}

func (r *Recorder) recordFatal(ctx hooking.HookCtx) {
	d := ctx.Detail.(capture.FatalDetail)

	r.insert(FatalTable, FatalEntry{
		Session: sessionID(d.Session),
		Slot:    d.Slot,
		Status:  d.Status,
	})
}

func (r *Recorder) recordDrop(ctx hooking.HookCtx) {
	s, ok := ctx.Item.(*capture.Session)
	if !ok {
		return
	}

	entry := DropEntry{
		Session: s.ID(),
		Slot:    -1,
		Pending: s.Pending(),
	}

	if slot := s.Slot(); slot != nil {
		entry.Slot = slot.ID()
	}

	if err, ok := ctx.Detail.(error); ok && err != nil {
		entry.Reason = err.Error()
	}

	r.insert(DropTable, entry)
}

func (r *Recorder) insert(table string, entry any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.enabled {
		return
	}

	r.backend.InsertData(table, entry)
	r.counts[table]++
}

func sessionID(s *capture.Session) string {
	if s == nil {
		return ""
	}

	return s.ID()
}
