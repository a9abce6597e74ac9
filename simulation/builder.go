package simulation

import (
	"log"
	"time"

	"github.com/rs/xid"
	"github.com/sarchlab/capseq/capture"
	"github.com/sarchlab/capseq/datarecording"
	"github.com/sarchlab/capseq/hw"
	"github.com/sarchlab/capseq/monitoring"
	"github.com/sarchlab/capseq/path"
	"github.com/sarchlab/capseq/tracing"
)

// Builder can be used to build a simulation.
type Builder struct {
	fps         float64
	frames      int
	groupSize   uint32
	dropSOF     float64
	lostFrames  []int
	seed        int64
	slot        int
	window      uint32
	baseID      uint32
	paths       []path.ID
	buffers     int
	nr3         bool
	width       uint32
	height      uint32
	epoch       time.Time
	logInterval time.Duration
	keepIDs     bool

	recordOn     bool
	recordConfig datarecording.RecorderConfig
	dataRecorder datarecording.DataRecorder

	monitorOn   bool
	monitorPort int
}

// MakeBuilder creates a Builder for a 30 fps run of 100 frames on slot 0.
func MakeBuilder() Builder {
	return Builder{
		fps:         30,
		frames:      100,
		groupSize:   1,
		seed:        1,
		window:      64,
		epoch:       time.Unix(0, 0),
		logInterval: 5 * time.Second,
	}
}

// WithFPS sets the sensor frame rate.
func (b Builder) WithFPS(fps float64) Builder {
	b.fps = fps
	return b
}

// WithFrames sets how many frames the sensor produces.
func (b Builder) WithFrames(n int) Builder {
	b.frames = n
	return b
}

// WithGroupSize turns on slow motion with n frames per group.
func (b Builder) WithGroupSize(n uint32) Builder {
	b.groupSize = n
	return b
}

// WithDropSOF sets the probability that a frame's start interrupt is lost.
func (b Builder) WithDropSOF(p float64) Builder {
	b.dropSOF = p
	return b
}

// WithLostFrames loses the start interrupt of the given frames.
func (b Builder) WithLostFrames(frames ...int) Builder {
	b.lostFrames = append([]int(nil), frames...)
	return b
}

// WithSeed seeds the choice of lost frames.
func (b Builder) WithSeed(seed int64) Builder {
	b.seed = seed
	return b
}

// WithSlot selects the hardware slot the session binds to.
func (b Builder) WithSlot(slot int) Builder {
	b.slot = slot
	return b
}

// WithWindow sets the modulus of the hardware frame counter.
func (b Builder) WithWindow(n uint32) Builder {
	b.window = n
	return b
}

// WithBaseFrameID sets the ID of the first frame.
func (b Builder) WithBaseFrameID(id uint32) Builder {
	b.baseID = id
	return b
}

// WithPaths sets the paths the session enables. By default slow motion uses
// the binned path with its exposure statistics and normal capture adds the
// full path.
func (b Builder) WithPaths(paths ...path.ID) Builder {
	b.paths = append([]path.ID(nil), paths...)
	return b
}

// WithBuffersPerPath sets how many buffers each path starts with.
func (b Builder) WithBuffersPerPath(n int) Builder {
	b.buffers = n
	return b
}

// With3DNR turns on temporal noise reduction.
func (b Builder) With3DNR(on bool) Builder {
	b.nr3 = on
	return b
}

// WithCaptureSize sets the capture resolution.
func (b Builder) WithCaptureSize(w, h uint32) Builder {
	b.width = w
	b.height = h

	return b
}

// WithLogInterval sets how often repeated warnings are logged.
func (b Builder) WithLogInterval(d time.Duration) Builder {
	b.logInterval = d
	return b
}

// WithFrameIDs keeps the ID of every delivered frame in the consumer.
func (b Builder) WithFrameIDs() Builder {
	b.keepIDs = true
	return b
}

// WithRecording records the run into the backend cfg describes.
func (b Builder) WithRecording(cfg datarecording.RecorderConfig) Builder {
	b.recordOn = true
	b.recordConfig = cfg

	return b
}

// WithDataRecorder records the run into an existing backend. The simulation
// does not close it.
func (b Builder) WithDataRecorder(dr datarecording.DataRecorder) Builder {
	b.recordOn = true
	b.dataRecorder = dr

	return b
}

// WithMonitoring serves the monitor on port. Zero picks a random port.
func (b Builder) WithMonitoring(port int) Builder {
	b.monitorOn = true
	b.monitorPort = port

	return b
}

func (b Builder) parametersMustBeValid() {
	if b.frames < 0 {
		log.Panic("frame count cannot be negative")
	}

	if b.groupSize == 0 {
		log.Panic("group size must be at least 1")
	}

	if b.buffers < 0 {
		log.Panic("buffers per path cannot be negative")
	}
}

func (b Builder) defaultPaths() []path.ID {
	if len(b.paths) > 0 {
		return b.paths
	}

	if b.groupSize > 1 {
		return []path.ID{path.Bin, path.AEM}
	}

	return []path.ID{path.Full, path.Bin, path.AEM}
}

// Build builds the simulation.
func (b Builder) Build() *Simulation {
	b.parametersMustBeValid()

	s := &Simulation{
		id:       xid.New().String(),
		slot:     b.slot,
		engine:   NewEngine(b.epoch),
		consumer: NewConsumer(b.keepIDs),
		stats:    tracing.NewStatsTracer(),
	}

	s.regs = hw.NewSimRegisters(3, b.window)
	s.device = capture.MakeEngineBuilder().
		WithRegisters(s.regs).
		WithLogInterval(b.logInterval).
		Build("Device")
	s.device.AcceptHook(s.stats)

	s.session = capture.MakeSessionBuilder().
		WithSink(s.consumer).
		WithClock(s.engine).
		WithGroupSize(b.groupSize).
		WithWindow(b.window).
		WithBaseFrameID(b.baseID).
		With3DNR(b.nr3).
		WithCaptureSize(b.width, b.height).
		WithLogInterval(b.logInterval).
		Build("Session")

	b.enablePaths(s.session)

	s.sensor = MakeSensorBuilder().
		WithEngine(s.engine).
		WithDevice(s.regs, s.device, b.slot).
		WithSession(s.session).
		WithFPS(b.fps).
		WithFrames(b.frames).
		WithDropSOF(b.dropSOF).
		WithLostFrames(b.lostFrames...).
		WithSeed(b.seed).
		Build("Sensor")

	b.buildRecorder(s)
	b.buildMonitor(s)

	return s
}

func (b Builder) enablePaths(s *capture.Session) {
	buffers := b.buffers
	if buffers == 0 {
		buffers = 4
		if b.groupSize > 1 {
			buffers = int(3 * b.groupSize)
		}
	}

	paths := b.defaultPaths()
	if b.nr3 {
		paths = append(paths, path.NR3)
	}

	for _, id := range paths {
		if err := s.EnablePath(id); err != nil {
			log.Panicf("enabling %s: %v", id, err)
		}

		for i := 0; i < buffers; i++ {
			f, err := s.NewFrame()
			if err != nil {
				log.Panicf("allocating buffer for %s: %v", id, err)
			}

			f.Addr = uint32(id+1)<<20 | uint32(i+1)<<8

			if err := s.QueueBuffer(id, f); err != nil {
				log.Panicf("queueing buffer for %s: %v", id, err)
			}
		}
	}
}

func (b Builder) buildRecorder(s *Simulation) {
	if !b.recordOn {
		return
	}

	s.dataRecorder = b.dataRecorder
	if s.dataRecorder == nil {
		cfg := b.recordConfig
		if cfg.Path == "" && cfg.Backend != datarecording.BackendClickHouse {
			cfg.Path = "capsim_" + s.id
		}

		dr, err := datarecording.NewDataRecorderWithConfig(cfg)
		if err != nil {
			log.Panic(err)
		}

		s.dataRecorder = dr
		s.ownsRecorder = true
	}

	s.recorder = tracing.NewRecorder(s.dataRecorder)
	s.device.AcceptHook(s.recorder)
}

func (b Builder) buildMonitor(s *Simulation) {
	if !b.monitorOn {
		return
	}

	s.monitor = monitoring.NewMonitor().WithPortNumber(b.monitorPort)
	s.monitor.RegisterEngine(s.device)
	s.monitor.RegisterSession(s.session)
	s.monitor.RegisterStats(s.stats)
	s.monitor.RegisterBuffer(s.session.FramePool().FreeQueue())

	s.progress = s.monitor.CreateProgressBar("Frames", uint64(b.frames))
	s.consumer.TrackProgress(s.progress)

	s.monitorPort = s.monitor.StartServer()
}
