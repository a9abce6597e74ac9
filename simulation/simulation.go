// Package simulation drives a capture engine with a simulated sensor in
// virtual time.
package simulation

import (
	"context"
	"fmt"

	"github.com/sarchlab/capseq/capture"
	"github.com/sarchlab/capseq/datarecording"
	"github.com/sarchlab/capseq/hw"
	"github.com/sarchlab/capseq/monitoring"
	"github.com/sarchlab/capseq/tracing"
)

// A Simulation holds everything one simulated capture run needs.
type Simulation struct {
	id string

	engine   *Engine
	regs     *hw.SimRegisters
	device   *capture.Engine
	session  *capture.Session
	slot     int
	sensor   *Sensor
	consumer *Consumer
	stats    *tracing.StatsTracer

	dataRecorder datarecording.DataRecorder
	recorder     *tracing.Recorder
	monitor      *monitoring.Monitor
	monitorPort  int
	progress     *monitoring.ProgressBar
	ownsRecorder bool
}

// Summary is what a run produced.
type Summary struct {
	Frames     int                 `json:"frames"`
	LostSOFs   int                 `json:"lost_sofs"`
	IRQs       int                 `json:"irqs"`
	Unhandled  int                 `json:"unhandled"`
	Delivered  map[string]int      `json:"delivered"`
	Drifts     map[string]uint64   `json:"drifts"`
	Dropped    uint64              `json:"dropped"`
	Faults     []uint32            `json:"faults"`
	FinalState string              `json:"final_state"`
	Paths      []tracing.PathStats `json:"paths"`
}

// ID returns the unique ID of the simulation.
func (s *Simulation) ID() string {
	return s.id
}

// Engine returns the event engine.
func (s *Simulation) Engine() *Engine {
	return s.engine
}

// Registers returns the simulated register bank.
func (s *Simulation) Registers() *hw.SimRegisters {
	return s.regs
}

// Device returns the capture engine under test.
func (s *Simulation) Device() *capture.Engine {
	return s.device
}

// Session returns the capture session.
func (s *Simulation) Session() *capture.Session {
	return s.session
}

// Sensor returns the simulated sensor.
func (s *Simulation) Sensor() *Sensor {
	return s.sensor
}

// Consumer returns the sink of the session.
func (s *Simulation) Consumer() *Consumer {
	return s.consumer
}

// Stats returns the delivery statistics.
func (s *Simulation) Stats() *tracing.StatsTracer {
	return s.stats
}

// DataRecorder returns the recording backend, or nil when recording is off.
func (s *Simulation) DataRecorder() datarecording.DataRecorder {
	return s.dataRecorder
}

// Monitor returns the monitor, or nil when monitoring is off.
func (s *Simulation) Monitor() *monitoring.Monitor {
	return s.monitor
}

// MonitorPort returns the port the monitor listens on, or zero when
// monitoring is off.
func (s *Simulation) MonitorPort() int {
	return s.monitorPort
}

// Run binds the session, starts capture, plays every sensor frame and tears
// the session down again.
func (s *Simulation) Run(ctx context.Context) error {
	if err := s.device.Bind(s.session, s.slot); err != nil {
		return fmt.Errorf("simulation %s: %w", s.id, err)
	}

	if err := s.session.Start(ctx); err != nil {
		_ = s.device.Unbind(s.session)
		return fmt.Errorf("simulation %s: %w", s.id, err)
	}

	s.sensor.Kickoff()

	runErr := s.engine.Run(ctx)

	if err := s.device.Teardown(s.session); err != nil && runErr == nil {
		runErr = fmt.Errorf("simulation %s: %w", s.id, err)
	}

	if s.monitor != nil && s.progress != nil {
		s.monitor.CompleteProgressBar(s.progress)
	}

	return runErr
}

// Summary reports what the last run produced.
func (s *Simulation) Summary() Summary {
	irqs, unhandled := s.sensor.IRQs()

	sum := Summary{
		Frames:     s.sensor.frames,
		LostSOFs:   s.sensor.LostSOFs(),
		IRQs:       irqs,
		Unhandled:  unhandled,
		Delivered:  make(map[string]int),
		Drifts:     make(map[string]uint64),
		Dropped:    s.stats.DroppedCount(),
		Faults:     s.consumer.Errors(),
		FinalState: s.session.State().String(),
		Paths:      s.stats.Paths(),
	}

	for _, evt := range []capture.EventType{
		capture.EventDataReady,
		capture.EventStatisReady,
		capture.EventIRQ,
		capture.EventError,
	} {
		sum.Delivered[evt.String()] = s.consumer.Count(evt)
	}

	for _, res := range []capture.FixResult{
		capture.Fixed,
		capture.DeferToNext,
		capture.BufferReady,
	} {
		sum.Drifts[res.String()] = s.stats.DriftCount(res)
	}

	return sum
}

// Terminate flushes the recording and stops the monitor.
func (s *Simulation) Terminate() {
	if s.recorder != nil {
		s.recorder.Terminate()
	}

	if s.dataRecorder != nil && s.ownsRecorder {
		_ = s.dataRecorder.Close()
	}

	if s.monitor != nil {
		s.monitor.StopServer()
	}
}
