// Package monitoring serves a live view of capture engines and sessions over
// HTTP.
package monitoring

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"reflect"
	"runtime/pprof"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/rs/xid"
	"github.com/sarchlab/capseq/capture"
	"github.com/sarchlab/capseq/monitoring/web"
	"github.com/sarchlab/capseq/tracing"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"
)

// Buffer is a queue the hang detector can watch.
type Buffer interface {
	Name() string
	Count() int
	Capacity() int
}

// Monitor turns a capture run into a web server for inspection.
type Monitor struct {
	lock       sync.Mutex
	engines    []*capture.Engine
	sessions   []*capture.Session
	buffers    []Buffer
	stats      *tracing.StatsTracer
	portNumber int
	listener   net.Listener

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar
}

// NewMonitor creates a new Monitor.
func NewMonitor() *Monitor {
	return &Monitor{}
}

// WithPortNumber sets the port number of the monitor. Ports below 1000 are
// replaced by a random port.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 1000 && portNumber != 0 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is not allowed for the monitor, "+
				"using a random port instead.\n", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// RegisterEngine adds a capture engine to the monitor.
func (m *Monitor) RegisterEngine(e *capture.Engine) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.engines = append(m.engines, e)
}

// RegisterSession adds a session and its queues to the monitor.
func (m *Monitor) RegisterSession(s *capture.Session) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.sessions = append(m.sessions, s)
	m.buffers = append(m.buffers, s.Events())

	for _, q := range s.Paths().Queues() {
		m.buffers = append(m.buffers, q)
	}
}

// RegisterBuffer adds a single queue to the hang detector.
func (m *Monitor) RegisterBuffer(b Buffer) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.buffers = append(m.buffers, b)
}

// RegisterStats sets the tracer whose counters are served at /api/stats.
func (m *Monitor) RegisterStats(t *tracing.StatsTracer) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.stats = t
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		ID:        xid.New().String(),
		Name:      name,
		StartTime: time.Now(),
		Total:     total,
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar from the page.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

func (m *Monitor) router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/slots", m.listSlots)
	r.HandleFunc("/api/tracker/{engine}/{slot}", m.trackerSnapshot).
		Methods(http.MethodGet)
	r.HandleFunc("/api/tracker/{engine}/{slot}/reset", m.trackerReset).
		Methods(http.MethodPost)
	r.HandleFunc("/api/sessions", m.listSessions)
	r.HandleFunc("/api/session/{id}", m.sessionDetails)
	r.HandleFunc("/api/field/{json}", m.listFieldValue)
	r.HandleFunc("/api/stats", m.listStats)
	r.HandleFunc("/api/hangdetector/buffers", m.hangDetectorBuffers)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)
	r.PathPrefix("/").Handler(http.FileServer(web.GetAssets()))

	return r
}

// StartServer starts serving in the background and returns the port it
// listens on.
func (m *Monitor) StartServer() int {
	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)

	m.listener = listener
	port := listener.Addr().(*net.TCPAddr).Port

	fmt.Fprintf(os.Stderr,
		"Monitoring capture with http://localhost:%d\n", port)

	handler := m.router()

	go func() {
		err := http.Serve(listener, handler)
		if err != nil && !errors.Is(err, net.ErrClosed) {
			log.Panic(err)
		}
	}()

	return port
}

// StopServer closes the listener opened by StartServer.
func (m *Monitor) StopServer() {
	if m.listener != nil {
		_ = m.listener.Close()
	}
}

type slotRsp struct {
	Engine  string `json:"engine"`
	Slot    int    `json:"slot"`
	Name    string `json:"name"`
	Session string `json:"session"`
	State   string `json:"state"`
}

func (m *Monitor) listSlots(w http.ResponseWriter, _ *http.Request) {
	m.lock.Lock()
	engines := append([]*capture.Engine(nil), m.engines...)
	m.lock.Unlock()

	rsp := []slotRsp{}

	for _, e := range engines {
		for _, slot := range e.Slots() {
			entry := slotRsp{
				Engine: e.Name(),
				Slot:   slot.ID(),
				Name:   slot.Name(),
			}

			if s := slot.Session(); s != nil {
				entry.Session = s.ID()
				entry.State = s.State().String()
			}

			rsp = append(rsp, entry)
		}
	}

	writeJSON(w, rsp)
}

func (m *Monitor) findSlotOr404(
	w http.ResponseWriter,
	r *http.Request,
) *capture.Slot {
	vars := mux.Vars(r)

	slotID, err := strconv.Atoi(vars["slot"])
	if err != nil {
		http.Error(w, "invalid slot", http.StatusBadRequest)
		return nil
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	for _, e := range m.engines {
		if e.Name() != vars["engine"] {
			continue
		}

		slot, err := e.Slot(slotID)
		if err != nil {
			break
		}

		return slot
	}

	http.Error(w, "slot not found", http.StatusNotFound)

	return nil
}

func (m *Monitor) trackerSnapshot(w http.ResponseWriter, r *http.Request) {
	slot := m.findSlotOr404(w, r)
	if slot == nil {
		return
	}

	writeJSON(w, slot.Tracker().Snapshot())
}

func (m *Monitor) trackerReset(w http.ResponseWriter, r *http.Request) {
	slot := m.findSlotOr404(w, r)
	if slot == nil {
		return
	}

	slot.Tracker().Reset()
	w.WriteHeader(http.StatusNoContent)
}

type sessionRsp struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	State      string `json:"state"`
	Slot       int    `json:"slot"`
	GroupSize  uint32 `json:"group_size"`
	FrameIndex uint32 `json:"frame_index"`
	Pending    int    `json:"pending"`
	LiveFrames int    `json:"live_frames"`
}

func (m *Monitor) listSessions(w http.ResponseWriter, _ *http.Request) {
	m.lock.Lock()
	sessions := append([]*capture.Session(nil), m.sessions...)
	m.lock.Unlock()

	rsp := make([]sessionRsp, 0, len(sessions))

	for _, s := range sessions {
		entry := sessionRsp{
			ID:         s.ID(),
			Name:       s.Name(),
			State:      s.State().String(),
			Slot:       -1,
			GroupSize:  s.GroupSize(),
			FrameIndex: s.FrameIndex(),
			Pending:    s.Pending(),
			LiveFrames: s.FramePool().Live(),
		}

		if slot := s.Slot(); slot != nil {
			entry.Slot = slot.ID()
		}

		rsp = append(rsp, entry)
	}

	writeJSON(w, rsp)
}

func (m *Monitor) findSessionOr404(
	w http.ResponseWriter,
	id string,
) *capture.Session {
	m.lock.Lock()
	defer m.lock.Unlock()

	for _, s := range m.sessions {
		if s.ID() == id || s.Name() == id {
			return s
		}
	}

	http.Error(w, "session not found", http.StatusNotFound)

	return nil
}

func (m *Monitor) sessionDetails(w http.ResponseWriter, r *http.Request) {
	s := m.findSessionOr404(w, mux.Vars(r)["id"])
	if s == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(s)
	serializer.SetMaxDepth(1)

	err := serializer.Serialize(w)
	dieOnErr(err)
}

type fieldReq struct {
	Session   string `json:"session,omitempty"`
	FieldName string `json:"field_name,omitempty"`
}

func (m *Monitor) listFieldValue(w http.ResponseWriter, r *http.Request) {
	req := fieldReq{}

	err := json.Unmarshal([]byte(mux.Vars(r)["json"]), &req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s := m.findSessionOr404(w, req.Session)
	if s == nil {
		return
	}

	fields := strings.Split(req.FieldName, ".")
	if _, err := m.walkFields(s, req.FieldName); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(s)
	serializer.SetMaxDepth(1)

	err = serializer.SetEntryPoint(fields)
	dieOnErr(err)

	err = serializer.Serialize(w)
	dieOnErr(err)
}

type statsRsp struct {
	Events  map[string]uint64   `json:"events"`
	Drifts  map[string]uint64   `json:"drifts"`
	Fatals  uint64              `json:"fatals"`
	Dropped uint64              `json:"dropped"`
	Paths   []tracing.PathStats `json:"paths"`
}

func (m *Monitor) listStats(w http.ResponseWriter, _ *http.Request) {
	m.lock.Lock()
	t := m.stats
	m.lock.Unlock()

	if t == nil {
		http.Error(w, "no statistics collected", http.StatusNotFound)
		return
	}

	rsp := statsRsp{
		Events:  make(map[string]uint64),
		Drifts:  make(map[string]uint64),
		Fatals:  t.FatalCount(),
		Dropped: t.DroppedCount(),
		Paths:   t.Paths(),
	}

	for _, evt := range []capture.EventType{
		capture.EventDataReady,
		capture.EventStatisReady,
		capture.EventIRQ,
		capture.EventError,
	} {
		rsp.Events[evt.String()] = t.EventCount(evt)
	}

	for _, res := range []capture.FixResult{
		capture.Fixed,
		capture.DeferToNext,
		capture.BufferReady,
	} {
		rsp.Drifts[res.String()] = t.DriftCount(res)
	}

	writeJSON(w, rsp)
}

type bufferRsp struct {
	Buffer string `json:"buffer"`
	Level  int    `json:"level"`
	Cap    int    `json:"cap"`
}

func (m *Monitor) hangDetectorBuffers(w http.ResponseWriter, r *http.Request) {
	sortMethod, limit, offset, err := m.buffersParseParams(r)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	sorted := m.sortAndSelectBuffers(sortMethod, limit, offset)

	rsp := make([]bufferRsp, 0, len(sorted))
	for _, b := range sorted {
		rsp = append(rsp, bufferRsp{
			Buffer: b.Name(),
			Level:  b.Count(),
			Cap:    b.Capacity(),
		})
	}

	writeJSON(w, rsp)
}

func (*Monitor) buffersParseParams(
	r *http.Request,
) (sortMethod string, limit, offset int, err error) {
	sortMethod = r.URL.Query().Get("sort")
	if sortMethod == "" {
		sortMethod = "percent"
	}

	if sortMethod != "level" && sortMethod != "percent" {
		return "", 0, 0, fmt.Errorf(
			"invalid sort method: %s. Allowed values are `level` and `percent`",
			sortMethod)
	}

	limit, err = intParam(r, "limit")
	if err != nil {
		return sortMethod, 0, 0, err
	}

	offset, err = intParam(r, "offset")
	if err != nil {
		return sortMethod, limit, 0, err
	}

	if limit < 0 || offset < 0 {
		return sortMethod, 0, 0, errors.New("limit and offset must not be negative")
	}

	return sortMethod, limit, offset, nil
}

func intParam(r *http.Request, name string) (int, error) {
	str := r.URL.Query().Get(name)
	if str == "" {
		return 0, nil
	}

	return strconv.Atoi(str)
}

func bufferPercent(b Buffer) float64 {
	if b.Capacity() == 0 {
		return 0
	}

	return float64(b.Count()) / float64(b.Capacity())
}

// sortAndSelectBuffers returns the buffers ordered by fill. A zero limit
// returns everything after offset.
func (m *Monitor) sortAndSelectBuffers(
	sortMethod string,
	limit, offset int,
) []Buffer {
	m.lock.Lock()
	sorted := make([]Buffer, len(m.buffers))
	copy(sorted, m.buffers)
	m.lock.Unlock()

	byLevel := func(i, j int) int {
		return sorted[i].Count() - sorted[j].Count()
	}
	byPercent := func(i, j int) int {
		pi, pj := bufferPercent(sorted[i]), bufferPercent(sorted[j])
		switch {
		case pi > pj:
			return 1
		case pi < pj:
			return -1
		default:
			return 0
		}
	}

	primary, secondary := byPercent, byLevel
	if sortMethod == "level" {
		primary, secondary = byLevel, byPercent
	}

	sort.SliceStable(sorted, func(i, j int) bool {
		if c := primary(i, j); c != 0 {
			return c > 0
		}

		return secondary(i, j) > 0
	})

	if offset > len(sorted) {
		offset = len(sorted)
	}

	end := len(sorted)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	return sorted[offset:end]
}

type fieldFormatError struct {
	field string
}

func (e fieldFormatError) Error() string {
	return "invalid field " + e.field
}

// walkFields follows a dotted path of struct fields and slice indices.
func (m *Monitor) walkFields(
	root interface{},
	fields string,
) (reflect.Value, error) {
	elem := reflect.ValueOf(root)

	fieldNames := strings.Split(fields, ".")

	for len(fieldNames) > 0 {
		switch elem.Kind() {
		case reflect.Ptr, reflect.Interface:
			if elem.IsNil() {
				return elem, fieldFormatError{field: fieldNames[0]}
			}

			elem = elem.Elem()
		case reflect.Struct:
			elem = elem.FieldByName(fieldNames[0])
			if !elem.IsValid() {
				return elem, fieldFormatError{field: fieldNames[0]}
			}

			fieldNames = fieldNames[1:]
		case reflect.Slice, reflect.Array:
			index, err := strconv.Atoi(fieldNames[0])
			if err != nil || index < 0 || index >= elem.Len() {
				return elem, fieldFormatError{field: fieldNames[0]}
			}

			elem = elem.Index(index)
			fieldNames = fieldNames[1:]
		default:
			return elem, fieldFormatError{field: fieldNames[0]}
		}
	}

	if elem.Kind() == reflect.Ptr {
		elem = elem.Elem()
	}

	return elem, nil
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	writeJSON(w, m.progressBars)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	dieOnErr(err)

	cpuPercent, err := proc.CPUPercent()
	dieOnErr(err)

	memory, err := proc.MemoryInfo()
	dieOnErr(err)

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memory.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	writeJSON(w, prof)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")

	err := json.NewEncoder(w).Encode(v)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
