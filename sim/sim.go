/*Package sim is an in-process data server for bench-free development and
tests.  It speaks the same line protocol as package daqserver, holds a node
tree with per-device defaults, synthesizes demodulator data for subscribed
paths, and emulates the processing modules' lifecycle: time-evolving
progress, buffered records that are removed on read, save-flag handshakes
and compiler status transitions.

The synthesized signals are placeholders (sinusoids with a little noise);
the point of the package is that the protocol, the module lifecycle and the
poll loops behave like the real server's, not that the data does.
*/
package sim

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"math/rand"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benchtop-labs/lockin/daqserver"
	"github.com/benchtop-labs/lockin/nodetree"
	"github.com/benchtop-labs/lockin/sample"
)

// Clockbase is the simulated device ADC clock in Hz.
const Clockbase = 60e6

// Device describes one simulated instrument.
type Device struct {
	ID         string
	DeviceType string
	Options    []string
	Interface  string
}

// Server is a simulated data server.  Create with New, start with Start.
type Server struct {
	// Version is the release string reported to clients.
	Version string

	// ListenAddr is the address Start binds.  Empty means an ephemeral
	// loopback port.
	ListenAddr string

	// Pacing knobs for the module emulations.  Tests shrink these.
	SweepPerLoop      time.Duration
	GridPeriod        time.Duration
	ScopeRecordPeriod time.Duration
	PIDCalcTime       time.Duration
	AWGCompileTime    time.Duration
	MDSyncTime        time.Duration
	SaveTime          time.Duration
	FindLevelTime     time.Duration

	// ScopeFlags is OR'd into the flags of every synthesized scope record.
	// Tests use it to exercise the data-loss warning paths.
	ScopeFlags uint32

	mu        sync.Mutex
	ln        net.Listener
	devices   map[string]Device
	connected map[string]bool
	nodes     map[string]interface{}
	subs      map[string]time.Time // session subscription -> accumulation start
	modules   map[int]*simModule
	nextMod   int
	rng       *rand.Rand
}

// New returns a Server with one discoverable device, dev1234, an MFLI with
// the PID and MD options.
func New() *Server {
	s := &Server{
		Version:           daqserver.SupportedRelease + ".42100",
		SweepPerLoop:      200 * time.Millisecond,
		GridPeriod:        50 * time.Millisecond,
		ScopeRecordPeriod: 50 * time.Millisecond,
		PIDCalcTime:       100 * time.Millisecond,
		AWGCompileTime:    50 * time.Millisecond,
		MDSyncTime:        60 * time.Millisecond,
		SaveTime:          50 * time.Millisecond,
		FindLevelTime:     30 * time.Millisecond,
		devices:           map[string]Device{},
		connected:         map[string]bool{},
		nodes:             map[string]interface{}{},
		subs:              map[string]time.Time{},
		modules:           map[int]*simModule{},
		rng:               rand.New(rand.NewSource(1)),
	}
	s.AddDevice(Device{
		ID:         "dev1234",
		DeviceType: "MFLI",
		Options:    []string{"PID", "MD"},
		Interface:  "1GbE",
	})
	return s
}

// AddDevice registers a device and populates its default node branch.
func (s *Server) AddDevice(d Device) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := strings.ToLower(d.ID)
	d.ID = id
	s.devices[id] = d
	set := func(path string, v interface{}) {
		s.nodes["/"+id+path] = v
	}
	set("/clockbase", float64(Clockbase))
	for i := 0; i < 4; i++ {
		pre := fmt.Sprintf("/demods/%d", i)
		set(pre+"/enable", int64(0))
		set(pre+"/rate", 1e3)
		set(pre+"/adcselect", int64(0))
		set(pre+"/order", int64(4))
		set(pre+"/timeconstant", 0.01)
		set(pre+"/oscselect", int64(0))
		set(pre+"/harmonic", int64(1))
	}
	for i := 0; i < 2; i++ {
		set(fmt.Sprintf("/oscs/%d/freq", i), 400e3)
		set(fmt.Sprintf("/sigins/%d/ac", i), int64(0))
		set(fmt.Sprintf("/sigins/%d/imp50", i), int64(0))
		set(fmt.Sprintf("/sigins/%d/range", i), 1.0)
		set(fmt.Sprintf("/sigouts/%d/on", i), int64(0))
		set(fmt.Sprintf("/sigouts/%d/range", i), 1.0)
		for j := 0; j < 8; j++ {
			set(fmt.Sprintf("/sigouts/%d/enables/%d", i, j), int64(0))
			set(fmt.Sprintf("/sigouts/%d/amplitudes/%d", i, j), 0.0)
		}
	}
	set("/scopes/0/enable", int64(0))
	set("/scopes/0/trigenable", int64(0))
	set("/scopes/0/trigholdoffmode", int64(0))
	set("/pids/0/enable", int64(0))
	set("/pids/0/stream/rate", 0.0)
	set("/pids/0/stream/error", 0.0)
	set("/awgs/0/enable", int64(0))
	set("/system/extclk", int64(0))
}

// SetNode writes a node value directly, bypassing the protocol.
func (s *Server) SetNode(path string, v interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[nodetree.Normalize(path)] = v
}

// Start begins listening and returns the server's address.
func (s *Server) Start() (string, error) {
	addr := s.ListenAddr
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	s.ln = ln
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.serve(conn)
		}
	}()
	return ln.Addr().String(), nil
}

// Close stops the listener.  In-flight connections are abandoned.
func (s *Server) Close() error {
	if s.ln != nil {
		return s.ln.Close()
	}
	return nil
}

func (s *Server) serve(conn net.Conn) {
	defer conn.Close()
	rdr := bufio.NewReader(conn)
	for {
		line, err := rdr.ReadString('\n')
		if err != nil {
			return
		}
		reply := s.dispatch(strings.TrimRight(line, "\r\n"))
		_, err = conn.Write(append([]byte(reply), '\n'))
		if err != nil {
			return
		}
	}
}

func ok(payload interface{}) string {
	if payload == nil {
		return "OK"
	}
	enc, err := json.Marshal(payload)
	if err != nil {
		log.Println("sim: marshal failure:", err)
		return "ERR internal encoding failure"
	}
	return "OK " + string(enc)
}

func errf(format string, args ...interface{}) string {
	return "ERR " + fmt.Sprintf(format, args...)
}

func (s *Server) dispatch(line string) string {
	fields := strings.SplitN(line, " ", 2)
	verb := fields[0]
	rest := ""
	if len(fields) == 2 {
		rest = fields[1]
	}
	switch verb {
	case daqserver.VerbVersion:
		return ok(map[string]string{"version": s.Version})
	case daqserver.VerbAPILevel:
		lvl, err := strconv.Atoi(rest)
		if err != nil || lvl < 1 || lvl > 6 {
			return errf("unsupported API level %q", rest)
		}
		return ok(nil)
	case daqserver.VerbDevList:
		return s.devList()
	case daqserver.VerbDevProps:
		return s.devProps(rest)
	case daqserver.VerbConnDev:
		return s.connDev(rest)
	case daqserver.VerbGetDouble, daqserver.VerbGetInt, daqserver.VerbGetString:
		return s.getNode(verb, rest)
	case daqserver.VerbSet:
		return s.setNode(rest)
	case daqserver.VerbSetVector:
		return s.setVector(rest)
	case daqserver.VerbSubscribe:
		return s.subscribe(rest)
	case daqserver.VerbUnsub:
		return s.unsubscribe(rest)
	case daqserver.VerbPoll:
		return s.poll(rest)
	case daqserver.VerbSync:
		// all writes are applied synchronously here; the barrier clears
		// streaming buffers like the real server's does
		s.mu.Lock()
		now := time.Now()
		for path := range s.subs {
			s.subs[path] = now
		}
		s.mu.Unlock()
		return ok(nil)
	case daqserver.VerbListNodes:
		return s.listNodes(rest)
	case daqserver.VerbModCreate:
		return s.modCreate(rest)
	case daqserver.VerbModSet, daqserver.VerbModGetD, daqserver.VerbModGetI,
		daqserver.VerbModGetS, daqserver.VerbModSubs, daqserver.VerbModUnsub,
		daqserver.VerbModExec, daqserver.VerbModProg, daqserver.VerbModFin,
		daqserver.VerbModRecords, daqserver.VerbModRead, daqserver.VerbModFinish:
		return s.modDispatch(verb, rest)
	default:
		return errf("unknown verb %q", verb)
	}
}

func (s *Server) devList() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.devices))
	for id := range s.devices {
		ids = append(ids, id)
	}
	return ok(ids)
}

func (s *Server) devProps(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id = strings.ToLower(strings.TrimSpace(id))
	d, found := s.devices[id]
	if !found {
		// discovery reports an empty device type rather than an error
		return ok(daqserver.DeviceProperties{DeviceID: id})
	}
	return ok(daqserver.DeviceProperties{
		DeviceID:   d.ID,
		DeviceType: d.DeviceType,
		Options:    d.Options,
		Interface:  d.Interface,
		Connected:  s.connected[id],
	})
}

func (s *Server) connDev(rest string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	parts := strings.Fields(rest)
	if len(parts) == 0 {
		return errf("CONNDEV requires a device id")
	}
	id := strings.ToLower(parts[0])
	if _, found := s.devices[id]; !found {
		return errf("device %s not found", id)
	}
	s.connected[id] = true
	return ok(nil)
}

func (s *Server) getNode(verb, path string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	path = nodetree.Normalize(path)
	v, found := s.nodes[path]
	if !found {
		return errf("node %s not found", path)
	}
	switch verb {
	case daqserver.VerbGetDouble:
		return ok(map[string]float64{"value": toFloat(v)})
	case daqserver.VerbGetInt:
		return ok(map[string]int64{"value": toInt(v)})
	default:
		return ok(map[string]string{"value": fmt.Sprint(v)})
	}
}

func (s *Server) setNode(rest string) string {
	parts := strings.SplitN(rest, " ", 2)
	if len(parts) != 2 {
		return errf("SET requires a path and a value")
	}
	path := nodetree.Normalize(parts[0])
	var v interface{}
	err := json.Unmarshal([]byte(parts[1]), &v)
	if err != nil {
		return errf("bad value for %s: %v", path, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, found := s.nodes[path]; !found {
		return errf("node %s not found", path)
	}
	s.nodes[path] = v
	return ok(nil)
}

func (s *Server) setVector(rest string) string {
	parts := strings.SplitN(rest, " ", 2)
	if len(parts) != 2 {
		return errf("SETVEC requires a path and a framed payload")
	}
	path := nodetree.Normalize(parts[0])
	data, err := daqserver.DecodeVector(parts[1])
	if err != nil {
		return errf("vector rejected: %v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[path] = data
	return ok(nil)
}

func (s *Server) subscribe(path string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	path = nodetree.Normalize(path)
	if !strings.HasSuffix(path, "/sample") {
		return errf("path %s is not a streaming node", path)
	}
	if _, found := s.subs[path]; !found {
		s.subs[path] = time.Now()
	}
	return ok(nil)
}

func (s *Server) unsubscribe(pattern string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for path := range s.subs {
		if nodetree.Match(pattern, path) {
			delete(s.subs, path)
		}
	}
	return ok(nil)
}

// poll blocks for the requested duration, then synthesizes data for every
// subscribed path covering the span since its accumulation start.
func (s *Server) poll(rest string) string {
	ms, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil || ms < 0 {
		return errf("bad poll duration %q", rest)
	}
	time.Sleep(time.Duration(ms) * time.Millisecond)

	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	out := map[string]*sample.Demod{}
	for path, since := range s.subs {
		block := s.synthDemod(path, since, now)
		if block.Len() > 0 {
			out[path] = block
			s.subs[path] = now
		}
	}
	if len(out) == 0 {
		return ok(map[string]*sample.Demod{})
	}
	return ok(out)
}

// synthDemod produces demod samples for a span, honoring the demod's
// enable and rate nodes.  Caller holds the lock.
func (s *Server) synthDemod(path string, since, until time.Time) *sample.Demod {
	base := strings.TrimSuffix(path, "/sample")
	if toInt(s.nodes[base+"/enable"]) == 0 {
		return &sample.Demod{}
	}
	rate := toFloat(s.nodes[base+"/rate"])
	if rate <= 0 {
		return &sample.Demod{}
	}
	span := until.Sub(since).Seconds()
	if span > 5 {
		span = 5 // the real server's buffers are bounded too
	}
	n := int(span * rate)
	if n <= 0 {
		return &sample.Demod{}
	}
	device := nodetree.Device(path)
	freq := toFloat(s.nodes["/"+device+"/oscs/0/freq"])
	amp := s.outputAmplitude(device)
	block := &sample.Demod{
		Timestamp: make([]uint64, n),
		X:         make([]float64, n),
		Y:         make([]float64, n),
		Frequency: make([]float64, n),
	}
	t0 := uint64(float64(since.UnixNano()) * Clockbase / 1e9)
	tickPerSample := uint64(Clockbase / rate)
	for i := 0; i < n; i++ {
		block.Timestamp[i] = t0 + uint64(i)*tickPerSample
		block.X[i] = amp*math.Sqrt2/2 + s.rng.NormFloat64()*amp*1e-3
		block.Y[i] = amp*math.Sqrt2/2 + s.rng.NormFloat64()*amp*1e-3
		block.Frequency[i] = freq
	}
	return block
}

// outputAmplitude reads the first enabled mixer amplitude of output 0, or a
// small default so disabled outputs still demodulate noise-level data.
func (s *Server) outputAmplitude(device string) float64 {
	if toInt(s.nodes["/"+device+"/sigouts/0/on"]) == 0 {
		return 1e-6
	}
	for j := 0; j < 8; j++ {
		if toInt(s.nodes[fmt.Sprintf("/%s/sigouts/0/enables/%d", device, j)]) != 0 {
			return toFloat(s.nodes[fmt.Sprintf("/%s/sigouts/0/amplitudes/%d", device, j)])
		}
	}
	return 1e-6
}

func (s *Server) listNodes(rest string) string {
	parts := strings.Fields(rest)
	if len(parts) != 2 {
		return errf("LISTNODES requires a path and flags")
	}
	pattern := parts[0]
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []string{}
	for path := range s.nodes {
		if nodetree.Match(pattern, path) || strings.HasPrefix(path, nodetree.Normalize(pattern)+"/") {
			out = append(out, path)
		}
	}
	return ok(out)
}

func toFloat(v interface{}) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int64:
		return float64(x)
	case int:
		return float64(x)
	case bool:
		if x {
			return 1
		}
		return 0
	default:
		return 0
	}
}

func toInt(v interface{}) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int:
		return int64(x)
	case float64:
		return int64(x)
	case bool:
		if x {
			return 1
		}
		return 0
	default:
		return 0
	}
}
