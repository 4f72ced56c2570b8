package sim

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/benchtop-labs/lockin/daqserver"
	"github.com/benchtop-labs/lockin/nodetree"
	"github.com/benchtop-labs/lockin/sample"
)

// simModule emulates one server-side module.  State is evaluated lazily
// from elapsed wall-clock time on each request; nothing runs between
// requests, which keeps the emulation deterministic under test.
type simModule struct {
	kind   string
	params map[string]interface{}
	subs   []string
	active []string // snapshot of subs at execute; late subscriptions see no data

	running bool
	started time.Time
	emitted int
	buffer  map[string][]json.RawMessage

	savePending   bool
	saveRequested time.Time
	findPending   bool
	findRequested time.Time
	calcPending   bool
	calcRequested time.Time

	compiling    bool
	compileStart time.Time
	compileBad   bool
	compileWarn  bool

	mdsStarted time.Time
	mdsRunning bool
}

var moduleKinds = map[string]bool{
	"sweep": true, "daq": true, "scope": true,
	"pidAdvisor": true, "awg": true, "mds": true,
}

func newSimModule(kind string) *simModule {
	m := &simModule{
		kind:   kind,
		params: map[string]interface{}{},
		buffer: map[string][]json.RawMessage{},
	}
	switch kind {
	case "sweep":
		m.params["start"] = 1e3
		m.params["stop"] = 1e6
		m.params["samplecount"] = int64(100)
		m.params["loopcount"] = int64(1)
		m.params["xmapping"] = int64(0)
		m.params["save/save"] = int64(0)
	case "daq":
		m.params["count"] = int64(1)
		m.params["grid/cols"] = int64(100)
		m.params["grid/rows"] = int64(10)
		m.params["grid/repetitions"] = int64(1)
		m.params["duration"] = 0.01
		m.params["findlevel"] = int64(0)
		m.params["level"] = 0.0
		m.params["hysteresis"] = 0.0
		m.params["save/save"] = int64(0)
	case "scope":
		m.params["mode"] = int64(1)
		m.params["averager/weight"] = int64(1)
		m.params["historylength"] = int64(20)
		m.params["length"] = int64(100)
	case "pidAdvisor":
		m.params["pid/targetbw"] = 10e3
		m.params["pid/mode"] = int64(7)
		m.params["pid/p"] = 0.0
		m.params["pid/i"] = 0.0
		m.params["pid/d"] = 0.0
		m.params["calculate"] = int64(0)
	case "awg":
		m.params["directory"] = "/tmp/awg"
		m.params["compiler/status"] = int64(0)
		m.params["compiler/statusstring"] = ""
		m.params["elf/status"] = int64(0)
	case "mds":
		m.params["devices"] = ""
		m.params["group"] = int64(0)
		m.params["start"] = int64(0)
		m.params["status"] = int64(0)
		m.params["message"] = ""
	}
	return m
}

func (s *Server) modCreate(kind string) string {
	kind = strings.TrimSpace(kind)
	if !moduleKinds[kind] {
		return errf("unknown module kind %q", kind)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextMod++
	s.modules[s.nextMod] = newSimModule(kind)
	return ok(map[string]int{"id": s.nextMod})
}

func (s *Server) modDispatch(verb, rest string) string {
	parts := strings.SplitN(rest, " ", 2)
	id, err := strconv.Atoi(parts[0])
	if err != nil {
		return errf("bad module id %q", parts[0])
	}
	args := ""
	if len(parts) == 2 {
		args = parts[1]
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, found := s.modules[id]
	if !found {
		return errf("no module with id %d", id)
	}
	switch verb {
	case daqserver.VerbModSet:
		return s.modSet(m, args)
	case daqserver.VerbModGetD:
		return ok(map[string]float64{"value": toFloat(s.modParam(m, args))})
	case daqserver.VerbModGetI:
		return ok(map[string]int64{"value": toInt(s.modParam(m, args))})
	case daqserver.VerbModGetS:
		return ok(map[string]string{"value": fmt.Sprint(s.modParam(m, args))})
	case daqserver.VerbModSubs:
		m.subs = append(m.subs, nodetree.Normalize(args))
		return ok(nil)
	case daqserver.VerbModUnsub:
		kept := m.subs[:0]
		for _, p := range m.subs {
			if !nodetree.Match(args, p) {
				kept = append(kept, p)
			}
		}
		m.subs = kept
		return ok(nil)
	case daqserver.VerbModExec:
		m.running = true
		m.started = time.Now()
		m.emitted = 0
		m.buffer = map[string][]json.RawMessage{}
		m.active = append([]string(nil), m.subs...)
		return ok(nil)
	case daqserver.VerbModProg:
		return ok(map[string]float64{"progress": s.modProgress(m)})
	case daqserver.VerbModFin:
		return ok(map[string]bool{"finished": s.modFinished(m)})
	case daqserver.VerbModRecords:
		s.materialize(m)
		n := 0
		for _, recs := range m.buffer {
			n += len(recs)
		}
		return ok(map[string]int{"records": n})
	case daqserver.VerbModRead:
		s.materialize(m)
		out := m.buffer
		m.buffer = map[string][]json.RawMessage{}
		return ok(out)
	case daqserver.VerbModFinish:
		// idempotent: finishing an idle module is not an error
		m.running = false
		return ok(nil)
	default:
		return errf("unknown module verb %q", verb)
	}
}

func (s *Server) modSet(m *simModule, args string) string {
	parts := strings.SplitN(args, " ", 2)
	if len(parts) != 2 {
		return errf("MODSET requires a parameter and a value")
	}
	param := parts[0]
	var v interface{}
	err := json.Unmarshal([]byte(parts[1]), &v)
	if err != nil {
		return errf("bad value for %s: %v", param, err)
	}
	if f, isFloat := v.(float64); isFloat && f == math.Trunc(f) {
		// integer-valued parameters arrive as JSON numbers
		if _, wasInt := m.params[param].(int64); wasInt || m.params[param] == nil {
			v = int64(f)
		}
	}
	m.params[param] = v
	now := time.Now()
	switch param {
	case "save/save":
		if toInt(v) == 1 {
			m.savePending = true
			m.saveRequested = now
		}
	case "findlevel":
		if toInt(v) == 1 {
			m.findPending = true
			m.findRequested = now
		}
	case "calculate":
		if toInt(v) == 1 {
			m.calcPending = true
			m.calcRequested = now
		}
	case "compiler/sourcestring":
		s.startCompile(m, fmt.Sprint(v))
	case "compiler/start":
		if toInt(v) == 1 {
			s.startCompile(m, fmt.Sprint(m.params["compiler/sourcefile"]))
		}
	case "start":
		if m.kind == "mds" && toInt(v) == 1 {
			m.mdsRunning = true
			m.mdsStarted = now
		}
	case "grid/cols":
		// columns are coerced to at least 2 to satisfy the interpolator
		if toInt(v) < 2 {
			m.params[param] = int64(2)
		}
	}
	return ok(nil)
}

func (s *Server) startCompile(m *simModule, source string) {
	m.compiling = true
	m.compileStart = time.Now()
	m.compileBad = strings.Contains(source, "error")
	m.compileWarn = strings.Contains(source, "warn")
	m.params["compiler/status"] = int64(-1)
}

// modParam evaluates time-dependent parameters, then falls back to the
// stored value.
func (s *Server) modParam(m *simModule, param string) interface{} {
	now := time.Now()
	switch param {
	case "save/save":
		if m.savePending && now.Sub(m.saveRequested) >= s.SaveTime {
			m.savePending = false
			m.params["save/save"] = int64(0)
		}
		return m.params["save/save"]
	case "findlevel":
		if m.findPending && now.Sub(m.findRequested) >= s.FindLevelTime {
			m.findPending = false
			m.params["findlevel"] = int64(0)
			m.params["level"] = 0.1
			m.params["hysteresis"] = 0.01
		}
		return m.params["findlevel"]
	case "calculate":
		if m.calcPending && now.Sub(m.calcRequested) >= s.PIDCalcTime {
			m.calcPending = false
			m.params["calculate"] = int64(0)
			bw := toFloat(m.params["pid/targetbw"])
			m.params["pid/p"] = bw / 1e3
			m.params["pid/i"] = bw / 10
			m.params["pid/d"] = 1 / bw
		}
		return m.params["calculate"]
	case "compiler/status":
		if m.compiling && now.Sub(m.compileStart) >= s.AWGCompileTime {
			m.compiling = false
			switch {
			case m.compileBad:
				m.params["compiler/status"] = int64(1)
				m.params["compiler/statusstring"] = "syntax error in sequencer program"
				m.params["elf/status"] = int64(1)
			case m.compileWarn:
				m.params["compiler/status"] = int64(2)
				m.params["compiler/statusstring"] = "compilation successful with warnings"
			default:
				m.params["compiler/status"] = int64(0)
				m.params["compiler/statusstring"] = "compilation successful"
			}
		}
		return m.params["compiler/status"]
	case "elf/status":
		// resolve a pending compile first so the failure case propagates
		s.modParam(m, "compiler/status")
		if toInt(m.params["elf/status"]) == 0 && s.modProgress(m) < 1 {
			return int64(-1)
		}
		return m.params["elf/status"]
	case "status":
		if m.kind == "mds" {
			return int64(s.mdsStatus(m))
		}
		return m.params["status"]
	case "message":
		if m.kind == "mds" && s.mdsStatus(m) == 2 {
			return "synchronization complete"
		}
		return m.params["message"]
	case "progress":
		return s.modProgress(m)
	case "records":
		s.materialize(m)
		n := 0
		for _, recs := range m.buffer {
			n += len(recs)
		}
		return int64(n)
	default:
		return m.params[param]
	}
}

func (s *Server) mdsStatus(m *simModule) int {
	if !m.mdsRunning {
		return 0
	}
	if time.Since(m.mdsStarted) >= s.MDSyncTime {
		return 2
	}
	return 1
}

func (s *Server) modProgress(m *simModule) float64 {
	// only the acquisition kinds anchor on execute; the awg anchors on its
	// compile request and mds on its start flag
	frac := func(total time.Duration) float64 {
		if m.started.IsZero() {
			return 0
		}
		if total <= 0 {
			return 1
		}
		p := float64(time.Since(m.started)) / float64(total)
		if p > 1 {
			p = 1
		}
		return p
	}
	switch m.kind {
	case "sweep":
		return frac(time.Duration(toInt(m.params["loopcount"])) * s.SweepPerLoop)
	case "daq":
		return frac(time.Duration(toInt(m.params["count"])) * s.GridPeriod)
	case "scope":
		return frac(s.ScopeRecordPeriod)
	case "pidAdvisor":
		if m.calcRequested.IsZero() {
			return 0
		}
		p := float64(time.Since(m.calcRequested)) / float64(s.PIDCalcTime)
		if p > 1 {
			p = 1
		}
		return p
	case "awg":
		// upload progress after a successful compile
		if m.compileStart.IsZero() {
			return 0
		}
		st := toInt(m.params["compiler/status"])
		if m.compiling || st == 1 {
			return 0
		}
		p := float64(time.Since(m.compileStart)-s.AWGCompileTime) / float64(s.AWGCompileTime)
		if p < 0 {
			p = 0
		}
		if p > 1 {
			p = 1
		}
		return p
	case "mds":
		return float64(s.mdsStatus(m)) / 2
	default:
		return 0
	}
}

func (s *Server) modFinished(m *simModule) bool {
	switch m.kind {
	case "scope":
		// the scope module streams records and never reports finished
		return false
	case "pidAdvisor":
		return !m.calcRequested.IsZero() && toInt(s.modParam(m, "calculate")) == 0
	case "awg":
		return s.modProgress(m) >= 1
	case "mds":
		return s.mdsStatus(m) == 2
	default:
		return !m.started.IsZero() && s.modProgress(m) >= 1
	}
}

// materialize appends every record due by now to the module's buffer.
// Caller holds the lock.
func (s *Server) materialize(m *simModule) {
	if m.started.IsZero() {
		return
	}
	elapsed := time.Since(m.started)
	switch m.kind {
	case "sweep":
		loops := int(toInt(m.params["loopcount"]))
		due := int(elapsed / s.SweepPerLoop)
		if due > loops {
			due = loops
		}
		for k := m.emitted; k < due; k++ {
			for _, path := range m.active {
				s.appendRecord(m, path, s.synthSweep(m))
			}
		}
		m.emitted = due
	case "daq":
		count := int(toInt(m.params["count"]))
		due := int(elapsed / s.GridPeriod)
		if due > count {
			due = count
		}
		for k := m.emitted; k < due; k++ {
			for _, path := range m.active {
				s.appendRecord(m, path, s.synthBurst(m, k))
			}
		}
		m.emitted = due
	case "scope":
		due := int(elapsed / s.ScopeRecordPeriod)
		for k := m.emitted; k < due; k++ {
			for _, path := range m.active {
				s.appendRecord(m, path, s.synthScopeRecord(m, k))
			}
		}
		m.emitted = due
		// drop oldest records beyond the history length
		hist := int(toInt(m.params["historylength"]))
		if hist > 0 {
			for path, recs := range m.buffer {
				if len(recs) > hist {
					m.buffer[path] = recs[len(recs)-hist:]
				}
			}
		}
	}
}

func (s *Server) appendRecord(m *simModule, path string, rec interface{}) {
	enc, err := json.Marshal(rec)
	if err != nil {
		return
	}
	m.buffer[path] = append(m.buffer[path], json.RawMessage(enc))
}

// synthSweep builds one sweep record: a resonance-shaped response over the
// configured grid.
func (s *Server) synthSweep(m *simModule) sample.Sweep {
	n := int(toInt(m.params["samplecount"]))
	if n < 2 {
		n = 2
	}
	start := toFloat(m.params["start"])
	stop := toFloat(m.params["stop"])
	logspace := toInt(m.params["xmapping"]) == 1
	grid := make([]float64, n)
	for i := range grid {
		t := float64(i) / float64(n-1)
		if logspace && start > 0 && stop > 0 {
			grid[i] = start * math.Pow(stop/start, t)
		} else {
			grid[i] = start + (stop-start)*t
		}
	}
	center := math.Sqrt(math.Abs(start * stop))
	if center == 0 {
		center = (start + stop) / 2
	}
	width := center / 10
	sw := sample.Sweep{
		Timestamp:   uint64(float64(time.Now().UnixNano()) * Clockbase / 1e9),
		SampleCount: n,
		Grid:        grid,
		Frequency:   grid,
		X:           make([]float64, n),
		Y:           make([]float64, n),
	}
	for i, f := range grid {
		d := (f - center) / width
		mag := 1 / (1 + d*d)
		sw.X[i] = mag + s.rng.NormFloat64()*1e-4
		sw.Y[i] = mag*d + s.rng.NormFloat64()*1e-4
	}
	return sw
}

// synthBurst builds one complete grid burst.
func (s *Server) synthBurst(m *simModule, index int) sample.Burst {
	rows := int(toInt(m.params["grid/rows"]))
	cols := int(toInt(m.params["grid/cols"]))
	if rows < 1 {
		rows = 1
	}
	if cols < 2 {
		cols = 2
	}
	b := sample.Burst{
		Header: sample.Header{
			Flags:            sample.FlagGridComplete,
			GridRows:         rows,
			GridCols:         cols,
			TriggerIndex:     index,
			BurstLength:      cols,
			CreatedTimestamp: uint64(float64(time.Now().UnixNano()) * Clockbase / 1e9),
		},
		Timestamp: make([][]uint64, rows),
		Value:     make([][]float64, rows),
	}
	tick := uint64(Clockbase * toFloat(m.params["duration"]) / float64(cols))
	if tick == 0 {
		tick = 1
	}
	for r := 0; r < rows; r++ {
		b.Timestamp[r] = make([]uint64, cols)
		b.Value[r] = make([]float64, cols)
		for c := 0; c < cols; c++ {
			b.Timestamp[r][c] = uint64(r*cols+c) * tick
			b.Value[r][c] = math.Sin(2*math.Pi*float64(c)/float64(cols)) + s.rng.NormFloat64()*1e-3
		}
	}
	return b
}

// synthScopeRecord builds one scope shot on a single channel.
func (s *Server) synthScopeRecord(m *simModule, index int) sample.ScopeRecord {
	n := int(toInt(m.params["length"]))
	if n < 1 {
		n = 100
	}
	rec := sample.ScopeRecord{
		Timestamp:        uint64(float64(time.Now().UnixNano()) * Clockbase / 1e9),
		TriggerTimestamp: uint64(index),
		DT:               1.0 / Clockbase,
		TotalSamples:     n,
		Flags:            s.ScopeFlags,
		Wave:             make([][]float64, 1),
	}
	rec.Wave[0] = make([]float64, n)
	for i := 0; i < n; i++ {
		rec.Wave[0][i] = math.Sin(2*math.Pi*8*float64(i)/float64(n)) + s.rng.NormFloat64()*1e-2
	}
	return rec
}
