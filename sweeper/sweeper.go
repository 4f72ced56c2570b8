// Package sweeper wraps the data server's sweeper module, which steps a
// device node over a grid of values and records the demodulator response at
// each point.
package sweeper

import (
	"context"
	"fmt"

	"github.com/benchtop-labs/lockin/daqserver"
	"github.com/benchtop-labs/lockin/module"
	"github.com/benchtop-labs/lockin/sample"
)

// X-axis mapping of the sweep grid.
const (
	XMappingLinear = 0
	XMappingLog    = 1
)

// Bandwidth control modes.
const (
	BandwidthManual = 0
	BandwidthFixed  = 1
	BandwidthAuto   = 2
)

// Scan orders.
const (
	ScanSequential    = 0
	ScanBinary        = 1
	ScanBidirectional = 2
	ScanReverse       = 3
)

// Sweeper is an interface to a server-side sweeper module.
type Sweeper struct {
	*module.Module
}

// New creates a sweeper module on the server.
func New(sess *daqserver.Session) (*Sweeper, error) {
	m, err := module.New(sess, module.Sweeper)
	if err != nil {
		return nil, err
	}
	return &Sweeper{m}, nil
}

// SetDevice selects the device the sweep runs against.
func (s *Sweeper) SetDevice(id string) error {
	return s.Set("device", id)
}

// SetGridNode selects the node stepped by the sweep, e.g. oscs/0/freq.
func (s *Sweeper) SetGridNode(node string) error {
	return s.Set("gridnode", node)
}

// SetStart sets the first grid value.
func (s *Sweeper) SetStart(v float64) error {
	return s.Set("start", v)
}

// GetStart returns the first grid value.
func (s *Sweeper) GetStart() (float64, error) {
	return s.GetDouble("start")
}

// SetStop sets the last grid value.
func (s *Sweeper) SetStop(v float64) error {
	return s.Set("stop", v)
}

// GetStop returns the last grid value.
func (s *Sweeper) GetStop() (float64, error) {
	return s.GetDouble("stop")
}

// SetSampleCount sets the number of grid points per sweep.
func (s *Sweeper) SetSampleCount(n int) error {
	return s.Set("samplecount", n)
}

// GetSampleCount returns the number of grid points per sweep.
func (s *Sweeper) GetSampleCount() (int64, error) {
	return s.GetInt("samplecount")
}

// SetXMapping sets the grid spacing, XMappingLinear or XMappingLog.
func (s *Sweeper) SetXMapping(mode int) error {
	return s.Set("xmapping", mode)
}

// SetBandwidthControl sets how the demodulator bandwidth is chosen per point.
func (s *Sweeper) SetBandwidthControl(mode int) error {
	return s.Set("bandwidthcontrol", mode)
}

// SetScan sets the order grid points are visited in.
func (s *Sweeper) SetScan(order int) error {
	return s.Set("scan", order)
}

// SetLoopCount sets how many complete sweeps to run.
func (s *Sweeper) SetLoopCount(n int) error {
	return s.Set("loopcount", n)
}

// GetLoopCount returns the configured number of sweeps.
func (s *Sweeper) GetLoopCount() (int64, error) {
	return s.GetInt("loopcount")
}

// SetSettlingTime sets the minimum wait after each grid step in seconds.
func (s *Sweeper) SetSettlingTime(seconds float64) error {
	return s.Set("settling/time", seconds)
}

// SetSettlingInaccuracy sets the demodulator settling target, a fraction of
// the step response remaining.
func (s *Sweeper) SetSettlingInaccuracy(frac float64) error {
	return s.Set("settling/inaccuracy", frac)
}

// SetAveragingTC sets the averaging time per point in filter time constants.
func (s *Sweeper) SetAveragingTC(tcs float64) error {
	return s.Set("averaging/tc", tcs)
}

// SetAveragingSampleCount sets the minimum samples averaged per point.
func (s *Sweeper) SetAveragingSampleCount(n int) error {
	return s.Set("averaging/sample", n)
}

// SetSaveDirectory sets where server-side saves land.
func (s *Sweeper) SetSaveDirectory(dir string) error {
	return s.Set("save/directory", dir)
}

// SetSaveFilename sets the server-side save file name.
func (s *Sweeper) SetSaveFilename(name string) error {
	return s.Set("save/filename", name)
}

// SetSaveFormat sets the server-side save format.
func (s *Sweeper) SetSaveFormat(format string) error {
	return s.Set("save/fileformat", format)
}

// Run executes the sweep and collects records until the configured loop
// count completes or the budget elapses.
func (s *Sweeper) Run(ctx context.Context, cfg module.CollectConfig) (map[string][]sample.Sweep, error) {
	data, err := module.Collect(ctx, s.Module, cfg)
	if err != nil {
		return nil, err
	}
	return Sweeps(data)
}

// Sweeps decodes collected module data into sweep records per path.
func Sweeps(data module.Data) (map[string][]sample.Sweep, error) {
	out := map[string][]sample.Sweep{}
	for path, records := range data {
		decoded := make([]sample.Sweep, len(records))
		for i := range records {
			err := data.Decode(path, i, &decoded[i])
			if err != nil {
				return nil, fmt.Errorf("decoding sweep %d of %s: %w", i, path, err)
			}
		}
		out[path] = decoded
	}
	return out, nil
}

// ValidateCount checks that every path collected the expected number of
// sweeps, normally the loop count.
func ValidateCount(sweeps map[string][]sample.Sweep, want int) error {
	for path, recs := range sweeps {
		if len(recs) != want {
			return fmt.Errorf("%s: got %d sweeps, want %d", path, len(recs), want)
		}
	}
	return nil
}
