// Package daqmod wraps the data server's data acquisition module: triggered
// capture of demodulator streams onto a fixed grid of rows and columns.
package daqmod

import (
	"context"
	"fmt"
	"time"

	"github.com/benchtop-labs/lockin/daqserver"
	"github.com/benchtop-labs/lockin/module"
	"github.com/benchtop-labs/lockin/sample"
)

// Trigger types.
const (
	TriggerContinuous = 0
	TriggerEdge       = 1
	TriggerDigital    = 2
	TriggerPulse      = 3
	TriggerTracking   = 4
)

// Trigger edges.
const (
	EdgeRising  = 1
	EdgeFalling = 2
	EdgeBoth    = 3
)

// Grid interpolation modes.
const (
	GridNearest = 1
	GridLinear  = 2
	GridExact   = 4
)

// Grid fill directions.
const (
	DirectionForward     = 0
	DirectionReverse     = 1
	DirectionAlternating = 2
)

// DAQ is an interface to a server-side data acquisition module.
type DAQ struct {
	*module.Module
}

// New creates a data acquisition module on the server.
func New(sess *daqserver.Session) (*DAQ, error) {
	m, err := module.New(sess, module.DAQ)
	if err != nil {
		return nil, err
	}
	return &DAQ{m}, nil
}

// TriggerPath joins a streaming node path with the signal field the trigger
// evaluates, e.g. TriggerPath("/dev1234/demods/0/sample", "r").
func TriggerPath(streamPath, field string) string {
	return streamPath + "." + field
}

// SetDevice selects the device the module captures from.
func (d *DAQ) SetDevice(id string) error {
	return d.Set("device", id)
}

// SetType sets the trigger type.
func (d *DAQ) SetType(t int) error {
	return d.Set("type", t)
}

// SetTriggerNode sets the node and signal field the trigger evaluates.
func (d *DAQ) SetTriggerNode(path string) error {
	return d.Set("triggernode", path)
}

// SetEdge sets the trigger edge.
func (d *DAQ) SetEdge(edge int) error {
	return d.Set("edge", edge)
}

// SetLevel sets the trigger level in signal units.
func (d *DAQ) SetLevel(v float64) error {
	return d.Set("level", v)
}

// GetLevel returns the trigger level.
func (d *DAQ) GetLevel() (float64, error) {
	return d.GetDouble("level")
}

// SetHysteresis sets the trigger hysteresis in signal units.
func (d *DAQ) SetHysteresis(v float64) error {
	return d.Set("hysteresis", v)
}

// GetHysteresis returns the trigger hysteresis.
func (d *DAQ) GetHysteresis() (float64, error) {
	return d.GetDouble("hysteresis")
}

// FindLevel asks the module to derive a trigger level and hysteresis from
// the live signal, then blocks until the search completes and returns them.
func (d *DAQ) FindLevel(interval, timeout time.Duration) (level, hysteresis float64, err error) {
	err = d.Set("findlevel", 1)
	if err != nil {
		return 0, 0, err
	}
	err = d.WaitParamZero("findlevel", interval, timeout)
	if err != nil {
		return 0, 0, err
	}
	level, err = d.GetLevel()
	if err != nil {
		return 0, 0, err
	}
	hysteresis, err = d.GetHysteresis()
	return level, hysteresis, err
}

// SetDelay sets the capture delay relative to the trigger in seconds.
// Negative values capture pre-trigger data.
func (d *DAQ) SetDelay(seconds float64) error {
	return d.Set("delay", seconds)
}

// SetDuration sets the capture window length in seconds.
func (d *DAQ) SetDuration(seconds float64) error {
	return d.Set("duration", seconds)
}

// GetDuration returns the capture window length, which the module may have
// adjusted to fit the grid in exact mode.
func (d *DAQ) GetDuration() (float64, error) {
	return d.GetDouble("duration")
}

// SetHoldoffTime sets the minimum time between triggers in seconds.
func (d *DAQ) SetHoldoffTime(seconds float64) error {
	return d.Set("holdoff/time", seconds)
}

// SetHoldoffCount sets the number of triggers skipped between captures.
func (d *DAQ) SetHoldoffCount(n int) error {
	return d.Set("holdoff/count", n)
}

// SetGridMode sets how captured samples map onto grid columns.
func (d *DAQ) SetGridMode(mode int) error {
	return d.Set("grid/mode", mode)
}

// SetGridCols sets the number of grid columns.  The module may coerce the
// value to satisfy sampling constraints; read it back after setting.
func (d *DAQ) SetGridCols(n int) error {
	return d.Set("grid/cols", n)
}

// GetGridCols returns the effective number of grid columns.
func (d *DAQ) GetGridCols() (int64, error) {
	return d.GetInt("grid/cols")
}

// SetGridRows sets the number of grid rows, one trigger event per row.
func (d *DAQ) SetGridRows(n int) error {
	return d.Set("grid/rows", n)
}

// SetGridRepetitions sets how many captures are averaged into each row.
func (d *DAQ) SetGridRepetitions(n int) error {
	return d.Set("grid/repetitions", n)
}

// SetGridDirection sets the row fill direction.
func (d *DAQ) SetGridDirection(dir int) error {
	return d.Set("grid/direction", dir)
}

// SetCount sets how many complete grids to acquire.
func (d *DAQ) SetCount(n int) error {
	return d.Set("count", n)
}

// Run executes the acquisition and collects grids until the configured
// count completes or the budget elapses.
func (d *DAQ) Run(ctx context.Context, cfg module.CollectConfig) (map[string][]sample.Burst, error) {
	data, err := module.Collect(ctx, d.Module, cfg)
	if err != nil {
		return nil, err
	}
	return Bursts(data)
}

// Bursts decodes collected module data into grid bursts per path.
func Bursts(data module.Data) (map[string][]sample.Burst, error) {
	out := map[string][]sample.Burst{}
	for path, records := range data {
		decoded := make([]sample.Burst, len(records))
		for i := range records {
			err := data.Decode(path, i, &decoded[i])
			if err != nil {
				return nil, fmt.Errorf("decoding burst %d of %s: %w", i, path, err)
			}
		}
		out[path] = decoded
	}
	return out, nil
}

// CompleteOnly filters bursts down to those whose grid finished filling.
// Intermediate reads return partial grids; the final drain read completes
// them.
func CompleteOnly(bursts []sample.Burst) []sample.Burst {
	out := bursts[:0:0]
	for _, b := range bursts {
		if b.Complete() {
			out = append(out, b)
		}
	}
	return out
}
