// Package pidadvisor wraps the data server's PID advisor module, which
// models the device's PID loop against a DUT model and proposes gains for a
// target bandwidth.
package pidadvisor

import (
	"time"

	"github.com/benchtop-labs/lockin/daqserver"
	"github.com/benchtop-labs/lockin/module"
)

// Tuning mode bits; OR them to choose which gains the advisor optimizes.
const (
	TuneP   = 1
	TuneI   = 2
	TuneD   = 4
	TunePID = TuneP | TuneI | TuneD
)

// DUT models.
const (
	DUTLowPassFirstOrder  = 1
	DUTLowPassSecondOrder = 2
	DUTResonatorFrequency = 3
	DUTInternalPLL        = 4
)

// Advisor is an interface to a server-side PID advisor module.
type Advisor struct {
	*module.Module
}

// New creates a PID advisor module on the server.
func New(sess *daqserver.Session) (*Advisor, error) {
	m, err := module.New(sess, module.PIDAdvisor)
	if err != nil {
		return nil, err
	}
	return &Advisor{m}, nil
}

// SetDevice selects the device whose PID loop is modeled.
func (a *Advisor) SetDevice(id string) error {
	return a.Set("device", id)
}

// SetIndex selects which PID controller on the device is modeled.
func (a *Advisor) SetIndex(i int) error {
	return a.Set("index", i)
}

// SetTargetBandwidth sets the closed-loop bandwidth goal in Hz.
func (a *Advisor) SetTargetBandwidth(hz float64) error {
	return a.Set("pid/targetbw", hz)
}

// SetTuningMode sets which gains the advisor optimizes, a TuneP|TuneI|TuneD
// bitmask.
func (a *Advisor) SetTuningMode(mask int) error {
	return a.Set("pid/mode", mask)
}

// SetDUTSource sets the DUT model.
func (a *Advisor) SetDUTSource(model int) error {
	return a.Set("dut/source", model)
}

// SetDUTDelay sets the DUT delay in seconds.
func (a *Advisor) SetDUTDelay(seconds float64) error {
	return a.Set("dut/delay", seconds)
}

// SetAuto enables continuous recalculation when parameters change.
func (a *Advisor) SetAuto(on bool) error {
	v := 0
	if on {
		v = 1
	}
	return a.Set("auto", v)
}

// Calculate triggers the advisor's optimization and blocks until it
// completes.  The calculate parameter returns to 0 exactly once, when the
// proposed gains are available.
func (a *Advisor) Calculate(interval, timeout time.Duration) error {
	err := a.Set("calculate", 1)
	if err != nil {
		return err
	}
	return a.WaitParamZero("calculate", interval, timeout)
}

// Gains returns the advisor's proposed P, I and D gains.  Valid after
// Calculate completes.
func (a *Advisor) Gains() (p, i, d float64, err error) {
	p, err = a.GetDouble("pid/p")
	if err != nil {
		return 0, 0, 0, err
	}
	i, err = a.GetDouble("pid/i")
	if err != nil {
		return 0, 0, 0, err
	}
	d, err = a.GetDouble("pid/d")
	return p, i, d, err
}

// TransferToDevice writes the proposed gains to the device's PID controller.
func (a *Advisor) TransferToDevice() error {
	return a.Set("todevice", 1)
}
