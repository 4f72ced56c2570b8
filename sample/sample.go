// Package sample holds the record types returned by the data server and the
// processing modules, and routines to reshape them into physical quantities.
package sample

import (
	"fmt"
	"math"

	"go.uber.org/multierr"
)

// Record flag bits.  These accompany every scope record and grid burst; a
// set error bit means the payload is suspect, not absent.  Callers are
// expected to surface them and carry on.
const (
	// FlagDataLoss indicates samples were dropped between device and server.
	FlagDataLoss = 1 << 0

	// FlagMissedTrigger indicates a trigger event was skipped.
	FlagMissedTrigger = 1 << 1

	// FlagTransferFailure indicates the record was corrupted in transfer.
	FlagTransferFailure = 1 << 2
)

// FlagGridComplete is bit 0 of a grid burst header: the grid is fully
// populated and all configured repetitions have completed.
const FlagGridComplete = 1 << 0

// Demod is a block of demodulator samples.  Slices are index-aligned;
// Timestamp is in device clock ticks.
type Demod struct {
	Timestamp []uint64  `json:"timestamp"`
	X         []float64 `json:"x"`
	Y         []float64 `json:"y"`
	Frequency []float64 `json:"frequency,omitempty"`
	AuxIn0    []float64 `json:"auxin0,omitempty"`
	DIO       []uint32  `json:"dio,omitempty"`
}

// Len returns the number of samples in the block.
func (d *Demod) Len() int {
	return len(d.Timestamp)
}

// Append concatenates another block onto this one.
func (d *Demod) Append(other *Demod) {
	d.Timestamp = append(d.Timestamp, other.Timestamp...)
	d.X = append(d.X, other.X...)
	d.Y = append(d.Y, other.Y...)
	d.Frequency = append(d.Frequency, other.Frequency...)
	d.AuxIn0 = append(d.AuxIn0, other.AuxIn0...)
	d.DIO = append(d.DIO, other.DIO...)
}

// R computes the demodulator magnitude sqrt(x^2+y^2) per sample.
func (d *Demod) R() []float64 {
	out := make([]float64, len(d.X))
	for i := range d.X {
		out[i] = math.Hypot(d.X[i], d.Y[i])
	}
	return out
}

// Theta computes the demodulator phase atan2(y, x) per sample, in radians.
func (d *Demod) Theta() []float64 {
	out := make([]float64, len(d.X))
	for i := range d.X {
		out[i] = math.Atan2(d.Y[i], d.X[i])
	}
	return out
}

// MeanR returns the mean magnitude of the block, or 0 for an empty block.
func (d *Demod) MeanR() float64 {
	if len(d.X) == 0 {
		return 0
	}
	var sum float64
	for _, r := range d.R() {
		sum += r
	}
	return sum / float64(len(d.X))
}

// Duration converts the block's timestamp span from clock ticks to seconds.
func (d *Demod) Duration(clockbase float64) float64 {
	if len(d.Timestamp) < 2 || clockbase == 0 {
		return 0
	}
	return float64(d.Timestamp[len(d.Timestamp)-1]-d.Timestamp[0]) / clockbase
}

// RelativeSeconds converts timestamps to seconds elapsed since the first
// sample of the block.
func (d *Demod) RelativeSeconds(clockbase float64) []float64 {
	out := make([]float64, len(d.Timestamp))
	if len(d.Timestamp) == 0 || clockbase == 0 {
		return out
	}
	t0 := d.Timestamp[0]
	for i, ts := range d.Timestamp {
		out[i] = float64(ts-t0) / clockbase
	}
	return out
}

// Header carries the metadata attached to a grid burst.
type Header struct {
	Flags            uint32 `json:"flags"`
	GridRows         int    `json:"gridrows"`
	GridCols         int    `json:"gridcols"`
	TriggerIndex     int    `json:"triggerindex"`
	BurstLength      int    `json:"burstlength"`
	CreatedTimestamp uint64 `json:"createdtimestamp"`
}

// Burst is one grid record from the data acquisition module: a matrix of
// values, one row per trigger, interpolated onto GridCols columns.
type Burst struct {
	Header    Header      `json:"header"`
	Timestamp [][]uint64  `json:"timestamp"`
	Value     [][]float64 `json:"value"`
}

// Complete reports whether the grid is fully populated.
func (b Burst) Complete() bool {
	return b.Header.Flags&FlagGridComplete != 0
}

// ScopeRecord is one shot of scope data covering one or more input channels.
type ScopeRecord struct {
	Timestamp        uint64      `json:"timestamp"`
	TriggerTimestamp uint64      `json:"triggertimestamp"`
	DT               float64     `json:"dt"`
	TotalSamples     int         `json:"totalsamples"`
	Flags            uint32      `json:"flags"`
	Wave             [][]float64 `json:"wave"`
}

// Sweep is one completed sweep from the sweeper module.  Grid holds the
// swept parameter values; the remaining slices are index-aligned with it.
type Sweep struct {
	Timestamp   uint64    `json:"timestamp"`
	SampleCount int       `json:"samplecount"`
	Flags       uint32    `json:"flags"`
	Grid        []float64 `json:"grid"`
	Frequency   []float64 `json:"frequency"`
	X           []float64 `json:"x"`
	Y           []float64 `json:"y"`
	Bandwidth   []float64 `json:"bandwidth,omitempty"`
}

// R computes the sweep magnitude per point.
func (s Sweep) R() []float64 {
	out := make([]float64, len(s.X))
	for i := range s.X {
		out[i] = math.Hypot(s.X[i], s.Y[i])
	}
	return out
}

// Phi computes the sweep phase per point, in radians.
func (s Sweep) Phi() []float64 {
	out := make([]float64, len(s.X))
	for i := range s.X {
		out[i] = math.Atan2(s.Y[i], s.X[i])
	}
	return out
}

// flagError describes one set error bit on one record.
func flagError(kind string, index, total int, flag uint32) error {
	var what string
	switch flag {
	case FlagDataLoss:
		what = "dataloss"
	case FlagMissedTrigger:
		what = "missed trigger"
	case FlagTransferFailure:
		what = "transfer failure (corrupt data)"
	}
	return fmt.Errorf("%s record %d/%d flag indicates %s", kind, index, total, what)
}

// CheckScopeFlags inspects the error bits of every record and returns the
// aggregate.  A non-nil return is advisory: the data was still delivered and
// the caller decides whether to keep it.  Record sizes that disagree with
// TotalSamples are included, those indicate a client-side decode fault.
func CheckScopeFlags(records []ScopeRecord) error {
	var err error
	n := len(records)
	for i, rec := range records {
		for _, bit := range []uint32{FlagDataLoss, FlagMissedTrigger, FlagTransferFailure} {
			if rec.Flags&bit != 0 {
				err = multierr.Append(err, flagError("scope", i, n, bit))
			}
		}
		for _, wave := range rec.Wave {
			if len(wave) != rec.TotalSamples {
				err = multierr.Append(err, fmt.Errorf(
					"scope record %d/%d size %d does not match totalsamples %d",
					i, n, len(wave), rec.TotalSamples))
			}
		}
	}
	return err
}

// CheckBurstFlags inspects the error bits of every grid burst and returns
// the aggregate, in the same advisory sense as CheckScopeFlags.
func CheckBurstFlags(bursts []Burst) error {
	var err error
	n := len(bursts)
	for i, b := range bursts {
		for _, bit := range []uint32{FlagDataLoss, FlagMissedTrigger, FlagTransferFailure} {
			// bit 0 of a burst header is grid-complete, error bits are shifted
			// up by one relative to scope records
			if b.Header.Flags&(bit<<1) != 0 {
				err = multierr.Append(err, flagError("grid", i, n, bit))
			}
		}
	}
	return err
}
