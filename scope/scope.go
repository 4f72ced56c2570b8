// Package scope wraps the data server's scope module, which assembles raw
// scope shots streamed by the device into full records and optionally
// averages or FFTs them.  The module streams indefinitely and never reports
// finished; runs are bounded by a record count.
package scope

import (
	"context"
	"fmt"

	"github.com/benchtop-labs/lockin/daqserver"
	"github.com/benchtop-labs/lockin/module"
	"github.com/benchtop-labs/lockin/sample"
	"go.uber.org/multierr"
)

// Processing modes.
const (
	ModeTime = 1
	ModeFFT  = 3
)

// Scope is an interface to a server-side scope module.
type Scope struct {
	*module.Module
}

// New creates a scope module on the server.
func New(sess *daqserver.Session) (*Scope, error) {
	m, err := module.New(sess, module.Scope)
	if err != nil {
		return nil, err
	}
	return &Scope{m}, nil
}

// SetMode sets the record processing mode, ModeTime or ModeFFT.
func (s *Scope) SetMode(mode int) error {
	return s.Set("mode", mode)
}

// SetAveragerWeight sets the exponential averaging weight; 1 disables
// averaging.
func (s *Scope) SetAveragerWeight(w int) error {
	return s.Set("averager/weight", w)
}

// SetHistoryLength sets how many records the module retains.
func (s *Scope) SetHistoryLength(n int) error {
	return s.Set("historylength", n)
}

// Run collects at least minRecords scope records.  The scope module never
// finishes on its own, so the record count is the completion criterion.
func (s *Scope) Run(ctx context.Context, minRecords int, cfg module.CollectConfig) (map[string][]sample.ScopeRecord, error) {
	cfg.MinRecords = minRecords
	data, err := module.Collect(ctx, s.Module, cfg)
	if err != nil {
		return nil, err
	}
	return Records(data)
}

// Records decodes collected module data into scope records per path.
func Records(data module.Data) (map[string][]sample.ScopeRecord, error) {
	out := map[string][]sample.ScopeRecord{}
	for path, records := range data {
		decoded := make([]sample.ScopeRecord, len(records))
		for i := range records {
			err := data.Decode(path, i, &decoded[i])
			if err != nil {
				return nil, fmt.Errorf("decoding scope record %d of %s: %w", i, path, err)
			}
		}
		out[path] = decoded
	}
	return out, nil
}

// Warnings aggregates the flagged conditions across records: data loss,
// missed triggers, transfer failures.  Flagged records are degraded but
// usable; callers log the result rather than failing on it.
func Warnings(records map[string][]sample.ScopeRecord) error {
	var agg error
	for path, recs := range records {
		err := sample.CheckScopeFlags(recs)
		if err != nil {
			agg = multierr.Append(agg, fmt.Errorf("%s: %w", path, err))
		}
	}
	return agg
}
