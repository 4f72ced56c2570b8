/*Package module drives the data server's processing modules (sweeper, data
acquisition, scope, PID advisor, AWG compiler, multi-device sync) through
their common lifecycle:

	configure -> subscribe -> execute -> poll -> read -> finish

Subscriptions must be registered before Execute; a path subscribed after
Execute yields no entry in the read data and no error, so callers treat a
missing key as that condition.  Read drains the module's buffer: records
returned once are gone.  Finish is idempotent and re-arms the module for
another Execute.
*/
package module

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/benchtop-labs/lockin/daqserver"
	"github.com/benchtop-labs/lockin/nodetree"
)

// Kind names a server-side module type.
type Kind string

// The module kinds offered by the data server.
const (
	Sweeper    Kind = "sweep"
	DAQ        Kind = "daq"
	Scope      Kind = "scope"
	PIDAdvisor Kind = "pidAdvisor"
	AWG        Kind = "awg"
	MDSync     Kind = "mds"
)

// Module is a handle to one server-side module instance.
type Module struct {
	sess *daqserver.Session
	id   int
	kind Kind
}

// New creates a module of the given kind on the server.
func New(sess *daqserver.Session, kind Kind) (*Module, error) {
	raw, err := sess.Do(daqserver.VerbModCreate, string(kind))
	if err != nil {
		return nil, fmt.Errorf("creating %s module: %w", kind, err)
	}
	var v struct {
		ID int `json:"id"`
	}
	err = json.Unmarshal(raw, &v)
	if err != nil {
		return nil, err
	}
	return &Module{sess: sess, id: v.ID, kind: kind}, nil
}

// Kind returns the module's type.
func (m *Module) Kind() Kind {
	return m.kind
}

// Session returns the owning session.
func (m *Module) Session() *daqserver.Session {
	return m.sess
}

func (m *Module) idArg() string {
	return strconv.Itoa(m.id)
}

// Set writes one module parameter.
func (m *Module) Set(param string, value interface{}) error {
	enc, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = m.sess.Do(daqserver.VerbModSet, m.idArg(), param, string(enc))
	return err
}

// GetDouble reads a floating point module parameter.
func (m *Module) GetDouble(param string) (float64, error) {
	raw, err := m.sess.Do(daqserver.VerbModGetD, m.idArg(), param)
	if err != nil {
		return 0, err
	}
	var v struct {
		Value float64 `json:"value"`
	}
	err = json.Unmarshal(raw, &v)
	return v.Value, err
}

// GetInt reads an integer module parameter.
func (m *Module) GetInt(param string) (int64, error) {
	raw, err := m.sess.Do(daqserver.VerbModGetI, m.idArg(), param)
	if err != nil {
		return 0, err
	}
	var v struct {
		Value int64 `json:"value"`
	}
	err = json.Unmarshal(raw, &v)
	return v.Value, err
}

// GetString reads a string module parameter.
func (m *Module) GetString(param string) (string, error) {
	raw, err := m.sess.Do(daqserver.VerbModGetS, m.idArg(), param)
	if err != nil {
		return "", err
	}
	var v struct {
		Value string `json:"value"`
	}
	err = json.Unmarshal(raw, &v)
	return v.Value, err
}

// Subscribe declares a signal path the module should collect.  Must be
// called before Execute.
func (m *Module) Subscribe(path string) error {
	_, err := m.sess.Do(daqserver.VerbModSubs, m.idArg(), nodetree.Normalize(path))
	return err
}

// Unsubscribe removes module subscriptions matching pattern.
func (m *Module) Unsubscribe(pattern string) error {
	_, err := m.sess.Do(daqserver.VerbModUnsub, m.idArg(), nodetree.Normalize(pattern))
	return err
}

// Execute transitions the module from idle to running and resets its
// progress to 0.
func (m *Module) Execute() error {
	_, err := m.sess.Do(daqserver.VerbModExec, m.idArg())
	return err
}

// Progress reports the module's progress as a fraction in [0, 1].
func (m *Module) Progress() (float64, error) {
	raw, err := m.sess.Do(daqserver.VerbModProg, m.idArg())
	if err != nil {
		return 0, err
	}
	var v struct {
		Progress float64 `json:"progress"`
	}
	err = json.Unmarshal(raw, &v)
	return v.Progress, err
}

// Finished reports whether the module has completed its run.
func (m *Module) Finished() (bool, error) {
	raw, err := m.sess.Do(daqserver.VerbModFin, m.idArg())
	if err != nil {
		return false, err
	}
	var v struct {
		Finished bool `json:"finished"`
	}
	err = json.Unmarshal(raw, &v)
	return v.Finished, err
}

// Records reports how many complete records the module has accumulated.
func (m *Module) Records() (int, error) {
	raw, err := m.sess.Do(daqserver.VerbModRecords, m.idArg())
	if err != nil {
		return 0, err
	}
	var v struct {
		Records int `json:"records"`
	}
	err = json.Unmarshal(raw, &v)
	return v.Records, err
}

// Read fetches the module's accumulated data.  The returned records are
// removed from the module and cannot be read again.  Reading before
// Finished returns the partial segments available so far.
func (m *Module) Read() (Data, error) {
	raw, err := m.sess.Do(daqserver.VerbModRead, m.idArg())
	if err != nil {
		return nil, err
	}
	out := Data{}
	if len(raw) == 0 {
		return out, nil
	}
	err = json.Unmarshal(raw, &out)
	return out, err
}

// Finish stops the module and releases its server-side resources.  It does
// not error on an already-finished module, and the module can be re-armed
// with Execute afterwards.
func (m *Module) Finish() error {
	_, err := m.sess.Do(daqserver.VerbModFinish, m.idArg())
	return err
}

// WaitParamZero polls an integer module parameter until it returns to 0.
// This is the completion handshake for one-shot actions the module runs in
// the background: save/save, findlevel, calculate.  The transition is
// monotonic; once 0 is observed the action is complete.
func (m *Module) WaitParamZero(param string, interval, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		v, err := m.GetInt(param)
		if err != nil {
			return err
		}
		if v == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%s did not return to zero within %v: %w", param, timeout, ErrTimeout)
		}
		time.Sleep(interval)
	}
}

// ErrTimeout is the base error for bounded waits that elapse.
var ErrTimeout = errors.New("wall-clock budget elapsed")
