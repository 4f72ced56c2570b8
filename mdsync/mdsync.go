// Package mdsync wraps the data server's multi-device synchronization
// module, which aligns the timestamps of several instruments sharing a
// clock and trigger chain.
package mdsync

import (
	"fmt"
	"strings"
	"time"

	"github.com/benchtop-labs/lockin/daqserver"
	"github.com/benchtop-labs/lockin/module"
)

// Synchronization states.
const (
	StatusError   = -1
	StatusIdle    = 0
	StatusRunning = 1
	StatusSynced  = 2
)

// Sync is an interface to a server-side multi-device sync module.
type Sync struct {
	*module.Module
}

// New creates a multi-device sync module on the server.
func New(sess *daqserver.Session) (*Sync, error) {
	m, err := module.New(sess, module.MDSync)
	if err != nil {
		return nil, err
	}
	return &Sync{m}, nil
}

// SetDevices sets the instruments to synchronize, in chain order.
func (s *Sync) SetDevices(ids []string) error {
	return s.Set("devices", strings.Join(ids, ","))
}

// SetGroup selects the synchronization group.
func (s *Sync) SetGroup(g int) error {
	return s.Set("group", g)
}

// Status returns the module's synchronization state.
func (s *Sync) Status() (int, error) {
	v, err := s.GetInt("status")
	return int(v), err
}

// Message returns the module's human-readable status message.
func (s *Sync) Message() (string, error) {
	return s.GetString("message")
}

// Run starts synchronization and blocks until the devices report synced, a
// sync error occurs, or the timeout elapses.
func (s *Sync) Run(interval, timeout time.Duration) error {
	err := s.Set("start", 1)
	if err != nil {
		return err
	}
	deadline := time.Now().Add(timeout)
	for {
		status, err := s.Status()
		if err != nil {
			return err
		}
		switch status {
		case StatusSynced:
			return nil
		case StatusError:
			msg, _ := s.Message()
			return fmt.Errorf("synchronization failed: %s", msg)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("devices not synced after %v: %w", timeout, module.ErrTimeout)
		}
		time.Sleep(interval)
	}
}

// Stop aborts an in-progress synchronization.
func (s *Sync) Stop() error {
	return s.Set("start", 0)
}
