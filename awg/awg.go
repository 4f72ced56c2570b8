// Package awg wraps the data server's AWG compiler module: sequencer
// program compilation, upload tracking, and waveform and command-table
// replacement on the device.
package awg

import (
	"encoding/binary"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/benchtop-labs/lockin/daqserver"
	"github.com/benchtop-labs/lockin/module"
	"github.com/benchtop-labs/lockin/nodetree"
)

// Compiler status values.
const (
	CompileRunning  = -1
	CompileSuccess  = 0
	CompileFailed   = 1
	CompileWarnings = 2
)

// AWG is an interface to a server-side AWG compiler module.
type AWG struct {
	*module.Module
}

// New creates an AWG module on the server.
func New(sess *daqserver.Session) (*AWG, error) {
	m, err := module.New(sess, module.AWG)
	if err != nil {
		return nil, err
	}
	return &AWG{m}, nil
}

// SetDevice selects the device the compiled program is uploaded to.
func (a *AWG) SetDevice(id string) error {
	return a.Set("device", id)
}

// SetIndex selects the AWG core on the device.
func (a *AWG) SetIndex(i int) error {
	return a.Set("index", i)
}

// SetDirectory sets the module's working directory for source files and
// compiler output.
func (a *AWG) SetDirectory(dir string) error {
	return a.Set("directory", dir)
}

// GetDirectory returns the module's working directory.
func (a *AWG) GetDirectory() (string, error) {
	return a.GetString("directory")
}

// CompileSource compiles a sequencer program given as a string and waits for
// compilation and upload to complete.  A compiler warning is logged, not an
// error; a compiler failure returns the compiler's message.
func (a *AWG) CompileSource(src string, interval, timeout time.Duration) error {
	err := a.Set("compiler/sourcestring", src)
	if err != nil {
		return err
	}
	return a.waitCompiled(interval, timeout)
}

// CompileFile compiles a sequencer program from a file in the module's
// working directory and waits for compilation and upload to complete.
func (a *AWG) CompileFile(name string, interval, timeout time.Duration) error {
	err := a.Set("compiler/sourcefile", name)
	if err != nil {
		return err
	}
	err = a.Set("compiler/start", 1)
	if err != nil {
		return err
	}
	return a.waitCompiled(interval, timeout)
}

func (a *AWG) waitCompiled(interval, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	status := int64(CompileRunning)
	for {
		var err error
		status, err = a.GetInt("compiler/status")
		if err != nil {
			return err
		}
		if status != CompileRunning {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("compiler still running after %v: %w", timeout, module.ErrTimeout)
		}
		time.Sleep(interval)
	}
	msg, err := a.GetString("compiler/statusstring")
	if err != nil {
		return err
	}
	switch status {
	case CompileFailed:
		return fmt.Errorf("compilation failed: %s", msg)
	case CompileWarnings:
		log.Printf("warning: awg compiler: %s", msg)
	}

	// compilation done; wait out the upload
	for {
		progress, err := a.GetDouble("progress")
		if err != nil {
			return err
		}
		elf, err := a.GetInt("elf/status")
		if err != nil {
			return err
		}
		if elf == 1 {
			return fmt.Errorf("upload failed")
		}
		if progress >= 1.0 && elf == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("upload incomplete after %v: %w", timeout, module.ErrTimeout)
		}
		time.Sleep(interval)
	}
}

// EncodeWaveform packs normalized samples in [-1, 1] into the 16-bit
// little-endian format the device's waveform memory takes.
func EncodeWaveform(samples []float64) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		}
		if s < -1 {
			s = -1
		}
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(math.Round(s*math.MaxInt16))))
	}
	return out
}

// WriteWaveform replaces waveform memory slot index on the device without
// recompiling, via a checksummed vector write.
func (a *AWG) WriteWaveform(device string, core, index int, samples []float64) error {
	path := nodetree.Path(device, "awgs", core, "waveform", "waves", index)
	return a.Session().SetVector(path, EncodeWaveform(samples))
}

// WriteCommandTable uploads a command table JSON document to the device.
func (a *AWG) WriteCommandTable(device string, core int, tableJSON []byte) error {
	path := nodetree.Path(device, "awgs", core, "commandtable", "data")
	return a.Session().SetVector(path, tableJSON)
}

// Enable starts or stops the AWG core on the device.
func (a *AWG) Enable(device string, core int, on bool) error {
	v := 0
	if on {
		v = 1
	}
	return a.Session().SetInt(nodetree.Path(device, "awgs", core, "enable"), int64(v))
}
