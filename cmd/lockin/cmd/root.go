// Package cmd implements the lockin command line tool, one subcommand per
// measurement workflow.
package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/benchtop-labs/lockin/daqserver"
	"github.com/spf13/cobra"
	"github.com/theckman/yacspin"
)

var (
	serverHost string
	serverPort int
	apiLevel   int
	device     string
)

var rootCmd = &cobra.Command{
	Use:   "lockin",
	Short: "Drive a lock-in amplifier through its data server",
	Long: `lockin talks to a lock-in amplifier data server: node tree reads and
writes, demodulator polling, and the server-side processing modules
(sweeper, data acquisition, scope, PID advisor, AWG compiler,
multi-device sync).

Examples:
  lockin poll --device dev1234 --seconds 5 -o samples.csv
  lockin sweep --device dev1234 --start 1e3 --stop 1e6 --log -o sweep.csv
  lockin grid --device dev1234 --cols 100 --rows 10 --count 3 -o grid
  lockin pll --device dev1234 --bandwidth 10e3 --apply`,
	Version: "1.0.0",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&serverHost, "server-host", "localhost", "data server host")
	pf.IntVar(&serverPort, "server-port", daqserver.DefaultPort, "data server port")
	pf.IntVar(&apiLevel, "api-level", 6, "data server API level")
	pf.StringVarP(&device, "device", "d", "", "device id, e.g. dev1234")
}

// connect dials the data server and verifies the release matches.
func connect() (*daqserver.Session, error) {
	sess, err := daqserver.ConnectHostPort(serverHost, serverPort, apiLevel)
	if err != nil {
		return nil, err
	}
	err = sess.VersionCheck()
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// requireDevice errors unless --device was given, then discovers it.
func requireDevice(sess *daqserver.Session, typePattern string, options ...string) (daqserver.DeviceProperties, error) {
	if device == "" {
		return daqserver.DeviceProperties{}, fmt.Errorf("--device is required")
	}
	return sess.RequireDevice(device, typePattern, options...)
}

// spin starts a terminal spinner with the given message.  Stop it with
// spinner.Stop.
func spin(message string) (*yacspin.Spinner, error) {
	spinner, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[59],
		Suffix:            " ",
		Message:           message,
		SuffixAutoColon:   true,
		StopCharacter:     "done",
		StopFailCharacter: "failed",
	})
	if err != nil {
		return nil, err
	}
	err = spinner.Start()
	return spinner, err
}

// outputWriter opens path for writing, or stdout when path is "-" or empty.
func outputWriter(path string) (*os.File, func(), error) {
	if path == "" || path == "-" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}
