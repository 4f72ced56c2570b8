package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/benchtop-labs/lockin/module"
	"github.com/benchtop-labs/lockin/nodetree"
	"github.com/benchtop-labs/lockin/sweeper"
	"github.com/spf13/cobra"
)

var (
	sweepStart   float64
	sweepStop    float64
	sweepSamples int
	sweepLoops   int
	sweepLog     bool
	sweepDemod   int
	sweepTimeout float64
	sweepOutput  string
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run a frequency sweep and write the response as CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := connect()
		if err != nil {
			return err
		}
		defer sess.Close()
		props, err := requireDevice(sess, ".*LI|.*IA|.*IS")
		if err != nil {
			return err
		}
		dev := props.DeviceID

		err = sess.Set(nodetree.Settings{
			nodetree.S(nodetree.Path(dev, "demods", sweepDemod, "enable"), 1),
			nodetree.S(nodetree.Path(dev, "demods", sweepDemod, "rate"), 10e3),
		})
		if err != nil {
			return err
		}

		sw, err := sweeper.New(sess)
		if err != nil {
			return err
		}
		xmapping := sweeper.XMappingLinear
		if sweepLog {
			xmapping = sweeper.XMappingLog
		}
		steps := []error{
			sw.SetDevice(dev),
			sw.SetGridNode("oscs/0/freq"),
			sw.SetStart(sweepStart),
			sw.SetStop(sweepStop),
			sw.SetSampleCount(sweepSamples),
			sw.SetXMapping(xmapping),
			sw.SetBandwidthControl(sweeper.BandwidthAuto),
			sw.SetLoopCount(sweepLoops),
			sw.SetAveragingSampleCount(10),
		}
		for _, err := range steps {
			if err != nil {
				return err
			}
		}
		path := nodetree.Path(dev, "demods", sweepDemod, "sample")
		err = sw.Subscribe(path)
		if err != nil {
			return err
		}
		err = sess.Sync()
		if err != nil {
			return err
		}

		spinner, err := spin("sweeping")
		if err != nil {
			return err
		}
		sweeps, err := sw.Run(context.Background(), module.CollectConfig{
			Timeout: time.Duration(sweepTimeout * float64(time.Second)),
			OnProgress: func(p float64, records int) {
				spinner.Message(fmt.Sprintf("sweeping %3.0f%%, %d records", p*100, records))
			},
		})
		if err != nil {
			spinner.StopFail()
			return err
		}
		spinner.Stop()

		err = sweeper.ValidateCount(sweeps, sweepLoops)
		if err != nil {
			return err
		}
		w, closer, err := outputWriter(sweepOutput)
		if err != nil {
			return err
		}
		defer closer()
		for _, rec := range sweeps[path] {
			err = rec.EncodeCSV(w)
			if err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	f := sweepCmd.Flags()
	f.Float64Var(&sweepStart, "start", 1e3, "sweep start in Hz")
	f.Float64Var(&sweepStop, "stop", 1e6, "sweep stop in Hz")
	f.IntVar(&sweepSamples, "samples", 100, "grid points per sweep")
	f.IntVar(&sweepLoops, "loops", 1, "number of sweeps")
	f.BoolVar(&sweepLog, "log", false, "logarithmic grid spacing")
	f.IntVar(&sweepDemod, "demod", 0, "demodulator index")
	f.Float64Var(&sweepTimeout, "timeout", 60, "collection budget in seconds")
	f.StringVarP(&sweepOutput, "output", "o", "-", "CSV output path, - for stdout")
	rootCmd.AddCommand(sweepCmd)
}
