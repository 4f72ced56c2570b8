package cmd

import (
	"fmt"
	"log"
	"math"
	"time"

	"github.com/benchtop-labs/lockin/daqserver"
	"github.com/benchtop-labs/lockin/nodetree"
	"github.com/spf13/cobra"
)

var (
	pollSeconds   float64
	pollRate      float64
	pollDemod     int
	pollOsc       int
	pollFreq      float64
	pollAmplitude float64
	pollOutput    string
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Configure a demodulator and record its sample stream",
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
		err = sess.DisableEverything(props.DeviceID)
		if err != nil {
			return err
		}

		dev := props.DeviceID
		mixer := daqserver.DefaultOutputMixerChannel(props)
		batch := nodetree.Settings{
			nodetree.S(nodetree.Path(dev, "sigins", 0, "ac"), 0),
			nodetree.S(nodetree.Path(dev, "sigins", 0, "range"), 2*pollAmplitude),
			nodetree.S(nodetree.Path(dev, "oscs", pollOsc, "freq"), pollFreq),
			nodetree.S(nodetree.Path(dev, "demods", pollDemod, "enable"), 1),
			nodetree.S(nodetree.Path(dev, "demods", pollDemod, "rate"), pollRate),
			nodetree.S(nodetree.Path(dev, "demods", pollDemod, "adcselect"), 0),
			nodetree.S(nodetree.Path(dev, "demods", pollDemod, "order"), 4),
			nodetree.S(nodetree.Path(dev, "demods", pollDemod, "timeconstant"), 0.01),
			nodetree.S(nodetree.Path(dev, "demods", pollDemod, "oscselect"), pollOsc),
			nodetree.S(nodetree.Path(dev, "sigouts", 0, "on"), 1),
			nodetree.S(nodetree.Path(dev, "sigouts", 0, "range"), 1),
			nodetree.S(nodetree.Path(dev, "sigouts", 0, "enables", mixer), 1),
			nodetree.S(nodetree.Path(dev, "sigouts", 0, "amplitudes", mixer), pollAmplitude),
		}
		err = sess.Set(batch)
		if err != nil {
			return err
		}

		clockbase, err := sess.GetDouble(nodetree.Path(dev, "clockbase"))
		if err != nil {
			return err
		}

		path := nodetree.Path(dev, "demods", pollDemod, "sample")
		err = sess.Subscribe(path)
		if err != nil {
			return err
		}
		// the barrier guarantees the settings above are live before data
		// accumulates
		err = sess.Sync()
		if err != nil {
			return err
		}

		spinner, err := spin(fmt.Sprintf("polling %s for %.1fs", path, pollSeconds))
		if err != nil {
			return err
		}
		data, err := sess.Poll(time.Duration(pollSeconds * float64(time.Second)))
		if err != nil {
			spinner.StopFail()
			return err
		}
		spinner.Stop()

		block, found := data[path]
		if !found || block.Len() == 0 {
			return fmt.Errorf("no data accumulated on %s", path)
		}
		got := block.Duration(clockbase)
		if math.Abs(got-pollSeconds) > 0.1*pollSeconds {
			log.Printf("warning: recorded %.3fs of data for a %.1fs poll", got, pollSeconds)
		}

		w, closer, err := outputWriter(pollOutput)
		if err != nil {
			return err
		}
		defer closer()
		return block.EncodeCSV(w, clockbase)
	},
}

func init() {
	f := pollCmd.Flags()
	f.Float64Var(&pollSeconds, "seconds", 5, "poll duration in seconds")
	f.Float64Var(&pollRate, "rate", 1e3, "demodulator rate in Sa/s")
	f.IntVar(&pollDemod, "demod", 0, "demodulator index")
	f.IntVar(&pollOsc, "osc", 0, "oscillator index")
	f.Float64Var(&pollFreq, "freq", 400e3, "oscillator frequency in Hz")
	f.Float64Var(&pollAmplitude, "amplitude", 0.1, "output amplitude in V")
	f.StringVarP(&pollOutput, "output", "o", "-", "CSV output path, - for stdout")
	rootCmd.AddCommand(pollCmd)
}
