package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/benchtop-labs/lockin/daqmod"
	"github.com/benchtop-labs/lockin/module"
	"github.com/benchtop-labs/lockin/nodetree"
	"github.com/benchtop-labs/lockin/sample"
	"github.com/spf13/cobra"
)

var (
	gridCols     int
	gridRows     int
	gridCount    int
	gridDuration float64
	gridLevel    float64
	gridFind     bool
	gridDemod    int
	gridTimeout  float64
	gridOutput   string
)

var gridCmd = &cobra.Command{
	Use:   "grid",
	Short: "Acquire triggered demodulator grids and write them as FITS",
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
			nodetree.S(nodetree.Path(dev, "demods", gridDemod, "enable"), 1),
			nodetree.S(nodetree.Path(dev, "demods", gridDemod, "rate"), 10e3),
		})
		if err != nil {
			return err
		}

		d, err := daqmod.New(sess)
		if err != nil {
			return err
		}
		path := nodetree.Path(dev, "demods", gridDemod, "sample")
		steps := []error{
			d.SetDevice(dev),
			d.SetType(daqmod.TriggerEdge),
			d.SetTriggerNode(daqmod.TriggerPath(path, "r")),
			d.SetEdge(daqmod.EdgeRising),
			d.SetDuration(gridDuration),
			d.SetGridMode(daqmod.GridLinear),
			d.SetGridCols(gridCols),
			d.SetGridRows(gridRows),
			d.SetCount(gridCount),
		}
		for _, err := range steps {
			if err != nil {
				return err
			}
		}

		if gridFind {
			level, hyst, err := d.FindLevel(100*time.Millisecond, 10*time.Second)
			if err != nil {
				return err
			}
			fmt.Printf("trigger level %g, hysteresis %g\n", level, hyst)
		} else {
			err = d.SetLevel(gridLevel)
			if err != nil {
				return err
			}
		}

		err = d.Subscribe(path)
		if err != nil {
			return err
		}
		err = sess.Sync()
		if err != nil {
			return err
		}

		spinner, err := spin("acquiring grids")
		if err != nil {
			return err
		}
		bursts, err := d.Run(context.Background(), module.CollectConfig{
			Timeout: time.Duration(gridTimeout * float64(time.Second)),
			OnProgress: func(p float64, records int) {
				spinner.Message(fmt.Sprintf("acquiring %3.0f%%, %d grids", p*100, records))
			},
		})
		if err != nil {
			spinner.StopFail()
			return err
		}
		spinner.Stop()

		recs := daqmod.CompleteOnly(bursts[path])
		if warn := sample.CheckBurstFlags(recs); warn != nil {
			fmt.Fprintln(os.Stderr, "warning:", warn)
		}
		for i, b := range recs {
			name := fmt.Sprintf("%s_%03d.fits", gridOutput, i)
			f, err := os.Create(name)
			if err != nil {
				return err
			}
			err = b.EncodeFITS(f)
			f.Close()
			if err != nil {
				return err
			}
			fmt.Println("wrote", name)
		}
		return nil
	},
}

func init() {
	f := gridCmd.Flags()
	f.IntVar(&gridCols, "cols", 100, "grid columns")
	f.IntVar(&gridRows, "rows", 10, "grid rows")
	f.IntVar(&gridCount, "count", 1, "number of grids to acquire")
	f.Float64Var(&gridDuration, "duration", 0.01, "capture window in seconds")
	f.Float64Var(&gridLevel, "level", 0.05, "trigger level")
	f.BoolVar(&gridFind, "find-level", false, "derive the trigger level from the live signal")
	f.IntVar(&gridDemod, "demod", 0, "demodulator index")
	f.Float64Var(&gridTimeout, "timeout", 60, "collection budget in seconds")
	f.StringVarP(&gridOutput, "output", "o", "grid", "FITS output prefix")
	rootCmd.AddCommand(gridCmd)
}
