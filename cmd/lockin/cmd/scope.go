package cmd

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/benchtop-labs/lockin/module"
	"github.com/benchtop-labs/lockin/nodetree"
	"github.com/benchtop-labs/lockin/scope"
	"github.com/spf13/cobra"
)

var (
	scopeRecords int
	scopeFFT     bool
	scopeAverage int
	scopeTimeout float64
	scopeOutput  string
)

var scopeCmd = &cobra.Command{
	Use:   "scope",
	Short: "Capture scope records and write the last one as CSV",
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

		err = sess.SetInt(nodetree.Path(dev, "scopes", 0, "enable"), 1)
		if err != nil {
			return err
		}

		sc, err := scope.New(sess)
		if err != nil {
			return err
		}
		mode := scope.ModeTime
		if scopeFFT {
			mode = scope.ModeFFT
		}
		steps := []error{
			sc.SetMode(mode),
			sc.SetAveragerWeight(scopeAverage),
			sc.SetHistoryLength(scopeRecords),
		}
		for _, err := range steps {
			if err != nil {
				return err
			}
		}
		path := nodetree.Path(dev, "scopes", 0, "wave")
		err = sc.Subscribe(path)
		if err != nil {
			return err
		}
		err = sess.Sync()
		if err != nil {
			return err
		}

		spinner, err := spin("capturing")
		if err != nil {
			return err
		}
		records, err := sc.Run(context.Background(), scopeRecords, module.CollectConfig{
			Timeout: time.Duration(scopeTimeout * float64(time.Second)),
			OnProgress: func(p float64, n int) {
				spinner.Message(fmt.Sprintf("capturing, %d records", n))
			},
		})
		if err != nil {
			spinner.StopFail()
			return err
		}
		spinner.Stop()

		if warn := scope.Warnings(records); warn != nil {
			fmt.Fprintln(os.Stderr, "warning:", warn)
		}
		recs := records[path]
		if len(recs) == 0 {
			return fmt.Errorf("no records on %s", path)
		}
		last := recs[len(recs)-1]
		fmt.Printf("captured %d records, last: %d samples, dt %g s\n",
			len(recs), last.TotalSamples, last.DT)

		w, closer, err := outputWriter(scopeOutput)
		if err != nil {
			return err
		}
		defer closer()
		cw := csv.NewWriter(w)
		header := []string{"time"}
		for c := range last.Wave {
			header = append(header, fmt.Sprintf("ch%d", c+1))
		}
		err = cw.Write(header)
		if err != nil {
			return err
		}
		row := make([]string, len(last.Wave)+1)
		for i := 0; i < last.TotalSamples; i++ {
			row[0] = strconv.FormatFloat(float64(i)*last.DT, 'G', -1, 64)
			for c := range last.Wave {
				row[c+1] = strconv.FormatFloat(last.Wave[c][i], 'G', -1, 64)
			}
			err = cw.Write(row)
			if err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	},
}

func init() {
	f := scopeCmd.Flags()
	f.IntVar(&scopeRecords, "records", 1, "records to capture")
	f.BoolVar(&scopeFFT, "fft", false, "capture in FFT mode")
	f.IntVar(&scopeAverage, "average", 1, "exponential averaging weight")
	f.Float64Var(&scopeTimeout, "timeout", 30, "collection budget in seconds")
	f.StringVarP(&scopeOutput, "output", "o", "-", "CSV output path, - for stdout")
	rootCmd.AddCommand(scopeCmd)
}
