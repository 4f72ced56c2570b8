package cmd

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/benchtop-labs/lockin/awg"
	"github.com/spf13/cobra"
)

var (
	awgFile     string
	awgCore     int
	awgWaveSlot int
	awgGaussian bool
	awgEnable   bool
)

// defaultProgram plays one waveform slot in a loop; the slot contents can be
// replaced afterwards without recompiling.
const defaultProgram = `wave w = zeros(8000);
while (true) {
  playWave(w);
  waitWave();
}`

var awgCmd = &cobra.Command{
	Use:   "awg",
	Short: "Compile a sequencer program and manage waveform memory",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := connect()
		if err != nil {
			return err
		}
		defer sess.Close()
		props, err := requireDevice(sess, ".*LI|.*HF|.*UHF")
		if err != nil {
			return err
		}

		a, err := awg.New(sess)
		if err != nil {
			return err
		}
		steps := []error{
			a.SetDevice(props.DeviceID),
			a.SetIndex(awgCore),
		}
		for _, err := range steps {
			if err != nil {
				return err
			}
		}

		source := defaultProgram
		if awgFile != "" {
			raw, err := os.ReadFile(awgFile)
			if err != nil {
				return err
			}
			source = string(raw)
		}

		spinner, err := spin("compiling")
		if err != nil {
			return err
		}
		err = a.CompileSource(source, 100*time.Millisecond, time.Minute)
		if err != nil {
			spinner.StopFail()
			return err
		}
		spinner.Stop()

		if awgGaussian {
			samples := make([]float64, 8000)
			for i := range samples {
				t := float64(i-4000) / 1000
				samples[i] = math.Exp(-t * t / 2)
			}
			err = a.WriteWaveform(props.DeviceID, awgCore, awgWaveSlot, samples)
			if err != nil {
				return err
			}
			fmt.Printf("replaced waveform slot %d\n", awgWaveSlot)
		}

		if awgEnable {
			err = a.Enable(props.DeviceID, awgCore, true)
			if err != nil {
				return err
			}
			fmt.Println("AWG running")
		}
		return nil
	},
}

func init() {
	f := awgCmd.Flags()
	f.StringVar(&awgFile, "file", "", "sequencer source file, default is an idle loop")
	f.IntVar(&awgCore, "core", 0, "AWG core index")
	f.IntVar(&awgWaveSlot, "slot", 0, "waveform memory slot")
	f.BoolVar(&awgGaussian, "gaussian", false, "replace the waveform slot with a gaussian pulse")
	f.BoolVar(&awgEnable, "enable", false, "start the AWG after upload")
	rootCmd.AddCommand(awgCmd)
}
