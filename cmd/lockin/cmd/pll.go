package cmd

import (
	"fmt"
	"time"

	"github.com/benchtop-labs/lockin/pidadvisor"
	"github.com/spf13/cobra"
)

var (
	pllBandwidth float64
	pllIndex     int
	pllApply     bool
)

var pllCmd = &cobra.Command{
	Use:   "pll",
	Short: "Model the PLL loop and propose PID gains for a target bandwidth",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := connect()
		if err != nil {
			return err
		}
		defer sess.Close()
		props, err := requireDevice(sess, ".*LI|.*IA|.*IS", "PID")
		if err != nil {
			return err
		}

		adv, err := pidadvisor.New(sess)
		if err != nil {
			return err
		}
		steps := []error{
			adv.SetDevice(props.DeviceID),
			adv.SetIndex(pllIndex),
			adv.SetTargetBandwidth(pllBandwidth),
			adv.SetTuningMode(pidadvisor.TunePID),
			adv.SetDUTSource(pidadvisor.DUTInternalPLL),
		}
		for _, err := range steps {
			if err != nil {
				return err
			}
		}

		spinner, err := spin("modeling the loop")
		if err != nil {
			return err
		}
		err = adv.Calculate(250*time.Millisecond, 2*time.Minute)
		if err != nil {
			spinner.StopFail()
			return err
		}
		spinner.Stop()

		p, i, d, err := adv.Gains()
		if err != nil {
			return err
		}
		fmt.Printf("proposed gains for %.0f Hz bandwidth:\n  P = %g\n  I = %g\n  D = %g\n",
			pllBandwidth, p, i, d)

		if pllApply {
			err = adv.TransferToDevice()
			if err != nil {
				return err
			}
			fmt.Println("gains written to the device")
		}
		return nil
	},
}

func init() {
	f := pllCmd.Flags()
	f.Float64Var(&pllBandwidth, "bandwidth", 10e3, "target closed-loop bandwidth in Hz")
	f.IntVar(&pllIndex, "index", 0, "PID controller index")
	f.BoolVar(&pllApply, "apply", false, "write the proposed gains to the device")
	rootCmd.AddCommand(pllCmd)
}
