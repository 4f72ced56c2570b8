package cmd

import (
	"fmt"
	"time"

	"github.com/benchtop-labs/lockin/mdsync"
	"github.com/spf13/cobra"
)

var (
	mdsDevices []string
	mdsGroup   int
	mdsTimeout float64
)

var mdsCmd = &cobra.Command{
	Use:   "mds",
	Short: "Synchronize the timestamps of several instruments",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(mdsDevices) < 2 {
			return fmt.Errorf("--devices needs at least two instruments")
		}
		sess, err := connect()
		if err != nil {
			return err
		}
		defer sess.Close()

		// every instrument must be discoverable before the sync starts
		for _, id := range mdsDevices {
			_, err = sess.DeviceProperties(id)
			if err != nil {
				return err
			}
		}

		md, err := mdsync.New(sess)
		if err != nil {
			return err
		}
		err = md.SetDevices(mdsDevices)
		if err != nil {
			return err
		}
		err = md.SetGroup(mdsGroup)
		if err != nil {
			return err
		}

		spinner, err := spin("synchronizing")
		if err != nil {
			return err
		}
		err = md.Run(250*time.Millisecond, time.Duration(mdsTimeout*float64(time.Second)))
		if err != nil {
			spinner.StopFail()
			return err
		}
		spinner.Stop()

		msg, err := md.Message()
		if err != nil {
			return err
		}
		fmt.Println(msg)
		return nil
	},
}

func init() {
	f := mdsCmd.Flags()
	f.StringSliceVar(&mdsDevices, "devices", nil, "device ids in chain order")
	f.IntVar(&mdsGroup, "group", 0, "synchronization group")
	f.Float64Var(&mdsTimeout, "timeout", 30, "synchronization budget in seconds")
	rootCmd.AddCommand(mdsCmd)
}
