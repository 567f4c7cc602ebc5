package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newWriteCmd() *cobra.Command {
	var arrayIndex int
	cmd := &cobra.Command{
		Use:   "write <bus> <device> <register> <value>",
		Short: "discover a device's registers and write one register's value",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, sess, err := openBusAndDevice(args[0], args[1])
			if err != nil {
				return err
			}
			defer b.Close()
			if err := sess.InitialStructureReading(); err != nil {
				return fmt.Errorf("xc2ctl: discovering %s: %w", args[1], err)
			}
			idx, err := sess.Regs.IndexOf(args[2])
			if err != nil {
				return err
			}
			if err := sess.Regs.WriteRegStr(idx, args[3], arrayIndex); err != nil {
				return err
			}
			fmt.Println("OK")
			return nil
		},
	}
	cmd.Flags().IntVar(&arrayIndex, "index", -1, "array element index, -1 for the whole register")
	return cmd
}
