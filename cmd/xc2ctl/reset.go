package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newResetCmd() *cobra.Command {
	var bootloader bool
	cmd := &cobra.Command{
		Use:   "reset <bus> <device>",
		Short: "reset a device, optionally stopping it in the bootloader",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, sess, err := openBusAndDevice(args[0], args[1])
			if err != nil {
				return err
			}
			defer b.Close()
			if bootloader {
				if err := sess.ResetAndStayInBootloader(); err != nil {
					return err
				}
			} else if err := sess.Reset(); err != nil {
				return err
			}
			fmt.Println("reset sent")
			return nil
		},
	}
	cmd.Flags().BoolVar(&bootloader, "bootloader", false, "stay in the bootloader instead of running the application")
	return cmd
}
