package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joselara-terraform/xc2ctl/registry"
)

func newReadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <bus> <device> <register>",
		Short: "discover a device's registers and print one register's value",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, sess, err := openBusAndDevice(args[0], args[1])
			if err != nil {
				return err
			}
			defer b.Close()
			if err := sess.InitialStructureReading(); err != nil {
				return fmt.Errorf("xc2ctl: discovering %s: %w", args[1], err)
			}
			v, err := sess.Regs.ReadByName(args[2])
			if err != nil {
				return err
			}
			fmt.Println(renderValue(v))
			return nil
		},
	}
}

func renderValue(v registry.Value) string {
	if v.IsString {
		return v.Str
	}
	return v.String()
}
