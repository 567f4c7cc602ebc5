package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "list configured buses and devices, probing each device's echo",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, bc := range topology.Buses {
				fmt.Printf("bus %s (%s)\n", bc.Name, bc.Protocol)
				b, err := openBus(bc)
				if err != nil {
					fmt.Printf("  connect failed: %v\n", err)
					continue
				}
				for _, dc := range bc.Devices {
					sess := openDevice(b, dc)
					echo, err := sess.GetEcho()
					if err != nil {
						fmt.Printf("  %-16s addr=0x%03x  unreachable: %v\n", dc.Name, dc.Addr, err)
						continue
					}
					fmt.Printf("  %-16s addr=0x%03x  echo=%d  status=%s\n", dc.Name, dc.Addr, echo, sess.Status())
				}
				b.Close()
			}
			return nil
		},
	}
}
