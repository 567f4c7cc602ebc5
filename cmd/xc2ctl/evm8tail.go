package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joselara-terraform/xc2ctl/evm8"
	"github.com/joselara-terraform/xc2ctl/transport"
)

func findEVM8Config(busName string) (int, error) {
	for _, e := range topology.EVM8 {
		if e.Bus == busName {
			port := e.Port
			if port == 0 {
				port = evm8.DefaultPort
			}
			return port, nil
		}
	}
	return 0, fmt.Errorf("xc2ctl: no evm8 entry for bus %q", busName)
}

func newEVM8TailCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "evm8-tail <bus>",
		Short: "connect to a bus's EVM8 data socket and print records as they arrive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bc, err := findBusConfig(args[0])
			if err != nil {
				return err
			}
			port, err := findEVM8Config(bc.Name)
			if err != nil {
				return err
			}
			host := bc.Addr
			if idx := strings.LastIndex(host, ":"); idx >= 0 {
				host = host[:idx]
			} else if bc.Serial != "" {
				return fmt.Errorf("xc2ctl: evm8-tail needs a TCP bus, %q is serial", bc.Name)
			}
			addr := fmt.Sprintf("%s:%d", host, port)
			ep := transport.NewTCP(addr, transport.DefaultConnectTimeout)

			q := evm8.NewQueue()
			ing := evm8.New(ep, q, nil, log)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			done := make(chan error, 1)
			go func() { done <- ing.Run(ctx) }()

			for {
				select {
				case err := <-done:
					return err
				default:
				}
				if rec, ok := q.Get(); ok {
					fmt.Printf("%+v\n", rec)
					continue
				}
				time.Sleep(10 * time.Millisecond)
			}
		},
	}
}
