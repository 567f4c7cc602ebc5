// Command xc2ctl is a CLI front end for the XC2 host communication
// stack: connect to a configured bus, discover a device's registers,
// read/write them, reset a device, or tail its EVM8 sample stream.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/joselara-terraform/xc2ctl/internal/config"
	"github.com/joselara-terraform/xc2ctl/internal/logging"
)

var (
	configPath string
	verbose    bool
	log        *logrus.Entry
	topology   config.Topology
)

func main() {
	root := &cobra.Command{
		Use:   "xc2ctl",
		Short: "xc2ctl drives XC2/Modbus-XC2/XCT devices over a configured bus",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := logrus.InfoLevel
			if verbose {
				level = logrus.DebugLevel
			}
			log = logging.New(level)
			if configPath == "" {
				return nil
			}
			t, err := config.Load(configPath)
			if err != nil {
				return err
			}
			topology = t
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "topology YAML file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(newScanCmd())
	root.AddCommand(newReadCmd())
	root.AddCommand(newWriteCmd())
	root.AddCommand(newResetCmd())
	root.AddCommand(newEVM8TailCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
