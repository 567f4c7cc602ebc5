// Package config decodes the YAML topology file describing which bus
// endpoints to open and which devices live on them, the ambient
// configuration layer spec.md's COMPONENT DESIGN assumes an operator
// supplies externally.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/joselara-terraform/xc2ctl/xc2"
)

// Protocol selects the wire codec a bus runs, spec.md §4.1.
type Protocol string

const (
	ProtocolXC2    Protocol = "xc2"
	ProtocolModbus Protocol = "modbus"
)

// BusConfig describes one transport.Endpoint to open: either a serial
// device (Serial non-empty) or a TCP host:port (Addr non-empty).
type BusConfig struct {
	Name     string   `yaml:"name"`
	Serial   string   `yaml:"serial,omitempty"`
	Baud     uint32   `yaml:"baud,omitempty"`
	Addr     string   `yaml:"addr,omitempty"`
	Protocol Protocol `yaml:"protocol"`
	Devices  []DeviceConfig `yaml:"devices"`
}

// DeviceConfig describes one device.Session to construct on a bus.
type DeviceConfig struct {
	Name    string  `yaml:"name"`
	Addr    xc2.Addr `yaml:"addr"`
	Family  string  `yaml:"family,omitempty"`
	MaxTTL  int     `yaml:"max_ttl,omitempty"`
}

// EVM8Config describes the secondary streaming socket, spec.md §4.6.
type EVM8Config struct {
	Bus  string `yaml:"bus"`
	Port int    `yaml:"port,omitempty"`
}

// Topology is the root document: a set of buses, each with its devices,
// plus an optional EVM8 stream socket per bus.
type Topology struct {
	Buses []BusConfig  `yaml:"buses"`
	EVM8  []EVM8Config `yaml:"evm8,omitempty"`
}

// DefaultExchangeTimeout mirrors device.DefaultTimeout. The topology has
// no per-device or per-bus timeout field, and nothing in this module
// reads this constant.
const DefaultExchangeTimeout = 400 * time.Millisecond

// Load reads and decodes a topology file.
func Load(path string) (Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Topology{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var t Topology
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Topology{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := t.Validate(); err != nil {
		return Topology{}, err
	}
	return t, nil
}

// Validate checks the topology is internally consistent: every bus has
// exactly one transport configured, every EVM8 entry references a known
// bus, and device names are unique within a bus.
func (t Topology) Validate() error {
	busNames := make(map[string]bool, len(t.Buses))
	for _, b := range t.Buses {
		if b.Name == "" {
			return fmt.Errorf("config: bus with empty name")
		}
		if busNames[b.Name] {
			return fmt.Errorf("config: duplicate bus name %q", b.Name)
		}
		busNames[b.Name] = true

		if (b.Serial == "") == (b.Addr == "") {
			return fmt.Errorf("config: bus %q must set exactly one of serial/addr", b.Name)
		}
		if b.Protocol != ProtocolXC2 && b.Protocol != ProtocolModbus {
			return fmt.Errorf("config: bus %q: unknown protocol %q", b.Name, b.Protocol)
		}
		seen := make(map[string]bool, len(b.Devices))
		for _, d := range b.Devices {
			if seen[d.Name] {
				return fmt.Errorf("config: bus %q: duplicate device name %q", b.Name, d.Name)
			}
			seen[d.Name] = true
		}
	}
	for _, e := range t.EVM8 {
		if !busNames[e.Bus] {
			return fmt.Errorf("config: evm8 entry references unknown bus %q", e.Bus)
		}
	}
	return nil
}
