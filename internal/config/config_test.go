package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
buses:
  - name: main
    serial: /dev/ttyUSB0
    baud: 115200
    protocol: xc2
    devices:
      - name: HVL1
        addr: 0x10
        family: HVLOAD
      - name: CVM1
        addr: 0x11
        family: CVM24P
        max_ttl: 5
  - name: tcp-bus
    addr: 10.0.0.5:4660
    protocol: modbus
    devices: []
evm8:
  - bus: main
    port: 17002
`

func writeSample(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "topology.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))
	return path
}

func TestLoadTopology(t *testing.T) {
	path := writeSample(t)
	topo, err := Load(path)
	require.NoError(t, err)
	require.Len(t, topo.Buses, 2)

	main := topo.Buses[0]
	require.Equal(t, "main", main.Name)
	require.Equal(t, "/dev/ttyUSB0", main.Serial)
	require.Equal(t, ProtocolXC2, main.Protocol)
	require.Len(t, main.Devices, 2)
	require.Equal(t, "HVL1", main.Devices[0].Name)
	require.EqualValues(t, 0x10, main.Devices[0].Addr)
	require.Equal(t, 5, main.Devices[1].MaxTTL)

	require.Len(t, topo.EVM8, 1)
	require.Equal(t, "main", topo.EVM8[0].Bus)
	require.Equal(t, 17002, topo.EVM8[0].Port)
}

func TestValidateRejectsDualTransport(t *testing.T) {
	topo := Topology{Buses: []BusConfig{{Name: "b", Serial: "/dev/ttyUSB0", Addr: "x", Protocol: ProtocolXC2}}}
	require.Error(t, topo.Validate())
}

func TestValidateRejectsUnknownEVM8Bus(t *testing.T) {
	topo := Topology{
		Buses: []BusConfig{{Name: "b", Serial: "/dev/ttyUSB0", Protocol: ProtocolXC2}},
		EVM8:  []EVM8Config{{Bus: "nope"}},
	}
	require.Error(t, topo.Validate())
}

func TestValidateRejectsDuplicateDeviceName(t *testing.T) {
	topo := Topology{Buses: []BusConfig{{
		Name: "b", Serial: "/dev/ttyUSB0", Protocol: ProtocolXC2,
		Devices: []DeviceConfig{{Name: "HVL1"}, {Name: "HVL1"}},
	}}}
	require.Error(t, topo.Validate())
}
