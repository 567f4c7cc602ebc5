package main

import (
	"fmt"

	"github.com/joselara-terraform/xc2ctl/bus"
	"github.com/joselara-terraform/xc2ctl/device"
	"github.com/joselara-terraform/xc2ctl/internal/config"
	"github.com/joselara-terraform/xc2ctl/internal/logging"
	"github.com/joselara-terraform/xc2ctl/transport"
)

func findBusConfig(name string) (config.BusConfig, error) {
	for _, b := range topology.Buses {
		if b.Name == name {
			return b, nil
		}
	}
	return config.BusConfig{}, fmt.Errorf("xc2ctl: no bus named %q in %s", name, configPath)
}

func findDeviceConfig(b config.BusConfig, name string) (config.DeviceConfig, error) {
	for _, d := range b.Devices {
		if d.Name == name {
			return d, nil
		}
	}
	return config.DeviceConfig{}, fmt.Errorf("xc2ctl: no device named %q on bus %q", name, b.Name)
}

func openBus(bc config.BusConfig) (*bus.Bus, error) {
	var ep transport.Endpoint
	if bc.Serial != "" {
		baud := bc.Baud
		if baud == 0 {
			baud = 115200
		}
		ep = transport.NewSerial(bc.Serial, baud)
	} else {
		ep = transport.NewTCP(bc.Addr, transport.DefaultConnectTimeout)
	}
	codec := bus.XC2Codec
	if bc.Protocol == config.ProtocolModbus {
		codec = bus.ModbusXC2Codec
	}
	b := bus.New(bc.Name, ep, codec, log, logging.LogrusSink{Entry: log})
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("xc2ctl: connecting bus %q: %w", bc.Name, err)
	}
	return b, nil
}

func openDevice(b *bus.Bus, dc config.DeviceConfig) *device.Session {
	sess := device.New(b, dc.Addr, dc.Name, dc.Family, device.RawStatusDecoder{}, log)
	if dc.MaxTTL != 0 {
		sess.SetMaxTTL(dc.MaxTTL)
	}
	return sess
}

func openBusAndDevice(busName, deviceName string) (*bus.Bus, *device.Session, error) {
	bc, err := findBusConfig(busName)
	if err != nil {
		return nil, nil, err
	}
	dc, err := findDeviceConfig(bc, deviceName)
	if err != nil {
		return nil, nil, err
	}
	b, err := openBus(bc)
	if err != nil {
		return nil, nil, err
	}
	return b, openDevice(b, dc), nil
}

