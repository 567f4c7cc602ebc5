package device

import (
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/joselara-terraform/xc2ctl/xc2"
)

// fakeBus is a BusClient whose RequestResponse can be scripted to fail
// a fixed number of times before succeeding, for TTL tests.
type fakeBus struct {
	failNext  int
	lastUnicast xc2.Packet
}

func (f *fakeBus) RequestResponse(pkt xc2.Packet, _ time.Duration) (xc2.Packet, error) {
	if f.failNext > 0 {
		f.failNext--
		return xc2.Packet{}, errors.New("fake: no reply")
	}
	switch pkt.Cmd {
	case xc2.CmdEcho:
		return xc2.Packet{Type: xc2.Ack, Data: []byte{2}}, nil
	case xc2.CmdGetFeature:
		return xc2.Packet{Type: xc2.Ack, Data: []byte("prod\x00vend\x00v1\x00\x00")}, nil
	case xc2.CmdSys:
		if len(pkt.Data) > 0 && xc2.SysSubcommand(pkt.Data[0]) == xc2.SysGetSerial {
			return xc2.Packet{Type: xc2.Ack, Data: []byte("CVM24\x01\x02\x03")}, nil
		}
		return xc2.Packet{Type: xc2.Ack}, nil
	}
	return xc2.Packet{Type: xc2.Ack}, nil
}

func (f *fakeBus) Unicast(pkt xc2.Packet, reqResponse bool, timeout time.Duration, _ bool) (xc2.Packet, error) {
	f.lastUnicast = pkt
	if !reqResponse {
		return xc2.Packet{}, nil
	}
	return f.RequestResponse(pkt, timeout)
}

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func TestTTLMonotonicity(t *testing.T) {
	bus := &fakeBus{}
	s := New(bus, xc2.Addr(5), "dut", "generic", nil, testLog())

	_, err := s.GetEcho()
	require.NoError(t, err)
	require.Equal(t, DefaultMaxTTL, s.TTL())
	require.Equal(t, Available, s.Status())

	bus.failNext = 1
	_, err = s.GetEcho()
	require.Error(t, err)
	require.Equal(t, DefaultMaxTTL-1, s.TTL())
	require.Equal(t, Timeout, s.Status())

	bus.failNext = 1
	_, err = s.GetEcho()
	require.Error(t, err)
	require.Equal(t, DefaultMaxTTL-2, s.TTL())
	require.Equal(t, Disconnected, s.Status())

	_, err = s.GetEcho()
	require.NoError(t, err)
	require.Equal(t, DefaultMaxTTL, s.TTL())
	require.Equal(t, Available, s.Status())
}

func TestTTLStickyDuringReset(t *testing.T) {
	bus := &fakeBus{}
	s := New(bus, xc2.Addr(5), "dut", "generic", nil, testLog())
	require.NoError(t, s.Reset())
	require.Equal(t, Resetting, s.Status())

	bus.failNext = 1
	_, err := s.GetEcho()
	require.Error(t, err)
	require.Equal(t, Resetting, s.Status(), "Resetting is sticky across TTL decrements")
	require.Equal(t, DefaultMaxTTL, s.TTL(), "sticky states do not decrement the counter")
}

func TestGetEchoSetsInBootloader(t *testing.T) {
	bus := &fakeBus{}
	s := New(bus, xc2.Addr(5), "dut", "generic", nil, testLog())
	v, err := s.GetEcho()
	require.NoError(t, err)
	require.Equal(t, 2, v)
	require.False(t, s.inBootloader)
}

func TestWriteAddressRejectsOutOfRange(t *testing.T) {
	bus := &fakeBus{}
	s := New(bus, xc2.Addr(5), "dut", "generic", nil, testLog())
	require.ErrorIs(t, s.WriteAddress(0), ErrBadAddress)
	require.ErrorIs(t, s.WriteAddress(4095), ErrBadAddress)
}

func TestWriteAddressUpdatesLocalAddr(t *testing.T) {
	bus := &fakeBus{}
	s := New(bus, xc2.Addr(5), "dut", "generic", nil, testLog())
	require.NoError(t, s.WriteAddress(0x123))
	require.Equal(t, xc2.Addr(0x123), s.Addr)
}

func TestWriteBaudRateRejectsOutOfRange(t *testing.T) {
	bus := &fakeBus{}
	s := New(bus, xc2.Addr(5), "dut", "generic", nil, testLog())
	require.ErrorIs(t, s.WriteBaudRate(0), ErrBadBaudRate)
	require.ErrorIs(t, s.WriteBaudRate(3_000_000), ErrBadBaudRate)
	require.NoError(t, s.WriteBaudRate(115200))
}

func TestReadFeatureSplitsFields(t *testing.T) {
	bus := &fakeBus{}
	s := New(bus, xc2.Addr(5), "dut", "generic", nil, testLog())
	info, err := s.ReadFeature()
	require.NoError(t, err)
	require.Equal(t, "prod", info.Product)
	require.Equal(t, "vend", info.Vendor)
	require.Equal(t, "v1", info.Version)
}

func TestReadSerialNumber(t *testing.T) {
	bus := &fakeBus{}
	s := New(bus, xc2.Addr(5), "dut", "generic", nil, testLog())
	devType, serialHex, err := s.ReadSerialNumber()
	require.NoError(t, err)
	require.Equal(t, "CVM24", devType)
	require.Equal(t, "010203", serialHex)
}

func TestResetSendsWithoutWaitingForReply(t *testing.T) {
	bus := &fakeBus{}
	s := New(bus, xc2.Addr(5), "dut", "generic", nil, testLog())
	s.Regs.Known = true
	require.NoError(t, s.Reset())
	require.Equal(t, xc2.CmdSys, bus.lastUnicast.Cmd)
	require.False(t, s.KnownRegsStructure())
}
