package xc2

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeSmallestEcho(t *testing.T) {
	p := Packet{Type: Command, Dst: 0x123, Src: Master, Cmd: CmdEcho}
	got := Encode(p)
	crc := CRC16CCITT([]byte{0x81, 0x23, 0x00, 0x01, 0x06, 0x01})
	want := []byte{0x81, 0x23, 0x00, 0x01, 0x06, 0x01, byte(crc >> 8), byte(crc)}
	require.Equal(t, want, got)
}

func TestRoundTrip(t *testing.T) {
	cases := []Packet{
		{Type: Command, Dst: 0x123, Src: Master, Cmd: CmdEcho},
		{Type: Ack, Dst: Master, Src: 0x002, Flags: FlagRepetition, Cmd: 0x11, Data: []byte{1, 2, 3, 4}},
		{Type: Event, Dst: Broadcast, Src: 0xFFE, Cmd: 0x55, Data: make([]byte, MaxData)},
	}
	for _, p := range cases {
		enc := Encode(p)
		got, trailing, err := Parse(enc)
		require.NoError(t, err)
		require.Empty(t, trailing)
		require.Equal(t, p.Type, got.Type)
		require.Equal(t, p.Dst, got.Dst)
		require.Equal(t, p.Src, got.Src)
		require.Equal(t, p.Flags, got.Flags)
		require.Equal(t, p.Cmd, got.Cmd)
		require.Equal(t, p.Data, got.Data)
	}
}

func TestParsePrefixTolerance(t *testing.T) {
	for n := 0; n < MinSize; n++ {
		_, _, err := Parse(make([]byte, n))
		require.ErrorIs(t, err, ErrIncompletePacket)
	}
}

func TestParseTrailingGarbage(t *testing.T) {
	p := Packet{Type: Command, Dst: 0x10, Src: Master, Cmd: 0x02, Data: []byte{9, 9}}
	enc := Encode(p)
	extra := []byte{0xde, 0xad, 0xbe, 0xef}
	got, trailing, err := Parse(append(enc, extra...))
	require.NoError(t, err)
	require.Equal(t, extra, trailing)
	require.Equal(t, p.Cmd, got.Cmd)
}

func TestParseBadCRC(t *testing.T) {
	p := Packet{Type: Command, Dst: 0x10, Src: Master, Cmd: 0x02, Data: []byte{1, 2, 3}}
	enc := Encode(p)
	for i := range enc {
		if i == int(enc[4]) || i == int(enc[4])+1 {
			continue // the CRC bytes themselves
		}
		if i == 4 {
			// Flipping the length byte changes framing, not just
			// content: a larger declared length can legitimately
			// read back as IncompletePacket instead of BadCrc.
			continue
		}
		mutated := append([]byte(nil), enc...)
		mutated[i] ^= 0x01
		_, _, err := Parse(mutated)
		require.ErrorIs(t, err, ErrBadCRC, "byte %d", i)
	}
}

func TestParseNeedsMoreForDeclaredLength(t *testing.T) {
	p := Packet{Type: Command, Dst: 0x10, Src: Master, Cmd: 0x02, Data: []byte{1, 2, 3, 4, 5, 6, 7, 8}}
	enc := Encode(p)
	_, _, err := Parse(enc[:len(enc)-1])
	require.ErrorIs(t, err, ErrIncompletePacket)
}

func TestModbusRoundTrip(t *testing.T) {
	p := Packet{Type: Command, Dst: 0x0AB, Src: Master, Cmd: CmdEcho, Data: []byte{7, 7}}
	enc := EncodeModbus(p)
	require.GreaterOrEqual(t, len(enc), ModbusMinSize)
	got, trailing, err := ParseModbus(enc)
	require.NoError(t, err)
	require.Empty(t, trailing)
	require.Equal(t, p.Dst, got.Dst)
	require.Equal(t, p.Cmd, got.Cmd)
	require.Equal(t, p.Data, got.Data)
}

func TestModbusBadOuterCRC(t *testing.T) {
	p := Packet{Type: Command, Dst: 0x0AB, Src: Master, Cmd: CmdEcho}
	enc := EncodeModbus(p)
	enc[len(enc)-1] ^= 0xFF
	_, _, err := ParseModbus(enc)
	require.ErrorIs(t, err, ErrBadCRC)
}

func TestDeviceIDRoundTrip(t *testing.T) {
	id := DeviceID(ProtoXC2, "COM3", 0x02)
	require.Equal(t, "xc2://COM3/0x002", id)
	proto, bus, addr, err := ParseDeviceID(id)
	require.NoError(t, err)
	require.Equal(t, ProtoXC2, proto)
	require.Equal(t, "COM3", bus)
	require.Equal(t, Addr(0x02), addr)

	proto, _, addr, err = ParseDeviceID("mod://eth0/5")
	require.NoError(t, err)
	require.Equal(t, ProtoMod, proto)
	require.Equal(t, Addr(5), addr)
}
