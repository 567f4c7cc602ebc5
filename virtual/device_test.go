package virtual

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/joselara-terraform/xc2ctl/device"
	"github.com/joselara-terraform/xc2ctl/registry"
	"github.com/joselara-terraform/xc2ctl/xc2"
)

// fakeDevice backs a device.Session with an in-memory register file and
// answers the handful of lifecycle commands virtual.Device fans out to.
type fakeDevice struct {
	regs      []registry.RegisterInfo
	raw       [][]byte
	echoValue byte
	resets    int
	runApps   int
}

func (d *fakeDevice) encode(i int, v registry.Value) []byte {
	reg := d.regs[i]
	if reg.IsString() {
		out := make([]byte, reg.ArraySize)
		copy(out, v.Str)
		return out
	}
	width := reg.ElementWidth()
	out := make([]byte, 0, width*len(v.Elems))
	for _, e := range v.Elems {
		b := make([]byte, width)
		switch width {
		case 2:
			binary.BigEndian.PutUint16(b, uint16(e.Uint))
		case 4:
			binary.BigEndian.PutUint32(b, uint32(e.Uint))
		default:
			b[0] = byte(e.Uint)
		}
		out = append(out, b...)
	}
	return out
}

func newFakeDevice(regs []registry.RegisterInfo) *fakeDevice {
	d := &fakeDevice{regs: regs, raw: make([][]byte, len(regs)), echoValue: 2}
	for i, reg := range regs {
		d.raw[i] = d.encode(i, reg.Default)
	}
	return d
}

func (d *fakeDevice) RequestResponse(pkt xc2.Packet, _ time.Duration) (xc2.Packet, error) {
	ack := xc2.Packet{Type: xc2.Ack, Src: pkt.Dst, Dst: pkt.Src, Cmd: pkt.Cmd}
	switch pkt.Cmd {
	case xc2.CmdEcho:
		ack.Data = []byte{d.echoValue}
		return ack, nil
	case xc2.CmdBLCmd:
		d.runApps++
		return ack, nil
	case xc2.CmdRegGetInfo:
		switch xc2.RegGetInfoSubcommand(pkt.Data[0]) {
		case xc2.RegInfoSize:
			total := 0
			for _, r := range d.regs {
				total += r.ByteSize()
			}
			buf := make([]byte, 4)
			binary.BigEndian.PutUint16(buf[0:2], uint16(len(d.regs)))
			binary.BigEndian.PutUint16(buf[2:4], uint16(total))
			ack.Data = buf
			return ack, nil
		case xc2.RegInfoStructure:
			start := int(binary.BigEndian.Uint16(pkt.Data[1:3]))
			count := int(pkt.Data[3])
			var buf []byte
			for i := start; i < start+count && i < len(d.regs); i++ {
				reg := d.regs[i]
				head := make([]byte, 4)
				binary.BigEndian.PutUint16(head[0:2], uint16(i))
				binary.BigEndian.PutUint16(head[2:4], uint16(reg.Flags))
				buf = append(buf, head...)
				if reg.IsArray() {
					sz := make([]byte, 2)
					binary.BigEndian.PutUint16(sz, uint16(reg.ArraySize))
					buf = append(buf, sz...)
				}
				buf = append(buf, []byte(reg.Name)...)
				buf = append(buf, 0)
			}
			ack.Data = buf
			return ack, nil
		case xc2.RegInfoDefaultValue:
			idx := int(binary.BigEndian.Uint16(pkt.Data[1:3]))
			ack.Data = d.encode(idx, d.regs[idx].Default)
			return ack, nil
		}
	case xc2.CmdRegRead:
		start := int(binary.BigEndian.Uint16(pkt.Data[0:2]))
		if len(pkt.Data) == 5 {
			// idx, elemStart, elemCount: an element range of one register.
			elemStart := int(binary.BigEndian.Uint16(pkt.Data[2:4]))
			elemCount := int(pkt.Data[4])
			width := d.regs[start].ElementWidth()
			ack.Data = append([]byte{}, d.raw[start][elemStart*width:(elemStart+elemCount)*width]...)
			return ack, nil
		}
		count := int(pkt.Data[2])
		var out []byte
		for i := start; i < start+count; i++ {
			out = append(out, d.raw[i]...)
		}
		ack.Data = out
		return ack, nil
	case xc2.CmdRegReadRaw:
		idx := int(binary.BigEndian.Uint16(pkt.Data[0:2]))
		elemStart := int(binary.BigEndian.Uint16(pkt.Data[2:4]))
		elemCount := int(binary.BigEndian.Uint16(pkt.Data[4:6]))
		width := d.regs[idx].ElementWidth()
		if d.regs[idx].IsString() {
			width = 1
		}
		ack.Data = append([]byte{}, d.raw[idx][elemStart*width:(elemStart+elemCount)*width]...)
		return ack, nil
	case xc2.CmdRegWrite:
		idx := int(binary.BigEndian.Uint16(pkt.Data[0:2]))
		if len(pkt.Data)-2 != len(d.raw[idx]) {
			// idx, offset, elems: a write of part of one register.
			offset := int(binary.BigEndian.Uint16(pkt.Data[2:4]))
			width := d.regs[idx].ElementWidth()
			copy(d.raw[idx][offset*width:], pkt.Data[4:])
			return ack, nil
		}
		d.raw[idx] = append([]byte{}, pkt.Data[2:]...)
		return ack, nil
	case xc2.CmdRegWriteRaw:
		idx := int(binary.BigEndian.Uint16(pkt.Data[0:2]))
		offset := int(binary.BigEndian.Uint16(pkt.Data[2:4]))
		width := d.regs[idx].ElementWidth()
		copy(d.raw[idx][offset*width:], pkt.Data[4:])
		return ack, nil
	}
	return ack, nil
}

func (d *fakeDevice) Unicast(pkt xc2.Packet, reqResponse bool, timeout time.Duration, _ bool) (xc2.Packet, error) {
	if pkt.Cmd == xc2.CmdSys && len(pkt.Data) > 0 && xc2.SysSubcommand(pkt.Data[0]) == xc2.SysReset {
		d.resets++
	}
	if !reqResponse {
		return xc2.Packet{}, nil
	}
	return d.RequestResponse(pkt, timeout)
}

func hvl1Regs() []registry.RegisterInfo {
	elems := make([]registry.Elem, 16)
	for i := range elems {
		elems[i] = registry.Elem{Kind: registry.ElemUnsigned, Uint: uint64(200 + i)}
	}
	return []registry.RegisterInfo{
		{Name: "mes_temp", Flags: xc2.RegFlagWidth16 | xc2.RegFlagUnsigned | xc2.RegFlagArray, ArraySize: 16,
			Default: registry.Value{Elems: elems}},
	}
}

func newDiscoveredSession(t *testing.T, name string, regs []registry.RegisterInfo) (*device.Session, *fakeDevice) {
	t.Helper()
	fd := newFakeDevice(regs)
	s := device.New(fd, xc2.Addr(0x10), name, "HVL", nil, testLog())
	require.NoError(t, s.InitialStructureReading())
	return s, fd
}

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}
