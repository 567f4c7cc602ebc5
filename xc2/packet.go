// Package xc2 implements the XC2 and Modbus-XC2 wire protocols: packet
// encoding/decoding, CRC computation, and incremental frame parsing.
package xc2

import "fmt"

// PktType is the high nibble of byte 0 of an XC2 frame.
type PktType byte

const (
	Command  PktType = 0x80
	Ack      PktType = 0xC0
	Nak      PktType = 0xE0
	Event    PktType = 0x40
	Critical PktType = 0x60
)

func (t PktType) String() string {
	switch t {
	case Command:
		return "COMMAND"
	case Ack:
		return "ACK"
	case Nak:
		return "NAK"
	case Event:
		return "EVENT"
	case Critical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("PktType(0x%02x)", byte(t))
	}
}

// Flag is a bit in the 4-bit flags nibble of an XC2 frame.
type Flag byte

const (
	FlagMulticast      Flag = 0x80
	FlagSuppressAnswer Flag = 0x40
	FlagRepetition     Flag = 0x20
	FlagReserved       Flag = 0x10
)

// Address conventions, spec.md §6.
const (
	Broadcast Addr = 0x000
	Master    Addr = 0x001
	Default   Addr = 0xFFF
)

// Addr is a 12-bit XC2 bus address.
type Addr uint16

func (a Addr) String() string {
	return fmt.Sprintf("0x%03x", uint16(a)&0xFFF)
}

// HeaderSize is the fixed part of an XC2 frame before the payload (6 bytes)
// plus the trailing 2-byte CRC.
const (
	HeaderSize = 6
	CRCSize    = 2
	MinSize    = HeaderSize + CRCSize
	MaxData    = 240
)

// Packet is the XC2 value object described in spec.md §3.
type Packet struct {
	Type  PktType
	Dst   Addr
	Src   Addr
	Flags Flag
	Cmd   byte
	Data  []byte
}

// Length is the on-wire "length" byte: 6 + len(Data).
func (p Packet) Length() int {
	return HeaderSize + len(p.Data)
}

func (p Packet) String() string {
	return fmt.Sprintf("%s dst=%s src=%s flags=0x%x cmd=0x%02x data=% x", p.Type, p.Dst, p.Src, p.Flags, p.Cmd, p.Data)
}

// Is reports whether the packet carries the given flag.
func (p Packet) Is(f Flag) bool {
	return p.Flags&f != 0
}
