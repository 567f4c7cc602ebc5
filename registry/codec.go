package registry

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/joselara-terraform/xc2ctl/xc2"
)

// decodeElem reads one element of reg's type from the front of buf,
// big-endian per the original device's "!" struct-format prefix, and
// returns the remaining bytes.
func decodeElem(reg RegisterInfo, buf []byte) (Elem, []byte, error) {
	width := reg.ElementWidth()
	if len(buf) < width {
		return Elem{}, nil, fmt.Errorf("registry: short buffer decoding %s: need %d, have %d", reg.Name, width, len(buf))
	}
	mod := reg.Flags & xc2.RegFlagMaskMod
	switch mod {
	case xc2.RegFlagFloatEnum:
		if width != 4 {
			return Elem{}, nil, fmt.Errorf("registry: float/enum register %s has unsupported width %d", reg.Name, width)
		}
		bits := binary.BigEndian.Uint32(buf)
		return Elem{Kind: ElemFloat, Float: float64(math.Float32frombits(bits))}, buf[4:], nil
	case xc2.RegFlagSigned:
		switch width {
		case 1:
			return Elem{Kind: ElemSigned, Int: int64(int8(buf[0]))}, buf[1:], nil
		case 2:
			return Elem{Kind: ElemSigned, Int: int64(int16(binary.BigEndian.Uint16(buf)))}, buf[2:], nil
		case 4:
			return Elem{Kind: ElemSigned, Int: int64(int32(binary.BigEndian.Uint32(buf)))}, buf[4:], nil
		case 8:
			return Elem{Kind: ElemSigned, Int: int64(binary.BigEndian.Uint64(buf))}, buf[8:], nil
		}
	default: // unsigned, and bit/bool which is formatted like unsigned
		switch width {
		case 1:
			return Elem{Kind: ElemUnsigned, Uint: uint64(buf[0])}, buf[1:], nil
		case 2:
			return Elem{Kind: ElemUnsigned, Uint: uint64(binary.BigEndian.Uint16(buf))}, buf[2:], nil
		case 4:
			return Elem{Kind: ElemUnsigned, Uint: uint64(binary.BigEndian.Uint32(buf))}, buf[4:], nil
		case 8:
			return Elem{Kind: ElemUnsigned, Uint: binary.BigEndian.Uint64(buf)}, buf[8:], nil
		}
	}
	return Elem{}, nil, fmt.Errorf("registry: unsupported width %d for register %s", width, reg.Name)
}

// encodeElem is decodeElem's inverse.
func encodeElem(reg RegisterInfo, e Elem) ([]byte, error) {
	width := reg.ElementWidth()
	mod := reg.Flags & xc2.RegFlagMaskMod
	buf := make([]byte, width)
	switch mod {
	case xc2.RegFlagFloatEnum:
		if width != 4 {
			return nil, fmt.Errorf("registry: float/enum register has unsupported width %d", width)
		}
		binary.BigEndian.PutUint32(buf, math.Float32bits(float32(e.Float)))
		return buf, nil
	case xc2.RegFlagSigned:
		v := e.Int
		switch width {
		case 1:
			buf[0] = byte(int8(v))
		case 2:
			binary.BigEndian.PutUint16(buf, uint16(int16(v)))
		case 4:
			binary.BigEndian.PutUint32(buf, uint32(int32(v)))
		case 8:
			binary.BigEndian.PutUint64(buf, uint64(v))
		default:
			return nil, fmt.Errorf("registry: unsupported signed width %d", width)
		}
		return buf, nil
	default:
		v := e.Uint
		switch width {
		case 1:
			buf[0] = byte(v)
		case 2:
			binary.BigEndian.PutUint16(buf, uint16(v))
		case 4:
			binary.BigEndian.PutUint32(buf, uint32(v))
		case 8:
			binary.BigEndian.PutUint64(buf, v)
		default:
			return nil, fmt.Errorf("registry: unsupported unsigned width %d", width)
		}
		return buf, nil
	}
}

// decodeValue decodes a full register value (scalar, array, or string)
// from the front of buf and returns remaining bytes, spec.md §4.3's
// parse_regs_data / read_reg_default_value logic.
func decodeValue(reg RegisterInfo, buf []byte) (Value, []byte, error) {
	if reg.IsString() {
		n := reg.ArraySize
		if len(buf) < n {
			return Value{}, nil, fmt.Errorf("registry: short buffer decoding string %s", reg.Name)
		}
		raw := buf[:n]
		s := decodeASCIIBackslashReplace(raw)
		s = strings.Trim(s, "\x00")
		return Value{IsString: true, Str: s}, buf[n:], nil
	}
	elems := make([]Elem, 0, reg.ArraySize)
	rest := buf
	for i := 0; i < reg.ArraySize; i++ {
		var e Elem
		var err error
		e, rest, err = decodeElem(reg, rest)
		if err != nil {
			return Value{}, nil, err
		}
		elems = append(elems, e)
	}
	return Value{Elems: elems}, rest, nil
}

// encodeValue is decodeValue's inverse for a full-register write.
func encodeValue(reg RegisterInfo, v Value) ([]byte, error) {
	if reg.IsString() {
		out := make([]byte, reg.ArraySize)
		copy(out, v.Str)
		return out, nil
	}
	var out []byte
	for _, e := range v.Elems {
		b, err := encodeElem(reg, e)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

// decodeASCIIBackslashReplace mirrors Python's
// bytes.decode("ascii", "backslashreplace"): bytes >= 0x80 are rendered
// as \xHH rather than causing a decode error.
func decodeASCIIBackslashReplace(raw []byte) string {
	var sb strings.Builder
	for _, b := range raw {
		if b < 0x80 {
			sb.WriteByte(b)
		} else {
			fmt.Fprintf(&sb, "\\x%02x", b)
		}
	}
	return sb.String()
}
