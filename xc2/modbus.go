package xc2

// ModbusFunction is the constant function code XC2 uses inside the Modbus
// RTU envelope (spec.md §3, §6).
const ModbusFunction = 0x42

// modbusOverhead is slave_id(1) + function(1) + trailing modbus crc(2).
const modbusOverhead = 4

// ModbusMinSize is the minimum total length of a Modbus-XC2 frame:
// XC2-min (8) + the 4 wrapper bytes = 12.
const ModbusMinSize = MinSize + modbusOverhead

// EncodeModbus wraps an XC2-encoded frame in the Modbus envelope described
// in spec.md §3: slave_id ‖ 0x42 ‖ <xc2 frame incl. its own CRC> ‖ modbus_crc16_le.
func EncodeModbus(p Packet) []byte {
	inner := Encode(p)
	buf := make([]byte, 2+len(inner)+2)
	buf[0] = byte(p.Dst)
	buf[1] = ModbusFunction
	copy(buf[2:], inner)
	crc := CRC16Modbus(buf[:2+len(inner)])
	buf[len(buf)-2] = byte(crc)
	buf[len(buf)-1] = byte(crc >> 8)
	return buf
}

// ParseModbus decodes one Modbus-XC2 frame from the front of buf, per
// spec.md §4.1: it peeks the XC2-internal length byte at offset 6 to decide
// completeness, then validates the outer Modbus CRC before handing the
// inner bytes to Parse.
func ParseModbus(buf []byte) (Packet, []byte, error) {
	if len(buf) < ModbusMinSize {
		return Packet{}, nil, ErrIncompletePacket
	}
	innerLen := int(buf[6]) // slave_id(1) + function(1) + xc2 header up to length byte
	total := 2 + innerLen + CRCSize + 2
	if len(buf) < total {
		return Packet{}, nil, ErrIncompletePacket
	}
	want := uint16(buf[total-2]) | uint16(buf[total-1])<<8
	got := CRC16Modbus(buf[:total-2])
	if want != got {
		return Packet{}, nil, ErrBadCRC
	}
	p, trailing, err := Parse(buf[2 : total-2])
	if err != nil {
		return Packet{}, nil, err
	}
	if len(trailing) != 0 {
		// The inner XC2 frame must exactly fill the space the outer
		// envelope declared.
		return Packet{}, nil, ErrBadCRC
	}
	return p, buf[total:], nil
}
