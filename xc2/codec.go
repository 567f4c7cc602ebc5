package xc2

// Encode serializes a Packet into its wire form, per spec.md §3: big-endian
// header, payload, then a big-endian CRC-16/CCITT over everything before it.
func Encode(p Packet) []byte {
	n := p.Length()
	buf := make([]byte, n+CRCSize)
	buf[0] = byte(p.Type) | byte(p.Dst>>8)
	buf[1] = byte(p.Dst)
	buf[2] = byte(p.Flags) | byte(p.Src>>8)
	buf[3] = byte(p.Src)
	buf[4] = byte(n)
	buf[5] = p.Cmd
	copy(buf[HeaderSize:], p.Data)
	crc := CRC16CCITT(buf[:n])
	buf[n] = byte(crc >> 8)
	buf[n+1] = byte(crc)
	return buf
}

// Parse decodes one XC2 frame from the front of buf, returning the parsed
// packet and any trailing bytes. It follows the incremental-parse algorithm
// of spec.md §4.1 exactly: short buffers are ErrIncompletePacket (keep
// reading), CRC mismatches are ErrBadCRC (frame sync lost, discard buffer).
func Parse(buf []byte) (Packet, []byte, error) {
	if len(buf) < MinSize {
		return Packet{}, nil, ErrIncompletePacket
	}
	declaredLen := int(buf[4])
	if len(buf) < declaredLen+CRCSize {
		return Packet{}, nil, ErrIncompletePacket
	}
	want := uint16(buf[declaredLen])<<8 | uint16(buf[declaredLen+1])
	got := CRC16CCITT(buf[:declaredLen])
	if want != got {
		return Packet{}, nil, ErrBadCRC
	}
	p := Packet{
		Type:  PktType(buf[0] & 0xE0),
		Dst:   Addr(buf[0]&0x0F)<<8 | Addr(buf[1]),
		Flags: Flag(buf[2] & 0xF0),
		Src:   Addr(buf[2]&0x0F)<<8 | Addr(buf[3]),
		Cmd:   buf[5],
	}
	if declaredLen > HeaderSize {
		p.Data = append([]byte(nil), buf[HeaderSize:declaredLen]...)
	}
	return p, buf[declaredLen+CRCSize:], nil
}
