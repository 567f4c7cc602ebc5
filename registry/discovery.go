package registry

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/joselara-terraform/xc2ctl/xc2"
)

// Requester is the subset of bus.Bus the register engine needs: one
// command/reply exchange. Depending on this interface rather than
// *bus.Bus keeps registry testable without a real transport.
type Requester interface {
	RequestResponse(pkt xc2.Packet, timeout time.Duration) (xc2.Packet, error)
}

// DefaultTimeout is the per-exchange timeout discovery and reads/writes
// use unless the caller overrides it.
const DefaultTimeout = 400 * time.Millisecond

func (r *Registry) command(cmd byte, data []byte) (xc2.Packet, error) {
	req := xc2.Packet{Type: xc2.Command, Dst: r.Addr, Src: r.Master, Cmd: cmd, Data: data}
	return r.bus.RequestResponse(req, r.Timeout)
}

func (r *Registry) commandRetried(cmd byte, data []byte) (xc2.Packet, error) {
	var lastErr error
	for i := 0; i < xc2.NumberOfRepetitions; i++ {
		reply, err := r.command(cmd, data)
		if err == nil {
			return reply, nil
		}
		lastErr = err
	}
	return xc2.Packet{}, fmt.Errorf("%w: %v", ErrDeviceNotResponding, lastErr)
}

// ReadFullRegsStructure runs the complete discovery procedure of
// spec.md §4.3: size query, structure query loop, address computation,
// and default-value retrieval. On return Registry.Regs is fully
// populated and Known is true.
func (r *Registry) ReadFullRegsStructure() error {
	nRegs, nBytes, err := r.readSize()
	if err != nil {
		return err
	}
	r.NumBytes = nBytes
	r.Regs = make([]RegisterInfo, nRegs)
	filled := make([]bool, nRegs)

	start := 0
	for start < nRegs {
		got, err := r.readStructureChunk(start, nRegs-start)
		if err != nil {
			return err
		}
		if got == 0 {
			return fmt.Errorf("%w: structure query made no progress at index %d", ErrDeviceNotResponding, start)
		}
		for i := start; i < start+got; i++ {
			filled[i] = true
		}
		start += got
	}
	for i, ok := range filled {
		if !ok {
			return fmt.Errorf("registry: empty slot %d after structure discovery", i)
		}
	}

	r.computeAddresses()

	r.byName = make(map[string]int, len(r.Regs))
	for i, reg := range r.Regs {
		r.byName[reg.Name] = i
	}

	if err := r.readAllDefaults(); err != nil {
		return err
	}

	r.Values = make([]Value, len(r.Regs))
	r.Known = true
	return nil
}

func (r *Registry) readSize() (nRegs, nBytes int, err error) {
	reply, err := r.commandRetried(xc2.CmdRegGetInfo, []byte{byte(xc2.RegInfoSize)})
	if err != nil {
		return 0, 0, err
	}
	if len(reply.Data) < 4 {
		return 0, 0, fmt.Errorf("registry: short size reply (%d bytes)", len(reply.Data))
	}
	return int(binary.BigEndian.Uint16(reply.Data[0:2])), int(binary.BigEndian.Uint16(reply.Data[2:4])), nil
}

// readStructureChunk requests regs [start, start+count) and parses the
// variable-length stream the device returns, filling r.Regs. It returns
// how many consecutive registers starting at `start` were actually
// filled (the device may short-reply).
func (r *Registry) readStructureChunk(start, count int) (int, error) {
	if count > 255 {
		count = 255
	}
	payload := make([]byte, 4)
	payload[0] = byte(xc2.RegInfoStructure)
	binary.BigEndian.PutUint16(payload[1:3], uint16(start))
	payload[3] = byte(count)

	reply, err := r.commandRetried(xc2.CmdRegGetInfo, payload)
	if err != nil {
		return 0, err
	}
	buf := reply.Data
	filled := 0
	idx := start
	for len(buf) > 0 {
		if len(buf) < 4 {
			break
		}
		regIdx := binary.BigEndian.Uint16(buf[0:2])
		flags := xc2.RegFlag(binary.BigEndian.Uint16(buf[2:4]))
		buf = buf[4:]
		arraySize := 1
		if flags&xc2.RegFlagArray != 0 {
			if len(buf) < 2 {
				break
			}
			arraySize = int(binary.BigEndian.Uint16(buf[0:2]))
			buf = buf[2:]
		}
		nul := indexByte(buf, 0)
		if nul < 0 {
			break
		}
		name := string(buf[:nul])
		buf = buf[nul+1:]

		if int(regIdx) >= len(r.Regs) {
			return filled, fmt.Errorf("registry: device reported out-of-range index %d", regIdx)
		}
		r.Regs[regIdx] = RegisterInfo{Idx: regIdx, Name: name, Flags: flags, ArraySize: arraySize}
		filled++
		idx = int(regIdx) + 1
	}
	if filled == 0 {
		return 0, nil
	}
	return idx - start, nil
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// computeAddresses walks registers in order and assigns each a byte
// offset equal to the sum of the widths*array_sizes of all prior
// registers, spec.md §4.3 step 4.
func (r *Registry) computeAddresses() {
	adr := 0
	for i := range r.Regs {
		r.Regs[i].Adr = adr
		adr += r.Regs[i].ByteSize()
	}
}

func (r *Registry) readAllDefaults() error {
	for i := range r.Regs {
		def, err := r.readDefault(i)
		if err != nil {
			return err
		}
		r.Regs[i].Default = def
	}
	return nil
}

// readDefault fetches a register's default value, requesting missing
// tail elements individually if the device short-replied, spec.md
// §4.3 step 6.
func (r *Registry) readDefault(index int) (Value, error) {
	reg := r.Regs[index]
	reply, err := r.commandRetried(xc2.CmdRegGetInfo, encodeU16Prefixed(byte(xc2.RegInfoDefaultValue), uint16(index)))
	if err != nil {
		return Value{}, err
	}
	data := reply.Data

	if reg.IsString() {
		s := decodeASCIIBackslashReplace(data)
		return Value{IsString: true, Str: trimNUL(s)}, nil
	}

	elems := make([]Elem, 0, reg.ArraySize)
	rest := data
	for len(rest) >= reg.ElementWidth() && len(elems) < reg.ArraySize {
		var e Elem
		e, rest, err = decodeElem(reg, rest)
		if err != nil {
			return Value{}, err
		}
		elems = append(elems, e)
	}
	for item := len(elems); item < reg.ArraySize; item++ {
		payload := make([]byte, 5)
		payload[0] = byte(xc2.RegInfoDefaultValue)
		binary.BigEndian.PutUint16(payload[1:3], uint16(index))
		binary.BigEndian.PutUint16(payload[3:5], uint16(item))
		reply, err := r.commandRetried(xc2.CmdRegGetInfo, payload)
		if err != nil {
			return Value{}, err
		}
		e, _, err := decodeElem(reg, reply.Data)
		if err != nil {
			return Value{}, err
		}
		elems = append(elems, e)
	}
	return Value{Elems: elems}, nil
}

func encodeU16Prefixed(sub byte, idx uint16) []byte {
	buf := make([]byte, 3)
	buf[0] = sub
	binary.BigEndian.PutUint16(buf[1:3], idx)
	return buf
}

func trimNUL(s string) string {
	for len(s) > 0 && s[len(s)-1] == 0 {
		s = s[:len(s)-1]
	}
	return s
}
