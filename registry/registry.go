package registry

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joselara-terraform/xc2ctl/xc2"
)

// Registry is one device's discovered register file plus the typed
// read/write operations over it, spec.md §4.3. The zero value is not
// usable; build one with New and populate it with ReadFullRegsStructure.
type Registry struct {
	bus     Requester
	Addr    xc2.Addr
	Master  xc2.Addr
	Timeout time.Duration

	NumBytes int
	Regs     []RegisterInfo
	Values   []Value
	Known    bool

	byName map[string]int
}

// New builds a Registry that will talk to the device at addr over bus.
// Call ReadFullRegsStructure before any read/write operation.
func New(bus Requester, addr xc2.Addr) *Registry {
	return &Registry{bus: bus, Addr: addr, Master: xc2.Master, Timeout: DefaultTimeout}
}

func (r *Registry) requireDiscovered() error {
	if !r.Known {
		return ErrNotDiscovered
	}
	return nil
}

// IndexOf resolves a register name to its index.
func (r *Registry) IndexOf(name string) (int, error) {
	idx, ok := r.byName[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownRegister, name)
	}
	return idx, nil
}

// ReadRange reads registers [start, stop) and returns their decoded
// values, splitting the request across multiple packet-sized exchanges
// per spec.md §4.3's MTU-splitting rule (property 9).
func (r *Registry) ReadRange(start, stop int) ([]Value, error) {
	if err := r.requireDiscovered(); err != nil {
		return nil, err
	}
	if start < 0 || stop > len(r.Regs) || start > stop {
		return nil, ErrOutOfRange
	}
	values := make([]Value, 0, stop-start)
	i := start
	for i < stop {
		count := r.chunkCount(i, stop)
		if count == 0 {
			vs, err := r.readOversizedRegister(i)
			if err != nil {
				return nil, err
			}
			values = append(values, vs)
			i++
			continue
		}
		vs, err := r.readRegsChunk(i, count)
		if err != nil {
			return nil, err
		}
		values = append(values, vs...)
		i += count
	}
	for idx := start; idx < stop; idx++ {
		r.Values[idx] = values[idx-start]
	}
	return values, nil
}

// chunkCount is the MTU splitter (spec.md §4.3, SplitRegsRange
// equivalent): the maximum run of consecutive registers starting at i,
// not exceeding xc2.MaxPktDataSize bytes and 255 registers, that still
// fit stop. Returns 0 if the register at i alone exceeds the MTU and
// must be fetched with readOversizedRegister instead.
func (r *Registry) chunkCount(i, stop int) int {
	if r.Regs[i].ByteSize() > xc2.MaxPktDataSize {
		return 0
	}
	total := 0
	count := 0
	for j := i; j < stop && count < 255; j++ {
		sz := r.Regs[j].ByteSize()
		if total+sz > xc2.MaxPktDataSize {
			break
		}
		total += sz
		count++
	}
	return count
}

func (r *Registry) readRegsChunk(start, count int) ([]Value, error) {
	payload := PackU8(PackU16(make([]byte, 0, 3), uint16(start)), byte(count))
	reply, err := r.commandRetried(xc2.CmdRegRead, payload)
	if err != nil {
		return nil, err
	}
	buf := reply.Data
	values := make([]Value, count)
	for k := 0; k < count; k++ {
		var v Value
		var err error
		v, buf, err = decodeValue(r.Regs[start+k], buf)
		if err != nil {
			return nil, err
		}
		values[k] = v
	}
	return values, nil
}

// readOversizedRegister reads a single register whose full byte size
// exceeds the packet MTU in successive element-range exchanges.
func (r *Registry) readOversizedRegister(idx int) (Value, error) {
	reg := r.Regs[idx]
	if reg.IsString() {
		return r.readElemRange(idx, 0, reg.ArraySize)
	}
	perChunk := xc2.MaxPktDataSize / reg.ElementWidth()
	if perChunk == 0 {
		perChunk = 1
	}
	var elems []Elem
	for off := 0; off < reg.ArraySize; off += perChunk {
		n := perChunk
		if off+n > reg.ArraySize {
			n = reg.ArraySize - off
		}
		v, err := r.readElemRange(idx, off, n)
		if err != nil {
			return Value{}, err
		}
		elems = append(elems, v.Elems...)
	}
	return Value{Elems: elems}, nil
}

func (r *Registry) readElemRange(idx, elemStart, elemCount int) (Value, error) {
	reg := r.Regs[idx]
	payload := make([]byte, 0, 5)
	payload = PackU16(payload, uint16(idx))
	payload = PackU16(payload, uint16(elemStart))
	payload = PackU8(payload, byte(elemCount))
	reply, err := r.commandRetried(xc2.CmdRegRead, payload)
	if err != nil {
		return Value{}, err
	}
	if reg.IsString() {
		return Value{IsString: true, Str: strings.TrimRight(decodeASCIIBackslashReplace(reply.Data), "\x00")}, nil
	}
	slice := RegisterInfo{Name: reg.Name, Flags: reg.Flags, ArraySize: elemCount}
	v, _, err := decodeValue(slice, reply.Data)
	return v, err
}

// ReadByIndex reads and returns a single register's current value.
func (r *Registry) ReadByIndex(idx int) (Value, error) {
	vs, err := r.ReadRange(idx, idx+1)
	if err != nil {
		return Value{}, err
	}
	return vs[0], nil
}

// ReadByName is ReadByIndex after resolving name.
func (r *Registry) ReadByName(name string) (Value, error) {
	idx, err := r.IndexOf(name)
	if err != nil {
		return Value{}, err
	}
	return r.ReadByIndex(idx)
}

// ReadElems reads a contiguous element window [elemStart, elemStart+
// elemCount) of an array register, without requiring the whole register
// to be read first. Used by the virtual composite device to project a
// parent's array_range mapping (spec.md §4.5).
func (r *Registry) ReadElems(idx, elemStart, elemCount int) (Value, error) {
	if err := r.requireDiscovered(); err != nil {
		return Value{}, err
	}
	if idx < 0 || idx >= len(r.Regs) {
		return Value{}, ErrOutOfRange
	}
	reg := r.Regs[idx]
	if elemStart < 0 || elemCount < 0 || elemStart+elemCount > reg.ArraySize {
		return Value{}, ErrOutOfRange
	}
	return r.readElemRange(idx, elemStart, elemCount)
}

// WriteElems writes elems starting at element offset within register
// idx, the same element-addressable path WriteReg uses for a single
// array_index write. Used by the virtual composite device to forward
// an array_range mapping's write to its parent.
func (r *Registry) WriteElems(idx, offset int, elems []Elem) error {
	if err := r.requireDiscovered(); err != nil {
		return err
	}
	if idx < 0 || idx >= len(r.Regs) {
		return ErrOutOfRange
	}
	reg := r.Regs[idx]
	if reg.ReadOnly() {
		return fmt.Errorf("%w: %s", ErrReadOnly, reg.Name)
	}
	if offset < 0 || offset+len(elems) > reg.ArraySize {
		return ErrOutOfRange
	}
	return r.writeElems(idx, offset, elems)
}

// ReadAndGetFullRegs reads every register and returns a name->rendered
// string map, matching the original implementation's bulk-dump helper.
// When humanReadable is true, hex-flagged registers are rendered with a
// "0x" prefix.
func (r *Registry) ReadAndGetFullRegs(humanReadable bool) (map[string]string, error) {
	if err := r.requireDiscovered(); err != nil {
		return nil, err
	}
	if _, err := r.ReadRange(0, len(r.Regs)); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(r.Regs))
	for i, reg := range r.Regs {
		v := r.Values[i]
		if humanReadable && reg.Hex() && !v.IsString {
			out[reg.Name] = hexRender(v)
			continue
		}
		out[reg.Name] = v.String()
	}
	return out, nil
}

func hexRender(v Value) string {
	var sb strings.Builder
	if len(v.Elems) > 1 {
		sb.WriteByte('[')
	}
	for i, e := range v.Elems {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "0x%x", e.Uint)
	}
	if len(v.Elems) > 1 {
		sb.WriteByte(']')
	}
	return sb.String()
}

// WriteReg writes a value to register idx. If arrayIndex is >= 0 the
// write targets a single element of an array register (a partial-array
// write, spec.md §4.3 invariant 4); otherwise the whole register is
// replaced.
func (r *Registry) WriteReg(idx int, v Value, arrayIndex int) error {
	if err := r.requireDiscovered(); err != nil {
		return err
	}
	if idx < 0 || idx >= len(r.Regs) {
		return ErrOutOfRange
	}
	reg := r.Regs[idx]
	if reg.ReadOnly() {
		return fmt.Errorf("%w: %s", ErrReadOnly, reg.Name)
	}

	if arrayIndex >= 0 {
		if !reg.IsArray() || reg.IsString() {
			return fmt.Errorf("registry: %s is not an element-addressable array", reg.Name)
		}
		if arrayIndex >= reg.ArraySize {
			return ErrOutOfRange
		}
		return r.writeElems(idx, arrayIndex, []Elem{v.Scalar()})
	}

	if reg.IsString() {
		return r.writeWholeRegister(idx, v)
	}
	if len(v.Elems) != reg.ArraySize {
		return fmt.Errorf("registry: %s expects %d elements, got %d", reg.Name, reg.ArraySize, len(v.Elems))
	}
	return r.writeElems(idx, 0, v.Elems)
}

// writeElems writes a run of elements starting at offset within
// register idx, recursively halving the run before sending while its
// payload exceeds xc2.MaxPktDataSize, spec.md §4.3 property 9.
func (r *Registry) writeElems(idx, offset int, elems []Elem) error {
	if len(elems) == 0 {
		return nil
	}
	reg := r.Regs[idx]
	payload := make([]byte, 0, 4+len(elems)*reg.ElementWidth())
	payload = PackU16(payload, uint16(idx))
	payload = PackU16(payload, uint16(offset))
	for _, e := range elems {
		b, err := encodeElem(reg, e)
		if err != nil {
			return err
		}
		payload = append(payload, b...)
	}
	if len(payload) > xc2.MaxPktDataSize && len(elems) > 1 {
		mid := len(elems) / 2
		if err := r.writeElems(idx, offset, elems[:mid]); err != nil {
			return err
		}
		return r.writeElems(idx, offset+mid, elems[mid:])
	}
	if _, err := r.commandRetried(xc2.CmdRegWrite, payload); err != nil {
		return err
	}
	r.spliceElems(idx, offset, elems)
	return nil
}

// spliceElems updates the cached mirror in r.Values[idx] after a
// successful element write: a scalar overwrite, or a partial-array
// splice into the existing element list, spec.md §4.3 property 8.
func (r *Registry) spliceElems(idx, offset int, elems []Elem) {
	reg := r.Regs[idx]
	if len(r.Values[idx].Elems) != reg.ArraySize {
		r.Values[idx].Elems = make([]Elem, reg.ArraySize)
	}
	copy(r.Values[idx].Elems[offset:], elems)
}

func (r *Registry) writeWholeRegister(idx int, v Value) error {
	reg := r.Regs[idx]
	data, err := encodeValue(reg, v)
	if err != nil {
		return err
	}
	payload := PackU16(make([]byte, 0, 2+len(data)), uint16(idx))
	payload = append(payload, data...)
	if _, err := r.commandRetried(xc2.CmdRegWrite, payload); err != nil {
		return err
	}
	r.Values[idx] = v
	return nil
}

// WriteByName resolves name and delegates to WriteReg.
func (r *Registry) WriteByName(name string, v Value, arrayIndex int) error {
	idx, err := r.IndexOf(name)
	if err != nil {
		return err
	}
	return r.WriteReg(idx, v, arrayIndex)
}

// WriteRegStr parses s into a Value appropriate for register idx's type
// (a bracketed comma list for arrays, a bare literal for scalars, the
// literal text itself for strings) and writes it, mirroring the
// original CLI's string-form register-write convenience.
func (r *Registry) WriteRegStr(idx int, s string, arrayIndex int) error {
	if idx < 0 || idx >= len(r.Regs) {
		return ErrOutOfRange
	}
	reg := r.Regs[idx]
	if reg.IsString() {
		return r.WriteReg(idx, Value{IsString: true, Str: s}, arrayIndex)
	}
	if arrayIndex >= 0 {
		e, err := parseElem(reg, s)
		if err != nil {
			return err
		}
		return r.WriteReg(idx, Value{Elems: []Elem{e}}, arrayIndex)
	}
	parts := strings.Split(strings.Trim(s, "[] "), ",")
	elems := make([]Elem, 0, len(parts))
	for _, p := range parts {
		e, err := parseElem(reg, strings.TrimSpace(p))
		if err != nil {
			return err
		}
		elems = append(elems, e)
	}
	return r.WriteReg(idx, Value{Elems: elems}, -1)
}

func parseElem(reg RegisterInfo, s string) (Elem, error) {
	mod := reg.Flags & xc2.RegFlagMaskMod
	switch mod {
	case xc2.RegFlagFloatEnum:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Elem{}, fmt.Errorf("registry: %s: %w", reg.Name, err)
		}
		return Elem{Kind: ElemFloat, Float: f}, nil
	case xc2.RegFlagSigned:
		i, err := strconv.ParseInt(s, 0, 64)
		if err != nil {
			return Elem{}, fmt.Errorf("registry: %s: %w", reg.Name, err)
		}
		return Elem{Kind: ElemSigned, Int: i}, nil
	default:
		u, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return Elem{}, fmt.Errorf("registry: %s: %w", reg.Name, err)
		}
		return Elem{Kind: ElemUnsigned, Uint: u}, nil
	}
}

// WriteRegDefaultValue resets a single register to its factory default.
func (r *Registry) WriteRegDefaultValue(idx int) error {
	if idx < 0 || idx >= len(r.Regs) {
		return ErrOutOfRange
	}
	return r.WriteReg(idx, r.Regs[idx].Default, -1)
}

// WriteAllRegsDefault triggers the device-side "restore all defaults"
// action, spec.md §4.3, rather than writing each register individually.
func (r *Registry) WriteAllRegsDefault() error {
	_, err := r.commandRetried(xc2.CmdRegAction, []byte{byte(xc2.RegActionSetDefaults)})
	return err
}

// StoreRegs persists the current register values to the device's
// non-volatile storage.
func (r *Registry) StoreRegs() error {
	_, err := r.commandRetried(xc2.CmdRegAction, []byte{byte(xc2.RegActionBackup)})
	return err
}

// RestoreRegs reloads register values from the device's non-volatile
// storage, discarding unsaved writes.
func (r *Registry) RestoreRegs() error {
	_, err := r.commandRetried(xc2.CmdRegAction, []byte{byte(xc2.RegActionRestore)})
	return err
}
