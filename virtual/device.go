// Package virtual implements the composite register file: a device
// built from other devices' registers rather than its own bus
// connection, spec.md §4.5.
package virtual

import (
	"fmt"

	"github.com/joselara-terraform/xc2ctl/device"
	"github.com/joselara-terraform/xc2ctl/registry"
	"github.com/joselara-terraform/xc2ctl/xc2"
)

// Mapping declares one virtual register: it projects a parent device's
// register, optionally narrowed to a single array element or a
// contiguous element range, under a new name.
type Mapping struct {
	VirtualName string
	ParentName  string
	RegName     string

	// At most one of ArrayIndex or (RangeStart, RangeEnd) may be set.
	// Neither set means the whole parent register is forwarded under
	// VirtualName.
	ArrayIndex           *int
	RangeStart, RangeEnd *int // inclusive, "a-b"
}

type sourceKind int

const (
	sourceWhole sourceKind = iota
	sourceElem
	sourceRange
)

type regSource struct {
	parent    *device.Session
	parentIdx int
	kind      sourceKind
	index     int // sourceElem
	start     int // sourceRange
	count     int // sourceRange
}

// Device is a VirtualDevice: merged register metadata over a
// copy-parent prefix and a set of mapped registers, spec.md §4.5.
type Device struct {
	Name string

	Regs   []registry.RegisterInfo
	byName map[string]int
	source []regSource

	parents []*device.Session // distinct parents, copy-parent first if present
}

// New builds a Device. copyParent may be nil. Every Mapping.ParentName
// must have a corresponding entry in parents.
func New(name string, copyParent *device.Session, mappings []Mapping, parents map[string]*device.Session) (*Device, error) {
	d := &Device{Name: name}
	seen := map[*device.Session]bool{}

	if copyParent != nil {
		if !copyParent.KnownRegsStructure() {
			return nil, fmt.Errorf("virtual: copy_parent %q has no discovered register structure", name)
		}
		for _, pr := range copyParent.Regs.Regs {
			reg := pr
			reg.Idx = uint16(len(d.Regs))
			d.Regs = append(d.Regs, reg)
			d.source = append(d.source, regSource{parent: copyParent, parentIdx: int(pr.Idx), kind: sourceWhole})
		}
		d.parents = append(d.parents, copyParent)
		seen[copyParent] = true
	}

	for _, m := range mappings {
		parent, ok := parents[m.ParentName]
		if !ok {
			return nil, fmt.Errorf("virtual: mapping %q references unknown parent %q", m.VirtualName, m.ParentName)
		}
		if !parent.KnownRegsStructure() {
			return nil, fmt.Errorf("virtual: parent %q has no discovered register structure", m.ParentName)
		}
		pidx, err := parent.Regs.IndexOf(m.RegName)
		if err != nil {
			return nil, fmt.Errorf("virtual: mapping %q: %w", m.VirtualName, err)
		}
		preg := parent.Regs.Regs[pidx]

		reg := preg
		reg.Name = m.VirtualName
		reg.Idx = uint16(len(d.Regs))

		var src regSource
		src.parent = parent
		src.parentIdx = pidx

		switch {
		case m.ArrayIndex != nil:
			if *m.ArrayIndex < 0 || *m.ArrayIndex >= preg.ArraySize {
				return nil, fmt.Errorf("virtual: mapping %q: array_index %d out of range", m.VirtualName, *m.ArrayIndex)
			}
			reg.Flags &^= xc2.RegFlagArray
			reg.ArraySize = 1
			reg.Default = Value1(preg.Default.Elems[*m.ArrayIndex])
			src.kind = sourceElem
			src.index = *m.ArrayIndex
		case m.RangeStart != nil && m.RangeEnd != nil:
			a, b := *m.RangeStart, *m.RangeEnd
			if a < 0 || b < a || b >= preg.ArraySize {
				return nil, fmt.Errorf("virtual: mapping %q: array_range %d-%d out of range", m.VirtualName, a, b)
			}
			count := b - a + 1
			reg.Flags &^= xc2.RegFlagArray
			reg.ArraySize = count
			reg.Default = registry.Value{Elems: append([]registry.Elem{}, preg.Default.Elems[a:b+1]...)}
			src.kind = sourceRange
			src.start = a
			src.count = count
		default:
			src.kind = sourceWhole
		}

		d.Regs = append(d.Regs, reg)
		d.source = append(d.source, src)
		if !seen[parent] {
			d.parents = append(d.parents, parent)
			seen[parent] = true
		}
	}

	d.computeAddresses()
	d.byName = make(map[string]int, len(d.Regs))
	for i, r := range d.Regs {
		d.byName[r.Name] = i
	}
	return d, nil
}

func (d *Device) computeAddresses() {
	adr := 0
	for i := range d.Regs {
		d.Regs[i].Adr = adr
		adr += d.Regs[i].ByteSize()
	}
}

// Value1 wraps a single Elem as a scalar Value.
func Value1(e registry.Elem) registry.Value {
	return registry.Value{Elems: []registry.Elem{e}}
}

func (d *Device) IndexOf(name string) (int, error) {
	idx, ok := d.byName[name]
	if !ok {
		return 0, fmt.Errorf("virtual: unknown register %q", name)
	}
	return idx, nil
}

// Read delegates to the appropriate parent register, per the mapping's
// array index/range, spec.md §4.5.
func (d *Device) Read(name string) (registry.Value, error) {
	idx, err := d.IndexOf(name)
	if err != nil {
		return registry.Value{}, err
	}
	src := d.source[idx]
	switch src.kind {
	case sourceElem:
		return src.parent.Regs.ReadElems(src.parentIdx, src.index, 1)
	case sourceRange:
		return src.parent.Regs.ReadElems(src.parentIdx, src.start, src.count)
	default:
		return src.parent.Regs.ReadByIndex(src.parentIdx)
	}
}

// Write delegates v to the appropriate parent register.
func (d *Device) Write(name string, v registry.Value) error {
	idx, err := d.IndexOf(name)
	if err != nil {
		return err
	}
	src := d.source[idx]
	switch src.kind {
	case sourceElem:
		return src.parent.Regs.WriteElems(src.parentIdx, src.index, []registry.Elem{v.Scalar()})
	case sourceRange:
		return src.parent.Regs.WriteElems(src.parentIdx, src.start, v.Elems)
	default:
		return src.parent.Regs.WriteReg(src.parentIdx, v, -1)
	}
}

type groupKey struct {
	parent    *device.Session
	parentIdx int
}

// ReadAllValues reads every virtual register. Mappings that project
// different elements of the same parent array are coalesced into a
// single ReadElems exchange per distinct (parent, parent register)
// pair, rather than one exchange per virtual register — scenario S5's
// "exactly one read of the parent array".
func (d *Device) ReadAllValues() (map[string]registry.Value, error) {
	groups := make(map[groupKey][]int)
	var wholeIdxs []int
	for i, src := range d.source {
		if src.kind == sourceWhole {
			wholeIdxs = append(wholeIdxs, i)
			continue
		}
		k := groupKey{src.parent, src.parentIdx}
		groups[k] = append(groups[k], i)
	}

	out := make(map[string]registry.Value, len(d.Regs))
	for _, i := range wholeIdxs {
		src := d.source[i]
		v, err := src.parent.Regs.ReadByIndex(src.parentIdx)
		if err != nil {
			return nil, err
		}
		out[d.Regs[i].Name] = v
	}

	for k, idxs := range groups {
		start, end := -1, -1
		for _, i := range idxs {
			a, b := elemSpan(d.source[i])
			if start == -1 || a < start {
				start = a
			}
			if end == -1 || b > end {
				end = b
			}
		}
		v, err := k.parent.Regs.ReadElems(k.parentIdx, start, end-start+1)
		if err != nil {
			return nil, err
		}
		for _, i := range idxs {
			a, b := elemSpan(d.source[i])
			rel := a - start
			out[d.Regs[i].Name] = registry.Value{Elems: append([]registry.Elem{}, v.Elems[rel:rel+(b-a+1)]...)}
		}
	}
	return out, nil
}

func elemSpan(src regSource) (start, end int) {
	if src.kind == sourceElem {
		return src.index, src.index
	}
	return src.start, src.start + src.count - 1
}

// Reset fans out to every distinct parent and clears this device's own
// merged metadata, spec.md §4.5.
func (d *Device) Reset() error {
	return d.fanOut(func(s *device.Session) error { return s.Reset() })
}

// RunApp fans out RunApp to every distinct parent.
func (d *Device) RunApp() error {
	return d.fanOut(func(s *device.Session) error { return s.RunApp() })
}

// ResetAndStayInBootloader fans out to every distinct parent.
func (d *Device) ResetAndStayInBootloader() error {
	return d.fanOut(func(s *device.Session) error { return s.ResetAndStayInBootloader() })
}

func (d *Device) fanOut(fn func(*device.Session) error) error {
	var firstErr error
	for _, p := range d.parents {
		if err := fn(p); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	d.Regs = nil
	d.byName = nil
	d.source = nil
	return firstErr
}

// GetEcho returns 0 if parents disagree (a mix of bootloader/application
// replies), else the common value, spec.md §4.5.
func (d *Device) GetEcho() (int, error) {
	var common int
	first := true
	for _, p := range d.parents {
		v, err := p.GetEcho()
		if err != nil {
			return 0, err
		}
		if first {
			common = v
			first = false
			continue
		}
		if v != common {
			return 0, nil
		}
	}
	return common, nil
}

// IsEchoing reports whether every parent answered GetEcho successfully.
func (d *Device) IsEchoing() bool {
	for _, p := range d.parents {
		if _, err := p.GetEcho(); err != nil {
			return false
		}
	}
	return true
}

// IsRunning reports whether every parent's echo reports "application"
// (value 2).
func (d *Device) IsRunning() bool {
	for _, p := range d.parents {
		v, err := p.GetEcho()
		if err != nil || v != 2 {
			return false
		}
	}
	return true
}
