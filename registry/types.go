// Package registry implements the generic register-file subsystem:
// runtime discovery of register metadata, byte-layout computation,
// packet-size-aware range splitting, and typed reads/writes including
// string and array slicing (spec.md §4.3).
package registry

import (
	"fmt"

	"github.com/joselara-terraform/xc2ctl/xc2"
)

// RegisterInfo is the pivotal metadata record discovered at runtime,
// spec.md §3.
type RegisterInfo struct {
	Idx       uint16
	Name      string
	Flags     xc2.RegFlag
	ArraySize int // 1 if not an array
	Adr       int // byte offset in the logical register memory
	Default   Value
}

// IsArray reports whether the register is an array (including a char
// array, which is treated as a string, not a list).
func (r RegisterInfo) IsArray() bool { return r.Flags&xc2.RegFlagArray != 0 }

// IsChar reports whether the register's element type is char, spec.md §3
// invariant 2: an array of char is a zero-padded ASCII string, never a
// list of single characters.
func (r RegisterInfo) IsChar() bool { return r.Flags&xc2.RegFlagMaskMod == xc2.RegFlagChar }

// IsString is IsArray && IsChar: the register reads/writes as a string.
func (r RegisterInfo) IsString() bool { return r.IsArray() && r.IsChar() }

func (r RegisterInfo) ReadOnly() bool { return r.Flags&xc2.RegFlagReadOnly != 0 }
func (r RegisterInfo) Volatile() bool { return r.Flags&xc2.RegFlagVolatile != 0 }
func (r RegisterInfo) Hex() bool      { return r.Flags&xc2.RegFlagHex != 0 }

// ElementWidth is the storage width of one element in bytes.
func (r RegisterInfo) ElementWidth() int { return r.Flags.Width() }

// ByteSize is the total wire size of the register: width * array_size.
func (r RegisterInfo) ByteSize() int { return r.ElementWidth() * r.ArraySize }

func (r RegisterInfo) String() string {
	return fmt.Sprintf("reg[%d] %s adr=%d size=%d array=%v ro=%v", r.Idx, r.Name, r.Adr, r.ByteSize(), r.IsArray(), r.ReadOnly())
}

// ElemKind tags the interpretation of one decoded register element.
type ElemKind int

const (
	ElemUnsigned ElemKind = iota
	ElemSigned
	ElemFloat
)

// Elem is one decoded scalar value: a register's cached mirror and wire
// payloads are built from these, with Kind set by the register's mod bits.
type Elem struct {
	Kind  ElemKind
	Int   int64
	Uint  uint64
	Float float64
}

func (e Elem) String() string {
	switch e.Kind {
	case ElemSigned:
		return fmt.Sprintf("%d", e.Int)
	case ElemFloat:
		return fmt.Sprintf("%g", e.Float)
	default:
		return fmt.Sprintf("%d", e.Uint)
	}
}

// Value is a register's typed value: a scalar Elem, a list of Elem (array
// register), or a string (char-array register).
type Value struct {
	IsString bool
	Str      string
	Elems    []Elem // len 1 for a scalar register
}

// Scalar returns the value's sole element; callers must check the
// register is not an array/string first.
func (v Value) Scalar() Elem {
	if len(v.Elems) == 0 {
		return Elem{}
	}
	return v.Elems[0]
}

func (v Value) String() string {
	if v.IsString {
		return v.Str
	}
	if len(v.Elems) == 1 {
		return v.Elems[0].String()
	}
	s := "["
	for i, e := range v.Elems {
		if i > 0 {
			s += ","
		}
		s += e.String()
	}
	return s + "]"
}
