package registry

import (
	"fmt"

	"github.com/joselara-terraform/xc2ctl/xc2"
)

// GetNamed reads register name and returns its value as a native Go
// type rather than the typed Value/Elem wrappers ReadByName returns:
// a string for a char-array register, a scalar number for a
// single-element register, or a slice of numbers for an array. This
// mirrors the original implementation's read_reg_value convenience.
func (r *Registry) GetNamed(name string) (any, error) {
	v, err := r.ReadByName(name)
	if err != nil {
		return nil, err
	}
	return nativeValue(v), nil
}

// SetNamed writes value to register name, converting it to the
// Value/Elem form WriteByName expects. value may be a string (for a
// char-array register), a single number, or a slice of numbers (for an
// array register); the original implementation's write_reg_value
// convenience.
func (r *Registry) SetNamed(name string, value any) error {
	idx, err := r.IndexOf(name)
	if err != nil {
		return err
	}
	reg := r.Regs[idx]
	v, err := toValue(reg, value)
	if err != nil {
		return err
	}
	return r.WriteReg(idx, v, -1)
}

func nativeValue(v Value) any {
	if v.IsString {
		return v.Str
	}
	if len(v.Elems) == 1 {
		return nativeElem(v.Elems[0])
	}
	out := make([]any, len(v.Elems))
	for i, e := range v.Elems {
		out[i] = nativeElem(e)
	}
	return out
}

func nativeElem(e Elem) any {
	switch e.Kind {
	case ElemSigned:
		return e.Int
	case ElemFloat:
		return e.Float
	default:
		return e.Uint
	}
}

func toValue(reg RegisterInfo, value any) (Value, error) {
	if reg.IsString() {
		s, ok := value.(string)
		if !ok {
			return Value{}, fmt.Errorf("registry: %s expects a string, got %T", reg.Name, value)
		}
		return Value{IsString: true, Str: s}, nil
	}
	if list, ok := value.([]any); ok {
		elems := make([]Elem, len(list))
		for i, item := range list {
			e, err := toElem(reg, item)
			if err != nil {
				return Value{}, err
			}
			elems[i] = e
		}
		return Value{Elems: elems}, nil
	}
	e, err := toElem(reg, value)
	if err != nil {
		return Value{}, err
	}
	return Value{Elems: []Elem{e}}, nil
}

func toElem(reg RegisterInfo, value any) (Elem, error) {
	switch n := value.(type) {
	case int:
		return intElem(reg, int64(n)), nil
	case int64:
		return intElem(reg, n), nil
	case uint64:
		if reg.Flags&xc2.RegFlagMaskMod == xc2.RegFlagFloatEnum {
			return Elem{Kind: ElemFloat, Float: float64(n)}, nil
		}
		return intElem(reg, int64(n)), nil
	case float64:
		if reg.Flags&xc2.RegFlagMaskMod == xc2.RegFlagFloatEnum {
			return Elem{Kind: ElemFloat, Float: n}, nil
		}
		return intElem(reg, int64(n)), nil
	default:
		return Elem{}, fmt.Errorf("registry: %s: unsupported value type %T", reg.Name, value)
	}
}

func intElem(reg RegisterInfo, n int64) Elem {
	switch reg.Flags & xc2.RegFlagMaskMod {
	case xc2.RegFlagFloatEnum:
		return Elem{Kind: ElemFloat, Float: float64(n)}
	case xc2.RegFlagSigned:
		return Elem{Kind: ElemSigned, Int: n}
	}
	return Elem{Kind: ElemUnsigned, Uint: uint64(n)}
}
