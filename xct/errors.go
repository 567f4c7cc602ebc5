package xct

import "errors"

var (
	// ErrNotDiscovered is returned by Device methods called before Discover.
	ErrNotDiscovered = errors.New("xct: device not discovered")
	// ErrUnknownRegister is returned for a register name absent from the
	// discovered catalogue.
	ErrUnknownRegister = errors.New("xct: unknown register")
)
