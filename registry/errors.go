package registry

import "errors"

var (
	// ErrDeviceNotResponding is returned when a discovery or read/write
	// exchange exhausts xc2.NumberOfRepetitions retries without a reply.
	ErrDeviceNotResponding = errors.New("registry: device not responding")

	// ErrNotDiscovered is returned by any operation that needs
	// Registry.Regs populated before ReadFullRegsStructure has run.
	ErrNotDiscovered = errors.New("registry: register structure not yet discovered")

	// ErrUnknownRegister is returned by ReadByName/WriteByName for a name
	// absent from the discovered structure.
	ErrUnknownRegister = errors.New("registry: unknown register name")

	// ErrReadOnly is returned by any write attempt against a register
	// carrying xc2.RegFlagReadOnly.
	ErrReadOnly = errors.New("registry: register is read-only")

	// ErrOutOfRange is returned for an index or array-slice argument
	// outside a register's bounds.
	ErrOutOfRange = errors.New("registry: index out of range")
)
