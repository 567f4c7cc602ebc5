package device

import "errors"

var (
	// ErrBadAddress is returned by WriteAddress for an address outside
	// the open interval (0, 4095).
	ErrBadAddress = errors.New("device: address out of range")

	// ErrBadBaudRate is returned by WriteBaudRate for a rate outside
	// (0, 3_000_000).
	ErrBadBaudRate = errors.New("device: baud rate out of range")

	// ErrNoDecoder names the missing-decoder condition. GetAppStatus does
	// not return it: New installs RawStatusDecoder when given no
	// FamilyStatusDecoder.
	ErrNoDecoder = errors.New("device: no family status decoder registered")
)
