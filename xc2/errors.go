package xc2

import "errors"

// Frame-boundary errors, handled locally by the bus receive loop
// (spec.md §7): Incomplete means keep buffering, BadCRC means the frame
// boundary is lost and the buffer must be discarded.
var (
	ErrIncompletePacket = errors.New("xc2: incomplete packet")
	ErrBadCRC           = errors.New("xc2: bad crc")
)
