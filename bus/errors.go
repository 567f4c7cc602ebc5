package bus

import "errors"

// Error taxonomy, spec.md §7. Codec-level errors (xc2.ErrIncompletePacket,
// xc2.ErrBadCRC) never escape Bus; everything below is caller-visible.
var (
	// ErrTimeout means no (or not enough) data arrived within the
	// wall-clock budget of the call. Normal and retriable.
	ErrTimeout = errors.New("bus: timeout")

	// ErrUnexpectedAnswer means a reply arrived but did not match the
	// outstanding request (a non-EVENT cmd/src mismatch other than a NAK
	// as the first reply). The bus itself is still healthy.
	ErrUnexpectedAnswer = errors.New("bus: unexpected answer")

	// ErrConnectionReset is raised by the transport on a broken pipe or
	// closed socket. SendRaw retries with reconnect and returns this only
	// after exhausting its retry budget; ReceivePkt returns it at once,
	// without retrying, when a read hits a reset.
	ErrConnectionReset = errors.New("bus: connection reset")

	// ErrGeneralError covers caller misuse, e.g. request_response
	// against the broadcast address.
	ErrGeneralError = errors.New("bus: general error")
)
