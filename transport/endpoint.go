// Package transport provides the duplex byte-stream abstraction bus.Bus
// drives: a serial port or a TCP socket, each able to (re)connect on
// demand (spec.md §4.2).
package transport

import (
	"io"
	"time"
)

// Endpoint is a duplex byte stream that can be (re)established. Bus calls
// Connect once at startup and again whenever a ConnectionReset forces a
// reconnect, and always reads through ReadTimeout so a stalled device
// cannot block the bus indefinitely (spec.md §4.2's receive-with-timeout).
type Endpoint interface {
	io.Writer
	io.Closer
	// ReadTimeout reads at least one byte, or returns os.ErrDeadlineExceeded
	// (wrapped) if none arrive within timeout.
	ReadTimeout(buf []byte, timeout time.Duration) (int, error)
	// Connect (re)establishes the underlying connection. For TCP it
	// dials with a timeout; for serial it (re)opens the port.
	Connect() error
	// Name identifies the endpoint for logging and device-id strings,
	// e.g. "/dev/ttyUSB0" or "10.0.0.5:4660".
	Name() string
}

// DefaultConnectTimeout is the default TCP dial timeout, spec.md §4.2.
const DefaultConnectTimeout = 3 * time.Second
