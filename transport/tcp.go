package transport

import (
	"fmt"
	"net"
	"sync"
	"time"
)

// TCPEndpoint is an Endpoint backed by a TCP socket, used both for the
// command bus and, on a second port, the EVM8 data stream (spec.md §4.6).
type TCPEndpoint struct {
	addr    string
	timeout time.Duration

	mu   sync.Mutex
	conn net.Conn
}

// NewTCP creates a TCP endpoint for host:port. It does not dial until
// Connect is called.
func NewTCP(addr string, dialTimeout time.Duration) *TCPEndpoint {
	if dialTimeout <= 0 {
		dialTimeout = DefaultConnectTimeout
	}
	return &TCPEndpoint{addr: addr, timeout: dialTimeout}
}

func (t *TCPEndpoint) Name() string { return t.addr }

func (t *TCPEndpoint) Connect() error {
	conn, err := net.DialTimeout("tcp", t.addr, t.timeout)
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", t.addr, err)
	}
	t.mu.Lock()
	old := t.conn
	t.conn = conn
	t.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return nil
}

func (t *TCPEndpoint) current() (net.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil, fmt.Errorf("transport: %s not connected", t.addr)
	}
	return t.conn, nil
}

// ReadTimeout reads whatever is available within timeout, satisfying
// transport.Endpoint via a per-call read deadline on the socket.
func (t *TCPEndpoint) ReadTimeout(p []byte, timeout time.Duration) (int, error) {
	conn, err := t.current()
	if err != nil {
		return 0, err
	}
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, err
	}
	return conn.Read(p)
}

func (t *TCPEndpoint) Write(p []byte) (int, error) {
	conn, err := t.current()
	if err != nil {
		return 0, err
	}
	return conn.Write(p)
}

func (t *TCPEndpoint) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}
