package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/joselara-terraform/xc2ctl/serial"
)

// SerialEndpoint is an Endpoint backed by a local tty running the raw XC2
// byte stream, spec.md §4.2. Connect (re)opens the port, which lets Bus
// recover a link after the USB-serial adapter drops and comes back under a
// fresh device node.
type SerialEndpoint struct {
	name string
	baud uint32

	mu   sync.Mutex
	port *serial.Port
}

// NewSerial creates a serial endpoint for the named tty at baud. It does
// not open the device until Connect is called.
func NewSerial(name string, baud uint32) *SerialEndpoint {
	return &SerialEndpoint{name: name, baud: baud}
}

func (s *SerialEndpoint) Name() string { return s.name }

func (s *SerialEndpoint) Connect() error {
	port, err := serial.OpenForXC2Bus(s.name, s.baud)
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	s.mu.Lock()
	old := s.port
	s.port = port
	s.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return nil
}

func (s *SerialEndpoint) current() (*serial.Port, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil, fmt.Errorf("transport: %s not connected", s.name)
	}
	return s.port, nil
}

// ReadTimeout satisfies transport.Endpoint via the port's own ioctl-poll
// based timeout, avoiding a line-discipline VTIME/VMIN round trip.
func (s *SerialEndpoint) ReadTimeout(p []byte, timeout time.Duration) (int, error) {
	port, err := s.current()
	if err != nil {
		return 0, err
	}
	return port.ReadTimeout(p, timeout)
}

func (s *SerialEndpoint) Write(p []byte) (int, error) {
	port, err := s.current()
	if err != nil {
		return 0, err
	}
	return port.Write(p)
}

// SetBaud reprograms the live port's baud rate and keeps it for later
// reconnects. Nothing in this module calls it; device.Session.WriteBaudRate
// changes only the device's rate.
func (s *SerialEndpoint) SetBaud(baud uint32) error {
	port, err := s.current()
	if err != nil {
		return err
	}
	if err := port.SetBaud(baud); err != nil {
		return err
	}
	s.mu.Lock()
	s.baud = baud
	s.mu.Unlock()
	return nil
}

func (s *SerialEndpoint) Close() error {
	s.mu.Lock()
	port := s.port
	s.port = nil
	s.mu.Unlock()
	if port == nil {
		return nil
	}
	return port.Close()
}
