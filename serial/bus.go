package serial

import "fmt"

// OpenForXC2Bus opens the named tty, puts it in raw 8N1 mode and programs
// the custom baud rate an XC2 master/slave link runs at. XC2 and its
// Modbus wrapper only ever run over a raw byte pipe, never canonical line
// discipline, so every caller in this module goes through this helper
// instead of driving termios directly.
func OpenForXC2Bus(name string, baud uint32) (*Port, error) {
	port, err := Open(name, NewOptions())
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", name, err)
	}
	if err := port.MakeRaw(); err != nil {
		port.Close()
		return nil, fmt.Errorf("serial: make raw %s: %w", name, err)
	}
	if err := port.SetBaud(baud); err != nil {
		port.Close()
		return nil, fmt.Errorf("serial: set baud %s: %w", name, err)
	}
	return port, nil
}

// SetBaud reprograms the port's baud rate in place. OpenForXC2Bus calls it
// at open time and transport.SerialEndpoint.SetBaud on a live port; the
// device SYS_SETBAUD command (device.Session.WriteBaudRate) changes only
// the device's rate and does not call it.
func (p *Port) SetBaud(baud uint32) error {
	attrs, err := p.GetAttr2()
	if err != nil {
		return err
	}
	attrs.SetCustomSpeed(baud)
	return p.SetAttr2(TCSANOW, attrs)
}
