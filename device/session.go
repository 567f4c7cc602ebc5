package device

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/joselara-terraform/xc2ctl/registry"
	"github.com/joselara-terraform/xc2ctl/xc2"
)

// BusClient is the subset of bus.Bus a device session needs: one
// command/reply exchange, and a unicast that can optionally skip
// waiting for a reply (used for reset, which the device never answers).
type BusClient interface {
	RequestResponse(pkt xc2.Packet, timeout time.Duration) (xc2.Packet, error)
	Unicast(pkt xc2.Packet, reqResponse bool, timeout time.Duration, logTraffic bool) (xc2.Packet, error)
}

// DefaultMaxTTL is the liveness counter a freshly Expected session
// starts with.
const DefaultMaxTTL = 3

// DefaultTimeout is the per-exchange timeout lifecycle commands use.
const DefaultTimeout = 400 * time.Millisecond

// ProductInfo is CMD_GET_FEATURE's decoded payload, spec.md §4.4.
type ProductInfo struct {
	Product string
	Vendor  string
	Version string
	Custom1 string
	Custom2 string
}

// Session is one XC2 device's liveness tracking, lifecycle commands,
// and register engine binding, spec.md §4.4.
type Session struct {
	Addr    xc2.Addr
	AltName string
	Family  string

	bus     BusClient
	Master  xc2.Addr
	Timeout time.Duration
	decoder FamilyStatusDecoder
	log     *logrus.Entry

	Regs *registry.Registry

	// OnStatusChange, if set, is invoked (outside the session's lock)
	// whenever a TTL transition changes Status, spec.md §3 "any
	// transition sets status_changed for observers".
	OnStatusChange func(old, new Status)

	mu                 sync.Mutex
	status             Status
	ttl                int
	maxTTL             int
	lastContact        time.Time
	knownRegsStructure bool
	inBootloader       bool
	stayInBootloader   bool
	firmwareLoading    bool
}

// New builds an Expected session for addr. decoder may be nil, in which
// case GetAppStatus uses RawStatusDecoder.
func New(bus BusClient, addr xc2.Addr, altName, family string, decoder FamilyStatusDecoder, log *logrus.Entry) *Session {
	if decoder == nil {
		decoder = RawStatusDecoder{}
	}
	s := &Session{
		Addr:    addr,
		AltName: altName,
		Family:  family,
		bus:     bus,
		Master:  xc2.Master,
		Timeout: DefaultTimeout,
		decoder: decoder,
		log:     log.WithField("device", altName),
		status:  Expected,
		ttl:     DefaultMaxTTL,
		maxTTL:  DefaultMaxTTL,
	}
	s.Regs = registry.New(bus, addr)
	return s
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) TTL() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ttl
}

func (s *Session) LastContact() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastContact
}

func (s *Session) KnownRegsStructure() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.knownRegsStructure
}

// SetMaxTTL overrides the liveness counter a successful exchange resets
// to, replacing DefaultMaxTTL. It also resets the current ttl so the
// new ceiling takes effect immediately.
func (s *Session) SetMaxTTL(n int) {
	s.mu.Lock()
	s.maxTTL = n
	s.ttl = n
	s.mu.Unlock()
}

// setStatus updates status under the lock and fires OnStatusChange
// outside it if the value actually changed.
func (s *Session) setStatus(next Status) {
	s.mu.Lock()
	prev := s.status
	s.status = next
	s.mu.Unlock()
	if prev != next && s.OnStatusChange != nil {
		s.OnStatusChange(prev, next)
	}
}

// resetTTL restores the liveness counter after a successful exchange,
// spec.md §4.4's TTL discipline.
func (s *Session) resetTTL() {
	s.mu.Lock()
	s.ttl = s.maxTTL
	s.lastContact = time.Now()
	inBoot := s.inBootloader
	s.mu.Unlock()
	if inBoot {
		s.setStatus(Bootloader)
	} else {
		s.setStatus(Available)
	}
}

// lowerTTL accounts for a failing exchange. Firmware and Resetting are
// sticky (flash-in-progress / in-flight reset override liveness);
// otherwise the counter decrements and the session becomes Timeout
// while more than one attempt remains, else Disconnected.
func (s *Session) lowerTTL() {
	s.mu.Lock()
	if s.status.sticky() {
		s.mu.Unlock()
		return
	}
	if s.ttl > 0 {
		s.ttl--
	}
	ttl := s.ttl
	s.mu.Unlock()
	if ttl > 1 {
		s.setStatus(Timeout)
	} else {
		s.setStatus(Disconnected)
	}
}

// exchange runs fn, a single bus exchange, and applies TTL accounting
// regardless of which error escaped, spec.md §7's propagation policy.
func (s *Session) exchange(fn func() (xc2.Packet, error)) (xc2.Packet, error) {
	reply, err := fn()
	if err != nil {
		s.lowerTTL()
		return xc2.Packet{}, err
	}
	s.resetTTL()
	return reply, nil
}

func (s *Session) command(cmd byte, data []byte) (xc2.Packet, error) {
	return s.exchange(func() (xc2.Packet, error) {
		return s.bus.RequestResponse(xc2.Packet{Type: xc2.Command, Dst: s.Addr, Src: s.Master, Cmd: cmd, Data: data}, s.Timeout)
	})
}

// GetEcho pings the device; the reply's single byte is 1 for
// bootloader, 2 for application.
func (s *Session) GetEcho() (int, error) {
	reply, err := s.command(xc2.CmdEcho, nil)
	if err != nil {
		return 0, err
	}
	if len(reply.Data) < 1 {
		return 0, fmt.Errorf("device: short echo reply")
	}
	v := int(reply.Data[0])
	s.mu.Lock()
	s.inBootloader = v == 1
	s.mu.Unlock()
	return v, nil
}

// GetAppStatus fetches and decodes the family-specific status payload.
func (s *Session) GetAppStatus() (AppStatus, error) {
	reply, err := s.command(xc2.CmdAppStatus, nil)
	if err != nil {
		return AppStatus{}, err
	}
	return s.decoder.Decode(reply.Data)
}

// Reset issues SYS_RESET. The device never answers a reset, so it's
// sent without waiting for a reply; the session's metadata is cleared
// locally and status becomes Resetting unless it was Firmware.
func (s *Session) Reset() error {
	pkt := xc2.Packet{Type: xc2.Command, Dst: s.Addr, Src: s.Master, Cmd: xc2.CmdSys, Data: []byte{byte(xc2.SysReset)}}
	if _, err := s.bus.Unicast(pkt, false, s.Timeout, true); err != nil {
		return err
	}
	s.mu.Lock()
	s.knownRegsStructure = false
	wasFirmware := s.status == Firmware
	s.mu.Unlock()
	s.Regs = registry.New(s.bus, s.Addr)
	if !wasFirmware {
		s.setStatus(Resetting)
	}
	return nil
}

// ResetAndStayInBootloader issues SYS_BOOTLOADER and marks the session
// so a subsequent boot won't auto-jump to the application.
func (s *Session) ResetAndStayInBootloader() error {
	pkt := xc2.Packet{Type: xc2.Command, Dst: s.Addr, Src: s.Master, Cmd: xc2.CmdSys, Data: []byte{byte(xc2.SysBootloader)}}
	if _, err := s.bus.Unicast(pkt, false, s.Timeout, true); err != nil {
		return err
	}
	s.mu.Lock()
	s.stayInBootloader = true
	s.knownRegsStructure = false
	s.mu.Unlock()
	s.setStatus(Resetting)
	return nil
}

// RunApp issues CMD_BLCMD/SYS_RUNAPPL to leave the bootloader and start
// the application.
func (s *Session) RunApp() error {
	_, err := s.command(xc2.CmdBLCmd, []byte{byte(xc2.SysRunAppl)})
	return err
}

// WriteAddress changes the device's bus address. newAddr must be in
// (0, 4095); on success the session's own Addr is updated to match.
func (s *Session) WriteAddress(newAddr xc2.Addr) error {
	if newAddr <= 0 || newAddr >= 4095 {
		return ErrBadAddress
	}
	payload := make([]byte, 3)
	payload[0] = byte(xc2.SysSetAddr)
	binary.BigEndian.PutUint16(payload[1:3], uint16(newAddr))
	if _, err := s.command(xc2.CmdSys, payload); err != nil {
		return err
	}
	s.Addr = newAddr
	return nil
}

// ReadSerialNumber returns the 5-byte ASCII device type tag and the
// remaining serial bytes rendered as hex.
func (s *Session) ReadSerialNumber() (deviceType string, serialHex string, err error) {
	reply, err := s.command(xc2.CmdSys, []byte{byte(xc2.SysGetSerial)})
	if err != nil {
		return "", "", err
	}
	if len(reply.Data) < 5 {
		return "", "", fmt.Errorf("device: short serial reply")
	}
	return string(reply.Data[:5]), hex.EncodeToString(reply.Data[5:]), nil
}

// WriteBaudRate changes the device's UART baud rate. rate must be in
// (0, 3_000_000).
func (s *Session) WriteBaudRate(rate uint32) error {
	if rate == 0 || rate >= 3_000_000 {
		return ErrBadBaudRate
	}
	payload := make([]byte, 5)
	payload[0] = byte(xc2.SysSetBaud)
	binary.BigEndian.PutUint32(payload[1:5], rate)
	_, err := s.command(xc2.CmdSys, payload)
	return err
}

// ReadFeature fetches CMD_GET_FEATURE and splits the NUL-delimited
// ASCII payload into (product, vendor, version, custom1, custom2).
func (s *Session) ReadFeature() (ProductInfo, error) {
	reply, err := s.command(xc2.CmdGetFeature, nil)
	if err != nil {
		return ProductInfo{}, err
	}
	fields := strings.Split(string(reply.Data), "\x00")
	for len(fields) < 5 {
		fields = append(fields, "")
	}
	return ProductInfo{
		Product: fields[0],
		Vendor:  fields[1],
		Version: fields[2],
		Custom1: fields[3],
		Custom2: fields[4],
	}, nil
}

// InitialStructureReading runs full register discovery, reads every
// register once, and marks KnownRegsStructure true. This is the only
// path that sets that flag, spec.md §4.4.
func (s *Session) InitialStructureReading() error {
	if err := s.exchangeDiscovery(); err != nil {
		return err
	}
	s.mu.Lock()
	s.knownRegsStructure = true
	s.mu.Unlock()
	return nil
}

func (s *Session) exchangeDiscovery() error {
	if err := s.Regs.ReadFullRegsStructure(); err != nil {
		s.lowerTTL()
		return err
	}
	if _, err := s.Regs.ReadRange(0, len(s.Regs.Regs)); err != nil {
		s.lowerTTL()
		return err
	}
	s.resetTTL()
	return nil
}
