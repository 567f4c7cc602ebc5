package xct

import (
	"encoding/json"
	"fmt"
	"time"
)

// RegEntry is one register as published by the discovery JSON's "reg"
// object: a name key and its current value, typed by whether the value
// is a JSON array.
type RegEntry struct {
	Name    string
	IsArray bool
	Raw     json.RawMessage
}

// Device is the XCT text-protocol equivalent of registry.Registry: same
// external register contract (discover, read, write) but driven by
// line-oriented GET/SET/REST commands instead of the binary XC2 frame,
// spec.md §4.7.
type Device struct {
	conn *Conn
	Name string

	Regs   []RegEntry
	byName map[string]int
	Known  bool
}

// NewDevice builds a Device bound to an already-connected Conn.
func NewDevice(conn *Conn, name string) *Device {
	return &Device{conn: conn, Name: name}
}

// discoveryDoc mirrors the JSON shape of "REST GET devices/ptc/hw/<name>":
// a top-level "reg" object whose keys are register names.
type discoveryDoc struct {
	Reg map[string]json.RawMessage `json:"reg"`
}

// Discover fetches and parses the device's register catalogue, spec.md
// §4.7: array if the value is a JSON list, width is otherwise assumed
// u32 (XCT carries no explicit width, unlike registry.RegisterInfo).
func (d *Device) Discover(timeout time.Duration) error {
	payload, err := RestGet(d.conn, "devices/ptc/hw/"+d.Name, timeout)
	if err != nil {
		return err
	}
	var doc discoveryDoc
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return fmt.Errorf("xct: discovery payload for %s: %w", d.Name, err)
	}
	d.Regs = d.Regs[:0]
	d.byName = make(map[string]int, len(doc.Reg))
	for name, raw := range doc.Reg {
		isArray := len(raw) > 0 && raw[0] == '['
		d.byName[name] = len(d.Regs)
		d.Regs = append(d.Regs, RegEntry{Name: name, IsArray: isArray, Raw: raw})
	}
	d.Known = true
	return nil
}

func (d *Device) requireDiscovered() error {
	if !d.Known {
		return ErrNotDiscovered
	}
	return nil
}

// Read issues "GET <name>" and types the reply per spec.md §4.7.
func (d *Device) Read(name string, timeout time.Duration) (Value, error) {
	if err := d.requireDiscovered(); err != nil {
		return Value{}, err
	}
	if _, ok := d.byName[name]; !ok {
		return Value{}, fmt.Errorf("%w: %s", ErrUnknownRegister, name)
	}
	resp, err := d.conn.Exchange(Request{Kind: KindGet, Name: name}, timeout)
	if err != nil {
		return Value{}, err
	}
	if !resp.OK {
		return Value{}, &Error{Line: resp.Raw}
	}
	return TypeValue(resp.Payload), nil
}

// Write issues "SET <name> <value>" (or "SET <name>[i] <value>" when
// arrayIndex is non-negative), spec.md §4.7.
func (d *Device) Write(name string, value Value, arrayIndex int, timeout time.Duration) error {
	if err := d.requireDiscovered(); err != nil {
		return err
	}
	if _, ok := d.byName[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRegister, name)
	}
	target := name
	if arrayIndex >= 0 {
		target = fmt.Sprintf("%s[%d]", name, arrayIndex)
	}
	resp, err := d.conn.Exchange(Request{Kind: KindSet, Name: target, Value: value.String()}, timeout)
	if err != nil {
		return err
	}
	if !resp.OK {
		return &Error{Line: resp.Raw}
	}
	return nil
}

// FWStatusThresholdApp and FWStatusThresholdBoot are the GetEcho
// classification boundaries, spec.md §4.7.
const (
	FWStatusThresholdApp  = 20
	FWStatusThresholdBoot = 10
)

// GetEcho issues "GET FWStatus" and classifies the reply: >=20 means the
// application is running, >=10 means the bootloader, else 0 (no reply
// or unrecognized value), spec.md §4.7.
func (d *Device) GetEcho(timeout time.Duration) int {
	resp, err := d.conn.Exchange(Request{Kind: KindGet, Name: "FWStatus"}, timeout)
	if err != nil || !resp.OK {
		return 0
	}
	v := TypeValue(resp.Payload)
	if v.Kind != KindInt {
		return 0
	}
	switch {
	case v.Int >= FWStatusThresholdApp:
		return 2
	case v.Int >= FWStatusThresholdBoot:
		return 1
	default:
		return 0
	}
}
