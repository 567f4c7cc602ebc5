package xc2

import (
	"fmt"
	"strconv"
	"strings"
)

// Protocol tags used in device-id strings, spec.md §6.
type ProtoTag string

const (
	ProtoXC2 ProtoTag = "XC2"
	ProtoMod ProtoTag = "MOD"
	ProtoXCT ProtoTag = "XCT"
)

// DeviceID formats the canonical "<protocol>://<bus>/<0xHHH>" identifier,
// lower-case with the address zero-padded to 3 hex digits.
func DeviceID(proto ProtoTag, bus string, addr Addr) string {
	return fmt.Sprintf("%s://%s/0x%03x", strings.ToLower(string(proto)), bus, uint16(addr)&0xFFF)
}

// ParseDeviceID is the inverse of DeviceID. It accepts decimal or 0xH+
// addresses and is case-insensitive on the protocol token.
func ParseDeviceID(id string) (proto ProtoTag, bus string, addr Addr, err error) {
	schemeSep := strings.Index(id, "://")
	if schemeSep < 0 {
		return "", "", 0, fmt.Errorf("xc2: malformed device id %q", id)
	}
	proto = ProtoTag(strings.ToUpper(id[:schemeSep]))
	rest := id[schemeSep+3:]
	slash := strings.LastIndex(rest, "/")
	if slash < 0 {
		return "", "", 0, fmt.Errorf("xc2: malformed device id %q", id)
	}
	bus = rest[:slash]
	addrStr := rest[slash+1:]
	var v uint64
	if strings.HasPrefix(strings.ToLower(addrStr), "0x") {
		v, err = strconv.ParseUint(addrStr[2:], 16, 16)
	} else {
		v, err = strconv.ParseUint(addrStr, 10, 16)
	}
	if err != nil {
		return "", "", 0, fmt.Errorf("xc2: malformed address in device id %q: %w", id, err)
	}
	return proto, bus, Addr(v), nil
}
