package device

// AppStatus is the decoded result of a CMD_APPSTATUS exchange. The
// payload format is device-family specific (spec.md §9's "deep class
// hierarchy of device families" note), so AppStatus carries both the
// raw bytes and whatever typed fields the family decoder extracted.
type AppStatus struct {
	Raw    []byte
	Fields map[string]any
}

// FamilyStatusDecoder is the strategy object spec.md §9 calls for in
// place of a device-family class hierarchy: one small decoder per
// family, registered on the Session at construction time.
type FamilyStatusDecoder interface {
	// Decode interprets a CMD_APPSTATUS payload for one device family.
	Decode(data []byte) (AppStatus, error)
}

// RawStatusDecoder is the decoder used when no family-specific one is
// registered: it passes the payload through unparsed. Useful for
// families not yet modeled, and for tests.
type RawStatusDecoder struct{}

func (RawStatusDecoder) Decode(data []byte) (AppStatus, error) {
	return AppStatus{Raw: append([]byte{}, data...)}, nil
}
