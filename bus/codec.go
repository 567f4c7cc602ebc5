package bus

import "github.com/joselara-terraform/xc2ctl/xc2"

// Codec is the protocol selector spec.md §4.1 describes: Bus is written
// once against this interface and can run either wire format depending on
// how the link is configured, without any change to the request/response
// state machine.
type Codec interface {
	Encode(p xc2.Packet) []byte
	Parse(buf []byte) (xc2.Packet, []byte, error)
}

type xc2Codec struct{}

func (xc2Codec) Encode(p xc2.Packet) []byte                   { return xc2.Encode(p) }
func (xc2Codec) Parse(buf []byte) (xc2.Packet, []byte, error) { return xc2.Parse(buf) }

type modbusCodec struct{}

func (modbusCodec) Encode(p xc2.Packet) []byte                   { return xc2.EncodeModbus(p) }
func (modbusCodec) Parse(buf []byte) (xc2.Packet, []byte, error) { return xc2.ParseModbus(buf) }

// XC2Codec is the plain XC2 framing.
var XC2Codec Codec = xc2Codec{}

// ModbusXC2Codec is the Modbus-RTU wrapped XC2 framing.
var ModbusXC2Codec Codec = modbusCodec{}
