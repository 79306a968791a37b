// Package protocol defines the wire formats of the tunnel: the length-prefixed
// frame used on stream transports and the reliable-datagram header.
package protocol

// Reliable datagram packet types.
const (
	TypeData      uint8 = 0x00 // Sequenced payload, must be acknowledged
	TypeAck       uint8 = 0x01 // Acknowledges a DATA sequence number
	TypeKeepAlive uint8 = 0x02 // Liveness only, never acknowledged
)

// HeaderSize is the fixed header size: Type(1) + Seq(2) + Flags(1).
const HeaderSize = 4

// Packet is one reliable-datagram unit.
type Packet struct {
	Type    uint8  // TypeData, TypeAck, or TypeKeepAlive
	Seq     uint16 // Per-direction sequence number, wraps modulo 2^16
	Flags   uint8  // Reserved, always zero on send
	Payload []byte // Only used for TypeData
}

// TypeName returns a short label for logs.
func TypeName(typ uint8) string {
	switch typ {
	case TypeData:
		return "DATA"
	case TypeAck:
		return "ACK"
	case TypeKeepAlive:
		return "KEEPALIVE"
	default:
		return "UNKNOWN"
	}
}
