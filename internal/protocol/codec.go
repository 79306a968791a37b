package protocol

import (
	"encoding/binary"
	"fmt"
)

// Encode serializes a Packet into a datagram.
func Encode(pkt *Packet) []byte {
	size := HeaderSize + len(pkt.Payload)
	buf := make([]byte, size)
	buf[0] = pkt.Type
	binary.BigEndian.PutUint16(buf[1:3], pkt.Seq)
	buf[3] = pkt.Flags
	if len(pkt.Payload) > 0 {
		copy(buf[HeaderSize:], pkt.Payload)
	}
	return buf
}

// Decode deserializes a datagram into a Packet. The payload is copied so the
// caller may reuse its read buffer.
func Decode(data []byte) (*Packet, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("packet too short: %d bytes (need at least %d)", len(data), HeaderSize)
	}
	pkt := &Packet{
		Type:  data[0],
		Seq:   binary.BigEndian.Uint16(data[1:3]),
		Flags: data[3],
	}
	if len(data) > HeaderSize {
		pkt.Payload = make([]byte, len(data)-HeaderSize)
		copy(pkt.Payload, data[HeaderSize:])
	}
	return pkt, nil
}

// IsKeepAlive reports whether a raw datagram carries a KEEPALIVE header.
func IsKeepAlive(data []byte) bool {
	return len(data) >= HeaderSize && data[0] == TypeKeepAlive
}
