// Package endpoint defines the packet-in/packet-out abstraction shared by
// every transport, the reliable datagram layer, and the TUN device adapter.
package endpoint

import (
	"errors"
	"time"
)

// MaxPacketSize is the largest packet any Endpoint carries.
const MaxPacketSize = 65535

var (
	// ErrTimeout is returned by GetPacket when no packet arrived in time.
	ErrTimeout = errors.New("endpoint: timed out waiting for packet")

	// ErrDisconnected is returned once the underlying channel is closed.
	ErrDisconnected = errors.New("endpoint: disconnected")

	// ErrPacketTooLarge is returned by SendPacket for packets over MaxPacketSize.
	ErrPacketTooLarge = errors.New("endpoint: packet exceeds 65535 bytes")
)

// Endpoint is a named, whole-packet duplex channel. It owns exactly one
// underlying resource (socket, data channel, or device handle).
type Endpoint interface {
	// Name identifies the endpoint in logs, e.g. "tcp(10.0.0.5:44460)".
	Name() string

	// GetPacket blocks until a whole packet arrives. A timeout <= 0 blocks
	// indefinitely; otherwise ErrTimeout is returned when it elapses.
	// ErrDisconnected is returned after Close or when the peer goes away.
	GetPacket(timeout time.Duration) ([]byte, error)

	// SendPacket hands a whole packet to the endpoint. It may block while
	// the previous packet is still in flight.
	SendPacket(pkt []byte) error

	// Close releases the underlying resource. It is idempotent and unblocks
	// any pending GetPacket with ErrDisconnected.
	Close() error
}

// CheckSize reports ErrPacketTooLarge for packets that cannot be framed.
func CheckSize(pkt []byte) error {
	if len(pkt) > MaxPacketSize {
		return ErrPacketTooLarge
	}
	return nil
}
