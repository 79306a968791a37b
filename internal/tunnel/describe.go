package tunnel

import (
	"fmt"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// Describe summarizes an IP packet for trace logs, e.g.
// "IPv4 10.93.0.2 -> 10.93.0.1 proto=1, 84 bytes". Anything that does not
// parse as IP is reported by length only.
func Describe(pkt []byte) string {
	if len(pkt) == 0 {
		return "0 bytes"
	}

	switch pkt[0] >> 4 {
	case 4:
		if h, err := ipv4.ParseHeader(pkt); err == nil {
			return fmt.Sprintf("IPv4 %s -> %s proto=%d, %d bytes", h.Src, h.Dst, h.Protocol, len(pkt))
		}
	case 6:
		if h, err := ipv6.ParseHeader(pkt); err == nil {
			return fmt.Sprintf("IPv6 %s -> %s next=%d, %d bytes", h.Src, h.Dst, h.NextHeader, len(pkt))
		}
	}
	return fmt.Sprintf("%d bytes", len(pkt))
}
