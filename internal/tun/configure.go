package tun

import (
	"fmt"
	"net"
)

// Addressing is the point-to-point configuration of the tunnel interface.
type Addressing struct {
	Local   net.IP
	Peer    net.IP
	Netmask net.IPMask
}

// ParseAddressing parses dotted-quad IPv4 strings.
func ParseAddressing(local, peer, netmask string) (Addressing, error) {
	var a Addressing

	if a.Local = net.ParseIP(local).To4(); a.Local == nil {
		return a, fmt.Errorf("invalid local address %q", local)
	}
	if a.Peer = net.ParseIP(peer).To4(); a.Peer == nil {
		return a, fmt.Errorf("invalid peer address %q", peer)
	}

	mask := net.ParseIP(netmask).To4()
	if mask == nil {
		return a, fmt.Errorf("invalid netmask %q", netmask)
	}
	a.Netmask = net.IPMask(mask)
	if ones, bits := a.Netmask.Size(); ones == 0 && bits == 0 {
		return a, fmt.Errorf("netmask %q is not contiguous", netmask)
	}
	return a, nil
}

// Subnet is the network routed through the interface.
func (a Addressing) Subnet() *net.IPNet {
	return &net.IPNet{IP: a.Local.Mask(a.Netmask), Mask: a.Netmask}
}

func (a Addressing) String() string {
	return fmt.Sprintf("%s peer %s netmask %s", a.Local, a.Peer, net.IP(a.Netmask))
}
