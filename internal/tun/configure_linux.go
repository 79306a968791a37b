package tun

import (
	"fmt"
	"net"

	"github.com/songgao/water"
	"github.com/vishvananda/netlink"
)

func deviceConfig(name string) water.Config {
	return water.Config{
		DeviceType:             water.TUN,
		PlatformSpecificParams: water.PlatformSpecificParams{Name: name},
	}
}

// Configure assigns the point-to-point address, brings the link up and
// routes the subnet through it.
func Configure(name string, a Addressing) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return fmt.Errorf("find link %s: %w", name, err)
	}

	addr := &netlink.Addr{
		IPNet: &net.IPNet{IP: a.Local, Mask: a.Netmask},
		Peer:  &net.IPNet{IP: a.Peer, Mask: a.Netmask},
	}
	if err := netlink.AddrReplace(link, addr); err != nil {
		return fmt.Errorf("set address on %s: %w", name, err)
	}

	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("bring %s up: %w", name, err)
	}

	route := &netlink.Route{LinkIndex: link.Attrs().Index, Dst: a.Subnet()}
	if err := netlink.RouteReplace(route); err != nil {
		return fmt.Errorf("route %s via %s: %w", a.Subnet(), name, err)
	}
	return nil
}
