//go:build !linux

package tun

import (
	"fmt"
	"net"
	"os/exec"
	"strings"

	"github.com/songgao/water"
)

func deviceConfig(string) water.Config {
	return water.Config{DeviceType: water.TUN}
}

// Configure runs ifconfig to assign the point-to-point address and bring the
// interface up.
func Configure(name string, a Addressing) error {
	args := []string{name, a.Local.String(), a.Peer.String(), "netmask", net.IP(a.Netmask).String(), "up"}
	out, err := exec.Command("/sbin/ifconfig", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("ifconfig %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}
