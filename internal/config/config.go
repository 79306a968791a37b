// Package config holds the CLI configuration types.
package config

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"strings"

	"github.com/1ureka/holepunch/internal/util"
)

// Role represents the user's chosen role (server or client).
type Role string

const (
	RoleServer Role = "server"
	RoleClient Role = "client"
)

// Defaults shared by both roles.
const (
	DefaultPassword = "insecure"
	DefaultNetmask  = "255.255.0.0"
	DefaultServerIP = "10.93.0.1"
	DefaultClientIP = "10.93.0.2"
)

// DefaultMethods is the order the client tries transports in, and the set
// the server listens on, unless --methods says otherwise.
var DefaultMethods = []string{"tcp", "udp", "icmp", "dns"}

var (
	ErrNoAddress   = errors.New("client needs a server address")
	ErrNoMethods   = errors.New("no transport methods selected")
	ErrInvalidRole = errors.New("role must be client or server")
)

// Config stores every parameter gathered from flags or interactive prompts.
type Config struct {
	Role     Role
	Address  string   // Client: server host, optionally host:port
	Methods  []string // Transport method names in preference order
	Password string

	LocalIP string // Address of the local TUN interface
	PeerIP  string // Point-to-point peer of the TUN interface
	Netmask string

	LogLevel util.Level
}

// ParseMethods splits a comma-separated method list. Blank entries and
// duplicates are dropped; "all" expands to DefaultMethods.
func ParseMethods(s string) []string {
	var methods []string
	for _, part := range strings.Split(s, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if name == "" {
			continue
		}

		names := []string{name}
		if name == "all" {
			names = DefaultMethods
		}

		for _, n := range names {
			if !slices.Contains(methods, n) {
				methods = append(methods, n)
			}
		}
	}
	return methods
}

// ApplyDefaults fills every empty field with its role-dependent default.
func (c *Config) ApplyDefaults() {
	if len(c.Methods) == 0 {
		c.Methods = slices.Clone(DefaultMethods)
	}
	if c.Password == "" {
		c.Password = DefaultPassword
	}
	if c.Netmask == "" {
		c.Netmask = DefaultNetmask
	}

	switch c.Role {
	case RoleClient:
		if c.LocalIP == "" {
			c.LocalIP = DefaultClientIP
		}
		if c.PeerIP == "" {
			c.PeerIP = DefaultServerIP
		}
	case RoleServer:
		if c.LocalIP == "" {
			c.LocalIP = DefaultServerIP
		}
		if c.PeerIP == "" {
			c.PeerIP = c.LocalIP
		}
	}
}

// Validate checks the configuration. known lists the registered transport
// method names; an unknown method is a configuration error.
func (c *Config) Validate(known []string) error {
	var errs []error

	switch c.Role {
	case RoleClient:
		if strings.TrimSpace(c.Address) == "" {
			errs = append(errs, ErrNoAddress)
		}
	case RoleServer:
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidRole, c.Role))
	}

	if len(c.Methods) == 0 {
		errs = append(errs, ErrNoMethods)
	}
	for _, m := range c.Methods {
		if !slices.Contains(known, m) {
			errs = append(errs, fmt.Errorf("unknown transport method %q (available: %s)", m, strings.Join(known, ", ")))
		}
	}

	for _, f := range []struct{ name, value string }{
		{"ip", c.LocalIP},
		{"peer", c.PeerIP},
		{"netmask", c.Netmask},
	} {
		if net.ParseIP(f.value).To4() == nil {
			errs = append(errs, fmt.Errorf("invalid --%s %q: want an IPv4 address", f.name, f.value))
		}
	}

	return errors.Join(errs...)
}
