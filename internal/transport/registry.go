// Package transport implements the network methods a tunnel can run over and
// the registry that maps method names to them.
//
// Every method exposes a dial function, which returns a connected Endpoint,
// and a listen function, which accepts Endpoints until its context is
// cancelled. Callers only see endpoint.Endpoint, so new methods plug in by
// registering under a new name.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"

	"github.com/1ureka/holepunch/internal/endpoint"
	"github.com/1ureka/holepunch/internal/reliable"
	"github.com/1ureka/holepunch/internal/util"
)

// Well-known ports.
const (
	DefaultTCPPort    = 44460
	DefaultUDPPort    = 44461
	DefaultWSPort     = 44462
	DefaultSignalPort = 44463
)

var (
	// ErrUnknownMethod is returned when a method name has no registration.
	ErrUnknownMethod = errors.New("transport: unknown method")

	// ErrUnsupported is returned by methods that are recognised but cannot
	// carry traffic in this build.
	ErrUnsupported = errors.New("transport: method not supported")
)

// DialFunc connects to address and returns a raw, unauthenticated Endpoint.
type DialFunc func(ctx context.Context, address string) (endpoint.Endpoint, error)

// ListenFunc accepts connections until ctx is cancelled, handing each new
// Endpoint to onAccept. onAccept must not block. A bind failure is returned
// as a *ConnectionError; cancellation returns nil.
type ListenFunc func(ctx context.Context, onAccept func(endpoint.Endpoint)) error

// Method is one named transport.
type Method struct {
	Name   string
	Dial   DialFunc
	Listen ListenFunc
}

// ConnectionError reports that a transport could not be established.
type ConnectionError struct {
	Method  string
	Address string
	Err     error
}

func (e *ConnectionError) Error() string {
	if e.Address == "" {
		return fmt.Sprintf("%s: %v", e.Method, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Method, e.Address, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Options configures the built-in methods. Zero ports take the defaults.
type Options struct {
	Log *util.Logger

	BindHost   string // listen address, empty means all interfaces
	TCPPort    int
	UDPPort    int
	WSPort     int
	SignalPort int

	Reliable   reliable.Options // udp and icmp sessions
	ICEServers []string         // webrtc, nil means Google STUN
}

func (o Options) withDefaults() Options {
	if o.TCPPort == 0 {
		o.TCPPort = DefaultTCPPort
	}
	if o.UDPPort == 0 {
		o.UDPPort = DefaultUDPPort
	}
	if o.WSPort == 0 {
		o.WSPort = DefaultWSPort
	}
	if o.SignalPort == 0 {
		o.SignalPort = DefaultSignalPort
	}
	if o.ICEServers == nil {
		o.ICEServers = stunServers
	}
	return o
}

// ──────────────────────────────────────────────────────────────────────────────
// Registry
// ──────────────────────────────────────────────────────────────────────────────

// Registry maps method names to Methods. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	methods map[string]Method
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{methods: make(map[string]Method)}
}

// NewDefaultRegistry registers every built-in method.
func NewDefaultRegistry(opts Options) *Registry {
	opts = opts.withDefaults()

	r := NewRegistry()
	r.Register(TCP(opts))
	r.Register(UDP(opts))
	r.Register(ICMP(opts))
	r.Register(DNS())
	r.Register(WebSocket(opts))
	r.Register(WebRTC(opts))
	return r
}

// Register adds or replaces a method.
func (r *Registry) Register(m Method) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.methods[m.Name] = m
}

// Lookup returns the method registered under name.
func (r *Registry) Lookup(name string) (Method, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.methods[name]
	if !ok {
		return Method{}, fmt.Errorf("%w %q", ErrUnknownMethod, name)
	}
	return m, nil
}

// Resolve looks up every name in order, failing on the first unknown one.
func (r *Registry) Resolve(names []string) ([]Method, error) {
	methods := make([]Method, 0, len(names))
	for _, name := range names {
		m, err := r.Lookup(name)
		if err != nil {
			return nil, err
		}
		methods = append(methods, m)
	}
	return methods, nil
}

// Names lists the registered method names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.methods))
	for name := range r.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ──────────────────────────────────────────────────────────────────────────────
// Address helpers
// ──────────────────────────────────────────────────────────────────────────────

// splitAddress returns host and port, using defaultPort when address carries
// no port of its own.
func splitAddress(address string, defaultPort int) (string, int, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return address, defaultPort, nil
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port %q", portStr)
	}
	return host, port, nil
}

// bindAddress is the listen address for port on opts.BindHost.
func bindAddress(opts Options, port int) string {
	return net.JoinHostPort(opts.BindHost, strconv.Itoa(port))
}
