package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/1ureka/holepunch/internal/endpoint"
	"github.com/1ureka/holepunch/internal/protocol"
	"github.com/1ureka/holepunch/internal/reliable"
	"github.com/1ureka/holepunch/internal/util"
)

// datagramSocket is an unreliable socket shared by the udp and icmp methods.
// ReadFrom returns the payload of one datagram addressed to us.
// MaxDatagramSize is the largest payload WriteTo can send in one datagram.
type datagramSocket interface {
	ReadFrom() ([]byte, net.Addr, error)
	WriteTo(payload []byte, to net.Addr) error
	MaxDatagramSize() int
	Close() error
}

// peerEndpoint is the unreliable Endpoint for one remote peer on a
// datagramSocket. Its inbox is fed by whoever reads the socket.
type peerEndpoint struct {
	name    string
	sock    datagramSocket
	addr    net.Addr
	inbox   *endpoint.Mailbox
	onClose func()
	once    sync.Once
}

func (p *peerEndpoint) Name() string { return p.name }

func (p *peerEndpoint) GetPacket(timeout time.Duration) ([]byte, error) {
	return p.inbox.Get(timeout)
}

// MaxDatagramSize lets the reliable session refuse packets the socket
// could never send.
func (p *peerEndpoint) MaxDatagramSize() int { return p.sock.MaxDatagramSize() }

func (p *peerEndpoint) SendPacket(pkt []byte) error {
	if len(pkt) > p.sock.MaxDatagramSize() {
		return endpoint.ErrPacketTooLarge
	}
	select {
	case <-p.inbox.Done():
		return endpoint.ErrDisconnected
	default:
	}
	return p.sock.WriteTo(pkt, p.addr)
}

func (p *peerEndpoint) Close() error {
	p.once.Do(func() {
		p.inbox.Close()
		if p.onClose != nil {
			p.onClose()
		}
	})
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Client side
// ──────────────────────────────────────────────────────────────────────────────

// dialDatagram wraps sock in a reliable session talking to peer only. The
// session owns the socket.
func dialDatagram(name string, sock datagramSocket, peer net.Addr, opts reliable.Options, log *util.Logger) *reliable.Session {
	p := &peerEndpoint{
		name:  name,
		sock:  sock,
		addr:  peer,
		inbox: endpoint.NewMailbox(),
	}
	p.onClose = func() { sock.Close() }

	go func() {
		for {
			data, from, err := sock.ReadFrom()
			if err != nil {
				p.Close()
				return
			}
			if from.String() != peer.String() {
				continue
			}
			if !p.inbox.Put(data) {
				return
			}
		}
	}()

	return reliable.New(p, opts, log)
}

// ──────────────────────────────────────────────────────────────────────────────
// Server side
// ──────────────────────────────────────────────────────────────────────────────

// datagramMux demultiplexes one server socket into per-peer sessions keyed
// by remote address.
type datagramMux struct {
	method string
	sock   datagramSocket
	opts   reliable.Options
	log    *util.Logger

	mu      sync.Mutex
	routes  map[string]*peerEndpoint
	retired map[string]time.Time // closed peer key -> end of quarantine
}

func newDatagramMux(method string, sock datagramSocket, opts reliable.Options, log *util.Logger) *datagramMux {
	return &datagramMux{
		method:  method,
		sock:    sock,
		opts:    opts,
		log:     log,
		routes:  make(map[string]*peerEndpoint),
		retired: make(map[string]time.Time),
	}
}

// quarantine is how long datagrams from a closed peer are ignored. The
// remote session keeps sending keep-alives until it has heard nothing for a
// full connection timeout, so the key stays retired for twice that. A real
// reconnect always comes from a new port or echo ID.
func (m *datagramMux) quarantine() time.Duration {
	return 2 * m.opts.IdleTimeout()
}

// serve reads the socket until ctx is cancelled. A datagram from an unknown
// peer opens a new session only if it is a KEEPALIVE, which every session
// sends first; anything else is a leftover from a closed session. Peers
// whose session closed recently are ignored entirely, so their keep-alives
// cannot reopen a session and the remote side times out.
func (m *datagramMux) serve(ctx context.Context, onAccept func(endpoint.Endpoint)) error {
	go func() {
		<-ctx.Done()
		m.sock.Close()
	}()

	defer m.closeAll()

	for {
		data, from, err := m.sock.ReadFrom()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return &ConnectionError{Method: m.method, Err: err}
		}

		if p, ok := m.route(from); ok {
			if !p.inbox.TryPut(data) {
				m.log.Debug("%s: inbox full, dropping datagram", p.name)
			}
			continue
		}

		if !protocol.IsKeepAlive(data) || m.isRetired(from) {
			continue
		}

		p := m.register(from)
		m.log.Debug("new peer %s", p.name)
		onAccept(reliable.New(p, m.opts, m.log.With("%s", p.name)))
	}
}

func (m *datagramMux) route(addr net.Addr) (*peerEndpoint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.routes[addr.String()]
	return p, ok
}

// register adds a route for addr that is removed when the peer closes.
func (m *datagramMux) register(addr net.Addr) *peerEndpoint {
	key := addr.String()
	p := &peerEndpoint{
		name:  m.method + "(" + key + ")",
		sock:  m.sock,
		addr:  addr,
		inbox: endpoint.NewMailbox(),
	}
	p.onClose = func() {
		m.mu.Lock()
		if m.routes[key] == p {
			delete(m.routes, key)
			m.retired[key] = time.Now().Add(m.quarantine())
		}
		m.mu.Unlock()
	}

	m.mu.Lock()
	m.routes[key] = p
	m.mu.Unlock()

	return p
}

// isRetired reports whether addr belongs to a recently closed session. It
// also forgets quarantines that have run out.
func (m *datagramMux) isRetired(addr net.Addr) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for key, until := range m.retired {
		if now.After(until) {
			delete(m.retired, key)
		}
	}
	_, ok := m.retired[addr.String()]
	return ok
}

// closeAll disconnects every peer once the socket is gone.
func (m *datagramMux) closeAll() {
	m.mu.Lock()
	peers := make([]*peerEndpoint, 0, len(m.routes))
	for _, p := range m.routes {
		peers = append(peers, p)
	}
	m.mu.Unlock()

	for _, p := range peers {
		p.Close()
	}
}
