// Package reliable turns an unreliable datagram Endpoint into an ordered,
// acknowledged one using a stop-and-wait scheme.
//
// Every DATA packet carries a 16-bit sequence number and is retransmitted
// until the peer acknowledges it. The receiver accepts only the next
// expected sequence and re-acknowledges anything else, so duplicates and
// reordered packets are discarded. Idle links exchange KEEPALIVE packets and
// a session that hears nothing for ConnectionTimeout is dropped.
package reliable

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/1ureka/holepunch/internal/endpoint"
	"github.com/1ureka/holepunch/internal/protocol"
	"github.com/1ureka/holepunch/internal/util"
)

const (
	DefaultTransmitTimeout   = 1 * time.Second
	DefaultConnectionTimeout = 10 * time.Second
)

// MaxPayload is the largest packet a Session accepts from its caller when
// the underlying Endpoint has no smaller limit.
const MaxPayload = endpoint.MaxPacketSize - protocol.HeaderSize

// SizeLimited is implemented by underlying Endpoints that cannot carry a
// full endpoint.MaxPacketSize datagram, such as UDP over IPv4.
type SizeLimited interface {
	MaxDatagramSize() int
}

// ErrSessionDropped is returned once the peer has been silent for longer than
// the connection timeout.
var ErrSessionDropped = fmt.Errorf("%w: session dropped", endpoint.ErrDisconnected)

// Options tunes the session timers. Zero values take the defaults.
type Options struct {
	TransmitTimeout   time.Duration // wait for an ACK before retransmitting
	ConnectionTimeout time.Duration // silence after which the session is dropped
}

func (o Options) withDefaults() Options {
	if o.TransmitTimeout <= 0 {
		o.TransmitTimeout = DefaultTransmitTimeout
	}
	if o.ConnectionTimeout <= 0 {
		o.ConnectionTimeout = DefaultConnectionTimeout
	}
	return o
}

// IdleTimeout is how long a session waits without hearing from its peer
// before it is dropped.
func (o Options) IdleTimeout() time.Duration {
	return o.withDefaults().ConnectionTimeout
}

// KeepAliveInterval is how long the sender may stay idle before it emits a
// KEEPALIVE.
func (o Options) KeepAliveInterval() time.Duration {
	return o.withDefaults().ConnectionTimeout / 4
}

// Session is a reliable Endpoint layered over an unreliable one. It owns the
// underlying Endpoint and closes it on Close or when the session drops.
type Session struct {
	under      endpoint.Endpoint
	opts       Options
	log        *util.Logger
	maxPayload int

	outbound *endpoint.Mailbox // caller -> sender goroutine
	inbound  *endpoint.Mailbox // receiver goroutine -> caller
	acks     chan uint16       // latest ACK seen, replaced on overflow

	sendSeq uint16 // last acknowledged outbound seq, sender goroutine only
	recvSeq uint16 // last accepted inbound seq, receiver goroutine only

	dropped    atomic.Bool
	done       chan struct{} // closed when the session stops
	senderDone chan struct{}
	once       sync.Once
}

// New wraps under and starts the sender and receiver goroutines. The first
// thing the session transmits is a KEEPALIVE, so a listening peer learns of
// it before any data flows.
func New(under endpoint.Endpoint, opts Options, log *util.Logger) *Session {
	s := newSession(under, opts, log)
	s.start()
	return s
}

func newSession(under endpoint.Endpoint, opts Options, log *util.Logger) *Session {
	s := &Session{
		under:      under,
		opts:       opts.withDefaults(),
		log:        log,
		maxPayload: MaxPayload,
		outbound:   endpoint.NewMailbox(),
		inbound:    endpoint.NewMailbox(),
		acks:       make(chan uint16, 1),
		done:       make(chan struct{}),
		senderDone: make(chan struct{}),
	}

	if l, ok := under.(SizeLimited); ok {
		if n := l.MaxDatagramSize() - protocol.HeaderSize; n < s.maxPayload {
			s.maxPayload = n
		}
	}
	return s
}

func (s *Session) start() {
	go s.sendLoop()
	go s.recvLoop()
}

// MaxPayloadSize is the largest packet SendPacket accepts.
func (s *Session) MaxPayloadSize() int { return s.maxPayload }

func (s *Session) Name() string { return s.under.Name() }

// Dropped reports whether the session ended because the peer went silent.
func (s *Session) Dropped() bool { return s.dropped.Load() }

// GetPacket returns the next in-order payload from the peer.
func (s *Session) GetPacket(timeout time.Duration) ([]byte, error) {
	pkt, err := s.inbound.Get(timeout)
	if errors.Is(err, endpoint.ErrDisconnected) && s.dropped.Load() {
		return nil, ErrSessionDropped
	}
	return pkt, err
}

// SendPacket queues pkt for transmission. It blocks while the previous packet
// is still waiting for its ACK. Packets over MaxPayloadSize are refused with
// endpoint.ErrPacketTooLarge and never reach the wire.
func (s *Session) SendPacket(pkt []byte) error {
	if len(pkt) > s.maxPayload {
		return endpoint.ErrPacketTooLarge
	}

	buf := make([]byte, len(pkt))
	copy(buf, pkt)

	if !s.outbound.Put(buf) {
		if s.dropped.Load() {
			return ErrSessionDropped
		}
		return endpoint.ErrDisconnected
	}
	return nil
}

// Close stops both goroutines and closes the underlying Endpoint. A packet
// already queued by SendPacket gets up to two transmit timeouts to be
// acknowledged first, so a final reply such as an auth outcome is not lost.
func (s *Session) Close() error {
	return s.shutdown(true)
}

func (s *Session) shutdown(linger bool) error {
	var err error
	s.once.Do(func() {
		s.outbound.Close()
		if linger {
			select {
			case <-s.senderDone:
			case <-time.After(2 * s.opts.TransmitTimeout):
			}
		}
		close(s.done)
		s.inbound.Close()
		err = s.under.Close()
	})
	return err
}

// ──────────────────────────────────────────────────────────────────────────────
// Sender
// ──────────────────────────────────────────────────────────────────────────────

func (s *Session) sendLoop() {
	defer close(s.senderDone)

	idle := s.opts.ConnectionTimeout / 4

	if !s.sendControl(protocol.TypeKeepAlive, 0) {
		return
	}

	for {
		payload, err := s.outbound.Get(idle)
		if errors.Is(err, endpoint.ErrTimeout) {
			if !s.sendControl(protocol.TypeKeepAlive, 0) {
				return
			}
			continue
		}
		if err != nil {
			return
		}

		seq := s.sendSeq + 1
		if !s.transmit(seq, payload) {
			return
		}
		s.sendSeq = seq
	}
}

// transmit sends one DATA packet and resends it every TransmitTimeout until
// the matching ACK arrives. It returns false if the session closed first.
func (s *Session) transmit(seq uint16, payload []byte) bool {
	data := protocol.Encode(&protocol.Packet{
		Type:    protocol.TypeData,
		Seq:     seq,
		Payload: payload,
	})

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			s.log.Debug("retransmit DATA seq=%d (attempt %d)", seq, attempt+1)
		}
		if !s.write(data) {
			return false
		}

		expired := time.After(s.opts.TransmitTimeout)

	wait:
		for {
			select {
			case ack := <-s.acks:
				if ack == seq {
					return true
				}
				// stale or mismatched ACK, keep waiting
			case <-expired:
				break wait
			case <-s.done:
				return false
			}
		}
	}
}

// sendControl transmits an ACK or KEEPALIVE.
func (s *Session) sendControl(typ uint8, seq uint16) bool {
	return s.write(protocol.Encode(&protocol.Packet{Type: typ, Seq: seq}))
}

// write hands a datagram to the underlying Endpoint. Transient send errors
// are left to the retransmit timer; a disconnected Endpoint ends the session.
func (s *Session) write(data []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	err := s.under.SendPacket(data)
	if err == nil {
		return true
	}
	if errors.Is(err, endpoint.ErrDisconnected) {
		s.shutdown(false)
		return false
	}

	s.log.Debug("send %s failed: %v", protocol.TypeName(data[0]), err)
	return true
}

// pushAck records the newest ACK for the sender, replacing an unread one.
func (s *Session) pushAck(seq uint16) {
	for {
		select {
		case s.acks <- seq:
			return
		default:
		}
		select {
		case <-s.acks:
		default:
		}
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Receiver
// ──────────────────────────────────────────────────────────────────────────────

func (s *Session) recvLoop() {
	for {
		raw, err := s.under.GetPacket(s.opts.ConnectionTimeout)
		if errors.Is(err, endpoint.ErrTimeout) {
			s.dropped.Store(true)
			s.log.Warning("no packet from peer in %v, dropping session", s.opts.ConnectionTimeout)
			s.shutdown(false)
			return
		}
		if err != nil {
			s.shutdown(false)
			return
		}

		pkt, err := protocol.Decode(raw)
		if err != nil {
			s.log.Debug("discarding malformed datagram: %v", err)
			continue
		}

		switch pkt.Type {
		case protocol.TypeKeepAlive:
			// liveness only

		case protocol.TypeAck:
			s.pushAck(pkt.Seq)

		case protocol.TypeData:
			if pkt.Seq != s.recvSeq+1 {
				s.log.Debug("discarding DATA seq=%d, expected %d", pkt.Seq, s.recvSeq+1)
				s.sendControl(protocol.TypeAck, s.recvSeq)
				continue
			}

			s.recvSeq = pkt.Seq
			s.sendControl(protocol.TypeAck, pkt.Seq)
			if !s.inbound.Put(pkt.Payload) {
				return
			}

		default:
			s.log.Debug("discarding packet of unknown type 0x%02x", pkt.Type)
		}
	}
}
