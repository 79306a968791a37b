package transport

import (
	"sync"
	"time"

	"github.com/1ureka/holepunch/internal/endpoint"
	"github.com/1ureka/holepunch/internal/util"
)

// lingerTimeout bounds how long Close waits for a queued packet to be written.
const lingerTimeout = time.Second

// packetConn is a connection that already preserves packet boundaries.
type packetConn interface {
	ReadPacket() ([]byte, error)
	WritePacket(pkt []byte) error
	Close() error
}

// streamEndpoint adapts a packetConn to endpoint.Endpoint. One reader and one
// writer goroutine own the connection; they talk to the caller through
// single-slot mailboxes, so at most one packet per direction is in flight.
type streamEndpoint struct {
	name string
	conn packetConn
	log  *util.Logger

	inbound    *endpoint.Mailbox
	outbound   *endpoint.Mailbox
	writerDone chan struct{}

	closeOnce sync.Once
}

func newStreamEndpoint(name string, conn packetConn, log *util.Logger) *streamEndpoint {
	e := &streamEndpoint{
		name:       name,
		conn:       conn,
		log:        log,
		inbound:    endpoint.NewMailbox(),
		outbound:   endpoint.NewMailbox(),
		writerDone: make(chan struct{}),
	}

	go e.readLoop()
	go e.writeLoop()

	return e
}

func (e *streamEndpoint) Name() string { return e.name }

func (e *streamEndpoint) GetPacket(timeout time.Duration) ([]byte, error) {
	return e.inbound.Get(timeout)
}

func (e *streamEndpoint) SendPacket(pkt []byte) error {
	if err := endpoint.CheckSize(pkt); err != nil {
		return err
	}

	buf := make([]byte, len(pkt))
	copy(buf, pkt)

	if !e.outbound.Put(buf) {
		return endpoint.ErrDisconnected
	}
	return nil
}

// Close stops accepting packets, lets the writer flush a queued one, then
// closes the connection.
func (e *streamEndpoint) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.outbound.Close()
		e.inbound.Close()

		select {
		case <-e.writerDone:
		case <-time.After(lingerTimeout):
		}

		err = e.conn.Close()
	})
	return err
}

// readLoop moves whole packets from the connection into the inbound mailbox.
// A read error means the peer went away; the owner still has to Close.
func (e *streamEndpoint) readLoop() {
	for {
		pkt, err := e.conn.ReadPacket()
		if err != nil {
			select {
			case <-e.inbound.Done():
				// closed locally
			default:
				e.log.Debug("%s: read: %v", e.name, err)
			}
			e.inbound.Close()
			e.outbound.Close()
			return
		}

		if !e.inbound.Put(pkt) {
			return
		}
	}
}

// writeLoop is the single writer of the connection.
func (e *streamEndpoint) writeLoop() {
	defer close(e.writerDone)

	for {
		pkt, err := e.outbound.Get(0)
		if err != nil {
			return
		}

		if err := e.conn.WritePacket(pkt); err != nil {
			e.log.Debug("%s: write: %v", e.name, err)
			e.inbound.Close()
			e.outbound.Close()
			return
		}
	}
}
