package transport

import (
	"errors"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/holepunch/internal/endpoint"
	"github.com/1ureka/holepunch/internal/util"
)

// rtcEndpoint wraps one PeerConnection and its DataChannel as an Endpoint.
// Each DataChannel message is one packet.
//
// Its lifecycle is governed by the DataChannel: when the channel closes the
// Endpoint reports ErrDisconnected. The PeerConnection state is only logged,
// except that a failed connection closes the Endpoint.
type rtcEndpoint struct {
	name string
	pc   *webrtc.PeerConnection
	dc   *webrtc.DataChannel
	log  *util.Logger

	inbound    *endpoint.Mailbox
	sender     *rtcSender
	openSignal chan struct{}
	closed     chan struct{}

	closeOnce sync.Once
}

// newRTCEndpoint creates a PeerConnection with a pre-negotiated DataChannel.
// The caller performs signaling, then waits on Ready.
func newRTCEndpoint(name string, iceServers []string, log *util.Logger) (*rtcEndpoint, error) {
	pc, err := newPeerConnection(iceServers)
	if err != nil {
		return nil, err
	}

	dc, err := newDataChannel(pc)
	if err != nil {
		pc.Close()
		return nil, err
	}

	e := &rtcEndpoint{
		name:       name,
		pc:         pc,
		dc:         dc,
		log:        log,
		inbound:    endpoint.NewMailbox(),
		openSignal: make(chan struct{}),
		closed:     make(chan struct{}),
	}

	// DC open gate.
	var openOnce sync.Once
	dc.OnOpen(func() {
		openOnce.Do(func() { close(e.openSignal) })
	})

	// DC close → Endpoint disconnected.
	dc.OnClose(func() {
		log.Debug("DataChannel closed")
		e.inbound.Close()
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		e.inbound.Put(msg.Data)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Debug("PeerConnection state: %s", state.String())
		if state == webrtc.PeerConnectionStateFailed {
			e.inbound.Close()
		}
	})

	e.sender = newRTCSender(dc, e.openSignal, e.closed, log)

	return e, nil
}

// Ready is closed once the DataChannel is open.
func (e *rtcEndpoint) Ready() <-chan struct{} { return e.openSignal }

func (e *rtcEndpoint) Name() string { return e.name }

func (e *rtcEndpoint) GetPacket(timeout time.Duration) ([]byte, error) {
	return e.inbound.Get(timeout)
}

func (e *rtcEndpoint) SendPacket(pkt []byte) error {
	if err := endpoint.CheckSize(pkt); err != nil {
		return err
	}

	select {
	case <-e.inbound.Done():
		return endpoint.ErrDisconnected
	default:
	}

	buf := make([]byte, len(pkt))
	copy(buf, pkt)

	if !e.sender.inbox.Put(buf) {
		return endpoint.ErrDisconnected
	}
	return nil
}

// Close flushes a queued packet, then shuts down the DataChannel and
// PeerConnection.
func (e *rtcEndpoint) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.sender.inbox.Close()
		select {
		case <-e.sender.done:
		case <-time.After(lingerTimeout):
		}

		close(e.closed)
		e.inbound.Close()
		err = errors.Join(e.dc.Close(), e.pc.Close())
	})
	return err
}
