package transport

import (
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/holepunch/internal/endpoint"
	"github.com/1ureka/holepunch/internal/util"
)

const (
	highWaterMark = 256 * 1024 // pause sending when bufferedAmount exceeds this
	lowWaterMark  = 64 * 1024  // resume sending when bufferedAmount drops below this
)

// rtcSender is the single writer of a DataChannel. It adds an open gate and
// bufferedAmount backpressure in front of dc.Send.
type rtcSender struct {
	inbox       *endpoint.Mailbox
	drainSignal chan struct{}
	done        chan struct{}
}

// newRTCSender wires the backpressure callbacks on dc and starts the loop.
// The loop exits when closed is closed or the inbox is closed.
func newRTCSender(dc *webrtc.DataChannel, openSignal, closed <-chan struct{}, log *util.Logger) *rtcSender {
	s := &rtcSender{
		inbox:       endpoint.NewMailbox(),
		drainSignal: make(chan struct{}, 1),
		done:        make(chan struct{}),
	}

	dc.SetBufferedAmountLowThreshold(uint64(lowWaterMark))
	dc.OnBufferedAmountLow(func() {
		select {
		case s.drainSignal <- struct{}{}:
		default:
		}
	})

	go s.loop(dc, openSignal, closed, log)

	return s
}

// loop waits for the DataChannel to open, then drains the inbox.
func (s *rtcSender) loop(dc *webrtc.DataChannel, openSignal, closed <-chan struct{}, log *util.Logger) {
	defer close(s.done)

	// Phase 1: wait for DC to be open.
	select {
	case <-openSignal:
	case <-s.inbox.Done():
		return
	case <-closed:
		return
	}

	// Phase 2: send packets with backpressure.
	for {
		pkt, err := s.inbox.Get(0)
		if err != nil {
			return
		}

		if dc.BufferedAmount() > uint64(highWaterMark) {
			select {
			case <-s.drainSignal:
			case <-closed:
				return
			}
		}

		if err := dc.Send(pkt); err != nil {
			log.Debug("DataChannel send failed: %v", err)
			s.inbox.Close()
			return
		}
	}
}
