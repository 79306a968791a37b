package transport

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/holepunch/internal/util"
)

// signalType identifies the kind of signaling message.
type signalType string

const (
	signalOffer     signalType = "offer"
	signalAnswer    signalType = "answer"
	signalCandidate signalType = "candidate"
)

// signalMessage is the JSON structure exchanged over the signaling WebSocket.
type signalMessage struct {
	Type      signalType `json:"type"`
	SDP       string     `json:"sdp,omitempty"`
	Candidate string     `json:"candidate,omitempty"` // JSON-encoded ICECandidateInit
}

// signaler runs the SDP/ICE exchange for one rtcEndpoint over one WebSocket.
type signaler struct {
	ep   *rtcEndpoint
	conn *websocket.Conn
	log  *util.Logger
	mu   sync.Mutex // serializes writes to conn
}

func newSignaler(ep *rtcEndpoint, conn *websocket.Conn, log *util.Logger) *signaler {
	s := &signaler{ep: ep, conn: conn, log: log}

	// Trickle ICE candidates.
	ep.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		data, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		if err := s.send(signalMessage{Type: signalCandidate, Candidate: string(data)}); err != nil {
			s.log.Debug("send candidate: %v", err)
		}
	})

	return s
}

func (s *signaler) send(msg signalMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(msg)
}

// sendOffer creates an SDP offer, sets it as local description, and sends it.
func (s *signaler) sendOffer() error {
	offer, err := s.ep.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("CreateOffer: %w", err)
	}
	if err := s.ep.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("SetLocalDescription: %w", err)
	}
	return s.send(signalMessage{Type: signalOffer, SDP: offer.SDP})
}

// sendAnswer creates an SDP answer, sets it as local description, and sends it.
func (s *signaler) sendAnswer() error {
	answer, err := s.ep.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("CreateAnswer: %w", err)
	}
	if err := s.ep.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("SetLocalDescription: %w", err)
	}
	return s.send(signalMessage{Type: signalAnswer, SDP: answer.SDP})
}

// watch applies incoming signaling messages until the WebSocket fails.
func (s *signaler) watch() error {
	for {
		var msg signalMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read signaling message: %w", err)
		}

		switch msg.Type {
		case signalOffer:
			if err := s.ep.pc.SetRemoteDescription(webrtc.SessionDescription{
				Type: webrtc.SDPTypeOffer, SDP: msg.SDP,
			}); err != nil {
				return err
			}
			if err := s.sendAnswer(); err != nil {
				return err
			}

		case signalAnswer:
			if err := s.ep.pc.SetRemoteDescription(webrtc.SessionDescription{
				Type: webrtc.SDPTypeAnswer, SDP: msg.SDP,
			}); err != nil {
				return err
			}

		case signalCandidate:
			var init webrtc.ICECandidateInit
			if err := json.Unmarshal([]byte(msg.Candidate), &init); err != nil {
				return fmt.Errorf("parse ICE candidate: %w", err)
			}
			if err := s.ep.pc.AddICECandidate(init); err != nil {
				return err
			}
		}
	}
}
