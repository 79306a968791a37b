package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/holepunch/internal/endpoint"
	"github.com/1ureka/holepunch/internal/util"
)

const (
	signalPath  = "/signal"
	openTimeout = 15 * time.Second
)

var errOpenTimeout = errors.New("DataChannel did not open in time")

// WebRTC returns the method that signals over a WebSocket and then carries
// packets on an ordered DataChannel. The listening side makes the offer.
func WebRTC(opts Options) Method {
	opts = opts.withDefaults()
	log := opts.Log.With("webrtc")

	return Method{
		Name: "webrtc",
		Dial: func(ctx context.Context, address string) (endpoint.Endpoint, error) {
			ep, err := dialWebRTC(ctx, address, opts, log)
			if err != nil {
				return nil, &ConnectionError{Method: "webrtc", Address: address, Err: err}
			}
			return ep, nil
		},
		Listen: func(ctx context.Context, onAccept func(endpoint.Endpoint)) error {
			addr := bindAddress(opts, opts.SignalPort)
			err := serveWebSocket(ctx, addr, signalPath, log, func(conn *websocket.Conn) {
				go func() {
					ep, err := acceptWebRTC(ctx, conn, opts, log)
					if err != nil {
						log.Warning("signaling with %s failed: %v", conn.RemoteAddr(), err)
						return
					}
					onAccept(ep)
				}()
			})

			var ce *ConnectionError
			if errors.As(err, &ce) {
				ce.Method = "webrtc"
			}
			return err
		},
	}
}

// dialWebRTC connects to the signaling server, answers its offer, and waits
// for the DataChannel to open.
func dialWebRTC(ctx context.Context, address string, opts Options, log *util.Logger) (endpoint.Endpoint, error) {
	conn, err := dialWebSocket(ctx, address, opts.SignalPort, signalPath)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	name := fmt.Sprintf("webrtc(%s)", conn.RemoteAddr())
	ep, err := newRTCEndpoint(name, opts.ICEServers, log.With("%s", name))
	if err != nil {
		return nil, fmt.Errorf("create PeerConnection: %w", err)
	}

	s := newSignaler(ep, conn, log)
	errCh := make(chan error, 1)
	go func() { errCh <- s.watch() }()

	if err := waitOpen(ctx, ep, errCh); err != nil {
		ep.Close()
		return nil, err
	}
	return ep, nil
}

// acceptWebRTC runs the offering side for one signaling connection.
func acceptWebRTC(ctx context.Context, conn *websocket.Conn, opts Options, log *util.Logger) (endpoint.Endpoint, error) {
	defer conn.Close()

	name := fmt.Sprintf("webrtc(%s)", conn.RemoteAddr())
	ep, err := newRTCEndpoint(name, opts.ICEServers, log.With("%s", name))
	if err != nil {
		return nil, fmt.Errorf("create PeerConnection: %w", err)
	}

	s := newSignaler(ep, conn, log)
	errCh := make(chan error, 1)
	go func() { errCh <- s.watch() }()

	if err := s.sendOffer(); err != nil {
		ep.Close()
		return nil, fmt.Errorf("send offer: %w", err)
	}

	if err := waitOpen(ctx, ep, errCh); err != nil {
		ep.Close()
		return nil, err
	}
	return ep, nil
}

// waitOpen blocks until the DataChannel opens. A signaling error after the
// channel is already open is not a failure.
func waitOpen(ctx context.Context, ep *rtcEndpoint, errCh <-chan error) error {
	timer := time.NewTimer(openTimeout)
	defer timer.Stop()

	select {
	case <-ep.Ready():
		return nil
	case err := <-errCh:
		select {
		case <-ep.Ready():
			return nil
		default:
			return fmt.Errorf("signaling failed: %w", err)
		}
	case <-timer.C:
		return errOpenTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
