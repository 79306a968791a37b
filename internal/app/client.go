// Package app contains the top-level orchestration for server and client roles.
package app

import (
	"context"
	"errors"

	"github.com/1ureka/holepunch/internal/auth"
	"github.com/1ureka/holepunch/internal/endpoint"
	"github.com/1ureka/holepunch/internal/transport"
	"github.com/1ureka/holepunch/internal/tunnel"
	"github.com/1ureka/holepunch/internal/util"
)

// ErrNoTransport is returned when every configured method failed to dial or
// authenticate.
var ErrNoTransport = errors.New("no transport method could reach the server")

// Client dials the server with each method in turn and forwards between the
// local device and the first one that authenticates.
type Client struct {
	Address string
	Methods []transport.Method
	Auth    *auth.Handshake
	Device  endpoint.Endpoint
	Log     *util.Logger
}

// Run walks TryNextMethod → Authenticating → Forwarding → Done. It returns
// ErrNoTransport if no method got through, and nil once forwarding ends.
func (c *Client) Run(ctx context.Context) error {
	remote, err := c.connect(ctx)
	if err != nil {
		return err
	}

	log := c.Log.With("%08x", util.ConnID(remote.Name()))
	log.Success("tunnel established over %s", remote.Name())

	util.Stats.AddConn()
	defer util.Stats.RemoveConn()

	if err := tunnel.Bridge(ctx, c.Device, remote, log); err != nil {
		log.Warning("tunnel closed: %v", err)
		return nil
	}

	log.Info("tunnel closed")
	return nil
}

// connect returns the first authenticated Endpoint.
func (c *Client) connect(ctx context.Context) (endpoint.Endpoint, error) {
	for _, m := range c.Methods {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		log := c.Log.With("%s", m.Name)
		log.Info("connecting to %s", c.Address)

		ep, err := m.Dial(ctx, c.Address)
		if err != nil {
			log.Warning("%v", err)
			continue
		}

		if err := c.prove(ctx, ep); err != nil {
			log.Warning("authentication over %s failed: %v", ep.Name(), err)
			ep.Close()
			continue
		}

		return ep, nil
	}

	return nil, ErrNoTransport
}

// prove runs the handshake, closing ep early if ctx is cancelled meanwhile.
func (c *Client) prove(ctx context.Context, ep endpoint.Endpoint) error {
	stop := context.AfterFunc(ctx, func() { ep.Close() })
	defer stop()

	return c.Auth.Prove(ep)
}
