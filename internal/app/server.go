package app

import (
	"context"
	"errors"
	"sync"

	"github.com/1ureka/holepunch/internal/auth"
	"github.com/1ureka/holepunch/internal/endpoint"
	"github.com/1ureka/holepunch/internal/transport"
	"github.com/1ureka/holepunch/internal/tunnel"
	"github.com/1ureka/holepunch/internal/util"
)

// ErrNoListener is returned when every listener failed before shutdown.
var ErrNoListener = errors.New("no transport listener is running")

// Server listens on every method at once. Each accepted Endpoint gets its own
// worker that authenticates it and then forwards until it disconnects.
type Server struct {
	Methods []transport.Method
	Auth    *auth.Handshake
	Device  endpoint.Endpoint
	Log     *util.Logger
}

// Run blocks until ctx is cancelled and every worker has returned, or until
// every listener has failed.
func (s *Server) Run(ctx context.Context) error {
	var (
		listeners sync.WaitGroup
		workers   workerGroup
		mu        sync.Mutex
		errs      []error
	)

	for _, m := range s.Methods {
		m := m
		log := s.Log.With("%s", m.Name)

		listeners.Add(1)
		go func() {
			defer listeners.Done()

			err := m.Listen(ctx, func(ep endpoint.Endpoint) {
				if !workers.Go(func() { s.serve(ctx, ep) }) {
					ep.Close()
				}
			})
			if err != nil {
				log.Error("listener stopped: %v", err)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}

	listeners.Wait()
	workers.CloseAndWait()

	if ctx.Err() != nil {
		return nil
	}
	return errors.Join(append([]error{ErrNoListener}, errs...)...)
}

// serve is one connection worker: Verify, then Bridge.
func (s *Server) serve(ctx context.Context, ep endpoint.Endpoint) {
	log := s.Log.With("%08x", util.ConnID(ep.Name()))
	log.Info("new connection %s", ep.Name())

	defer ep.Close()
	stop := context.AfterFunc(ctx, func() { ep.Close() })
	defer stop()

	if err := s.Auth.Verify(ep); err != nil {
		log.Warning("authentication failed: %v", err)
		return
	}
	log.Success("client %s authenticated", ep.Name())

	util.Stats.AddConn()
	defer util.Stats.RemoveConn()

	if err := tunnel.Bridge(ctx, s.Device, ep, log); err != nil {
		log.Info("connection closed: %v", err)
		return
	}
	log.Info("connection closed")
}

// workerGroup tracks connection workers. Once closed it refuses new ones, so
// a listener that accepts during shutdown cannot race the final Wait.
type workerGroup struct {
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// Go starts f unless the group is closed.
func (g *workerGroup) Go(f func()) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return false
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		f()
	}()
	return true
}

// CloseAndWait refuses new workers and waits for the running ones.
func (g *workerGroup) CloseAndWait() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()

	g.wg.Wait()
}
