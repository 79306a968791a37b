// Package tunnel relays packets between the local TUN Endpoint and an
// authenticated remote Endpoint.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/1ureka/holepunch/internal/endpoint"
	"github.com/1ureka/holepunch/internal/util"
)

// pollInterval bounds how long a forwarder waits on its source before it
// rechecks its context. The TUN device is shared and never closed by a
// single connection, so this is how a forwarder reading it notices that its
// connection ended.
const pollInterval = 500 * time.Millisecond

// Forward relays packets from src to dst until ctx is cancelled or either
// side fails. Empty packets, and packets too large for dst, are logged and
// skipped. It returns nil on
// cancellation and the read or write error otherwise. onPacket, if not nil,
// is called with every forwarded packet.
func Forward(ctx context.Context, src, dst endpoint.Endpoint, log *util.Logger, onPacket func(pkt []byte)) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		pkt, err := src.GetPacket(pollInterval)
		if errors.Is(err, endpoint.ErrTimeout) {
			continue
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", src.Name(), err)
		}

		if len(pkt) == 0 {
			log.Warning("empty packet from %s, skipping", src.Name())
			continue
		}

		if log.DebugEnabled() {
			log.Debug("%s --> %s (%s)", src.Name(), dst.Name(), Describe(pkt))
		}

		if err := dst.SendPacket(pkt); err != nil {
			if errors.Is(err, endpoint.ErrPacketTooLarge) {
				log.Warning("%d-byte packet too large for %s, dropping", len(pkt), dst.Name())
				continue
			}
			return fmt.Errorf("write %s: %w", dst.Name(), err)
		}

		if onPacket != nil {
			onPacket(pkt)
		}
	}
}

// Bridge runs both forwarding directions between the local device and one
// remote Endpoint. When either direction ends, or ctx is cancelled, the
// remote Endpoint is closed and Bridge waits for the other direction. The
// local Endpoint is shared between connections and is never closed here.
//
// The returned error is whatever ended the first direction, or nil if ctx
// was cancelled.
func Bridge(parent context.Context, local, remote endpoint.Endpoint, log *util.Logger) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)

	run := func(src, dst endpoint.Endpoint, onPacket func([]byte)) {
		defer wg.Done()
		err := Forward(ctx, src, dst, log, onPacket)
		if parent.Err() != nil {
			err = nil
		}
		once.Do(func() {
			firstErr = err
			cancel()
		})
	}

	wg.Add(2)
	go run(local, remote, func(pkt []byte) { util.Stats.AddSent(len(pkt)) })
	go run(remote, local, func(pkt []byte) { util.Stats.AddRecv(len(pkt)) })

	<-ctx.Done()
	remote.Close()
	wg.Wait()

	return firstErr
}
