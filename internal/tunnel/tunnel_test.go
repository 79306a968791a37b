package tunnel

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/ipv4"

	"github.com/1ureka/holepunch/internal/endpoint"
	"github.com/1ureka/holepunch/internal/util"
)

// runForward starts Forward(src, dst) in the background and returns its
// result channel.
func runForward(ctx context.Context, src, dst endpoint.Endpoint) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- Forward(ctx, src, dst, util.Discard(), nil) }()
	return errCh
}

func TestForwardRelaysInOrder(t *testing.T) {
	srcFeed, src := endpoint.Pipe("feed", "src")
	dst, dstSink := endpoint.Pipe("dst", "sink")
	defer srcFeed.Close()
	defer dst.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runForward(ctx, src, dst)

	for i := 0; i < 20; i++ {
		require.NoError(t, srcFeed.SendPacket([]byte{byte(i), 0xee}))
	}
	for i := 0; i < 20; i++ {
		got, err := dstSink.GetPacket(time.Second)
		require.NoError(t, err)
		assert.Equal(t, []byte{byte(i), 0xee}, got)
	}
}

func TestForwardSkipsEmptyPackets(t *testing.T) {
	srcFeed, src := endpoint.Pipe("feed", "src")
	dst, dstSink := endpoint.Pipe("dst", "sink")
	defer srcFeed.Close()
	defer dst.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runForward(ctx, src, dst)

	require.NoError(t, srcFeed.SendPacket(nil))
	require.NoError(t, srcFeed.SendPacket([]byte("real")))

	got, err := dstSink.GetPacket(time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("real"), got)

	_, err = dstSink.GetPacket(100 * time.Millisecond)
	assert.ErrorIs(t, err, endpoint.ErrTimeout)
}

// smallEndpoint refuses packets over limit like a datagram transport does.
type smallEndpoint struct {
	endpoint.Endpoint
	limit int
}

func (e smallEndpoint) SendPacket(pkt []byte) error {
	if len(pkt) > e.limit {
		return endpoint.ErrPacketTooLarge
	}
	return e.Endpoint.SendPacket(pkt)
}

// TestForwardDropsOversizedPackets verifies a packet the destination cannot
// carry is dropped without ending the relay.
func TestForwardDropsOversizedPackets(t *testing.T) {
	srcFeed, src := endpoint.Pipe("feed", "src")
	dst, dstSink := endpoint.Pipe("dst", "sink")
	defer srcFeed.Close()
	defer dst.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := runForward(ctx, src, smallEndpoint{Endpoint: dst, limit: 8})

	require.NoError(t, srcFeed.SendPacket(make([]byte, 9)))
	require.NoError(t, srcFeed.SendPacket([]byte("fits")))

	got, err := dstSink.GetPacket(time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("fits"), got)

	select {
	case err := <-errCh:
		t.Fatalf("Forward stopped: %v", err)
	default:
	}
}

func TestForwardStopsOnDisconnect(t *testing.T) {
	srcFeed, src := endpoint.Pipe("feed", "src")
	dst, _ := endpoint.Pipe("dst", "sink")
	defer dst.Close()

	errCh := runForward(context.Background(), src, dst)
	srcFeed.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, endpoint.ErrDisconnected)
	case <-time.After(2 * time.Second):
		t.Fatal("Forward did not stop after the source disconnected")
	}
}

func TestForwardStopsOnWriteError(t *testing.T) {
	srcFeed, src := endpoint.Pipe("feed", "src")
	dst, dstSink := endpoint.Pipe("dst", "sink")
	defer srcFeed.Close()

	dstSink.Close()
	errCh := runForward(context.Background(), src, dst)
	require.NoError(t, srcFeed.SendPacket([]byte("lost")))

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, endpoint.ErrDisconnected)
	case <-time.After(2 * time.Second):
		t.Fatal("Forward did not stop after the destination disconnected")
	}
}

func TestForwardStopsOnCancel(t *testing.T) {
	srcFeed, src := endpoint.Pipe("feed", "src")
	dst, _ := endpoint.Pipe("dst", "sink")
	defer srcFeed.Close()
	defer dst.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := runForward(ctx, src, dst)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Forward did not observe cancellation")
	}
}

// TestBridgeBothDirections verifies packets cross both ways and that a
// remote disconnect ends the bridge without closing the local device.
func TestBridgeBothDirections(t *testing.T) {
	device, local := endpoint.Pipe("device", "tun")
	remote, peer := endpoint.Pipe("remote", "peer")
	defer device.Close()

	done := make(chan error, 1)
	go func() { done <- Bridge(context.Background(), local, remote, util.Discard()) }()

	require.NoError(t, device.SendPacket([]byte("outbound")))
	got, err := peer.GetPacket(time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("outbound"), got)

	require.NoError(t, peer.SendPacket([]byte("inbound")))
	got, err = device.GetPacket(time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("inbound"), got)

	peer.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, endpoint.ErrDisconnected)
	case <-time.After(3 * time.Second):
		t.Fatal("Bridge did not end after the remote disconnected")
	}

	// the local device is still usable
	require.NoError(t, device.SendPacket([]byte("still here")))
	got, err = local.GetPacket(time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("still here"), got)
}

func TestBridgeCancelClosesRemote(t *testing.T) {
	device, local := endpoint.Pipe("device", "tun")
	remote, peer := endpoint.Pipe("remote", "peer")
	defer device.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Bridge(ctx, local, remote, util.Discard()) }()

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Bridge did not end after cancellation")
	}

	_, err := peer.GetPacket(time.Second)
	assert.ErrorIs(t, err, endpoint.ErrDisconnected)
}

func TestDescribe(t *testing.T) {
	h := &ipv4.Header{
		Version:  ipv4.Version,
		Len:      ipv4.HeaderLen,
		TotalLen: ipv4.HeaderLen + 8,
		TTL:      64,
		Protocol: 1,
		Src:      net.ParseIP("10.93.0.2"),
		Dst:      net.ParseIP("10.93.0.1"),
	}
	hdr, err := h.Marshal()
	require.NoError(t, err)
	pkt4 := append(hdr, make([]byte, 8)...)
	assert.Equal(t, "IPv4 10.93.0.2 -> 10.93.0.1 proto=1, 28 bytes", Describe(pkt4))

	pkt6 := make([]byte, 48)
	pkt6[0] = 0x60
	pkt6[5] = 8  // payload length
	pkt6[6] = 58 // ICMPv6
	pkt6[7] = 64
	copy(pkt6[8:24], net.ParseIP("fd00::2"))
	copy(pkt6[24:40], net.ParseIP("fd00::1"))
	assert.Equal(t, "IPv6 fd00::2 -> fd00::1 next=58, 48 bytes", Describe(pkt6))

	assert.Equal(t, "3 bytes", Describe([]byte{1, 2, 3}))
	assert.Equal(t, "0 bytes", Describe(nil))
}
