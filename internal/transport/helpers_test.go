package transport

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/1ureka/holepunch/internal/endpoint"
	"github.com/1ureka/holepunch/internal/reliable"
	"github.com/1ureka/holepunch/internal/util"
)

// getFreePort asks the kernel for a free TCP port on 127.0.0.1.
func getFreePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("getFreePort: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

// getFreeUDPPort asks the kernel for a free UDP port on 127.0.0.1.
func getFreeUDPPort(t *testing.T) int {
	t.Helper()
	c, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("getFreeUDPPort: %v", err)
	}
	port := c.LocalAddr().(*net.UDPAddr).Port
	c.Close()
	return port
}

// makeTestData generates deterministic test data of the given size.
func makeTestData(size int, seed byte) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i) ^ seed
	}
	return data
}

// testOptions returns loopback options with free ports and fast timers.
func testOptions(t *testing.T) Options {
	return Options{
		Log:        util.Discard(),
		BindHost:   "127.0.0.1",
		TCPPort:    getFreePort(t),
		UDPPort:    getFreeUDPPort(t),
		WSPort:     getFreePort(t),
		SignalPort: getFreePort(t),
		Reliable: reliable.Options{
			TransmitTimeout:   200 * time.Millisecond,
			ConnectionTimeout: 2 * time.Second,
		},
	}
}

// startListener runs m.Listen until the test ends and returns the channel
// of accepted endpoints.
func startListener(t *testing.T, m Method) <-chan endpoint.Endpoint {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	accepted := make(chan endpoint.Endpoint, 8)
	done := make(chan error, 1)
	go func() {
		done <- m.Listen(ctx, func(ep endpoint.Endpoint) { accepted <- ep })
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("%s listener: %v", m.Name, err)
			}
		case <-time.After(5 * time.Second):
			t.Errorf("%s listener did not stop", m.Name)
		}
	})
	return accepted
}

// dialUntil retries m.Dial until the listener is up.
func dialUntil(t *testing.T, m Method, address string, timeout time.Duration) endpoint.Endpoint {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		ep, err := m.Dial(context.Background(), address)
		if err == nil {
			t.Cleanup(func() { ep.Close() })
			return ep
		}
		if time.Now().After(deadline) {
			t.Fatalf("dial %s %s: %v", m.Name, address, err)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func waitAccepted(t *testing.T, accepted <-chan endpoint.Endpoint) endpoint.Endpoint {
	t.Helper()
	select {
	case ep := <-accepted:
		t.Cleanup(func() { ep.Close() })
		return ep
	case <-time.After(5 * time.Second):
		t.Fatal("no connection accepted")
		return nil
	}
}

// exchange sends each packet from a to b and back, checking contents.
func exchange(t *testing.T, a, b endpoint.Endpoint, packets [][]byte) {
	t.Helper()
	for _, pkt := range packets {
		require.NoError(t, a.SendPacket(pkt))
		got, err := b.GetPacket(5 * time.Second)
		require.NoError(t, err)
		require.Equal(t, pkt, got)

		require.NoError(t, b.SendPacket(pkt))
		got, err = a.GetPacket(5 * time.Second)
		require.NoError(t, err)
		require.Equal(t, pkt, got)
	}
}

func loopback(port int) string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
}
