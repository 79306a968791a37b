package transport

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalMessageJSON(t *testing.T) {
	data, err := json.Marshal(signalMessage{Type: signalOffer, SDP: "v=0"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"offer","sdp":"v=0"}`, string(data))

	var msg signalMessage
	require.NoError(t, json.Unmarshal([]byte(`{"type":"candidate","candidate":"{}"}`), &msg))
	assert.Equal(t, signalCandidate, msg.Type)
	assert.Equal(t, "{}", msg.Candidate)
}

func TestWebRTCDialWithoutSignalServer(t *testing.T) {
	opts := testOptions(t)
	m := WebRTC(opts)

	_, err := m.Dial(context.Background(), loopback(opts.SignalPort))
	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "webrtc", ce.Method)
}

// TestWebRTCRoundTrip negotiates a DataChannel over loopback signaling using
// host candidates only.
func TestWebRTCRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping WebRTC negotiation in short mode")
	}
	if !hasExternalIPv4() {
		t.Skip("no non-loopback IPv4 interface for host candidates")
	}

	opts := testOptions(t)
	opts.ICEServers = []string{}
	m := WebRTC(opts)

	accepted := startListener(t, m)
	client := dialUntil(t, m, loopback(opts.SignalPort), 20*time.Second)
	server := waitAccepted(t, accepted)

	exchange(t, client, server, [][]byte{
		[]byte("hello over sctp"),
		makeTestData(1200, 0x21),
	})
}

func hasExternalIPv4() bool {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return false
	}
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
			return true
		}
	}
	return false
}
