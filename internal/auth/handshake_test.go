package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/holepunch/internal/endpoint"
	"github.com/1ureka/holepunch/internal/util"
)

// runHandshake runs Verify and Prove on the two ends of a Pipe.
func runHandshake(t *testing.T, serverSecret, clientSecret string) (verifyErr, proveErr error) {
	t.Helper()
	server, client := endpoint.Pipe("server", "client")
	defer server.Close()
	defer client.Close()

	verifier := New(serverSecret, util.Discard())
	prover := New(clientSecret, util.Discard())

	done := make(chan error, 1)
	go func() { done <- verifier.Verify(server) }()

	proveErr = prover.Prove(client)
	verifyErr = <-done
	return verifyErr, proveErr
}

func TestHandshakeAccepts(t *testing.T) {
	verifyErr, proveErr := runHandshake(t, "s3cr3t", "s3cr3t")
	assert.NoError(t, verifyErr)
	assert.NoError(t, proveErr)
}

func TestHandshakeRejectsWrongSecret(t *testing.T) {
	verifyErr, proveErr := runHandshake(t, "s3cr3t", "wrong")
	assert.ErrorIs(t, verifyErr, ErrRejected)
	assert.ErrorIs(t, proveErr, ErrRejected)
}

func TestResponseIsLowercaseHexHMAC(t *testing.T) {
	nonce := []byte("0123456789abcdef0123456789abcdef")
	mac := hmac.New(sha256.New, []byte("s3cr3t"))
	mac.Write(nonce)
	want := hex.EncodeToString(mac.Sum(nil))

	assert.Equal(t, want, string(Response([]byte("s3cr3t"), nonce)))
	assert.Len(t, want, 64)
}

// TestVerifyRejectsEveryBitFlip flips one bit of an otherwise correct response
// at each byte position and expects "failure" every time.
func TestVerifyRejectsEveryBitFlip(t *testing.T) {
	secret := []byte("s3cr3t")

	for i := 0; i < 64; i++ {
		server, peer := endpoint.Pipe("server", "peer")
		h := &Handshake{Secret: secret, Timeout: time.Second, Log: util.Discard()}

		done := make(chan error, 1)
		go func() { done <- h.Verify(server) }()

		nonce, err := peer.GetPacket(time.Second)
		require.NoError(t, err)
		require.Len(t, nonce, NonceSize)

		resp := Response(secret, nonce)
		resp[i] ^= 1 << (i % 8)
		require.NoError(t, peer.SendPacket(resp))

		outcome, err := peer.GetPacket(time.Second)
		require.NoError(t, err)
		assert.Equal(t, "failure", string(outcome), "flip at byte %d", i)
		assert.ErrorIs(t, <-done, ErrRejected)

		server.Close()
	}
}

// TestVerifyTimeout verifies a silent prover is abandoned without an outcome.
func TestVerifyTimeout(t *testing.T) {
	server, peer := endpoint.Pipe("server", "peer")
	defer peer.Close()

	h := &Handshake{Secret: []byte("x"), Timeout: 100 * time.Millisecond}

	done := make(chan error, 1)
	go func() { done <- h.Verify(server) }()

	_, err := peer.GetPacket(time.Second)
	require.NoError(t, err)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrTimeout)
	case <-time.After(2 * time.Second):
		t.Fatal("Verify did not time out")
	}

	_, err = peer.GetPacket(100 * time.Millisecond)
	assert.ErrorIs(t, err, endpoint.ErrTimeout)
}

func TestProveTimeoutWithoutNonce(t *testing.T) {
	client, server := endpoint.Pipe("client", "server")
	defer server.Close()
	defer client.Close()

	h := &Handshake{Secret: []byte("x"), Timeout: 100 * time.Millisecond}
	assert.ErrorIs(t, h.Prove(client), ErrTimeout)
}

func TestProveRejectsUnexpectedOutcome(t *testing.T) {
	client, server := endpoint.Pipe("client", "server")
	defer server.Close()
	defer client.Close()

	go func() {
		server.SendPacket(make([]byte, NonceSize))
		server.GetPacket(time.Second)
		server.SendPacket([]byte("maybe"))
	}()

	h := &Handshake{Secret: []byte("x"), Timeout: time.Second}
	assert.ErrorIs(t, h.Prove(client), ErrRejected)
}

func TestProveDisconnected(t *testing.T) {
	client, server := endpoint.Pipe("client", "server")
	server.Close()

	h := &Handshake{Secret: []byte("x"), Timeout: time.Second}
	err := h.Prove(client)
	assert.ErrorIs(t, err, endpoint.ErrDisconnected)
	assert.NotErrorIs(t, err, ErrTimeout)
}
