// Package auth gates a freshly established Endpoint behind a shared-secret
// challenge-response exchange.
//
// The acceptor (Verifier) sends a random nonce and expects back the lowercase
// hex HMAC-SHA256 of that nonce keyed with the secret. It answers with the
// literal "success" or "failure". The dialer (Prover) computes the response
// and proceeds only on "success".
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/1ureka/holepunch/internal/endpoint"
	"github.com/1ureka/holepunch/internal/util"
)

const (
	// NonceSize is the length of the verifier's random challenge.
	NonceSize = 32

	// DefaultTimeout bounds every wait in the handshake.
	DefaultTimeout = 10 * time.Second

	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

var (
	// ErrTimeout means the peer did not answer in time.
	ErrTimeout = errors.New("auth: timed out waiting for handshake response")

	// ErrRejected means the response did not match or the verifier refused us.
	ErrRejected = errors.New("auth: handshake rejected")
)

// Handshake holds the shared secret and the per-step timeout.
type Handshake struct {
	Secret  []byte
	Timeout time.Duration // zero means DefaultTimeout
	Log     *util.Logger
}

// New returns a Handshake for the given password.
func New(password string, log *util.Logger) *Handshake {
	return &Handshake{Secret: []byte(password), Log: log}
}

func (h *Handshake) timeout() time.Duration {
	if h.Timeout <= 0 {
		return DefaultTimeout
	}
	return h.Timeout
}

// Response computes the expected answer to nonce: hex(HMAC-SHA256(secret, nonce)).
func Response(secret, nonce []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(nonce)
	sum := mac.Sum(nil)

	out := make([]byte, hex.EncodedLen(len(sum)))
	hex.Encode(out, sum)
	return out
}

// Verify runs the acceptor side on ep. On timeout or read error it returns
// without answering; on a wrong response it sends "failure". The caller owns
// ep and must close it whenever Verify returns an error.
func (h *Handshake) Verify(ep endpoint.Endpoint) error {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}

	if err := ep.SendPacket(nonce); err != nil {
		return fmt.Errorf("send nonce: %w", err)
	}

	resp, err := ep.GetPacket(h.timeout())
	if err != nil {
		return readError("response", err)
	}

	if !ConstantTimeEqual(resp, Response(h.Secret, nonce)) {
		h.Log.Warning("%s: handshake response mismatch", ep.Name())
		if err := ep.SendPacket([]byte(outcomeFailure)); err != nil {
			h.Log.Debug("%s: send failure outcome: %v", ep.Name(), err)
		}
		return ErrRejected
	}

	if err := ep.SendPacket([]byte(outcomeSuccess)); err != nil {
		return fmt.Errorf("send outcome: %w", err)
	}
	return nil
}

// Prove runs the dialer side on ep. It returns nil only when the verifier
// answered "success".
func (h *Handshake) Prove(ep endpoint.Endpoint) error {
	nonce, err := ep.GetPacket(h.timeout())
	if err != nil {
		return readError("nonce", err)
	}

	if err := ep.SendPacket(Response(h.Secret, nonce)); err != nil {
		return fmt.Errorf("send response: %w", err)
	}

	outcome, err := ep.GetPacket(h.timeout())
	if err != nil {
		return readError("outcome", err)
	}

	if string(outcome) != outcomeSuccess {
		return fmt.Errorf("%w: server replied %q", ErrRejected, outcome)
	}
	return nil
}

func readError(what string, err error) error {
	if errors.Is(err, endpoint.ErrTimeout) {
		return fmt.Errorf("%w (%s)", ErrTimeout, what)
	}
	return fmt.Errorf("read %s: %w", what, err)
}
