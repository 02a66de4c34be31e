// Package handshake implements cipherlink's optional key-agreement mode.
//
// When both ends enable it, a session derives a fresh per-connection
// traffic key instead of encrypting traffic under the long-lived shared
// key directly. The exchange is Noise NNpsk0 (DH25519, ChaChaPoly,
// SHA256) with the shared tunnel key as the preshared key: the ephemeral
// Diffie-Hellman gives the traffic key forward secrecy, and the psk0
// placement means a peer that does not hold the shared key can neither
// read nor forge either handshake message.
//
// Two messages complete the exchange. The responder generates the traffic
// key and carries it in the encrypted payload of message 2; both sides
// then hand it to their key ring and the tunnel proceeds exactly as in
// shared-key mode.
package handshake

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/flynn/noise"

	"github.com/opd-ai/cipherlink/crypto"
)

var (
	// ErrNotComplete indicates the exchange has not produced cipher states
	// yet.
	ErrNotComplete = errors.New("handshake not complete")
	// ErrComplete indicates a message arrived after the exchange finished.
	ErrComplete = errors.New("handshake already complete")
	// ErrBadPayload indicates message 2 did not carry a 32-byte traffic key.
	ErrBadPayload = errors.New("handshake payload is not a traffic key")
)

// Role defines whether this end opens the handshake or answers it. The
// dialing side of a tunnel always initiates.
type Role uint8

const (
	// Initiator starts the exchange.
	Initiator Role = iota
	// Responder answers it and chooses the traffic key.
	Responder
)

// prologue binds both ends to the same protocol revision; a mismatch fails
// the handshake rather than the first traffic frame.
var prologue = []byte("cipherlink/1")

// Handshake runs one NNpsk0 exchange. It is single-use: a session creates
// one, drives it to completion, and discards it.
type Handshake struct {
	role     Role
	state    *noise.HandshakeState
	complete bool
}

// New creates a handshake for the given role, using the shared tunnel key
// as the Noise preshared key.
func New(role Role, psk crypto.Key) (*Handshake, error) {
	cipherSuite := noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)
	config := noise.Config{
		CipherSuite:           cipherSuite,
		Random:                rand.Reader,
		Pattern:               noise.HandshakeNN,
		Initiator:             role == Initiator,
		Prologue:              prologue,
		PresharedKey:          psk[:],
		PresharedKeyPlacement: 0,
	}

	state, err := noise.NewHandshakeState(config)
	if err != nil {
		return nil, fmt.Errorf("creating handshake state: %w", err)
	}

	return &Handshake{role: role, state: state}, nil
}

// Initiate produces handshake message 1. Initiator only.
func (h *Handshake) Initiate() ([]byte, error) {
	if h.role != Initiator {
		return nil, errors.New("only the initiator opens a handshake")
	}
	if h.complete {
		return nil, ErrComplete
	}

	msg, _, _, err := h.state.WriteMessage(nil, nil)
	if err != nil {
		return nil, fmt.Errorf("writing handshake message 1: %w", err)
	}
	return msg, nil
}

// Accept consumes message 1 and produces message 2, whose encrypted payload
// carries a fresh 32-byte traffic key of the responder's choosing. A peer
// without the preshared key fails here. Responder only.
func (h *Handshake) Accept(msg1 []byte) (crypto.Key, []byte, error) {
	if h.role != Responder {
		return crypto.Key{}, nil, errors.New("only the responder accepts a handshake")
	}
	if h.complete {
		return crypto.Key{}, nil, ErrComplete
	}

	if _, _, _, err := h.state.ReadMessage(nil, msg1); err != nil {
		return crypto.Key{}, nil, fmt.Errorf("reading handshake message 1: %w", err)
	}

	traffic, err := crypto.GenerateKey()
	if err != nil {
		return crypto.Key{}, nil, err
	}

	msg2, send, recv, err := h.state.WriteMessage(nil, traffic[:])
	if err != nil {
		return crypto.Key{}, nil, fmt.Errorf("writing handshake message 2: %w", err)
	}
	if send == nil || recv == nil {
		return crypto.Key{}, nil, ErrNotComplete
	}

	h.complete = true
	return traffic, msg2, nil
}

// Finalize consumes message 2 and returns the traffic key it carried.
// Initiator only.
func (h *Handshake) Finalize(msg2 []byte) (crypto.Key, error) {
	if h.role != Initiator {
		return crypto.Key{}, errors.New("only the initiator finalizes a handshake")
	}
	if h.complete {
		return crypto.Key{}, ErrComplete
	}

	payload, send, recv, err := h.state.ReadMessage(nil, msg2)
	if err != nil {
		return crypto.Key{}, fmt.Errorf("reading handshake message 2: %w", err)
	}
	if send == nil || recv == nil {
		return crypto.Key{}, ErrNotComplete
	}

	key, err := crypto.KeyFromBytes(payload)
	if err != nil {
		return crypto.Key{}, fmt.Errorf("%w: %d bytes", ErrBadPayload, len(payload))
	}

	h.complete = true
	return key, nil
}

// IsComplete reports whether the exchange produced a traffic key.
func (h *Handshake) IsComplete() bool {
	return h.complete
}
