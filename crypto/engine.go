package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// NonceSize is the length of the random nonce prefixed to every sealed box.
	NonceSize = 24

	// Overhead is the length of the authentication tag secretbox appends.
	Overhead = secretbox.Overhead

	// MaxMessageSize caps a single plaintext (1MB to prevent excessive memory usage).
	MaxMessageSize = 1024 * 1024
)

var (
	// ErrAuthFailed indicates the integrity check failed on decrypt: the box
	// was tampered with, truncated, or sealed under a different key.
	ErrAuthFailed = errors.New("decryption failed: message authentication failed")

	// ErrMessageTooLarge indicates a plaintext above MaxMessageSize.
	ErrMessageTooLarge = errors.New("message too large")
)

// Nonce is a 24-byte value used once per encryption under a given key.
type Nonce [NonceSize]byte

// GenerateNonce creates a cryptographically secure random nonce.
func GenerateNonce() (Nonce, error) {
	var nonce Nonce
	if _, err := rand.Read(nonce[:]); err != nil {
		return Nonce{}, fmt.Errorf("generating nonce: %w", err)
	}
	return nonce, nil
}

// Engine seals and opens boxes under one fixed symmetric key. It holds no
// state beyond the key, so a single Engine is safe for concurrent use by any
// number of sessions: every call is nonce-randomized and side-effect-free.
type Engine struct {
	key Key
}

// NewEngine returns an Engine operating under key.
func NewEngine(key Key) *Engine {
	return &Engine{key: key}
}

// EngineFromBytes builds an Engine from raw key material, failing fast with
// ErrKeySize when the material is not exactly KeySize bytes.
func EngineFromBytes(b []byte) (*Engine, error) {
	key, err := KeyFromBytes(b)
	if err != nil {
		return nil, err
	}
	return NewEngine(key), nil
}

// Encrypt seals plaintext under the engine key with a fresh random nonce and
// returns nonce || ciphertext_with_tag. Zero-length plaintexts are legal;
// they still produce a full nonce and tag.
func (e *Engine) Encrypt(plaintext []byte) ([]byte, error) {
	if len(plaintext) > MaxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(plaintext))
	}

	nonce, err := GenerateNonce()
	if err != nil {
		return nil, err
	}

	// Seal appends to the nonce slice, yielding the nonce-prefixed box.
	out := secretbox.Seal(nonce[:], plaintext, (*[NonceSize]byte)(&nonce), (*[KeySize]byte)(&e.key))
	return out, nil
}

// Decrypt splits box into its nonce prefix and sealed remainder using the
// engine's fixed nonce length, then authenticates and opens it. Anything
// shorter than a nonce and tag, or tampered with in any way, fails with
// ErrAuthFailed and never yields altered plaintext.
func (e *Engine) Decrypt(box []byte) ([]byte, error) {
	if len(box) < NonceSize+Overhead {
		return nil, fmt.Errorf("box of %d bytes is shorter than nonce and tag: %w", len(box), ErrAuthFailed)
	}

	var nonce Nonce
	copy(nonce[:], box[:NonceSize])

	plaintext, ok := secretbox.Open(nil, box[NonceSize:], (*[NonceSize]byte)(&nonce), (*[KeySize]byte)(&e.key))
	if !ok {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}
