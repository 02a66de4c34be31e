package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// KeySize is the length of a symmetric key in bytes.
const KeySize = 32

// ErrKeySize indicates key material of the wrong length. It is a
// configuration failure: callers must refuse to start rather than run with
// a malformed key.
var ErrKeySize = errors.New("invalid key size")

// Key is the 32-byte symmetric secret shared by both ends of a tunnel. It
// is loaded once at process start and never mutated; a rekey supersedes it
// with a fresh Key rather than changing it in place.
type Key [KeySize]byte

// GenerateKey creates a new random key from the system entropy source.
func GenerateKey() (Key, error) {
	var key Key
	if _, err := rand.Read(key[:]); err != nil {
		return Key{}, fmt.Errorf("generating key: %w", err)
	}
	return key, nil
}

// KeyFromBytes copies raw key material into a Key, failing with ErrKeySize
// unless it is exactly KeySize bytes long.
func KeyFromBytes(b []byte) (Key, error) {
	if len(b) != KeySize {
		return Key{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrKeySize, KeySize, len(b))
	}
	var key Key
	copy(key[:], b)
	return key, nil
}

// ParseKey decodes a hex-encoded key.
func ParseKey(s string) (Key, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Key{}, fmt.Errorf("decoding key hex: %w", err)
	}
	return KeyFromBytes(b)
}

// Hex returns the hex encoding of the key, as printed by genkeys for
// operator verification.
func (k Key) Hex() string {
	return hex.EncodeToString(k[:])
}

// LoadKeyFile reads a raw binary key file written by SaveKeyFile or the
// genkeys tool.
func LoadKeyFile(path string) (Key, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Key{}, fmt.Errorf("reading key file %s: %w", path, err)
	}
	key, err := KeyFromBytes(b)
	if err != nil {
		return Key{}, fmt.Errorf("key file %s: %w", path, err)
	}
	return key, nil
}

// SaveKeyFile writes the key as raw bytes with owner-only permissions,
// creating parent directories as needed.
func SaveKeyFile(path string, key Key) error {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("creating key directory %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, key[:], 0o600); err != nil {
		return fmt.Errorf("writing key file %s: %w", path, err)
	}
	// WriteFile does not narrow the mode of a pre-existing file.
	if err := os.Chmod(path, 0o600); err != nil {
		return fmt.Errorf("restricting key file %s: %w", path, err)
	}
	return nil
}

// ZeroKey erases key material in place. The zeroing dance keeps the
// compiler from eliding the overwrite.
func ZeroKey(k *Key) {
	if k == nil {
		return
	}
	zeros := make([]byte, KeySize)
	subtle.ConstantTimeCompare(k[:], zeros)
	copy(k[:], zeros)
	runtime.KeepAlive(k)
}
