package crypto

import (
	"sync"
	"time"
)

// Ring holds the engines a session encrypts and decrypts with. Exactly one
// engine is current at any instant; after a rekey the superseded engine
// stays available for decryption until its grace deadline passes, covering
// frames that were already in flight when the keys swapped.
//
// Seal and Open share the mutex read-side; Rotate and Wipe take it
// exclusively.
type Ring struct {
	mu       sync.RWMutex
	current  *Engine
	previous *Engine
	retireAt time.Time
}

// NewRing returns a Ring with engine as its current key and no previous key.
func NewRing(engine *Engine) *Ring {
	return &Ring{current: engine}
}

// Seal encrypts plaintext under the current key.
func (r *Ring) Seal(plaintext []byte) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current.Encrypt(plaintext)
}

// Open decrypts box, trying the current key first and falling back to the
// previous key while its grace window holds. When both fail it reports the
// current key's error, so tampering surfaces as ErrAuthFailed regardless of
// rekey state.
func (r *Ring) Open(box []byte) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	plaintext, err := r.current.Decrypt(box)
	if err == nil {
		return plaintext, nil
	}
	if r.previous != nil && time.Now().Before(r.retireAt) {
		if plaintext, perr := r.previous.Decrypt(box); perr == nil {
			return plaintext, nil
		}
	}
	return nil, err
}

// Rotate promotes next to the current key. The old current key remains
// valid for decryption until grace elapses; zero grace wipes it at once.
// Whatever previous key was still held is wiped unconditionally.
func (r *Ring) Rotate(next Key, grace time.Duration) {
	engine := NewEngine(next)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.previous != nil {
		ZeroKey(&r.previous.key)
	}
	if grace > 0 {
		r.previous = r.current
		r.retireAt = time.Now().Add(grace)
	} else {
		ZeroKey(&r.current.key)
		r.previous = nil
		r.retireAt = time.Time{}
	}
	r.current = engine
}

// Wipe erases all key material held by the ring. The ring is unusable
// afterwards; callers do this once, at session teardown.
func (r *Ring) Wipe() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil {
		ZeroKey(&r.current.key)
	}
	if r.previous != nil {
		ZeroKey(&r.previous.key)
		r.previous = nil
	}
}
