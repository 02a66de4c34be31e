package tunnel

import (
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultKeepaliveInterval is how long a session tolerates silence in
	// either direction before sending a probe.
	DefaultKeepaliveInterval = 30 * time.Second

	// DefaultIdleTimeout is how long a session waits for any inbound frame
	// before failing with ErrIdleTimeout.
	DefaultIdleTimeout = 90 * time.Second

	// DefaultRekeyInterval is the time trigger for automatic rekeying.
	DefaultRekeyInterval = 1 * time.Hour

	// DefaultRekeyAfterBytes is the volume trigger for automatic rekeying
	// (1 GiB of sent ciphertext).
	DefaultRekeyAfterBytes = 1 << 30

	// DefaultRekeyGrace is how long the superseded key keeps decrypting
	// frames that were already in flight when the switch happened.
	DefaultRekeyGrace = 2 * time.Minute
)

// Options configures a Session. The zero value is not usable; start from
// DefaultOptions.
type Options struct {
	// Initiator marks the dialing side. It selects the handshake role and
	// which side drives automatic rekeys.
	Initiator bool

	// Handshake enables the Noise key agreement before Active. Both ends
	// must agree; a handshaking end facing a non-handshaking peer fails
	// the session during Start.
	Handshake bool

	// Compress enables snappy compression of outbound payloads. Inbound
	// compressed payloads are always accepted regardless of this setting.
	Compress bool

	// KeepaliveInterval is the silence threshold for sending probes.
	// Zero disables keepalive entirely, including the idle timeout.
	KeepaliveInterval time.Duration

	// IdleTimeout fails the session when nothing has been received for
	// this long. Must be greater than KeepaliveInterval.
	IdleTimeout time.Duration

	// RekeyInterval triggers a rekey after this much time on one key.
	// Zero disables the time trigger. Only the initiator rekeys.
	RekeyInterval time.Duration

	// RekeyAfterBytes triggers a rekey after this much sent ciphertext.
	// Zero disables the volume trigger.
	RekeyAfterBytes uint64

	// RekeyGrace is the window during which the superseded key still
	// decrypts in-flight frames after a rotation.
	RekeyGrace time.Duration
}

// DefaultOptions returns the standard session configuration: keepalive on,
// automatic rekey on, handshake and compression off.
func DefaultOptions() Options {
	return Options{
		KeepaliveInterval: DefaultKeepaliveInterval,
		IdleTimeout:       DefaultIdleTimeout,
		RekeyInterval:     DefaultRekeyInterval,
		RekeyAfterBytes:   DefaultRekeyAfterBytes,
		RekeyGrace:        DefaultRekeyGrace,
	}
}

func (o Options) validate() error {
	if o.KeepaliveInterval < 0 || o.IdleTimeout < 0 {
		return errors.New("keepalive durations cannot be negative")
	}
	if o.KeepaliveInterval > 0 && o.IdleTimeout <= o.KeepaliveInterval {
		return fmt.Errorf("idle timeout %v must exceed keepalive interval %v",
			o.IdleTimeout, o.KeepaliveInterval)
	}
	if o.RekeyInterval < 0 {
		return errors.New("rekey interval cannot be negative")
	}
	if o.RekeyGrace < 0 {
		return errors.New("rekey grace cannot be negative")
	}
	return nil
}
