package tunnel

import "errors"

var (
	// ErrSessionNotStarted indicates Send or Receive before Start.
	ErrSessionNotStarted = errors.New("session not started")

	// ErrSessionClosed indicates an operation on a session that has been
	// closed locally.
	ErrSessionClosed = errors.New("session closed")

	// ErrSendClosed indicates a Send after CloseWrite.
	ErrSendClosed = errors.New("send direction closed")

	// ErrIncompleteFrame indicates the connection closed partway through a
	// frame: the peer promised more bytes than it delivered. Distinct from
	// an authentication failure, which means the bytes arrived but did not
	// verify.
	ErrIncompleteFrame = errors.New("connection closed mid-frame")

	// ErrIdleTimeout indicates nothing was received for the configured
	// idle timeout despite keepalive probes.
	ErrIdleTimeout = errors.New("keepalive timeout")

	// ErrProtocol indicates the peer sent a well-formed, authenticated
	// frame that violates the session protocol, such as a handshake
	// message after establishment or data after its own shutdown.
	ErrProtocol = errors.New("protocol violation")
)
