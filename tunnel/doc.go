// Package tunnel implements the per-connection session state machine of a
// cipherlink tunnel: framed send and receive over authenticated encryption,
// keepalive probing, mid-session rekey, and per-direction half-close.
//
// # Session Lifecycle
//
// A Session wraps one ordered, reliable byte stream (usually a TCP
// connection, but anything satisfying net.Conn works) and moves through
// Connecting, Active, Closing, and Closed in that order. With key agreement
// enabled it passes through Handshaking between Connecting and Active.
//
//	session, err := tunnel.NewSession(conn, key, tunnel.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	if err := session.Start(ctx); err != nil {
//	    return err
//	}
//	defer session.Close()
//
//	if err := session.Send([]byte("hello")); err != nil {
//	    return err
//	}
//	payload, err := session.Receive()
//
// # Concurrency
//
// A session has a single logical writer and a single logical reader: Send
// calls are serialized, Receive calls are serialized and strictly FIFO with
// respect to bytes arriving on the socket. Send and Receive may run
// concurrently with each other and with the background keepalive.
//
// # Failure Model
//
// Framing errors, authentication failures, and connections closed mid-frame
// are fatal: the stream cannot be resynchronized, so the session closes and
// every later call reports the original cause. Keepalive expiry closes the
// session with ErrIdleTimeout. A clean close of the peer's data direction
// surfaces as io.EOF from Receive, exactly like a local net.Conn.
package tunnel
