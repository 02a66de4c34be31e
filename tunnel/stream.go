package tunnel

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/opd-ai/cipherlink/protocol"
)

// ErrNoDeadline is returned by the deadline methods of Stream: a tunnel
// stream's reads are bounded by the session keepalive, not by deadlines.
var ErrNoDeadline = errors.New("deadlines not supported on tunnel streams")

// Stream adapts a Session to net.Conn so byte-oriented code such as the
// relay and io.Copy can treat the decrypted tunnel as an ordinary
// connection. Writes are chunked to the maximum payload size; reads
// buffer whatever part of a payload the caller did not consume.
type Stream struct {
	session *Session

	mu   sync.Mutex
	rbuf []byte
}

// NewStream wraps session. The session must already be Active.
func NewStream(session *Session) *Stream {
	return &Stream{session: session}
}

// Read returns decrypted bytes from the peer, blocking until some arrive.
// It reports io.EOF after the peer closes its data direction.
func (st *Stream) Read(p []byte) (int, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	for len(st.rbuf) == 0 {
		payload, err := st.session.Receive()
		if err != nil {
			return 0, err
		}
		st.rbuf = payload
	}

	n := copy(p, st.rbuf)
	st.rbuf = st.rbuf[n:]
	return n, nil
}

// Write encrypts and sends p, splitting it into as many frames as the
// payload cap requires.
func (st *Stream) Write(p []byte) (int, error) {
	var total int
	for len(p) > 0 {
		chunk := p
		if len(chunk) > protocol.MaxPayloadSize {
			chunk = chunk[:protocol.MaxPayloadSize]
		}
		if err := st.session.Send(chunk); err != nil {
			return total, err
		}
		total += len(chunk)
		p = p[len(chunk):]
	}
	return total, nil
}

// CloseWrite half-closes the stream: the peer sees EOF once in-flight data
// drains, while reads continue to work.
func (st *Stream) CloseWrite() error {
	return st.session.CloseWrite()
}

// Close closes the whole session.
func (st *Stream) Close() error {
	return st.session.Close()
}

// LocalAddr returns the underlying connection's local address.
func (st *Stream) LocalAddr() net.Addr {
	return st.session.conn.LocalAddr()
}

// RemoteAddr returns the underlying connection's remote address.
func (st *Stream) RemoteAddr() net.Addr {
	return st.session.conn.RemoteAddr()
}

// SetDeadline is unsupported; see ErrNoDeadline.
func (st *Stream) SetDeadline(time.Time) error { return ErrNoDeadline }

// SetReadDeadline is unsupported; see ErrNoDeadline.
func (st *Stream) SetReadDeadline(time.Time) error { return ErrNoDeadline }

// SetWriteDeadline is unsupported; see ErrNoDeadline.
func (st *Stream) SetWriteDeadline(time.Time) error { return ErrNoDeadline }
