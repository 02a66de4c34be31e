package tunnel

import (
	"errors"
	"io"
	"net"
	"sync"
)

// copyBufPool recycles pump copy buffers across connections.
var copyBufPool = sync.Pool{
	New: func() any {
		b := make([]byte, 32*1024)
		return &b
	},
}

// halfCloser is satisfied by *net.TCPConn, *Stream, and anything else that
// can shut down just its write side.
type halfCloser interface {
	CloseWrite() error
}

// Join pumps bytes between a and b in both directions until both reach
// EOF, then closes both ends. Each direction is independent: EOF on one
// side half-closes the opposite write side while the other direction keeps
// flowing. A read or write error tears down both ends immediately so the
// surviving direction cannot hang. The first meaningful error is returned.
func Join(a, b io.ReadWriteCloser) error {
	done := make(chan error, 2)
	go func() { done <- pump(b, a) }()
	go func() { done <- pump(a, b) }()

	var first error
	for i := 0; i < 2; i++ {
		if err := <-done; err != nil {
			if first == nil {
				first = err
			}
			_ = a.Close()
			_ = b.Close()
		}
	}
	_ = a.Close()
	_ = b.Close()

	if first != nil && isTeardownNoise(first) {
		return nil
	}
	return first
}

// pump copies src to dst until src reaches EOF, then propagates the EOF as
// a half-close of dst when dst supports one.
func pump(dst io.Writer, src io.Reader) error {
	bufp := copyBufPool.Get().(*[]byte)
	defer copyBufPool.Put(bufp)

	_, err := io.CopyBuffer(dst, src, *bufp)
	if err == nil {
		if hc, ok := dst.(halfCloser); ok {
			_ = hc.CloseWrite()
		}
	}
	return err
}

// isTeardownNoise reports whether err is just the echo of our own
// teardown: the losing direction of a torn-down pump always surfaces a
// closed-connection error.
func isTeardownNoise(err error) bool {
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, ErrSessionClosed) ||
		errors.Is(err, io.ErrClosedPipe)
}
