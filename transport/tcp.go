package transport

import (
	"context"
	"fmt"
	"net"
)

func dialTCP(ctx context.Context, host string, opts *Options) (net.Conn, error) {
	dialer, err := newContextDialer(opts)
	if err != nil {
		return nil, err
	}

	conn, err := dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		return nil, fmt.Errorf("dial tcp %s: %w", host, err)
	}
	return conn, nil
}

func listenTCP(host string) (net.Listener, error) {
	l, err := net.Listen("tcp", host)
	if err != nil {
		return nil, fmt.Errorf("listen tcp %s: %w", host, err)
	}
	return l, nil
}
