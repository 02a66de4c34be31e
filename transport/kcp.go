package transport

import (
	"fmt"
	"net"

	kcp "github.com/xtaci/kcp-go/v5"
)

// KCP parameters, fixed on both sides so forward error correction shards
// line up.
//
// nodelay=1, interval=10ms, resend after 2 duplicate ACKs, congestion
// window off. Stream mode lets KCP coalesce frames instead of preserving
// write boundaries, which the length-prefixed protocol does not need.
const (
	kcpDataShards   = 10
	kcpParityShards = 3
	kcpMTU          = 1350
	kcpWindowSize   = 1024
)

func tuneKCP(sess *kcp.UDPSession) {
	sess.SetNoDelay(1, 10, 2, 1)
	sess.SetMtu(kcpMTU)
	sess.SetWindowSize(kcpWindowSize, kcpWindowSize)
	sess.SetACKNoDelay(false)
	sess.SetStreamMode(true)
}

func dialKCP(host string) (net.Conn, error) {
	sess, err := kcp.DialWithOptions(host, nil, kcpDataShards, kcpParityShards)
	if err != nil {
		return nil, fmt.Errorf("dial kcp %s: %w", host, err)
	}
	tuneKCP(sess)
	return sess, nil
}

func listenKCP(host string) (net.Listener, error) {
	l, err := kcp.ListenWithOptions(host, nil, kcpDataShards, kcpParityShards)
	if err != nil {
		return nil, fmt.Errorf("listen kcp %s: %w", host, err)
	}
	return &kcpListener{l}, nil
}

// kcpListener tunes each accepted session before handing it out.
type kcpListener struct {
	*kcp.Listener
}

func (l *kcpListener) Accept() (net.Conn, error) {
	sess, err := l.AcceptKCP()
	if err != nil {
		return nil, err
	}
	tuneKCP(sess)
	return sess, nil
}
