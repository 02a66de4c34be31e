// Package relay serves the SOCKS5 subset a cipherlink server speaks over
// the decrypted tunnel stream: no-authentication method selection, CONNECT
// to IPv4, IPv6, or domain targets, and a bidirectional pump between the
// tunnel and the upstream connection once established.
//
// A failed CONNECT produces the matching failure reply and leaves the
// stream open for another attempt; only malformed traffic or a successful
// relay ends Serve.
package relay

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/cipherlink/tunnel"
)

// DefaultDialTimeout bounds one upstream connection attempt.
const DefaultDialTimeout = 10 * time.Second

// Dialer opens upstream connections. *net.Dialer satisfies it, as do the
// proxy-aware dialers in the transport package.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Relay answers SOCKS5 requests arriving over tunnel streams.
type Relay struct {
	dialer Dialer
	log    *logrus.Entry
}

// New creates a relay that opens upstream connections with dialer. A nil
// dialer gets a plain net.Dialer with the default timeout.
func New(dialer Dialer) *Relay {
	if dialer == nil {
		dialer = &net.Dialer{Timeout: DefaultDialTimeout}
	}
	return &Relay{
		dialer: dialer,
		log:    logrus.WithField("component", "Relay"),
	}
}

// Serve speaks SOCKS5 over conn until one CONNECT succeeds, then pumps
// bytes between conn and the upstream target until both directions finish.
// Dial failures reply through conn and loop for the next request, so a
// peer can retry without rebuilding its tunnel. Serve closes conn before
// returning.
func (r *Relay) Serve(ctx context.Context, conn io.ReadWriteCloser) error {
	defer conn.Close()

	if err := negotiate(conn); err != nil {
		r.log.WithFields(logrus.Fields{"error": err}).Warn("SOCKS negotiation failed")
		return err
	}

	for {
		req, err := readRequest(conn)
		if err != nil {
			if errors.Is(err, io.EOF) {
				// Peer hung up instead of sending another request.
				return nil
			}
			r.log.WithFields(logrus.Fields{"error": err}).Warn("SOCKS request rejected")
			return err
		}

		if req.cmd != cmdConnect {
			r.log.WithFields(logrus.Fields{"command": req.cmd}).Warn("Unsupported SOCKS command")
			if err := writeReply(conn, replyCommandNotSupported, nil); err != nil {
				return err
			}
			continue
		}

		target, err := r.dialer.DialContext(ctx, "tcp", req.target())
		if err != nil {
			r.log.WithFields(logrus.Fields{
				"target": req.target(),
				"error":  err,
			}).Warn("Upstream connect failed")
			if err := writeReply(conn, dialReplyCode(err), nil); err != nil {
				return err
			}
			continue
		}

		if err := writeReply(conn, replySucceeded, target.LocalAddr()); err != nil {
			_ = target.Close()
			return err
		}

		r.log.WithFields(logrus.Fields{"target": req.target()}).Info("Relay established")
		return tunnel.Join(conn, target)
	}
}

// dialReplyCode maps a dial failure onto the closest SOCKS5 reply code:
// timeouts and resolution failures read as host unreachable, everything
// else as connection refused.
func dialReplyCode(err error) byte {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return replyHostUnreachable
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return replyHostUnreachable
	}
	return replyConnectionRefused
}
