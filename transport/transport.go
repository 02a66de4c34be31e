// Package transport selects the carrier tunnel connections run over.
//
// Endpoints are URLs: tcp://host:port, ws://host:port/path (wss:// for
// TLS) and kcp://host:port. A bare host:port means tcp. Every carrier
// delivers an ordered reliable byte stream as a net.Conn; the tunnel
// layer above does not care which one is in play.
//
// Outbound connections over TCP-based carriers can be routed through a
// SOCKS5 or HTTP CONNECT proxy. KCP runs over UDP and cannot.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultDialTimeout bounds outbound connection attempts when the caller
// does not set one.
const DefaultDialTimeout = 30 * time.Second

var (
	// ErrUnsupportedScheme indicates an endpoint URL with a scheme no
	// carrier implements.
	ErrUnsupportedScheme = errors.New("unsupported transport scheme")

	// ErrProxyUnsupported indicates a proxy was configured for a carrier
	// that cannot be proxied.
	ErrProxyUnsupported = errors.New("transport cannot use a proxy")

	// ErrTLSRequired indicates a wss listener was requested without a
	// certificate to serve.
	ErrTLSRequired = errors.New("wss listener requires a TLS certificate")
)

var log = logrus.WithField("component", "Transport")

// Options adjust how connections are dialed and accepted. The zero value
// (and a nil pointer) mean direct dialing with default timeouts.
type Options struct {
	// ProxyURL routes outbound connections through a proxy:
	// socks5://[user:pass@]host:port or http://[user:pass@]host:port.
	ProxyURL string

	// TLSConfig supplies certificates for wss listeners and verification
	// settings for wss dials.
	TLSConfig *tls.Config

	// DialTimeout bounds outbound connection attempts. Zero means
	// DefaultDialTimeout.
	DialTimeout time.Duration
}

func (o *Options) proxyURL() string {
	if o == nil {
		return ""
	}
	return o.ProxyURL
}

func (o *Options) tlsConfig() *tls.Config {
	if o == nil {
		return nil
	}
	return o.TLSConfig
}

func (o *Options) dialTimeout() time.Duration {
	if o == nil || o.DialTimeout <= 0 {
		return DefaultDialTimeout
	}
	return o.DialTimeout
}

// endpoint is a parsed transport URL.
type endpoint struct {
	scheme string
	host   string
	path   string
}

func parseEndpoint(raw string) (endpoint, error) {
	if raw == "" {
		return endpoint{}, errors.New("empty endpoint address")
	}
	if !strings.Contains(raw, "://") {
		return endpoint{scheme: "tcp", host: raw}, nil
	}

	scheme, rest, _ := strings.Cut(raw, "://")
	host := rest
	var path string
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		host, path = rest[:i], rest[i:]
	}
	if host == "" {
		return endpoint{}, fmt.Errorf("endpoint %q has no host", raw)
	}
	return endpoint{scheme: strings.ToLower(scheme), host: host, path: path}, nil
}

// Dial connects to a transport endpoint, honoring the configured proxy
// for TCP-based carriers.
func Dial(ctx context.Context, rawURL string, opts *Options) (net.Conn, error) {
	ep, err := parseEndpoint(rawURL)
	if err != nil {
		return nil, err
	}

	switch ep.scheme {
	case "tcp":
		return dialTCP(ctx, ep.host, opts)
	case "ws", "wss":
		return dialWS(ctx, ep, opts)
	case "kcp":
		if opts.proxyURL() != "" {
			return nil, fmt.Errorf("%w: kcp runs over UDP", ErrProxyUnsupported)
		}
		return dialKCP(ep.host)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnsupportedScheme, ep.scheme)
	}
}

// Listen opens a listener for a transport endpoint.
func Listen(rawURL string, opts *Options) (net.Listener, error) {
	ep, err := parseEndpoint(rawURL)
	if err != nil {
		return nil, err
	}

	var l net.Listener
	switch ep.scheme {
	case "tcp":
		l, err = listenTCP(ep.host)
	case "ws":
		l, err = listenWS(ep, nil)
	case "wss":
		conf := opts.tlsConfig()
		if conf == nil || (len(conf.Certificates) == 0 && conf.GetCertificate == nil) {
			return nil, ErrTLSRequired
		}
		l, err = listenWS(ep, conf)
	case "kcp":
		l, err = listenKCP(ep.host)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnsupportedScheme, ep.scheme)
	}
	if err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"scheme":  ep.scheme,
		"address": l.Addr().String(),
	}).Info("Listener ready")
	return l, nil
}
