package transport

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

// contextDialer is the dialing surface shared by direct, SOCKS5 and HTTP
// CONNECT paths.
type contextDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// newContextDialer returns the dialer outbound TCP-based transports use:
// a plain net.Dialer, or one that tunnels through the configured proxy.
func newContextDialer(opts *Options) (contextDialer, error) {
	raw := opts.proxyURL()
	if raw == "" {
		return &net.Dialer{Timeout: opts.dialTimeout()}, nil
	}
	return newProxyDialer(raw, opts.dialTimeout())
}

func newProxyDialer(rawURL string, timeout time.Duration) (contextDialer, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse proxy address: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("proxy address %q has no host", rawURL)
	}

	scheme := strings.ToLower(u.Scheme)
	log.WithFields(logrus.Fields{
		"proxy_type": scheme,
		"proxy_addr": u.Host,
	}).Info("Routing outbound connections through proxy")

	switch scheme {
	case "socks5":
		var auth *proxy.Auth
		if u.User != nil {
			password, _ := u.User.Password()
			auth = &proxy.Auth{User: u.User.Username(), Password: password}
		}
		d, err := proxy.SOCKS5("tcp", u.Host, auth, &net.Dialer{Timeout: timeout})
		if err != nil {
			return nil, fmt.Errorf("socks5 proxy %s: %w", u.Host, err)
		}
		return &socksDialer{d: d}, nil

	case "http":
		return &httpConnectDialer{proxyURL: u, timeout: timeout}, nil

	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q (want socks5 or http)", u.Scheme)
	}
}

// socksDialer adapts the x/net proxy dialer to the context-aware interface.
type socksDialer struct {
	d proxy.Dialer
}

func (s *socksDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if cd, ok := s.d.(proxy.ContextDialer); ok {
		return cd.DialContext(ctx, network, address)
	}
	return s.d.Dial(network, address)
}

// httpConnectDialer tunnels TCP connections through an HTTP proxy using the
// CONNECT method.
type httpConnectDialer struct {
	proxyURL *url.URL
	timeout  time.Duration
}

func (d *httpConnectDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if network != "tcp" {
		return nil, fmt.Errorf("http proxy supports only tcp, got %q", network)
	}

	nd := &net.Dialer{Timeout: d.timeout}
	conn, err := nd.DialContext(ctx, "tcp", d.proxyURL.Host)
	if err != nil {
		return nil, fmt.Errorf("connect to http proxy %s: %w", d.proxyURL.Host, err)
	}

	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: address},
		Host:   address,
		Header: make(http.Header),
	}
	if d.proxyURL.User != nil {
		password, _ := d.proxyURL.User.Password()
		req.SetBasicAuth(d.proxyURL.User.Username(), password)
	}

	if err := conn.SetDeadline(time.Now().Add(d.timeout)); err != nil {
		conn.Close()
		return nil, err
	}
	if err := req.Write(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("write CONNECT request: %w", err)
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read CONNECT response: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		conn.Close()
		return nil, fmt.Errorf("http proxy refused CONNECT: %s", resp.Status)
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		conn.Close()
		return nil, err
	}
	if br.Buffered() > 0 {
		// Tunnel bytes that arrived on the heels of the CONNECT reply are
		// sitting in the response reader; keep reading through it.
		return &bufferedConn{Conn: conn, r: br}, nil
	}
	return conn, nil
}

// bufferedConn reads through the bufio.Reader that consumed the CONNECT
// response, so tunnel data it buffered past the reply is not lost.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (b *bufferedConn) Read(p []byte) (int, error) {
	return b.r.Read(p)
}
