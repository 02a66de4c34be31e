package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsCloseWait bounds the close notification written when a WebSocket
// connection is torn down.
const wsCloseWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func dialWS(ctx context.Context, ep endpoint, opts *Options) (net.Conn, error) {
	netDialer, err := newContextDialer(opts)
	if err != nil {
		return nil, err
	}

	u := url.URL{Scheme: ep.scheme, Host: ep.host, Path: ep.path}
	if u.Path == "" {
		u.Path = "/"
	}

	dialer := websocket.Dialer{
		NetDialContext:   netDialer.DialContext,
		TLSClientConfig:  opts.tlsConfig(),
		HandshakeTimeout: opts.dialTimeout(),
	}
	ws, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %s)", u.String(), err, resp.Status)
		}
		return nil, fmt.Errorf("dial %s: %w", u.String(), err)
	}
	return newWSConn(ws), nil
}

func listenWS(ep endpoint, tlsConf *tls.Config) (net.Listener, error) {
	tcpL, err := net.Listen("tcp", ep.host)
	if err != nil {
		return nil, fmt.Errorf("listen %s %s: %w", ep.scheme, ep.host, err)
	}
	if tlsConf != nil {
		tcpL = tls.NewListener(tcpL, tlsConf)
	}

	path := ep.path
	if path == "" {
		path = "/"
	}

	l := &wsListener{
		tcp:   tcpL,
		conns: make(chan net.Conn, 8),
		done:  make(chan struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc(path, l.handleUpgrade)
	l.srv = &http.Server{Handler: mux}

	go func() { _ = l.srv.Serve(tcpL) }()
	return l, nil
}

// wsListener accepts WebSocket connections upgraded by an embedded HTTP
// server and presents them as a net.Listener.
type wsListener struct {
	tcp       net.Listener
	srv       *http.Server
	conns     chan net.Conn
	done      chan struct{}
	closeOnce sync.Once
}

func (l *wsListener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	select {
	case l.conns <- newWSConn(ws):
	case <-l.done:
		_ = ws.Close()
	}
}

func (l *wsListener) Accept() (net.Conn, error) {
	select {
	case conn := <-l.conns:
		return conn, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

func (l *wsListener) Close() error {
	l.closeOnce.Do(func() { close(l.done) })
	return l.srv.Close()
}

func (l *wsListener) Addr() net.Addr {
	return l.tcp.Addr()
}

// wsConn adapts a WebSocket connection to net.Conn. Writes map one-to-one
// onto binary messages; reads continue across message boundaries.
type wsConn struct {
	ws      *websocket.Conn
	reader  io.Reader
	writeMu sync.Mutex
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{ws: ws}
}

func (c *wsConn) Read(p []byte) (int, error) {
	for {
		if c.reader == nil {
			typ, r, err := c.ws.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			if typ != websocket.BinaryMessage {
				continue
			}
			c.reader = r
		}

		n, err := c.reader.Read(p)
		if err == io.EOF {
			c.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *wsConn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close notifies the peer before closing so a clean shutdown reads as EOF
// on the far side rather than an abnormal-closure error.
func (c *wsConn) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsCloseWait))
	return c.ws.Close()
}

func (c *wsConn) LocalAddr() net.Addr  { return c.ws.LocalAddr() }
func (c *wsConn) RemoteAddr() net.Addr { return c.ws.RemoteAddr() }

func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return c.ws.SetWriteDeadline(t)
}

func (c *wsConn) SetReadDeadline(t time.Time) error  { return c.ws.SetReadDeadline(t) }
func (c *wsConn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }
