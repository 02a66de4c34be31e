package cipherlink

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/cipherlink/config"
	"github.com/opd-ai/cipherlink/crypto"
	"github.com/opd-ai/cipherlink/transport"
	"github.com/opd-ai/cipherlink/tunnel"
)

// Client originates tunnels: it accepts plain TCP connections from local
// applications and pairs each with its own encrypted session to the
// server, optionally dialed through an outbound proxy. The application
// speaks SOCKS5 straight through the tunnel; the client never interprets
// those bytes.
type Client struct {
	cfg      *config.Config
	key      crypto.Key
	listener net.Listener
	topts    *transport.Options
	log      *logrus.Entry

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewClient validates the configuration, loads the shared key, and binds
// the local listener applications connect to.
func NewClient(cfg *config.Config) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", config.ErrInvalid)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	key, err := cfg.ResolveKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}

	topts := &transport.Options{ProxyURL: cfg.Proxy.URL}
	if cfg.Transport == "wss" && cfg.Client.TLSSkipVerify {
		topts.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}

	listener, err := net.Listen("tcp", cfg.Client.Listen)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.Client.Listen, err)
	}

	return &Client{
		cfg:      cfg,
		key:      key,
		listener: listener,
		topts:    topts,
		log: logrus.WithFields(logrus.Fields{
			"component": "Client",
			"local":     listener.Addr().String(),
			"server":    cfg.DialURL(),
		}),
	}, nil
}

// Addr is the bound local listener address.
func (c *Client) Addr() net.Addr {
	return c.listener.Addr()
}

// Run accepts application connections until the context is canceled or
// the listener fails, then waits for in-flight tunnels to drain.
func (c *Client) Run(ctx context.Context) error {
	defer c.Close()

	go func() {
		<-ctx.Done()
		c.Close()
	}()

	c.log.Info("Client listening")

	for {
		conn, err := c.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			c.log.WithError(err).Warn("Accept failed")
			continue
		}

		c.wg.Add(1)
		go func(conn net.Conn) {
			defer c.wg.Done()
			c.handle(ctx, conn)
		}(conn)
	}

	c.wg.Wait()
	c.log.Info("Client stopped")
	return nil
}

// Close stops accepting. Safe to call multiple times and concurrently
// with Run.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.listener.Close()
	})
	return err
}

func (c *Client) handle(ctx context.Context, app net.Conn) {
	log := c.log.WithField("app", app.RemoteAddr().String())

	conn, err := transport.Dial(ctx, c.cfg.DialURL(), c.topts)
	if err != nil {
		log.WithError(err).Warn("Server dial failed")
		app.Close()
		return
	}

	sess, err := tunnel.NewSession(conn, c.key, c.cfg.TunnelOptions(true))
	if err != nil {
		log.WithError(err).Error("Session setup failed")
		conn.Close()
		app.Close()
		return
	}

	if err := sess.Start(ctx); err != nil {
		log.WithError(err).Warn("Session start failed")
		sess.Close()
		app.Close()
		return
	}

	if err := tunnel.Join(app, tunnel.NewStream(sess)); err != nil {
		log.WithError(err).Debug("Tunnel closed with error")
	}
}
