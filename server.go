package cipherlink

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/cipherlink/config"
	"github.com/opd-ai/cipherlink/crypto"
	"github.com/opd-ai/cipherlink/relay"
	"github.com/opd-ai/cipherlink/transport"
	"github.com/opd-ai/cipherlink/tunnel"
)

// Server terminates tunnels: it accepts transport connections, runs one
// session per connection, and relays each decrypted SOCKS5 stream to its
// upstream target. A failed session never disturbs the accept loop or
// other sessions.
type Server struct {
	cfg      *config.Config
	key      crypto.Key
	listener net.Listener
	relay    *relay.Relay
	log      *logrus.Entry

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewServer validates the configuration, loads the shared key, and binds
// the transport listener. All configuration failures surface here, before
// any connection exists.
func NewServer(cfg *config.Config) (*Server, error) {
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

	topts := &transport.Options{}
	if cfg.Transport == "wss" {
		if cfg.Server.TLSCert == "" || cfg.Server.TLSKey == "" {
			return nil, fmt.Errorf("%w: wss requires tls_cert and tls_key", config.ErrInvalid)
		}
		cert, err := tls.LoadX509KeyPair(cfg.Server.TLSCert, cfg.Server.TLSKey)
		if err != nil {
			return nil, fmt.Errorf("%w: load tls keypair: %v", config.ErrInvalid, err)
		}
		topts.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	listener, err := transport.Listen(cfg.ServerURL(), topts)
	if err != nil {
		return nil, err
	}

	return &Server{
		cfg:      cfg,
		key:      key,
		listener: listener,
		relay:    relay.New(nil),
		log: logrus.WithFields(logrus.Fields{
			"component": "Server",
			"address":   listener.Addr().String(),
		}),
	}, nil
}

// Addr is the bound listener address, useful when the configured port
// was 0.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Run accepts connections until the context is canceled or the listener
// fails, then waits for in-flight sessions to finish. Sessions observe the
// same context and shut down with it.
func (s *Server) Run(ctx context.Context) error {
	defer s.Close()

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	s.log.WithField("transport", s.cfg.Transport).Info("Server listening")

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
				break
			}
			s.log.WithError(err).Warn("Accept failed")
			continue
		}

		s.wg.Add(1)
		go func(conn net.Conn) {
			defer s.wg.Done()
			s.handle(ctx, conn)
		}(conn)
	}

	s.wg.Wait()
	s.log.Info("Server stopped")
	return nil
}

// Close stops accepting. Safe to call multiple times and concurrently
// with Run.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.listener.Close()
	})
	return err
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	log := s.log.WithField("remote", conn.RemoteAddr().String())

	sess, err := tunnel.NewSession(conn, s.key, s.cfg.TunnelOptions(false))
	if err != nil {
		log.WithError(err).Error("Session setup failed")
		conn.Close()
		return
	}
	defer sess.Close()

	if err := sess.Start(ctx); err != nil {
		log.WithError(err).Warn("Session start failed")
		return
	}

	if err := s.relay.Serve(ctx, tunnel.NewStream(sess)); err != nil {
		log.WithError(err).Warn("Relay ended with error")
	}
}
