package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/snappy"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/cipherlink/crypto"
	"github.com/opd-ai/cipherlink/handshake"
	"github.com/opd-ai/cipherlink/protocol"
)

const (
	// handshakeTimeout bounds the optional key agreement; a peer that
	// stalls mid-handshake fails the session instead of pinning it.
	handshakeTimeout = 30 * time.Second

	// compressThreshold is the smallest payload worth compressing.
	// Below it the snappy framing overhead usually wins.
	compressThreshold = 64

	// maxFrameBody is the largest body a valid frame can declare: one
	// nonce, one tag, and a maximum-size plaintext. Larger declarations
	// are rejected before any allocation, since length fields arrive
	// unauthenticated.
	maxFrameBody = crypto.NonceSize + crypto.Overhead + crypto.MaxMessageSize
)

// Session is one encrypted tunnel over an ordered, reliable byte stream.
// It owns the connection, the key ring, and the background keepalive, and
// enforces the single-writer single-reader contract.
type Session struct {
	conn  net.Conn
	opts  Options
	codec protocol.Codec
	ring  *crypto.Ring
	psk   crypto.Key
	log   *logrus.Entry

	stateMu sync.Mutex
	state   State

	writeMu sync.Mutex // one frame write at a time
	readMu  sync.Mutex // one frame read at a time

	lastRecv atomic.Int64 // unix nanos of the last authenticated inbound frame
	lastSent atomic.Int64 // unix nanos of the last outbound frame

	framesIn  atomic.Uint64
	framesOut atomic.Uint64

	rekeyMu       sync.Mutex
	pendingKey    *crypto.Key // proposed key awaiting the peer's ack
	rekeyedAt     time.Time   // last key installation (or session start)
	bytesSinceKey atomic.Uint64

	sendShut atomic.Bool // local CloseWrite happened
	recvShut atomic.Bool // peer announced end of its data

	fatalMu  sync.Mutex
	fatalErr error
	termOnce sync.Once
	closed   chan struct{}
}

// NewSession wraps conn in a tunnel session encrypting under key. The
// session starts in Connecting; nothing touches the wire until Start.
func NewSession(conn net.Conn, key crypto.Key, opts Options) (*Session, error) {
	if conn == nil {
		return nil, errors.New("connection cannot be nil")
	}
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("invalid session options: %w", err)
	}

	return &Session{
		conn:   conn,
		opts:   opts,
		codec:  protocol.Codec{NonceSize: crypto.NonceSize},
		ring:   crypto.NewRing(crypto.NewEngine(key)),
		psk:    key,
		state:  StateConnecting,
		closed: make(chan struct{}),
		log: logrus.WithFields(logrus.Fields{
			"component": "TunnelSession",
			"remote":    conn.RemoteAddr().String(),
		}),
	}, nil
}

// Start brings the session to Active, running the key agreement first when
// handshake mode is on. Cancelling ctx closes the session and unblocks any
// in-flight read or write.
func (s *Session) Start(ctx context.Context) error {
	s.stateMu.Lock()
	if s.state != StateConnecting {
		state := s.state
		s.stateMu.Unlock()
		return fmt.Errorf("cannot start session in state %s", state)
	}
	if s.opts.Handshake {
		s.state = StateHandshaking
	}
	s.stateMu.Unlock()

	go s.watchContext(ctx)

	if s.opts.Handshake {
		if err := s.runHandshake(); err != nil {
			s.terminate(err)
			return err
		}
	}

	now := time.Now()
	s.lastRecv.Store(now.UnixNano())
	s.lastSent.Store(now.UnixNano())
	s.rekeyMu.Lock()
	s.rekeyedAt = now
	s.rekeyMu.Unlock()

	s.setState(StateActive)
	if s.opts.KeepaliveInterval > 0 {
		go s.keepaliveLoop()
	}

	s.log.WithFields(logrus.Fields{
		"handshake": s.opts.Handshake,
		"initiator": s.opts.Initiator,
	}).Info("Tunnel session active")
	return nil
}

func (s *Session) watchContext(ctx context.Context) {
	select {
	case <-ctx.Done():
		s.terminate(ctx.Err())
	case <-s.closed:
	}
}

// runHandshake drives the NNpsk0 exchange. Its messages travel as control
// packets sealed under the static shared key, so the wire format is the
// same as normal traffic; afterwards both ends rotate to the fresh traffic
// key with no grace window, since nothing else is in flight yet.
func (s *Session) runHandshake() error {
	role := handshake.Responder
	if s.opts.Initiator {
		role = handshake.Initiator
	}
	hs, err := handshake.New(role, s.psk)
	if err != nil {
		return err
	}

	if err := s.conn.SetDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return fmt.Errorf("arming handshake deadline: %w", err)
	}

	var traffic crypto.Key
	if s.opts.Initiator {
		traffic, err = s.handshakeAsInitiator(hs)
	} else {
		traffic, err = s.handshakeAsResponder(hs)
	}
	if err != nil {
		return err
	}
	if err := s.conn.SetDeadline(time.Time{}); err != nil {
		return fmt.Errorf("clearing handshake deadline: %w", err)
	}

	s.ring.Rotate(traffic, 0)
	crypto.ZeroKey(&traffic)
	crypto.ZeroKey(&s.psk)

	s.log.Info("Handshake complete, traffic key installed")
	return nil
}

func (s *Session) handshakeAsInitiator(hs *handshake.Handshake) (crypto.Key, error) {
	msg1, err := hs.Initiate()
	if err != nil {
		return crypto.Key{}, err
	}
	if err := s.sendPacket(&protocol.Packet{Type: protocol.PacketHandshakeInit, Payload: msg1}); err != nil {
		return crypto.Key{}, err
	}

	pkt, err := s.readPacket()
	if err != nil {
		return crypto.Key{}, err
	}
	if pkt.Type != protocol.PacketHandshakeResp {
		return crypto.Key{}, fmt.Errorf("%w: expected handshake response, got %s", ErrProtocol, pkt.Type)
	}
	return hs.Finalize(pkt.Payload)
}

func (s *Session) handshakeAsResponder(hs *handshake.Handshake) (crypto.Key, error) {
	pkt, err := s.readPacket()
	if err != nil {
		return crypto.Key{}, err
	}
	if pkt.Type != protocol.PacketHandshakeInit {
		return crypto.Key{}, fmt.Errorf("%w: expected handshake init, got %s", ErrProtocol, pkt.Type)
	}

	traffic, msg2, err := hs.Accept(pkt.Payload)
	if err != nil {
		return crypto.Key{}, err
	}
	if err := s.sendPacket(&protocol.Packet{Type: protocol.PacketHandshakeResp, Payload: msg2}); err != nil {
		return crypto.Key{}, err
	}
	return traffic, nil
}

// State reports the session's current lifecycle state.
func (s *Session) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.stateMu.Lock()
	s.state = state
	s.stateMu.Unlock()
}

// Send encrypts payload and writes it to the peer as one frame. It is safe
// to call concurrently; frames never interleave.
func (s *Session) Send(payload []byte) error {
	if err := s.checkSend(); err != nil {
		return err
	}
	if len(payload) > protocol.MaxPayloadSize {
		return fmt.Errorf("%w: %d bytes", protocol.ErrPayloadTooLarge, len(payload))
	}

	if s.opts.Compress && len(payload) >= compressThreshold {
		if enc := snappy.Encode(nil, payload); len(enc) < len(payload) {
			return s.sendPacket(&protocol.Packet{Type: protocol.PacketDataCompressed, Payload: enc})
		}
	}
	return s.sendPacket(&protocol.Packet{Type: protocol.PacketData, Payload: payload})
}

func (s *Session) checkSend() error {
	switch s.State() {
	case StateActive:
		if s.sendShut.Load() {
			return ErrSendClosed
		}
		return nil
	case StateConnecting, StateHandshaking:
		return ErrSessionNotStarted
	default:
		return s.closedErr()
	}
}

// sendPacket serializes, seals, frames, and writes pkt. Data-bearing
// packets feed the rekey volume trigger; control packets do not.
func (s *Session) sendPacket(pkt *protocol.Packet) error {
	plain, err := pkt.Serialize()
	if err != nil {
		return err
	}
	box, err := s.ring.Seal(plain)
	if err != nil {
		return err
	}
	frame, err := s.codec.Pack(protocol.Version, box)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	_, err = s.conn.Write(frame)
	s.writeMu.Unlock()
	if err != nil {
		return s.fail(fmt.Errorf("writing frame: %w", err))
	}

	s.lastSent.Store(time.Now().UnixNano())
	s.framesOut.Add(1)

	if pkt.Type == protocol.PacketData || pkt.Type == protocol.PacketDataCompressed {
		s.bytesSinceKey.Add(uint64(len(frame)))
		s.maybeRekey()
	}
	return nil
}

// Receive blocks until the next data payload arrives and returns it.
// Control packets (probes, rekeys, shutdown) are handled internally and
// never surface. A clean end of the peer's data direction returns io.EOF.
func (s *Session) Receive() ([]byte, error) {
	if err := s.checkRecv(); err != nil {
		return nil, err
	}
	if s.recvShut.Load() {
		return nil, io.EOF
	}

	s.readMu.Lock()
	defer s.readMu.Unlock()

	for {
		if s.recvShut.Load() {
			return nil, io.EOF
		}

		pkt, err := s.readPacket()
		if err != nil {
			return nil, err
		}

		switch pkt.Type {
		case protocol.PacketData:
			return pkt.Payload, nil

		case protocol.PacketDataCompressed:
			out, err := snappy.Decode(nil, pkt.Payload)
			if err != nil {
				return nil, s.fail(fmt.Errorf("%w: undecodable compressed payload: %v", ErrProtocol, err))
			}
			return out, nil

		case protocol.PacketProbe:
			// Activity clock already refreshed; nothing to deliver.

		case protocol.PacketRekey:
			if err := s.handleRekey(pkt.Payload); err != nil {
				return nil, err
			}

		case protocol.PacketRekeyAck:
			s.handleRekeyAck()

		case protocol.PacketShutdown:
			s.recvShut.Store(true)
			go s.drainControl()
			return nil, io.EOF

		default:
			return nil, s.fail(fmt.Errorf("%w: unexpected %s packet", ErrProtocol, pkt.Type))
		}
	}
}

func (s *Session) checkRecv() error {
	switch s.State() {
	case StateActive:
		return nil
	case StateConnecting, StateHandshaking:
		return ErrSessionNotStarted
	default:
		s.fatalMu.Lock()
		defer s.fatalMu.Unlock()
		if s.fatalErr != nil {
			return s.fatalErr
		}
		return ErrSessionClosed
	}
}

// readPacket reads exactly one frame, authenticates it, and parses the
// inner packet. Reads tolerate arbitrary transport fragmentation: the
// header and body are each assembled with io.ReadFull.
func (s *Session) readPacket() (*protocol.Packet, error) {
	var hdr [protocol.HeaderSize]byte
	if n, err := io.ReadFull(s.conn, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, s.fail(fmt.Errorf("%w: %d of %d header bytes", ErrIncompleteFrame, n, protocol.HeaderSize))
		}
		if errors.Is(err, io.EOF) {
			// Peer closed cleanly on a frame boundary.
			s.terminate(io.EOF)
			return nil, io.EOF
		}
		return nil, s.fail(fmt.Errorf("reading frame header: %w", err))
	}

	h, err := protocol.ParseHeader(hdr[:])
	if err != nil {
		return nil, s.fail(err)
	}
	if h.Version != protocol.Version {
		return nil, s.fail(fmt.Errorf("%w: unsupported version %d", protocol.ErrFraming, h.Version))
	}
	if int(h.NonceLen) != s.codec.NonceSize {
		return nil, s.fail(fmt.Errorf("%w: nonce length %d does not match cipher", protocol.ErrFraming, h.NonceLen))
	}
	if h.BodyLength() > maxFrameBody {
		return nil, s.fail(fmt.Errorf("%w: declared body of %d bytes exceeds limit", protocol.ErrFraming, h.BodyLength()))
	}

	body := make([]byte, h.BodyLength())
	if n, err := io.ReadFull(s.conn, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, s.fail(fmt.Errorf("%w: %d of %d body bytes", ErrIncompleteFrame, n, len(body)))
		}
		return nil, s.fail(fmt.Errorf("reading frame body: %w", err))
	}

	plain, err := s.ring.Open(body)
	if err != nil {
		return nil, s.fail(err)
	}

	s.lastRecv.Store(time.Now().UnixNano())
	s.framesIn.Add(1)

	pkt, err := protocol.ParsePacket(plain)
	if err != nil {
		return nil, s.fail(fmt.Errorf("%w: %v", ErrProtocol, err))
	}
	return pkt, nil
}

// drainControl keeps consuming control packets after the peer has finished
// its data direction, so probes and rekey acks still flow while we continue
// sending. It exits when the connection winds down.
func (s *Session) drainControl() {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	for {
		select {
		case <-s.closed:
			return
		default:
		}

		pkt, err := s.readPacket()
		if err != nil {
			return
		}
		switch pkt.Type {
		case protocol.PacketProbe, protocol.PacketShutdown:
		case protocol.PacketRekey:
			if err := s.handleRekey(pkt.Payload); err != nil {
				return
			}
		case protocol.PacketRekeyAck:
			s.handleRekeyAck()
		default:
			_ = s.fail(fmt.Errorf("%w: %s packet after shutdown", ErrProtocol, pkt.Type))
			return
		}
	}
}

// keepaliveLoop probes when either direction has been silent for an
// interval and fails the session when nothing has been received for the
// idle timeout. Closing the socket on expiry is also what bounds every
// blocking read.
func (s *Session) keepaliveLoop() {
	ticker := time.NewTicker(s.opts.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.closed:
			return
		case <-ticker.C:
			now := time.Now()
			recvIdle := now.Sub(time.Unix(0, s.lastRecv.Load()))
			sendIdle := now.Sub(time.Unix(0, s.lastSent.Load()))

			if recvIdle >= s.opts.IdleTimeout {
				s.log.WithFields(logrus.Fields{
					"idle":    recvIdle.Round(time.Millisecond).String(),
					"timeout": s.opts.IdleTimeout.String(),
				}).Warn("Peer unresponsive, closing session")
				s.terminate(ErrIdleTimeout)
				return
			}
			if recvIdle >= s.opts.KeepaliveInterval || sendIdle >= s.opts.KeepaliveInterval {
				s.log.Debug("Sending keepalive probe")
				if err := s.sendPacket(&protocol.Packet{Type: protocol.PacketProbe}); err != nil {
					return
				}
			}
		}
	}
}

// CloseWrite announces the end of the local data stream. The peer's
// Receive returns io.EOF once everything before the announcement has been
// delivered; the opposite direction stays usable. Safe to call more than
// once.
func (s *Session) CloseWrite() error {
	if err := s.checkSend(); err != nil {
		if errors.Is(err, ErrSendClosed) {
			return nil
		}
		return err
	}
	if !s.sendShut.CompareAndSwap(false, true) {
		return nil
	}
	return s.sendPacket(&protocol.Packet{Type: protocol.PacketShutdown})
}

// Close shuts the session down: pending writes flush, the socket closes,
// and key material is wiped. Safe to call more than once and concurrently
// with Send and Receive, both of which unblock promptly.
func (s *Session) Close() error {
	s.stateMu.Lock()
	if s.state == StateClosing || s.state == StateClosed {
		s.stateMu.Unlock()
		return nil
	}
	s.state = StateClosing
	s.stateMu.Unlock()

	// Hold the writer lock so an in-flight frame finishes before the
	// socket goes away.
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.terminate(ErrSessionClosed)
	return nil
}

// fail records err as the session's fatal error and tears it down,
// returning whichever error actually won the race to terminate first so
// every caller reports the original cause.
func (s *Session) fail(err error) error {
	s.terminate(err)
	s.fatalMu.Lock()
	defer s.fatalMu.Unlock()
	return s.fatalErr
}

func (s *Session) closedErr() error {
	s.fatalMu.Lock()
	defer s.fatalMu.Unlock()
	if s.fatalErr != nil && !errors.Is(s.fatalErr, io.EOF) {
		return s.fatalErr
	}
	return ErrSessionClosed
}

// terminate performs the one-time teardown: record the cause, pass through
// Closing, release the socket, wipe keys, land in Closed.
func (s *Session) terminate(err error) {
	s.termOnce.Do(func() {
		s.fatalMu.Lock()
		s.fatalErr = err
		s.fatalMu.Unlock()

		s.setState(StateClosing)
		close(s.closed)
		_ = s.conn.Close()
		s.ring.Wipe()
		crypto.ZeroKey(&s.psk)
		s.rekeyMu.Lock()
		if s.pendingKey != nil {
			crypto.ZeroKey(s.pendingKey)
			s.pendingKey = nil
		}
		s.rekeyMu.Unlock()
		s.setState(StateClosed)

		fields := logrus.Fields{
			"frames_in":  s.framesIn.Load(),
			"frames_out": s.framesOut.Load(),
			"reason":     err,
		}
		if errors.Is(err, io.EOF) || errors.Is(err, ErrSessionClosed) {
			s.log.WithFields(fields).Info("Tunnel session closed")
		} else {
			s.log.WithFields(fields).Warn("Tunnel session failed")
		}
	})
}
