package tunnel

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/cipherlink/crypto"
	"github.com/opd-ai/cipherlink/protocol"
)

// Rekey replaces the session key immediately, regardless of the automatic
// triggers. The new key travels to the peer sealed under the current key;
// sealing switches only when the peer acknowledges, and the superseded key
// keeps decrypting in-flight frames for the grace window. A rekey already
// in flight makes this a no-op.
func (s *Session) Rekey() error {
	switch s.State() {
	case StateActive:
		return s.initiateRekey("manual")
	case StateConnecting, StateHandshaking:
		return ErrSessionNotStarted
	default:
		return s.closedErr()
	}
}

// maybeRekey fires an automatic rekey when the time or volume trigger is
// due. Only the dialing side initiates, which removes the
// simultaneous-proposal race; the accepting side rides on its peer's
// triggers.
func (s *Session) maybeRekey() {
	if !s.opts.Initiator {
		return
	}
	if s.opts.RekeyInterval <= 0 && s.opts.RekeyAfterBytes == 0 {
		return
	}

	trigger := ""
	s.rekeyMu.Lock()
	if s.pendingKey == nil {
		if s.opts.RekeyInterval > 0 && time.Since(s.rekeyedAt) >= s.opts.RekeyInterval {
			trigger = "interval"
		} else if s.opts.RekeyAfterBytes > 0 && s.bytesSinceKey.Load() >= s.opts.RekeyAfterBytes {
			trigger = "volume"
		}
	}
	s.rekeyMu.Unlock()

	if trigger == "" {
		return
	}
	if err := s.initiateRekey(trigger); err != nil {
		s.log.WithFields(logrus.Fields{
			"trigger": trigger,
			"error":   err,
		}).Error("Rekey initiation failed")
	}
}

func (s *Session) initiateRekey(trigger string) error {
	s.rekeyMu.Lock()
	if s.pendingKey != nil {
		s.rekeyMu.Unlock()
		return nil
	}
	next, err := crypto.GenerateKey()
	if err != nil {
		s.rekeyMu.Unlock()
		return err
	}
	s.pendingKey = &next
	s.rekeyMu.Unlock()

	s.log.WithFields(logrus.Fields{"trigger": trigger}).Info("Initiating rekey")
	return s.sendPacket(&protocol.Packet{Type: protocol.PacketRekey, Payload: next[:]})
}

// handleRekey installs the key proposed by the peer. The ack goes out
// under the old key first, because the peer keeps sealing under it until
// the ack arrives; only then does the local ring rotate, keeping the old
// key around for the grace window.
func (s *Session) handleRekey(payload []byte) error {
	next, err := crypto.KeyFromBytes(payload)
	if err != nil {
		return s.fail(fmt.Errorf("%w: rekey carried %d key bytes", ErrProtocol, len(payload)))
	}

	s.rekeyMu.Lock()
	crossing := s.pendingKey != nil
	s.rekeyMu.Unlock()
	if crossing {
		return s.fail(fmt.Errorf("%w: crossing rekey proposals", ErrProtocol))
	}

	if err := s.sendPacket(&protocol.Packet{Type: protocol.PacketRekeyAck}); err != nil {
		return err
	}

	s.ring.Rotate(next, s.opts.RekeyGrace)
	crypto.ZeroKey(&next)
	s.finishRekey()
	s.log.WithFields(logrus.Fields{"grace": s.opts.RekeyGrace.String()}).Info("Rekey applied")
	return nil
}

// handleRekeyAck completes a rekey we initiated: the peer has switched, so
// sealing moves to the proposed key now.
func (s *Session) handleRekeyAck() {
	s.rekeyMu.Lock()
	pending := s.pendingKey
	s.pendingKey = nil
	s.rekeyMu.Unlock()

	if pending == nil {
		s.log.Warn("Rekey ack without a pending rekey, ignoring")
		return
	}

	s.ring.Rotate(*pending, s.opts.RekeyGrace)
	crypto.ZeroKey(pending)
	s.finishRekey()
	s.log.WithFields(logrus.Fields{"grace": s.opts.RekeyGrace.String()}).Info("Rekey complete")
}

func (s *Session) finishRekey() {
	s.rekeyMu.Lock()
	s.rekeyedAt = time.Now()
	s.rekeyMu.Unlock()
	s.bytesSinceKey.Store(0)
}
