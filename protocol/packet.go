package protocol

import (
	"errors"
	"fmt"

	"github.com/opd-ai/cipherlink/crypto"
)

// PacketType identifies the kind of an inner packet: the first plaintext
// byte of every decrypted frame.
type PacketType byte

const (
	// PacketData carries application bytes.
	PacketData PacketType = iota + 1

	// PacketDataCompressed carries a snappy-encoded block of application
	// bytes.
	PacketDataCompressed

	// PacketProbe is the zero-payload keepalive. Receiving one refreshes
	// the peer's activity clock and is otherwise invisible.
	PacketProbe

	// PacketRekey carries the 32-byte key that will supersede the current
	// one, sealed under the current key like any other payload.
	PacketRekey

	// PacketRekeyAck confirms a PacketRekey; the initiator switches its
	// sealing key when it arrives.
	PacketRekeyAck

	// PacketShutdown signals end of stream for the sender's direction
	// while the opposite direction stays usable.
	PacketShutdown

	// PacketHandshakeInit and PacketHandshakeResp carry the two Noise
	// handshake messages of the optional key-agreement mode.
	PacketHandshakeInit
	PacketHandshakeResp
)

// MaxPayloadSize caps a single inner packet payload. One byte of the sealed
// plaintext is the packet type, so the cap sits just under the crypto
// layer's message limit.
const MaxPayloadSize = crypto.MaxMessageSize - 1

var (
	// ErrPacketTooShort reports decrypted plaintext with no room for a type
	// byte.
	ErrPacketTooShort = errors.New("inner packet too short")

	// ErrUnknownPacketType reports a type byte this version does not speak.
	ErrUnknownPacketType = errors.New("unknown inner packet type")

	// ErrPayloadTooLarge reports a payload above MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("inner packet payload too large")
)

// String names the packet type for lifecycle logs.
func (t PacketType) String() string {
	switch t {
	case PacketData:
		return "data"
	case PacketDataCompressed:
		return "data_compressed"
	case PacketProbe:
		return "probe"
	case PacketRekey:
		return "rekey"
	case PacketRekeyAck:
		return "rekey_ack"
	case PacketShutdown:
		return "shutdown"
	case PacketHandshakeInit:
		return "handshake_init"
	case PacketHandshakeResp:
		return "handshake_resp"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(t))
	}
}

func (t PacketType) valid() bool {
	return t >= PacketData && t <= PacketHandshakeResp
}

// Packet is one plaintext unit inside the encrypted stream.
type Packet struct {
	Type    PacketType
	Payload []byte
}

// Serialize converts the packet to the plaintext handed to the crypto
// layer.
//
// Format: [packet type (1 byte)][payload (variable length)]
func (p *Packet) Serialize() ([]byte, error) {
	if !p.Type.valid() {
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownPacketType, byte(p.Type))
	}
	if len(p.Payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(p.Payload))
	}

	result := make([]byte, 1+len(p.Payload))
	result[0] = byte(p.Type)
	copy(result[1:], p.Payload)
	return result, nil
}

// ParsePacket converts decrypted plaintext to a Packet. The payload aliases
// the input, which the decrypt path allocates fresh per frame.
func ParsePacket(data []byte) (*Packet, error) {
	if len(data) < 1 {
		return nil, ErrPacketTooShort
	}

	packetType := PacketType(data[0])
	if !packetType.valid() {
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownPacketType, data[0])
	}

	return &Packet{
		Type:    packetType,
		Payload: data[1:],
	}, nil
}
