// Package protocol implements the cipherlink wire format.
//
// Every unit on the wire is a frame: a fixed 9-byte big-endian header
// followed by the ciphertext it describes.
//
//	Header: version:u8 | nonce_length:u32 | data_length:u32
//	Body:   nonce_length + data_length bytes
//	        (nonce prefix + encrypted payload + authentication tag)
//
// Inside the decrypted payload a second, one-byte layer multiplexes
// application data and control traffic; see Packet.
//
// Example:
//
//	codec := protocol.Codec{NonceSize: crypto.NonceSize}
//	frame, err := codec.Pack(protocol.Version, box)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	version, box, err := codec.Unpack(frame)
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	// Version is the protocol version stamped on every frame this package
	// builds.
	Version byte = 1

	// HeaderSize is the fixed length of the wire header.
	HeaderSize = 9
)

// Framing errors. All of them wrap ErrFraming so callers can classify any
// malformed frame with a single errors.Is check. A framing failure is fatal
// to its session: a corrupted stream cannot be resynchronized.
var (
	ErrFraming = errors.New("framing error")

	// ErrBufferTooShort reports a buffer smaller than a complete header.
	ErrBufferTooShort = fmt.Errorf("%w: buffer shorter than header", ErrFraming)

	// ErrLengthMismatch reports header length fields that disagree with the
	// bytes actually present. Mismatches are never silently tolerated.
	ErrLengthMismatch = fmt.Errorf("%w: length fields disagree with body", ErrFraming)

	// ErrShortCiphertext reports ciphertext too short to carry the nonce
	// prefix the codec was told to expect.
	ErrShortCiphertext = fmt.Errorf("%w: ciphertext shorter than its nonce prefix", ErrFraming)
)

// Header is the decoded form of the 9-byte frame header.
type Header struct {
	Version  byte
	NonceLen uint32
	DataLen  uint32
}

// ParseHeader decodes the first HeaderSize bytes of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: got %d of %d bytes", ErrBufferTooShort, len(b), HeaderSize)
	}
	return Header{
		Version:  b[0],
		NonceLen: binary.BigEndian.Uint32(b[1:5]),
		DataLen:  binary.BigEndian.Uint32(b[5:9]),
	}, nil
}

// BodyLength returns the number of body bytes the header declares. The sum
// is computed in 64 bits: both fields are attacker-controlled before
// authentication, so callers bound it before allocating.
func (h Header) BodyLength() uint64 {
	return uint64(h.NonceLen) + uint64(h.DataLen)
}

// Codec frames nonce-prefixed ciphertext for the wire. NonceSize names the
// length of the nonce prefix embedded in boxes it packs; the codec never
// inspects ciphertext bytes, so it works with any cipher's nonce length.
// A Codec is pure and stateless: the same inputs always produce the same
// frame.
type Codec struct {
	NonceSize int
}

// Pack emits header || box, deriving nonce_length from the codec's
// configured nonce size and data_length from what remains of the box.
func (c Codec) Pack(version byte, box []byte) ([]byte, error) {
	if len(box) < c.NonceSize {
		return nil, fmt.Errorf("%w: %d bytes with %d-byte nonces", ErrShortCiphertext, len(box), c.NonceSize)
	}
	dataLen := len(box) - c.NonceSize
	if uint64(dataLen) > math.MaxUint32 || uint64(c.NonceSize) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: box of %d bytes does not fit a u32 length field", ErrFraming, len(box))
	}

	frame := make([]byte, HeaderSize+len(box))
	frame[0] = version
	binary.BigEndian.PutUint32(frame[1:5], uint32(c.NonceSize))
	binary.BigEndian.PutUint32(frame[5:9], uint32(dataLen))
	copy(frame[HeaderSize:], box)
	return frame, nil
}

// Unpack validates a complete frame and returns its version and ciphertext.
// The buffer must hold at least a header, and the declared
// nonce_length + data_length must equal the remaining length exactly;
// otherwise Unpack fails with a framing error rather than truncating or
// padding.
func (c Codec) Unpack(frame []byte) (version byte, box []byte, err error) {
	h, err := ParseHeader(frame)
	if err != nil {
		return 0, nil, err
	}
	body := uint64(len(frame) - HeaderSize)
	if h.BodyLength() != body {
		return 0, nil, fmt.Errorf("%w: header declares %d, frame carries %d", ErrLengthMismatch, h.BodyLength(), body)
	}
	return h.Version, frame[HeaderSize:], nil
}
