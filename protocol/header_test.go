package protocol

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/cipherlink/crypto"
)

func testCodec() Codec {
	return Codec{NonceSize: crypto.NonceSize}
}

func TestPackUnpackRoundTrip(t *testing.T) {
	codec := testCodec()

	cases := []struct {
		name    string
		version byte
		box     []byte
	}{
		{name: "Nonce only", version: Version, box: bytes.Repeat([]byte{0xAA}, crypto.NonceSize)},
		{name: "Probe sized", version: Version, box: make([]byte, crypto.NonceSize+crypto.Overhead+1)},
		{name: "Typical", version: Version, box: bytes.Repeat([]byte{0x42}, 512)},
		{name: "High version", version: 255, box: bytes.Repeat([]byte{1}, 64)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			frame, err := codec.Pack(tc.version, tc.box)
			require.NoError(t, err)
			require.Len(t, frame, HeaderSize+len(tc.box))

			version, box, err := codec.Unpack(frame)
			require.NoError(t, err)
			assert.Equal(t, tc.version, version)
			assert.Equal(t, tc.box, box)
		})
	}
}

func TestPackHeaderLayout(t *testing.T) {
	box := bytes.Repeat([]byte{0xCD}, crypto.NonceSize+17)
	frame, err := testCodec().Pack(1, box)
	require.NoError(t, err)

	// version:u8 | nonce_length:u32 | data_length:u32, big-endian.
	want := []byte{0x01, 0x00, 0x00, 0x00, 0x18, 0x00, 0x00, 0x00, 0x11}
	assert.Equal(t, want, frame[:HeaderSize])
	assert.Equal(t, box, frame[HeaderSize:])
}

func TestPackRejectsShortCiphertext(t *testing.T) {
	_, err := testCodec().Pack(Version, make([]byte, crypto.NonceSize-1))
	require.ErrorIs(t, err, ErrShortCiphertext)
	require.ErrorIs(t, err, ErrFraming)
}

func TestUnpackRejectsShortBuffer(t *testing.T) {
	codec := testCodec()
	for n := 0; n < HeaderSize; n++ {
		_, _, err := codec.Unpack(make([]byte, n))
		require.ErrorIs(t, err, ErrBufferTooShort, "length %d", n)
		require.ErrorIs(t, err, ErrFraming, "length %d", n)
	}
}

func TestUnpackRejectsLengthMismatch(t *testing.T) {
	codec := testCodec()
	box := bytes.Repeat([]byte{0x7F}, crypto.NonceSize+32)
	frame, err := codec.Pack(Version, box)
	require.NoError(t, err)

	truncated := frame[:len(frame)-1]
	_, _, err = codec.Unpack(truncated)
	assert.ErrorIs(t, err, ErrLengthMismatch)

	padded := append(append([]byte{}, frame...), 0x00)
	_, _, err = codec.Unpack(padded)
	assert.ErrorIs(t, err, ErrLengthMismatch)

	// Header that lies about the body outright.
	lying := append([]byte{}, frame...)
	binary.BigEndian.PutUint32(lying[5:9], 9999)
	_, _, err = codec.Unpack(lying)
	assert.ErrorIs(t, err, ErrLengthMismatch)
}

func TestParseHeader(t *testing.T) {
	h, err := ParseHeader([]byte{0x02, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x05})
	require.NoError(t, err)
	assert.Equal(t, byte(2), h.Version)
	assert.Equal(t, uint32(256), h.NonceLen)
	assert.Equal(t, uint32(5), h.DataLen)
	assert.Equal(t, uint64(261), h.BodyLength())
}

func TestHeaderBodyLengthNoOverflow(t *testing.T) {
	h := Header{NonceLen: 0xFFFFFFFF, DataLen: 0xFFFFFFFF}
	assert.Equal(t, uint64(0x1FFFFFFFE), h.BodyLength())
}

func TestCodecCarriesRealBoxes(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	engine := crypto.NewEngine(key)
	codec := testCodec()

	box, err := engine.Encrypt([]byte("framed and sealed"))
	require.NoError(t, err)

	frame, err := codec.Pack(Version, box)
	require.NoError(t, err)

	version, unpacked, err := codec.Unpack(frame)
	require.NoError(t, err)
	require.Equal(t, Version, version)

	plaintext, err := engine.Decrypt(unpacked)
	require.NoError(t, err)
	assert.Equal(t, []byte("framed and sealed"), plaintext)
}
