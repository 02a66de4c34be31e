package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketSerializeParseRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		packet  Packet
		wantLen int
	}{
		{name: "Data", packet: Packet{Type: PacketData, Payload: []byte("hello")}, wantLen: 6},
		{name: "Probe empty", packet: Packet{Type: PacketProbe}, wantLen: 1},
		{name: "Rekey key", packet: Packet{Type: PacketRekey, Payload: make([]byte, 32)}, wantLen: 33},
		{name: "Shutdown", packet: Packet{Type: PacketShutdown}, wantLen: 1},
		{name: "Handshake", packet: Packet{Type: PacketHandshakeInit, Payload: []byte{0xDE, 0xAD}}, wantLen: 3},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := tc.packet.Serialize()
			require.NoError(t, err)
			require.Len(t, data, tc.wantLen)
			assert.Equal(t, byte(tc.packet.Type), data[0])

			parsed, err := ParsePacket(data)
			require.NoError(t, err)
			assert.Equal(t, tc.packet.Type, parsed.Type)
			if len(tc.packet.Payload) == 0 {
				assert.Empty(t, parsed.Payload)
			} else {
				assert.Equal(t, tc.packet.Payload, parsed.Payload)
			}
		})
	}
}

func TestParsePacketRejectsEmpty(t *testing.T) {
	_, err := ParsePacket(nil)
	assert.ErrorIs(t, err, ErrPacketTooShort)

	_, err = ParsePacket([]byte{})
	assert.ErrorIs(t, err, ErrPacketTooShort)
}

func TestParsePacketRejectsUnknownType(t *testing.T) {
	_, err := ParsePacket([]byte{0x00, 0x01})
	assert.ErrorIs(t, err, ErrUnknownPacketType)

	_, err = ParsePacket([]byte{0xEE})
	assert.ErrorIs(t, err, ErrUnknownPacketType)
}

func TestSerializeRejectsBadPackets(t *testing.T) {
	_, err := (&Packet{Type: PacketType(0x99)}).Serialize()
	assert.ErrorIs(t, err, ErrUnknownPacketType)

	_, err = (&Packet{Type: PacketData, Payload: make([]byte, MaxPayloadSize+1)}).Serialize()
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestPacketTypeString(t *testing.T) {
	assert.Equal(t, "data", PacketData.String())
	assert.Equal(t, "probe", PacketProbe.String())
	assert.Equal(t, "rekey_ack", PacketRekeyAck.String())
	assert.Equal(t, "unknown(0xee)", PacketType(0xEE).String())
}
