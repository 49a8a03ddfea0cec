package wire_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/frulli-fiuba/go-back-n/wire"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []wire.Packet{
		{Seq: 0, Flags: wire.SYN, Payload: []byte{0, 0, 0, 1}},
		{Seq: 42, Flags: wire.SYN | wire.ACK},
		{Seq: 7, Flags: wire.ACK},
		{Seq: 1024, Flags: wire.FIN},
		{Seq: 0, Flags: 0, Payload: bytes.Repeat([]byte{0xAB}, wire.MSS)},
	}
	for _, p := range cases {
		got, err := wire.Decode(wire.Encode(p))
		require.NoError(t, err)
		require.Equal(t, p.Seq, got.Seq)
		require.Equal(t, p.Flags, got.Flags)
		if len(p.Payload) == 0 {
			require.Empty(t, got.Payload)
		} else {
			require.Equal(t, p.Payload, got.Payload)
		}
	}
}

func TestDecodeMasksUnknownFlagBits(t *testing.T) {
	raw := wire.Encode(wire.Packet{Seq: 1, Flags: wire.ACK})
	raw[4] |= 0b11111000 // set undefined bits directly on the wire
	p, err := wire.Decode(raw)
	require.NoError(t, err)
	require.Equal(t, wire.ACK, p.Flags)
}

func TestDecodeShortPacket(t *testing.T) {
	_, err := wire.Decode([]byte{1, 2, 3})
	require.ErrorIs(t, err, wire.ErrShortPacket)
}

func TestIsData(t *testing.T) {
	require.True(t, wire.Packet{Flags: 0}.IsData())
	require.False(t, wire.Packet{Flags: wire.ACK}.IsData())
	require.False(t, wire.Packet{Flags: wire.SYN}.IsData())
	require.False(t, wire.Packet{Flags: wire.FIN}.IsData())
}

func TestMaxDatagramSize(t *testing.T) {
	p := wire.Packet{Payload: bytes.Repeat([]byte{1}, wire.MSS)}
	require.Len(t, wire.Encode(p), wire.MSS+wire.HeaderLen)
}
