// Package wire implements the on-the-wire segment format shared by every
// endpoint in this module: a fixed 5-byte header followed by an opaque
// payload. There is no version byte and no checksum; the underlying
// datagram service is trusted to deliver segments intact or not at all.
package wire

import (
	"encoding/binary"
	"errors"
)

// MSS is the maximum payload carried by a single segment. Combined with the
// 5-byte header this bounds the largest datagram ever sent to 1405 bytes.
const MSS = 1400

// HeaderLen is the fixed size of the encoded header: 4 bytes of sequence
// number followed by 1 byte of flags.
const HeaderLen = 5

// Flag bits. Combinations other than SYN, SYN|ACK, ACK, and FIN are not
// meaningful; unknown bits are masked out on decode.
const (
	ACK uint8 = 1 << 0
	SYN uint8 = 1 << 1
	FIN uint8 = 1 << 2

	knownFlags = ACK | SYN | FIN
)

// ErrShortPacket is returned by Decode when fewer than HeaderLen bytes are
// available.
var ErrShortPacket = errors.New("wire: packet shorter than header")

// Packet is a single segment. For data segments Seq is the byte offset of
// the first payload byte in the sender's stream. For pure ACKs it is the
// cumulative next-expected byte offset. For handshake/FIN control segments
// it is unused.
type Packet struct {
	Seq     uint32
	Flags   uint8
	Payload []byte
}

// HasFlag reports whether every bit set in want is also set in p.Flags.
func (p Packet) HasFlag(want uint8) bool {
	return p.Flags&want == want
}

// IsData reports whether p carries none of ACK, SYN, or FIN — i.e. it is an
// in-stream data segment subject to the receiver's cumulative-ACK policy.
func (p Packet) IsData() bool {
	return p.Flags&knownFlags == 0
}

// Encode serializes p as seq(4, big-endian) | flags(1) | payload.
func Encode(p Packet) []byte {
	out := make([]byte, HeaderLen+len(p.Payload))
	binary.BigEndian.PutUint32(out[0:4], p.Seq)
	out[4] = p.Flags & knownFlags
	copy(out[HeaderLen:], p.Payload)
	return out
}

// Decode parses a datagram into a Packet. It requires at least HeaderLen
// bytes; any flag bits outside ACK|SYN|FIN are masked away. Decode never
// validates the payload length against MSS; the receive loops read into a
// HeaderLen+MSS buffer, so a longer datagram is cut short there rather
// than rejected.
func Decode(data []byte) (Packet, error) {
	if len(data) < HeaderLen {
		return Packet{}, ErrShortPacket
	}
	p := Packet{
		Seq:   binary.BigEndian.Uint32(data[0:4]),
		Flags: data[4] & knownFlags,
	}
	if len(data) > HeaderLen {
		p.Payload = append([]byte(nil), data[HeaderLen:]...)
	}
	return p, nil
}
