package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrShortPacket      = errors.New("protocol: packet shorter than header")
	ErrTruncatedPayload = errors.New("protocol: payload shorter than length field")
)

// Encode serializes a Packet for the channel. Payloads longer than MaxPayload
// are truncated; the result is always exactly HeaderSize + length bytes.
func Encode(pkt *Packet) []byte {
	n := pkt.Len()
	buf := make([]byte, HeaderSize+n)
	binary.BigEndian.PutUint16(buf[0:2], uint16(pkt.Type))
	binary.BigEndian.PutUint16(buf[2:4], uint16(n))
	copy(buf[HeaderSize:], pkt.Payload[:n])
	return buf
}

// Decode deserializes a Packet from a receive buffer. Only the number of
// payload bytes named by the length field is read; anything after it is
// ignored. The type tag is not validated here.
func Decode(data []byte) (*Packet, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes (need at least %d)", ErrShortPacket, len(data), HeaderSize)
	}
	pkt := &Packet{Type: Type(binary.BigEndian.Uint16(data[0:2]))}

	n := min(int(binary.BigEndian.Uint16(data[2:4])), MaxPayload)
	if len(data)-HeaderSize < n {
		return nil, fmt.Errorf("%w: length %d, got %d", ErrTruncatedPayload, n, len(data)-HeaderSize)
	}
	if n > 0 {
		pkt.Payload = make([]byte, n)
		copy(pkt.Payload, data[HeaderSize:HeaderSize+n])
	}
	return pkt, nil
}
