// Package protocol defines the wire packet exchanged between two fsmlink peers.
package protocol

import "fmt"

// Type is the packet type tag carried in the first header field.
type Type uint16

// Packet type constants. The numeric values are part of the wire format.
const (
	TypeConnect Type = 0 // Connection request
	TypeClose   Type = 1 // Close request
	TypeAck     Type = 2 // Acknowledgment of a CONNECT or DATA
	TypeData    Type = 3 // Data payload
)

// HeaderSize is the fixed header size: Type(2) + Length(2).
const HeaderSize = 4

// MaxPayload caps the number of payload bytes a single packet may carry.
const MaxPayload = 500

// MaxPacketSize is the largest encoded packet: header plus a full payload.
const MaxPacketSize = HeaderSize + MaxPayload

var typeNames = [...]string{"CONNECT_REQ", "CLOSE_REQ", "ACK", "DATA"}

// String returns the wire name of the type.
func (t Type) String() string {
	if t.Valid() {
		return typeNames[t]
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint16(t))
}

// Valid reports whether t is one of the four known packet types.
func (t Type) Valid() bool {
	return t <= TypeData
}

// Packet represents one protocol packet. Only DATA packets carry a payload;
// its length is the length field on the wire.
type Packet struct {
	Type    Type
	Payload []byte
}

// Len returns the number of payload bytes that will be put on the wire.
func (p *Packet) Len() int {
	return min(len(p.Payload), MaxPayload)
}
