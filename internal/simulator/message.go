// Package simulator provides the simulated packet channel two fsmlink peers
// talk through: a WebSocket hub that pairs peers by channel number and
// injects loss and duplication, and the client side that logs into it.
package simulator

import "errors"

var (
	ErrLoginRejected = errors.New("simulator: login rejected")
	ErrHubClosed     = errors.New("simulator: hub closed")
)

// MessageType identifies a control message exchanged during login.
type MessageType string

const (
	MsgTypeLogin   MessageType = "login"
	MsgTypeWelcome MessageType = "welcome"
	MsgTypeError   MessageType = "error"
)

// Message is the JSON control message. Packets themselves travel as binary
// WebSocket messages once the login has been accepted.
type Message struct {
	Type    MessageType `json:"type"`
	Channel int         `json:"channel,omitempty"`
	ID      int         `json:"id,omitempty"`
	Loss    int         `json:"loss,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Login identifies a peer to the hub. Peers on the same Channel exchange
// packets; Loss is the percentage (0..100) of this peer's packets to drop.
type Login struct {
	Channel int
	ID      int
	Loss    int
}
