package signaling

import (
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/fsmlink/internal/transport"
)

// sender serializes outgoing signaling messages; the ICE callback and the
// receiver loop both write to the same socket.
type sender struct {
	tr   *transport.Transport
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *sender) send(msg message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(msg)
}

func (s *sender) sendOffer() error {
	return s.describe(msgTypeOffer, s.tr.CreateOffer)
}

func (s *sender) sendAnswer() error {
	return s.describe(msgTypeAnswer, s.tr.CreateAnswer)
}

// describe creates a local description, applies it and sends its SDP.
func (s *sender) describe(typ messageType, create func() (webrtc.SessionDescription, error)) error {
	desc, err := create()
	if err != nil {
		return fmt.Errorf("create %s: %w", typ, err)
	}
	if err := s.tr.SetLocalDescription(desc); err != nil {
		return fmt.Errorf("set local %s: %w", typ, err)
	}
	return s.send(message{Type: typ, SDP: desc.SDP})
}

func (s *sender) sendCandidate(candidate string) error {
	return s.send(message{Type: msgTypeCandidate, Candidate: candidate})
}
