// Package event merges the three origins of protocol events (local
// commands, timer expiry and inbound packets) into the single stream the
// protocol loop consumes.
package event

import (
	"context"
	"fmt"
	"time"

	"github.com/1ureka/fsmlink/internal/console"
	"github.com/1ureka/fsmlink/internal/fsm"
	"github.com/1ureka/fsmlink/internal/protocol"
	"github.com/1ureka/fsmlink/internal/util"
)

// DefaultPollInterval is how long Next sleeps when no origin has anything.
const DefaultPollInterval = 10 * time.Millisecond

// Commands is the local command source.
type Commands interface {
	HasPending() bool
	Read() console.Command
}

// Expiry is the poll side of the retransmission timer.
type Expiry interface {
	Expired() bool
}

// Receiver is the non-blocking receive side of the channel.
type Receiver interface {
	Recv(buf []byte) (int, error)
}

// Classifier decides whether a timer expiry is a TIMEOUT or the retry
// ceiling. *fsm.Machine implements it.
type Classifier interface {
	ClassifyExpiry() fsm.Event
}

// Source yields one event per call to Next. It is used only by the
// protocol loop goroutine.
type Source struct {
	cmds     Commands
	timer    Expiry
	recv     Receiver
	classify Classifier
	poll     time.Duration

	dataCount int
	buf       []byte
}

// NewSource builds a source. A poll interval <= 0 uses DefaultPollInterval.
func NewSource(cmds Commands, timer Expiry, recv Receiver, classify Classifier, poll time.Duration) *Source {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Source{
		cmds:     cmds,
		timer:    timer,
		recv:     recv,
		classify: classify,
		poll:     poll,
		buf:      make([]byte, protocol.MaxPacketSize),
	}
}

// Next blocks until an event is available, checking each iteration, in
// strict order, for a local command, a timer expiry, then an inbound packet.
// It returns ctx.Err() once ctx is done and any receive error from the
// channel.
func (s *Source) Next(ctx context.Context) (fsm.Event, error) {
	for {
		ev, ok, err := s.pollOnce()
		if err != nil {
			return fsm.Event{}, err
		}
		if ok {
			return ev, nil
		}

		select {
		case <-ctx.Done():
			return fsm.Event{}, ctx.Err()
		case <-time.After(s.poll):
		}
	}
}

// pollOnce performs one prioritized pass over the three origins.
func (s *Source) pollOnce() (fsm.Event, bool, error) {
	if s.cmds.HasPending() {
		return s.fromCommand(s.cmds.Read()), true, nil
	}

	if s.timer.Expired() {
		util.LogDebug("timed out")
		return s.classify.ClassifyExpiry(), true, nil
	}

	n, err := s.recv.Recv(s.buf)
	if err != nil {
		return fsm.Event{}, false, fmt.Errorf("receive from channel: %w", err)
	}
	if n <= 0 {
		return fsm.Event{}, false, nil
	}
	util.Stats.AddRecv(n)
	return s.fromPacket(s.buf[:n])
}

func (s *Source) fromCommand(cmd console.Command) fsm.Event {
	switch cmd {
	case console.CommandConnect:
		return fsm.Event{Kind: fsm.Connect}
	case console.CommandClose:
		return fsm.Event{Kind: fsm.Close}
	case console.CommandSend:
		return fsm.Event{Kind: fsm.Send, Payload: s.nextPayload()}
	default:
		return fsm.Event{Kind: fsm.Quit}
	}
}

// nextPayload generates the content of a SEND: the next counter value as
// nine digits plus the NUL terminator peers expect on the wire.
func (s *Source) nextPayload() []byte {
	payload := append([]byte(fmt.Sprintf("%09d", s.dataCount)), 0)
	s.dataCount++
	return payload
}

// fromPacket maps a received packet to its event. Malformed packets and
// unknown type tags produce no event.
func (s *Source) fromPacket(data []byte) (fsm.Event, bool, error) {
	pkt, err := protocol.Decode(data)
	if err != nil {
		util.Stats.AddMalformed()
		util.LogDebug("dropping malformed packet: %v", err)
		return fsm.Event{}, false, nil
	}

	util.LogDebug("RECV %s (%d bytes)", pkt.Type, len(data))

	switch pkt.Type {
	case protocol.TypeConnect:
		return fsm.Event{Kind: fsm.ReceivedConnect}, true, nil
	case protocol.TypeClose:
		return fsm.Event{Kind: fsm.ReceivedClose}, true, nil
	case protocol.TypeAck:
		return fsm.Event{Kind: fsm.ReceivedAck}, true, nil
	case protocol.TypeData:
		return fsm.Event{Kind: fsm.ReceivedData, Payload: pkt.Payload}, true, nil
	default:
		util.Stats.AddMalformed()
		util.LogDebug("dropping packet with unknown type %s", pkt.Type)
		return fsm.Event{}, false, nil
	}
}
