// Package fsm implements the stop-and-wait connection state machine: a total
// (state, event) transition table, the actions it names, and the session
// state those actions mutate.
package fsm

import "fmt"

// State is a connection state.
type State uint8

const (
	AwaitingConnect State = iota // idle, waiting for a local or remote open
	ConnectSent                  // CONNECT_REQ sent, waiting for ACK
	Connected                    // open, nothing outstanding
	SendingData                  // open, one DATA packet unacknowledged

	numStates = iota
)

var stateNames = [numStates]string{"AWAITING_CONNECT", "CONNECT_SENT", "CONNECTED", "SENDING_DATA"}

func (s State) String() string {
	if int(s) < numStates {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// EventKind identifies what happened. The first numEvents kinds index the
// transition table; Quit ends the protocol loop and never reaches it.
type EventKind uint8

const (
	ReceivedConnect EventKind = iota
	ReceivedClose
	ReceivedAck
	ReceivedData
	Connect
	Close
	Send
	Timeout
	RetryLimitReached

	numEvents = iota
)

// Quit is the local request to stop the protocol loop.
const Quit EventKind = numEvents

var eventNames = [numEvents + 1]string{
	"RECEIVED_CONNECT", "RECEIVED_CLOSE", "RECEIVED_ACK", "RECEIVED_DATA",
	"CONNECT", "CLOSE", "SEND", "TIMEOUT", "RETRY_LIMIT_REACHED", "QUIT",
}

func (k EventKind) String() string {
	if int(k) < len(eventNames) {
		return eventNames[k]
	}
	return fmt.Sprintf("EventKind(%d)", uint8(k))
}

// Event is one unit of work for the machine. Payload is set for SEND and
// RECEIVED_DATA only.
type Event struct {
	Kind    EventKind
	Payload []byte
}

// States returns every state in table order.
func States() []State {
	return []State{AwaitingConnect, ConnectSent, Connected, SendingData}
}

// EventKinds returns every table event in table order (Quit excluded).
func EventKinds() []EventKind {
	kinds := make([]EventKind, numEvents)
	for i := range kinds {
		kinds[i] = EventKind(i)
	}
	return kinds
}
