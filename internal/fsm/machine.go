package fsm

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/1ureka/fsmlink/internal/protocol"
	"github.com/1ureka/fsmlink/internal/util"
)

var ErrUnknownEvent = errors.New("fsm: event outside the transition table")

// Config holds the protocol timing constants.
type Config struct {
	ConnectTimeout time.Duration // wait for the ACK of a CONNECT_REQ
	DataTimeout    time.Duration // wait for the ACK of a DATA packet
	RetryLimit     int           // retransmissions before giving up
}

// DefaultConfig returns the standard 3s/3s/3-retries setting.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 3 * time.Second,
		DataTimeout:    3 * time.Second,
		RetryLimit:     3,
	}
}

// Sender transmits one encoded packet. channel.Channel satisfies it.
type Sender interface {
	Send(data []byte) error
}

// Timer is the single retransmission timer. Arm(0) disarms.
type Timer interface {
	Arm(d time.Duration)
	Disarm()
}

// Session is the per-connection state mutated by the actions.
type Session struct {
	State        State
	RetryCount   int    // consecutive retransmissions of LastSent
	LastSent     []byte // outstanding DATA payload, nil when none
	LastReceived []byte // most recently accepted DATA payload
	received     bool   // LastReceived holds an accepted payload
}

// Machine executes table transitions against a session. It is driven by a
// single goroutine and is not safe for concurrent use.
type Machine struct {
	cfg    Config
	sess   Session
	link   Sender
	timer  Timer
	report Reporter
}

// New creates a machine in AWAITING_CONNECT. A nil reporter logs through util.
func New(cfg Config, link Sender, timer Timer, report Reporter) *Machine {
	if report == nil {
		report = LogReporter{}
	}
	return &Machine{
		cfg:    cfg,
		sess:   Session{State: AwaitingConnect},
		link:   link,
		timer:  timer,
		report: report,
	}
}

// State returns the current state.
func (m *Machine) State() State {
	return m.sess.State
}

// Session returns a copy of the session state.
func (m *Machine) Session() Session {
	s := m.sess
	s.LastSent = bytes.Clone(m.sess.LastSent)
	s.LastReceived = bytes.Clone(m.sess.LastReceived)
	return s
}

// Config returns the timing constants in use.
func (m *Machine) Config() Config {
	return m.cfg
}

// ClassifyExpiry turns a timer expiry into TIMEOUT while retransmissions
// remain, and into RETRY_LIMIT_REACHED once the ceiling is hit, resetting
// the retry count.
func (m *Machine) ClassifyExpiry() Event {
	if m.sess.RetryCount < m.cfg.RetryLimit {
		return Event{Kind: Timeout}
	}
	m.sess.RetryCount = 0
	return Event{Kind: RetryLimitReached}
}

// Dispatch performs the action paired with (current state, ev.Kind) and
// commits the next state. Kinds outside the table return ErrUnknownEvent and
// change nothing.
func (m *Machine) Dispatch(ev Event) (Transition, error) {
	tr, ok := Lookup(m.sess.State, ev.Kind)
	if !ok {
		return Transition{}, fmt.Errorf("%w: %s in %s", ErrUnknownEvent, ev.Kind, m.sess.State)
	}

	m.perform(tr.Action, ev)
	m.sess.State = tr.Next
	return tr, nil
}

func (m *Machine) perform(a Action, ev Event) {
	switch a {
	case ActPassiveOpen:
		m.send(protocol.TypeAck, nil)
		m.reportConnected()

	case ActActiveOpen:
		m.send(protocol.TypeConnect, nil)
		m.timer.Arm(m.cfg.ConnectTimeout)

	case ActReportConnected:
		m.reportConnected()

	case ActClose:
		m.send(protocol.TypeClose, nil)
		m.reset()
		m.report.Closed()

	case ActSendData:
		m.sendData(ev.Payload)

	case ActReportData:
		m.reportData(ev.Payload)

	case ActRearm:
		m.timer.Arm(m.cfg.DataTimeout)

	case ActResend:
		m.sess.RetryCount++
		m.report.Resending(m.sess.LastSent, m.sess.RetryCount, m.cfg.RetryLimit)
		m.send(protocol.TypeData, m.sess.LastSent)
		util.Stats.AddRetransmit()
		m.timer.Arm(m.cfg.DataTimeout)

	case ActStopResending:
		m.timer.Disarm()
		m.sess.RetryCount = 0
		m.sess.LastSent = nil

	case ActGiveUp:
		m.send(protocol.TypeClose, nil)
		m.reset()
		util.Stats.AddGiveUp()
		m.report.GaveUp()
	}
}

func (m *Machine) reportConnected() {
	m.timer.Disarm()
	m.report.Connected()
}

func (m *Machine) sendData(payload []byte) {
	payload = bytes.Clone(payload[:min(len(payload), protocol.MaxPayload)])

	m.report.Sending(payload)
	m.send(protocol.TypeData, payload)
	m.sess.LastSent = payload
	m.sess.RetryCount = 0
	m.timer.Arm(m.cfg.DataTimeout)
}

// reportData always acknowledges, since a repeat usually means our previous
// ACK was lost, but accepts a payload only when it differs from the last one.
func (m *Machine) reportData(payload []byte) {
	m.send(protocol.TypeAck, nil)

	if m.sess.received && bytes.Equal(payload, m.sess.LastReceived) {
		util.Stats.AddDuplicate()
		util.LogDebug("duplicate data suppressed ('%s')", Printable(payload))
		return
	}

	m.sess.LastReceived = bytes.Clone(payload)
	m.sess.received = true
	m.report.DataArrived(payload)
}

// reset returns the session to its idle values.
func (m *Machine) reset() {
	m.timer.Disarm()
	m.sess.RetryCount = 0
	m.sess.LastSent = nil
	m.sess.LastReceived = nil
	m.sess.received = false
}

// send encodes and transmits a packet. A failed send is logged and otherwise
// treated like loss on the channel: the timer recovers from it.
func (m *Machine) send(typ protocol.Type, payload []byte) {
	data := protocol.Encode(&protocol.Packet{Type: typ, Payload: payload})
	util.LogDebug("SEND %s (%d bytes)", typ, len(data))

	if err := m.link.Send(data); err != nil {
		util.LogWarning("failed to send %s: %v", typ, err)
		return
	}
	util.Stats.AddSent(len(data))
}
