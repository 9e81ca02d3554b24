package fsm

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/1ureka/fsmlink/internal/protocol"
)

// ---------------------------------------------------------------------------
// Test doubles
// ---------------------------------------------------------------------------

// recordingLink decodes and keeps every packet the machine sends.
type recordingLink struct {
	sent []*protocol.Packet
	err  error
}

func (l *recordingLink) Send(data []byte) error {
	if l.err != nil {
		return l.err
	}
	pkt, err := protocol.Decode(data)
	if err != nil {
		return err
	}
	l.sent = append(l.sent, pkt)
	return nil
}

func (l *recordingLink) count(typ protocol.Type) int {
	n := 0
	for _, p := range l.sent {
		if p.Type == typ {
			n++
		}
	}
	return n
}

func (l *recordingLink) reset() { l.sent = nil }

// fakeTimer records the last arming.
type fakeTimer struct {
	armed bool
	d     time.Duration
	arms  int
}

func (t *fakeTimer) Arm(d time.Duration) {
	if d <= 0 {
		t.Disarm()
		return
	}
	t.armed, t.d = true, d
	t.arms++
}

func (t *fakeTimer) Disarm() { t.armed, t.d = false, 0 }

// recordingReporter counts outcomes.
type recordingReporter struct {
	connected, closed, gaveUp int
	arrived                   [][]byte
}

func (r *recordingReporter) Connected()                 { r.connected++ }
func (r *recordingReporter) Closed()                    { r.closed++ }
func (r *recordingReporter) GaveUp()                    { r.gaveUp++ }
func (r *recordingReporter) Sending([]byte)             {}
func (r *recordingReporter) Resending([]byte, int, int) {}
func (r *recordingReporter) DataArrived(payload []byte) { r.arrived = append(r.arrived, payload) }

type harness struct {
	m      *Machine
	link   *recordingLink
	timer  *fakeTimer
	report *recordingReporter
}

func newHarness(state State) *harness {
	h := &harness{link: &recordingLink{}, timer: &fakeTimer{}, report: &recordingReporter{}}
	h.m = New(DefaultConfig(), h.link, h.timer, h.report)
	h.m.sess.State = state
	return h
}

func (h *harness) dispatch(t *testing.T, kind EventKind, payload []byte) {
	t.Helper()
	if _, err := h.m.Dispatch(Event{Kind: kind, Payload: payload}); err != nil {
		t.Fatalf("Dispatch(%s): %v", kind, err)
	}
}

// ---------------------------------------------------------------------------
// Table properties
// ---------------------------------------------------------------------------

// TestTableIsTotal checks that every (state, event) pair has an explicit
// entry and that lookups are deterministic.
func TestTableIsTotal(t *testing.T) {
	for _, s := range States() {
		for _, k := range EventKinds() {
			tr, ok := Lookup(s, k)
			if !ok {
				t.Fatalf("Lookup(%s, %s) missing", s, k)
			}
			if tr.Action == actInvalid {
				t.Errorf("(%s, %s) has no explicit entry", s, k)
			}
			if int(tr.Next) >= numStates {
				t.Errorf("(%s, %s) -> invalid state %d", s, k, tr.Next)
			}
			if again, _ := Lookup(s, k); again != tr {
				t.Errorf("(%s, %s) lookup not deterministic", s, k)
			}
		}
	}
}

func TestLookupOutsideTable(t *testing.T) {
	if _, ok := Lookup(AwaitingConnect, Quit); ok {
		t.Error("Quit found in table")
	}
	if _, ok := Lookup(State(numStates), Connect); ok {
		t.Error("out-of-range state found in table")
	}
}

func TestDispatchQuitIsRejected(t *testing.T) {
	h := newHarness(Connected)
	_, err := h.m.Dispatch(Event{Kind: Quit})
	if !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("err = %v, want ErrUnknownEvent", err)
	}
	if h.m.State() != Connected || len(h.link.sent) != 0 {
		t.Fatal("rejected event changed the machine")
	}
}

// ---------------------------------------------------------------------------
// Connection setup
// ---------------------------------------------------------------------------

func TestActiveOpenThenAck(t *testing.T) {
	h := newHarness(AwaitingConnect)

	h.dispatch(t, Connect, nil)
	if h.m.State() != ConnectSent {
		t.Fatalf("state = %s, want CONNECT_SENT", h.m.State())
	}
	if h.link.count(protocol.TypeConnect) != 1 {
		t.Fatalf("CONNECT_REQ sent %d times", h.link.count(protocol.TypeConnect))
	}
	if !h.timer.armed || h.timer.d != 3*time.Second {
		t.Fatalf("connect timer = (%v, %v), want armed 3s", h.timer.armed, h.timer.d)
	}

	h.dispatch(t, ReceivedAck, nil)
	if h.m.State() != Connected {
		t.Fatalf("state = %s, want CONNECTED", h.m.State())
	}
	if h.timer.armed {
		t.Fatal("timer still armed after connect ACK")
	}
	if h.report.connected != 1 {
		t.Fatalf("connected reported %d times", h.report.connected)
	}
}

func TestPassiveOpen(t *testing.T) {
	for _, s := range []State{AwaitingConnect, ConnectSent} {
		t.Run(s.String(), func(t *testing.T) {
			h := newHarness(s)
			h.timer.Arm(time.Second)

			h.dispatch(t, ReceivedConnect, nil)
			if h.m.State() != Connected {
				t.Fatalf("state = %s, want CONNECTED", h.m.State())
			}
			if len(h.link.sent) != 1 || h.link.sent[0].Type != protocol.TypeAck {
				t.Fatalf("sent %v, want exactly one ACK", h.link.sent)
			}
			if h.timer.armed {
				t.Fatal("timer armed after passive open")
			}
		})
	}
}

// TestConnectTimeoutGivesUp verifies setup gets no retry budget.
func TestConnectTimeoutGivesUp(t *testing.T) {
	h := newHarness(AwaitingConnect)
	h.dispatch(t, Connect, nil)
	h.link.reset()

	h.dispatch(t, h.m.ClassifyExpiry().Kind, nil)
	if h.m.State() != AwaitingConnect {
		t.Fatalf("state = %s, want AWAITING_CONNECT", h.m.State())
	}
	if h.link.count(protocol.TypeClose) != 1 {
		t.Fatalf("CLOSE_REQ sent %d times", h.link.count(protocol.TypeClose))
	}
}

func TestIdleIgnoresStrayPackets(t *testing.T) {
	for _, k := range []EventKind{ReceivedAck, ReceivedData, ReceivedClose, Send, Timeout, RetryLimitReached} {
		t.Run(k.String(), func(t *testing.T) {
			h := newHarness(AwaitingConnect)
			h.dispatch(t, k, []byte("x"))
			if h.m.State() != AwaitingConnect || len(h.link.sent) != 0 {
				t.Fatalf("state %s, sent %d packets", h.m.State(), len(h.link.sent))
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Close
// ---------------------------------------------------------------------------

func TestLocalCloseFromEveryState(t *testing.T) {
	for _, s := range States() {
		t.Run(s.String(), func(t *testing.T) {
			h := newHarness(s)
			h.m.sess.RetryCount = 2
			h.m.sess.LastSent = []byte("pending")
			h.timer.Arm(time.Second)

			h.dispatch(t, Close, nil)
			if h.m.State() != AwaitingConnect {
				t.Fatalf("state = %s, want AWAITING_CONNECT", h.m.State())
			}
			if len(h.link.sent) != 1 || h.link.sent[0].Type != protocol.TypeClose {
				t.Fatalf("sent %v, want exactly one CLOSE_REQ", h.link.sent)
			}
			if h.timer.armed || h.m.sess.RetryCount != 0 || h.m.sess.LastSent != nil {
				t.Fatal("session not reset by close")
			}
		})
	}
}

func TestReceivedCloseFromOpenStates(t *testing.T) {
	for _, s := range []State{ConnectSent, Connected, SendingData} {
		t.Run(s.String(), func(t *testing.T) {
			h := newHarness(s)
			h.dispatch(t, ReceivedClose, nil)
			if h.m.State() != AwaitingConnect {
				t.Fatalf("state = %s, want AWAITING_CONNECT", h.m.State())
			}
			if h.link.count(protocol.TypeClose) != 1 || len(h.link.sent) != 1 {
				t.Fatalf("sent %v, want exactly one CLOSE_REQ", h.link.sent)
			}
			if h.report.closed != 1 {
				t.Fatalf("closed reported %d times", h.report.closed)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Data transfer
// ---------------------------------------------------------------------------

func TestSendFromConnected(t *testing.T) {
	h := newHarness(Connected)
	payload := []byte("000000001\x00")

	h.dispatch(t, Send, payload)
	if h.m.State() != SendingData {
		t.Fatalf("state = %s, want SENDING_DATA", h.m.State())
	}
	if len(h.link.sent) != 1 || h.link.sent[0].Type != protocol.TypeData {
		t.Fatalf("sent %v, want one DATA", h.link.sent)
	}
	if !bytes.Equal(h.link.sent[0].Payload, payload) || h.link.sent[0].Len() != 10 {
		t.Fatalf("DATA payload = %q", h.link.sent[0].Payload)
	}
	if !h.timer.armed || h.timer.d != 3*time.Second {
		t.Fatalf("data timer = (%v, %v), want armed 3s", h.timer.armed, h.timer.d)
	}
	if h.m.sess.RetryCount != 0 {
		t.Fatalf("RetryCount = %d, want 0", h.m.sess.RetryCount)
	}
}

func TestSendWhileOutstandingIsRefused(t *testing.T) {
	h := newHarness(Connected)
	h.dispatch(t, Send, []byte("first"))
	h.link.reset()

	h.dispatch(t, Send, []byte("second"))
	if h.m.State() != SendingData || len(h.link.sent) != 0 {
		t.Fatalf("state %s, sent %d", h.m.State(), len(h.link.sent))
	}
	if string(h.m.sess.LastSent) != "first" {
		t.Fatalf("LastSent = %q, want first", h.m.sess.LastSent)
	}
}

func TestSendTruncatesOversizedPayload(t *testing.T) {
	h := newHarness(Connected)
	h.dispatch(t, Send, bytes.Repeat([]byte{'a'}, protocol.MaxPayload+10))
	if got := len(h.m.sess.LastSent); got != protocol.MaxPayload {
		t.Fatalf("LastSent len = %d, want %d", got, protocol.MaxPayload)
	}
}

func TestAckStopsResending(t *testing.T) {
	h := newHarness(Connected)
	h.dispatch(t, Send, []byte("x"))
	h.dispatch(t, Timeout, nil)

	h.dispatch(t, ReceivedAck, nil)
	if h.m.State() != Connected {
		t.Fatalf("state = %s, want CONNECTED", h.m.State())
	}
	if h.timer.armed || h.m.sess.RetryCount != 0 || h.m.sess.LastSent != nil {
		t.Fatal("ACK did not clear the outstanding send")
	}
}

// TestDuplicateSuppression: every DATA is acknowledged, but a repeat of the
// last accepted payload is not delivered twice.
func TestDuplicateSuppression(t *testing.T) {
	h := newHarness(Connected)
	payload := []byte("000000007\x00")

	h.dispatch(t, ReceivedData, payload)
	h.dispatch(t, ReceivedData, bytes.Clone(payload))

	if len(h.report.arrived) != 1 {
		t.Fatalf("data accepted %d times, want 1", len(h.report.arrived))
	}
	if h.link.count(protocol.TypeAck) != 2 {
		t.Fatalf("ACK sent %d times, want 2", h.link.count(protocol.TypeAck))
	}
	if h.m.State() != Connected {
		t.Fatalf("state = %s, want CONNECTED", h.m.State())
	}

	h.dispatch(t, ReceivedData, []byte("000000008\x00"))
	if len(h.report.arrived) != 2 {
		t.Fatalf("new payload not accepted")
	}
}

// TestFirstEmptyPayloadAccepted: nothing accepted yet means nothing to
// repeat.
func TestFirstEmptyPayloadAccepted(t *testing.T) {
	h := newHarness(Connected)
	h.dispatch(t, ReceivedData, nil)
	if len(h.report.arrived) != 1 {
		t.Fatal("first empty payload suppressed")
	}
}

// ---------------------------------------------------------------------------
// Retransmission
// ---------------------------------------------------------------------------

func TestTimeoutRetransmitsFromRetryTwo(t *testing.T) {
	h := newHarness(SendingData)
	h.m.sess.RetryCount = 2
	h.m.sess.LastSent = []byte("000000004\x00")

	h.dispatch(t, h.m.ClassifyExpiry().Kind, nil)
	if h.m.sess.RetryCount != 3 {
		t.Fatalf("RetryCount = %d, want 3", h.m.sess.RetryCount)
	}
	if len(h.link.sent) != 1 || !bytes.Equal(h.link.sent[0].Payload, []byte("000000004\x00")) {
		t.Fatalf("sent %v, want one retransmission", h.link.sent)
	}
	if h.m.State() != SendingData || !h.timer.armed {
		t.Fatalf("state %s armed %v", h.m.State(), h.timer.armed)
	}
}

// TestBoundedRetry walks the whole retry budget and the give-up.
func TestBoundedRetry(t *testing.T) {
	h := newHarness(Connected)
	payload := []byte("000000002\x00")
	h.dispatch(t, Send, payload)
	h.link.reset()

	for i := 1; i <= 3; i++ {
		ev := h.m.ClassifyExpiry()
		if ev.Kind != Timeout {
			t.Fatalf("expiry %d classified as %s", i, ev.Kind)
		}
		h.dispatch(t, ev.Kind, nil)
		if h.m.sess.RetryCount != i {
			t.Fatalf("after timeout %d RetryCount = %d", i, h.m.sess.RetryCount)
		}
		if got := h.link.sent[len(h.link.sent)-1]; got.Type != protocol.TypeData || !bytes.Equal(got.Payload, payload) {
			t.Fatalf("retransmission %d = %s %q", i, got.Type, got.Payload)
		}
	}

	ev := h.m.ClassifyExpiry()
	if ev.Kind != RetryLimitReached {
		t.Fatalf("fourth expiry classified as %s", ev.Kind)
	}
	if h.m.sess.RetryCount != 0 {
		t.Fatalf("RetryCount = %d after classification, want 0", h.m.sess.RetryCount)
	}

	h.dispatch(t, ev.Kind, nil)
	if h.m.State() != AwaitingConnect {
		t.Fatalf("state = %s, want AWAITING_CONNECT", h.m.State())
	}
	if h.timer.armed || h.m.sess.RetryCount != 0 {
		t.Fatal("give-up left timer or retry count behind")
	}
	if h.report.gaveUp != 1 {
		t.Fatalf("give-up reported %d times", h.report.gaveUp)
	}
}

// TestPeerDataWhileSending: the peer's DATA is taken while our own DATA is
// still unacknowledged. The timer keeps running, and its expiry in CONNECTED
// brings the machine back to SENDING_DATA.
func TestPeerDataWhileSending(t *testing.T) {
	h := newHarness(Connected)
	h.dispatch(t, Send, []byte("mine"))

	h.dispatch(t, ReceivedData, []byte("theirs"))
	if h.m.State() != Connected {
		t.Fatalf("state = %s, want CONNECTED", h.m.State())
	}
	if !h.timer.armed {
		t.Fatal("timer disarmed with DATA outstanding")
	}
	if len(h.report.arrived) != 1 {
		t.Fatal("peer data not accepted")
	}

	h.dispatch(t, Timeout, nil)
	if h.m.State() != SendingData || !h.timer.armed {
		t.Fatalf("state %s armed %v, want SENDING_DATA armed", h.m.State(), h.timer.armed)
	}

	h.link.reset()
	h.dispatch(t, Timeout, nil)
	if len(h.link.sent) != 1 || string(h.link.sent[0].Payload) != "mine" {
		t.Fatalf("sent %v, want retransmission of own data", h.link.sent)
	}
}

// TestSendFailureIsNotFatal: a channel error is treated as loss.
func TestSendFailureIsNotFatal(t *testing.T) {
	h := newHarness(Connected)
	h.link.err = errors.New("boom")

	h.dispatch(t, Send, []byte("x"))
	if h.m.State() != SendingData || !h.timer.armed {
		t.Fatal("send failure changed the transition")
	}
}

func TestNilReporterDefaultsToLog(t *testing.T) {
	m := New(DefaultConfig(), &recordingLink{}, &fakeTimer{}, nil)
	if _, ok := m.report.(LogReporter); !ok {
		t.Fatalf("reporter = %T, want LogReporter", m.report)
	}
}

func TestPrintable(t *testing.T) {
	if got := Printable([]byte("000000003\x00")); got != "000000003" {
		t.Errorf("Printable = %q", got)
	}
	if got := Printable([]byte("plain")); got != "plain" {
		t.Errorf("Printable = %q", got)
	}
}

func TestNames(t *testing.T) {
	if SendingData.String() != "SENDING_DATA" || RetryLimitReached.String() != "RETRY_LIMIT_REACHED" {
		t.Error("unexpected names")
	}
	if Quit.String() != "QUIT" || ActResend.String() != "resend_data" {
		t.Error("unexpected names")
	}
}
