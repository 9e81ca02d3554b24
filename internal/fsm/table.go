package fsm

// Action names the side effect performed on a transition.
type Action uint8

const (
	actInvalid Action = iota // zero value; never present in a complete table

	ActNone            // ignore the event
	ActPassiveOpen     // ACK a remote CONNECT_REQ and report the connection
	ActActiveOpen      // send CONNECT_REQ and arm the connect timer
	ActReportConnected // our CONNECT_REQ was acknowledged
	ActClose           // send CLOSE_REQ and reset the session
	ActSendData        // transmit new DATA and arm the data timer
	ActReportData      // ACK inbound DATA, accepting it unless it repeats
	ActRearm           // arm the data timer without sending
	ActResend          // retransmit the outstanding DATA
	ActStopResending   // outstanding DATA acknowledged
	ActGiveUp          // retry ceiling reached; tear the connection down
)

var actionNames = [...]string{
	"invalid", "none", "passive_open", "active_open", "report_connect", "close",
	"send_data", "report_data", "rearm", "resend_data", "stop_resending", "give_up",
}

func (a Action) String() string {
	if int(a) < len(actionNames) {
		return actionNames[a]
	}
	return "unknown"
}

// Transition is one table entry: what to do, and where to go afterwards.
type Transition struct {
	Action Action
	Next   State
}

// table covers every (state, event) pair explicitly.
var table = [numStates][numEvents]Transition{
	AwaitingConnect: {
		ReceivedConnect:   {ActPassiveOpen, Connected},
		ReceivedClose:     {ActNone, AwaitingConnect}, // answering would echo CLOSE_REQ between idle peers
		ReceivedAck:       {ActNone, AwaitingConnect},
		ReceivedData:      {ActNone, AwaitingConnect},
		Connect:           {ActActiveOpen, ConnectSent},
		Close:             {ActClose, AwaitingConnect},
		Send:              {ActNone, AwaitingConnect},
		Timeout:           {ActNone, AwaitingConnect},
		RetryLimitReached: {ActNone, AwaitingConnect},
	},
	ConnectSent: {
		ReceivedConnect:   {ActPassiveOpen, Connected}, // simultaneous open
		ReceivedClose:     {ActClose, AwaitingConnect},
		ReceivedAck:       {ActReportConnected, Connected},
		ReceivedData:      {ActNone, ConnectSent},
		Connect:           {ActNone, ConnectSent},
		Close:             {ActClose, AwaitingConnect},
		Send:              {ActNone, ConnectSent},
		Timeout:           {ActClose, AwaitingConnect}, // no retry budget for setup
		RetryLimitReached: {ActNone, ConnectSent},
	},
	Connected: {
		ReceivedConnect:   {ActNone, Connected},
		ReceivedClose:     {ActClose, AwaitingConnect},
		ReceivedAck:       {ActNone, Connected},
		ReceivedData:      {ActReportData, Connected},
		Connect:           {ActNone, Connected},
		Close:             {ActClose, AwaitingConnect},
		Send:              {ActSendData, SendingData},
		Timeout:           {ActRearm, SendingData}, // only reachable with DATA still outstanding
		RetryLimitReached: {ActNone, Connected},
	},
	SendingData: {
		ReceivedConnect:   {ActNone, SendingData},
		ReceivedClose:     {ActClose, AwaitingConnect},
		ReceivedAck:       {ActStopResending, Connected},
		ReceivedData:      {ActReportData, Connected},
		Connect:           {ActNone, SendingData},
		Close:             {ActClose, AwaitingConnect},
		Send:              {ActNone, SendingData}, // one outstanding DATA at a time
		Timeout:           {ActResend, SendingData},
		RetryLimitReached: {ActGiveUp, AwaitingConnect},
	},
}

// Lookup returns the table entry for (s, k). ok is false only for values
// outside the table, such as Quit.
func Lookup(s State, k EventKind) (tr Transition, ok bool) {
	if int(s) >= numStates || int(k) >= numEvents {
		return Transition{}, false
	}
	return table[s][k], true
}
