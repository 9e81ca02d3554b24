package fsm

import (
	"bytes"

	"github.com/1ureka/fsmlink/internal/util"
)

// Reporter receives the user-visible outcomes of transitions.
type Reporter interface {
	Connected()
	Closed()
	Sending(payload []byte)
	Resending(payload []byte, try, limit int)
	DataArrived(payload []byte)
	GaveUp()
}

// LogReporter writes every outcome to the process log.
type LogReporter struct{}

func (LogReporter) Connected() { util.LogSuccess("Connected") }
func (LogReporter) Closed()    { util.LogInfo("Connection closed") }
func (LogReporter) GaveUp()    { util.LogWarning("resending is over, connection closed") }

func (LogReporter) Sending(payload []byte) {
	util.LogInfo("Send data to peer '%s' size:%d", Printable(payload), len(payload))
}

func (LogReporter) Resending(payload []byte, try, limit int) {
	util.LogWarning("Resend data to peer '%s' size:%d try:%d/%d", Printable(payload), len(payload), try, limit)
}

func (LogReporter) DataArrived(payload []byte) {
	util.LogSuccess("Data arrived data='%s' size:%d", Printable(payload), len(payload))
}

// Printable returns payload as text, without the NUL terminator the wire
// format carries.
func Printable(payload []byte) string {
	if i := bytes.IndexByte(payload, 0); i >= 0 {
		payload = payload[:i]
	}
	return string(payload)
}
