// Package driver runs the protocol loop: fetch one event, dispatch it to the
// state machine, repeat until the user quits.
package driver

import (
	"context"

	"github.com/1ureka/fsmlink/internal/fsm"
	"github.com/1ureka/fsmlink/internal/util"
)

// Events is the event stream the loop consumes.
type Events interface {
	Next(ctx context.Context) (fsm.Event, error)
}

// Loop owns the machine and is the only goroutine that touches it.
type Loop struct {
	machine *fsm.Machine
	events  Events
}

// NewLoop creates a loop over machine and events.
func NewLoop(machine *fsm.Machine, events Events) *Loop {
	return &Loop{machine: machine, events: events}
}

// Run processes events until a QUIT arrives (returning nil), ctx is done, or
// the event source fails.
func (l *Loop) Run(ctx context.Context) error {
	for {
		util.LogInfo("Current state = %s", l.machine.State())

		ev, err := l.events.Next(ctx)
		if err != nil {
			return err
		}
		if ev.Kind == fsm.Quit {
			util.LogInfo("quit requested")
			return nil
		}
		util.LogInfo("EVENT : %s", ev.Kind)

		tr, err := l.machine.Dispatch(ev)
		if err != nil {
			util.LogWarning("%v", err)
			continue
		}
		if tr.Action == fsm.ActNone {
			util.LogDebug("No action for this event")
		}
	}
}
