// Package console turns lines typed by the user into protocol commands.
package console

import (
	"bufio"
	"io"
	"strings"

	"github.com/1ureka/fsmlink/internal/util"
)

// Command is a local user intent.
type Command uint8

const (
	CommandConnect Command = iota
	CommandClose
	CommandSend
	CommandQuit
)

func (c Command) String() string {
	switch c {
	case CommandConnect:
		return "connect"
	case CommandClose:
		return "close"
	case CommandSend:
		return "send"
	case CommandQuit:
		return "quit"
	default:
		return "unknown"
	}
}

// Usage is the prompt shown before the protocol loop starts.
const Usage = "type number '[0]CONNECT', '[1]CLOSE', '[2]SEND', or '[3]QUIT'"

// bufferSize bounds the number of commands typed ahead of the protocol loop.
const bufferSize = 16

// Source reads commands from a reader on its own goroutine and queues them
// for the protocol loop, which is the only consumer.
type Source struct {
	cmds chan Command
}

// New starts reading r. Unrecognised lines are ignored with a warning; end of
// input (or a read error) queues a final CommandQuit.
func New(r io.Reader) *Source {
	s := &Source{cmds: make(chan Command, bufferSize)}
	go s.scan(r)
	return s
}

// HasPending reports whether a command is queued. Since the protocol loop is
// the only consumer, a true result guarantees Read will not block.
func (s *Source) HasPending() bool {
	return len(s.cmds) > 0
}

// Read returns the next queued command, blocking until one arrives.
func (s *Source) Read() Command {
	return <-s.cmds
}

func (s *Source) scan(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		cmd, ok := Parse(line)
		if !ok {
			util.LogWarning("unknown command %q (%s)", line, Usage)
			continue
		}
		s.cmds <- cmd
	}

	if err := scanner.Err(); err != nil {
		util.LogError("failed to read commands: %v", err)
	}
	s.cmds <- CommandQuit
}

// Parse maps a digit or command word to a Command.
func Parse(line string) (Command, bool) {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "0", "connect":
		return CommandConnect, true
	case "1", "close":
		return CommandClose, true
	case "2", "send":
		return CommandSend, true
	case "3", "quit", "exit":
		return CommandQuit, true
	default:
		return 0, false
	}
}
