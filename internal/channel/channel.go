// Package channel defines the unreliable packet channel the protocol runs on,
// together with an in-memory implementation and a loss injector.
package channel

import "errors"

var ErrClosed = errors.New("channel: closed")

// Channel carries whole encoded packets to and from a single peer. Delivery
// is unreliable: packets may be lost, duplicated or reordered.
type Channel interface {
	// Send transmits one encoded packet.
	Send(data []byte) error

	// Recv copies the next pending packet into buf and returns its size.
	// It never blocks: (0, nil) means nothing is available right now.
	// Bytes that do not fit in buf are discarded.
	Recv(buf []byte) (int, error)

	// Close releases the channel.
	Close() error
}

// Inbox is a bounded queue of received packets shared by the Channel
// implementations whose transport delivers packets from another goroutine.
type Inbox struct {
	ch   chan []byte
	done chan struct{}
}

// NewInbox creates an inbox holding at most capacity packets.
func NewInbox(capacity int) *Inbox {
	return &Inbox{
		ch:   make(chan []byte, capacity),
		done: make(chan struct{}),
	}
}

// Push enqueues a copy of data. When the inbox is full the packet is dropped,
// which the protocol treats like any other loss. It reports whether the
// packet was queued.
func (in *Inbox) Push(data []byte) bool {
	pkt := make([]byte, len(data))
	copy(pkt, data)

	select {
	case <-in.done:
		return false
	default:
	}

	select {
	case in.ch <- pkt:
		return true
	default:
		return false
	}
}

// Pop implements the non-blocking Recv contract on top of the queue.
func (in *Inbox) Pop(buf []byte) (int, error) {
	select {
	case pkt := <-in.ch:
		return copy(buf, pkt), nil
	default:
	}

	select {
	case <-in.done:
		return 0, ErrClosed
	default:
		return 0, nil
	}
}

// Shutdown marks the inbox closed; later Pop calls on an empty queue return
// ErrClosed. Safe to call once.
func (in *Inbox) Shutdown() {
	close(in.done)
}

// Done is closed after Shutdown.
func (in *Inbox) Done() <-chan struct{} {
	return in.done
}
