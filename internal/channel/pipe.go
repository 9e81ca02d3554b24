package channel

import "sync"

// Pipe is one end of an in-memory, lossless Channel pair.
type Pipe struct {
	inbox *Inbox
	peer  *Pipe
	once  sync.Once
}

// NewPipe creates two linked ends. Each buffers up to capacity packets;
// overflow is dropped.
func NewPipe(capacity int) (a, b *Pipe) {
	a = &Pipe{inbox: NewInbox(capacity)}
	b = &Pipe{inbox: NewInbox(capacity)}
	a.peer = b
	b.peer = a
	return a, b
}

// Send delivers data to the other end.
func (p *Pipe) Send(data []byte) error {
	select {
	case <-p.inbox.Done():
		return ErrClosed
	default:
	}
	p.peer.inbox.Push(data)
	return nil
}

// Recv returns the next packet sent by the other end, if any.
func (p *Pipe) Recv(buf []byte) (int, error) {
	return p.inbox.Pop(buf)
}

// Close shuts this end. Safe to call multiple times.
func (p *Pipe) Close() error {
	p.once.Do(p.inbox.Shutdown)
	return nil
}
