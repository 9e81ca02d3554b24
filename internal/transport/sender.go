package transport

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/fsmlink/internal/util"
)

const (
	highWaterMark  = 64 * 1024 // pause sending when bufferedAmount exceeds this
	lowWaterMark   = 16 * 1024 // resume sending when bufferedAmount drops below this
	sendBufferSize = 64        // outgoing packet channel capacity
)

// sender is a goroutine-based packet writer that serializes all writes to a
// single DataChannel, adding open-gate and backpressure control.
type sender struct {
	outbox      chan []byte
	drainSignal chan struct{}
}

// newSender creates a sender, wires the backpressure callbacks on dc, and
// starts the background loop. The loop exits when ctx is cancelled.
func newSender(ctx context.Context, dc *webrtc.DataChannel, openSignal <-chan struct{}) *sender {
	s := &sender{
		outbox:      make(chan []byte, sendBufferSize),
		drainSignal: make(chan struct{}, 1),
	}

	dc.SetBufferedAmountLowThreshold(uint64(lowWaterMark))
	dc.OnBufferedAmountLow(func() {
		select {
		case s.drainSignal <- struct{}{}:
		default:
		}
	})

	go s.loop(ctx, dc, openSignal)

	return s
}

// loop is the single-writer goroutine. It waits for the DataChannel to open,
// then drains the outbox with backpressure awareness.
func (s *sender) loop(ctx context.Context, dc *webrtc.DataChannel, openSignal <-chan struct{}) {
	select {
	case <-openSignal:
	case <-ctx.Done():
		return
	}

	for {
		select {
		case data := <-s.outbox:
			if dc.BufferedAmount() > uint64(highWaterMark) {
				select {
				case <-s.drainSignal:
				case <-ctx.Done():
					return
				}
			}

			// A failed write is just another lost packet.
			if err := dc.Send(data); err != nil {
				util.LogWarning("DataChannel send failed (%d bytes): %v", len(data), err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// enqueue hands a packet to the writer without blocking. It reports false
// when the outbox is full.
func (s *sender) enqueue(data []byte) bool {
	pkt := make([]byte, len(data))
	copy(pkt, data)

	select {
	case s.outbox <- pkt:
		return true
	default:
		return false
	}
}
