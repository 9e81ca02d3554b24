package transport

import (
	"context"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
)

// pair connects two Transports in-process, exchanging SDP directly and
// forwarding ICE candidates once both descriptions are set.
func pair(t *testing.T) (a, b *Transport) {
	t.Helper()
	if testing.Short() {
		t.Skip("WebRTC handshake skipped in short mode")
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	a, err := NewTransport(ctx)
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	b, err = NewTransport(ctx)
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})

	aCands := make(chan webrtc.ICECandidateInit, 32)
	bCands := make(chan webrtc.ICECandidateInit, 32)
	a.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil {
			aCands <- c.ToJSON()
		}
	})
	b.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil {
			bCands <- c.ToJSON()
		}
	})

	offer, err := a.CreateOffer()
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if err := a.SetLocalDescription(offer); err != nil {
		t.Fatalf("SetLocalDescription: %v", err)
	}
	if err := b.SetRemoteDescription(offer); err != nil {
		t.Fatalf("SetRemoteDescription: %v", err)
	}
	answer, err := b.CreateAnswer()
	if err != nil {
		t.Fatalf("CreateAnswer: %v", err)
	}
	if err := b.SetLocalDescription(answer); err != nil {
		t.Fatalf("SetLocalDescription: %v", err)
	}
	if err := a.SetRemoteDescription(answer); err != nil {
		t.Fatalf("SetRemoteDescription: %v", err)
	}

	go func() {
		for {
			select {
			case c := <-aCands:
				b.AddICECandidate(c)
			case c := <-bCands:
				a.AddICECandidate(c)
			case <-ctx.Done():
				return
			}
		}
	}()

	for _, tr := range []*Transport{a, b} {
		select {
		case <-tr.Ready():
		case <-time.After(10 * time.Second):
			t.Fatal("DataChannel did not open")
		}
	}
	return a, b
}

func recvWithin(tr *Transport, d time.Duration) ([]byte, bool) {
	buf := make([]byte, 1024)
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		n, err := tr.Recv(buf)
		if err != nil {
			return nil, false
		}
		if n > 0 {
			return buf[:n], true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return nil, false
}

func TestTransportExchangesPackets(t *testing.T) {
	a, b := pair(t)

	if err := a.Send([]byte{0, 3, 0, 2, 'h', 'i'}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got, ok := recvWithin(b, 5*time.Second)
	if !ok || string(got) != "\x00\x03\x00\x02hi" {
		t.Fatalf("b got %q, %v", got, ok)
	}

	if err := b.Send([]byte("ack")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got, ok := recvWithin(a, 5*time.Second); !ok || string(got) != "ack" {
		t.Fatalf("a got %q, %v", got, ok)
	}
}

func TestTransportSendAfterClose(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr, err := NewTransport(ctx)
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	tr.Close()

	select {
	case <-tr.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after Close")
	}
	if err := tr.Send([]byte("x")); err == nil {
		t.Fatal("Send after Close returned nil error")
	}
}
