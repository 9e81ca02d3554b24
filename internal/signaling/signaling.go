// Package signaling performs the out-of-band setup of the peer-to-peer
// channel: a PIN-protected WebSocket carries the SDP/ICE exchange, and
// callers receive a Transport whose DataChannel is open.
package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/pterm/pterm"

	"github.com/1ureka/fsmlink/internal/transport"
	"github.com/1ureka/fsmlink/internal/util"
)

const (
	pinLength = 4

	// readyGrace is how long a peer keeps waiting for its DataChannel after
	// the other side has already closed the signaling socket.
	readyGrace = 5 * time.Second
)

// EstablishAsHost executes the host-side signaling flow:
//  1. Start a WS server on wsAddr (random port when empty) guarded by a PIN
//  2. Print the connection info
//  3. Wait for the client to connect
//  4. Send the offer and trade ICE candidates
//  5. Return the Transport once its DataChannel is open
func EstablishAsHost(ctx context.Context, wsAddr string) (*transport.Transport, error) {
	pin := generatePIN(pinLength)
	srv := newServer(pin)
	wsPort, err := srv.start(wsAddr)
	if err != nil {
		return nil, err
	}
	defer srv.close()

	pterm.DefaultBox.WithTitle("Signaling server").Println(
		fmt.Sprintf("Port : %d\nPIN  : %s\nURL  : ws://<host>:%d/ws?pin=%s", wsPort, pin, wsPort, pin))
	util.LogInfo("waiting for the peer to connect...")

	wsConn, err := srv.waitForClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("wait for client: %w", err)
	}
	defer wsConn.Close()
	util.LogInfo("peer connected to signaling server")

	return exchange(ctx, wsConn, true)
}

// EstablishAsClient executes the client-side signaling flow against the
// host's URL, which carries the PIN as a query parameter, e.g.:
//
//	ws://example.host:40123/ws?pin=1234
func EstablishAsClient(ctx context.Context, wsURL string) (*transport.Transport, error) {
	util.LogInfo("connecting to host...")
	wsConn, err := connect(ctx, wsURL)
	if err != nil {
		return nil, err
	}
	defer wsConn.Close()
	util.LogDebug("signaling connected: %s", wsURL)

	return exchange(ctx, wsConn, false)
}

// exchange runs the SDP/ICE exchange over wsConn. The offerer creates the
// offer; the other side answers from the receiver loop.
func exchange(ctx context.Context, wsConn *websocket.Conn, offerer bool) (*transport.Transport, error) {
	tr, err := transport.NewTransport(ctx)
	if err != nil {
		return nil, fmt.Errorf("create transport: %w", err)
	}

	s := &sender{tr: tr, conn: wsConn}
	r := &receiver{tr: tr, conn: wsConn, sender: s}

	tr.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil {
			data, _ := json.Marshal(c.ToJSON())
			// Best effort: the socket may already be closed once the channel is up.
			s.sendCandidate(string(data))
		}
	})

	// Exits when wsConn is closed by the caller.
	errCh := make(chan error, 1)
	go func() {
		errCh <- r.watch()
	}()

	if offerer {
		if err := s.sendOffer(); err != nil {
			tr.Close()
			return nil, fmt.Errorf("send offer: %w", err)
		}
	}

	select {
	case <-tr.Ready():
		util.LogSuccess("DataChannel established")
		return tr, nil

	case err := <-errCh:
		// The peer closes signaling as soon as its own side is ready.
		select {
		case <-tr.Ready():
			util.LogSuccess("DataChannel established")
			return tr, nil
		case <-time.After(readyGrace):
		case <-ctx.Done():
		}
		tr.Close()
		return nil, fmt.Errorf("signaling failed: %w", err)

	case <-ctx.Done():
		tr.Close()
		return nil, ctx.Err()
	}
}
