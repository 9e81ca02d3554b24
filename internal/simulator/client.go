package simulator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/fsmlink/internal/channel"
	"github.com/1ureka/fsmlink/internal/util"
)

const inboxSize = 64

// Client is a peer's connection to the hub. It implements channel.Channel.
type Client struct {
	conn  *websocket.Conn
	inbox *channel.Inbox

	wmu  sync.Mutex
	once sync.Once
}

// Dial connects to the hub at url and logs in. A rejected login returns an
// error wrapping ErrLoginRejected.
func Dial(ctx context.Context, url string, login Login) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial simulator: %w", err)
	}

	req := Message{Type: MsgTypeLogin, Channel: login.Channel, ID: login.ID, Loss: channel.ClampRate(login.Loss)}
	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send login: %w", err)
	}

	deadline := time.Now().Add(loginTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)

	var reply Message
	if err := conn.ReadJSON(&reply); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read login reply: %w", err)
	}
	if reply.Type != MsgTypeWelcome {
		conn.Close()
		return nil, fmt.Errorf("%w: %s", ErrLoginRejected, reply.Error)
	}
	conn.SetReadDeadline(time.Time{})

	c := &Client{conn: conn, inbox: channel.NewInbox(inboxSize)}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	defer c.shutdown()
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			util.LogDebug("simulator connection closed: %v", err)
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		if !c.inbox.Push(data) {
			util.LogDebug("inbox full, dropping packet")
		}
	}
}

// Send writes one packet as a binary message.
func (c *Client) Send(data []byte) error {
	select {
	case <-c.inbox.Done():
		return channel.ErrClosed
	default:
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Recv returns the next packet relayed by the hub without blocking.
func (c *Client) Recv(buf []byte) (int, error) {
	return c.inbox.Pop(buf)
}

// Close says goodbye to the hub and drops the connection.
func (c *Client) Close() error {
	c.wmu.Lock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.wmu.Unlock()

	c.shutdown()
	return c.conn.Close()
}

// Done is closed once the connection to the hub is gone.
func (c *Client) Done() <-chan struct{} {
	return c.inbox.Done()
}

func (c *Client) shutdown() {
	c.once.Do(c.inbox.Shutdown)
}
