package simulator

import (
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/fsmlink/internal/channel"
	"github.com/1ureka/fsmlink/internal/protocol"
	"github.com/1ureka/fsmlink/internal/util"
)

const (
	peersPerChannel = 2
	outboxSize      = 64
	loginTimeout    = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HubConfig tunes the impairments the hub adds on top of per-peer loss.
type HubConfig struct {
	DuplicateRate int    // percentage of delivered packets sent twice
	Seed          uint64 // 0 seeds randomly
}

// Hub relays packets between the two peers logged into each channel.
type Hub struct {
	dupRate int

	mu     sync.Mutex
	rng    *rand.Rand
	rooms  map[int]map[int]*member
	closed bool
}

// member is one logged-in peer. Writes to conn happen only on its writer
// goroutine.
type member struct {
	login  Login
	conn   *websocket.Conn
	outbox chan []byte
	done   chan struct{}
	once   sync.Once
}

// NewHub creates an empty hub.
func NewHub(cfg HubConfig) *Hub {
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Hub{
		dupRate: channel.ClampRate(cfg.DuplicateRate),
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		rooms:   make(map[int]map[int]*member),
	}
}

// ServeHTTP upgrades the request, performs the login handshake and relays
// the peer's packets until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(loginTimeout))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil || msg.Type != MsgTypeLogin {
		conn.WriteJSON(Message{Type: MsgTypeError, Error: "expected login"})
		return
	}
	conn.SetReadDeadline(time.Time{})

	m := &member{
		login:  Login{Channel: msg.Channel, ID: msg.ID, Loss: channel.ClampRate(msg.Loss)},
		conn:   conn,
		outbox: make(chan []byte, outboxSize),
		done:   make(chan struct{}),
	}
	if err := h.join(m); err != nil {
		conn.WriteJSON(Message{Type: MsgTypeError, Error: err.Error()})
		return
	}
	defer h.leave(m)

	if err := conn.WriteJSON(Message{Type: MsgTypeWelcome, Channel: m.login.Channel, ID: m.login.ID}); err != nil {
		return
	}
	util.LogInfo("peer %d joined channel %d (loss %d%%)", m.login.ID, m.login.Channel, m.login.Loss)

	go m.writeLoop()
	h.readLoop(m)
}

// join registers m in its channel.
func (h *Hub) join(m *member) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}
	room := h.rooms[m.login.Channel]
	if room == nil {
		room = make(map[int]*member)
		h.rooms[m.login.Channel] = room
	}
	if _, dup := room[m.login.ID]; dup {
		return fmt.Errorf("id %d already logged into channel %d", m.login.ID, m.login.Channel)
	}
	if len(room) >= peersPerChannel {
		return fmt.Errorf("channel %d is full", m.login.Channel)
	}
	room[m.login.ID] = m
	return nil
}

func (h *Hub) leave(m *member) {
	m.stop()

	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[m.login.Channel]
	if room[m.login.ID] == m {
		delete(room, m.login.ID)
	}
	if len(room) == 0 {
		delete(h.rooms, m.login.Channel)
	}
	util.LogInfo("peer %d left channel %d", m.login.ID, m.login.Channel)
}

func (h *Hub) readLoop(from *member) {
	for {
		mt, data, err := from.conn.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.BinaryMessage || len(data) > protocol.MaxPacketSize {
			util.LogDebug("peer %d: dropping non-packet message (%d bytes)", from.login.ID, len(data))
			continue
		}
		h.forward(from, data)
	}
}

// forward delivers data to the other peers in from's channel, applying the
// sender's loss rate and the hub's duplication rate.
func (h *Hub) forward(from *member, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, to := range h.rooms[from.login.Channel] {
		if id == from.login.ID {
			continue
		}
		if channel.Drop(h.rng, from.login.Loss) {
			util.LogDebug("channel %d: dropped packet %d -> %d", from.login.Channel, from.login.ID, id)
			continue
		}
		to.enqueue(data)
		if channel.Drop(h.rng, h.dupRate) {
			to.enqueue(data)
		}
	}
}

// Peers returns the number of peers logged into a channel.
func (h *Hub) Peers(channelNo int) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[channelNo])
}

// Close disconnects every peer and rejects new logins.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, room := range h.rooms {
		for _, m := range room {
			m.stop()
			m.conn.Close()
		}
	}
}

// enqueue hands data to the writer goroutine; a full outbox drops it.
func (m *member) enqueue(data []byte) {
	select {
	case m.outbox <- data:
	default:
		util.LogDebug("peer %d: outbox full, dropping packet", m.login.ID)
	}
}

func (m *member) writeLoop() {
	for {
		select {
		case data := <-m.outbox:
			if err := m.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				return
			}
		case <-m.done:
			return
		}
	}
}

func (m *member) stop() {
	m.once.Do(func() { close(m.done) })
}
