package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"livequiz/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 256
)

// Hub tracks the open sockets and gives each one its own Bridge.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	bridges    *BridgeFactory
	done       chan struct{}
}

type Client struct {
	hub      *Hub
	id       string
	socket   *websocket.Conn
	send     chan []byte
	gameID   string
	playerID string
	name     string
	bridge   *Bridge
	cancel   context.CancelFunc

	sendMu sync.Mutex
	closed bool
}

type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type outbound struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type submitPayload struct {
	SelectedAnswer int `json:"selected_answer"`
}

func NewHub(bridges *BridgeFactory) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		bridges:    bridges,
		done:       make(chan struct{}),
	}
}

// Run serves register and unregister requests until ctx is done, then
// closes every remaining client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mutex.Unlock()
			log.Info().Str("client", client.id).Str("game", client.gameID).Str("player", client.name).
				Int("total", total).Msg("client registered")

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.cancel()
			}
			total := len(h.clients)
			h.mutex.Unlock()
			log.Info().Str("client", client.id).Str("game", client.gameID).Str("player", client.name).
				Int("total", total).Msg("client unregistered")

		case <-ctx.Done():
			h.mutex.Lock()
			for client := range h.clients {
				client.cancel()
				delete(h.clients, client)
			}
			h.mutex.Unlock()
			return
		}
	}
}

// ConnectedPlayers returns the ids of players with an open socket in gameID.
func (h *Hub) ConnectedPlayers(gameID string) []string {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	var ids []string
	for client := range h.clients {
		if client.gameID == gameID {
			ids = append(ids, client.playerID)
		}
	}
	return ids
}

// RegisterClient starts the pumps and the bridge for an upgraded socket.
// The client lives until its socket closes, its game ends or the hub stops.
func (h *Hub) RegisterClient(conn *websocket.Conn, seat *Seat) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		hub:      h,
		id:       uuid.NewString(),
		socket:   conn,
		send:     make(chan []byte, sendBuffer),
		gameID:   seat.GameID,
		playerID: seat.PlayerID,
		name:     seat.Name,
		bridge:   h.bridges.NewBridge(seat.GameID, seat.PlayerID),
		cancel:   cancel,
	}

	select {
	case h.register <- client:
	case <-h.done:
		cancel()
		conn.Close()
		return client
	}

	errc := make(chan error, 1)
	go func() { errc <- client.bridge.Run(ctx) }()
	go client.forward(errc)
	go client.writePump()
	go client.readPump(ctx)

	return client
}

func (h *Hub) UnregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
		client.cancel()
	}
}

// forward relays bridge snapshots to the socket and closes c.send once the
// bridge is done, which ends writePump.
func (c *Client) forward(errc <-chan error) {
	defer c.closeSend()

	var last Snapshot
	for snap := range c.bridge.Updates() {
		c.sendMessage("game_state", snap)
		last = snap
	}
	if err := <-errc; err != nil {
		log.Error().Err(err).Str("client", c.id).Str("game", c.gameID).Msg("bridge stopped")
		c.sendMessage("error", map[string]string{"message": err.Error()})
		return
	}
	if last.Status == models.GameStatusFinished {
		c.sendMessage("game_end", last.Leaderboard)
	}
}

func (c *Client) sendMessage(msgType string, payload interface{}) {
	data, err := json.Marshal(outbound{Type: msgType, Payload: payload})
	if err != nil {
		log.Error().Err(err).Str("type", msgType).Msg("Error marshaling message")
		return
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		log.Warn().Str("client", c.id).Str("type", msgType).Msg("send buffer full, dropping message")
	}
}

func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.UnregisterClient(c)
		c.socket.Close()
	}()

	c.socket.SetReadLimit(maxMessageSize)
	c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		return c.socket.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("client", c.id).Msg("WebSocket read error")
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn().Err(err).Str("client", c.id).Msg("Error unmarshaling message")
			continue
		}
		if !c.handleMessage(ctx, msg) {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.socket.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.socket.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage reports false when the client asked to leave.
func (c *Client) handleMessage(ctx context.Context, msg Message) bool {
	var err error
	switch msg.Type {
	case "ping":
		c.sendMessage("pong", "pong")

	case "submit_answer":
		var p submitPayload
		if err = json.Unmarshal(msg.Payload, &p); err == nil {
			err = c.bridge.SubmitAnswer(ctx, p.SelectedAnswer)
		}

	case "start_game":
		err = c.bridge.Start(ctx)

	case "next_question":
		err = c.bridge.Advance(ctx)

	case "request_game_state":
		err = c.bridge.Resync(ctx)

	case "leave_game":
		log.Info().Str("game", c.gameID).Str("player", c.name).Msg("player left via WebSocket")
		return false

	default:
		log.Warn().Str("type", msg.Type).Str("player", c.name).Str("game", c.gameID).Msg("Unknown message type")
	}

	if err != nil {
		log.Warn().Err(err).Str("type", msg.Type).Str("client", c.id).Msg("message not handled")
		c.sendMessage("error", map[string]string{"message": err.Error()})
	}
	return true
}
