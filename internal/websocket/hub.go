// Package websocket pushes resource view updates to browsers.
package websocket

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rcourtman/pveview/internal/metrics"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

// Message types.
const (
	TypeInitialState = "initialState"
	TypeChangeSet    = "changeSet"
	TypeRequestData  = "requestData"
	TypePing         = "ping"
	TypePong         = "pong"
)

// Message is the envelope for everything sent over the socket.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Sequenced is implemented by states and change sets that carry an
// ordered sequence id. A client is never sent a change set whose sequence
// is at or below that of the last state it received, since that state
// already contains it.
type Sequenced interface {
	Sequence() string
}

func sequenceOf(v any) string {
	if s, ok := v.(Sequenced); ok {
		return s.Sequence()
	}
	return ""
}

type outbound struct {
	data  []byte
	seq   string
	state bool
}

// Client is one connected browser.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string

	mu    sync.Mutex
	since string
}

// accept reports whether msg should be delivered, and moves the client's
// baseline forward when msg is a full state.
func (c *Client) accept(msg outbound) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if msg.state {
		c.since = msg.seq
		return true
	}
	return msg.seq == "" || c.since == "" || msg.seq > c.since
}

func (c *Client) setBaseline(seq string) {
	c.mu.Lock()
	c.since = seq
	c.mu.Unlock()
}

// Hub tracks connected clients and fans updates out to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex

	getState       func() any
	allowedOrigins []string
	upgrader       websocket.Upgrader
}

// NewHub creates a hub. getState supplies the full view for initialState
// messages. With no allowed origins, same-host and private-network origins
// are accepted.
func NewHub(getState func() any, allowedOrigins []string) *Hub {
	h := &Hub{
		clients:        make(map[*Client]bool),
		broadcast:      make(chan outbound, 256),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		done:           make(chan struct{}),
		getState:       getState,
		allowedOrigins: allowedOrigins,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024 * 64,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Run serves registrations and broadcasts until ctx is done, then closes
// every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			metrics.WebsocketClients.Set(float64(count))
			log.Info().Str("client", client.id).Int("clients", count).Msg("WebSocket client connected")
			h.sendState(client)

		case client := <-h.unregister:
			h.remove(client)

		case message := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			for _, client := range clients {
				if !client.accept(message) {
					log.Debug().Str("client", client.id).Str("seq", message.seq).Msg("Skipping change set already in client state")
					continue
				}
				select {
				case client.send <- message.data:
				default:
					log.Warn().Str("client", client.id).Msg("Client send buffer full, disconnecting")
					h.remove(client)
				}
			}

		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			metrics.WebsocketClients.Set(0)
			return
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)
	close(client.send)
	count := len(h.clients)
	h.mu.Unlock()
	metrics.WebsocketClients.Set(float64(count))
	log.Info().Str("client", client.id).Msg("WebSocket client disconnected")
}

// HandleWebSocket upgrades the request and starts the client pumps.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("origin", r.Header.Get("Origin")).Msg("Failed to upgrade WebSocket connection")
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		id:   uuid.NewString(),
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// BroadcastChangeSet sends an update to every client.
func (h *Hub) BroadcastChangeSet(update any) {
	h.broadcastMessage(Message{Type: TypeChangeSet, Data: update}, sequenceOf(update), false)
}

// BroadcastState sends the full view to every client, as after the view
// was reset and clients should redraw from scratch.
func (h *Hub) BroadcastState() {
	if h.getState == nil {
		return
	}
	state := h.getState()
	h.broadcastMessage(Message{Type: TypeInitialState, Data: state}, sequenceOf(state), true)
}

// GetClientCount returns the number of connected clients.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcastMessage(msg Message, seq string, state bool) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal WebSocket message")
		return
	}
	select {
	case h.broadcast <- outbound{data: data, seq: seq, state: state}:
	default:
		log.Warn().Str("type", msg.Type).Msg("WebSocket broadcast channel full")
	}
}

func (h *Hub) sendState(client *Client) {
	if h.getState == nil {
		return
	}
	state := h.getState()
	data, err := json.Marshal(Message{Type: TypeInitialState, Data: state})
	if err != nil {
		log.Error().Err(err).Str("client", client.id).Msg("Failed to marshal initial state")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.clients[client] {
		return
	}
	client.setBaseline(sequenceOf(state))
	select {
	case client.send <- data:
	default:
		log.Warn().Str("client", client.id).Msg("Client send buffer full, skipping initial state")
	}
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(h.allowedOrigins) > 0 {
		return slices.Contains(h.allowedOrigins, "*") || slices.Contains(h.allowedOrigins, origin)
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	return isValidPrivateOrigin(u.Hostname())
}

// isValidPrivateOrigin accepts loopback and RFC 1918 addresses plus short
// .local and .lan hostnames.
func isValidPrivateOrigin(host string) bool {
	if host == "" {
		return false
	}
	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback() || ip.IsPrivate()
	}
	for _, suffix := range []string{".local", ".lan"} {
		if strings.HasSuffix(host, suffix) {
			labels := strings.Split(host, ".")
			return len(labels) <= 3 && !slices.Contains(labels, "")
		}
	}
	return false
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(64 * 1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("client", c.id).Msg("WebSocket read error")
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Debug().Err(err).Str("client", c.id).Msg("Ignoring malformed WebSocket message")
			continue
		}

		switch msg.Type {
		case TypePing:
			c.enqueue(Message{Type: TypePong, Data: map[string]int64{"timestamp": time.Now().Unix()}})
		case TypeRequestData:
			if c.hub.getState != nil {
				state := c.hub.getState()
				c.setBaseline(sequenceOf(state))
				c.enqueue(Message{Type: TypeInitialState, Data: state})
			}
		default:
			log.Debug().Str("client", c.id).Str("type", msg.Type).Msg("Received WebSocket message")
		}
	}
}

// enqueue sends a reply to this client only. It must not block the read
// loop, and the hub may close send concurrently.
func (c *Client) enqueue(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal WebSocket reply")
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
		log.Warn().Str("client", c.id).Str("type", msg.Type).Msg("Client send buffer full, dropping reply")
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Str("client", c.id).Msg("Failed to write message")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
