package handler

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ChannelTownMap carries Town Map and conflict events.
const ChannelTownMap = "town_map"

const expeditionChannelPrefix = "expedition:"

// ExpeditionChannel names the channel of one expedition.
func ExpeditionChannel(expeditionID int64) string {
	return expeditionChannelPrefix + strconv.FormatInt(expeditionID, 10)
}

// validChannel reports whether name is a channel clients may subscribe to.
func validChannel(name string) bool {
	if name == ChannelTownMap {
		return true
	}
	idStr, ok := strings.CutPrefix(name, expeditionChannelPrefix)
	if !ok {
		return false
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	return err == nil && id > 0
}

// WSEvent is the envelope for all WebSocket messages.
type WSEvent struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	Data    any    `json:"data"`
}

// ClientMessage is the envelope for messages sent from the client.
type ClientMessage struct {
	Action  string `json:"action"` // "subscribe" or "unsubscribe"
	Channel string `json:"channel"`
}

// WSConn wraps a WebSocket connection with its user and subscriptions.
type WSConn struct {
	conn   *websocket.Conn
	userID int64
	send   chan []byte
}

// Hub manages WebSocket connections and channel subscriptions.
type Hub struct {
	mu          sync.RWMutex
	connections map[*WSConn]bool
	channels    map[string]map[*WSConn]bool // channel -> set of connections
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		connections: make(map[*WSConn]bool),
		channels:    make(map[string]map[*WSConn]bool),
	}
}

// Register adds a connection to the hub.
func (h *Hub) Register(c *WSConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[c] = true
}

// Unregister removes a connection from the hub and all its subscriptions.
func (h *Hub) Unregister(c *WSConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.connections[c] {
		return
	}
	delete(h.connections, c)
	for name, conns := range h.channels {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.channels, name)
		}
	}
	close(c.send)
}

// Subscribe adds a connection to a channel.
func (h *Hub) Subscribe(c *WSConn, channel string) error {
	if !validChannel(channel) {
		return fmt.Errorf("unknown channel %q", channel)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.channels[channel] == nil {
		h.channels[channel] = make(map[*WSConn]bool)
	}
	h.channels[channel][c] = true
	return nil
}

// Unsubscribe removes a connection from a channel.
func (h *Hub) Unsubscribe(c *WSConn, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.channels[channel]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.channels, channel)
		}
	}
}

// HandleClientMessage applies one client control message.
func (h *Hub) HandleClientMessage(c *WSConn, raw []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	switch msg.Action {
	case "subscribe":
		if err := h.Subscribe(c, msg.Channel); err != nil {
			log.Debug().Err(err).Int64("userId", c.userID).Msg("Rejected WebSocket subscription")
		}
	case "unsubscribe":
		h.Unsubscribe(c, msg.Channel)
	}
}

// Broadcast sends an event to all connections subscribed to its channel.
// Slow clients whose buffer is full miss the event.
func (h *Hub) Broadcast(event WSEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("channel", event.Channel).Msg("Failed to marshal WebSocket event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.channels[event.Channel] {
		select {
		case c.send <- data:
		default:
			log.Warn().Int64("userId", c.userID).Str("channel", event.Channel).Msg("Dropping WebSocket message, buffer full")
		}
	}
}

// BroadcastToUser sends an event to a specific user across all their connections.
func (h *Hub) BroadcastToUser(userID int64, event WSEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Int64("userId", userID).Msg("Failed to marshal WebSocket event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.connections {
		if c.userID == userID {
			select {
			case c.send <- data:
			default:
			}
		}
	}
}

// ConnectionCount returns the total number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// SubscriberCount returns the number of connections subscribed to a channel.
func (h *Hub) SubscriberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}
