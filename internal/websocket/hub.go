// Package websocket pushes live conflict and event changes to browsers.
package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/dukerupert/overlap/internal/conflict"
	"github.com/dukerupert/overlap/internal/model"
)

// Entities carried in messages.
const (
	EntityConflict      = "conflict"
	EntityCalendarEvent = "calendar_event"
)

// Message is a change notification broadcast to every client.
type Message struct {
	Type   string `json:"type"`
	Entity string `json:"entity"`
	Action string `json:"action"`
	ID     string `json:"id,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// NewMessage builds a Message whose Type is "<entity>_<action>".
func NewMessage(entity, action, id string, data any) Message {
	return Message{
		Type:   entity + "_" + action,
		Entity: entity,
		Action: action,
		ID:     id,
		Data:   data,
	}
}

// Hub maintains the set of active WebSocket clients and broadcasts messages.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", h.ClientCount())
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Broadcast sends a message to all connected clients. Slow clients miss
// messages rather than block the sender.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", "type", msg.Type, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("websocket client buffer full, dropping message", "type", msg.Type)
		}
	}
}

// ConflictChanged broadcasts a conflict store mutation. It has the signature
// of the conflict store's change hook.
func (h *Hub) ConflictChanged(ev conflict.ChangeEvent) {
	h.Broadcast(NewMessage(EntityConflict, ev.Action, ev.Conflict.ID.String(), ev.Conflict))
}

// EventChanged broadcasts a calendar event mutation made through the API.
func (h *Hub) EventChanged(action string, e model.CalendarEvent) {
	h.Broadcast(NewMessage(EntityCalendarEvent, action, e.Identifier, e))
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
