// Package websocket fans caller events out to agent dashboards.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/tariel-x/agentdesk/internal/callers"
)

// Event types published by the desk in addition to the transition signals.
const (
	TypeDialed = "dialed"
	TypeEnded  = "ended"
)

// Message is the envelope written to dashboard sockets.
type Message struct {
	Type     string          `json:"type"`
	CallerID string          `json:"callerId"`
	Data     *callers.Status `json:"data,omitempty"`
}

// Hub keeps the connected dashboards. A client either watches one caller
// or, with an empty caller id, every caller.
type Hub struct {
	mu      sync.Mutex
	clients map[string]*Client

	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[string]*Client),
		logger:  logger,
	}
}

func (h *Hub) Add(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if old := h.clients[client.id]; old != nil {
		old.close()
	}
	h.clients[client.id] = client
}

func (h *Hub) Remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if client, ok := h.clients[id]; ok {
		client.closeSend()
		delete(h.clients, id)
	}
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Publish delivers msg to every client watching msg.CallerID. Slow clients
// are disconnected instead of blocking the publisher.
func (h *Hub) Publish(msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Warn("ws marshal failed", "type", msg.Type, "error", err)
		return
	}

	h.mu.Lock()
	targets := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		if client.watches(msg.CallerID) {
			targets = append(targets, client)
		}
	}
	h.mu.Unlock()

	for _, client := range targets {
		if !client.trySend(payload) {
			h.logger.Debug("ws client too slow, closing", "client_id", client.id)
			client.close()
		}
	}
}

// Notify implements callers.Notifier.
func (h *Hub) Notify(_ context.Context, _ string, ev callers.Event) error {
	status := ev.Status
	h.Publish(Message{Type: string(ev.Type), CallerID: status.CallerID, Data: &status})
	return nil
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*Client)
	h.mu.Unlock()

	for _, client := range clients {
		client.close()
	}
}
