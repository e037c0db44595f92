// Package liveserver pushes cycle decisions and coordinator transitions to
// WebSocket subscribers. It is an observation surface only; nothing in the
// trading path waits on it.
package liveserver

import (
	"context"
	"encoding/json"
	"sync"

	"swap_trader/internal/core"
)

const clientSendBuffer = 32

type client struct {
	send chan []byte
}

// Hub fans events out to connected clients. A client that cannot keep up
// is dropped rather than allowed to apply backpressure.
type Hub struct {
	logger core.ILogger

	mu      sync.RWMutex
	clients map[*client]struct{}

	broadcast chan []byte
	done      chan struct{}
}

// NewHub creates a hub. Run must be called for broadcasts to flow.
func NewHub(logger core.ILogger) *Hub {
	return &Hub{
		logger:    logger.WithField("component", "liveserver"),
		clients:   make(map[*client]struct{}),
		broadcast: make(chan []byte, 256),
		done:      make(chan struct{}),
	}
}

// Run pumps broadcasts until ctx is canceled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Slow consumer; drop it.
					go h.removeClient(c)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast queues an event for all subscribers. It never blocks; when the
// queue is full the event is dropped.
func (h *Hub) Broadcast(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("Failed to marshal event", "type", env.Type, "error", err.Error())
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("Broadcast queue full, dropping event", "type", env.Type)
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) addClient(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
