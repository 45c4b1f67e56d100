package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"

	"feedstash/internal/observability"
)

// Max concurrent progress subscribers.
const maxSubscribers = 256

// Hub fans progress events out to websocket subscribers. Every subscriber
// sees every event; slow subscribers drop messages rather than block the
// coordinators.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	closed  bool
	logger  *observability.HubLogger
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  observability.NewHubLogger("progress"),
	}
}

// Register adds a websocket subscriber. The caller owns the read/write
// pumps, mirroring how the connection handler drives a Client.
func (h *Hub) Register(conn *websocket.Conn) (*Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}
	if len(h.clients) >= maxSubscribers {
		return nil, ErrSubscriberLimit
	}
	client := newClient(h, conn)
	h.clients[client] = struct{}{}
	observability.ProgressSubscribers.Inc()
	h.logger.LogConnect(context.Background(), clientLabel(conn))
	return client, nil
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	_, known := h.clients[client]
	if known {
		delete(h.clients, client)
	}
	h.mu.Unlock()
	if known {
		observability.ProgressSubscribers.Dec()
		h.logger.LogDisconnect(context.Background(), clientLabel(client.conn), "connection closed")
	}
}

// Publish broadcasts one event to every subscriber. Publishing never
// blocks; a subscriber with a full buffer loses the event.
func (h *Hub) Publish(event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.LogError(context.Background(), "hub", err, event.Type)
		return
	}
	observability.ProgressEventsTotal.WithLabelValues(event.Type).Inc()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		client.trySend(data)
	}
}

// SubscriberCount returns the number of live subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown closes every subscriber connection and refuses new ones.
func (h *Hub) Shutdown(_ context.Context) error {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[*Client]struct{})
	h.closed = true
	h.mu.Unlock()

	for _, client := range clients {
		observability.ProgressSubscribers.Dec()
		client.close()
	}
	return nil
}

func clientLabel(conn *websocket.Conn) string {
	if conn == nil {
		return "internal"
	}
	return conn.RemoteAddr().String()
}
