package wshub

import (
	"context"
	"log"
	"sync"

	"github.com/coder/websocket"
)

// Client represents a single WebSocket connection. Frames queued on Send are written
// by WritePump; a full queue drops frames instead of blocking the sender.
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte

	done chan struct{}
	once sync.Once
}

func NewClient(id string, conn *websocket.Conn, buffer int) *Client {
	if buffer < 1 {
		buffer = 1
	}
	return &Client{
		ID:   id,
		Conn: conn,
		Send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

// Deliver queues data without blocking. It reports false when the client is closed or
// its queue is full.
func (c *Client) Deliver(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- data:
		return true
	default:
		log.Printf("[WSHub] Dropping frame for %s: send queue full\n", c.ID)
		return false
	}
}

// Close is idempotent and never blocks; the close handshake runs in the background.
// The first reason wins.
func (c *Client) Close(reason string) {
	c.once.Do(func() {
		close(c.done)
		if c.Conn != nil {
			go c.Conn.Close(websocket.StatusNormalClosure, reason)
		}
	})
}

// Done is closed once Close has been called.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// WritePump reads from the Send channel and writes to the WebSocket connection.
func (c *Client) WritePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case msg := <-c.Send:
			if err := c.Conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		}
	}
}

// Hub tracks every live client across rooms so they can be closed together.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

// Unregister removes a client. Unknown clients are ignored.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll closes and forgets every registered client.
func (h *Hub) CloseAll(reason string) {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	clear(h.clients)
	h.mu.Unlock()

	for _, c := range clients {
		c.Close(reason)
	}
}
