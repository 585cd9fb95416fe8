package server

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nedpals/nfc-tagscan/protocol"
)

// Client is one connected UI websocket. Writes are serialized so handlers
// and broadcasts can share the connection.
type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn) *Client {
	return &Client{conn: conn}
}

// Send writes v as JSON.
func (c *Client) Send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

// SendResponse answers a request.
func (c *Client) SendResponse(req protocol.WebSocketRequest, payload any) error {
	return c.Send(protocol.WebSocketResponse{
		ID:      req.ID,
		Type:    protocol.TypeResponse,
		Success: true,
		Payload: payload,
	})
}

// SendError answers a request with an error envelope.
func (c *Client) SendError(requestID, code, message string) error {
	return c.Send(protocol.NewErrorResponse(requestID, code, message))
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// ClientManager tracks UI clients and broadcasts to them.
type ClientManager struct {
	clients map[*Client]bool
	mu      sync.RWMutex
	logger  *log.Logger
}

// NewClientManager creates an empty client manager.
func NewClientManager(logger *log.Logger) *ClientManager {
	return &ClientManager{
		clients: make(map[*Client]bool),
		logger:  logger,
	}
}

// Register adds a client.
func (cm *ClientManager) Register(c *Client) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.clients[c] = true
}

// Unregister removes a client.
func (cm *ClientManager) Unregister(c *Client) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	delete(cm.clients, c)
}

// Count returns the number of connected clients.
func (cm *ClientManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.clients)
}

// CloseAll closes and forgets every client.
func (cm *ClientManager) CloseAll() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	for c := range cm.clients {
		c.Close()
		delete(cm.clients, c)
	}
}

// Broadcast sends message to all clients, dropping the ones that fail.
func (cm *ClientManager) Broadcast(message protocol.WebSocketMessage) {
	cm.mu.RLock()
	clients := make([]*Client, 0, len(cm.clients))
	for c := range cm.clients {
		clients = append(clients, c)
	}
	cm.mu.RUnlock()

	for _, c := range clients {
		if err := c.Send(message); err != nil {
			cm.logger.Printf("WebSocket write error: %v", err)
			c.Close()
			cm.Unregister(c)
		}
	}
}
