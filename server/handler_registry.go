package server

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/nedpals/nfc-tagscan/protocol"
)

// HandlerFunc handles one websocket request from a UI client.
type HandlerFunc func(ctx context.Context, client *Client, req protocol.WebSocketRequest) error

// WebSocketHandlerFunc takes over a whole websocket connection when its
// matcher accepts the request. It returns true if it handled the connection.
type WebSocketHandlerFunc func(w http.ResponseWriter, r *http.Request) bool

// HandlerServer is what handlers see of the server when registering.
type HandlerServer interface {
	// Handle registers a handler function for a specific message type
	Handle(messageType string, handler HandlerFunc) error

	// HandleWebSocket registers a handler that intercepts websocket
	// connections before normal message routing
	HandleWebSocket(matcher func(r *http.Request) bool, handler WebSocketHandlerFunc)

	// StartLifecycle registers a function to be called when the server starts
	StartLifecycle(start func(ctx context.Context))

	// Broadcast sends a message to every connected UI client
	Broadcast(message protocol.WebSocketMessage)
}

// ServerHandler is implemented by components that plug into the server.
type ServerHandler interface {
	Register(server HandlerServer)
}

type wsHandlerEntry struct {
	matcher func(r *http.Request) bool
	handler WebSocketHandlerFunc
}

// HandlerRegistry maps message types to handlers. It is safe for concurrent use.
type HandlerRegistry struct {
	handlers          map[string]HandlerFunc
	wsHandlers        []wsHandlerEntry
	lifecycleStarters []func(ctx context.Context)
	mu                sync.RWMutex
}

// NewHandlerRegistry creates a new handler registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[string]HandlerFunc),
	}
}

// Handle registers a handler function for a specific message type.
// Returns an error if a handler for the same message type is already registered.
func (r *HandlerRegistry) Handle(messageType string, handler HandlerFunc) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}
	if messageType == "" {
		return fmt.Errorf("message type cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[messageType]; exists {
		return fmt.Errorf("handler for message type '%s' already registered", messageType)
	}
	r.handlers[messageType] = handler
	return nil
}

// RegisterLifecycle registers a function to be called when the server starts.
func (r *HandlerRegistry) RegisterLifecycle(start func(ctx context.Context)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lifecycleStarters = append(r.lifecycleStarters, start)
}

// HandleWebSocket registers a connection-level websocket handler.
func (r *HandlerRegistry) HandleWebSocket(matcher func(r *http.Request) bool, handler WebSocketHandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wsHandlers = append(r.wsHandlers, wsHandlerEntry{matcher: matcher, handler: handler})
}

// TryCustomWebSocketHandler offers the request to the connection-level
// handlers in registration order. Returns true if one handled it.
func (r *HandlerRegistry) TryCustomWebSocketHandler(w http.ResponseWriter, req *http.Request) bool {
	r.mu.RLock()
	entries := make([]wsHandlerEntry, len(r.wsHandlers))
	copy(entries, r.wsHandlers)
	r.mu.RUnlock()

	for _, entry := range entries {
		if entry.matcher(req) {
			return entry.handler(w, req)
		}
	}
	return false
}

// Get retrieves a handler function by message type.
func (r *HandlerRegistry) Get(messageType string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[messageType]
	return handler, ok
}

// Has checks if a handler exists for the given message type.
func (r *HandlerRegistry) Has(messageType string) bool {
	_, ok := r.Get(messageType)
	return ok
}

// MessageTypes returns all registered message types, sorted.
func (r *HandlerRegistry) MessageTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// StartLifecycleHandlers runs all registered lifecycle functions.
func (r *HandlerRegistry) StartLifecycleHandlers(ctx context.Context) {
	r.mu.RLock()
	starters := make([]func(ctx context.Context), len(r.lifecycleStarters))
	copy(starters, r.lifecycleStarters)
	r.mu.RUnlock()

	for _, starter := range starters {
		starter(ctx)
	}
}
