// Package server exposes the tag session controller over HTTP and WebSocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/grandcat/zeroconf"
	"github.com/nedpals/nfc-tagscan/buildinfo"
	"github.com/nedpals/nfc-tagscan/nfc"
	"github.com/nedpals/nfc-tagscan/protocol"
)

// SessionController is the part of nfc.Controller the server drives.
type SessionController interface {
	Start(message string)
	Reset()
	AddErrorHandler(fn func())
	Observe(fn func(nfc.Snapshot)) (unsubscribe func())
	Snapshot() nfc.Snapshot
}

// Config holds the server configuration
type Config struct {
	Controller SessionController
	Addr       string // Listen address, defaults to ":<Port>"
	Port       int    // Used for Addr and the mDNS advertisement
	APISecret  string // Optional secret UI clients pass as ?secret=
	EnableMDNS bool
	CertFile   string // Serve TLS when both CertFile and KeyFile are set
	KeyFile    string
	Handlers   []ServerHandler // Extra handlers, e.g. the phone radio backend
	Logger     *log.Logger
}

// Server manages the HTTP and WebSocket server
type Server struct {
	config   Config
	logger   *log.Logger
	registry *HandlerRegistry
	clients  *ClientManager
	upgrader websocket.Upgrader

	// Broadcasts are written by one goroutine so callers on the session
	// dispatcher never wait on a client socket.
	broadcasts chan protocol.WebSocketMessage
	writerWg   sync.WaitGroup

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	mdnsServer *zeroconf.Server
	cancel     context.CancelFunc
	done       chan struct{}
}

// New creates a server and registers the session handlers plus any extra
// handlers from the config.
func New(config Config) *Server {
	if config.Port == 0 {
		config.Port = DefaultPort
	}
	if config.Addr == "" {
		config.Addr = fmt.Sprintf(":%d", config.Port)
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[server] ", log.LstdFlags)
	}

	s := &Server{
		config:     config,
		logger:     config.Logger,
		registry:   NewHandlerRegistry(),
		clients:    NewClientManager(config.Logger),
		broadcasts: make(chan protocol.WebSocketMessage, broadcastBuffer),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
	}

	if config.Controller != nil {
		NewSessionHandler(config.Controller).Register(s)
	}
	for _, h := range config.Handlers {
		h.Register(s)
	}
	return s
}

// Handle implements HandlerServer.
func (s *Server) Handle(messageType string, handler HandlerFunc) error {
	return s.registry.Handle(messageType, handler)
}

// HandleWebSocket implements HandlerServer.
func (s *Server) HandleWebSocket(matcher func(r *http.Request) bool, handler WebSocketHandlerFunc) {
	s.registry.HandleWebSocket(matcher, handler)
}

// StartLifecycle implements HandlerServer.
func (s *Server) StartLifecycle(start func(ctx context.Context)) {
	s.registry.RegisterLifecycle(start)
}

// Broadcast implements HandlerServer. It queues message for every UI client
// and returns without waiting for the writes.
func (s *Server) Broadcast(message protocol.WebSocketMessage) {
	select {
	case s.broadcasts <- message:
	default:
		s.logger.Printf("Broadcast queue full, dropping %s message", message.Type)
	}
}

func (s *Server) writeBroadcasts(ctx context.Context) {
	defer s.writerWg.Done()
	for {
		select {
		case <-ctx.Done():
			// Whatever is queued is stale once the server stops.
			for {
				select {
				case <-s.broadcasts:
				default:
					return
				}
			}
		case message := <-s.broadcasts:
			s.clients.Broadcast(message)
		}
	}
}

// ClientCount returns the number of connected UI clients.
func (s *Server) ClientCount() int {
	return s.clients.Count()
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc(RouteHealth, enableCORS(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.handleHealthCheck(w, r)
	}))

	mux.HandleFunc(RouteState, enableCORS(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.handleState(w, r)
	}))

	mux.HandleFunc(RouteWS, s.handleWebSocket)

	mux.HandleFunc("/", enableCORS(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(buildinfo.DisplayName + " Server Running"))
	}))

	return mux
}

// Start listens on the configured address, serves in the background,
// advertises over mDNS and runs the lifecycle handlers.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer != nil {
		return fmt.Errorf("server already started")
	}

	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.listener = listener
	s.cancel = cancel
	s.done = make(chan struct{})
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func(srv *http.Server, done chan struct{}) {
		defer close(done)
		var err error
		if s.TLSEnabled() {
			s.logger.Printf("Starting TLS server on %s", listener.Addr())
			err = srv.ServeTLS(listener, s.config.CertFile, s.config.KeyFile)
		} else {
			s.logger.Printf("Starting server on %s", listener.Addr())
			err = srv.Serve(listener)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("HTTP server error: %v", err)
		}
	}(s.httpServer, s.done)

	if s.config.EnableMDNS {
		if err := s.startMDNS(); err != nil {
			s.logger.Printf("Warning: Failed to start mDNS service: %v", err)
			s.logger.Printf("Auto-discovery will not be available, but server will continue normally")
		}
	}

	s.writerWg.Add(1)
	go s.writeBroadcasts(ctx)

	s.registry.StartLifecycleHandlers(ctx)
	return nil
}

// TLSEnabled reports whether the server serves https and wss.
func (s *Server) TLSEnabled() bool {
	return s.config.CertFile != "" && s.config.KeyFile != ""
}

// Addr returns the address the server listens on, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mdnsServer != nil {
		s.mdnsServer.Shutdown()
		s.mdnsServer = nil
		s.logger.Printf("mDNS service stopped")
	}

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Printf("Server shutdown error: %v", err)
		}
		// Hijacked websocket connections are not closed by Shutdown.
		s.clients.CloseAll()
		<-s.done
		s.writerWg.Wait()
		s.httpServer = nil
		s.listener = nil
	}
}

// startMDNS registers the agent as an mDNS service for auto-discovery
func (s *Server) startMDNS() error {
	txtRecords := []string{
		"version=" + buildinfo.Version,
		"protocol=websocket",
		"path=" + RouteWS,
		"device_mode=?mode=device",
		fmt.Sprintf("tls=%t", s.TLSEnabled()),
	}

	server, err := zeroconf.Register(MDNSServiceName, MDNSServiceType, MDNSDomain, s.config.Port, txtRecords, nil)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}

	s.mdnsServer = server
	s.logger.Printf("mDNS service registered: %s (%s) on port %d", MDNSServiceName, MDNSServiceType, s.config.Port)
	return nil
}

// handleWebSocket upgrades UI client connections and routes their messages
// through the handler registry. Connections claimed by a custom handler, such
// as phones, are handed off before any of that.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.registry.TryCustomWebSocketHandler(w, r) {
		return
	}

	if s.config.APISecret != "" && r.URL.Query().Get("secret") != s.config.APISecret {
		s.logger.Printf("WebSocket connection rejected: invalid API secret")
		http.Error(w, "Unauthorized: Invalid API secret", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("WebSocket upgrade error: %v", err)
		return
	}
	s.logger.Printf("WebSocket connected from %s", r.RemoteAddr)

	client := NewClient(conn)
	s.clients.Register(client)
	defer func() {
		s.clients.Unregister(client)
		client.Close()
		s.logger.Printf("WebSocket disconnected: %s", r.RemoteAddr)
	}()

	if s.config.Controller != nil {
		if err := client.Send(StateMessage(s.config.Controller.Snapshot())); err != nil {
			return
		}
	}

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var req protocol.WebSocketRequest
		if err := json.Unmarshal(message, &req); err != nil {
			s.logger.Printf("Failed to parse WebSocket message: %v", err)
			client.SendError("", protocol.ErrCodeParse, "Invalid message format")
			continue
		}

		handler, ok := s.registry.Get(req.Type)
		if !ok {
			s.logger.Printf("Unknown message type: %s", req.Type)
			client.SendError(req.ID, protocol.ErrCodeUnknownType, fmt.Sprintf("Unknown message type: %s", req.Type))
			continue
		}

		if err := handler(r.Context(), client, req); err != nil {
			// Handlers send their own error responses
			s.logger.Printf("Handler error for message type '%s': %v", req.Type, err)
		}
	}
}

// handleHealthCheck serves GET /api/v1/health
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, protocol.HealthResponse{
		Status:    "ok",
		Version:   buildinfo.FullVersion(),
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// handleState serves GET /api/v1/state
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if s.config.Controller == nil {
		http.Error(w, "No session controller", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, StatePayload(s.config.Controller.Snapshot()))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// enableCORS is a middleware that adds CORS headers to responses
func enableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", CORSAllowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", CORSAllowMethods)
		w.Header().Set("Access-Control-Allow-Headers", CORSAllowHeaders)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}
