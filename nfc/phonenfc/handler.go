package phonenfc

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nedpals/nfc-tagscan/buildinfo"
	"github.com/nedpals/nfc-tagscan/nfc"
	"github.com/nedpals/nfc-tagscan/protocol"
	"github.com/nedpals/nfc-tagscan/server"
)

// Handler serves the websocket connections of phones.
type Handler struct {
	manager  *Manager
	upgrader websocket.Upgrader
}

// NewHandler creates a handler registering phones with manager.
func NewHandler(manager *Manager) *Handler {
	return &Handler{
		manager: manager,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Phones connect from the local network without an origin
			},
		},
	}
}

// Register implements server.ServerHandler.
func (h *Handler) Register(s server.HandlerServer) {
	s.HandleWebSocket(IsDeviceConnection, func(w http.ResponseWriter, r *http.Request) bool {
		h.HandleWebSocket(w, r)
		return true
	})
}

// HandleWebSocket runs one phone connection: registration first, then the
// session message loop until the phone disconnects.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	logger := h.manager.logger

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Printf("WebSocket upgrade error: %v", err)
		return
	}
	logger.Printf("WebSocket connected from %s", r.RemoteAddr)

	device, err := h.register(conn)
	if err != nil {
		logger.Printf("Registration failed: %v", err)
		conn.Close()
		return
	}

	defer func() {
		h.manager.UnregisterDevice(device.DeviceID())
		logger.Printf("WebSocket disconnected: %s", device.DeviceID())
	}()

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}
		device.UpdateLastSeen(h.manager.now())

		var req protocol.WebSocketRequest
		if err := json.Unmarshal(message, &req); err != nil {
			logger.Printf("Failed to parse message: %v", err)
			h.reply(device, protocol.NewErrorResponse("", protocol.ErrCodeParse, "Invalid message format"))
			continue
		}

		if err := h.route(device, req); err != nil {
			logger.Printf("Handler error for message type '%s': %v", req.Type, err)
			h.reply(device, protocol.NewErrorResponse(req.ID, protocol.ErrCodeInvalidPayload, err.Error()))
		}
	}
}

// register reads the registerDevice message and answers it.
func (h *Handler) register(conn *websocket.Conn) (*Device, error) {
	messageType, message, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("failed to read registration message: %w", err)
	}
	if messageType != websocket.TextMessage {
		sendError(conn, "", protocol.ErrCodeInvalidRequest, "Expected text message")
		return nil, fmt.Errorf("expected text message, got type %d", messageType)
	}

	var req protocol.WebSocketRequest
	if err := json.Unmarshal(message, &req); err != nil {
		sendError(conn, "", protocol.ErrCodeParse, "Invalid message format")
		return nil, fmt.Errorf("failed to parse registration message: %w", err)
	}
	if req.Type != protocol.TypeRegisterDevice {
		sendError(conn, req.ID, protocol.ErrCodeNotRegistered, fmt.Sprintf("Expected '%s' message", protocol.TypeRegisterDevice))
		return nil, fmt.Errorf("expected '%s', got '%s'", protocol.TypeRegisterDevice, req.Type)
	}

	var regReq protocol.DeviceRegistrationRequest
	if err := req.DecodePayload(&regReq); err != nil {
		sendError(conn, req.ID, protocol.ErrCodeInvalidPayload, "Invalid registration request format")
		return nil, err
	}

	device, err := h.manager.RegisterDevice(regReq, conn)
	if err != nil {
		sendError(conn, req.ID, protocol.ErrCodeInvalidRequest, err.Error())
		return nil, err
	}

	err = h.reply(device, protocol.WebSocketResponse{
		ID:      req.ID,
		Type:    protocol.TypeRegisterDeviceResponse,
		Success: true,
		Payload: protocol.DeviceRegistrationResponse{
			DeviceID: device.DeviceID(),
			ServerInfo: protocol.ServerInfo{
				Name:         buildinfo.Name,
				Version:      buildinfo.Version,
				SupportedNFC: []string{nfc.SupportedFamily.String()},
				Heartbeat:    int(HeartbeatInterval / time.Second),
			},
		},
	})
	if err != nil {
		h.manager.UnregisterDevice(device.DeviceID())
		return nil, fmt.Errorf("failed to send registration response: %w", err)
	}
	return device, nil
}

// route hands one phone message to the session it belongs to.
func (h *Handler) route(device *Device, req protocol.WebSocketRequest) error {
	switch req.Type {
	case protocol.TypeDeviceHeartbeat:
		return nil

	case protocol.TypeSessionActive:
		var p protocol.SessionEventPayload
		if err := req.DecodePayload(&p); err != nil {
			return err
		}
		if s := h.sessionFor(device, req.Type, p.SessionID); s != nil {
			s.onActive()
		}

	case protocol.TypeTagsDetected:
		var p protocol.TagsDetectedPayload
		if err := req.DecodePayload(&p); err != nil {
			return err
		}
		if s := h.sessionFor(device, req.Type, p.SessionID); s != nil {
			s.onTagsDetected(p)
		}

	case protocol.TypeConnectResult:
		var p protocol.ConnectResultPayload
		if err := req.DecodePayload(&p); err != nil {
			return err
		}
		if s := h.sessionFor(device, req.Type, p.SessionID); s != nil {
			s.onConnectResult(p)
		}

	case protocol.TypeReadResult:
		var p protocol.ReadResultPayload
		if err := req.DecodePayload(&p); err != nil {
			return err
		}
		if s := h.sessionFor(device, req.Type, p.SessionID); s != nil {
			s.onReadResult(p)
		}

	case protocol.TypeSessionInvalidated:
		var p protocol.SessionEventPayload
		if err := req.DecodePayload(&p); err != nil {
			return err
		}
		if s := h.sessionFor(device, req.Type, p.SessionID); s != nil {
			s.onInvalidated(p)
		}

	default:
		h.reply(device, protocol.NewErrorResponse(req.ID, protocol.ErrCodeUnknownType, fmt.Sprintf("Unknown message type: %s", req.Type)))
	}
	return nil
}

func (h *Handler) sessionFor(device *Device, messageType, sessionID string) *session {
	s := device.currentSession(sessionID)
	if s == nil {
		h.manager.logger.Printf("Dropping %s for unknown session %q from %s", messageType, sessionID, device)
	}
	return s
}

func (h *Handler) reply(device *Device, response protocol.WebSocketResponse) error {
	device.writeMu.Lock()
	defer device.writeMu.Unlock()
	return device.conn.WriteJSON(response)
}

// sendError writes an error response on a connection that has no device yet.
func sendError(conn *websocket.Conn, requestID, code, message string) {
	conn.WriteJSON(protocol.NewErrorResponse(requestID, code, message))
}

// IsDeviceConnection determines if a request is from a phone.
func IsDeviceConnection(r *http.Request) bool {
	if r.Header.Get("X-Device-Mode") == "true" {
		return true
	}
	return r.URL.Query().Get("mode") == "device"
}
