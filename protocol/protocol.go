// Package protocol provides the JSON message types spoken over the agent's
// WebSocket and HTTP endpoints. It is importable without pulling in the NFC
// hardware bindings.
package protocol

import (
	"encoding/json"
	"fmt"
)

// WebSocket message types sent to UI clients
const (
	TypeState        = "state"
	TypeSessionError = "sessionError"
	TypeResponse     = "response"
	TypeError        = "error"
)

// WebSocket message types received from UI clients
const (
	TypeStartSession = "startSession"
	TypeResetSession = "resetSession"
)

// Error codes carried in error envelopes
const (
	ErrCodeParse          = "PARSE_ERROR"
	ErrCodeUnknownType    = "UNKNOWN_TYPE"
	ErrCodeInvalidPayload = "INVALID_PAYLOAD"
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeNotRegistered  = "NOT_REGISTERED"
)

// WebSocketMessage is the generic message envelope for WebSocket communication.
type WebSocketMessage struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// WebSocketRequest is an incoming envelope. The payload is decoded lazily by
// the handler registered for Type.
type WebSocketRequest struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DecodePayload unmarshals the request payload into v. A missing payload
// leaves v untouched.
func (r WebSocketRequest) DecodePayload(v any) error {
	if len(r.Payload) == 0 || string(r.Payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(r.Payload, v); err != nil {
		return fmt.Errorf("invalid %s payload: %w", r.Type, err)
	}
	return nil
}

// WebSocketResponse is the reply to a WebSocket request.
type WebSocketResponse struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ErrorPayload is the payload of an error response.
type ErrorPayload struct {
	Code string `json:"code"`
}

// NewErrorResponse builds an error envelope answering request id.
func NewErrorResponse(id, code, message string) WebSocketResponse {
	return WebSocketResponse{
		ID:      id,
		Type:    TypeError,
		Success: false,
		Error:   message,
		Payload: ErrorPayload{Code: code},
	}
}

// HealthResponse is returned by GET /api/v1/health.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"` // RFC3339
}
