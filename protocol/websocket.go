package protocol

// StartSessionPayload is the payload of a startSession request.
type StartSessionPayload struct {
	// Message is the prompt shown while scanning. Empty uses the agent default.
	Message string `json:"message,omitempty"`
}

// StatePayload is broadcast to UI clients on every session state change and
// returned by GET /api/v1/state.
type StatePayload struct {
	Seq         uint64          `json:"seq"`
	SessionID   string          `json:"sessionID,omitempty"`
	State       string          `json:"state"`       // "idle", "active", "pending", "captured", "error"
	Description string          `json:"description"` // Human-readable status line
	Error       string          `json:"error,omitempty"`
	ErrorCode   string          `json:"errorCode,omitempty"`
	UID         string          `json:"uid"`  // Lowercase hex, empty until captured
	Text        string          `json:"text"` // First text record, if any
	Records     []RecordPayload `json:"records"`
}

// SessionErrorPayload is sent to UI clients when a session ends in error.
type SessionErrorPayload struct {
	SessionID string `json:"sessionID,omitempty"`
	Message   string `json:"message"`
	Code      string `json:"code,omitempty"`
}
