package protocol

import "time"

// Message types a phone sends to the agent
const (
	TypeRegisterDevice     = "registerDevice"
	TypeDeviceHeartbeat    = "deviceHeartbeat"
	TypeSessionActive      = "sessionActive"
	TypeTagsDetected       = "tagsDetected"
	TypeConnectResult      = "connectResult"
	TypeReadResult         = "readResult"
	TypeSessionInvalidated = "sessionInvalidated"
)

// Message types the agent sends to a phone
const (
	TypeRegisterDeviceResponse = "registerDeviceResponse"
	TypeBeginSession           = "beginSession"
	TypeConnectTag             = "connectTag"
	TypeReadNDEF               = "readNDEF"
	TypeInvalidateSession      = "invalidateSession"
)

// DeviceRegistrationRequest is sent by a phone to register as the agent's radio.
type DeviceRegistrationRequest struct {
	DeviceName string            `json:"deviceName"` // e.g., "John's iPhone 12"
	Platform   string            `json:"platform"`   // "ios" or "android"
	AppVersion string            `json:"appVersion"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// DeviceRegistrationResponse is sent by the agent after a successful registration.
type DeviceRegistrationResponse struct {
	DeviceID   string     `json:"deviceID"`
	ServerInfo ServerInfo `json:"serverInfo"`
}

// ServerInfo describes the agent to a registering phone.
type ServerInfo struct {
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	SupportedNFC []string `json:"supportedNFC"`
	Heartbeat    int      `json:"heartbeatSeconds"` // Expected deviceHeartbeat period
}

// DeviceHeartbeat is sent by a phone periodically.
type DeviceHeartbeat struct {
	DeviceID  string    `json:"deviceID"`
	Timestamp time.Time `json:"timestamp"`
}

// BeginSessionPayload asks the phone to open a reader session.
type BeginSessionPayload struct {
	SessionID    string `json:"sessionID"`
	AlertMessage string `json:"alertMessage"`
}

// TagCommandPayload asks the phone to connect to or read a detected tag.
// TagIndex refers to the tag list of the latest tagsDetected message.
type TagCommandPayload struct {
	SessionID string `json:"sessionID"`
	TagIndex  int    `json:"tagIndex"`
}

// InvalidateSessionPayload asks the phone to close a reader session. A
// non-empty ErrorMessage is shown to the user.
type InvalidateSessionPayload struct {
	SessionID    string `json:"sessionID"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// SessionEventPayload is sent by the phone for sessionActive and
// sessionInvalidated. Error is set when the phone closed the session itself.
type SessionEventPayload struct {
	SessionID string `json:"sessionID"`
	Error     string `json:"error,omitempty"`
}

// DetectedTagPayload is one tag reported by the phone.
type DetectedTagPayload struct {
	Identifier string `json:"identifier"` // Hex UID, separators allowed
	Technology string `json:"technology"` // "mifare", "iso7816", "iso15693", "felica"
}

// TagsDetectedPayload is sent by the phone when tags enter the field.
type TagsDetectedPayload struct {
	SessionID string               `json:"sessionID"`
	Tags      []DetectedTagPayload `json:"tags"`
}

// ConnectResultPayload reports the outcome of a connectTag command.
type ConnectResultPayload struct {
	SessionID string `json:"sessionID"`
	TagIndex  int    `json:"tagIndex"`
	Error     string `json:"error,omitempty"`
}

// ReadResultPayload reports the outcome of a readNDEF command. Records is
// nil when the tag holds no NDEF message.
type ReadResultPayload struct {
	SessionID string          `json:"sessionID"`
	TagIndex  int             `json:"tagIndex"`
	Records   []RecordPayload `json:"records"`
	Error     string          `json:"error,omitempty"`
}
