package nfc

import "encoding/hex"

// SessionResult holds what a session captured. UID is empty and Payload is nil
// when absent.
type SessionResult struct {
	UID     string
	Payload *NDEFMessage
}

// HasUID reports whether a UID has been captured.
func (r SessionResult) HasUID() bool {
	return r.UID != ""
}

// Snapshot is the combined observable state published once per transition.
type Snapshot struct {
	Seq       uint64 // Increases by one per published transition
	SessionID string // ID of the hardware session the state belongs to, "" when none
	State     ReaderState
	UID       string
	Payload   *NDEFMessage
}

// DisplayText is what the status line of a front end shows: the UID once known,
// the state description otherwise.
func (s Snapshot) DisplayText() string {
	if s.UID != "" {
		return s.UID
	}
	return s.State.Description()
}

// EncodeUID renders identifier bytes as lowercase hex with no separator.
func EncodeUID(identifier []byte) string {
	return hex.EncodeToString(identifier)
}
