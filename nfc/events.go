package nfc

import "fmt"

// Event is a hardware callback delivered to the controller.
type Event interface {
	eventName() string
}

// SessionActivated reports that the hardware session started polling.
type SessionActivated struct{}

// TagsDetected reports tags found in the field.
type TagsDetected struct {
	Tags []DetectedTag
}

// ConnectResult reports the outcome of HardwareSession.Connect.
type ConnectResult struct {
	Tag DetectedTag
	Err error
}

// ReadResult reports the outcome of HardwareSession.ReadNDEF. Message may be nil
// on success when the tag holds no NDEF data.
type ReadResult struct {
	Tag     DetectedTag
	Message *NDEFMessage
	Err     error
}

// Invalidated reports that the hardware ended the session, e.g. on timeout or
// user cancel.
type Invalidated struct {
	Err error
}

func (SessionActivated) eventName() string { return "SessionActivated" }
func (TagsDetected) eventName() string     { return "TagsDetected" }
func (ConnectResult) eventName() string    { return "ConnectResult" }
func (ReadResult) eventName() string       { return "ReadResult" }
func (Invalidated) eventName() string      { return "Invalidated" }

// EventName returns a short name for logging.
func EventName(ev Event) string {
	if ev == nil {
		return "<nil>"
	}
	return ev.eventName()
}

func (e TagsDetected) String() string {
	return fmt.Sprintf("TagsDetected(%d)", len(e.Tags))
}
