package nfc

// DetectedTag is a tag reported by a hardware session.
type DetectedTag interface {
	// Identifier returns the tag UID bytes.
	Identifier() []byte
	// Family returns the technology family of the tag.
	Family() TagFamily
}

// HardwareSession is one bounded polling session on an NFC radio.
//
// All methods must return promptly. Outcomes of Begin, Connect and ReadNDEF are
// reported later as events on the EventSink the session was created with.
// Once Invalidate or InvalidateWithError is called the session must not be used
// again; events it still emits are ignored.
type HardwareSession interface {
	// SetAlertMessage sets the prompt shown to the user while polling.
	SetAlertMessage(message string)
	// Begin starts polling. A SessionActivated event follows on success, or
	// Invalidated if the radio cannot be opened.
	Begin() error
	// Connect links to a detected tag. A ConnectResult event follows.
	Connect(tag DetectedTag)
	// ReadNDEF reads the NDEF message of a connected tag. A ReadResult event follows.
	ReadNDEF(tag DetectedTag)
	// Invalidate ends the session.
	Invalidate()
	// InvalidateWithError ends the session showing an error message to the user.
	InvalidateWithError(message string)
}

// Reader creates hardware sessions.
//
// Example:
//
//	reader := nfc.NewLibnfcReader(nfc.LibnfcConfig{DevicePath: ""})
//	ctrl := nfc.NewController(reader, nfc.NewMainQueue(nil), nil)
type Reader interface {
	NewSession(sink EventSink) (HardwareSession, error)
}

// EventSink receives hardware callbacks. Deliver may be called from any goroutine.
type EventSink interface {
	Deliver(ev Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ev Event)

func (f EventSinkFunc) Deliver(ev Event) {
	f(ev)
}
