package nfc

import "fmt"

// StateKind identifies a ReaderState variant.
type StateKind int

const (
	StateIdle StateKind = iota
	StateActive
	StatePending
	StateCaptured
	StateError
)

// Human-readable descriptions shown by front ends.
const (
	DescriptionIdle     = "Reader is inactive."
	DescriptionActive   = "Scan the NFC Tag."
	DescriptionPending  = "Processing tag."
	DescriptionCaptured = "Tag data captured."
)

func (k StateKind) String() string {
	switch k {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StatePending:
		return "pending"
	case StateCaptured:
		return "captured"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("StateKind(%d)", int(k))
	}
}

// ReaderState is the controller's tagged state. Only the Error variant carries
// data: a message and the code of the failure that produced it.
//
// Compare states with Equal, not ==. Two Error states are equal when their
// messages match regardless of code.
type ReaderState struct {
	kind    StateKind
	message string
	code    ErrorCode
}

var (
	Idle     = ReaderState{kind: StateIdle}
	Active   = ReaderState{kind: StateActive}
	Pending  = ReaderState{kind: StatePending}
	Captured = ReaderState{kind: StateCaptured}
)

// ErrorState returns an Error variant with the given message.
func ErrorState(message string) ReaderState {
	return ReaderState{kind: StateError, message: message}
}

// errorStateFrom builds an Error state from a structured error.
func errorStateFrom(err *SessionError) ReaderState {
	return ReaderState{kind: StateError, message: err.Message, code: err.Code}
}

// Kind returns the variant tag.
func (s ReaderState) Kind() StateKind {
	return s.kind
}

// IsError reports whether s is the Error variant.
func (s ReaderState) IsError() bool {
	return s.kind == StateError
}

// Message returns the error message for Error states and "" otherwise.
func (s ReaderState) Message() string {
	return s.message
}

// Code returns the error code for Error states built by the controller, 0 otherwise.
func (s ReaderState) Code() ErrorCode {
	return s.code
}

// Description returns the text a UI should display for this state.
func (s ReaderState) Description() string {
	switch s.kind {
	case StateActive:
		return DescriptionActive
	case StatePending:
		return DescriptionPending
	case StateCaptured:
		return DescriptionCaptured
	case StateError:
		return s.message
	default:
		return DescriptionIdle
	}
}

// Equal compares variants by tag, and Error variants by message.
func (s ReaderState) Equal(other ReaderState) bool {
	if s.kind != other.kind {
		return false
	}
	if s.kind == StateError {
		return s.message == other.message
	}
	return true
}

func (s ReaderState) String() string {
	if s.kind == StateError {
		return fmt.Sprintf("error(%q)", s.message)
	}
	return s.kind.String()
}
