package nfc

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents a specific type of session failure for programmatic handling.
type ErrorCode int

const (
	// Session errors (200-299)
	ErrCodeMultipleTags ErrorCode = iota + 200
	ErrCodeConnectionFailed
	ErrCodeReadFailed
	ErrCodeSessionInvalidated
	ErrCodeUnsupportedTag
)

// Messages placed in the Error state by the controller itself.
const (
	MessageMultipleTags     = "More than one tag detected. Please try again."
	MessageConnectionFailed = "Unable to connect to tag."
	MessageUnsupportedTag   = "unsupported tag type"
	MessageInvalidated      = "Session invalidated."
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeMultipleTags:
		return "MultipleTagsDetected"
	case ErrCodeConnectionFailed:
		return "ConnectionFailed"
	case ErrCodeReadFailed:
		return "ReadFailed"
	case ErrCodeSessionInvalidated:
		return "SessionInvalidated"
	case ErrCodeUnsupportedTag:
		return "UnsupportedTagType"
	default:
		return fmt.Sprintf("ErrorCode(%d)", int(c))
	}
}

// SessionError provides structured error information for a failed session.
type SessionError struct {
	Code    ErrorCode
	Op      string // Operation that failed (e.g., "Connect", "ReadNDEF")
	Message string // Human-readable message, shown as the Error state text
	Cause   error  // Underlying hardware error
}

func (e *SessionError) Error() string {
	var sb strings.Builder
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Message)
	if e.Cause != nil && e.Cause.Error() != e.Message {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

func (e *SessionError) Unwrap() error {
	return e.Cause
}

func (e *SessionError) Is(target error) bool {
	if t, ok := target.(*SessionError); ok {
		return e.Code == t.Code
	}
	return false
}

// NewMultipleTagsError creates the error for more than one tag in the field.
func NewMultipleTagsError(count int) *SessionError {
	return &SessionError{
		Code:    ErrCodeMultipleTags,
		Op:      "TagsDetected",
		Message: MessageMultipleTags,
		Cause:   fmt.Errorf("%d tags in field", count),
	}
}

// NewConnectionError creates the error for a failed tag connection.
func NewConnectionError(cause error) *SessionError {
	return &SessionError{
		Code:    ErrCodeConnectionFailed,
		Op:      "Connect",
		Message: MessageConnectionFailed,
		Cause:   cause,
	}
}

// NewReadError creates the error for a failed NDEF read. The hardware message is
// passed through as the state text.
func NewReadError(cause error) *SessionError {
	msg := "Error"
	if cause != nil {
		msg = cause.Error()
	}
	return &SessionError{
		Code:    ErrCodeReadFailed,
		Op:      "ReadNDEF",
		Message: msg,
		Cause:   cause,
	}
}

// NewInvalidatedError creates the error for a hardware-level invalidation.
func NewInvalidatedError(cause error) *SessionError {
	msg := MessageInvalidated
	if cause != nil {
		var se *SessionError
		if errors.As(cause, &se) {
			msg = se.Message
		} else {
			msg = cause.Error()
		}
	}
	return &SessionError{
		Code:    ErrCodeSessionInvalidated,
		Op:      "Invalidated",
		Message: msg,
		Cause:   cause,
	}
}

// NewUnsupportedTagError creates the error for a tag outside the supported family.
func NewUnsupportedTagError(family TagFamily) *SessionError {
	return &SessionError{
		Code:    ErrCodeUnsupportedTag,
		Op:      "TagsDetected",
		Message: MessageUnsupportedTag,
		Cause:   fmt.Errorf("tag family %s", family),
	}
}

// GetErrorCode extracts the ErrorCode from an error if it's a SessionError.
// Returns 0 if the error is not a SessionError.
func GetErrorCode(err error) ErrorCode {
	var se *SessionError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

// IsMultipleTagsError checks if an error indicates more than one tag was detected.
func IsMultipleTagsError(err error) bool {
	return err != nil && GetErrorCode(err) == ErrCodeMultipleTags
}

// IsConnectionError checks if an error indicates a failed tag connection.
func IsConnectionError(err error) bool {
	return err != nil && GetErrorCode(err) == ErrCodeConnectionFailed
}

// IsUnsupportedTagError checks if an error indicates an unsupported tag family.
func IsUnsupportedTagError(err error) bool {
	return err != nil && GetErrorCode(err) == ErrCodeUnsupportedTag
}
