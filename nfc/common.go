package nfc

import (
	"errors"
	"time"
)

// Constants for session handling
const (
	DefaultAlertMessage   = "Scan the tag."
	DefaultSessionTimeout = 60 * time.Second // Polling window of one hardware session
	DefaultPollInterval   = 250 * time.Millisecond
	DeviceEnumRetries     = 3 // Number of retries for device enumeration
)

// TagFamily is the technology family a detected tag belongs to.
type TagFamily int

const (
	FamilyUnknown TagFamily = iota
	FamilyMiFare
	FamilyISO7816
	FamilyISO15693
	FamilyFeliCa
)

// SupportedFamily is the only family the controller connects to.
const SupportedFamily = FamilyMiFare

func (f TagFamily) String() string {
	switch f {
	case FamilyMiFare:
		return "mifare"
	case FamilyISO7816:
		return "iso7816"
	case FamilyISO15693:
		return "iso15693"
	case FamilyFeliCa:
		return "felica"
	default:
		return "unknown"
	}
}

// ParseTagFamily maps a technology name to a TagFamily. Unknown names map to
// FamilyUnknown.
func ParseTagFamily(name string) TagFamily {
	switch name {
	case "mifare", "MIFARE", "miFare":
		return FamilyMiFare
	case "iso7816", "ISO7816", "isodep":
		return FamilyISO7816
	case "iso15693", "ISO15693", "nfcv":
		return FamilyISO15693
	case "felica", "FeliCa", "nfcf":
		return FamilyFeliCa
	default:
		return FamilyUnknown
	}
}

// Sentinel errors reported by hardware sessions
var (
	// ErrSessionTimeout indicates the polling window closed without a capture
	ErrSessionTimeout = errors.New("Session timeout")

	// ErrUserCanceled indicates the user dismissed the session
	ErrUserCanceled = errors.New("Session invalidated by user")

	// ErrNoDevice indicates no NFC radio is available for a new session
	ErrNoDevice = errors.New("no NFC device available")

	// ErrNDEFNotSupported indicates the tag cannot be read as NDEF by this reader
	ErrNDEFNotSupported = errors.New("Tag is not NDEF compliant")

	// ErrSessionClosed indicates an operation on an invalidated session
	ErrSessionClosed = errors.New("session already invalidated")
)
