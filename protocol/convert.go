package protocol

import (
	"encoding/hex"
	"fmt"
	"strings"
)

var uidSeparators = strings.NewReplacer(":", "", " ", "", "-", "")

// ParseUID normalizes a UID from various formats to colon-separated uppercase hex.
// Supports: "04:AB:CD:EF", "04ABCDEF", "04 AB CD EF", "04-ab-cd-ef"
func ParseUID(uid string) (string, error) {
	raw, err := DecodeUID(uid)
	if err != nil {
		return "", err
	}

	var result strings.Builder
	for i, b := range raw {
		if i > 0 {
			result.WriteByte(':')
		}
		fmt.Fprintf(&result, "%02X", b)
	}
	return result.String(), nil
}

// DecodeUID parses a UID in any of the formats accepted by ParseUID into bytes.
func DecodeUID(uid string) ([]byte, error) {
	if uid == "" {
		return nil, fmt.Errorf("empty UID")
	}

	cleaned := uidSeparators.Replace(uid)
	if len(cleaned)%2 != 0 {
		return nil, fmt.Errorf("UID has odd number of hex characters: %s", uid)
	}
	if len(cleaned) < 2 {
		return nil, fmt.Errorf("UID too short: %s", uid)
	}

	raw, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("UID contains invalid characters: %s", uid)
	}
	return raw, nil
}
