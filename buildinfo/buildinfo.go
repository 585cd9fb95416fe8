// Package buildinfo holds the application identity and the version stamped
// in at link time:
//
//	go build -ldflags "\
//	  -X github.com/nedpals/nfc-tagscan/buildinfo.Version=0.3.0 \
//	  -X github.com/nedpals/nfc-tagscan/buildinfo.Commit=$(git rev-parse --short HEAD)"
package buildinfo

import (
	"fmt"
	"runtime"
	"strings"
)

var (
	// Name is the technical name, used in the user agent and device handshake.
	Name = "nfc-tagscan"

	// DirName is the config directory under the user config path.
	DirName = "nfc-tagscan"

	// DisplayName is shown in the tray, the TUI and mDNS.
	DisplayName = "NFC Tagscan"

	Description = "Single-tag NFC scanning sessions over WebSocket"

	// Version, Commit and BuildTime are set via ldflags.
	Version   = "dev"
	Commit    = ""
	BuildTime = ""
)

// FullVersion returns Version, followed by the commit in parentheses when known.
func FullVersion() string {
	if Commit == "" {
		return Version
	}
	return fmt.Sprintf("%s (%s)", Version, Commit)
}

// UserAgent returns "nfc-tagscan/<version>".
func UserAgent() string {
	return Name + "/" + Version
}

// BuildInfo returns the multi-line text printed by --version.
func BuildInfo() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", Name, FullVersion())
	fmt.Fprintf(&b, "  %s\n", Description)
	fmt.Fprintf(&b, "  Go: %s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	if BuildTime != "" {
		fmt.Fprintf(&b, "\n  Built: %s", BuildTime)
	}
	return b.String()
}

func IsDev() bool {
	return Version == "dev"
}
