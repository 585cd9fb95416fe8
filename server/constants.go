package server

import (
	"time"

	"github.com/nedpals/nfc-tagscan/buildinfo"
)

// mDNS service discovery constants
var (
	MDNSServiceType = "_nfc-tagscan._tcp"
	MDNSServiceName = buildinfo.DisplayName
	MDNSDomain      = "local."
)

// HTTP routes
const (
	APIPrefix       = "/api/v1"
	RouteHealth     = APIPrefix + "/health"
	RouteState      = APIPrefix + "/state"
	RouteWS         = "/ws"
	DefaultPort     = 18080
	shutdownGrace   = 5 * time.Second
	writeWait       = 10 * time.Second
	broadcastBuffer = 64 // Queued broadcasts before new ones are dropped
)

// CORS configuration
const (
	CORSAllowOrigin  = "*"
	CORSAllowMethods = "GET, POST, OPTIONS"
	CORSAllowHeaders = "Content-Type, Authorization"
)
