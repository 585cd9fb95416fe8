package phonenfc

import "time"

// Device timing constants
const (
	DeviceTimeout     = 30 * time.Second // Device inactivity timeout
	HeartbeatInterval = 10 * time.Second // Expected heartbeat frequency
	CleanupInterval   = 15 * time.Second // Cleanup check interval
	writeWait         = 10 * time.Second // Deadline for one websocket write
)

// Platforms a phone may register with
const (
	PlatformIOS     = "ios"
	PlatformAndroid = "android"
)
