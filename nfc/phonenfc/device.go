package phonenfc

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nedpals/nfc-tagscan/nfc"
	"github.com/nedpals/nfc-tagscan/protocol"
)

// ErrDeviceDisconnected is reported to a running session when its phone goes away.
var ErrDeviceDisconnected = errors.New("NFC device disconnected")

// Device is a registered phone acting as the agent's NFC radio.
type Device struct {
	deviceID   string
	deviceName string
	platform   string
	appVersion string
	metadata   map[string]string
	registered time.Time

	conn    *websocket.Conn
	writeMu sync.Mutex // Serializes writes on conn

	mu       sync.RWMutex
	isActive bool
	lastSeen time.Time
	session  *session // Session currently running on the phone, nil if none
}

// NewDevice creates a device for a phone that registered over conn.
func NewDevice(deviceID string, req protocol.DeviceRegistrationRequest, conn *websocket.Conn, now time.Time) *Device {
	return &Device{
		deviceID:   deviceID,
		deviceName: req.DeviceName,
		platform:   req.Platform,
		appVersion: req.AppVersion,
		metadata:   req.Metadata,
		registered: now,
		conn:       conn,
		isActive:   true,
		lastSeen:   now,
	}
}

// Close marks the device inactive, closes its connection and invalidates
// the session running on it.
func (d *Device) Close() error {
	d.mu.Lock()
	if !d.isActive {
		d.mu.Unlock()
		return nil
	}
	d.isActive = false
	s := d.session
	d.session = nil
	d.mu.Unlock()

	if s != nil {
		s.lost(ErrDeviceDisconnected)
	}
	if d.conn != nil {
		return d.conn.Close()
	}
	return nil
}

// send writes one envelope to the phone.
func (d *Device) send(messageType string, payload any) error {
	if !d.IsActive() {
		return ErrDeviceDisconnected
	}
	if d.conn == nil {
		return fmt.Errorf("device %s has no connection", d.deviceID)
	}

	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	d.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return d.conn.WriteJSON(protocol.WebSocketMessage{Type: messageType, Payload: payload})
}

// attach makes s the device's current session. A session still attached is
// replaced and ignored from then on.
func (d *Device) attach(s *session) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.isActive {
		return ErrDeviceDisconnected
	}
	d.session = s
	return nil
}

// detach clears s if it is still the current session.
func (d *Device) detach(s *session) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session == s {
		d.session = nil
	}
}

// currentSession returns the session with the given wire ID, or nil.
func (d *Device) currentSession(sessionID string) *session {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.session == nil || d.session.id != sessionID {
		return nil
	}
	return d.session
}

// IsHealthy checks whether the device is connected and has been heard from recently.
func (d *Device) IsHealthy(now time.Time, timeout time.Duration) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.isActive {
		return fmt.Errorf("device is not active")
	}
	if since := now.Sub(d.lastSeen); since > timeout {
		return fmt.Errorf("device timeout: last seen %v ago", since)
	}
	return nil
}

func (d *Device) String() string {
	return fmt.Sprintf("%s [smartphone:%s]", d.deviceName, d.deviceID)
}

// UpdateLastSeen records activity from the phone.
func (d *Device) UpdateLastSeen(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastSeen = now
}

// IsActive returns whether the device is currently connected.
func (d *Device) IsActive() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.isActive
}

// LastSeen returns the last activity timestamp.
func (d *Device) LastSeen() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastSeen
}

// DeviceID returns the device's unique identifier.
func (d *Device) DeviceID() string {
	return d.deviceID
}

// Platform returns the device platform ("ios" or "android").
func (d *Device) Platform() string {
	return d.platform
}

// AppVersion returns the phone app version.
func (d *Device) AppVersion() string {
	return d.appVersion
}

// Metadata returns a copy of the metadata sent at registration.
func (d *Device) Metadata() map[string]string {
	metadataCopy := make(map[string]string, len(d.metadata))
	for k, v := range d.metadata {
		metadataCopy[k] = v
	}
	return metadataCopy
}

// phoneError maps an error string reported by the phone to an error, reusing
// the hardware sentinels where the text matches.
func phoneError(msg string) error {
	switch msg {
	case "":
		return nil
	case nfc.ErrSessionTimeout.Error():
		return nfc.ErrSessionTimeout
	case nfc.ErrUserCanceled.Error():
		return nfc.ErrUserCanceled
	case nfc.ErrNDEFNotSupported.Error():
		return nfc.ErrNDEFNotSupported
	default:
		return errors.New(msg)
	}
}
