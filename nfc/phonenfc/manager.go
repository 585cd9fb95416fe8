// Package phonenfc lets a phone act as the agent's NFC radio. The phone keeps
// a websocket open to the agent; reader sessions are started, driven and
// ended remotely over that connection.
package phonenfc

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nedpals/nfc-tagscan/nfc"
	"github.com/nedpals/nfc-tagscan/protocol"
	"github.com/nedpals/nfc-tagscan/server"
)

// Config configures a Manager.
type Config struct {
	InactivityTimeout time.Duration // Zero uses DeviceTimeout
	Logger            *log.Logger   // Nil logs to stderr with a [smartphone] prefix
}

// Manager tracks connected phones and implements nfc.Reader on top of them.
// Sessions run on the most recently registered active phone.
type Manager struct {
	devices           map[string]*Device // deviceID -> device
	mu                sync.RWMutex
	inactivityTimeout time.Duration
	logger            *log.Logger
	now               func() time.Time
	newID             func() string

	stopCleanup chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
}

var _ nfc.Reader = (*Manager)(nil)

// NewManager creates a manager and starts its inactive-device cleanup routine.
func NewManager(cfg Config) *Manager {
	if cfg.InactivityTimeout == 0 {
		cfg.InactivityTimeout = DeviceTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[smartphone] ", log.LstdFlags)
	}

	m := &Manager{
		devices:           make(map[string]*Device),
		inactivityTimeout: cfg.InactivityTimeout,
		logger:            cfg.Logger,
		now:               time.Now,
		newID:             uuid.NewString,
		stopCleanup:       make(chan struct{}),
	}
	m.startCleanupRoutine()
	return m
}

// NewSession implements nfc.Reader.
func (m *Manager) NewSession(sink nfc.EventSink) (nfc.HardwareSession, error) {
	device := m.pickDevice()
	if device == nil {
		return nil, nfc.ErrNoDevice
	}
	return &session{
		id:     m.newID(),
		device: device,
		sink:   sink,
		logger: m.logger,
	}, nil
}

// pickDevice returns the most recently registered healthy device.
func (m *Manager) pickDevice() *Device {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	var picked *Device
	for _, device := range m.devices {
		if device.IsHealthy(now, m.inactivityTimeout) != nil {
			continue
		}
		if picked == nil || device.registered.After(picked.registered) {
			picked = device
		}
	}
	return picked
}

// RegisterDevice validates a registration request and records the phone.
func (m *Manager) RegisterDevice(req protocol.DeviceRegistrationRequest, conn *websocket.Conn) (*Device, error) {
	if req.DeviceName == "" {
		return nil, fmt.Errorf("device name is required")
	}
	if req.Platform != PlatformIOS && req.Platform != PlatformAndroid {
		return nil, fmt.Errorf("invalid platform: %s (must be 'ios' or 'android')", req.Platform)
	}

	device := NewDevice(m.newID(), req, conn, m.now())

	m.mu.Lock()
	m.devices[device.DeviceID()] = device
	m.mu.Unlock()

	m.logger.Printf("Device registered: %s (%s, %s)", device, req.Platform, req.AppVersion)
	return device, nil
}

// UnregisterDevice removes a phone and invalidates any session running on it.
func (m *Manager) UnregisterDevice(deviceID string) error {
	m.mu.Lock()
	device, exists := m.devices[deviceID]
	if exists {
		delete(m.devices, deviceID)
	}
	m.mu.Unlock()

	if !exists {
		return fmt.Errorf("device not found: %s", deviceID)
	}

	if err := device.Close(); err != nil {
		m.logger.Printf("Error closing device %s: %v", deviceID, err)
	}
	m.logger.Printf("Device unregistered: %s", device)
	return nil
}

// GetDevice retrieves a device by ID.
func (m *Manager) GetDevice(deviceID string) (*Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	device, exists := m.devices[deviceID]
	return device, exists
}

// UpdateHeartbeat updates a device's last-seen timestamp.
func (m *Manager) UpdateHeartbeat(deviceID string) error {
	device, exists := m.GetDevice(deviceID)
	if !exists {
		return fmt.Errorf("device not found: %s", deviceID)
	}
	device.UpdateLastSeen(m.now())
	return nil
}

// ListDevices returns the connection strings of the active devices.
func (m *Manager) ListDevices() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	devices := make([]string, 0, len(m.devices))
	for deviceID, device := range m.devices {
		if device.IsActive() {
			devices = append(devices, "smartphone:"+deviceID)
		}
	}
	return devices
}

// GetDeviceCount returns the number of registered devices.
func (m *Manager) GetDeviceCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.devices)
}

// Close stops the cleanup routine and disconnects every phone.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.stopCleanup)
		m.wg.Wait()

		m.mu.Lock()
		devices := m.devices
		m.devices = make(map[string]*Device)
		m.mu.Unlock()

		for deviceID, device := range devices {
			if err := device.Close(); err != nil {
				m.logger.Printf("Error closing device %s: %v", deviceID, err)
			}
		}
		m.logger.Printf("Manager closed")
	})
}

func (m *Manager) startCleanupRoutine() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(CleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.cleanupInactiveDevices()
			case <-m.stopCleanup:
				return
			}
		}
	}()
}

// cleanupInactiveDevices removes devices that exceeded the inactivity timeout.
func (m *Manager) cleanupInactiveDevices() {
	now := m.now()

	m.mu.Lock()
	var stale []*Device
	for deviceID, device := range m.devices {
		if device.IsHealthy(now, m.inactivityTimeout) != nil {
			stale = append(stale, device)
			delete(m.devices, deviceID)
		}
	}
	m.mu.Unlock()

	// Closing delivers to session sinks, so it happens outside the lock.
	for _, device := range stale {
		m.logger.Printf("Cleaning up inactive device: %s (last seen %v ago)", device, now.Sub(device.LastSeen()))
		if err := device.Close(); err != nil {
			m.logger.Printf("Error closing device %s: %v", device.DeviceID(), err)
		}
	}
}

// Register implements server.ServerHandler by installing the device
// websocket handler.
func (m *Manager) Register(s server.HandlerServer) {
	NewHandler(m).Register(s)
}
