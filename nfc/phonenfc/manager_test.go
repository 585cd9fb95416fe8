package phonenfc

import (
	"encoding/json"
	"io"
	"log"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nedpals/nfc-tagscan/nfc"
	"github.com/nedpals/nfc-tagscan/protocol"
	"github.com/nedpals/nfc-tagscan/server"
)

var quietLogger = log.New(io.Discard, "", 0)

type envelope struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Success bool            `json:"success"`
	Error   string          `json:"error"`
	Payload json.RawMessage `json:"payload"`
}

// fakePhone plays the phone app side of the device protocol.
type fakePhone struct {
	t        *testing.T
	conn     *websocket.Conn
	deviceID string
}

func dialPhone(t *testing.T, addr string) *fakePhone {
	t.Helper()
	u := url.URL{Scheme: "ws", Host: addr, Path: server.RouteWS, RawQuery: "mode=device"}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &fakePhone{t: t, conn: conn}
}

func connectPhone(t *testing.T, addr string) *fakePhone {
	t.Helper()
	p := dialPhone(t, addr)
	p.send(protocol.TypeRegisterDevice, protocol.DeviceRegistrationRequest{
		DeviceName: "Test iPhone",
		Platform:   PlatformIOS,
		AppVersion: "1.0.0",
	})

	var resp protocol.DeviceRegistrationResponse
	env := p.expect(protocol.TypeRegisterDeviceResponse, &resp)
	if !env.Success || resp.DeviceID == "" {
		t.Fatalf("registration response = %+v", env)
	}
	p.deviceID = resp.DeviceID
	return p
}

func (p *fakePhone) send(messageType string, payload any) {
	p.t.Helper()
	if err := p.conn.WriteJSON(protocol.WebSocketMessage{Type: messageType, Payload: payload}); err != nil {
		p.t.Fatalf("send %s: %v", messageType, err)
	}
}

// expect reads until a message of the given type arrives and decodes its payload into v.
func (p *fakePhone) expect(messageType string, v any) envelope {
	p.t.Helper()
	p.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var env envelope
		if err := p.conn.ReadJSON(&env); err != nil {
			p.t.Fatalf("waiting for %s: %v", messageType, err)
		}
		if env.Type != messageType {
			continue
		}
		if v != nil {
			if err := json.Unmarshal(env.Payload, v); err != nil {
				p.t.Fatalf("decode %s: %v", messageType, err)
			}
		}
		return env
	}
}

type harness struct {
	manager *Manager
	ctrl    *nfc.Controller
	srv     *server.Server
	snaps   chan nfc.Snapshot
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	manager := NewManager(Config{Logger: quietLogger})
	t.Cleanup(manager.Close)

	queue := nfc.NewMainQueue(quietLogger)
	queue.Start()
	t.Cleanup(queue.Stop)
	ctrl := nfc.NewController(manager, queue, quietLogger)

	srv := server.New(server.Config{
		Addr:     "127.0.0.1:0",
		Handlers: []server.ServerHandler{manager},
		Logger:   quietLogger,
	})
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(srv.Stop)

	h := &harness{manager: manager, ctrl: ctrl, srv: srv, snaps: make(chan nfc.Snapshot, 32)}
	ctrl.Observe(func(s nfc.Snapshot) { h.snaps <- s })
	return h
}

// waitFor returns the first published snapshot in the wanted state.
func (h *harness) waitFor(t *testing.T, want nfc.ReaderState) nfc.Snapshot {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case s := <-h.snaps:
			if s.State.Equal(want) {
				return s
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %v, state is %v", want, h.ctrl.State())
			return nfc.Snapshot{}
		}
	}
}

// begin starts a session and returns the beginSession the phone received.
func (h *harness) begin(t *testing.T, phone *fakePhone, message string) protocol.BeginSessionPayload {
	t.Helper()
	h.ctrl.Start(message)
	var begin protocol.BeginSessionPayload
	phone.expect(protocol.TypeBeginSession, &begin)
	phone.send(protocol.TypeSessionActive, protocol.SessionEventPayload{SessionID: begin.SessionID})
	h.waitFor(t, nfc.Active)
	return begin
}

func TestManager_CaptureOverWebSocket(t *testing.T) {
	h := newHarness(t)
	phone := connectPhone(t, h.srv.Addr())

	begin := h.begin(t, phone, "Hold your badge near the phone")
	if begin.AlertMessage != "Hold your badge near the phone" {
		t.Errorf("alert message = %q", begin.AlertMessage)
	}

	phone.send(protocol.TypeTagsDetected, protocol.TagsDetectedPayload{
		SessionID: begin.SessionID,
		Tags:      []protocol.DetectedTagPayload{{Identifier: "04:A1:FF:3C", Technology: "mifare"}},
	})
	h.waitFor(t, nfc.Pending)

	var connect protocol.TagCommandPayload
	phone.expect(protocol.TypeConnectTag, &connect)
	if connect.SessionID != begin.SessionID || connect.TagIndex != 0 {
		t.Errorf("connectTag = %+v", connect)
	}
	phone.send(protocol.TypeConnectResult, protocol.ConnectResultPayload{SessionID: begin.SessionID, TagIndex: 0})

	var read protocol.TagCommandPayload
	phone.expect(protocol.TypeReadNDEF, &read)
	text := nfc.NewTextRecord("room 101", "en")
	phone.send(protocol.TypeReadResult, protocol.ReadResultPayload{
		SessionID: begin.SessionID,
		TagIndex:  0,
		Records:   []protocol.RecordPayload{{TNF: text.TNF, Type: text.Type, Payload: text.Payload}},
	})

	snap := h.waitFor(t, nfc.Captured)
	if snap.UID != "04a1ff3c" {
		t.Errorf("uid = %q, want 04a1ff3c", snap.UID)
	}
	if got, _ := snap.Payload.FirstText(); got != "room 101" {
		t.Errorf("text = %q, want room 101", got)
	}

	var inv protocol.InvalidateSessionPayload
	phone.expect(protocol.TypeInvalidateSession, &inv)
	if inv.SessionID != begin.SessionID || inv.ErrorMessage != "" {
		t.Errorf("invalidateSession = %+v", inv)
	}
}

func TestManager_CaptureWithoutNDEF(t *testing.T) {
	h := newHarness(t)
	phone := connectPhone(t, h.srv.Addr())
	begin := h.begin(t, phone, "")

	phone.send(protocol.TypeTagsDetected, protocol.TagsDetectedPayload{
		SessionID: begin.SessionID,
		Tags:      []protocol.DetectedTagPayload{{Identifier: "0102", Technology: "mifare"}},
	})
	phone.expect(protocol.TypeConnectTag, nil)
	phone.send(protocol.TypeConnectResult, protocol.ConnectResultPayload{SessionID: begin.SessionID})
	phone.expect(protocol.TypeReadNDEF, nil)
	phone.send(protocol.TypeReadResult, protocol.ReadResultPayload{SessionID: begin.SessionID})

	snap := h.waitFor(t, nfc.Captured)
	if snap.Payload == nil || snap.Payload.Len() != 0 {
		t.Errorf("payload = %+v, want empty message", snap.Payload)
	}
}

func TestManager_SessionFailures(t *testing.T) {
	tests := []struct {
		name        string
		tags        []protocol.DetectedTagPayload
		connectErr  string
		readErr     string
		want        nfc.ReaderState
		wantInvalid string // errorMessage of the invalidateSession the phone receives
	}{
		{
			name: "multiple tags",
			tags: []protocol.DetectedTagPayload{
				{Identifier: "01", Technology: "mifare"},
				{Identifier: "02", Technology: "mifare"},
			},
			want:        nfc.ErrorState(nfc.MessageMultipleTags),
			wantInvalid: nfc.MessageMultipleTags,
		},
		{
			name:        "unsupported family",
			tags:        []protocol.DetectedTagPayload{{Identifier: "0A0B", Technology: "felica"}},
			want:        nfc.ErrorState(nfc.MessageUnsupportedTag),
			wantInvalid: nfc.MessageUnsupportedTag,
		},
		{
			name:        "connect error",
			tags:        []protocol.DetectedTagPayload{{Identifier: "0A0B", Technology: "mifare"}},
			connectErr:  "Tag connection lost",
			want:        nfc.ErrorState(nfc.MessageConnectionFailed),
			wantInvalid: nfc.MessageConnectionFailed,
		},
		{
			name:        "read error",
			tags:        []protocol.DetectedTagPayload{{Identifier: "0A0B", Technology: "mifare"}},
			readErr:     "Tag is not NDEF formatted",
			want:        nfc.ErrorState("Tag is not NDEF formatted"),
			wantInvalid: "Tag is not NDEF formatted",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			phone := connectPhone(t, h.srv.Addr())
			begin := h.begin(t, phone, "")

			phone.send(protocol.TypeTagsDetected, protocol.TagsDetectedPayload{SessionID: begin.SessionID, Tags: tt.tags})
			if len(tt.tags) == 1 && nfc.ParseTagFamily(tt.tags[0].Technology) == nfc.SupportedFamily {
				phone.expect(protocol.TypeConnectTag, nil)
				phone.send(protocol.TypeConnectResult, protocol.ConnectResultPayload{SessionID: begin.SessionID, Error: tt.connectErr})
				if tt.connectErr == "" {
					phone.expect(protocol.TypeReadNDEF, nil)
					phone.send(protocol.TypeReadResult, protocol.ReadResultPayload{SessionID: begin.SessionID, Error: tt.readErr})
				}
			}

			h.waitFor(t, tt.want)
			var inv protocol.InvalidateSessionPayload
			phone.expect(protocol.TypeInvalidateSession, &inv)
			if inv.ErrorMessage != tt.wantInvalid {
				t.Errorf("invalidateSession message = %q, want %q", inv.ErrorMessage, tt.wantInvalid)
			}
		})
	}
}

func TestManager_PhoneInvalidatesSession(t *testing.T) {
	h := newHarness(t)
	phone := connectPhone(t, h.srv.Addr())
	begin := h.begin(t, phone, "")

	phone.send(protocol.TypeSessionInvalidated, protocol.SessionEventPayload{
		SessionID: begin.SessionID,
		Error:     nfc.ErrUserCanceled.Error(),
	})

	snap := h.waitFor(t, nfc.ErrorState(nfc.ErrUserCanceled.Error()))
	if snap.State.Code() != nfc.ErrCodeSessionInvalidated {
		t.Errorf("code = %v, want SessionInvalidated", snap.State.Code())
	}
}

func TestManager_DisconnectInvalidatesSession(t *testing.T) {
	h := newHarness(t)
	phone := connectPhone(t, h.srv.Addr())
	h.begin(t, phone, "")

	phone.conn.Close()
	h.waitFor(t, nfc.ErrorState(ErrDeviceDisconnected.Error()))
}

func TestManager_StaleSessionMessagesIgnored(t *testing.T) {
	h := newHarness(t)
	phone := connectPhone(t, h.srv.Addr())
	begin := h.begin(t, phone, "")

	phone.send(protocol.TypeTagsDetected, protocol.TagsDetectedPayload{
		SessionID: "not-" + begin.SessionID,
		Tags:      []protocol.DetectedTagPayload{{Identifier: "01", Technology: "mifare"}},
	})
	// A round trip through the handler orders the check after the stale message.
	phone.send(protocol.TypeDeviceHeartbeat, protocol.DeviceHeartbeat{DeviceID: phone.deviceID})
	phone.send("bogus", nil)
	phone.expect(protocol.TypeError, nil)

	if got := h.ctrl.State(); !got.Equal(nfc.Active) {
		t.Errorf("state = %v, want active", got)
	}
}

func TestManager_NoDevice(t *testing.T) {
	h := newHarness(t)
	h.ctrl.Start("")
	h.waitFor(t, nfc.ErrorState(nfc.ErrNoDevice.Error()))
}

func TestManager_RegistrationRejected(t *testing.T) {
	tests := []struct {
		name    string
		msgType string
		payload protocol.DeviceRegistrationRequest
	}{
		{"wrong first message", protocol.TypeDeviceHeartbeat, protocol.DeviceRegistrationRequest{}},
		{"missing name", protocol.TypeRegisterDevice, protocol.DeviceRegistrationRequest{Platform: PlatformAndroid}},
		{"bad platform", protocol.TypeRegisterDevice, protocol.DeviceRegistrationRequest{DeviceName: "PC", Platform: "windows"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			phone := dialPhone(t, h.srv.Addr())
			phone.send(tt.msgType, tt.payload)

			env := phone.expect(protocol.TypeError, nil)
			if env.Success || env.Error == "" {
				t.Errorf("error envelope = %+v", env)
			}
			if n := h.manager.GetDeviceCount(); n != 0 {
				t.Errorf("GetDeviceCount() = %d, want 0", n)
			}
		})
	}
}

func TestManager_PicksNewestDevice(t *testing.T) {
	h := newHarness(t)
	first := connectPhone(t, h.srv.Addr())
	time.Sleep(10 * time.Millisecond)
	second := connectPhone(t, h.srv.Addr())

	hs, err := h.manager.NewSession(nfc.EventSinkFunc(func(nfc.Event) {}))
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	if got := hs.(*session).device.DeviceID(); got != second.deviceID {
		t.Errorf("session on %s, want newest device %s (first was %s)", got, second.deviceID, first.deviceID)
	}
}

func TestManager_CleanupInactiveDevices(t *testing.T) {
	m := NewManager(Config{InactivityTimeout: time.Minute, Logger: quietLogger})
	defer m.Close()

	start := time.Now()
	m.now = func() time.Time { return start }
	stale, _ := m.RegisterDevice(protocol.DeviceRegistrationRequest{DeviceName: "old", Platform: PlatformIOS}, nil)
	fresh, _ := m.RegisterDevice(protocol.DeviceRegistrationRequest{DeviceName: "new", Platform: PlatformAndroid}, nil)

	m.now = func() time.Time { return start.Add(2 * time.Minute) }
	fresh.UpdateLastSeen(m.now())
	m.cleanupInactiveDevices()

	if _, ok := m.GetDevice(stale.DeviceID()); ok {
		t.Error("stale device not removed")
	}
	if _, ok := m.GetDevice(fresh.DeviceID()); !ok {
		t.Error("fresh device removed")
	}
	if stale.IsActive() {
		t.Error("stale device still active")
	}
	if got := m.ListDevices(); len(got) != 1 || got[0] != "smartphone:"+fresh.DeviceID() {
		t.Errorf("ListDevices() = %v", got)
	}
}
