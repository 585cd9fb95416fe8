package server

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nedpals/nfc-tagscan/nfc"
	"github.com/nedpals/nfc-tagscan/protocol"
)

var quietLogger = log.New(io.Discard, "", 0)

// envelope is a loosely decoded server message.
type envelope struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Success bool            `json:"success"`
	Error   string          `json:"error"`
	Payload json.RawMessage `json:"payload"`
}

func newTestServer(t *testing.T, secret string) (*Server, *nfc.Controller, *nfc.MockReader) {
	t.Helper()
	reader := nfc.NewMockReader()
	reader.AutoActivate = true
	ctrl := nfc.NewController(reader, &nfc.InlineDispatcher{}, quietLogger)

	s := New(Config{
		Controller: ctrl,
		Addr:       "127.0.0.1:0",
		APISecret:  secret,
		Logger:     quietLogger,
	})
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(s.Stop)
	return s, ctrl, reader
}

func dial(t *testing.T, s *Server, query string) *websocket.Conn {
	t.Helper()
	u := url.URL{Scheme: "ws", Host: s.Addr(), Path: RouteWS, RawQuery: query}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads envelopes until one matches.
func readUntil(t *testing.T, conn *websocket.Conn, match func(envelope) bool) envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("ReadJSON() error = %v", err)
		}
		if match(env) {
			return env
		}
	}
}

// readEach reads until every matcher has matched one envelope, in any order.
// Broadcasts and responses to the same client are not ordered.
func readEach(t *testing.T, conn *websocket.Conn, matches ...func(envelope) bool) []envelope {
	t.Helper()
	got := make([]envelope, len(matches))
	done := make([]bool, len(matches))
	remaining := len(matches)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for remaining > 0 {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("ReadJSON() error = %v", err)
		}
		for i, match := range matches {
			if !done[i] && match(env) {
				got[i], done[i] = env, true
				remaining--
				break
			}
		}
	}
	return got
}

func isResponse(env envelope) bool {
	return env.Type == protocol.TypeResponse
}

func stateIs(kind string) func(envelope) bool {
	return func(env envelope) bool {
		if env.Type != protocol.TypeState {
			return false
		}
		var p protocol.StatePayload
		json.Unmarshal(env.Payload, &p)
		return p.State == kind
	}
}

func decodeState(t *testing.T, env envelope) protocol.StatePayload {
	t.Helper()
	var p protocol.StatePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("state payload: %v", err)
	}
	return p
}

func TestServer_HealthCheck(t *testing.T) {
	s := New(Config{Logger: quietLogger})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, RouteHealth, nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var health protocol.HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if health.Status != "ok" {
		t.Errorf("status = %q, want ok", health.Status)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != CORSAllowOrigin {
		t.Error("CORS header missing")
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, RouteHealth, nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d, want 405", rec.Code)
	}
}

func TestServer_StateEndpoint(t *testing.T) {
	reader := nfc.NewMockReader()
	ctrl := nfc.NewController(reader, &nfc.InlineDispatcher{}, quietLogger)
	s := New(Config{Controller: ctrl, Logger: quietLogger})

	ctrl.Start("")
	reader.Last().Activate()

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, RouteState, nil))

	var p protocol.StatePayload
	if err := json.NewDecoder(rec.Body).Decode(&p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.State != "active" || p.Description != nfc.DescriptionActive {
		t.Errorf("state = %+v, want active", p)
	}

	noCtrl := New(Config{Logger: quietLogger})
	rec = httptest.NewRecorder()
	noCtrl.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, RouteState, nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status without controller = %d, want 503", rec.Code)
	}
}

func TestServer_WebSocketSessionFlow(t *testing.T) {
	s, ctrl, reader := newTestServer(t, "")
	conn := dial(t, s, "")

	first := decodeState(t, readUntil(t, conn, stateIs("idle")))
	if first.UID != "" {
		t.Errorf("initial uid = %q, want empty", first.UID)
	}

	conn.WriteJSON(map[string]any{"id": "1", "type": protocol.TypeStartSession, "payload": map[string]string{"message": "Tap your badge"}})
	resp := readEach(t, conn, stateIs("active"), isResponse)[1]
	if resp.ID != "1" || !resp.Success {
		t.Errorf("response = %+v, want success for id 1", resp)
	}
	if got := reader.Last().AlertMessage(); got != "Tap your badge" {
		t.Errorf("alert message = %q", got)
	}

	hs := reader.Last()
	hs.Detect(nfc.NewMockTag(0xCA, 0xFE))
	hs.CompleteConnect(nil)
	hs.CompleteRead(&nfc.NDEFMessage{Records: []nfc.NDEFRecord{nfc.NewTextRecord("badge 42", "en")}}, nil)

	captured := decodeState(t, readUntil(t, conn, stateIs("captured")))
	if captured.UID != "cafe" {
		t.Errorf("uid = %q, want cafe", captured.UID)
	}
	if captured.Text != "badge 42" || len(captured.Records) != 1 {
		t.Errorf("payload = %q / %d records", captured.Text, len(captured.Records))
	}
	if !ctrl.State().Equal(nfc.Captured) {
		t.Errorf("controller state = %v", ctrl.State())
	}

	conn.WriteJSON(map[string]any{"id": "2", "type": protocol.TypeResetSession})
	idle := decodeState(t, readUntil(t, conn, stateIs("idle")))
	if idle.UID != "" || idle.Records != nil {
		t.Errorf("reset state kept result: %+v", idle)
	}
}

func TestServer_SessionErrorBroadcast(t *testing.T) {
	s, _, reader := newTestServer(t, "")
	conn := dial(t, s, "")
	readUntil(t, conn, stateIs("idle"))

	conn.WriteJSON(map[string]any{"type": protocol.TypeStartSession})
	readUntil(t, conn, func(env envelope) bool { return env.Type == protocol.TypeResponse })

	reader.Last().Detect(nfc.NewMockTag(1), nfc.NewMockTag(2))

	state := decodeState(t, readUntil(t, conn, stateIs("error")))
	if state.Error != nfc.MessageMultipleTags || state.ErrorCode != "MultipleTagsDetected" {
		t.Errorf("error state = %+v", state)
	}

	env := readUntil(t, conn, func(env envelope) bool { return env.Type == protocol.TypeSessionError })
	var p protocol.SessionErrorPayload
	json.Unmarshal(env.Payload, &p)
	if p.Message != nfc.MessageMultipleTags {
		t.Errorf("sessionError message = %q", p.Message)
	}
}

func TestServer_RequestErrors(t *testing.T) {
	s, _, _ := newTestServer(t, "")
	conn := dial(t, s, "")
	readUntil(t, conn, stateIs("idle"))

	tests := []struct {
		name string
		send string
		code string
	}{
		{"unknown type", `{"id":"9","type":"writeTag"}`, protocol.ErrCodeUnknownType},
		{"bad json", `{not json`, protocol.ErrCodeParse},
		{"bad payload", `{"id":"3","type":"startSession","payload":"oops"}`, protocol.ErrCodeInvalidPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn.WriteMessage(websocket.TextMessage, []byte(tt.send))
			env := readUntil(t, conn, func(env envelope) bool { return env.Type == protocol.TypeError })
			var p protocol.ErrorPayload
			json.Unmarshal(env.Payload, &p)
			if p.Code != tt.code {
				t.Errorf("code = %q, want %q", p.Code, tt.code)
			}
		})
	}
}

func TestServer_APISecret(t *testing.T) {
	s, _, _ := newTestServer(t, "hunter2")

	u := url.URL{Scheme: "ws", Host: s.Addr(), Path: RouteWS}
	_, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err == nil {
		t.Fatal("Dial() without secret succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("response = %v, want 401", resp)
	}

	conn := dial(t, s, "secret=hunter2")
	readUntil(t, conn, stateIs("idle"))
}

func TestServer_CustomWebSocketHandler(t *testing.T) {
	claimed := make(chan struct{}, 1)
	s := New(Config{
		Addr:   "127.0.0.1:0",
		Logger: quietLogger,
		Handlers: []ServerHandler{handlerFunc(func(hs HandlerServer) {
			hs.HandleWebSocket(
				func(r *http.Request) bool { return r.URL.Query().Get("mode") == "device" },
				func(w http.ResponseWriter, r *http.Request) bool {
					claimed <- struct{}{}
					http.Error(w, "claimed", http.StatusTeapot)
					return true
				},
			)
		})},
	})
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	u := url.URL{Scheme: "ws", Host: s.Addr(), Path: RouteWS, RawQuery: "mode=device"}
	_, resp, _ := websocket.DefaultDialer.Dial(u.String(), nil)
	select {
	case <-claimed:
	case <-time.After(time.Second):
		t.Fatal("device connection not handed to the custom handler")
	}
	if resp == nil || resp.StatusCode != http.StatusTeapot {
		t.Errorf("response = %v, want 418", resp)
	}
	if s.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d, want 0", s.ClientCount())
	}
}

func TestServer_BroadcastWithStalledClient(t *testing.T) {
	s, _, _ := newTestServer(t, "")
	conn := dial(t, s, "")
	readUntil(t, conn, stateIs("idle"))

	s.clients.mu.RLock()
	var client *Client
	for c := range s.clients.clients {
		client = c
	}
	s.clients.mu.RUnlock()
	if client == nil {
		t.Fatal("client not registered")
	}

	// Hold the client's write lock as a write stuck on a slow socket would.
	client.writeMu.Lock()
	returned := make(chan struct{})
	go func() {
		s.Broadcast(protocol.WebSocketMessage{Type: "notice"})
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		client.writeMu.Unlock()
		t.Fatal("Broadcast blocked on a stalled client")
	}
	client.writeMu.Unlock()

	readUntil(t, conn, func(env envelope) bool { return env.Type == "notice" })
}

func TestServer_StartTwice(t *testing.T) {
	s, _, _ := newTestServer(t, "")
	if err := s.Start(); err == nil {
		t.Error("second Start() error = nil")
	}
}

type handlerFunc func(HandlerServer)

func (f handlerFunc) Register(s HandlerServer) { f(s) }
