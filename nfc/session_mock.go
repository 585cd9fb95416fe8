package nfc

import (
	"fmt"
	"sync"
)

// MockTag is a DetectedTag with fixed values.
type MockTag struct {
	UID       []byte
	TagFamily TagFamily
	Label     string
}

// NewMockTag creates a MIFARE MockTag with the given identifier.
func NewMockTag(uid ...byte) *MockTag {
	return &MockTag{UID: uid, TagFamily: FamilyMiFare}
}

func (t *MockTag) Identifier() []byte { return t.UID }
func (t *MockTag) Family() TagFamily  { return t.TagFamily }

func (t *MockTag) String() string {
	if t.Label != "" {
		return t.Label
	}
	return fmt.Sprintf("MockTag(%s, %s)", EncodeUID(t.UID), t.TagFamily)
}

// MockReader is a Reader that hands out MockSessions for tests.
//
// Example:
//
//	reader := nfc.NewMockReader()
//	ctrl := nfc.NewController(reader, nil, nil)
//	ctrl.Start("")
//	reader.Last().Activate()
type MockReader struct {
	// NewSessionError, if set, is returned by NewSession
	NewSessionError error

	// BeginError, if set, is returned by Begin on every new session
	BeginError error

	// AutoActivate delivers SessionActivated from inside Begin
	AutoActivate bool

	// Sessions holds every session created, oldest first
	Sessions []*MockSession

	// CallLog tracks all method calls for verification in tests
	CallLog []string

	mu sync.Mutex
}

// NewMockReader creates a MockReader with an empty call log.
func NewMockReader() *MockReader {
	return &MockReader{CallLog: make([]string, 0)}
}

func (r *MockReader) NewSession(sink EventSink) (HardwareSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.CallLog = append(r.CallLog, "NewSession")
	if r.NewSessionError != nil {
		return nil, r.NewSessionError
	}

	s := &MockSession{
		sink:         sink,
		BeginError:   r.BeginError,
		AutoActivate: r.AutoActivate,
		CallLog:      make([]string, 0),
	}
	r.Sessions = append(r.Sessions, s)
	return s, nil
}

// Last returns the most recently created session, or nil.
func (r *MockReader) Last() *MockSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Sessions) == 0 {
		return nil
	}
	return r.Sessions[len(r.Sessions)-1]
}

// ActiveCount returns the number of sessions that have begun and are not yet
// invalidated.
func (r *MockReader) ActiveCount() int {
	r.mu.Lock()
	sessions := append([]*MockSession(nil), r.Sessions...)
	r.mu.Unlock()

	n := 0
	for _, s := range sessions {
		if s.IsActive() {
			n++
		}
	}
	return n
}

// MockSession is a HardwareSession whose events are injected by the test.
type MockSession struct {
	BeginError   error
	AutoActivate bool

	// CallLog tracks all method calls for verification in tests
	CallLog []string

	sink         EventSink
	alertMessage string
	begun        bool
	invalidated  bool
	errorMessage string
	connected    []DetectedTag
	reads        []DetectedTag

	mu sync.Mutex
}

func (s *MockSession) log(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallLog = append(s.CallLog, call)
}

func (s *MockSession) SetAlertMessage(message string) {
	s.log("SetAlertMessage")
	s.mu.Lock()
	s.alertMessage = message
	s.mu.Unlock()
}

func (s *MockSession) Begin() error {
	s.log("Begin")
	s.mu.Lock()
	if s.BeginError != nil {
		s.mu.Unlock()
		return s.BeginError
	}
	s.begun = true
	auto := s.AutoActivate
	s.mu.Unlock()

	if auto {
		s.Activate()
	}
	return nil
}

func (s *MockSession) Connect(tag DetectedTag) {
	s.log("Connect")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = append(s.connected, tag)
}

func (s *MockSession) ReadNDEF(tag DetectedTag) {
	s.log("ReadNDEF")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads = append(s.reads, tag)
}

func (s *MockSession) Invalidate() {
	s.log("Invalidate")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidated = true
}

func (s *MockSession) InvalidateWithError(message string) {
	s.log("InvalidateWithError")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidated = true
	s.errorMessage = message
}

// Emit delivers ev to the controller as if the hardware raised it.
func (s *MockSession) Emit(ev Event) {
	s.sink.Deliver(ev)
}

// Activate emits SessionActivated.
func (s *MockSession) Activate() { s.Emit(SessionActivated{}) }

// Detect emits TagsDetected with the given tags.
func (s *MockSession) Detect(tags ...DetectedTag) { s.Emit(TagsDetected{Tags: tags}) }

// CompleteConnect emits ConnectResult for the last connected tag.
func (s *MockSession) CompleteConnect(err error) {
	s.Emit(ConnectResult{Tag: s.lastOf(&s.connected), Err: err})
}

// CompleteRead emits ReadResult for the last tag read.
func (s *MockSession) CompleteRead(msg *NDEFMessage, err error) {
	s.Emit(ReadResult{Tag: s.lastOf(&s.reads), Message: msg, Err: err})
}

// Fail ends the session from the hardware side and emits Invalidated with err.
func (s *MockSession) Fail(err error) {
	s.mu.Lock()
	s.invalidated = true
	s.mu.Unlock()
	s.Emit(Invalidated{Err: err})
}

func (s *MockSession) lastOf(list *[]DetectedTag) DetectedTag {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(*list) == 0 {
		return nil
	}
	return (*list)[len(*list)-1]
}

// AlertMessage returns the prompt set on the session.
func (s *MockSession) AlertMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alertMessage
}

// IsActive reports whether Begin succeeded and the session was not invalidated.
func (s *MockSession) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.begun && !s.invalidated
}

// IsInvalidated reports whether either invalidate method was called.
func (s *MockSession) IsInvalidated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invalidated
}

// ErrorMessage returns the message passed to InvalidateWithError.
func (s *MockSession) ErrorMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errorMessage
}

// ConnectCount returns how many times Connect was called.
func (s *MockSession) ConnectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.connected)
}

// Calls returns a copy of the call log.
func (s *MockSession) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.CallLog...)
}
