package nfc

import (
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"
)

// eventLog is an EventSink recording everything delivered to it.
type eventLog struct {
	mu     sync.Mutex
	events []Event
	ch     chan Event
}

func newEventLog() *eventLog {
	return &eventLog{ch: make(chan Event, 16)}
}

func (l *eventLog) Deliver(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
	l.ch <- ev
}

func (l *eventLog) next(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-l.ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

type fakePoller struct {
	mu     sync.Mutex
	tags   []polledTag
	err    error
	polls  int
	closed bool
}

func (p *fakePoller) Poll() ([]polledTag, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.polls++
	return p.tags, p.err
}

func (p *fakePoller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePoller) String() string { return "fake:001" }

func (p *fakePoller) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type fakePolledTag struct {
	MockTag
	connectErr   error
	msg          *NDEFMessage
	readErr      error
	disconnected bool
}

func (t *fakePolledTag) connect() error                  { return t.connectErr }
func (t *fakePolledTag) readNDEF() (*NDEFMessage, error) { return t.msg, t.readErr }
func (t *fakePolledTag) disconnect()                     { t.disconnected = true }

func newTestLibnfcReader(poller *fakePoller, clock Clock) *LibnfcReader {
	r := NewLibnfcReader(LibnfcConfig{
		SessionTimeout: 10 * time.Second,
		PollInterval:   100 * time.Millisecond,
		Logger:         log.New(io.Discard, "", 0),
		Clock:          clock,
	})
	r.open = func(string) (tagPoller, error) { return poller, nil }
	return r
}

// advanceUntil steps the fake clock by d until the session emits an event.
func advanceUntil(t *testing.T, clock *FakeClock, events *eventLog, d time.Duration) Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		clock.Advance(d)
		select {
		case ev := <-events.ch:
			return ev
		case <-time.After(5 * time.Millisecond):
		}
	}
	t.Fatal("timed out advancing clock")
	return nil
}

func TestLibnfcSession_DetectConnectRead(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))
	tag := &fakePolledTag{
		MockTag: MockTag{UID: []byte{0x04, 0x11}, TagFamily: FamilyMiFare},
		msg:     &NDEFMessage{Records: []NDEFRecord{NewTextRecord("hi", "en")}},
	}
	poller := &fakePoller{tags: []polledTag{tag}}
	events := newEventLog()

	hs, err := newTestLibnfcReader(poller, clock).NewSession(events)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	hs.SetAlertMessage("scan")
	if err := hs.Begin(); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}

	if _, ok := events.next(t).(SessionActivated); !ok {
		t.Fatal("first event is not SessionActivated")
	}

	ev := advanceUntil(t, clock, events, 100*time.Millisecond)
	detected, ok := ev.(TagsDetected)
	if !ok || len(detected.Tags) != 1 {
		t.Fatalf("event = %#v, want one detected tag", ev)
	}

	hs.Connect(detected.Tags[0])
	cr, ok := events.next(t).(ConnectResult)
	if !ok || cr.Err != nil {
		t.Fatalf("connect result = %#v", cr)
	}

	hs.ReadNDEF(detected.Tags[0])
	rr, ok := events.next(t).(ReadResult)
	if !ok || rr.Err != nil || rr.Message.Len() != 1 {
		t.Fatalf("read result = %#v", rr)
	}

	hs.Invalidate()
	hs.(*libnfcSession).wait()
	if !poller.isClosed() {
		t.Error("device not closed after Invalidate")
	}
	if !tag.disconnected {
		t.Error("connected tag not disconnected")
	}
}

func TestLibnfcSession_Timeout(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))
	poller := &fakePoller{}
	events := newEventLog()

	hs, _ := newTestLibnfcReader(poller, clock).NewSession(events)
	if err := hs.Begin(); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	events.next(t)

	ev := advanceUntil(t, clock, events, 11*time.Second)
	inv, ok := ev.(Invalidated)
	if !ok || !errors.Is(inv.Err, ErrSessionTimeout) {
		t.Fatalf("event = %#v, want Invalidated(timeout)", ev)
	}
	hs.(*libnfcSession).wait()
	if !poller.isClosed() {
		t.Error("device not closed after timeout")
	}
}

func TestLibnfcSession_OpenFailure(t *testing.T) {
	r := NewLibnfcReader(LibnfcConfig{Logger: log.New(io.Discard, "", 0)})
	r.open = func(string) (tagPoller, error) { return nil, ErrNoDevice }

	events := newEventLog()
	hs, _ := r.NewSession(events)
	if err := hs.Begin(); err != nil {
		t.Fatalf("Begin() error = %v, want the failure as an event", err)
	}
	inv, ok := events.next(t).(Invalidated)
	if !ok || !errors.Is(inv.Err, ErrNoDevice) {
		t.Fatalf("event = %#v, want Invalidated(ErrNoDevice)", inv)
	}
	r.Wait()
}

// exclusiveDevice refuses to open while a session still holds it, like a
// USB reader claimed by another handle.
type exclusiveDevice struct {
	mu      sync.Mutex
	held    bool
	opens   int
	polling chan struct{}
}

func (d *exclusiveDevice) open(string) (tagPoller, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.held {
		return nil, errors.New("device busy")
	}
	d.held = true
	d.opens++
	return &exclusivePoller{dev: d}, nil
}

func (d *exclusiveDevice) isHeld() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.held
}

type exclusivePoller struct {
	dev  *exclusiveDevice
	once sync.Once
}

// Poll is slow the first time so a new session starts while it runs.
func (p *exclusivePoller) Poll() ([]polledTag, error) {
	p.once.Do(func() {
		select {
		case p.dev.polling <- struct{}{}:
		default:
		}
		time.Sleep(50 * time.Millisecond)
	})
	return nil, nil
}

func (p *exclusivePoller) Close() error {
	p.dev.mu.Lock()
	defer p.dev.mu.Unlock()
	p.dev.held = false
	return nil
}

func (p *exclusivePoller) String() string { return "exclusive:001" }

func TestLibnfcReader_RestartWhilePolling(t *testing.T) {
	tests := []struct {
		name    string
		restart func(ctrl *Controller)
	}{
		{"start again", func(ctrl *Controller) { ctrl.Start("") }},
		{"reset then start", func(ctrl *Controller) { ctrl.Reset(); ctrl.Start("") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := &exclusiveDevice{polling: make(chan struct{}, 1)}
			r := NewLibnfcReader(LibnfcConfig{
				SessionTimeout: 10 * time.Second,
				PollInterval:   5 * time.Millisecond,
				Logger:         log.New(io.Discard, "", 0),
			})
			r.open = dev.open

			queue := NewMainQueue(log.New(io.Discard, "", 0))
			queue.Start()
			defer queue.Stop()
			ctrl := NewController(r, queue, log.New(io.Discard, "", 0))

			snaps := make(chan Snapshot, 32)
			ctrl.Observe(func(s Snapshot) { snaps <- s })
			next := func() Snapshot {
				t.Helper()
				select {
				case s := <-snaps:
					return s
				case <-time.After(2 * time.Second):
					t.Fatal("timed out waiting for a transition")
					return Snapshot{}
				}
			}

			ctrl.Start("")
			for s := next(); !s.State.Equal(Active); s = next() {
			}
			select {
			case <-dev.polling:
			case <-time.After(2 * time.Second):
				t.Fatal("first session never polled")
			}

			tt.restart(ctrl)
			s := next()
			for s.State.Equal(Idle) {
				s = next()
			}
			if !s.State.Equal(Active) {
				t.Fatalf("state after restart = %v, want active", s.State)
			}

			dev.mu.Lock()
			opens := dev.opens
			dev.mu.Unlock()
			if opens != 2 {
				t.Errorf("device opened %d times, want 2", opens)
			}

			ctrl.Reset()
			r.Wait()
			if dev.isHeld() {
				t.Error("device still held after Reset")
			}
		})
	}
}

func TestLibnfcSession_BeginAfterInvalidate(t *testing.T) {
	r := newTestLibnfcReader(&fakePoller{}, NewFakeClock(time.Unix(0, 0)))
	hs, _ := r.NewSession(newEventLog())
	hs.Invalidate()
	if err := hs.Begin(); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Begin() error = %v, want ErrSessionClosed", err)
	}
}

func TestSimulatedReader_CapturesThroughController(t *testing.T) {
	cfg := DefaultSimulatedConfig()
	cfg.Delay = 0
	cfg.Logger = log.New(io.Discard, "", 0)
	reader := NewSimulatedReader(cfg)

	queue := NewMainQueue(log.New(io.Discard, "", 0))
	queue.Start()
	defer queue.Stop()
	ctrl := NewController(reader, queue, log.New(io.Discard, "", 0))

	captured := make(chan Snapshot, 1)
	ctrl.Observe(func(s Snapshot) {
		if s.State.Kind() == StateCaptured || s.State.IsError() {
			captured <- s
		}
	})
	ctrl.Start("")

	select {
	case s := <-captured:
		if !s.State.Equal(Captured) {
			t.Fatalf("state = %v, want captured", s.State)
		}
		if s.UID != "04a1ff3c" {
			t.Errorf("uid = %q, want 04a1ff3c", s.UID)
		}
		if text, _ := s.Payload.FirstText(); text != "hello from tagscan" {
			t.Errorf("payload text = %q", text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for capture")
	}
}

func TestSimulatedReader_Failures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SimulatedConfig)
		want   ReaderState
	}{
		{"two tags", func(c *SimulatedConfig) { c.Tags = 2 }, ErrorState(MessageMultipleTags)},
		{"connect error", func(c *SimulatedConfig) { c.ConnectErr = errors.New("lost") }, ErrorState(MessageConnectionFailed)},
		{"read error", func(c *SimulatedConfig) { c.ReadErr = errors.New("Tag is read protected") }, ErrorState("Tag is read protected")},
		{"felica", func(c *SimulatedConfig) { c.Family = FamilyFeliCa }, ErrorState(MessageUnsupportedTag)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultSimulatedConfig()
			cfg.Delay = 0
			cfg.Logger = log.New(io.Discard, "", 0)
			tt.mutate(&cfg)

			queue := NewMainQueue(log.New(io.Discard, "", 0))
			queue.Start()
			defer queue.Stop()
			ctrl := NewController(NewSimulatedReader(cfg), queue, log.New(io.Discard, "", 0))

			failed := make(chan struct{}, 1)
			ctrl.AddErrorHandler(func() { failed <- struct{}{} })
			ctrl.Start("")

			select {
			case <-failed:
			case <-time.After(2 * time.Second):
				t.Fatal("timed out waiting for error")
			}
			if got := ctrl.State(); !got.Equal(tt.want) {
				t.Errorf("state = %v, want %v", got, tt.want)
			}
		})
	}
}
