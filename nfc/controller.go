package nfc

import (
	"log"
	"os"
	"sync"

	"github.com/google/uuid"
)

// Controller drives one hardware polling session at a time and translates its
// events into ReaderState transitions.
//
// Start, Reset and every hardware event are serialized through the
// Dispatcher; state, UID and payload are only touched from dispatched work.
// Observers and error handlers run on the dispatcher context after the
// transition that triggered them has been applied.
type Controller struct {
	reader     Reader
	dispatcher Dispatcher
	logger     *log.Logger
	newID      func() string

	// Owned by the dispatcher context
	state     ReaderState
	result    SessionResult
	session   HardwareSession
	sessionID string
	target    DetectedTag // Tag being connected or read, nil otherwise
	seq       uint64

	handlerMux    sync.Mutex
	errorHandlers []func()
	observers     []observer
	nextObserver  int

	snapMux  sync.RWMutex
	snapshot Snapshot
}

type observer struct {
	id int
	fn func(Snapshot)
}

// NewController creates a controller in the Idle state. A nil dispatcher runs
// work inline on the caller; a nil logger logs to stderr with a [session] prefix.
func NewController(reader Reader, dispatcher Dispatcher, logger *log.Logger) *Controller {
	if dispatcher == nil {
		dispatcher = &InlineDispatcher{}
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[session] ", log.LstdFlags)
	}
	return &Controller{
		reader:     reader,
		dispatcher: dispatcher,
		logger:     logger,
		newID:      uuid.NewString,
		state:      Idle,
		snapshot:   Snapshot{State: Idle},
	}
}

// Start resets any existing session and begins a new one with the given
// prompt. An empty message uses DefaultAlertMessage. The state becomes Active
// once the hardware confirms activation.
func (c *Controller) Start(message string) {
	if message == "" {
		message = DefaultAlertMessage
	}
	c.dispatcher.Dispatch(func() {
		c.start(message)
	})
}

// Reset ends the active session, if any, clears the result and returns to Idle.
func (c *Controller) Reset() {
	c.dispatcher.Dispatch(c.reset)
}

// AddErrorHandler registers fn to be called, in registration order, each time
// a session ends with an error.
func (c *Controller) AddErrorHandler(fn func()) {
	if fn == nil {
		return
	}
	c.handlerMux.Lock()
	defer c.handlerMux.Unlock()
	c.errorHandlers = append(c.errorHandlers, fn)
}

// Observe registers fn to receive one snapshot per transition. The returned
// function unregisters it.
func (c *Controller) Observe(fn func(Snapshot)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	c.handlerMux.Lock()
	c.nextObserver++
	id := c.nextObserver
	c.observers = append(c.observers, observer{id: id, fn: fn})
	c.handlerMux.Unlock()

	return func() {
		c.handlerMux.Lock()
		defer c.handlerMux.Unlock()
		for i, o := range c.observers {
			if o.id == id {
				c.observers = append(c.observers[:i:i], c.observers[i+1:]...)
				return
			}
		}
	}
}

// Snapshot returns the last published state. Safe for use from any goroutine.
func (c *Controller) Snapshot() Snapshot {
	c.snapMux.RLock()
	defer c.snapMux.RUnlock()
	return c.snapshot
}

// State returns the last published reader state.
func (c *Controller) State() ReaderState {
	return c.Snapshot().State
}

// Result returns the last published UID and payload.
func (c *Controller) Result() SessionResult {
	s := c.Snapshot()
	return SessionResult{UID: s.UID, Payload: s.Payload}
}

func (c *Controller) start(message string) {
	c.reset()

	id := c.newID()
	hs, err := c.reader.NewSession(&sessionSink{controller: c, sessionID: id})
	if err != nil {
		c.logger.Printf("Failed to create session: %v", err)
		c.fail(id, NewInvalidatedError(err))
		return
	}

	c.session = hs
	c.sessionID = id
	hs.SetAlertMessage(message)
	c.logger.Printf("Session %s created", id)

	if err := hs.Begin(); err != nil {
		c.logger.Printf("Session %s failed to begin: %v", id, err)
		c.failSession(NewInvalidatedError(err))
	}
}

func (c *Controller) reset() {
	if c.session != nil {
		c.logger.Printf("Invalidating session %s", c.sessionID)
		c.session.Invalidate()
	}
	c.detach()
	c.result = SessionResult{}
	c.state = Idle
	c.publish("")
}

// detach drops the session handle so that its late events are ignored.
func (c *Controller) detach() {
	c.session = nil
	c.sessionID = ""
	c.target = nil
}

// handle applies one hardware event from the session identified by id.
func (c *Controller) handle(id string, ev Event) {
	if c.session == nil || id != c.sessionID {
		c.logger.Printf("Dropping %s from stale session %s", EventName(ev), id)
		return
	}

	switch e := ev.(type) {
	case SessionActivated:
		c.onActivated()
	case TagsDetected:
		c.onTagsDetected(e)
	case ConnectResult:
		c.onConnectResult(e)
	case ReadResult:
		c.onReadResult(e)
	case Invalidated:
		c.onInvalidated(e)
	default:
		c.logger.Printf("Ignoring unknown event %T", ev)
	}
}

func (c *Controller) onActivated() {
	if c.state.Kind() != StateIdle {
		return
	}
	c.state = Active
	c.publish(c.sessionID)
}

func (c *Controller) onTagsDetected(e TagsDetected) {
	if len(e.Tags) == 0 {
		c.logger.Println("Ignoring detection with no tags")
		return
	}
	if c.target != nil {
		c.logger.Printf("Ignoring %d tag(s) while another tag is in progress", len(e.Tags))
		return
	}
	if k := c.state.Kind(); k != StateActive && k != StatePending {
		c.logger.Printf("Ignoring detection in state %s", c.state)
		return
	}

	c.state = Pending
	c.publish(c.sessionID)

	if len(e.Tags) > 1 {
		c.failSession(NewMultipleTagsError(len(e.Tags)))
		return
	}

	tag := e.Tags[0]
	if tag.Family() != SupportedFamily {
		c.failSession(NewUnsupportedTagError(tag.Family()))
		return
	}

	c.target = tag
	c.session.Connect(tag)
}

func (c *Controller) onConnectResult(e ConnectResult) {
	if c.target == nil {
		c.logger.Println("Ignoring connect result with no tag in progress")
		return
	}
	if e.Err != nil {
		c.failSession(NewConnectionError(e.Err))
		return
	}
	c.session.ReadNDEF(c.target)
}

func (c *Controller) onReadResult(e ReadResult) {
	if c.target == nil {
		c.logger.Println("Ignoring read result with no tag in progress")
		return
	}
	if e.Err != nil {
		c.failSession(NewReadError(e.Err))
		return
	}

	payload := e.Message
	if payload == nil {
		payload = &NDEFMessage{}
	}
	c.result = SessionResult{
		UID:     EncodeUID(c.target.Identifier()),
		Payload: payload,
	}
	c.state = Captured

	id := c.sessionID
	hs := c.session
	c.detach()
	hs.Invalidate()
	c.logger.Printf("Session %s captured tag %s", id, c.result.UID)
	c.publish(id)
}

func (c *Controller) onInvalidated(e Invalidated) {
	id := c.sessionID
	c.detach()
	c.fail(id, NewInvalidatedError(e.Err))
}

// failSession ends the current session with err shown to the user.
func (c *Controller) failSession(err *SessionError) {
	id := c.sessionID
	hs := c.session
	c.detach()
	if hs != nil {
		hs.InvalidateWithError(err.Message)
	}
	c.fail(id, err)
}

// fail moves to the Error state and notifies the error handlers.
func (c *Controller) fail(sessionID string, err *SessionError) {
	c.logger.Printf("Session %s failed: %v", sessionID, err)
	c.state = errorStateFrom(err)
	c.publish(sessionID)

	c.handlerMux.Lock()
	handlers := make([]func(), len(c.errorHandlers))
	copy(handlers, c.errorHandlers)
	c.handlerMux.Unlock()

	for _, fn := range handlers {
		fn()
	}
}

func (c *Controller) publish(sessionID string) {
	c.seq++
	snap := Snapshot{
		Seq:       c.seq,
		SessionID: sessionID,
		State:     c.state,
		UID:       c.result.UID,
		Payload:   c.result.Payload,
	}

	c.snapMux.Lock()
	c.snapshot = snap
	c.snapMux.Unlock()

	c.handlerMux.Lock()
	observers := make([]observer, len(c.observers))
	copy(observers, c.observers)
	c.handlerMux.Unlock()

	for _, o := range observers {
		o.fn(snap)
	}
}

// sessionSink forwards events of one hardware session onto the dispatcher.
type sessionSink struct {
	controller *Controller
	sessionID  string
}

func (s *sessionSink) Deliver(ev Event) {
	s.controller.dispatcher.Dispatch(func() {
		s.controller.handle(s.sessionID, ev)
	})
}
