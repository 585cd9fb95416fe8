package phonenfc

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/nedpals/nfc-tagscan/nfc"
	"github.com/nedpals/nfc-tagscan/protocol"
)

// session is one reader session run remotely on a phone. Commands go out as
// websocket envelopes; the phone's replies come back through the Handler and
// are delivered to the sink.
type session struct {
	id     string
	device *Device
	sink   nfc.EventSink
	logger *log.Logger

	mu     sync.Mutex
	alert  string
	begun  bool
	closed bool
	tags   []*Tag // Tags of the latest detection
}

var _ nfc.HardwareSession = (*session)(nil)

func (s *session) SetAlertMessage(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alert = message
}

func (s *session) Begin() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nfc.ErrSessionClosed
	}
	if s.begun {
		s.mu.Unlock()
		return fmt.Errorf("session %s already begun", s.id)
	}
	s.begun = true
	alert := s.alert
	s.mu.Unlock()

	if err := s.device.attach(s); err != nil {
		s.markClosed()
		return err
	}
	payload := protocol.BeginSessionPayload{SessionID: s.id, AlertMessage: alert}
	if err := s.device.send(protocol.TypeBeginSession, payload); err != nil {
		s.device.detach(s)
		s.markClosed()
		return fmt.Errorf("failed to begin session on %s: %w", s.device, err)
	}

	s.logger.Printf("Session %s started on %s", s.id, s.device)
	return nil
}

func (s *session) Connect(tag nfc.DetectedTag) {
	s.command(protocol.TypeConnectTag, tag)
}

func (s *session) ReadNDEF(tag nfc.DetectedTag) {
	s.command(protocol.TypeReadNDEF, tag)
}

func (s *session) Invalidate() {
	s.close("")
}

func (s *session) InvalidateWithError(message string) {
	s.close(message)
}

// command sends a tag command. Failures to reach the phone are reported as
// the command's result.
func (s *session) command(messageType string, tag nfc.DetectedTag) {
	if s.isClosed() {
		return
	}

	t, ok := tag.(*Tag)
	if !ok {
		s.commandFailed(messageType, tag, fmt.Errorf("tag was not detected by %s", s.device))
		return
	}

	payload := protocol.TagCommandPayload{SessionID: s.id, TagIndex: t.index}
	if err := s.device.send(messageType, payload); err != nil {
		s.logger.Printf("Failed to send %s to %s: %v", messageType, s.device, err)
		s.commandFailed(messageType, tag, err)
	}
}

func (s *session) commandFailed(messageType string, tag nfc.DetectedTag, err error) {
	if messageType == protocol.TypeConnectTag {
		s.sink.Deliver(nfc.ConnectResult{Tag: tag, Err: err})
		return
	}
	s.sink.Deliver(nfc.ReadResult{Tag: tag, Err: err})
}

func (s *session) close(message string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	begun := s.begun
	s.mu.Unlock()

	s.device.detach(s)
	if !begun {
		return
	}

	payload := protocol.InvalidateSessionPayload{SessionID: s.id, ErrorMessage: message}
	if err := s.device.send(protocol.TypeInvalidateSession, payload); err != nil && !errors.Is(err, ErrDeviceDisconnected) {
		s.logger.Printf("Failed to invalidate session %s on %s: %v", s.id, s.device, err)
	}
}

// lost ends the session because the phone is gone.
func (s *session) lost(err error) {
	if !s.markClosed() {
		return
	}
	s.logger.Printf("Session %s lost: %v", s.id, err)
	s.sink.Deliver(nfc.Invalidated{Err: err})
}

// markClosed reports whether it closed the session.
func (s *session) markClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	return true
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *session) tagAt(index int) *Tag {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tags {
		if t.index == index {
			return t
		}
	}
	return nil
}

func (s *session) onActive() {
	if s.isClosed() {
		return
	}
	s.sink.Deliver(nfc.SessionActivated{})
}

func (s *session) onTagsDetected(p protocol.TagsDetectedPayload) {
	tags := convertTags(p.Tags, s.logger)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.tags = tags
	s.mu.Unlock()

	detected := make([]nfc.DetectedTag, len(tags))
	for i, t := range tags {
		detected[i] = t
	}
	s.sink.Deliver(nfc.TagsDetected{Tags: detected})
}

func (s *session) onConnectResult(p protocol.ConnectResultPayload) {
	if s.isClosed() {
		return
	}
	tag := s.tagAt(p.TagIndex)
	if tag == nil {
		s.logger.Printf("Dropping connect result for unknown tag %d", p.TagIndex)
		return
	}
	s.sink.Deliver(nfc.ConnectResult{Tag: tag, Err: phoneError(p.Error)})
}

func (s *session) onReadResult(p protocol.ReadResultPayload) {
	if s.isClosed() {
		return
	}
	tag := s.tagAt(p.TagIndex)
	if tag == nil {
		s.logger.Printf("Dropping read result for unknown tag %d", p.TagIndex)
		return
	}

	if err := phoneError(p.Error); err != nil {
		s.sink.Deliver(nfc.ReadResult{Tag: tag, Err: err})
		return
	}
	msg, err := convertRecords(p.Records)
	s.sink.Deliver(nfc.ReadResult{Tag: tag, Message: msg, Err: err})
}

func (s *session) onInvalidated(p protocol.SessionEventPayload) {
	if !s.markClosed() {
		return
	}
	s.device.detach(s)
	s.sink.Deliver(nfc.Invalidated{Err: phoneError(p.Error)})
}
