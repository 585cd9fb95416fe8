package nfc

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// SimulatedConfig describes the tag a SimulatedReader presents.
type SimulatedConfig struct {
	UID         []byte        // Identifier of the simulated tag
	Family      TagFamily     // FamilyMiFare when zero
	Tags        int           // Tags reported per detection, 1 when zero
	Message     *NDEFMessage  // Content returned by ReadNDEF
	Delay       time.Duration // Pause before each hardware event
	ConnectErr  error         // Returned from Connect when set
	ReadErr     error         // Returned from ReadNDEF when set
	NeverDetect bool          // Keep polling until the session times out
	Timeout     time.Duration // DefaultSessionTimeout when zero
	Logger      *log.Logger
	Clock       Clock
}

// SimulatedReader is a Reader with no radio. Each session activates, detects
// the configured tag and answers connect and read requests after Delay.
type SimulatedReader struct {
	cfg SimulatedConfig
}

// DefaultSimulatedConfig returns a MIFARE tag holding one text record.
func DefaultSimulatedConfig() SimulatedConfig {
	return SimulatedConfig{
		UID:     []byte{0x04, 0xA1, 0xFF, 0x3C},
		Family:  FamilyMiFare,
		Message: &NDEFMessage{Records: []NDEFRecord{NewTextRecord("hello from tagscan", "en")}},
		Delay:   500 * time.Millisecond,
	}
}

// NewSimulatedReader creates a simulated reader.
func NewSimulatedReader(cfg SimulatedConfig) *SimulatedReader {
	if cfg.Family == FamilyUnknown {
		cfg.Family = FamilyMiFare
	}
	if cfg.Tags <= 0 {
		cfg.Tags = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultSessionTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[simulated] ", log.LstdFlags)
	}
	if cfg.Clock == nil {
		cfg.Clock = RealClock{}
	}
	return &SimulatedReader{cfg: cfg}
}

func (r *SimulatedReader) NewSession(sink EventSink) (HardwareSession, error) {
	if sink == nil {
		return nil, fmt.Errorf("simulated: nil event sink")
	}
	return &simulatedSession{cfg: r.cfg, sink: sink, stopChan: make(chan struct{})}, nil
}

type simulatedSession struct {
	cfg  SimulatedConfig
	sink EventSink

	mu       sync.Mutex
	begun    bool
	closed   bool
	stopChan chan struct{}
	workerWg sync.WaitGroup
}

func (s *simulatedSession) SetAlertMessage(message string) {
	s.cfg.Logger.Printf("Prompt: %s", message)
}

func (s *simulatedSession) Begin() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.begun {
		s.mu.Unlock()
		return fmt.Errorf("simulated: session already begun")
	}
	s.begun = true
	s.mu.Unlock()

	s.later(func() {
		s.sink.Deliver(SessionActivated{})
		if s.cfg.NeverDetect {
			s.runTimeout()
			return
		}
		s.later(func() {
			tags := make([]DetectedTag, s.cfg.Tags)
			for i := range tags {
				id := append([]byte(nil), s.cfg.UID...)
				if i > 0 {
					id = append(id, byte(i))
				}
				tags[i] = &MockTag{UID: id, TagFamily: s.cfg.Family}
			}
			s.sink.Deliver(TagsDetected{Tags: tags})
		})
	})
	return nil
}

func (s *simulatedSession) Connect(tag DetectedTag) {
	s.later(func() {
		s.sink.Deliver(ConnectResult{Tag: tag, Err: s.cfg.ConnectErr})
	})
}

func (s *simulatedSession) ReadNDEF(tag DetectedTag) {
	s.later(func() {
		if s.cfg.ReadErr != nil {
			s.sink.Deliver(ReadResult{Tag: tag, Err: s.cfg.ReadErr})
			return
		}
		s.sink.Deliver(ReadResult{Tag: tag, Message: s.cfg.Message})
	})
}

func (s *simulatedSession) Invalidate() {
	s.stop()
}

func (s *simulatedSession) InvalidateWithError(message string) {
	s.cfg.Logger.Printf("Session ended: %s", message)
	s.stop()
}

func (s *simulatedSession) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.stopChan)
}

// later runs fn after Delay unless the session stops first.
func (s *simulatedSession) later(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.workerWg.Add(1)
	go func() {
		defer s.workerWg.Done()
		if s.cfg.Delay > 0 {
			t := s.cfg.Clock.NewTimer(s.cfg.Delay)
			defer t.Stop()
			select {
			case <-s.stopChan:
				return
			case <-t.C():
			}
		}
		select {
		case <-s.stopChan:
			return
		default:
		}
		fn()
	}()
}

func (s *simulatedSession) runTimeout() {
	t := s.cfg.Clock.NewTimer(s.cfg.Timeout)
	defer t.Stop()
	select {
	case <-s.stopChan:
	case <-t.C():
		s.stop()
		s.sink.Deliver(Invalidated{Err: ErrSessionTimeout})
	}
}
