package nfc

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// LibnfcConfig configures a LibnfcReader.
type LibnfcConfig struct {
	DevicePath     string        // libnfc connection string, "" for the first device
	SessionTimeout time.Duration // Polling window, DefaultSessionTimeout when zero
	PollInterval   time.Duration // DefaultPollInterval when zero
	Logger         *log.Logger
	Clock          Clock
}

// LibnfcReader creates sessions on a USB or serial reader through libnfc.
// Each session opens the device on its worker and closes it when it ends. A
// session does not open the device until the previous session's worker has
// closed it, so only one session holds it at a time.
type LibnfcReader struct {
	cfg  LibnfcConfig
	open func(path string) (tagPoller, error)

	mu   sync.Mutex
	last *libnfcSession
}

// NewLibnfcReader creates a reader for the configured device.
func NewLibnfcReader(cfg LibnfcConfig) *LibnfcReader {
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = DefaultSessionTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[libnfc] ", log.LstdFlags)
	}
	if cfg.Clock == nil {
		cfg.Clock = RealClock{}
	}
	return &LibnfcReader{cfg: cfg, open: openLibnfcPoller}
}

func (r *LibnfcReader) NewSession(sink EventSink) (HardwareSession, error) {
	if sink == nil {
		return nil, fmt.Errorf("libnfc: nil event sink")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &libnfcSession{
		cfg:      r.cfg,
		open:     r.open,
		sink:     sink,
		prev:     r.last,
		commands: make(chan libnfcCommand, 4),
		stopChan: make(chan struct{}),
	}
	r.last = s
	return s, nil
}

// Wait blocks until the most recent session has released the device.
func (r *LibnfcReader) Wait() {
	r.mu.Lock()
	last := r.last
	r.mu.Unlock()
	if last != nil {
		last.wait()
	}
}

type commandKind int

const (
	cmdConnect commandKind = iota
	cmdRead
)

type libnfcCommand struct {
	kind commandKind
	tag  DetectedTag
}

// libnfcSession owns the device for its lifetime. The worker goroutine is
// the only one touching the device or tags.
type libnfcSession struct {
	cfg  LibnfcConfig
	open func(path string) (tagPoller, error)
	sink EventSink
	prev *libnfcSession // Must release the device before this session opens it

	mu           sync.Mutex
	alertMessage string
	begun        bool
	closed       bool

	commands chan libnfcCommand
	stopChan chan struct{}
	workerWg sync.WaitGroup
}

func (s *libnfcSession) SetAlertMessage(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alertMessage = message
}

func (s *libnfcSession) Begin() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.begun {
		s.mu.Unlock()
		return fmt.Errorf("libnfc: session already begun")
	}
	s.begun = true
	s.workerWg.Add(1)
	s.mu.Unlock()

	go s.worker()
	return nil
}

func (s *libnfcSession) Connect(tag DetectedTag) {
	s.send(libnfcCommand{kind: cmdConnect, tag: tag})
}

func (s *libnfcSession) ReadNDEF(tag DetectedTag) {
	s.send(libnfcCommand{kind: cmdRead, tag: tag})
}

func (s *libnfcSession) send(cmd libnfcCommand) {
	select {
	case <-s.stopChan:
	case s.commands <- cmd:
	}
}

func (s *libnfcSession) Invalidate() {
	s.stop()
}

func (s *libnfcSession) InvalidateWithError(message string) {
	s.cfg.Logger.Printf("Session ended: %s", message)
	s.stop()
}

func (s *libnfcSession) stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.stopChan)
	s.mu.Unlock()
}

// wait blocks until the worker has closed the device.
func (s *libnfcSession) wait() {
	s.workerWg.Wait()
}

func (s *libnfcSession) worker() {
	defer s.workerWg.Done()

	if s.prev != nil {
		s.prev.wait()
		s.prev = nil
	}
	select {
	case <-s.stopChan:
		return
	default:
	}

	poller, err := s.open(s.cfg.DevicePath)
	if err != nil {
		s.cfg.Logger.Printf("Open failed: %v", err)
		s.stop()
		s.sink.Deliver(Invalidated{Err: err})
		return
	}
	s.cfg.Logger.Printf("Opened %s", poller)

	var connected []polledTag
	defer func() {
		for _, t := range connected {
			t.disconnect()
		}
		if err := poller.Close(); err != nil {
			s.cfg.Logger.Printf("Close %s: %v", poller, err)
		}
	}()

	s.mu.Lock()
	prompt := s.alertMessage
	s.mu.Unlock()
	s.cfg.Logger.Printf("Polling: %s", prompt)
	s.sink.Deliver(SessionActivated{})

	ticker := s.cfg.Clock.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	timeout := s.cfg.Clock.NewTimer(s.cfg.SessionTimeout)
	defer timeout.Stop()

	polling := true
	for {
		select {
		case <-s.stopChan:
			return

		case <-timeout.C():
			s.stop()
			s.sink.Deliver(Invalidated{Err: ErrSessionTimeout})
			return

		case <-ticker.C():
			if !polling {
				continue
			}
			tags, err := poller.Poll()
			if err != nil {
				s.cfg.Logger.Printf("Poll failed: %v", err)
				continue
			}
			if len(tags) == 0 {
				continue
			}
			polling = false
			detected := make([]DetectedTag, len(tags))
			for i, t := range tags {
				detected[i] = t
			}
			s.sink.Deliver(TagsDetected{Tags: detected})

		case cmd := <-s.commands:
			tag, ok := cmd.tag.(polledTag)
			if !ok {
				err := fmt.Errorf("libnfc: tag %T not from this session", cmd.tag)
				s.deliverResult(cmd, err, nil)
				continue
			}
			switch cmd.kind {
			case cmdConnect:
				err := tag.connect()
				if err == nil {
					connected = append(connected, tag)
				}
				s.sink.Deliver(ConnectResult{Tag: tag, Err: err})
			case cmdRead:
				msg, err := tag.readNDEF()
				s.sink.Deliver(ReadResult{Tag: tag, Message: msg, Err: err})
			}
		}
	}
}

func (s *libnfcSession) deliverResult(cmd libnfcCommand, err error, msg *NDEFMessage) {
	if cmd.kind == cmdConnect {
		s.sink.Deliver(ConnectResult{Tag: cmd.tag, Err: err})
		return
	}
	s.sink.Deliver(ReadResult{Tag: cmd.tag, Message: msg, Err: err})
}
