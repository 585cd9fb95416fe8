package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"sync"

	"github.com/nedpals/nfc-tagscan/certs"
	"github.com/nedpals/nfc-tagscan/nfc"
	"github.com/nedpals/nfc-tagscan/nfc/phonenfc"
	"github.com/nedpals/nfc-tagscan/server"
)

// Agent wires the configured reader backend to a session controller and
// exposes it over the server.
type Agent struct {
	Config    Config
	LogOutput io.Writer // Stderr when nil
	Logger    *log.Logger

	mu         sync.Mutex
	queue      *nfc.MainQueue
	controller *nfc.Controller
	server     *server.Server
	libnfc     *nfc.LibnfcReader
	phones     *phonenfc.Manager
	bootstrap  *certs.BootstrapServer
}

// NewAgent creates an agent for cfg. Nothing runs until Start.
func NewAgent(cfg Config, logOutput io.Writer) *Agent {
	if logOutput == nil {
		logOutput = os.Stderr
	}
	return &Agent{
		Config:    cfg,
		LogOutput: logOutput,
		Logger:    log.New(logOutput, "[agent] ", log.LstdFlags),
	}
}

func (a *Agent) logger(prefix string) *log.Logger {
	return log.New(a.LogOutput, "["+prefix+"] ", log.LstdFlags)
}

// newReader builds the reader backend. The smartphone backend also returns
// the handler that accepts phone connections.
func (a *Agent) newReader() (nfc.Reader, []server.ServerHandler, error) {
	cfg := a.Config
	switch cfg.Backend {
	case BackendLibnfc:
		a.libnfc = nfc.NewLibnfcReader(nfc.LibnfcConfig{
			DevicePath:     cfg.Device,
			SessionTimeout: cfg.SessionTimeout,
			PollInterval:   cfg.PollInterval,
			Logger:         a.logger("libnfc"),
		})
		return a.libnfc, nil, nil

	case BackendSmartphone:
		a.phones = phonenfc.NewManager(phonenfc.Config{Logger: a.logger("smartphone")})
		return a.phones, []server.ServerHandler{a.phones}, nil

	case BackendSimulated:
		sim := nfc.DefaultSimulatedConfig()
		sim.Timeout = cfg.SessionTimeout
		sim.Logger = a.logger("simulated")
		return nfc.NewSimulatedReader(sim), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

// Start builds the backend, the controller and the server, and starts serving.
func (a *Agent) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.controller != nil {
		return errors.New("agent is already running")
	}

	reader, handlers, err := a.newReader()
	if err != nil {
		return err
	}

	serverConfig := server.Config{
		Port:       a.Config.Port,
		Addr:       a.Config.ListenAddr(),
		APISecret:  a.Config.APISecret,
		EnableMDNS: a.Config.MDNS,
		Handlers:   handlers,
		Logger:     a.logger("server"),
	}
	if a.Config.TLS {
		if err := a.setupTLS(&serverConfig); err != nil {
			a.closeBackend()
			return err
		}
	}

	queue := nfc.NewMainQueue(a.logger("session"))
	queue.Start()
	controller := nfc.NewController(reader, queue, a.logger("session"))
	serverConfig.Controller = controller

	srv := server.New(serverConfig)
	if err := srv.Start(); err != nil {
		queue.Stop()
		a.stopBootstrap()
		a.closeBackend()
		return err
	}

	a.queue = queue
	a.controller = controller
	a.server = srv
	a.Logger.Printf("Agent running with %s backend on %s", a.Config.Backend, a.urlLocked())
	return nil
}

// setupTLS issues the certificate and starts the CA bootstrap server.
func (a *Agent) setupTLS(serverConfig *server.Config) error {
	if a.Config.ConfigDir == "" {
		return errors.New("TLS needs a config directory for its certificates")
	}
	manager := certs.NewManager(certs.Config{
		Dir:    a.Config.ConfigDir,
		Logger: a.logger("tls"),
	})
	certFile, keyFile, err := manager.Ensure()
	if err != nil {
		return fmt.Errorf("TLS setup failed: %w", err)
	}
	serverConfig.CertFile = certFile
	serverConfig.KeyFile = keyFile

	if a.Config.BootstrapPort > 0 {
		bs := certs.NewBootstrapServer(manager, fmt.Sprintf(":%d", a.Config.BootstrapPort), a.logger("bootstrap"))
		if err := bs.Start(); err != nil {
			a.Logger.Printf("Warning: CA bootstrap server unavailable: %v", err)
		} else {
			a.bootstrap = bs
		}
	}
	return nil
}

// Stop shuts everything down. It is safe to call when not running.
func (a *Agent) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.controller == nil {
		return
	}
	a.Logger.Println("Stopping agent...")

	a.server.Stop()
	a.stopBootstrap()

	// Invalidate a session left running, then let the queue drain.
	a.controller.Reset()
	a.queue.Stop()
	a.closeBackend()

	a.server = nil
	a.controller = nil
	a.queue = nil
	a.Logger.Println("Agent stopped")
}

func (a *Agent) stopBootstrap() {
	if a.bootstrap != nil {
		a.bootstrap.Stop()
		a.bootstrap = nil
	}
}

func (a *Agent) closeBackend() {
	if a.libnfc != nil {
		// The last session closes the device on its own worker.
		a.libnfc.Wait()
		a.libnfc = nil
	}
	if a.phones != nil {
		a.phones.Close()
		a.phones = nil
	}
}

// Controller returns the running session controller, nil when stopped.
func (a *Agent) Controller() *nfc.Controller {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.controller
}

// Addr returns the server's listen address, "" when stopped.
func (a *Agent) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server == nil {
		return ""
	}
	return a.server.Addr()
}

// URL returns the WebSocket URL UI clients connect to on the LAN.
func (a *Agent) URL() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.urlLocked()
}

// BootstrapURL returns the CA install page, "" when not serving it.
func (a *Agent) BootstrapURL() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.bootstrap == nil {
		return ""
	}
	return a.bootstrap.URL()
}

func (a *Agent) urlLocked() string {
	if a.server == nil {
		return ""
	}
	scheme := "ws"
	if a.server.TLSEnabled() {
		scheme = "wss"
	}
	_, port, err := net.SplitHostPort(a.server.Addr())
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%s://%s%s", scheme, net.JoinHostPort(certs.PrimaryHost(), port), server.RouteWS)
}
