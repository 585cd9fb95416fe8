package certs

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/nedpals/nfc-tagscan/buildinfo"
)

// BootstrapServer serves the root CA over plain HTTP, so a phone can install
// it before connecting to the agent over TLS.
type BootstrapServer struct {
	manager *Manager
	addr    string
	logger  *log.Logger

	httpServer *http.Server
	listener   net.Listener
}

// NewBootstrapServer creates a bootstrap server listening on addr.
func NewBootstrapServer(manager *Manager, addr string, logger *log.Logger) *BootstrapServer {
	if logger == nil {
		logger = log.New(os.Stderr, "[bootstrap] ", log.LstdFlags)
	}
	return &BootstrapServer{manager: manager, addr: addr, logger: logger}
}

// Handler returns the bootstrap routes: the CA at /ca.pem and /ca.crt, and an
// install page at /.
func (s *BootstrapServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ca.pem", s.handleCACert)
	mux.HandleFunc("/ca.crt", s.handleCACert)
	mux.HandleFunc("/", s.handleInstructions)
	return mux
}

// Start listens and serves in the background.
func (s *BootstrapServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("bootstrap listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{Handler: s.Handler()}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Bootstrap server error: %v", err)
		}
	}()

	s.logger.Printf("CA available at %s", s.URL())
	if fp, err := s.manager.Fingerprint(); err == nil {
		s.logger.Printf("CA fingerprint (SHA256): %s", fp)
	}
	return nil
}

// URL returns the install page address on the primary LAN host.
func (s *BootstrapServer) URL() string {
	if s.listener == nil {
		return ""
	}
	_, port, _ := net.SplitHostPort(s.listener.Addr().String())
	return fmt.Sprintf("http://%s/", net.JoinHostPort(PrimaryHost(), port))
}

func (s *BootstrapServer) Stop() {
	if s.httpServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.httpServer.Shutdown(ctx)
}

func (s *BootstrapServer) handleCACert(w http.ResponseWriter, r *http.Request) {
	data, err := s.manager.CACert()
	if err != nil {
		http.Error(w, "CA certificate not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/x-pem-file")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", buildinfo.Name+"-ca.pem"))
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Write(data)

	s.logger.Printf("CA certificate downloaded by %s", r.RemoteAddr)
}

var installPage = template.Must(template.New("install").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Name}} - Install CA Certificate</title>
<style>
body { font-family: -apple-system, sans-serif; max-width: 560px; margin: 0 auto; padding: 20px; }
.fp { font-family: monospace; font-size: 0.8em; word-break: break-all; background: #f0f0f0; padding: 10px; }
a.btn { display: inline-block; background: #007AFF; color: #fff; padding: 12px 24px; border-radius: 8px; text-decoration: none; }
</style>
</head>
<body>
<h1>Install CA Certificate</h1>
<p>Install this certificate authority to connect your phone to {{.Name}} securely.</p>
<p><a class="btn" href="/ca.pem">Download CA Certificate</a></p>
<p>Check that the fingerprint matches the one in the {{.Name}} logs before trusting it.</p>
<div class="fp">{{.Fingerprint}}</div>
<h2>iOS</h2>
<ol>
<li>Download the certificate and open Settings, Profile Downloaded.</li>
<li>Tap Install.</li>
<li>Enable it under General, About, Certificate Trust Settings.</li>
</ol>
<h2>Android</h2>
<ol>
<li>Download the certificate.</li>
<li>Open Settings, Security, Encryption &amp; credentials, Install a certificate, CA certificate.</li>
<li>Select the downloaded file.</li>
</ol>
</body>
</html>
`))

func (s *BootstrapServer) handleInstructions(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	fp, err := s.manager.Fingerprint()
	if err != nil {
		fp = "unavailable"
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	installPage.Execute(w, struct{ Name, Fingerprint string }{buildinfo.DisplayName, fp})
}
