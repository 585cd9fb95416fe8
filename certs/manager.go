package certs

import (
	"bufio"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/jittering/truststore"
)

// Issuer installs a root CA and signs server certificates with it.
type Issuer interface {
	Install() error
	MakeCert(hosts []string, dir string) (certFile, keyFile string, err error)
}

// truststoreIssuer is the mkcert-style CA from jittering/truststore. The CA
// lives under CAROOT, which is pointed at caDir before the library starts.
type truststoreIssuer struct {
	caDir    string
	install  func() error
	makeCert func(hosts []string, dir string) (string, string, error)
}

func (i *truststoreIssuer) init() error {
	if i.install != nil {
		return nil
	}
	if err := os.Setenv("CAROOT", i.caDir); err != nil {
		return err
	}
	lib, err := truststore.NewLib()
	if err != nil {
		return fmt.Errorf("failed to initialize truststore: %w", err)
	}
	i.install = lib.Install
	i.makeCert = func(hosts []string, dir string) (string, string, error) {
		cert, err := lib.MakeCert(hosts, dir)
		if err != nil {
			return "", "", err
		}
		return cert.CertFile, cert.KeyFile, nil
	}
	return nil
}

func (i *truststoreIssuer) Install() error {
	if err := i.init(); err != nil {
		return err
	}
	return i.install()
}

func (i *truststoreIssuer) MakeCert(hosts []string, dir string) (string, string, error) {
	if err := i.init(); err != nil {
		return "", "", err
	}
	return i.makeCert(hosts, dir)
}

// Config configures a Manager.
type Config struct {
	Dir    string                   // Base directory; certificates go in Dir/tls, the CA in Dir/ca
	Hosts  func() ([]string, error) // Hosts when nil
	Issuer Issuer                   // The truststore CA when nil
	Logger *log.Logger
}

// Manager keeps a server certificate for the current network addresses,
// regenerating it when they change.
type Manager struct {
	tlsDir    string
	caDir     string
	caFile    string
	certFile  string
	keyFile   string
	hostsFile string
	hosts     func() ([]string, error)
	issuer    Issuer
	logger    *log.Logger
}

// NewManager creates a manager storing its files under cfg.Dir.
func NewManager(cfg Config) *Manager {
	m := &Manager{
		tlsDir: filepath.Join(cfg.Dir, "tls"),
		caDir:  filepath.Join(cfg.Dir, "ca"),
		hosts:  cfg.Hosts,
		issuer: cfg.Issuer,
		logger: cfg.Logger,
	}
	m.caFile = filepath.Join(m.caDir, "rootCA.pem")
	m.certFile = filepath.Join(m.tlsDir, "server.crt")
	m.keyFile = filepath.Join(m.tlsDir, "server.key")
	m.hostsFile = filepath.Join(m.tlsDir, "hosts.txt")

	if m.hosts == nil {
		m.hosts = Hosts
	}
	if m.issuer == nil {
		m.issuer = &truststoreIssuer{caDir: m.caDir}
	}
	if m.logger == nil {
		m.logger = log.New(os.Stderr, "[tls] ", log.LstdFlags)
	}
	return m
}

// Ensure returns the certificate and key files, issuing them first when they
// are missing or the host list changed. Installing the CA may prompt for the
// user's password.
func (m *Manager) Ensure() (certFile, keyFile string, err error) {
	if err := os.MkdirAll(m.tlsDir, 0o700); err != nil {
		return "", "", fmt.Errorf("failed to create TLS directory: %w", err)
	}

	hosts, err := m.hosts()
	if err != nil {
		m.logger.Printf("Warning: failed to get LAN addresses: %v", err)
	}

	switch {
	case !m.certsExist():
		m.logger.Println("Certificates not found, generating...")
	case m.hostsChanged(hosts):
		m.logger.Println("Network addresses changed, regenerating certificates...")
	default:
		return m.certFile, m.keyFile, nil
	}

	if err := m.issue(hosts); err != nil {
		return "", "", err
	}
	return m.certFile, m.keyFile, nil
}

func (m *Manager) issue(hosts []string) error {
	if err := os.MkdirAll(m.caDir, 0o700); err != nil {
		return fmt.Errorf("failed to create CA directory: %w", err)
	}

	m.logger.Println("Installing CA in the system trust store (you may be prompted for your password)")
	if err := m.issuer.Install(); err != nil {
		return fmt.Errorf("failed to install CA: %w", err)
	}

	m.logger.Printf("Generating certificate for %v", hosts)
	certFile, keyFile, err := m.issuer.MakeCert(hosts, m.tlsDir)
	if err != nil {
		return fmt.Errorf("failed to generate certificate: %w", err)
	}
	if err := moveFile(certFile, m.certFile); err != nil {
		return fmt.Errorf("failed to store certificate: %w", err)
	}
	if err := moveFile(keyFile, m.keyFile); err != nil {
		return fmt.Errorf("failed to store key: %w", err)
	}

	if err := m.writeHosts(hosts); err != nil {
		m.logger.Printf("Warning: failed to cache hosts: %v", err)
	}
	if fp, err := m.Fingerprint(); err == nil {
		m.logger.Printf("CA fingerprint (SHA256): %s", fp)
	}
	return nil
}

func moveFile(from, to string) error {
	if from == to {
		return nil
	}
	return os.Rename(from, to)
}

func (m *Manager) certsExist() bool {
	_, certErr := os.Stat(m.certFile)
	_, keyErr := os.Stat(m.keyFile)
	return certErr == nil && keyErr == nil
}

// hostsChanged compares hosts, ignoring order, with the list the current
// certificate was issued for.
func (m *Manager) hostsChanged(hosts []string) bool {
	cached, err := m.readHosts()
	if err != nil {
		return true
	}
	a := slices.Clone(cached)
	b := slices.Clone(hosts)
	slices.Sort(a)
	slices.Sort(b)
	return !slices.Equal(a, b)
}

func (m *Manager) readHosts() ([]string, error) {
	f, err := os.Open(m.hostsFile)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var hosts []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if host := strings.TrimSpace(scanner.Text()); host != "" {
			hosts = append(hosts, host)
		}
	}
	return hosts, scanner.Err()
}

func (m *Manager) writeHosts(hosts []string) error {
	return os.WriteFile(m.hostsFile, []byte(strings.Join(hosts, "\n")+"\n"), 0o600)
}

// CACert returns the PEM-encoded root CA.
func (m *Manager) CACert() ([]byte, error) {
	return os.ReadFile(m.caFile)
}

// Fingerprint returns the SHA-256 fingerprint of the root CA as
// colon-separated uppercase hex.
func (m *Manager) Fingerprint() (string, error) {
	data, err := m.CACert()
	if err != nil {
		return "", fmt.Errorf("failed to read CA certificate: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return "", errors.New("failed to decode PEM block")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return "", fmt.Errorf("failed to parse certificate: %w", err)
	}

	sum := sha256.Sum256(cert.Raw)
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":"), nil
}

// CAFile returns the path of the root CA certificate.
func (m *Manager) CAFile() string { return m.caFile }
