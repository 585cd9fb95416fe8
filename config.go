package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/nedpals/nfc-tagscan/buildinfo"
	"github.com/nedpals/nfc-tagscan/nfc"
	"github.com/nedpals/nfc-tagscan/server"
)

// Reader backends
const (
	BackendLibnfc     = "libnfc"
	BackendSmartphone = "smartphone"
	BackendSimulated  = "simulated"
)

// EnvPrefix prefixes every environment variable read into Config.
const EnvPrefix = "TAGSCAN_"

const defaultBootstrapPort = 18081

// Config is the agent configuration. Values are layered: defaults, then the
// YAML file, then TAGSCAN_* environment variables, then flags that were set
// on the command line.
type Config struct {
	Backend        string        `yaml:"backend" env:"BACKEND"`
	Device         string        `yaml:"device" env:"DEVICE"`
	Port           int           `yaml:"port" env:"PORT"`
	Listen         string        `yaml:"listen" env:"LISTEN"` // Overrides ":<port>"
	APISecret      string        `yaml:"apiSecret" env:"API_SECRET"`
	AlertMessage   string        `yaml:"message" env:"MESSAGE"`
	SessionTimeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	PollInterval   time.Duration `yaml:"pollInterval" env:"POLL_INTERVAL"`
	MDNS           bool          `yaml:"mdns" env:"MDNS"`
	TLS            bool          `yaml:"tls" env:"TLS"`
	BootstrapPort  int           `yaml:"bootstrapPort" env:"BOOTSTRAP_PORT"` // CA download port when TLS is on, 0 disables
	CLI            bool          `yaml:"cli" env:"CLI"`
	LogFile        string        `yaml:"logFile" env:"LOG_FILE"`
	ConfigDir      string        `yaml:"-" env:"CONFIG_DIR"` // Holds config.yaml and the TLS material
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	dir := ""
	if base, err := os.UserConfigDir(); err == nil {
		dir = filepath.Join(base, buildinfo.DirName)
	}
	return Config{
		Backend:        BackendLibnfc,
		Port:           server.DefaultPort,
		AlertMessage:   nfc.DefaultAlertMessage,
		SessionTimeout: nfc.DefaultSessionTimeout,
		PollInterval:   nfc.DefaultPollInterval,
		MDNS:           true,
		BootstrapPort:  defaultBootstrapPort,
		ConfigDir:      dir,
	}
}

// ListenAddr returns the address the server binds.
func (c Config) ListenAddr() string {
	if c.Listen != "" {
		return c.Listen
	}
	return fmt.Sprintf(":%d", c.Port)
}

// Validate checks the values that have a fixed domain.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendLibnfc, BackendSmartphone, BackendSimulated:
	default:
		return fmt.Errorf("invalid backend %q (must be %s, %s or %s)", c.Backend, BackendLibnfc, BackendSmartphone, BackendSimulated)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.BootstrapPort < 0 || c.BootstrapPort > 65535 {
		return fmt.Errorf("invalid bootstrap port %d", c.BootstrapPort)
	}
	if c.SessionTimeout < 0 || c.PollInterval < 0 {
		return errors.New("timeout and poll interval must not be negative")
	}
	return nil
}

// Options is the parsed command line.
type Options struct {
	Config      Config
	ConfigPath  string // File that was loaded, "" when none
	ShowVersion bool
}

// ParseOptions builds the configuration from args and the environment.
// It returns pflag.ErrHelp when --help was given.
func ParseOptions(args []string) (Options, error) {
	var opts Options
	var cli Config
	defaults := DefaultConfig()

	flags := pflag.NewFlagSet(buildinfo.Name, pflag.ContinueOnError)
	flags.StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML config file")
	flags.BoolVarP(&opts.ShowVersion, "version", "v", false, "print version information and exit")
	flags.StringVar(&cli.Backend, "backend", defaults.Backend, "reader backend: libnfc, smartphone or simulated")
	flags.StringVarP(&cli.Device, "device", "d", "", "libnfc connection string (default: first device)")
	flags.IntVarP(&cli.Port, "port", "p", defaults.Port, "port to listen on")
	flags.StringVar(&cli.Listen, "listen", "", "listen address, overrides --port")
	flags.StringVar(&cli.APISecret, "api-secret", "", "secret UI clients must pass as ?secret=")
	flags.StringVarP(&cli.AlertMessage, "message", "m", defaults.AlertMessage, "message shown while a session waits for a tag")
	flags.DurationVar(&cli.SessionTimeout, "timeout", defaults.SessionTimeout, "hardware session timeout")
	flags.DurationVar(&cli.PollInterval, "poll", defaults.PollInterval, "libnfc polling interval")
	flags.BoolVar(&cli.MDNS, "mdns", defaults.MDNS, "advertise the agent over mDNS")
	flags.BoolVar(&cli.TLS, "tls", false, "serve https/wss with a locally trusted certificate")
	flags.IntVar(&cli.BootstrapPort, "bootstrap-port", defaults.BootstrapPort, "plain HTTP port serving the CA when --tls is on (0 disables)")
	flags.BoolVar(&cli.CLI, "cli", false, "run the terminal UI instead of the system tray")
	flags.StringVar(&cli.LogFile, "log-file", "", "append logs to this file")

	if err := flags.Parse(args); err != nil {
		return opts, err
	}
	if flags.NArg() > 0 {
		return opts, fmt.Errorf("unexpected argument: %s", flags.Arg(0))
	}

	cfg := defaults
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return opts, fmt.Errorf("parse env: %w", err)
	}

	path, required := opts.ConfigPath, true
	if path == "" && cfg.ConfigDir != "" {
		path, required = filepath.Join(cfg.ConfigDir, "config.yaml"), false
	}
	loaded, err := loadFile(&cfg, path, required)
	if err != nil {
		return opts, err
	}
	if !loaded {
		path = ""
	}

	// The file may have overwritten values set in the environment.
	if loaded {
		if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
			return opts, fmt.Errorf("parse env: %w", err)
		}
	}

	flags.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "backend":
			cfg.Backend = cli.Backend
		case "device":
			cfg.Device = cli.Device
		case "port":
			cfg.Port = cli.Port
		case "listen":
			cfg.Listen = cli.Listen
		case "api-secret":
			cfg.APISecret = cli.APISecret
		case "message":
			cfg.AlertMessage = cli.AlertMessage
		case "timeout":
			cfg.SessionTimeout = cli.SessionTimeout
		case "poll":
			cfg.PollInterval = cli.PollInterval
		case "mdns":
			cfg.MDNS = cli.MDNS
		case "tls":
			cfg.TLS = cli.TLS
		case "bootstrap-port":
			cfg.BootstrapPort = cli.BootstrapPort
		case "cli":
			cfg.CLI = cli.CLI
		case "log-file":
			cfg.LogFile = cli.LogFile
		}
	})

	if err := cfg.Validate(); err != nil {
		return opts, err
	}
	opts.Config = cfg
	opts.ConfigPath = path
	return opts, nil
}

// loadFile merges a YAML file into cfg. A missing file is an error only when
// required.
func loadFile(cfg *Config, path string, required bool) (bool, error) {
	if path == "" {
		return false, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !required && errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return false, fmt.Errorf("parse config %s: %w", path, err)
	}
	return true, nil
}
