// Command nfc-tagscan runs single-tag NFC scanning sessions on a USB reader,
// a phone or a simulated radio, and publishes each session's state to
// WebSocket clients. It runs in the system tray by default, or as a terminal
// UI with --cli.
package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"fyne.io/systray"
	"github.com/spf13/pflag"

	"github.com/nedpals/nfc-tagscan/buildinfo"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	opts, err := ParseOptions(args)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}
	if opts.ShowVersion {
		fmt.Println(buildinfo.BuildInfo())
		return nil
	}
	cfg := opts.Config

	logOutput, closeLog, err := openLog(cfg)
	if err != nil {
		return err
	}
	defer closeLog()
	log.SetOutput(logOutput)
	if opts.ConfigPath != "" {
		log.Printf("[agent] Loaded config from %s", opts.ConfigPath)
	}

	agent := NewAgent(cfg, logOutput)

	if cfg.CLI {
		if err := agent.Start(); err != nil {
			return fmt.Errorf("failed to start agent: %w", err)
		}
		defer agent.Stop()
		return runTUI(agent)
	}

	// The tray shows a failed start itself.
	if err := agent.Start(); err != nil {
		log.Printf("[agent] Failed to start: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("[agent] Shutdown signal received")
		systray.Quit()
	}()

	NewSystrayApp(agent).Run()
	return nil
}

// openLog returns where logs go: the log file when set, stderr in tray mode,
// nowhere in TUI mode where stderr would garble the screen.
func openLog(cfg Config) (io.Writer, func(), error) {
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		return f, func() { f.Close() }, nil
	}
	if cfg.CLI {
		return io.Discard, func() {}, nil
	}
	return os.Stderr, func() {}, nil
}
