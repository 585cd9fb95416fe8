package main

import (
	"fmt"
	"log"
	"os/exec"
	"runtime"

	"fyne.io/systray"

	"github.com/nedpals/nfc-tagscan/buildinfo"
	"github.com/nedpals/nfc-tagscan/nfc"
)

// SystrayApp is the default front end: a tray menu showing the session
// status, with items to scan and reset.
type SystrayApp struct {
	agent *Agent

	mStatus    *systray.MenuItem
	mRecord    *systray.MenuItem
	mScan      *systray.MenuItem
	mReset     *systray.MenuItem
	mURL       *systray.MenuItem
	mCopyURL   *systray.MenuItem
	mCACopy    *systray.MenuItem
	mQuit      *systray.MenuItem
	unobserve  func()
	statusFeed chan nfc.Snapshot
	errorFeed  chan struct{}
}

// NewSystrayApp creates the tray front end for agent.
func NewSystrayApp(agent *Agent) *SystrayApp {
	return &SystrayApp{
		agent:      agent,
		statusFeed: make(chan nfc.Snapshot, 16),
		errorFeed:  make(chan struct{}, 1),
	}
}

// Run blocks until the user quits.
func (s *SystrayApp) Run() {
	systray.Run(s.onReady, s.onExit)
}

func (s *SystrayApp) onReady() {
	s.setupUI()

	ctrl := s.agent.Controller()
	if ctrl == nil {
		s.mStatus.SetTitle("Failed to start")
		systray.SetIcon(iconDataError)
		s.mScan.Disable()
		s.mReset.Disable()
		go s.handleMenuEvents()
		return
	}

	// Observers run on the session queue; the tray is updated from the
	// event loop so a slow tray never stalls it.
	s.unobserve = ctrl.Observe(func(snap nfc.Snapshot) {
		select {
		case s.statusFeed <- snap:
		default:
			log.Printf("[systray] Status update dropped")
		}
	})
	ctrl.AddErrorHandler(func() {
		select {
		case s.errorFeed <- struct{}{}:
		default:
		}
	})

	s.showSnapshot(ctrl.Snapshot())
	s.showURLs()
	go s.handleMenuEvents()
}

func (s *SystrayApp) onExit() {
	if s.unobserve != nil {
		s.unobserve()
	}
	s.agent.Stop()
}

func (s *SystrayApp) setupUI() {
	systray.SetIcon(iconData)
	systray.SetTooltip(buildinfo.DisplayName)

	s.mStatus = systray.AddMenuItem(nfc.DescriptionIdle, "Session status")
	s.mStatus.Disable()
	s.mRecord = systray.AddMenuItem("", "First record of the captured tag")
	s.mRecord.Disable()
	s.mRecord.Hide()

	systray.AddSeparator()
	s.mScan = systray.AddMenuItem("Scan Tag", "Start a new tag session")
	s.mReset = systray.AddMenuItem("Reset", "Cancel the session and clear the result")

	systray.AddSeparator()
	s.mURL = systray.AddMenuItem("Not running", "WebSocket URL for clients")
	s.mURL.Disable()
	s.mCopyURL = systray.AddMenuItem("Copy URL", "Copy the WebSocket URL to the clipboard")
	s.mCACopy = systray.AddMenuItem("Copy CA Install URL", "Copy the CA certificate page URL to the clipboard")
	s.mCACopy.Hide()

	systray.AddSeparator()
	s.mQuit = systray.AddMenuItem("Quit", "Quit "+buildinfo.DisplayName)
}

func (s *SystrayApp) handleMenuEvents() {
	for {
		select {
		case snap := <-s.statusFeed:
			s.showSnapshot(snap)
		case <-s.errorFeed:
			systray.SetIcon(iconDataError)
		case <-s.mScan.ClickedCh:
			if ctrl := s.agent.Controller(); ctrl != nil {
				ctrl.Start(s.agent.Config.AlertMessage)
			}
		case <-s.mReset.ClickedCh:
			if ctrl := s.agent.Controller(); ctrl != nil {
				ctrl.Reset()
			}
		case <-s.mCopyURL.ClickedCh:
			s.copy(s.agent.URL())
		case <-s.mCACopy.ClickedCh:
			s.copy(s.agent.BootstrapURL())
		case <-s.mQuit.ClickedCh:
			systray.Quit()
			return
		}
	}
}

// showSnapshot updates the status line and the icon. The error icon is set
// by the error handler and stays until the next session starts.
func (s *SystrayApp) showSnapshot(snap nfc.Snapshot) {
	s.mStatus.SetTitle(snap.DisplayText())
	systray.SetTooltip(buildinfo.DisplayName + ": " + snap.DisplayText())

	switch snap.State.Kind() {
	case nfc.StateActive, nfc.StatePending:
		systray.SetIcon(iconDataScanning)
	case nfc.StateCaptured:
		systray.SetIcon(iconDataConnected)
	case nfc.StateIdle:
		systray.SetIcon(iconData)
	}

	if text, ok := snap.Payload.FirstText(); ok {
		s.mRecord.SetTitle(text)
		s.mRecord.Show()
	} else {
		s.mRecord.Hide()
	}
}

func (s *SystrayApp) showURLs() {
	if url := s.agent.URL(); url != "" {
		s.mURL.SetTitle(url)
	}
	if s.agent.BootstrapURL() != "" {
		s.mCACopy.Show()
	}
}

func (s *SystrayApp) copy(text string) {
	if text == "" {
		return
	}
	if err := copyToClipboard(text); err != nil {
		log.Printf("[systray] Failed to copy to clipboard: %v", err)
		return
	}
	log.Printf("[systray] Copied %s to clipboard", text)
}

func copyToClipboard(text string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("pbcopy")
	case "linux":
		cmd = exec.Command("xclip", "-selection", "clipboard")
	case "windows":
		cmd = exec.Command("clip")
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	if _, err := stdin.Write([]byte(text)); err != nil {
		return err
	}
	stdin.Close()
	return cmd.Wait()
}
