package main

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nedpals/nfc-tagscan/buildinfo"
	"github.com/nedpals/nfc-tagscan/nfc"
)

// sessionControls is what the front ends need from the controller.
type sessionControls interface {
	Start(message string)
	Reset()
	Snapshot() nfc.Snapshot
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69"))
	statusStyle = lipgloss.NewStyle().Padding(0, 1).Border(lipgloss.RoundedBorder())
	faintStyle  = lipgloss.NewStyle().Faint(true)

	stateColors = map[nfc.StateKind]lipgloss.Color{
		nfc.StateIdle:     lipgloss.Color("245"),
		nfc.StateActive:   lipgloss.Color("214"),
		nfc.StatePending:  lipgloss.Color("214"),
		nfc.StateCaptured: lipgloss.Color("42"),
		nfc.StateError:    lipgloss.Color("196"),
	}
)

type snapshotMsg nfc.Snapshot

type tuiModel struct {
	ctrl    sessionControls
	message string // Alert message passed to Start
	url     string
	snap    nfc.Snapshot
}

func newTUIModel(ctrl sessionControls, message, url string) tuiModel {
	return tuiModel{ctrl: ctrl, message: message, url: url, snap: ctrl.Snapshot()}
}

func (m tuiModel) Init() tea.Cmd {
	return nil
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case snapshotMsg:
		// Snapshots can arrive out of order through the program's queue.
		if msg.Seq >= m.snap.Seq {
			m.snap = nfc.Snapshot(msg)
		}
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "enter", " ":
			m.ctrl.Start(m.message)
		case "r":
			m.ctrl.Reset()
		}
	}
	return m, nil
}

func (m tuiModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(buildinfo.DisplayName))
	if m.url != "" {
		b.WriteString(faintStyle.Render("  " + m.url))
	}
	b.WriteString("\n\n")

	kind := m.snap.State.Kind()
	status := statusStyle.BorderForeground(stateColors[kind]).Foreground(stateColors[kind])
	b.WriteString(status.Render(m.snap.DisplayText()))
	b.WriteString("\n")

	if code := m.snap.State.Code(); m.snap.State.IsError() && code != 0 {
		b.WriteString(faintStyle.Render("  " + code.String()))
		b.WriteString("\n")
	}
	if m.snap.Payload != nil {
		for i := range m.snap.Payload.Records {
			b.WriteString("  " + m.snap.Payload.Records[i].Summary() + "\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(faintStyle.Render("enter scan • r reset • q quit"))
	b.WriteString("\n")
	return b.String()
}

// runTUI runs the terminal front end until the user quits.
func runTUI(agent *Agent) error {
	ctrl := agent.Controller()
	program := tea.NewProgram(newTUIModel(ctrl, agent.Config.AlertMessage, agent.URL()))

	unsubscribe := ctrl.Observe(func(s nfc.Snapshot) {
		program.Send(snapshotMsg(s))
	})
	defer unsubscribe()

	_, err := program.Run()
	return err
}
