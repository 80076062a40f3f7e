package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// QueuedMsg registers an account ahead of its sync
type QueuedMsg struct {
	ID   string
	Name string
}

// StartedMsg is sent when an account sync starts
type StartedMsg struct {
	ID   string
	Name string
}

// FinishedMsg is sent when an account sync ends
type FinishedMsg struct {
	ID      string
	Pages   int
	Records int
	Changed int
	Err     error
}

// LogMsg adds a line to the log panel
type LogMsg struct {
	Level   string
	Message string
}

// DoneMsg marks the whole update as finished
type DoneMsg struct{}

// TickMsg refreshes elapsed times
type TickMsg time.Time

// Init starts the spinner and the refresh tick
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

// Update applies a message to the model
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.bar.Width = clampWidth(msg.Width/2 - 10)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case TickMsg:
		if m.finished {
			return m, nil
		}
		return m, tickCmd()

	case QueuedMsg:
		m.Queue(msg.ID, msg.Name)
		return m, nil

	case StartedMsg:
		m.Start(msg.ID, msg.Name)
		m.AddLog(LevelInfo, "Syncing "+displayName(msg.ID, msg.Name))
		return m, nil

	case FinishedMsg:
		m.Finish(msg.ID, msg.Pages, msg.Records, msg.Changed, msg.Err)
		name := msg.ID
		if item, ok := m.accounts[msg.ID]; ok {
			name = displayName(item.ID, item.Name)
		}
		if msg.Err != nil {
			m.AddLog(LevelError, "Failed: "+name+" - "+msg.Err.Error())
		} else {
			m.AddLog(LevelSuccess, "Finished: "+name)
		}
		return m, nil

	case LogMsg:
		m.AddLog(msg.Level, msg.Message)
		return m, nil

	case DoneMsg:
		m.finished = true
		m.AddLog(LevelSuccess, "Full update finished, press q to exit")
		return m, nil
	}

	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "Q", "ctrl+c":
		return m, tea.Quit
	case "?":
		m.showHelp = !m.showHelp
	case "ctrl+l":
		m.logs = nil
	}
	return m, nil
}

func tickCmd() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func displayName(id, name string) string {
	if name == "" || name == id {
		return id
	}
	return name + " (" + id + ")"
}

func clampWidth(w int) int {
	if w < 10 {
		return 10
	}
	if w > 80 {
		return 80
	}
	return w
}
