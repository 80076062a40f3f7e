package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"
)

// Log levels shown in the log panel
const (
	LevelInfo    = "INFO"
	LevelSuccess = "SUCCESS"
	LevelWarn    = "WARN"
	LevelError   = "ERROR"
)

// AccountState is the sync state of one subscribed account
type AccountState int

const (
	AccountQueued AccountState = iota
	AccountRunning
	AccountDone
	AccountFailed
)

func (s AccountState) String() string {
	switch s {
	case AccountRunning:
		return "running"
	case AccountDone:
		return "done"
	case AccountFailed:
		return "failed"
	default:
		return "queued"
	}
}

// AccountItem tracks one account through a full update
type AccountItem struct {
	ID        string
	Name      string
	State     AccountState
	Pages     int
	Records   int
	Changed   int
	StartedAt time.Time
	Duration  time.Duration
	Err       error
}

// LogLine is one entry of the log panel
type LogLine struct {
	Time    time.Time
	Level   string
	Message string
}

// Model is the bubbletea model of the sync dashboard. It is only mutated
// from the program goroutine via messages.
type Model struct {
	spinner spinner.Model
	bar     progress.Model

	accounts map[string]*AccountItem
	order    []string

	records   int
	changed   int
	startedAt time.Time
	finished  bool

	logs    []LogLine
	maxLogs int

	width    int
	height   int
	showHelp bool
}

// NewModel creates an empty dashboard model
func NewModel() *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(accentCyan)

	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = 40

	return &Model{
		spinner:   s,
		bar:       bar,
		accounts:  make(map[string]*AccountItem),
		startedAt: time.Now(),
		maxLogs:   50,
	}
}

// Queue registers an account before it starts. Re-queueing a known account
// resets it.
func (m *Model) Queue(id, name string) {
	if _, ok := m.accounts[id]; !ok {
		m.order = append(m.order, id)
	}
	m.accounts[id] = &AccountItem{ID: id, Name: name, State: AccountQueued}
}

// Start marks an account as running
func (m *Model) Start(id, name string) {
	item, ok := m.accounts[id]
	if !ok {
		m.Queue(id, name)
		item = m.accounts[id]
	}
	item.State = AccountRunning
	item.StartedAt = time.Now()
}

// Finish records the outcome of an account sync
func (m *Model) Finish(id string, pages, records, changed int, err error) {
	item, ok := m.accounts[id]
	if !ok {
		m.Queue(id, id)
		item = m.accounts[id]
	}
	item.Pages = pages
	item.Records = records
	item.Changed = changed
	item.Err = err
	if !item.StartedAt.IsZero() {
		item.Duration = time.Since(item.StartedAt)
	}
	if err != nil {
		item.State = AccountFailed
	} else {
		item.State = AccountDone
	}
	m.records += records
	m.changed += changed
}

// AddLog appends a log line, keeping the most recent maxLogs entries
func (m *Model) AddLog(level, message string) {
	m.logs = append(m.logs, LogLine{Time: time.Now(), Level: level, Message: message})
	if len(m.logs) > m.maxLogs {
		m.logs = m.logs[len(m.logs)-m.maxLogs:]
	}
}

// Accounts returns the accounts in a given state, in queue order
func (m *Model) Accounts(state AccountState) []*AccountItem {
	var out []*AccountItem
	for _, id := range m.order {
		if item := m.accounts[id]; item != nil && item.State == state {
			out = append(out, item)
		}
	}
	return out
}

// Completion is the fraction of accounts that have finished, in 0..1
func (m *Model) Completion() float64 {
	if len(m.order) == 0 {
		return 0
	}
	done := len(m.Accounts(AccountDone)) + len(m.Accounts(AccountFailed))
	return float64(done) / float64(len(m.order))
}

// Totals returns the records and changed counts over finished accounts
func (m *Model) Totals() (records, changed int) {
	return m.records, m.changed
}
