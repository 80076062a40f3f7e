// Package tui renders a live dashboard for full updates.
package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"wxharvest/internal/worker"
	"wxharvest/pkg/harvest"
)

// TUI drives the dashboard program. It satisfies feedsync.Observer.
type TUI struct {
	program *tea.Program
	model   *Model
}

// NewTUI creates a dashboard. Extra options are passed to bubbletea.
func NewTUI(opts ...tea.ProgramOption) *TUI {
	model := NewModel()
	if len(opts) == 0 {
		opts = []tea.ProgramOption{tea.WithAltScreen()}
	}
	return &TUI{
		program: tea.NewProgram(model, opts...),
		model:   model,
	}
}

// Run blocks until the user quits
func (t *TUI) Run() error {
	_, err := t.program.Run()
	return err
}

// Stop quits the program
func (t *TUI) Stop() {
	t.program.Quit()
}

// Send delivers a message to the program
func (t *TUI) Send(msg tea.Msg) {
	if t.program != nil {
		t.program.Send(msg)
	}
}

// Queue registers accounts before the update starts
func (t *TUI) Queue(jobs []worker.Job) {
	for _, j := range jobs {
		t.Send(QueuedMsg{ID: j.AccountID, Name: j.Name})
	}
}

// SyncStarted implements feedsync.Observer
func (t *TUI) SyncStarted(job worker.Job) {
	t.Send(StartedMsg{ID: job.AccountID, Name: job.Name})
}

// SyncFinished implements feedsync.Observer
func (t *TUI) SyncFinished(job worker.Job, sum harvest.Summary, err error) {
	t.Send(FinishedMsg{
		ID:      job.AccountID,
		Pages:   sum.PagesFetched,
		Records: sum.Records,
		Changed: sum.Changed,
		Err:     err,
	})
}

// Done tells the dashboard the update is over
func (t *TUI) Done() {
	t.Send(DoneMsg{})
}

// Logf adds a formatted line to the log panel
func (t *TUI) Logf(level, format string, args ...interface{}) {
	t.Send(LogMsg{Level: level, Message: fmt.Sprintf(format, args...)})
}
