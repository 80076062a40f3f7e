package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// View renders the dashboard
func (m *Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	half := (m.width - 4) / 2
	left := lipgloss.JoinVertical(lipgloss.Left,
		m.renderStats(half),
		m.renderAccounts(half),
	)
	right := m.renderLogs(half)

	sections := []string{
		headerStyle.Render("wxharvest · full update"),
		lipgloss.JoinHorizontal(lipgloss.Top, left, "  ", right),
	}
	if m.showHelp {
		sections = append(sections, m.renderHelp())
	} else {
		sections = append(sections, helpStyle.Render("q quit · ? help"))
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m *Model) renderStats(width int) string {
	records, changed := m.Totals()
	status := m.spinner.View() + " running"
	if m.finished {
		status = doneStyle.Render("finished")
	}

	lines := []string{
		titleStyle.Render(" PROGRESS "),
		stat("Status:", status),
		stat("Elapsed:", formatDuration(time.Since(m.startedAt))),
		stat("Accounts:", fmt.Sprintf("%d done, %d failed, %d total",
			len(m.Accounts(AccountDone)), len(m.Accounts(AccountFailed)), len(m.order))),
		stat("Articles:", fmt.Sprintf("%d seen, %d new or updated", records, changed)),
		m.bar.ViewAs(m.Completion()),
	}
	return panelStyle.Width(width).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (m *Model) renderAccounts(width int) string {
	lines := []string{titleStyle.Render(" ACCOUNTS ")}
	if len(m.order) == 0 {
		lines = append(lines, queuedStyle.Render("No accounts queued"))
	}
	for _, id := range m.order {
		item := m.accounts[id]
		var detail string
		switch item.State {
		case AccountRunning:
			detail = m.spinner.View() + " " + formatDuration(time.Since(item.StartedAt))
		case AccountDone:
			detail = fmt.Sprintf("%d articles, %d changed, %d pages", item.Records, item.Changed, item.Pages)
		case AccountFailed:
			detail = truncate(item.Err.Error(), width-30)
		default:
			detail = "queued"
		}
		lines = append(lines, stateStyle(item.State).Render(
			fmt.Sprintf("%s %s", truncate(displayName(item.ID, item.Name), width/2), detail)))
	}
	return panelStyle.Width(width).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (m *Model) renderLogs(width int) string {
	start := len(m.logs) - 15
	if start < 0 {
		start = 0
	}

	var lines []string
	for _, l := range m.logs[start:] {
		level := lipgloss.NewStyle().Foreground(levelColor(l.Level)).Bold(true).Render(fmt.Sprintf("[%-7s]", l.Level))
		lines = append(lines, fmt.Sprintf("%s %s %s",
			logTimeStyle.Render(l.Time.Format("15:04:05")), level, truncate(l.Message, width-25)))
	}
	content := strings.Join(lines, "\n")
	if content == "" {
		content = queuedStyle.Render("No logs yet...")
	}
	return panelStyle.Width(width).Render(lipgloss.JoinVertical(lipgloss.Left, titleStyle.Render(" LOG "), content))
}

func (m *Model) renderHelp() string {
	help := `  q        quit (the update keeps running until it finishes)
  ctrl+l   clear the log panel
  ?        toggle this help`
	return panelStyle.Width(m.width - 2).Render(help)
}

func stat(label, value string) string {
	return labelStyle.Render(label) + " " + valueStyle.Render(value)
}

func truncate(s string, n int) string {
	if n < 4 {
		n = 4
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		return "00:00"
	}
	h := int(d.Hours())
	mins := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, mins, s)
	}
	return fmt.Sprintf("%02d:%02d", mins, s)
}
