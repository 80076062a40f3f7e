package tui

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	accentGreen  = lipgloss.Color("#07C160")
	accentCyan   = lipgloss.Color("#00D7D7")
	accentOrange = lipgloss.Color("#FF8A00")
	accentRed    = lipgloss.Color("#FF4040")
	dimWhite     = lipgloss.Color("#B0B0B0")
	darkBg       = lipgloss.Color("#14171F")

	headerStyle = lipgloss.NewStyle().
			Foreground(accentGreen).
			Bold(true).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accentGreen).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Background(accentGreen).
			Foreground(darkBg).
			Bold(true).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(accentCyan).
			Bold(true)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF"))

	runningStyle = lipgloss.NewStyle().
			Foreground(accentCyan).
			PaddingLeft(2)

	doneStyle = lipgloss.NewStyle().
			Foreground(accentGreen).
			PaddingLeft(2)

	failedStyle = lipgloss.NewStyle().
			Foreground(accentRed).
			PaddingLeft(2)

	queuedStyle = lipgloss.NewStyle().
			Foreground(dimWhite).
			Faint(true).
			PaddingLeft(2)

	logTimeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262")).
			PaddingLeft(1)
)

func levelColor(level string) lipgloss.Color {
	switch level {
	case LevelError:
		return accentRed
	case LevelWarn:
		return accentOrange
	case LevelSuccess:
		return accentGreen
	case LevelInfo:
		return accentCyan
	default:
		return dimWhite
	}
}

func stateStyle(s AccountState) lipgloss.Style {
	switch s {
	case AccountRunning:
		return runningStyle
	case AccountDone:
		return doneStyle
	case AccountFailed:
		return failedStyle
	default:
		return queuedStyle
	}
}
