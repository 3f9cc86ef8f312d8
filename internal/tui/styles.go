package tui

import "github.com/charmbracelet/lipgloss"

const (
	listWidth    = 34
	headerHeight = 2
	footerHeight = 1
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170")).
			MarginLeft(2)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			MarginLeft(2)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			MarginLeft(2)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			MarginLeft(2)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("241"))

	focusedPanelStyle = panelStyle.
				BorderForeground(lipgloss.Color("170"))

	nameStyle = lipgloss.NewStyle().
			Bold(true)

	cursorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("170")).
			Bold(true)

	snippetStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))

	ageStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	dayStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")).
			Italic(true)

	ownStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86"))

	peerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	pendingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)

	attachmentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Underline(true)
)
