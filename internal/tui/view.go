package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"

	"github.com/codefionn/ictchat/internal/directory"
)

func (m *Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "Loading..."
	}

	body := lipgloss.JoinHorizontal(lipgloss.Top, m.renderList(), m.renderChat())
	return lipgloss.JoinVertical(lipgloss.Left, m.renderHeader(), body, m.renderFooter())
}

func (m *Model) renderHeader() string {
	title := titleStyle.Render("ictchat")
	status := "not signed in"
	if id := m.identity; id != nil {
		status = fmt.Sprintf("%s · %s · %s", id.Username, id.Role, id.AppName)
	}
	return title + "\n" + statusStyle.Render(status)
}

func (m *Model) renderList() string {
	inner := listWidth - 2

	var sb strings.Builder
	if m.focus == focusSearch || m.mode == directory.ModeSearch {
		sb.WriteString(m.search.View())
		sb.WriteString("\n")
	}
	sb.WriteString(renderEntries(m.entries, m.cursor, inner, m.mode))

	style := panelStyle
	if m.focus == focusList || m.focus == focusSearch {
		style = focusedPanelStyle
	}
	return style.Width(inner).Height(m.viewport.Height + 2).MaxHeight(m.viewport.Height + 4).Render(sb.String())
}

func (m *Model) renderChat() string {
	title := m.peer
	if title == "" {
		title = "Select a conversation"
	}
	if m.snap.Loading {
		title += " " + m.spinner.View()
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		nameStyle.Render(title),
		m.viewport.View(),
		m.compose.View(),
	)
	style := panelStyle
	if m.focus == focusCompose {
		style = focusedPanelStyle
	}
	return style.Width(m.viewport.Width).Render(content)
}

func (m *Model) renderFooter() string {
	if m.snap.AuthError != "" {
		return errorStyle.Render("Live connection rejected: " + m.snap.AuthError)
	}
	if m.err != nil && m.clock().Before(m.errUntil) {
		return errorStyle.Render("Error: " + m.err.Error())
	}
	return helpStyle.Render(helpLine(m.keys.help(m.focus)))
}

func helpLine(bindings []key.Binding) string {
	parts := make([]string, 0, len(bindings))
	for _, b := range bindings {
		h := b.Help()
		parts = append(parts, h.Key+" "+h.Desc)
	}
	return strings.Join(parts, " · ")
}
