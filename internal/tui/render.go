package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/truncate"
	"github.com/muesli/reflow/wordwrap"

	"github.com/codefionn/ictchat/internal/chatsync"
	"github.com/codefionn/ictchat/internal/directory"
	"github.com/codefionn/ictchat/internal/models"
)

// renderEntries renders the conversation list, two lines per entry.
func renderEntries(entries []directory.Entry, cursor, width int, mode directory.Mode) string {
	if len(entries) == 0 {
		switch mode {
		case directory.ModeSearch:
			return snippetStyle.Render("No users found")
		case directory.ModeAllUsers:
			return snippetStyle.Render("No users")
		default:
			return snippetStyle.Render("No conversations yet")
		}
	}

	var sb strings.Builder
	for i, e := range entries {
		marker := "  "
		name := nameStyle.Render(clip(e.Name, width-12))
		if i == cursor {
			marker = cursorStyle.Render("▸ ")
		}
		if e.Selected {
			name = cursorStyle.Render(clip(e.Name, width-12))
		}

		line := marker + name
		if e.TimeAgo != "" {
			gap := width - lipgloss.Width(line) - lipgloss.Width(e.TimeAgo)
			if gap < 1 {
				gap = 1
			}
			line += strings.Repeat(" ", gap) + ageStyle.Render(e.TimeAgo)
		}
		sb.WriteString(line)
		sb.WriteString("\n  ")
		sb.WriteString(snippetStyle.Render(clip(e.Snippet, width-2)))
		if i < len(entries)-1 {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// renderMessages renders grouped entries for the chat viewport. peer names
// the other participant of a direct conversation.
func renderMessages(groups []chatsync.DayGroup, self models.ID, peer string, width int, loc *time.Location) string {
	if len(groups) == 0 {
		return snippetStyle.Render("No messages yet")
	}
	if width < 10 {
		width = 10
	}

	var sb strings.Builder
	for gi, g := range groups {
		if gi > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(lipgloss.PlaceHorizontal(width, lipgloss.Center, dayStyle.Render(g.Label)))
		sb.WriteString("\n")

		for _, e := range g.Entries {
			sb.WriteString(renderEntry(e, self, peer, width, loc))
			sb.WriteString("\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func renderEntry(e chatsync.Entry, self models.ID, peer string, width int, loc *time.Location) string {
	who, style := senderName(e, self, peer)
	meta := style.Render(who) + " " + ageStyle.Render(e.Time().In(loc).Format("15:04"))
	if e.Phase == chatsync.Pending {
		meta += " " + pendingStyle.Render("sending…")
	}

	var body string
	switch {
	case e.Attachment != nil && e.Kind == models.TypeImage:
		body = attachmentStyle.Render("[image] " + e.Attachment.Name)
	case e.Attachment != nil:
		body = attachmentStyle.Render(fmt.Sprintf("[%s] %s", e.Attachment.Kind, e.Attachment.Name))
	default:
		body = wordwrap.String(e.Text, width-2)
	}
	return meta + "\n" + indent(body, "  ")
}

func senderName(e chatsync.Entry, self models.ID, peer string) (string, lipgloss.Style) {
	switch {
	case e.SenderID == self:
		return "You", ownStyle
	case peer != "" && e.GroupID.IsZero():
		return peer, peerStyle
	default:
		return "User " + e.SenderID.String(), peerStyle
	}
}

func clip(s string, width int) string {
	if width < 1 {
		width = 1
	}
	return truncate.StringWithTail(s, uint(width), "…")
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
