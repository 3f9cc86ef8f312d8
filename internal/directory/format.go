package directory

import (
	"fmt"
	"time"

	"github.com/codefionn/ictchat/internal/chatsync"
	"github.com/codefionn/ictchat/internal/models"
)

// RelativeTime renders how long ago t was, as shown next to a conversation.
// Times a week or more old render as a short date like "17 Oct".
func RelativeTime(t, now time.Time, loc *time.Location) string {
	if t.IsZero() {
		return ""
	}
	if loc == nil {
		loc = time.UTC
	}
	d := now.Sub(t)
	if d < time.Minute {
		return "just now"
	}
	if m := int(d / time.Minute); m < 60 {
		return plural(m, "min")
	}
	if h := int(d / time.Hour); h < 24 {
		return plural(h, "hour")
	}
	if days := int(d / (24 * time.Hour)); days < 7 {
		return plural(days, "day")
	}
	return t.In(loc).Format("2 Jan")
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// Snippet is the preview line of a conversation. Attachments show their
// file name; an empty conversation shows the email or a placeholder.
func Snippet(c models.Conversation) string {
	if c.LastMessage == "" {
		if c.Email != "" {
			return c.Email
		}
		return "No messages yet"
	}
	switch c.LastMessageType {
	case models.TypeFile, models.TypeImage:
		return chatsync.FileName(c.LastMessage)
	default:
		return c.LastMessage
	}
}
