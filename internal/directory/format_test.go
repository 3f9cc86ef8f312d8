package directory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/codefionn/ictchat/internal/models"
)

func TestRelativeTime(t *testing.T) {
	tests := []struct {
		ago  time.Duration
		want string
	}{
		{-time.Minute, "just now"},
		{30 * time.Second, "just now"},
		{time.Minute, "1 min"},
		{59 * time.Minute, "59 mins"},
		{time.Hour, "1 hour"},
		{5 * time.Hour, "5 hours"},
		{24 * time.Hour, "1 day"},
		{6 * 24 * time.Hour, "6 days"},
		{7 * 24 * time.Hour, "10 Oct"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, RelativeTime(now.Add(-tt.ago), now, time.UTC))
		})
	}
	assert.Equal(t, "", RelativeTime(time.Time{}, now, nil))
}

func TestSnippet(t *testing.T) {
	tests := []struct {
		name string
		c    models.Conversation
		want string
	}{
		{"text", models.Conversation{LastMessage: "hi", LastMessageType: models.TypeText}, "hi"},
		{"untyped", models.Conversation{LastMessage: "hi"}, "hi"},
		{"image", models.Conversation{LastMessage: "https://x/u/cat.png", LastMessageType: models.TypeImage}, "cat.png"},
		{"file", models.Conversation{LastMessage: "https://x/u/a.zip", LastMessageType: models.TypeFile}, "a.zip"},
		{"empty with email", models.Conversation{Email: "a@b.c"}, "a@b.c"},
		{"empty", models.Conversation{}, "No messages yet"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Snippet(tt.c))
		})
	}
}
