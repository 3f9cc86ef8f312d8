package chatsync

import (
	"fmt"
	"time"

	"github.com/codefionn/ictchat/internal/models"
)

// Phase is the confirmation state of a log entry.
type Phase int

const (
	// Confirmed entries are server copies.
	Confirmed Phase = iota
	// Pending entries are optimistic local copies awaiting their echo.
	Pending
)

func (p Phase) String() string {
	if p == Pending {
		return "pending"
	}
	return "confirmed"
}

// MarshalText renders the phase name in JSON.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses a phase name.
func (p *Phase) UnmarshalText(text []byte) error {
	switch string(text) {
	case "pending":
		*p = Pending
	case "confirmed":
		*p = Confirmed
	default:
		return fmt.Errorf("chatsync: unknown phase %q", text)
	}
	return nil
}

// Entry is one message in the synchronized log.
type Entry struct {
	models.Message
	LocalID    string             `json:"local_id,omitempty"`
	Phase      Phase              `json:"phase"`
	Kind       models.MessageType `json:"kind"`
	Attachment *Attachment        `json:"attachment,omitempty"`

	seq uint64
}

// Time returns the message timestamp.
func (e Entry) Time() time.Time {
	return e.Timestamp.Time
}

func newEntry(m models.Message, phase Phase, localID string) *Entry {
	kind := Classify(m)
	return &Entry{
		Message:    m,
		LocalID:    localID,
		Phase:      phase,
		Kind:       kind,
		Attachment: attachmentOf(m, kind),
	}
}
