// Package models holds the wire and in-memory shapes shared by the chat core.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ID is a backend identifier. The backend emits ids as JSON numbers in some
// payloads and strings in others; both decode to the same ID.
type ID string

// UnmarshalJSON accepts a JSON string, number or null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON writes numeric ids as JSON numbers and everything else as a
// string, mirroring what the backend sent.
func (id ID) MarshalJSON() ([]byte, error) {
	if n, ok := id.Int(); ok && strconv.FormatInt(n, 10) == string(id) {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// String returns the id as text.
func (id ID) String() string { return string(id) }

// IsZero reports whether the id is empty.
func (id ID) IsZero() bool { return id == "" }

// Int returns the id as an integer when it is numeric. Used when echoing ids
// back to endpoints that expect numbers.
func (id ID) Int() (int64, bool) {
	n, err := strconv.ParseInt(string(id), 10, 64)
	return n, err == nil
}

// MessageType tags a message payload.
type MessageType string

const (
	TypeText  MessageType = "text"
	TypeImage MessageType = "image"
	TypeFile  MessageType = "file"
)

// Message is a chat message as exchanged with the backend.
type Message struct {
	ID             ID          `json:"id,omitempty"`
	ConversationID ID          `json:"conversation_id,omitempty"`
	GroupID        ID          `json:"group_id,omitempty"`
	SenderID       ID          `json:"sender_id"`
	Text           string      `json:"message"`
	Type           MessageType `json:"message_type,omitempty"`
	Timestamp      Timestamp   `json:"timestamp"`
}

// Conversation is one row of the conversation list, or a search candidate
// when HasConversation is false.
type Conversation struct {
	ID              ID          `json:"id"`
	OtherUsername   string      `json:"other_username,omitempty"`
	OtherUserID     ID          `json:"other_user_id,omitempty"`
	Username        string      `json:"username,omitempty"`
	Email           string      `json:"email,omitempty"`
	LastMessage     string      `json:"last_message,omitempty"`
	LastMessageType MessageType `json:"last_message_type,omitempty"`
	LastTime        Timestamp   `json:"last_time,omitempty"`
	Unread          int         `json:"unread,omitempty"`
	HasConversation bool        `json:"hasConversation"`
}

// DisplayName is the other participant's name, falling back to the user row
// name for search candidates.
func (c Conversation) DisplayName() string {
	switch {
	case c.OtherUsername != "":
		return c.OtherUsername
	case c.Username != "":
		return c.Username
	default:
		return "Unknown"
	}
}

// User is a directory entry from /users or /all_users.
type User struct {
	ID       ID     `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// Timestamp is a UTC instant that decodes the several formats the backend
// emits. It marshals as RFC 3339.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC1123,
	time.RFC1123Z,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
}

// ParseTimestamp parses s in any known layout. Layouts without a zone are
// read as UTC.
func ParseTimestamp(s string) (Timestamp, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Timestamp{t.UTC()}, nil
		}
	}
	return Timestamp{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// NewTimestamp wraps t as UTC.
func NewTimestamp(t time.Time) Timestamp { return Timestamp{t.UTC()} }

// UnmarshalJSON accepts a string in any known layout, epoch milliseconds as a
// number, or null. An unparsable string leaves the zero time.
func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		ts.Time = time.Time{}
		return nil
	}
	if data[0] != '"' {
		ms, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return fmt.Errorf("timestamp: %w", err)
		}
		ts.Time = time.UnixMilli(ms).UTC()
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		ts.Time = time.Time{}
		return nil
	}
	*ts = parsed
	return nil
}

// MarshalJSON writes RFC 3339, or null for the zero time.
func (ts Timestamp) MarshalJSON() ([]byte, error) {
	if ts.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(ts.UTC().Format(time.RFC3339Nano))
}

// RoomKind distinguishes direct conversations from group rooms.
type RoomKind int

const (
	RoomDirect RoomKind = iota
	RoomGroup
)

// String returns the room kind name.
func (k RoomKind) String() string {
	if k == RoomGroup {
		return "group"
	}
	return "direct"
}

// Room is the live-channel subscription scope of one conversation or group.
type Room struct {
	Kind RoomKind
	ID   ID
}

// IsZero reports whether no room is selected.
func (r Room) IsZero() bool { return r.ID == "" }

// String renders the room as kind/id for logs.
func (r Room) String() string { return r.Kind.String() + "/" + string(r.ID) }

// Direct returns the room of a two-party conversation.
func Direct(id ID) Room { return Room{Kind: RoomDirect, ID: id} }

// Group returns the room of a group.
func Group(id ID) Room { return Room{Kind: RoomGroup, ID: id} }

// Matches reports whether m belongs to the room.
func (r Room) Matches(m Message) bool {
	if r.Kind == RoomGroup {
		return m.GroupID == r.ID
	}
	return m.ConversationID == r.ID
}
