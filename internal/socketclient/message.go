package socketclient

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/codefionn/ictchat/internal/models"
)

// Event names on the live channel.
const (
	EventJoin             = "join"
	EventLeave            = "leave"
	EventSendMessage      = "send_message"
	EventSendGroupMessage = "send_group_message"
	EventDeleteMessage    = "delete_message"
	EventNewMessage       = "new_message"
	EventNewGroupMessage  = "new_group_message"
	EventAuthError        = "auth_error"
)

// Envelope is one frame on the wire.
type Envelope struct {
	Event string          `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload into a frame with a fresh id.
func NewEnvelope(event string, payload interface{}) (*Envelope, error) {
	env := &Envelope{Event: event, ID: uuid.NewString()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", event, err)
		}
		env.Data = data
	}
	return env, nil
}

// JoinPayload subscribes the connection to a room.
type JoinPayload struct {
	Token          string    `json:"token"`
	ConversationID models.ID `json:"conversation_id,omitempty"`
	GroupID        models.ID `json:"group_id,omitempty"`
}

// LeavePayload unsubscribes the connection from a room.
type LeavePayload struct {
	ConversationID models.ID `json:"conversation_id,omitempty"`
	GroupID        models.ID `json:"group_id,omitempty"`
}

// JoinRoom builds the join payload of a room.
func JoinRoom(room models.Room, token string) JoinPayload {
	if room.Kind == models.RoomGroup {
		return JoinPayload{Token: token, GroupID: room.ID}
	}
	return JoinPayload{Token: token, ConversationID: room.ID}
}

// LeaveRoom builds the leave payload of a room.
func LeaveRoom(room models.Room) LeavePayload {
	if room.Kind == models.RoomGroup {
		return LeavePayload{GroupID: room.ID}
	}
	return LeavePayload{ConversationID: room.ID}
}

func (p JoinPayload) roomKey() string {
	if p.GroupID != "" {
		return "g:" + p.GroupID.String()
	}
	return "c:" + p.ConversationID.String()
}

func (p LeavePayload) roomKey() string {
	if p.GroupID != "" {
		return "g:" + p.GroupID.String()
	}
	return "c:" + p.ConversationID.String()
}

// SendMessagePayload posts a message into a direct conversation.
type SendMessagePayload struct {
	Token          string             `json:"token"`
	ConversationID models.ID          `json:"conversation_id"`
	SenderID       models.ID          `json:"sender_id,omitempty"`
	Message        string             `json:"message"`
	MessageType    models.MessageType `json:"message_type"`
}

// SendGroupMessagePayload posts a message into a group.
type SendGroupMessagePayload struct {
	SenderID    models.ID          `json:"sender_id"`
	GroupID     models.ID          `json:"group_id"`
	Message     string             `json:"message"`
	MessageType models.MessageType `json:"message_type"`
}

// DeleteMessagePayload announces a deletion to other members of the room.
type DeleteMessagePayload struct {
	ID             models.ID `json:"id"`
	ConversationID models.ID `json:"conversation_id,omitempty"`
	GroupID        models.ID `json:"group_id,omitempty"`
}

// AuthErrorPayload is sent by the server when it rejects the socket token.
type AuthErrorPayload struct {
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Reason returns whichever of Message or Error is set.
func (p AuthErrorPayload) Reason() string {
	if p.Message != "" {
		return p.Message
	}
	if p.Error != "" {
		return p.Error
	}
	return "socket authentication failed"
}
