package chatsync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/codefionn/ictchat/internal/actor"
	"github.com/codefionn/ictchat/internal/logger"
	"github.com/codefionn/ictchat/internal/models"
	"github.com/codefionn/ictchat/internal/socketclient"
)

type selection struct {
	gen  uint64
	room models.Room
}

type outgoing struct {
	text    string
	kind    models.MessageType
	localID string
}

type selectRoom struct {
	room  models.Room
	reply chan<- uint64
}

type beginReload struct {
	reply chan<- selection
}

type currentQuery struct {
	reply chan<- selection
}

type historyLoaded struct {
	gen     uint64
	room    models.Room
	history []models.Message
	err     error
	reply   chan<- bool
}

type liveMessage struct {
	gen uint64
	msg models.Message
}

type liveDelete struct {
	gen     uint64
	payload socketclient.DeleteMessagePayload
}

type authFailure struct {
	reason string
}

type sendMessages struct {
	room  models.Room
	out   []outgoing
	reply chan<- error
}

type removeMessage struct {
	id       models.ID
	announce bool
	reply    chan<- bool
}

type snapshotQuery struct {
	reply chan<- Snapshot
}

func (*selectRoom) Type() string    { return "select" }
func (*beginReload) Type() string   { return "reload" }
func (*currentQuery) Type() string  { return "current" }
func (*historyLoaded) Type() string { return "history" }
func (*liveMessage) Type() string   { return "live_message" }
func (*liveDelete) Type() string    { return "live_delete" }
func (*authFailure) Type() string   { return "auth_error" }
func (*sendMessages) Type() string  { return "send" }
func (*removeMessage) Type() string { return "remove" }
func (*snapshotQuery) Type() string { return "snapshot" }

// syncActor owns the log. Only the actor loop touches its fields, except ctx
// which handlers read under mu.
type syncActor struct {
	self    *Synchronizer
	channel socketclient.Channel
	backend Backend
	opts    Options
	log     *logger.Logger

	mu  sync.Mutex
	ctx context.Context

	gen       uint64
	room      models.Room
	loading   bool
	buffered  []models.Message
	msgs      *messageLog
	lastErr   error
	authError string

	roomUnsubs []func()
	authUnsub  func()
}

func (a *syncActor) ID() string { return "chatsync" }

func (a *syncActor) Start(ctx context.Context) error {
	a.mu.Lock()
	a.ctx = ctx
	a.mu.Unlock()

	a.authUnsub = a.channel.Subscribe(socketclient.EventAuthError, func(data json.RawMessage) {
		var p socketclient.AuthErrorPayload
		_ = json.Unmarshal(data, &p)
		a.self.post(&authFailure{reason: p.Reason()})
	})
	return nil
}

func (a *syncActor) Stop(ctx context.Context) error {
	a.teardown()
	if a.authUnsub != nil {
		a.authUnsub()
		a.authUnsub = nil
	}
	return nil
}

func (a *syncActor) Receive(ctx context.Context, msg actor.Message) error {
	switch m := msg.(type) {
	case *selectRoom:
		m.reply <- a.selectRoom(m.room)
	case *beginReload:
		if !a.room.IsZero() {
			a.loading = true
		}
		m.reply <- selection{gen: a.gen, room: a.room}
	case *currentQuery:
		m.reply <- selection{gen: a.gen, room: a.room}
	case *historyLoaded:
		m.reply <- a.applyHistory(m)
	case *liveMessage:
		a.applyLive(m)
	case *liveDelete:
		if m.gen == a.gen && a.matchesRoom(m.payload.ConversationID, m.payload.GroupID) {
			if a.msgs.remove(m.payload.ID) {
				a.changed()
			}
		}
	case *authFailure:
		a.log.Warn("live channel rejected token: %s", m.reason)
		a.authError = m.reason
		a.changed()
	case *sendMessages:
		m.reply <- a.send(m)
	case *removeMessage:
		m.reply <- a.remove(m)
	case *snapshotQuery:
		m.reply <- Snapshot{
			Room:      a.room,
			Entries:   a.msgs.snapshot(),
			Loading:   a.loading,
			Err:       a.lastErr,
			AuthError: a.authError,
		}
	default:
		return fmt.Errorf("unhandled message %T", msg)
	}
	return nil
}

func (a *syncActor) selectRoom(room models.Room) uint64 {
	if room == a.room && !room.IsZero() {
		a.loading = true
		return a.gen
	}
	a.teardown()
	a.gen++
	a.room = room
	if room.IsZero() {
		a.changed()
		return a.gen
	}

	gen := a.gen
	a.loading = true
	event := socketclient.EventNewMessage
	if room.Kind == models.RoomGroup {
		event = socketclient.EventNewGroupMessage
	}
	a.roomUnsubs = append(a.roomUnsubs,
		a.channel.Subscribe(event, func(data json.RawMessage) {
			var msg models.Message
			if err := json.Unmarshal(data, &msg); err != nil {
				a.log.Warn("dropping malformed %s: %v", event, err)
				return
			}
			a.self.post(&liveMessage{gen: gen, msg: msg})
		}),
		a.channel.Subscribe(socketclient.EventDeleteMessage, func(data json.RawMessage) {
			var p socketclient.DeleteMessagePayload
			if err := json.Unmarshal(data, &p); err != nil || p.ID.IsZero() {
				return
			}
			a.self.post(&liveDelete{gen: gen, payload: p})
		}),
	)
	if err := a.channel.Join(socketclient.JoinRoom(room, a.opts.Token.Reveal())); err != nil {
		a.log.Warn("join %s: %v", room, err)
	}
	a.log.Debug("selected %s (generation %d)", room, gen)
	a.changed()
	return gen
}

// teardown leaves the current room, removes its subscriptions and clears
// the log.
func (a *syncActor) teardown() {
	for _, unsub := range a.roomUnsubs {
		unsub()
	}
	a.roomUnsubs = nil
	if !a.room.IsZero() {
		if err := a.channel.Leave(socketclient.LeaveRoom(a.room)); err != nil {
			a.log.Debug("leave %s: %v", a.room, err)
		}
	}
	a.room = models.Room{}
	a.msgs.reset()
	a.buffered = nil
	a.loading = false
	a.lastErr = nil
}

func (a *syncActor) applyHistory(m *historyLoaded) bool {
	if m.gen != a.gen || m.room != a.room {
		a.opts.Metrics.StaleHistory()
		a.log.Debug("discarding stale history for %s", m.room)
		return false
	}
	buffered := a.buffered
	a.buffered = nil
	a.loading = false

	if m.err != nil {
		a.log.Error("history for %s failed: %v", m.room, m.err)
		a.msgs.reset()
		a.lastErr = m.err
		a.changed()
		return true
	}

	a.lastErr = nil
	a.msgs.seed(m.history)
	for range m.history {
		a.opts.Metrics.MessageApplied("history", false)
	}
	for _, live := range buffered {
		a.mergeLive(live)
	}
	a.changed()
	return true
}

func (a *syncActor) applyLive(m *liveMessage) {
	if m.gen != a.gen || !a.room.Matches(m.msg) {
		return
	}
	if a.loading {
		a.buffered = append(a.buffered, m.msg)
		return
	}
	a.mergeLive(m.msg)
	a.changed()
}

func (a *syncActor) mergeLive(msg models.Message) {
	collapsed := a.msgs.merge(msg)
	a.opts.Metrics.MessageApplied("live", collapsed)
	if collapsed {
		a.log.Debug("collapsed echo from %s", msg.SenderID)
	}
	if a.opts.OnLastMessage != nil {
		a.opts.OnLastMessage(a.room, msg)
	}
}

func (a *syncActor) send(m *sendMessages) error {
	room := m.room
	if room.IsZero() {
		room = a.room
	}
	if room.IsZero() {
		return ErrNoRoom
	}
	local := room == a.room

	for _, o := range m.out {
		msg := models.Message{
			SenderID:  a.opts.SenderID,
			Text:      o.text,
			Type:      o.kind,
			Timestamp: models.NewTimestamp(a.opts.Clock()),
		}
		var (
			event   string
			payload interface{}
		)
		if room.Kind == models.RoomGroup {
			msg.GroupID = room.ID
			event = socketclient.EventSendGroupMessage
			payload = socketclient.SendGroupMessagePayload{
				SenderID:    a.opts.SenderID,
				GroupID:     room.ID,
				Message:     o.text,
				MessageType: o.kind,
			}
		} else {
			msg.ConversationID = room.ID
			event = socketclient.EventSendMessage
			payload = socketclient.SendMessagePayload{
				Token:          a.opts.Token.Reveal(),
				ConversationID: room.ID,
				SenderID:       a.opts.SenderID,
				Message:        o.text,
				MessageType:    o.kind,
			}
		}

		if err := a.channel.Emit(event, payload); err != nil {
			a.log.Error("send to %s failed: %v", room, err)
			a.changed()
			return err
		}
		if local {
			a.msgs.addPending(msg, o.localID)
			a.opts.Metrics.MessageApplied("local", false)
		}
		if a.opts.OnLastMessage != nil {
			a.opts.OnLastMessage(room, msg)
		}
	}
	a.changed()
	return nil
}

func (a *syncActor) remove(m *removeMessage) bool {
	e := a.msgs.find(m.id)
	var room models.Room
	if e != nil {
		room = a.room
	}
	removed := a.msgs.remove(m.id)
	if removed {
		a.changed()
	}
	if m.announce && !room.IsZero() {
		p := socketclient.DeleteMessagePayload{ID: m.id}
		if room.Kind == models.RoomGroup {
			p.GroupID = room.ID
		} else {
			p.ConversationID = room.ID
		}
		if err := a.channel.Emit(socketclient.EventDeleteMessage, p); err != nil {
			a.log.Warn("announce delete of %s: %v", m.id, err)
		}
	}
	return removed
}

func (a *syncActor) matchesRoom(conversationID, groupID models.ID) bool {
	if a.room.IsZero() {
		return false
	}
	if a.room.Kind == models.RoomGroup {
		return groupID == a.room.ID
	}
	// Deletes broadcast without a room id apply to the open conversation.
	return conversationID.IsZero() || conversationID == a.room.ID
}

func (a *syncActor) changed() {
	if a.opts.OnChange != nil {
		a.opts.OnChange()
	}
}
