// Package chatsync keeps the message log of the selected room consistent
// with both REST history and the live channel.
//
// All log state is owned by one actor. Public methods post messages to it
// and, where they need an answer, wait for a reply. Blocking REST calls run
// on the caller's goroutine and their results are posted back tagged with a
// selection generation, so a response for a room that is no longer selected
// is dropped.
package chatsync

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/codefionn/ictchat/internal/actor"
	"github.com/codefionn/ictchat/internal/api"
	"github.com/codefionn/ictchat/internal/chaterr"
	"github.com/codefionn/ictchat/internal/logger"
	"github.com/codefionn/ictchat/internal/metrics"
	"github.com/codefionn/ictchat/internal/models"
	"github.com/codefionn/ictchat/internal/securemem"
	"github.com/codefionn/ictchat/internal/socketclient"
)

// ErrNoRoom is returned when sending with no room selected.
var ErrNoRoom = errors.New("no conversation selected")

// Backend is the REST surface the synchronizer uses. *api.Client implements it.
type Backend interface {
	History(ctx context.Context, room models.Room) ([]models.Message, error)
	DeleteMessage(ctx context.Context, id models.ID) error
	Upload(ctx context.Context, username string, files []api.File) ([]string, error)
}

// Options configures a Synchronizer.
type Options struct {
	// SenderID and Username identify the local user.
	SenderID models.ID
	Username string
	// Token is sent inside join and send_message payloads.
	Token *securemem.Token

	DedupWindow time.Duration
	Location    *time.Location
	Clock       func() time.Time
	MailboxSize int
	// Sequential processes every message on the sending goroutine.
	Sequential bool

	Metrics *metrics.Metrics
	// OnLastMessage is told about every message that lands in the log.
	OnLastMessage func(room models.Room, m models.Message)
	// OnChange fires after any change to the snapshot.
	OnChange func()
}

// Snapshot is a consistent view of the synchronizer state.
type Snapshot struct {
	Room      models.Room
	Entries   []Entry
	Loading   bool
	Err       error
	AuthError string
}

// Synchronizer merges history and live events for the selected room.
type Synchronizer struct {
	ref   *actor.ActorRef
	state *syncActor
	opts  Options
	log   *logger.Logger
}

// New creates a synchronizer on top of channel and backend. Call Start
// before use.
func New(channel socketclient.Channel, backend Backend, opts Options) *Synchronizer {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.MailboxSize <= 0 {
		opts.MailboxSize = 256
	}
	log := logger.Global().WithPrefix("chatsync")

	s := &Synchronizer{opts: opts, log: log}
	s.state = &syncActor{
		channel: channel,
		backend: backend,
		opts:    opts,
		log:     log,
		msgs:    newMessageLog(opts.DedupWindow),
	}
	s.state.self = s

	var refOpts []actor.ActorRefOption
	if opts.Sequential {
		refOpts = append(refOpts, actor.WithSequentialProcessing())
	}
	refOpts = append(refOpts, actor.WithErrorHandler(func(_ string, msg actor.Message, err error) {
		log.Warn("%s: %v", msg.Type(), err)
	}))
	s.ref = actor.NewActorRef("chatsync", s.state, opts.MailboxSize, refOpts...)
	return s
}

// Start launches the actor and subscribes to channel-wide events.
func (s *Synchronizer) Start(ctx context.Context) error {
	return s.ref.Start(ctx)
}

// Stop leaves the current room, removes all subscriptions and stops the
// actor.
func (s *Synchronizer) Stop(ctx context.Context) error {
	return s.ref.Stop(ctx)
}

// Select switches to room. The previous room is torn down first, then the
// new one is joined and its history loaded. A zero room just deselects.
func (s *Synchronizer) Select(ctx context.Context, room models.Room) error {
	gen, err := actor.Ask(ctx, s.ref, func(reply chan<- uint64) actor.Message {
		return &selectRoom{room: room, reply: reply}
	})
	if err != nil {
		return err
	}
	if room.IsZero() {
		return nil
	}
	return s.loadHistory(ctx, gen, room)
}

// LoadHistory refetches the selected room and replaces the log with it.
func (s *Synchronizer) LoadHistory(ctx context.Context) error {
	cur, err := actor.Ask(ctx, s.ref, func(reply chan<- selection) actor.Message {
		return &beginReload{reply: reply}
	})
	if err != nil {
		return err
	}
	if cur.room.IsZero() {
		return ErrNoRoom
	}
	return s.loadHistory(ctx, cur.gen, cur.room)
}

func (s *Synchronizer) loadHistory(ctx context.Context, gen uint64, room models.Room) error {
	start := time.Now()
	history, err := s.state.backend.History(ctx, room)
	s.opts.Metrics.History(time.Since(start))

	applied, askErr := actor.Ask(ctx, s.ref, func(reply chan<- bool) actor.Message {
		return &historyLoaded{gen: gen, room: room, history: history, err: err, reply: reply}
	})
	if askErr != nil {
		return askErr
	}
	if !applied {
		return nil
	}
	return err
}

// Snapshot returns the current state.
func (s *Synchronizer) Snapshot(ctx context.Context) (Snapshot, error) {
	return actor.Ask(ctx, s.ref, func(reply chan<- Snapshot) actor.Message {
		return &snapshotQuery{reply: reply}
	})
}

// Messages returns the log ordered by timestamp.
func (s *Synchronizer) Messages(ctx context.Context) ([]Entry, error) {
	snap, err := s.Snapshot(ctx)
	return snap.Entries, err
}

// Groups returns the log bucketed by local day.
func (s *Synchronizer) Groups(ctx context.Context) ([]DayGroup, error) {
	entries, err := s.Messages(ctx)
	if err != nil {
		return nil, err
	}
	return GroupByDay(entries, s.opts.Clock(), s.opts.Location), nil
}

// Send posts a text message to the selected room and appends an optimistic
// copy at once.
func (s *Synchronizer) Send(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	return s.send(ctx, models.Room{}, []outgoing{{text: text, kind: models.TypeText}})
}

// SendFiles uploads files and posts one message per returned URL. Images
// are sent as image messages, everything else as file messages.
func (s *Synchronizer) SendFiles(ctx context.Context, files []api.File) error {
	if len(files) == 0 {
		return nil
	}
	cur, err := s.current(ctx)
	if err != nil {
		return err
	}
	if cur.room.IsZero() {
		return ErrNoRoom
	}

	urls, err := s.state.backend.Upload(ctx, s.opts.Username, files)
	if err != nil {
		s.log.Error("upload failed: %v", err)
		return err
	}
	out := make([]outgoing, len(urls))
	for i, u := range urls {
		kind := models.TypeFile
		if files[i].IsImage() {
			kind = models.TypeImage
		}
		out[i] = outgoing{text: u, kind: kind}
	}
	return s.send(ctx, cur.room, out)
}

func (s *Synchronizer) send(ctx context.Context, room models.Room, out []outgoing) error {
	for i := range out {
		out[i].localID = uuid.NewString()
	}
	err, askErr := actor.Ask(ctx, s.ref, func(reply chan<- error) actor.Message {
		return &sendMessages{room: room, out: out, reply: reply}
	})
	if askErr != nil {
		return askErr
	}
	return err
}

// Delete removes a message on the server. On success it is removed locally
// and the deletion is announced on the live channel; on failure the log is
// left as it was.
func (s *Synchronizer) Delete(ctx context.Context, id models.ID) error {
	if id.IsZero() {
		return chaterr.New(chaterr.KindProtocol, "chatsync.delete", "message has no server id")
	}
	if err := s.state.backend.DeleteMessage(ctx, id); err != nil {
		s.log.Error("delete %s failed: %v", id, err)
		return err
	}
	_, err := actor.Ask(ctx, s.ref, func(reply chan<- bool) actor.Message {
		return &removeMessage{id: id, announce: true, reply: reply}
	})
	return err
}

func (s *Synchronizer) current(ctx context.Context) (selection, error) {
	return actor.Ask(ctx, s.ref, func(reply chan<- selection) actor.Message {
		return &currentQuery{reply: reply}
	})
}

// post delivers a message from a live-channel handler.
func (s *Synchronizer) post(msg actor.Message) {
	s.state.mu.Lock()
	ctx := s.state.ctx
	s.state.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.ref.SendContext(ctx, msg); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Debug("dropping %s: %v", msg.Type(), err)
	}
}
