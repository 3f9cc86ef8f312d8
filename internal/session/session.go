// Package session ties authorization, the live connection, the directory
// and the synchronizer into one user session.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/codefionn/ictchat/internal/authz"
	"github.com/codefionn/ictchat/internal/chatsync"
	"github.com/codefionn/ictchat/internal/directory"
	"github.com/codefionn/ictchat/internal/logger"
	"github.com/codefionn/ictchat/internal/metrics"
	"github.com/codefionn/ictchat/internal/models"
	"github.com/codefionn/ictchat/internal/securemem"
	"github.com/codefionn/ictchat/internal/socketclient"
	"github.com/codefionn/ictchat/internal/tokenstore"
)

// ErrNotActive is returned by operations that need an authorized session.
var ErrNotActive = errors.New("session not active")

// Backend is the REST surface of one token.
type Backend interface {
	chatsync.Backend
	directory.Backend
}

// Opener hands out live connections. *socketclient.Manager implements it.
type Opener interface {
	Open(ctx context.Context, token *securemem.Token) (*socketclient.Handle, error)
}

// Options configures a Session.
type Options struct {
	Authorizer *authz.Authorizer
	Opener     Opener
	// NewBackend builds the REST client for a validated token.
	NewBackend func(token *securemem.Token) Backend

	DedupWindow    time.Duration
	SearchDebounce time.Duration
	Location       *time.Location
	Clock          func() time.Time
	// Sequential runs the synchronizer inline; used by tests.
	Sequential bool

	Metrics *metrics.Metrics
	// OnChange fires when anything a renderer shows may have changed.
	OnChange func()
}

// Session is the authorized state of one user. Start it once; Logout or
// ReplaceToken tear it down.
type Session struct {
	opts Options
	log  *logger.Logger

	mu      sync.RWMutex
	verdict authz.Verdict
	handle  *socketclient.Handle
	dir     *directory.Directory
	chat    *chatsync.Synchronizer
}

// New creates an inactive session.
func New(opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Session{opts: opts, log: logger.Global().WithPrefix("session")}
}

// Start authorizes urlToken (or the persisted token when empty) and, on
// success, opens the live connection and loads the conversation list. A
// rejected verdict is returned together with its error.
func (s *Session) Start(ctx context.Context, urlToken string) (authz.Verdict, error) {
	if s.Active() {
		if err := s.Stop(ctx); err != nil {
			s.log.Warn("stopping previous session: %v", err)
		}
	}

	verdict := s.opts.Authorizer.Authorize(ctx, urlToken)
	if !verdict.Authorized() {
		s.mu.Lock()
		s.verdict = verdict
		s.mu.Unlock()
		s.changed()
		return verdict, verdict.Err()
	}

	handle, err := s.opts.Opener.Open(ctx, verdict.Token)
	if err != nil {
		s.log.Error("opening live connection failed: %v", err)
		verdict.Token.Destroy()
		return verdict, err
	}

	id := verdict.Identity
	backend := s.opts.NewBackend(verdict.Token)
	dir := directory.New(backend, directory.Options{
		Self:     id.ID,
		Debounce: s.opts.SearchDebounce,
		Clock:    s.opts.Clock,
		Location: s.opts.Location,
		OnChange: s.changed,
	})
	chat := chatsync.New(handle, backend, chatsync.Options{
		SenderID:      id.ID,
		Username:      id.Username,
		Token:         verdict.Token,
		DedupWindow:   s.opts.DedupWindow,
		Location:      s.opts.Location,
		Clock:         s.opts.Clock,
		Sequential:    s.opts.Sequential,
		Metrics:       s.opts.Metrics,
		OnLastMessage: dir.ApplyLastMessage,
		OnChange:      s.changed,
	})
	// The actor outlives the request that started the session.
	if err := chat.Start(context.WithoutCancel(ctx)); err != nil {
		handle.Close()
		verdict.Token.Destroy()
		return verdict, err
	}

	s.mu.Lock()
	s.verdict = verdict
	s.handle = handle
	s.dir = dir
	s.chat = chat
	s.mu.Unlock()

	if err := dir.Refresh(ctx); err != nil {
		s.log.Warn("initial conversation load failed: %v", err)
	}
	s.log.Info("session started for %s", id.Username)
	s.changed()
	return verdict, nil
}

// Stop tears the session down: the synchronizer leaves its room and drops
// its subscriptions before the connection is released.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	verdict, handle, dir, chat := s.verdict, s.handle, s.dir, s.chat
	s.verdict = authz.Verdict{}
	s.handle, s.dir, s.chat = nil, nil, nil
	s.mu.Unlock()

	var errs []error
	if chat != nil {
		errs = append(errs, chat.Stop(ctx))
	}
	if dir != nil {
		dir.Close()
	}
	if handle != nil {
		errs = append(errs, handle.Close())
	}
	verdict.Token.Destroy()
	s.changed()
	return errors.Join(errs...)
}

// Logout stops the session and forgets the persisted token.
func (s *Session) Logout(ctx context.Context) error {
	stopErr := s.Stop(ctx)
	if err := s.opts.Authorizer.Logout(ctx); err != nil {
		return errors.Join(stopErr, err)
	}
	s.log.Info("logged out")
	return stopErr
}

// ReplaceToken tears down the current session and authorizes token.
func (s *Session) ReplaceToken(ctx context.Context, token string) (authz.Verdict, error) {
	if err := s.Stop(ctx); err != nil {
		s.log.Warn("teardown before token replacement: %v", err)
	}
	return s.Start(ctx, token)
}

// FollowTokenFile re-runs authorization whenever a new token is written to
// path.
func (s *Session) FollowTokenFile(ctx context.Context, path string) (*tokenstore.Watcher, error) {
	return tokenstore.Watch(path, func(token string) {
		s.log.Info("token file changed, re-authorizing")
		if _, err := s.ReplaceToken(ctx, token); err != nil {
			s.log.Warn("re-authorization failed: %v", err)
		}
	})
}

// Active reports whether the session is authorized.
func (s *Session) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chat != nil
}

// Verdict returns the last authorization verdict.
func (s *Session) Verdict() authz.Verdict {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.verdict
}

// Identity returns the authorized identity, or nil.
func (s *Session) Identity() *authz.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.verdict.Identity
}

// Directory returns the conversation directory of an active session.
func (s *Session) Directory() (*directory.Directory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.dir == nil {
		return nil, ErrNotActive
	}
	return s.dir, nil
}

// Chat returns the synchronizer of an active session.
func (s *Session) Chat() (*chatsync.Synchronizer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.chat == nil {
		return nil, ErrNotActive
	}
	return s.chat, nil
}

// OpenConversation resolves c through the directory, creating it if
// needed, and selects its room.
func (s *Session) OpenConversation(ctx context.Context, c models.Conversation) (models.Conversation, error) {
	dir, err := s.Directory()
	if err != nil {
		return models.Conversation{}, err
	}
	chat, err := s.Chat()
	if err != nil {
		return models.Conversation{}, err
	}
	convo, err := dir.Open(ctx, c)
	if err != nil {
		return models.Conversation{}, err
	}
	return convo, chat.Select(ctx, models.Direct(convo.ID))
}

// OpenGroup selects a group room.
func (s *Session) OpenGroup(ctx context.Context, groupID models.ID) error {
	chat, err := s.Chat()
	if err != nil {
		return err
	}
	return chat.Select(ctx, models.Group(groupID))
}

func (s *Session) changed() {
	if s.opts.OnChange != nil {
		s.opts.OnChange()
	}
}
