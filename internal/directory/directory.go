// Package directory maintains the conversation list and the user search
// that feeds "start a conversation".
package directory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/codefionn/ictchat/internal/api"
	"github.com/codefionn/ictchat/internal/logger"
	"github.com/codefionn/ictchat/internal/models"
)

// DefaultDebounce is the quiet period before a search request is sent.
const DefaultDebounce = 400 * time.Millisecond

// Backend is the REST surface the directory uses. *api.Client implements it.
type Backend interface {
	Conversations(ctx context.Context) ([]models.Conversation, error)
	SearchUsers(ctx context.Context, term string) ([]models.User, error)
	AllUsers(ctx context.Context) ([]models.User, error)
	CreateConversation(ctx context.Context, self, other models.ID) (*models.Conversation, error)
}

var _ Backend = (*api.Client)(nil)

// Mode selects which list Entries shows.
type Mode int

const (
	ModeConversations Mode = iota
	ModeSearch
	ModeAllUsers
)

func (m Mode) String() string {
	switch m {
	case ModeSearch:
		return "search"
	case ModeAllUsers:
		return "all_users"
	default:
		return "conversations"
	}
}

// Entry is one row as a renderer shows it.
type Entry struct {
	models.Conversation
	Name     string `json:"name"`
	Snippet  string `json:"snippet"`
	TimeAgo  string `json:"time_ago"`
	Selected bool   `json:"selected"`
}

// Options configures a Directory.
type Options struct {
	// Self is the local user id, sent as user1_id on create.
	Self     models.ID
	Debounce time.Duration
	Clock    func() time.Time
	Location *time.Location
	// OnChange fires after the visible list changes.
	OnChange func()
}

// Directory merges the conversation list, search results and the all-users
// browse. It is safe for concurrent use.
type Directory struct {
	backend Backend
	opts    Options
	log     *logger.Logger

	mu            sync.Mutex
	conversations []models.Conversation
	candidates    []models.Conversation
	mode          Mode
	term          string
	searchSeq     uint64
	timer         *time.Timer
	selected      models.ID
	lastErr       error
	closed        bool
}

// New creates an empty directory. Call Refresh to load it.
func New(backend Backend, opts Options) *Directory {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Directory{
		backend: backend,
		opts:    opts,
		log:     logger.Global().WithPrefix("directory"),
	}
}

// Refresh reloads the authoritative conversation list.
func (d *Directory) Refresh(ctx context.Context) error {
	convos, err := d.backend.Conversations(ctx)
	if err != nil {
		d.log.Error("loading conversations failed: %v", err)
		d.setErr(err)
		return err
	}

	d.mu.Lock()
	d.conversations = convos
	d.lastErr = nil
	d.retagLocked()
	d.mu.Unlock()

	d.log.Info("loaded %d conversations", len(convos))
	d.changed()
	return nil
}

// Search schedules a user search for term after the debounce period. Each
// call supersedes the previous one. A blank term returns to the
// conversation list at once.
func (d *Directory) Search(ctx context.Context, term string) {
	term = strings.TrimSpace(term)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.searchSeq++
	seq := d.searchSeq
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.term = term
	if term == "" {
		d.mode = ModeConversations
		d.candidates = nil
		d.mu.Unlock()
		d.changed()
		return
	}
	d.mode = ModeSearch
	d.timer = time.AfterFunc(d.opts.Debounce, func() {
		if err := d.runSearch(ctx, seq, term); err != nil && !errors.Is(err, context.Canceled) {
			d.log.Warn("search %q failed: %v", term, err)
		}
	})
	d.mu.Unlock()
}

// SearchNow runs a search immediately, bypassing the debounce.
func (d *Directory) SearchNow(ctx context.Context, term string) error {
	term = strings.TrimSpace(term)
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.searchSeq++
	seq := d.searchSeq
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.term = term
	d.mode = ModeSearch
	d.mu.Unlock()
	return d.runSearch(ctx, seq, term)
}

func (d *Directory) runSearch(ctx context.Context, seq uint64, term string) error {
	users, err := d.backend.SearchUsers(ctx, term)

	d.mu.Lock()
	if seq != d.searchSeq {
		d.mu.Unlock()
		return nil
	}
	if err != nil {
		d.lastErr = err
		d.mu.Unlock()
		return err
	}
	d.candidates = d.tagLocked(users)
	d.lastErr = nil
	d.mu.Unlock()

	d.changed()
	return nil
}

// ShowAllUsers switches to the browse list of every user.
func (d *Directory) ShowAllUsers(ctx context.Context) error {
	d.mu.Lock()
	d.searchSeq++
	seq := d.searchSeq
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()

	users, err := d.backend.AllUsers(ctx)
	if err != nil {
		d.log.Error("loading users failed: %v", err)
		d.setErr(err)
		return err
	}

	d.mu.Lock()
	if seq != d.searchSeq {
		d.mu.Unlock()
		return nil
	}
	d.mode = ModeAllUsers
	d.term = ""
	d.candidates = d.tagLocked(users)
	d.lastErr = nil
	d.mu.Unlock()

	d.changed()
	return nil
}

// ShowConversations leaves search or browse mode.
func (d *Directory) ShowConversations() {
	d.Search(context.Background(), "")
}

// Mode returns the current list mode and search term.
func (d *Directory) Mode() (Mode, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode, d.term
}

// Err returns the last load error, if any.
func (d *Directory) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastErr
}

// Conversations returns a copy of the conversation list.
func (d *Directory) Conversations() []models.Conversation {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]models.Conversation(nil), d.conversations...)
}

// Entries returns the visible list for the current mode.
func (d *Directory) Entries() []Entry {
	d.mu.Lock()
	defer d.mu.Unlock()

	src := d.conversations
	if d.mode != ModeConversations {
		src = d.candidates
	}
	now := d.opts.Clock()
	out := make([]Entry, len(src))
	for i, c := range src {
		out[i] = Entry{
			Conversation: c,
			Name:         c.DisplayName(),
			Snippet:      Snippet(c),
			TimeAgo:      RelativeTime(c.LastTime.Time, now, d.opts.Location),
			Selected:     isConversationRow(c) && !d.selected.IsZero() && c.ID == d.selected,
		}
	}
	return out
}

// Selected returns the id of the selected conversation.
func (d *Directory) Selected() models.ID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.selected
}

// Find returns the conversation with id.
func (d *Directory) Find(id models.ID) (models.Conversation, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.conversations {
		if c.ID == id {
			return c, true
		}
	}
	return models.Conversation{}, false
}

// Open resolves an entry to a conversation and selects it. A candidate
// whose user already has a conversation opens that conversation; any other
// candidate creates one.
func (d *Directory) Open(ctx context.Context, c models.Conversation) (models.Conversation, error) {
	if existing, ok := d.existingFor(c); ok {
		d.selectID(existing.ID)
		return existing, nil
	}
	if isConversationRow(c) {
		d.selectID(c.ID)
		return c, nil
	}
	return d.Create(ctx, models.User{ID: candidateUserID(c), Username: c.DisplayName(), Email: c.Email})
}

// Create starts a conversation with user. If one already exists it is
// returned and selected without a request.
func (d *Directory) Create(ctx context.Context, user models.User) (models.Conversation, error) {
	if existing, ok := d.existingFor(models.Conversation{ID: user.ID, OtherUserID: user.ID, Username: user.Username}); ok {
		d.selectID(existing.ID)
		return existing, nil
	}

	convo, err := d.backend.CreateConversation(ctx, d.opts.Self, user.ID)
	if err != nil {
		d.log.Error("creating conversation with %s failed: %v", user.Username, err)
		return models.Conversation{}, err
	}
	created := *convo
	created.HasConversation = true
	if created.OtherUsername == "" {
		created.OtherUsername = user.Username
	}
	if created.OtherUserID.IsZero() {
		created.OtherUserID = user.ID
	}

	d.mu.Lock()
	d.conversations = append(d.conversations, created)
	d.selected = created.ID
	d.mode = ModeConversations
	d.term = ""
	d.candidates = nil
	d.searchSeq++
	d.mu.Unlock()

	d.log.Info("created conversation %s with %s", created.ID, user.Username)
	d.changed()
	return created, nil
}

// ApplyLastMessage patches the snippet of the conversation m belongs to and
// moves it to the top. Group messages and unknown conversations are ignored.
func (d *Directory) ApplyLastMessage(room models.Room, m models.Message) {
	if room.Kind != models.RoomDirect {
		return
	}
	id := m.ConversationID
	if id.IsZero() {
		id = room.ID
	}

	d.mu.Lock()
	idx := -1
	for i, c := range d.conversations {
		if c.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		d.mu.Unlock()
		return
	}
	c := d.conversations[idx]
	c.LastMessage = m.Text
	c.LastMessageType = m.Type
	if c.LastMessageType == "" {
		c.LastMessageType = models.TypeText
	}
	c.LastTime = m.Timestamp
	copy(d.conversations[1:idx+1], d.conversations[:idx])
	d.conversations[0] = c
	d.mu.Unlock()

	d.changed()
}

// Close cancels a pending search.
func (d *Directory) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.searchSeq++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Directory) existingFor(c models.Conversation) (models.Conversation, bool) {
	name := c.Username
	if name == "" {
		name = c.OtherUsername
	}
	userID := candidateUserID(c)

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, conv := range d.conversations {
		if name != "" && conv.OtherUsername == name {
			return conv, true
		}
		if !userID.IsZero() && conv.OtherUserID == userID {
			return conv, true
		}
	}
	// Only a conversation row carries a conversation id; a candidate's ID
	// is a user id.
	if isConversationRow(c) {
		for _, conv := range d.conversations {
			if conv.ID == c.ID {
				return conv, true
			}
		}
	}
	return models.Conversation{}, false
}

func isConversationRow(c models.Conversation) bool {
	return c.HasConversation && c.OtherUsername != ""
}

// candidateUserID is the user id behind a search candidate, whose ID field
// holds the user id.
func candidateUserID(c models.Conversation) models.ID {
	if !c.OtherUserID.IsZero() {
		return c.OtherUserID
	}
	if !c.HasConversation {
		return c.ID
	}
	return ""
}

func (d *Directory) selectID(id models.ID) {
	d.mu.Lock()
	d.selected = id
	d.mu.Unlock()
	d.changed()
}

// tagLocked turns users into candidates, marking those the user already
// talks to.
func (d *Directory) tagLocked(users []models.User) []models.Conversation {
	names := make(map[string]bool, len(d.conversations))
	for _, c := range d.conversations {
		if c.OtherUsername != "" {
			names[c.OtherUsername] = true
		}
	}
	out := make([]models.Conversation, 0, len(users))
	for _, u := range users {
		if !d.opts.Self.IsZero() && u.ID == d.opts.Self {
			continue
		}
		out = append(out, models.Conversation{
			ID:              u.ID,
			OtherUserID:     u.ID,
			Username:        u.Username,
			Email:           u.Email,
			HasConversation: names[u.Username],
		})
	}
	return out
}

func (d *Directory) retagLocked() {
	names := make(map[string]bool, len(d.conversations))
	for _, c := range d.conversations {
		names[c.OtherUsername] = true
	}
	for i := range d.candidates {
		d.candidates[i].HasConversation = names[d.candidates[i].Username]
	}
}

func (d *Directory) setErr(err error) {
	d.mu.Lock()
	d.lastErr = err
	d.mu.Unlock()
}

func (d *Directory) changed() {
	if d.opts.OnChange != nil {
		d.opts.OnChange()
	}
}
