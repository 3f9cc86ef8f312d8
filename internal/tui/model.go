// Package tui is the terminal renderer of a chat session.
package tui

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/codefionn/ictchat/internal/authz"
	"github.com/codefionn/ictchat/internal/chatsync"
	"github.com/codefionn/ictchat/internal/directory"
	"github.com/codefionn/ictchat/internal/logger"
	"github.com/codefionn/ictchat/internal/models"
)

const errorDisplayDuration = 5 * time.Second

// Client is the session surface the UI drives. *session.Session satisfies it.
type Client interface {
	Verdict() authz.Verdict
	Directory() (*directory.Directory, error)
	Chat() (*chatsync.Synchronizer, error)
	OpenConversation(ctx context.Context, c models.Conversation) (models.Conversation, error)
	Logout(ctx context.Context) error
}

type focus int

const (
	focusList focus = iota
	focusSearch
	focusCompose
)

// changedMsg asks the model to re-read session state.
type changedMsg struct{}

type errMsg struct{ err error }

type loggedOutMsg struct{}

// Options configures a Model.
type Options struct {
	// Changes delivers a value whenever session state changed.
	Changes  <-chan struct{}
	Location *time.Location
	Clock    func() time.Time
}

// Model is the bubbletea model of the chat screen.
type Model struct {
	ctx      context.Context
	client   Client
	changes  <-chan struct{}
	location *time.Location
	clock    func() time.Time
	keys     keyMap
	log      *logger.Logger

	search   textinput.Model
	compose  textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	spinning bool

	focus    focus
	cursor   int
	entries  []directory.Entry
	mode     directory.Mode
	snap     chatsync.Snapshot
	identity *authz.Identity
	peer     string

	err       error
	errUntil  time.Time
	width     int
	height    int
	ready     bool
	quitting  bool
	loggedOut bool
}

// New creates the model. ctx bounds every request the UI issues.
func New(ctx context.Context, client Client, opts Options) *Model {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}

	search := textinput.New()
	search.Placeholder = "Search users..."
	search.Prompt = "/ "
	search.CharLimit = 64

	compose := textinput.New()
	compose.Placeholder = "Type a message..."
	compose.Prompt = "> "
	compose.CharLimit = 4000

	return &Model{
		ctx:      ctx,
		client:   client,
		changes:  opts.Changes,
		location: opts.Location,
		clock:    opts.Clock,
		keys:     defaultKeyMap(),
		log:      logger.Global().WithPrefix("tui"),
		search:   search,
		compose:  compose,
		viewport: viewport.New(0, 0),
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot)),
	}
}

// LoggedOut reports whether the user left through logout rather than quit.
func (m *Model) LoggedOut() bool {
	return m.loggedOut
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(func() tea.Msg { return changedMsg{} }, waitForChange(m.changes))
}

func waitForChange(ch <-chan struct{}) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return changedMsg{}
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case changedMsg:
		cmd := m.refresh()
		return m, tea.Batch(cmd, waitForChange(m.changes))

	case errMsg:
		m.setErr(msg.err)
		return m, nil

	case loggedOutMsg:
		m.loggedOut = true
		m.quitting = true
		return m, tea.Quit

	case spinner.TickMsg:
		if !m.snap.Loading {
			m.spinning = false
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit
	case key.Matches(msg, m.keys.PageUp), key.Matches(msg, m.keys.PageDown):
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	switch m.focus {
	case focusSearch:
		return m.handleSearchKey(msg)
	case focusCompose:
		return m.handleComposeKey(msg)
	default:
		return m.handleListKey(msg)
	}
}

func (m *Model) handleListKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.entries)-1 {
			m.cursor++
		}
	case key.Matches(msg, m.keys.Open):
		if m.cursor < len(m.entries) {
			m.setFocus(focusCompose)
			return m, m.openCmd(m.entries[m.cursor].Conversation)
		}
	case key.Matches(msg, m.keys.Search):
		m.setFocus(focusSearch)
		return m, textinput.Blink
	case key.Matches(msg, m.keys.AllUsers):
		return m, m.dirCmd(func(d *directory.Directory) error { return d.ShowAllUsers(m.ctx) })
	case key.Matches(msg, m.keys.Back):
		return m, m.dirCmd(func(d *directory.Directory) error { d.ShowConversations(); return nil })
	case key.Matches(msg, m.keys.Reload):
		return m, m.reloadCmd()
	case key.Matches(msg, m.keys.Logout):
		return m, m.logoutCmd()
	case key.Matches(msg, m.keys.NextFocus):
		m.setFocus(focusCompose)
	}
	return m, nil
}

func (m *Model) handleSearchKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Back):
		m.search.Reset()
		m.setFocus(focusList)
		return m, m.dirCmd(func(d *directory.Directory) error { d.ShowConversations(); return nil })
	case key.Matches(msg, m.keys.Open), key.Matches(msg, m.keys.NextFocus):
		m.setFocus(focusList)
		return m, nil
	}

	before := m.search.Value()
	var cmd tea.Cmd
	m.search, cmd = m.search.Update(msg)
	if term := m.search.Value(); term != before {
		if dir, err := m.client.Directory(); err == nil {
			dir.Search(m.ctx, term)
		}
		m.cursor = 0
	}
	return m, cmd
}

func (m *Model) handleComposeKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Open):
		text := strings.TrimSpace(m.compose.Value())
		if text == "" {
			return m, nil
		}
		m.compose.Reset()
		return m, m.chatCmd(func(c *chatsync.Synchronizer) error { return c.Send(m.ctx, text) })
	case key.Matches(msg, m.keys.DeleteLast):
		if id := m.lastOwnMessage(); !id.IsZero() {
			return m, m.chatCmd(func(c *chatsync.Synchronizer) error { return c.Delete(m.ctx, id) })
		}
		return m, nil
	case key.Matches(msg, m.keys.Back), key.Matches(msg, m.keys.NextFocus):
		m.setFocus(focusList)
		return m, nil
	}

	var cmd tea.Cmd
	m.compose, cmd = m.compose.Update(msg)
	return m, cmd
}

func (m *Model) setFocus(f focus) {
	m.focus = f
	m.search.Blur()
	m.compose.Blur()
	switch f {
	case focusSearch:
		m.search.Focus()
	case focusCompose:
		m.compose.Focus()
	}
}

func (m *Model) resize(width, height int) {
	m.width, m.height = width, height
	chatWidth := width - listWidth - 4
	if chatWidth < 20 {
		chatWidth = 20
	}
	// Panel borders, the chat title and the compose line.
	chatHeight := height - headerHeight - footerHeight - 4
	if chatHeight < 3 {
		chatHeight = 3
	}
	m.viewport.Width = chatWidth
	m.viewport.Height = chatHeight
	m.search.Width = listWidth - 4
	m.compose.Width = chatWidth - 3
	m.ready = true
	m.renderViewport()
}

// refresh re-reads directory and chat state.
func (m *Model) refresh() tea.Cmd {
	v := m.client.Verdict()
	m.identity = v.Identity

	dir, err := m.client.Directory()
	if err != nil {
		m.entries = nil
		m.snap = chatsync.Snapshot{}
		if !v.Authorized() && v.Reason != "" {
			m.setErr(errors.New(v.Reason))
		}
		m.renderViewport()
		return nil
	}
	m.entries = dir.Entries()
	m.mode, _ = dir.Mode()
	if m.cursor >= len(m.entries) {
		m.cursor = max(len(m.entries)-1, 0)
	}
	if err := dir.Err(); err != nil {
		m.setErr(err)
	}

	m.peer = ""
	for _, e := range m.entries {
		if e.Selected {
			m.peer = e.Name
		}
	}

	chat, err := m.client.Chat()
	if err != nil {
		return nil
	}
	snap, err := chat.Snapshot(m.ctx)
	if err != nil {
		m.setErr(err)
		return nil
	}
	m.snap = snap
	if snap.Err != nil {
		m.setErr(snap.Err)
	}
	m.renderViewport()

	if snap.Loading && !m.spinning {
		m.spinning = true
		return m.spinner.Tick
	}
	return nil
}

func (m *Model) renderViewport() {
	if !m.ready {
		return
	}
	var self models.ID
	if m.identity != nil {
		self = m.identity.ID
	}
	groups := chatsync.GroupByDay(m.snap.Entries, m.clock(), m.location)
	m.viewport.SetContent(renderMessages(groups, self, m.peer, m.viewport.Width, m.location))
	m.viewport.GotoBottom()
}

func (m *Model) setErr(err error) {
	if err == nil {
		return
	}
	m.log.Warn("%v", err)
	m.err = err
	m.errUntil = m.clock().Add(errorDisplayDuration)
}

// lastOwnMessage returns the newest confirmed message sent by the user.
func (m *Model) lastOwnMessage() models.ID {
	if m.identity == nil {
		return ""
	}
	for i := len(m.snap.Entries) - 1; i >= 0; i-- {
		e := m.snap.Entries[i]
		if e.SenderID == m.identity.ID && e.Phase == chatsync.Confirmed && !e.ID.IsZero() {
			return e.ID
		}
	}
	return ""
}

func (m *Model) openCmd(c models.Conversation) tea.Cmd {
	return func() tea.Msg {
		if _, err := m.client.OpenConversation(m.ctx, c); err != nil {
			return errMsg{err}
		}
		return changedMsg{}
	}
}

func (m *Model) dirCmd(fn func(*directory.Directory) error) tea.Cmd {
	return func() tea.Msg {
		dir, err := m.client.Directory()
		if err == nil {
			err = fn(dir)
		}
		if err != nil {
			return errMsg{err}
		}
		return changedMsg{}
	}
}

func (m *Model) chatCmd(fn func(*chatsync.Synchronizer) error) tea.Cmd {
	return func() tea.Msg {
		chat, err := m.client.Chat()
		if err == nil {
			err = fn(chat)
		}
		if err != nil {
			return errMsg{err}
		}
		return changedMsg{}
	}
}

func (m *Model) reloadCmd() tea.Cmd {
	return func() tea.Msg {
		if dir, err := m.client.Directory(); err == nil {
			if err := dir.Refresh(m.ctx); err != nil {
				return errMsg{err}
			}
		}
		if chat, err := m.client.Chat(); err == nil {
			if err := chat.LoadHistory(m.ctx); err != nil && !errors.Is(err, chatsync.ErrNoRoom) {
				return errMsg{err}
			}
		}
		return changedMsg{}
	}
}

func (m *Model) logoutCmd() tea.Cmd {
	return func() tea.Msg {
		if err := m.client.Logout(m.ctx); err != nil {
			return errMsg{err}
		}
		return loggedOutMsg{}
	}
}
