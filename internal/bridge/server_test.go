package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/ictchat/internal/api"
	"github.com/codefionn/ictchat/internal/authz"
	"github.com/codefionn/ictchat/internal/chaterr"
	"github.com/codefionn/ictchat/internal/chatsync"
	"github.com/codefionn/ictchat/internal/metrics"
	"github.com/codefionn/ictchat/internal/models"
	"github.com/codefionn/ictchat/internal/securemem"
	"github.com/codefionn/ictchat/internal/session"
	"github.com/codefionn/ictchat/internal/socketclient"
	"github.com/codefionn/ictchat/internal/tokenstore"
)

var now = time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)

type verifier struct {
	users map[string]*authz.VerifyResponse
}

func (v *verifier) Verify(_ context.Context, token string) (*authz.VerifyResponse, error) {
	if resp, ok := v.users[token]; ok {
		return resp, nil
	}
	return &authz.VerifyResponse{Valid: false, Error: "unknown token"}, nil
}

type memConn struct {
	mu      sync.Mutex
	emitted []string
}

func (c *memConn) Subscribe(string, socketclient.Handler) func() { return func() {} }

func (c *memConn) Emit(event string, _ interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitted = append(c.emitted, event)
	return nil
}

func (c *memConn) Join(p socketclient.JoinPayload) error   { return c.Emit(socketclient.EventJoin, p) }
func (c *memConn) Leave(p socketclient.LeavePayload) error { return c.Emit(socketclient.EventLeave, p) }
func (c *memConn) UnsubscribeAll()                         {}
func (c *memConn) Close() error                            { return nil }
func (c *memConn) State() socketclient.ConnectionState     { return socketclient.StateConnected }

func (c *memConn) events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.emitted...)
}

type backend struct {
	mu      sync.Mutex
	deleted []models.ID
	files   []api.File
}

func (b *backend) History(_ context.Context, room models.Room) ([]models.Message, error) {
	return []models.Message{{
		ID: "9", ConversationID: room.ID, SenderID: "11", Text: "namaste",
		Timestamp: models.NewTimestamp(now.Add(-time.Hour)),
	}}, nil
}

func (b *backend) DeleteMessage(_ context.Context, id models.ID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if id == "404" {
		return chaterr.HTTPStatus("api.delete", http.StatusNotFound)
	}
	b.deleted = append(b.deleted, id)
	return nil
}

func (b *backend) Upload(_ context.Context, _ string, files []api.File) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.files = append(b.files, files...)
	urls := make([]string, len(files))
	for i, f := range files {
		urls[i] = "https://files.example/" + f.Name
	}
	return urls, nil
}

func (b *backend) Conversations(context.Context) ([]models.Conversation, error) {
	return []models.Conversation{{ID: "1", OtherUsername: "ravi", OtherUserID: "11", HasConversation: true}}, nil
}

func (b *backend) SearchUsers(_ context.Context, term string) ([]models.User, error) {
	return []models.User{{ID: "12", Username: term + "ya"}}, nil
}

func (b *backend) AllUsers(context.Context) ([]models.User, error) {
	return []models.User{{ID: "7", Username: "asha"}, {ID: "11", Username: "ravi"}, {ID: "12", Username: "priya"}}, nil
}

func (b *backend) CreateConversation(_ context.Context, _, other models.ID) (*models.Conversation, error) {
	return &models.Conversation{ID: "c-" + other}, nil
}

type harness struct {
	srv     *Server
	ts      *httptest.Server
	conn    *memConn
	backend *backend
	token   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{conn: &memConn{}, backend: &backend{}}

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"username": "asha",
		"exp":      time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	h.token = tok

	v := &verifier{users: map[string]*authz.VerifyResponse{tok: {
		Valid:       true,
		UserID:      "7",
		UserDetails: authz.UserDetails{Role: "user", App: "tasks", Username: "asha"},
	}}}
	manager := socketclient.NewManager(func(context.Context, *securemem.Token) (socketclient.Conn, error) {
		return h.conn, nil
	})
	sess := session.New(session.Options{
		Authorizer: authz.New(tokenstore.NewMemoryStore(""), v, "https://auth.example/login"),
		Opener:     manager,
		NewBackend: func(*securemem.Token) session.Backend { return h.backend },
		Clock:      func() time.Time { return now },
		Sequential: true,
	})

	h.srv = NewServer(sess, Options{Metrics: metrics.New(), Clock: func() time.Time { return now }})
	h.ts = httptest.NewServer(h.srv.Handler())
	t.Cleanup(func() {
		h.ts.Close()
		sess.Stop(context.Background())
	})
	return h
}

func (h *harness) do(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, h.ts.URL+path, r)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (h *harness) login(t *testing.T) {
	t.Helper()
	resp := h.do(t, http.MethodPost, "/api/session", map[string]string{"token": h.token})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func (h *harness) selectRavi(t *testing.T) messagesView {
	t.Helper()
	resp := h.do(t, http.MethodPost, "/api/select", map[string]string{"conversation_id": "1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decode[messagesView](t, resp)
}

func TestHealth(t *testing.T) {
	h := newHarness(t)

	resp := h.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[map[string]interface{}](t, resp)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["active"])
}

func TestInactiveSessionIsUnauthorized(t *testing.T) {
	h := newHarness(t)

	for _, path := range []string{"/api/conversations", "/api/messages", "/api/users"} {
		resp := h.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}
}

func TestLoginRejected(t *testing.T) {
	h := newHarness(t)

	resp := h.do(t, http.MethodPost, "/api/session", map[string]string{"token": "not-a-jwt"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	view := decode[sessionView](t, resp)
	assert.False(t, view.Active)
	assert.Equal(t, string(authz.CodeExpired), view.Code)
	assert.Equal(t, "https://auth.example/login", view.LoginURL)
}

func TestLoginAndConversations(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	session := decode[sessionView](t, h.do(t, http.MethodGet, "/api/session", nil))
	require.NotNil(t, session.Identity)
	assert.Equal(t, "asha", session.Identity.Username)

	dir := decode[directoryView](t, h.do(t, http.MethodGet, "/api/conversations", nil))
	assert.Equal(t, "conversations", dir.Mode)
	require.Len(t, dir.Entries, 1)
	assert.Equal(t, "ravi", dir.Entries[0].Name)
	assert.Equal(t, "No messages yet", dir.Entries[0].Snippet)
}

func TestSearchAndAllUsers(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	found := decode[directoryView](t, h.do(t, http.MethodGet, "/api/search?q=pri", nil))
	assert.Equal(t, "search", found.Mode)
	require.Len(t, found.Entries, 1)
	assert.Equal(t, "priya", found.Entries[0].Name)

	all := decode[directoryView](t, h.do(t, http.MethodGet, "/api/users", nil))
	var names []string
	for _, e := range all.Entries {
		names = append(names, e.Name)
	}
	assert.ElementsMatch(t, []string{"ravi", "priya"}, names)

	back := decode[directoryView](t, h.do(t, http.MethodGet, "/api/search?q=", nil))
	assert.Equal(t, "conversations", back.Mode)
}

func TestCreateConversation(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	resp := h.do(t, http.MethodPost, "/api/conversations", models.User{ID: "12", Username: "priya"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	convo := decode[models.Conversation](t, resp)
	assert.Equal(t, models.ID("c-12"), convo.ID)
	assert.Equal(t, "priya", convo.OtherUsername)

	resp = h.do(t, http.MethodPost, "/api/conversations", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSelectLoadsGroupedHistory(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	view := h.selectRavi(t)

	assert.Equal(t, "direct/1", view.Room)
	assert.False(t, view.Loading)
	require.Len(t, view.Groups, 1)
	assert.Equal(t, "Today", view.Groups[0].Label)
	require.Len(t, view.Groups[0].Entries, 1)
	assert.Equal(t, "namaste", view.Groups[0].Entries[0].Text)
	assert.Contains(t, h.conn.events(), socketclient.EventJoin)
}

func TestSelectUnknownConversation(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	resp := h.do(t, http.MethodPost, "/api/select", map[string]string{"conversation_id": "99"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = h.do(t, http.MethodPost, "/api/select", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSendWithoutRoomConflicts(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	resp := h.do(t, http.MethodPost, "/api/messages", map[string]string{"message": "hi"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestSendAppendsPending(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	h.selectRavi(t)

	resp := h.do(t, http.MethodPost, "/api/messages", map[string]string{"message": "kaise ho"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	view := decode[messagesView](t, h.do(t, http.MethodGet, "/api/messages", nil))
	entries := view.Groups[len(view.Groups)-1].Entries
	last := entries[len(entries)-1]
	assert.Equal(t, "kaise ho", last.Text)
	assert.Equal(t, chatsync.Pending, last.Phase)
	assert.Contains(t, h.conn.events(), socketclient.EventSendMessage)

	resp = h.do(t, http.MethodPost, "/api/messages", map[string]string{"message": "  "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUploadFiles(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	h.selectRavi(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "photo.png")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("\x89PNG"))
	fw, err = mw.CreateFormFile("file", "report.pdf")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("%PDF"))
	require.NoError(t, mw.Close())

	resp, err := http.Post(h.ts.URL+"/api/files", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Len(t, h.backend.files, 2)
	assert.True(t, h.backend.files[0].IsImage())
	assert.False(t, h.backend.files[1].IsImage())

	view := decode[messagesView](t, h.do(t, http.MethodGet, "/api/messages", nil))
	entries := view.Groups[len(view.Groups)-1].Entries
	require.Len(t, entries, 3)
	assert.Equal(t, models.TypeImage, entries[1].Kind)
	assert.Equal(t, models.TypeFile, entries[2].Kind)
}

func TestDeleteMessage(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	h.selectRavi(t)

	resp := h.do(t, http.MethodDelete, "/api/messages/9", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, []models.ID{"9"}, h.backend.deleted)

	view := decode[messagesView](t, h.do(t, http.MethodGet, "/api/messages", nil))
	assert.Empty(t, view.Groups)

	resp = h.do(t, http.MethodDelete, "/api/messages/404", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestLogout(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	resp := h.do(t, http.MethodDelete, "/api/session", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	view := decode[sessionView](t, h.do(t, http.MethodGet, "/api/session", nil))
	assert.False(t, view.Active)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	resp := h.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "ictchat_auth_verdicts_total")
}

func TestEventsStreamNotices(t *testing.T) {
	h := newHarness(t)
	go h.srv.hub.Run()
	t.Cleanup(h.srv.hub.Stop)

	url := "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return h.srv.hub.PeerCount() == 1 }, time.Second, 5*time.Millisecond)

	h.srv.Notify("messages")

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var n Notice
	require.NoError(t, conn.ReadJSON(&n))
	assert.Equal(t, "messages", n.Kind)
	assert.True(t, n.At.Equal(now))
}

func TestEventsRejectsForeignOrigin(t *testing.T) {
	h := newHarness(t)

	url := "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/api/events"
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"inactive", session.ErrNotActive, http.StatusUnauthorized},
		{"no room", chatsync.ErrNoRoom, http.StatusConflict},
		{"auth", chaterr.New(chaterr.KindAuthentication, "authz", "expired"), http.StatusUnauthorized},
		{"transport", chaterr.HTTPStatus("api.history", 500), http.StatusBadGateway},
		{"protocol", chaterr.New(chaterr.KindProtocol, "api", "bad json"), http.StatusBadGateway},
		{"live", chaterr.New(chaterr.KindLiveChannel, "socket", "closed"), http.StatusServiceUnavailable},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusOf(tt.err))
		})
	}
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "image/jpeg", contentType("a.jpg", "image/jpeg"))
	assert.Equal(t, "image/png", contentType("a.png", "application/octet-stream"))
	assert.Equal(t, "application/octet-stream", contentType("blob", ""))
}
