// Package bridge exposes an active session to external renderers as a JSON
// API, with a websocket that signals when to refetch.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/http/pprof"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/codefionn/ictchat/internal/api"
	"github.com/codefionn/ictchat/internal/authz"
	"github.com/codefionn/ictchat/internal/chaterr"
	"github.com/codefionn/ictchat/internal/chatsync"
	"github.com/codefionn/ictchat/internal/directory"
	"github.com/codefionn/ictchat/internal/logger"
	"github.com/codefionn/ictchat/internal/metrics"
	"github.com/codefionn/ictchat/internal/models"
	"github.com/codefionn/ictchat/internal/session"
)

// maxUpload caps a multipart upload request.
const maxUpload = 32 << 20

// Server provides the HTTP interface for renderers.
type Server struct {
	session  *session.Session
	metrics  *metrics.Metrics
	addr     string
	clock    func() time.Time
	location *time.Location

	router   *httprouter.Router
	hub      *Hub
	upgrader websocket.Upgrader
	server   *http.Server
	log      *logger.Logger
}

// Options configures a Server.
type Options struct {
	Addr     string
	Metrics  *metrics.Metrics
	Clock    func() time.Time
	Location *time.Location
	// Profiling mounts net/http/pprof under /debug/pprof/.
	Profiling bool
}

// NewServer creates a server for sess.
func NewServer(sess *session.Session, opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	s := &Server{
		session:  sess,
		metrics:  opts.Metrics,
		addr:     opts.Addr,
		clock:    opts.Clock,
		location: opts.Location,
		router:   httprouter.New(),
		hub:      NewHub(),
		log:      logger.Global().WithPrefix("bridge"),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     sameHost,
	}
	s.setupRoutes()
	if opts.Profiling {
		s.router.GET("/debug/pprof/*item", handleProfile)
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Notify tells connected renderers to refetch.
func (s *Server) Notify(kind string) {
	s.hub.Broadcast(&Notice{Kind: kind, At: s.clock().UTC()})
}

// Start runs the hub and serves until Stop.
func (s *Server) Start() error {
	go s.hub.Run()
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          logger.StdLogger(s.log, slog.LevelError),
	}

	s.log.Info("listening on %s", s.addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.hub.Stop()
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	// Session
	s.router.GET("/api/session", s.handleSession)
	s.router.POST("/api/session", s.handleLogin)
	s.router.DELETE("/api/session", s.handleLogout)

	// Directory
	s.router.GET("/api/conversations", s.handleConversations)
	s.router.POST("/api/conversations", s.handleCreateConversation)
	s.router.GET("/api/search", s.handleSearch)
	s.router.GET("/api/users", s.handleAllUsers)

	// Messages
	s.router.POST("/api/select", s.handleSelect)
	s.router.GET("/api/messages", s.handleMessages)
	s.router.POST("/api/messages", s.handleSend)
	s.router.POST("/api/files", s.handleUpload)
	s.router.DELETE("/api/messages/:id", s.handleDelete)

	s.router.GET("/api/events", s.handleEvents)
	if s.metrics != nil {
		s.router.Handler(http.MethodGet, "/metrics", s.metrics.Handler())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"active": s.session.Active(),
		"peers":  s.hub.PeerCount(),
		"time":   s.clock().UTC().Format(time.RFC3339),
	})
}

type identityView struct {
	ID       models.ID `json:"id"`
	Username string    `json:"username"`
	Email    string    `json:"email,omitempty"`
	Role     string    `json:"role"`
	App      string    `json:"app"`
	Access   []string  `json:"access"`
}

type sessionView struct {
	Active   bool          `json:"active"`
	State    string        `json:"state"`
	Identity *identityView `json:"identity,omitempty"`
	Code     string        `json:"code,omitempty"`
	Reason   string        `json:"reason,omitempty"`
	LoginURL string        `json:"login_url,omitempty"`
}

func viewOf(active bool, v authz.Verdict) sessionView {
	view := sessionView{
		Active:   active,
		State:    v.State.String(),
		Code:     string(v.Code),
		Reason:   v.Reason,
		LoginURL: v.LoginURL,
	}
	if id := v.Identity; id != nil {
		view.Identity = &identityView{
			ID:       id.ID,
			Username: id.Username,
			Email:    id.Email,
			Role:     string(id.Role),
			App:      id.AppName,
			Access:   id.Access,
		}
	}
	return view
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, viewOf(s.session.Active(), s.session.Verdict()))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	verdict, err := s.session.ReplaceToken(r.Context(), strings.TrimSpace(req.Token))
	s.Notify("session")
	status := http.StatusOK
	if err != nil {
		status = statusOf(err)
	}
	writeJSON(w, status, viewOf(s.session.Active(), verdict))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if err := s.session.Logout(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.Notify("session")
	w.WriteHeader(http.StatusNoContent)
}

type directoryView struct {
	Mode    string            `json:"mode"`
	Term    string            `json:"term,omitempty"`
	Error   string            `json:"error,omitempty"`
	Entries []directory.Entry `json:"entries"`
}

func (s *Server) directoryView(dir *directory.Directory) directoryView {
	mode, term := dir.Mode()
	view := directoryView{Mode: mode.String(), Term: term, Entries: dir.Entries()}
	if err := dir.Err(); err != nil {
		view.Error = err.Error()
	}
	return view
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	dir, err := s.session.Directory()
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	if r.URL.Query().Get("refresh") == "1" {
		if err := dir.Refresh(r.Context()); err != nil {
			writeError(w, statusOf(err), err)
			return
		}
	}
	writeJSON(w, http.StatusOK, s.directoryView(dir))
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	dir, err := s.session.Directory()
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	term := strings.TrimSpace(r.URL.Query().Get("q"))
	if term == "" {
		dir.ShowConversations()
	} else if err := dir.SearchNow(r.Context(), term); err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.directoryView(dir))
}

func (s *Server) handleAllUsers(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	dir, err := s.session.Directory()
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	if err := dir.ShowAllUsers(r.Context()); err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.directoryView(dir))
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var user models.User
	if err := json.NewDecoder(r.Body).Decode(&user); err != nil || user.ID.IsZero() {
		writeError(w, http.StatusBadRequest, errors.New("user id is required"))
		return
	}
	convo, err := s.session.OpenConversation(r.Context(), models.Conversation{
		ID:          user.ID,
		OtherUserID: user.ID,
		Username:    user.Username,
		Email:       user.Email,
	})
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	s.Notify("conversations")
	writeJSON(w, http.StatusOK, convo)
}

type selectRequest struct {
	ConversationID models.ID `json:"conversation_id"`
	GroupID        models.ID `json:"group_id"`
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var err error
	switch {
	case !req.GroupID.IsZero():
		err = s.session.OpenGroup(r.Context(), req.GroupID)
	case !req.ConversationID.IsZero():
		dir, derr := s.session.Directory()
		if derr != nil {
			writeError(w, statusOf(derr), derr)
			return
		}
		convo, ok := dir.Find(req.ConversationID)
		if !ok {
			writeError(w, http.StatusNotFound, errors.New("unknown conversation"))
			return
		}
		_, err = s.session.OpenConversation(r.Context(), convo)
	default:
		writeError(w, http.StatusBadRequest, errors.New("conversation_id or group_id is required"))
		return
	}
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	s.Notify("messages")
	s.handleMessages(w, r, nil)
}

type messagesView struct {
	Room      string              `json:"room,omitempty"`
	Loading   bool                `json:"loading"`
	Error     string              `json:"error,omitempty"`
	AuthError string              `json:"auth_error,omitempty"`
	Groups    []chatsync.DayGroup `json:"groups"`
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	chat, err := s.session.Chat()
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	snap, err := chat.Snapshot(r.Context())
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	view := messagesView{
		Loading:   snap.Loading,
		AuthError: snap.AuthError,
		Groups:    chatsync.GroupByDay(snap.Entries, s.clock(), s.location),
	}
	if view.Groups == nil {
		view.Groups = []chatsync.DayGroup{}
	}
	if !snap.Room.IsZero() {
		view.Room = snap.Room.String()
	}
	if snap.Err != nil {
		view.Error = snap.Err.Error()
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, errors.New("message is required"))
		return
	}
	chat, err := s.session.Chat()
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	if err := chat.Send(r.Context(), req.Message); err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	s.Notify("messages")
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	chat, err := s.session.Chat()
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var files []api.File
	for _, fh := range r.MultipartForm.File["file"] {
		f, err := fh.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		files = append(files, api.File{
			Name:        fh.Filename,
			ContentType: contentType(fh.Filename, fh.Header.Get("Content-Type")),
			Data:        data,
		})
	}
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("no files"))
		return
	}

	if err := chat.SendFiles(r.Context(), files); err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	s.Notify("messages")
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := models.ID(ps.ByName("id"))
	chat, err := s.session.Chat()
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	if err := chat.Delete(r.Context(), id); err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	s.Notify("messages")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed: %v", err)
		return
	}
	p := newPeer(s.hub, conn)
	s.hub.Register(p)
	go p.writePump()
	go p.readPump()
}

func handleProfile(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	switch ps.ByName("item") {
	case "/cmdline":
		pprof.Cmdline(w, r)
	case "/profile":
		pprof.Profile(w, r)
	case "/symbol":
		pprof.Symbol(w, r)
	case "/trace":
		pprof.Trace(w, r)
	default:
		pprof.Index(w, r)
	}
}

// statusOf maps an error to the HTTP status a renderer sees.
func statusOf(err error) int {
	switch {
	case errors.Is(err, session.ErrNotActive):
		return http.StatusUnauthorized
	case errors.Is(err, chatsync.ErrNoRoom):
		return http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	switch chaterr.KindOf(err) {
	case chaterr.KindAuthentication:
		return http.StatusUnauthorized
	case chaterr.KindTransport, chaterr.KindProtocol:
		return http.StatusBadGateway
	case chaterr.KindLiveChannel:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// contentType falls back to the extension when the client sent no useful
// type.
func contentType(name, declared string) string {
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// sameHost accepts renderers served from the bridge's own host, and
// non-browser clients that send no Origin.
func sameHost(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	host := strings.TrimPrefix(strings.TrimPrefix(origin, "http://"), "https://")
	return strings.EqualFold(host, r.Host)
}
