package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/codefionn/ictchat/internal/api"
	"github.com/codefionn/ictchat/internal/authz"
	"github.com/codefionn/ictchat/internal/config"
	"github.com/codefionn/ictchat/internal/instance"
	"github.com/codefionn/ictchat/internal/logger"
	"github.com/codefionn/ictchat/internal/metrics"
	"github.com/codefionn/ictchat/internal/securemem"
	"github.com/codefionn/ictchat/internal/session"
	"github.com/codefionn/ictchat/internal/socketclient"
	"github.com/codefionn/ictchat/internal/tokenstore"
)

// app holds the process-wide collaborators of one command.
type app struct {
	cfg        *config.Config
	metrics    *metrics.Metrics
	store      *tokenstore.SQLiteStore
	authorizer *authz.Authorizer
	manager    *socketclient.Manager
	lock       *instance.Lock
}

// setup loads configuration and opens the token store. Interactive commands
// keep the log in its file so the terminal stays clean.
func setup(interactive bool) (*app, error) {
	path := configFile
	if path == "" {
		path = config.GetConfigPath()
	}
	cfg, err := config.LoadWithEnv(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	level := logger.ParseLevel(cfg.LogLevel)
	toStderr := verbose && !interactive
	if toStderr {
		level = logger.LevelDebug
	}
	if err := logger.Init(level, cfg.LogPath, toStderr); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Debug("config loaded from %s", path)

	store, err := tokenstore.OpenSQLite(cfg.StatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	m := metrics.New()
	verifier := authz.NewHTTPVerifier(cfg.VerifyURL, cfg.RequestTimeout())
	return &app{
		cfg:        cfg,
		metrics:    m,
		store:      store,
		authorizer: authz.New(store, verifier, cfg.LoginURL, authz.WithMetrics(m)),
		manager:    socketclient.NewManager(socketclient.WebsocketDialer(socketclient.DefaultConfig(cfg.SocketURL), m)),
	}, nil
}

// acquire takes the single-instance lock next to the state database.
func (a *app) acquire(mode, addr string) error {
	a.lock = instance.New(filepath.Join(filepath.Dir(a.cfg.StatePath), "ictchat.lock"))
	return a.lock.Acquire(mode, addr)
}

func (a *app) newSession(onChange func()) *session.Session {
	cfg := a.cfg
	return session.New(session.Options{
		Authorizer: a.authorizer,
		Opener:     a.manager,
		NewBackend: func(token *securemem.Token) session.Backend {
			return api.New(cfg.APIBaseURL, token, api.Options{
				Timeout:           cfg.RequestTimeout(),
				RequestsPerSecond: cfg.RequestsPerSecond,
				Metrics:           a.metrics,
			})
		},
		DedupWindow:    cfg.DedupWindow(),
		SearchDebounce: cfg.SearchDebounce(),
		Location:       cfg.Location(),
		Metrics:        a.metrics,
		OnChange:       onChange,
	})
}

func (a *app) Close() error {
	var errs []error
	errs = append(errs, a.manager.CloseAll())
	errs = append(errs, a.store.Close())
	if a.lock != nil {
		errs = append(errs, a.lock.Release())
	}
	if err := errors.Join(errs...); err != nil {
		logger.Warn("shutdown: %v", err)
	}
	return logger.Global().Close()
}

// rejected prints why authorization failed and where to log in.
func rejected(v authz.Verdict) error {
	fmt.Fprintln(stderr, v.Reason)
	if v.LoginURL != "" {
		fmt.Fprintf(stderr, "Log in at %s, then run: ictchat login\n", v.LoginURL)
	}
	return v.Err()
}
