package socketclient

import (
	"context"
	"errors"
	"sync"

	"github.com/codefionn/ictchat/internal/logger"
	"github.com/codefionn/ictchat/internal/metrics"
	"github.com/codefionn/ictchat/internal/securemem"
)

// DialFunc opens a connection for token.
type DialFunc func(ctx context.Context, token *securemem.Token) (Conn, error)

// WebsocketDialer returns a DialFunc backed by Dial.
func WebsocketDialer(cfg *Config, m *metrics.Metrics) DialFunc {
	return func(ctx context.Context, token *securemem.Token) (Conn, error) {
		return Dial(ctx, cfg, token, m)
	}
}

type entry struct {
	conn Conn
	refs int
}

// Manager owns at most one connection per token.
type Manager struct {
	dial DialFunc
	log  *logger.Logger

	mu    sync.Mutex
	conns map[string]*entry
}

// NewManager creates a manager that opens connections with dial.
func NewManager(dial DialFunc) *Manager {
	return &Manager{
		dial:  dial,
		log:   logger.Global().WithPrefix("socket"),
		conns: make(map[string]*entry),
	}
}

// Open returns a handle on the connection for token, dialling it if this is
// the first open. Concurrent opens for the same token share one dial.
func (m *Manager) Open(ctx context.Context, token *securemem.Token) (*Handle, error) {
	if token.IsEmpty() {
		return nil, errors.New("socket: empty token")
	}
	key := token.Fingerprint()

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.conns[key]
	if !ok {
		conn, err := m.dial(ctx, token)
		if err != nil {
			return nil, err
		}
		e = &entry{conn: conn}
		m.conns[key] = e
		m.log.Info("opened live connection")
	}
	e.refs++

	return &Handle{Conn: e.conn, manager: m, key: key}, nil
}

// Count returns the number of open connections.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

func (m *Manager) release(key string) error {
	m.mu.Lock()
	e, ok := m.conns[key]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	e.refs--
	if e.refs > 0 {
		m.mu.Unlock()
		return nil
	}
	delete(m.conns, key)
	m.mu.Unlock()

	e.conn.UnsubscribeAll()
	m.log.Info("closing live connection")
	return e.conn.Close()
}

// CloseAll tears down every connection regardless of outstanding handles.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	conns := m.conns
	m.conns = make(map[string]*entry)
	m.mu.Unlock()

	var errs []error
	for _, e := range conns {
		e.conn.UnsubscribeAll()
		if err := e.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Handle is one reference on a managed connection. Subscriptions made
// through the handle are removed when it closes.
type Handle struct {
	Conn

	manager *Manager
	key     string

	mu     sync.Mutex
	unsubs []func()
	closed bool
}

// Subscribe registers h and tracks it for removal on Close.
func (h *Handle) Subscribe(event string, fn Handler) func() {
	unsub := h.Conn.Subscribe(event, fn)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		unsub()
		return func() {}
	}
	h.unsubs = append(h.unsubs, unsub)
	return unsub
}

// Close removes the handle's subscriptions and drops its reference.
// Closing twice is a no-op.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	unsubs := h.unsubs
	h.unsubs = nil
	h.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	return h.manager.release(h.key)
}
