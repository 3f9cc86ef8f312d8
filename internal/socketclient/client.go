package socketclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codefionn/ictchat/internal/chaterr"
	"github.com/codefionn/ictchat/internal/logger"
	"github.com/codefionn/ictchat/internal/metrics"
	"github.com/codefionn/ictchat/internal/securemem"
)

// ConnectionState represents the current state of the socket connection
type ConnectionState int

const (
	// StateDisconnected indicates the client is not connected
	StateDisconnected ConnectionState = iota
	// StateConnecting indicates the client is attempting to connect
	StateConnecting
	// StateConnected indicates the client is connected
	StateConnected
	// StateReconnecting indicates the client is attempting to reconnect
	StateReconnecting
	// StateClosed indicates the client has been closed
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrNotConnected is returned by Emit once the client is closed or has
// given up reconnecting.
var ErrNotConnected = chaterr.New(chaterr.KindLiveChannel, "socket.emit", "not connected")

// Config holds client configuration
type Config struct {
	// URL is the websocket endpoint (ws:// or wss://).
	URL string
	// HandshakeTimeout bounds the opening handshake.
	HandshakeTimeout time.Duration
	// WriteWait is the time allowed to write a frame.
	WriteWait time.Duration
	// PongWait is the time allowed to read the next pong.
	PongWait time.Duration
	// PingPeriod must be less than PongWait.
	PingPeriod time.Duration
	// MaxMessageSize caps inbound frames.
	MaxMessageSize int64
	// SendBuffer is the capacity of the outbound queue.
	SendBuffer int
	// ReconnectEnabled enables automatic reconnection
	ReconnectEnabled bool
	// MaxReconnectAttempts is the maximum number of reconnection attempts
	MaxReconnectAttempts int
	// ReconnectDelay is the initial delay between reconnection attempts
	ReconnectDelay time.Duration
	// ReconnectMaxDelay is the maximum delay between reconnection attempts
	ReconnectMaxDelay time.Duration
}

// DefaultConfig returns a default configuration for url.
func DefaultConfig(url string) *Config {
	pongWait := 60 * time.Second
	return &Config{
		URL:                  url,
		HandshakeTimeout:     10 * time.Second,
		WriteWait:            10 * time.Second,
		PongWait:             pongWait,
		PingPeriod:           (pongWait * 9) / 10,
		MaxMessageSize:       1 << 20,
		SendBuffer:           256,
		ReconnectEnabled:     true,
		MaxReconnectAttempts: 10,
		ReconnectDelay:       time.Second,
		ReconnectMaxDelay:    30 * time.Second,
	}
}

// Handler receives the raw data of one inbound event.
type Handler func(data json.RawMessage)

// Channel is what the chat components need from a live connection.
type Channel interface {
	Subscribe(event string, h Handler) (unsubscribe func())
	Emit(event string, payload interface{}) error
	Join(p JoinPayload) error
	Leave(p LeavePayload) error
}

// Conn is a Channel owned by a Manager.
type Conn interface {
	Channel
	UnsubscribeAll()
	Close() error
	State() ConnectionState
}

type subscription struct {
	id uint64
	h  Handler
}

// Client is a websocket connection with event subscriptions.
type Client struct {
	config  *Config
	token   *securemem.Token
	dialer  *websocket.Dialer
	metrics *metrics.Metrics
	log     *logger.Logger

	connMu sync.Mutex
	conn   *websocket.Conn

	state    atomic.Int32 // ConnectionState
	outgoing chan *Envelope

	subsMu  sync.RWMutex
	subs    map[string][]subscription
	nextSub uint64

	roomsMu sync.Mutex
	rooms   map[string]JoinPayload

	wg        sync.WaitGroup
	stopCh    chan struct{}
	closeOnce sync.Once
}

// Dial connects to cfg.URL with token and starts the connection goroutines.
func Dial(ctx context.Context, cfg *Config, token *securemem.Token, m *metrics.Metrics) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("socket url is required")
	}

	c := &Client{
		config:   cfg,
		token:    token,
		dialer:   &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout, Proxy: http.ProxyFromEnvironment},
		metrics:  m,
		log:      logger.Global().WithPrefix("socket"),
		outgoing: make(chan *Envelope, cfg.SendBuffer),
		subs:     make(map[string][]subscription),
		rooms:    make(map[string]JoinPayload),
		stopCh:   make(chan struct{}),
	}
	c.state.Store(int32(StateConnecting))

	conn, err := c.dial(ctx)
	if err != nil {
		c.state.Store(int32(StateDisconnected))
		return nil, err
	}
	c.setConn(conn)
	c.state.Store(int32(StateConnected))
	c.metrics.ConnectionOpened()

	c.wg.Add(1)
	go c.run(conn)

	return c, nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.config.URL)
	if err != nil {
		return nil, chaterr.Wrap(chaterr.KindLiveChannel, "socket.dial", err)
	}
	header := http.Header{}
	if !c.token.IsEmpty() {
		raw := c.token.Reveal()
		q := u.Query()
		q.Set("token", raw)
		u.RawQuery = q.Encode()
		header.Set("Authorization", "Bearer "+raw)
	}

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, chaterr.Wrap(chaterr.KindLiveChannel, "socket.dial", err)
	}
	return conn, nil
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
}

// State returns the current connection state
func (c *Client) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

func (c *Client) closed() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

// run serves conn until it drops, then redials while allowed.
func (c *Client) run(conn *websocket.Conn) {
	defer c.wg.Done()
	defer c.metrics.ConnectionClosed()

	for {
		err := c.serve(conn)
		if c.closed() {
			return
		}
		c.log.Warn("connection lost: %v", err)

		conn = c.reconnect()
		if conn == nil {
			if !c.closed() {
				c.state.Store(int32(StateDisconnected))
			}
			return
		}
		if c.closed() {
			conn.Close()
			return
		}
		c.setConn(conn)
		c.state.Store(int32(StateConnected))
		c.log.Info("reconnected")
	}
}

func (c *Client) reconnect() *websocket.Conn {
	if !c.config.ReconnectEnabled {
		return nil
	}
	c.state.Store(int32(StateReconnecting))

	delay := c.config.ReconnectDelay
	for attempt := 1; attempt <= c.config.MaxReconnectAttempts; attempt++ {
		select {
		case <-c.stopCh:
			return nil
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.config.HandshakeTimeout)
		conn, err := c.dial(ctx)
		cancel()
		if err == nil {
			return conn
		}
		c.log.Debug("reconnect attempt %d/%d failed: %v", attempt, c.config.MaxReconnectAttempts, err)

		delay *= 2
		if delay > c.config.ReconnectMaxDelay {
			delay = c.config.ReconnectMaxDelay
		}
	}
	c.log.Error("giving up after %d reconnect attempts", c.config.MaxReconnectAttempts)
	return nil
}

// serve re-joins rooms, then pumps frames until the connection fails or the
// client is closed.
func (c *Client) serve(conn *websocket.Conn) error {
	for _, p := range c.joinedRooms() {
		env, err := NewEnvelope(EventJoin, p)
		if err != nil {
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
		if err := conn.WriteJSON(env); err != nil {
			conn.Close()
			return err
		}
	}

	done := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump(conn, done)
	}()

	err := c.readPump(conn)
	close(done)
	conn.Close()
	<-writerDone
	return err
}

// readPump reads frames and dispatches them to subscribers
func (c *Client) readPump(conn *websocket.Conn) error {
	conn.SetReadLimit(c.config.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(c.config.PongWait))

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			c.log.Warn("dropping malformed frame (%d bytes)", len(data))
			continue
		}
		c.metrics.SocketEvent(env.Event)
		c.dispatch(&env)
	}
}

// writePump writes queued frames and keeps the connection alive with pings
func (c *Client) writePump(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.config.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			_ = conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			conn.Close()
			return
		case <-done:
			return
		case env := <-c.outgoing:
			_ = conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := conn.WriteJSON(env); err != nil {
				c.log.Error("failed to write %s: %v", env.Event, err)
				conn.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		}
	}
}

func (c *Client) dispatch(env *Envelope) {
	c.subsMu.RLock()
	subs := append([]subscription(nil), c.subs[env.Event]...)
	c.subsMu.RUnlock()

	for _, s := range subs {
		s.h(env.Data)
	}
}

// Subscribe registers h for event. The returned func removes it and is safe
// to call more than once.
func (c *Client) Subscribe(event string, h Handler) func() {
	c.subsMu.Lock()
	c.nextSub++
	id := c.nextSub
	c.subs[event] = append(c.subs[event], subscription{id: id, h: h})
	c.subsMu.Unlock()

	return func() {
		c.subsMu.Lock()
		defer c.subsMu.Unlock()
		list := c.subs[event]
		for i, s := range list {
			if s.id == id {
				c.subs[event] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		if len(c.subs[event]) == 0 {
			delete(c.subs, event)
		}
	}
}

// UnsubscribeAll removes every subscription.
func (c *Client) UnsubscribeAll() {
	c.subsMu.Lock()
	c.subs = make(map[string][]subscription)
	c.subsMu.Unlock()
}

// Emit queues an event. Frames queued while reconnecting are written after
// the connection is back.
func (c *Client) Emit(event string, payload interface{}) error {
	if c.closed() || c.State() == StateDisconnected {
		return ErrNotConnected
	}
	env, err := NewEnvelope(event, payload)
	if err != nil {
		return chaterr.Wrap(chaterr.KindProtocol, "socket.emit", err)
	}

	select {
	case c.outgoing <- env:
		c.metrics.SocketEmit(event)
		return nil
	case <-c.stopCh:
		return ErrNotConnected
	default:
		return chaterr.New(chaterr.KindLiveChannel, "socket.emit", "send buffer full")
	}
}

// Join emits a join and remembers the room for re-joining after reconnect.
func (c *Client) Join(p JoinPayload) error {
	c.roomsMu.Lock()
	c.rooms[p.roomKey()] = p
	c.roomsMu.Unlock()
	return c.Emit(EventJoin, p)
}

// Leave emits a leave and forgets the room.
func (c *Client) Leave(p LeavePayload) error {
	c.roomsMu.Lock()
	delete(c.rooms, p.roomKey())
	c.roomsMu.Unlock()
	return c.Emit(EventLeave, p)
}

func (c *Client) joinedRooms() []JoinPayload {
	c.roomsMu.Lock()
	defer c.roomsMu.Unlock()
	out := make([]JoinPayload, 0, len(c.rooms))
	for _, p := range c.rooms {
		out = append(out, p)
	}
	return out
}

// Close sends a close frame, stops all goroutines and waits for them.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		close(c.stopCh)

		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()
		if conn != nil {
			// Unblocks readPump; writePump sends the close frame first.
			_ = conn.SetReadDeadline(time.Now().Add(c.config.WriteWait))
		}
		c.wg.Wait()
	})
	return nil
}
