package bridge

import (
	"sync"
	"time"

	"github.com/codefionn/ictchat/internal/logger"
)

// Notice tells renderers that state they show has changed and should be
// refetched.
type Notice struct {
	Kind string    `json:"kind"`
	At   time.Time `json:"at"`
}

// Hub maintains the set of connected renderers and fans notices out to them.
type Hub struct {
	peers      map[*Peer]bool
	broadcast  chan *Notice
	register   chan *Peer
	unregister chan *Peer
	mu         sync.RWMutex
	quit       chan struct{}
	stopOnce   sync.Once
	log        *logger.Logger
}

// NewHub creates a new hub
func NewHub() *Hub {
	return &Hub{
		peers:      make(map[*Peer]bool),
		broadcast:  make(chan *Notice, 256),
		register:   make(chan *Peer),
		unregister: make(chan *Peer),
		quit:       make(chan struct{}),
		log:        logger.Global().WithPrefix("bridge"),
	}
}

// Run serves registrations and broadcasts until Stop.
func (h *Hub) Run() {
	h.log.Debug("event hub started")
	defer h.log.Debug("event hub stopped")

	for {
		select {
		case p := <-h.register:
			h.mu.Lock()
			h.peers[p] = true
			h.mu.Unlock()
			h.log.Debug("renderer connected: %s", p.ID)

		case p := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.peers[p]; ok {
				delete(h.peers, p)
				close(p.send)
			}
			h.mu.Unlock()
			h.log.Debug("renderer disconnected: %s", p.ID)

		case n := <-h.broadcast:
			h.mu.Lock()
			for p := range h.peers {
				select {
				case p.send <- n:
				default:
					// Slow renderer; it refetches on reconnect.
					delete(h.peers, p)
					close(p.send)
				}
			}
			h.mu.Unlock()

		case <-h.quit:
			h.mu.Lock()
			for p := range h.peers {
				delete(h.peers, p)
				close(p.send)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop stops the hub and disconnects every peer.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
}

// Register adds a peer.
func (h *Hub) Register(p *Peer) {
	select {
	case h.register <- p:
	case <-h.quit:
		close(p.send)
	}
}

// Unregister removes a peer.
func (h *Hub) Unregister(p *Peer) {
	select {
	case h.unregister <- p:
	case <-h.quit:
	}
}

// Broadcast queues n for every peer without blocking.
func (h *Hub) Broadcast(n *Notice) {
	select {
	case h.broadcast <- n:
	default:
		h.log.Warn("notice channel full, dropping %s", n.Kind)
	}
}

// PeerCount returns the number of connected renderers.
func (h *Hub) PeerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}
