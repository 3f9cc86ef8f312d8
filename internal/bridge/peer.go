package bridge

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Renderers only send control frames.
	maxMessageSize = 512
)

// Peer is one renderer connected to /api/events.
type Peer struct {
	ID   string
	hub  *Hub
	conn *websocket.Conn
	send chan *Notice
}

func newPeer(hub *Hub, conn *websocket.Conn) *Peer {
	return &Peer{
		ID:   uuid.NewString(),
		hub:  hub,
		conn: conn,
		send: make(chan *Notice, 32),
	}
}

// readPump discards inbound frames and unregisters the peer when the
// connection closes.
func (p *Peer) readPump() {
	defer func() {
		p.hub.Unregister(p)
		p.conn.Close()
	}()

	p.conn.SetReadLimit(maxMessageSize)
	_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := p.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				p.hub.log.Warn("renderer %s read error: %v", p.ID, err)
			}
			return
		}
	}
}

// writePump sends notices and keeps the connection alive with pings.
func (p *Peer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case n, ok := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = p.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := p.conn.WriteJSON(n); err != nil {
				return
			}
		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
