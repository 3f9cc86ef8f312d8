package chatsync

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/codefionn/ictchat/internal/api"
	"github.com/codefionn/ictchat/internal/models"
	"github.com/codefionn/ictchat/internal/socketclient"
)

type emitted struct {
	event   string
	payload json.RawMessage
}

// fakeChannel is an in-memory live channel. deliver calls handlers on the
// caller's goroutine.
type fakeChannel struct {
	mu      sync.Mutex
	next    int
	subs    map[string]map[int]socketclient.Handler
	emitted []emitted
	emitErr error
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{subs: map[string]map[int]socketclient.Handler{}}
}

func (c *fakeChannel) Subscribe(event string, h socketclient.Handler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	id := c.next
	if c.subs[event] == nil {
		c.subs[event] = map[int]socketclient.Handler{}
	}
	c.subs[event][id] = h
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs[event], id)
	}
}

func (c *fakeChannel) Emit(event string, payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.emitErr != nil {
		return c.emitErr
	}
	data, _ := json.Marshal(payload)
	c.emitted = append(c.emitted, emitted{event: event, payload: data})
	return nil
}

func (c *fakeChannel) Join(p socketclient.JoinPayload) error {
	return c.Emit(socketclient.EventJoin, p)
}

func (c *fakeChannel) Leave(p socketclient.LeavePayload) error {
	return c.Emit(socketclient.EventLeave, p)
}

func (c *fakeChannel) deliver(event string, payload interface{}) {
	data, _ := json.Marshal(payload)
	c.mu.Lock()
	var hs []socketclient.Handler
	for _, h := range c.subs[event] {
		hs = append(hs, h)
	}
	c.mu.Unlock()
	for _, h := range hs {
		h(data)
	}
}

func (c *fakeChannel) listeners(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs[event])
}

func (c *fakeChannel) events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.emitted))
	for i, e := range c.emitted {
		out[i] = e.event
	}
	return out
}

func (c *fakeChannel) last(event string, into interface{}) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.emitted) - 1; i >= 0; i-- {
		if c.emitted[i].event == event {
			return json.Unmarshal(c.emitted[i].payload, into) == nil
		}
	}
	return false
}

// fakeBackend serves canned history. A room with a gate blocks History until
// the gate is closed.
type fakeBackend struct {
	mu         sync.Mutex
	history    map[models.Room][]models.Message
	historyErr map[models.Room]error
	gates      map[models.Room]chan struct{}
	deleted    []models.ID
	deleteErr  error
	urls       []string
	uploadErr  error
	uploaded   []api.File
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		history:    map[models.Room][]models.Message{},
		historyErr: map[models.Room]error{},
		gates:      map[models.Room]chan struct{}{},
	}
}

func (b *fakeBackend) gate(room models.Room) chan struct{} {
	ch := make(chan struct{})
	b.mu.Lock()
	b.gates[room] = ch
	b.mu.Unlock()
	return ch
}

func (b *fakeBackend) History(ctx context.Context, room models.Room) ([]models.Message, error) {
	b.mu.Lock()
	gate := b.gates[room]
	b.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.historyErr[room]; err != nil {
		return nil, err
	}
	return append([]models.Message(nil), b.history[room]...), nil
}

func (b *fakeBackend) DeleteMessage(ctx context.Context, id models.ID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.deleteErr != nil {
		return b.deleteErr
	}
	b.deleted = append(b.deleted, id)
	return nil
}

func (b *fakeBackend) Upload(ctx context.Context, username string, files []api.File) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.uploadErr != nil {
		return nil, b.uploadErr
	}
	b.uploaded = append(b.uploaded, files...)
	if len(b.urls) != len(files) {
		return nil, errors.New("url count mismatch")
	}
	return b.urls, nil
}
