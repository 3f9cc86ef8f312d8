package actor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// noteMessage carries a line of text.
type noteMessage struct {
	Text string
}

func (m *noteMessage) Type() string { return "note" }

// failMessage makes recordingActor return an error.
type failMessage struct{}

func (m *failMessage) Type() string { return "fail" }

// countQuery asks for the number of notes seen so far.
type countQuery struct {
	reply chan<- int
}

func (m *countQuery) Type() string { return "count" }

// recordingActor records every note it receives.
type recordingActor struct {
	id      string
	mu      sync.Mutex
	notes   []string
	started atomic.Bool
	stopped atomic.Bool
	block   chan struct{}
}

func newRecordingActor(id string) *recordingActor {
	return &recordingActor{id: id}
}

func (a *recordingActor) ID() string { return a.id }

func (a *recordingActor) Start(ctx context.Context) error {
	a.started.Store(true)
	return nil
}

func (a *recordingActor) Stop(ctx context.Context) error {
	a.stopped.Store(true)
	return nil
}

func (a *recordingActor) Receive(ctx context.Context, msg Message) error {
	if a.block != nil {
		<-a.block
	}
	switch m := msg.(type) {
	case *noteMessage:
		a.mu.Lock()
		a.notes = append(a.notes, m.Text)
		a.mu.Unlock()
	case *countQuery:
		a.mu.Lock()
		m.reply <- len(a.notes)
		a.mu.Unlock()
	case *failMessage:
		return errors.New("refused")
	}
	return nil
}

func (a *recordingActor) snapshot() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.notes...)
}

// failingStartActor cannot be started.
type failingStartActor struct{ recordingActor }

func (a *failingStartActor) Start(ctx context.Context) error {
	return errors.New("no")
}
