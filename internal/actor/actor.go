package actor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/codefionn/ictchat/internal/logger"
)

// Message represents a message sent between actors
type Message interface {
	Type() string
}

// Actor represents an actor in the actor model
type Actor interface {
	// Receive processes incoming messages
	Receive(ctx context.Context, msg Message) error
	// Start starts the actor
	Start(ctx context.Context) error
	// Stop stops the actor gracefully
	Stop(ctx context.Context) error
	// ID returns the actor's unique identifier
	ID() string
}

// ErrStopped is returned when sending to an actor that has been stopped.
var ErrStopped = errors.New("actor stopped")

// ErrMailboxFull is returned by Send when the mailbox has no free slot.
var ErrMailboxFull = errors.New("actor mailbox full")

// ErrorHandler is called when Receive returns an error.
type ErrorHandler func(actorID string, msg Message, err error)

// ActorRef is a reference to an actor for sending messages
type ActorRef struct {
	id      string
	mailbox chan Message
	actor   Actor

	wg     sync.WaitGroup
	cancel context.CancelFunc
	ctx    context.Context

	mu         sync.RWMutex
	stopped    bool
	sequential bool
	sequenceMu sync.Mutex

	onError   ErrorHandler
	processed atomic.Uint64
	failed    atomic.Uint64
}

// ActorRefOption configures an ActorRef.
type ActorRefOption func(*ActorRef)

// WithSequentialProcessing forces the actor to process messages synchronously
// when sent. This disables the internal run loop and makes Send block until
// Receive returns.
func WithSequentialProcessing() ActorRefOption {
	return func(ref *ActorRef) {
		ref.sequential = true
	}
}

// WithErrorHandler replaces the default handler, which logs the error.
func WithErrorHandler(h ErrorHandler) ActorRefOption {
	return func(ref *ActorRef) {
		ref.onError = h
	}
}

// NewActorRef creates a new actor reference with the given ID, actor implementation,
// mailbox size, and optional configuration options.
func NewActorRef(id string, actor Actor, mailboxSize int, opts ...ActorRefOption) *ActorRef {
	ref := &ActorRef{
		id:      id,
		actor:   actor,
		mailbox: make(chan Message, mailboxSize),
		ctx:     context.Background(),
		onError: func(actorID string, msg Message, err error) {
			logger.Error("Actor %s error processing %s: %v", actorID, msg.Type(), err)
		},
	}
	for _, opt := range opts {
		opt(ref)
	}
	return ref
}

// ID returns the actor's ID
func (ref *ActorRef) ID() string {
	return ref.id
}

// Stats reports processed and failed message counts and the mailbox depth.
func (ref *ActorRef) Stats() (processed, failed uint64, queued int) {
	return ref.processed.Load(), ref.failed.Load(), len(ref.mailbox)
}

// Send delivers msg without blocking. In sequential mode it processes msg
// before returning.
func (ref *ActorRef) Send(msg Message) error {
	ref.mu.RLock()
	if ref.stopped {
		ref.mu.RUnlock()
		return fmt.Errorf("%w: %s", ErrStopped, ref.id)
	}
	sequential := ref.sequential
	ctx := ref.ctx
	ref.mu.RUnlock()

	if sequential {
		ref.sequenceMu.Lock()
		defer ref.sequenceMu.Unlock()
		ref.process(ctx, msg)
		return nil
	}

	select {
	case ref.mailbox <- msg:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrMailboxFull, ref.id)
	}
}

// SendContext delivers msg, waiting for a mailbox slot until ctx is done.
func (ref *ActorRef) SendContext(ctx context.Context, msg Message) error {
	ref.mu.RLock()
	if ref.stopped {
		ref.mu.RUnlock()
		return fmt.Errorf("%w: %s", ErrStopped, ref.id)
	}
	sequential := ref.sequential
	runCtx := ref.ctx
	ref.mu.RUnlock()

	if sequential {
		return ref.Send(msg)
	}

	select {
	case ref.mailbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-runCtx.Done():
		return fmt.Errorf("%w: %s", ErrStopped, ref.id)
	}
}

func (ref *ActorRef) process(ctx context.Context, msg Message) {
	ref.processed.Add(1)
	if err := ref.actor.Receive(ctx, msg); err != nil {
		ref.failed.Add(1)
		if ref.onError != nil {
			ref.onError(ref.id, msg, err)
		}
	}
}

// Start starts the actor's message processing loop
func (ref *ActorRef) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	if err := ref.actor.Start(ctx); err != nil {
		cancel()
		return err
	}

	ref.mu.Lock()
	ref.ctx = ctx
	ref.cancel = cancel
	ref.mu.Unlock()

	if ref.sequential {
		return nil
	}

	ref.wg.Add(1)
	go ref.run(ctx)
	return nil
}

// Stop stops the actor gracefully. Messages still queued are dropped.
func (ref *ActorRef) Stop(ctx context.Context) error {
	ref.mu.Lock()
	if ref.stopped {
		ref.mu.Unlock()
		return nil
	}
	ref.stopped = true
	cancel := ref.cancel
	ref.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		ref.wg.Wait()
		// Wait out an in-flight sequential Receive.
		ref.sequenceMu.Lock()
		ref.sequenceMu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return ref.actor.Stop(ctx)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the actor's main message processing loop
func (ref *ActorRef) run(ctx context.Context) {
	defer ref.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ref.mailbox:
			ref.process(ctx, msg)
		}
	}
}

// Ask sends the message built by build and waits for the actor to write a
// reply. The reply channel has room for one value, so the actor never blocks
// on it.
func Ask[T any](ctx context.Context, ref *ActorRef, build func(reply chan<- T) Message) (T, error) {
	var zero T
	reply := make(chan T, 1)
	if err := ref.SendContext(ctx, build(reply)); err != nil {
		return zero, err
	}

	ref.mu.RLock()
	runCtx := ref.ctx
	ref.mu.RUnlock()

	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-runCtx.Done():
		// The loop may have answered just before stopping.
		select {
		case v := <-reply:
			return v, nil
		default:
			return zero, fmt.Errorf("%w: %s", ErrStopped, ref.id)
		}
	}
}

// System manages a collection of actors
type System struct {
	actors map[string]*ActorRef
	mu     sync.RWMutex
}

// NewSystem creates a new actor system
func NewSystem() *System {
	return &System{
		actors: make(map[string]*ActorRef),
	}
}

// Spawn creates and starts a new actor
func (s *System) Spawn(ctx context.Context, id string, actor Actor, mailboxSize int) (*ActorRef, error) {
	return s.SpawnWithOptions(ctx, id, actor, mailboxSize)
}

// SpawnWithOptions creates and starts a new actor with additional reference options.
func (s *System) SpawnWithOptions(ctx context.Context, id string, actor Actor, mailboxSize int, opts ...ActorRefOption) (*ActorRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.actors[id]; exists {
		return nil, fmt.Errorf("actor with id %s already exists", id)
	}

	ref := NewActorRef(id, actor, mailboxSize, opts...)
	if err := ref.Start(ctx); err != nil {
		return nil, err
	}

	s.actors[id] = ref
	return ref, nil
}

// Get retrieves an actor reference by ID
func (s *System) Get(id string) (*ActorRef, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ref, ok := s.actors[id]
	return ref, ok
}

// Len returns the number of live actors.
func (s *System) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.actors)
}

// Stop stops an actor by ID
func (s *System) Stop(ctx context.Context, id string) error {
	s.mu.Lock()
	ref, exists := s.actors[id]
	if !exists {
		s.mu.Unlock()
		return fmt.Errorf("actor %s not found", id)
	}
	delete(s.actors, id)
	s.mu.Unlock()

	return ref.Stop(ctx)
}

// StopAll stops all actors in the system
func (s *System) StopAll(ctx context.Context) error {
	s.mu.Lock()
	actors := make([]*ActorRef, 0, len(s.actors))
	for _, ref := range s.actors {
		actors = append(actors, ref)
	}
	s.actors = make(map[string]*ActorRef)
	s.mu.Unlock()

	var firstErr error
	for _, ref := range actors {
		if err := ref.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
