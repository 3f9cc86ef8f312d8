package actor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within 1s")
}

func TestActorRefStartStop(t *testing.T) {
	ctx := context.Background()
	a := newRecordingActor("a")
	ref := NewActorRef("a", a, 4)

	if err := ref.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !a.started.Load() {
		t.Error("Start() was not called on the actor")
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := ref.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !a.stopped.Load() {
		t.Error("Stop() was not called on the actor")
	}
	if err := ref.Stop(stopCtx); err != nil {
		t.Errorf("second stop: %v", err)
	}
}

func TestActorRefPreservesOrder(t *testing.T) {
	ctx := context.Background()
	a := newRecordingActor("a")
	ref := NewActorRef("a", a, 64)
	if err := ref.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer ref.Stop(ctx)

	for i := 0; i < 50; i++ {
		if err := ref.Send(&noteMessage{Text: fmt.Sprint(i)}); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	waitFor(t, func() bool { return len(a.snapshot()) == 50 })
	for i, got := range a.snapshot() {
		if got != fmt.Sprint(i) {
			t.Fatalf("note %d = %q, want %d", i, got, i)
		}
	}
}

func TestActorRefSendAfterStop(t *testing.T) {
	ctx := context.Background()
	ref := NewActorRef("a", newRecordingActor("a"), 4)
	if err := ref.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := ref.Stop(ctx); err != nil {
		t.Fatal(err)
	}

	if err := ref.Send(&noteMessage{}); !errors.Is(err, ErrStopped) {
		t.Errorf("Send after stop = %v, want ErrStopped", err)
	}
	if err := ref.SendContext(ctx, &noteMessage{}); !errors.Is(err, ErrStopped) {
		t.Errorf("SendContext after stop = %v, want ErrStopped", err)
	}
}

func TestActorRefMailboxFull(t *testing.T) {
	ctx := context.Background()
	a := newRecordingActor("a")
	a.block = make(chan struct{})
	ref := NewActorRef("a", a, 1)
	if err := ref.Start(ctx); err != nil {
		t.Fatal(err)
	}

	// The first message is taken by the loop and blocks there.
	if err := ref.Send(&noteMessage{Text: "1"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { _, _, q := ref.Stats(); return q == 0 })
	if err := ref.Send(&noteMessage{Text: "2"}); err != nil {
		t.Fatal(err)
	}
	if err := ref.Send(&noteMessage{Text: "3"}); !errors.Is(err, ErrMailboxFull) {
		t.Errorf("third send = %v, want ErrMailboxFull", err)
	}

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := ref.SendContext(short, &noteMessage{Text: "4"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("SendContext on full mailbox = %v", err)
	}

	close(a.block)
	waitFor(t, func() bool { return len(a.snapshot()) == 2 })
	ref.Stop(ctx)
}

func TestActorRefErrorHandler(t *testing.T) {
	ctx := context.Background()
	var (
		mu   sync.Mutex
		seen []string
	)
	ref := NewActorRef("a", newRecordingActor("a"), 4,
		WithSequentialProcessing(),
		WithErrorHandler(func(id string, msg Message, err error) {
			mu.Lock()
			seen = append(seen, id+":"+msg.Type()+":"+err.Error())
			mu.Unlock()
		}))
	if err := ref.Start(ctx); err != nil {
		t.Fatal(err)
	}

	if err := ref.Send(&failMessage{}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := ref.Send(&noteMessage{Text: "ok"}); err != nil {
		t.Fatal(err)
	}

	processed, failed, _ := ref.Stats()
	if processed != 2 || failed != 1 {
		t.Errorf("stats = %d/%d, want 2/1", processed, failed)
	}
	if len(seen) != 1 || seen[0] != "a:fail:refused" {
		t.Errorf("error handler saw %v", seen)
	}
}

func TestActorRefSequentialProcessing(t *testing.T) {
	ctx := context.Background()
	a := newRecordingActor("seq")
	ref := NewActorRef("seq", a, 0, WithSequentialProcessing())
	if err := ref.Start(ctx); err != nil {
		t.Fatal(err)
	}

	if err := ref.Send(&noteMessage{Text: "now"}); err != nil {
		t.Fatal(err)
	}
	if got := a.snapshot(); len(got) != 1 || got[0] != "now" {
		t.Errorf("sequential send not processed inline: %v", got)
	}
}

func TestAsk(t *testing.T) {
	for _, tc := range []struct {
		name string
		opts []ActorRefOption
	}{
		{"mailbox", nil},
		{"sequential", []ActorRefOption{WithSequentialProcessing()}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			a := newRecordingActor("ask")
			ref := NewActorRef("ask", a, 8, tc.opts...)
			if err := ref.Start(ctx); err != nil {
				t.Fatal(err)
			}
			defer ref.Stop(ctx)

			ref.Send(&noteMessage{Text: "x"})
			ref.Send(&noteMessage{Text: "y"})

			n, err := Ask(ctx, ref, func(reply chan<- int) Message { return &countQuery{reply: reply} })
			if err != nil {
				t.Fatalf("ask: %v", err)
			}
			if n != 2 {
				t.Errorf("count = %d, want 2", n)
			}
		})
	}
}

func TestAskStopped(t *testing.T) {
	ctx := context.Background()
	ref := NewActorRef("a", newRecordingActor("a"), 1)
	if err := ref.Start(ctx); err != nil {
		t.Fatal(err)
	}
	ref.Stop(ctx)

	_, err := Ask(ctx, ref, func(reply chan<- int) Message { return &countQuery{reply: reply} })
	if !errors.Is(err, ErrStopped) {
		t.Errorf("Ask after stop = %v", err)
	}
}

func TestSystemLifecycle(t *testing.T) {
	ctx := context.Background()
	sys := NewSystem()

	for _, id := range []string{"a", "b", "c"} {
		if _, err := sys.Spawn(ctx, id, newRecordingActor(id), 4); err != nil {
			t.Fatalf("spawn %s: %v", id, err)
		}
	}
	if _, err := sys.Spawn(ctx, "a", newRecordingActor("a"), 4); err == nil {
		t.Error("duplicate spawn should fail")
	}
	if _, err := sys.Spawn(ctx, "bad", &failingStartActor{}, 4); err == nil {
		t.Error("spawn of failing actor should fail")
	}
	if sys.Len() != 3 {
		t.Errorf("Len = %d, want 3", sys.Len())
	}

	if _, ok := sys.Get("b"); !ok {
		t.Error("b not found")
	}
	if err := sys.Stop(ctx, "b"); err != nil {
		t.Errorf("stop b: %v", err)
	}
	if err := sys.Stop(ctx, "b"); err == nil {
		t.Error("stopping unknown actor should fail")
	}

	if err := sys.StopAll(ctx); err != nil {
		t.Errorf("stop all: %v", err)
	}
	if sys.Len() != 0 {
		t.Errorf("Len after StopAll = %d", sys.Len())
	}
}

func TestSystemSpawnWithOptions(t *testing.T) {
	ctx := context.Background()
	sys := NewSystem()
	a := newRecordingActor("seq")

	ref, err := sys.SpawnWithOptions(ctx, "seq", a, 0, WithSequentialProcessing())
	if err != nil {
		t.Fatal(err)
	}
	ref.Send(&noteMessage{Text: "inline"})
	if len(a.snapshot()) != 1 {
		t.Error("sequential option not applied")
	}
	sys.StopAll(ctx)
}
