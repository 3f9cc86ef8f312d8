package instance

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "ictchat.lock")
	lock := New(path)

	if err := lock.Acquire("serve", "127.0.0.1:7420"); err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	if !lock.Locked() {
		t.Error("Lock should be held")
	}

	owner, err := Read(path)
	if err != nil {
		t.Fatalf("Failed to read lock: %v", err)
	}
	if owner.PID != os.Getpid() || owner.Mode != "serve" || owner.Addr != "127.0.0.1:7420" {
		t.Errorf("Unexpected owner %+v", owner)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Failed to release lock: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Lock file should be removed on release")
	}
	if err := lock.Release(); err != nil {
		t.Errorf("Second release should be a no-op, got %v", err)
	}

	if err := lock.Acquire("tui", ""); err != nil {
		t.Fatalf("Failed to reacquire lock: %v", err)
	}
	lock.Release()
}

func TestAcquireHeldByLiveProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ictchat.lock")
	first := New(path)
	if err := first.Acquire("tui", ""); err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	defer first.Release()

	err := New(path).Acquire("serve", "")
	if !errors.Is(err, ErrRunning) {
		t.Fatalf("Expected ErrRunning, got %v", err)
	}
}

func TestAcquireReplacesStaleLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ictchat.lock")
	// PIDs near the maximum are unlikely to exist.
	stale, _ := json.Marshal(Owner{PID: 1 << 30, Mode: "serve", Started: time.Now().Add(-time.Hour)})
	if err := os.WriteFile(path, stale, 0o644); err != nil {
		t.Fatal(err)
	}

	lock := New(path)
	if err := lock.Acquire("tui", ""); err != nil {
		t.Fatalf("Expected stale lock to be replaced, got %v", err)
	}
	defer lock.Release()

	if lock.Owner().PID != os.Getpid() {
		t.Errorf("Expected our pid, got %d", lock.Owner().PID)
	}
}

func TestAcquireReplacesCorruptLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ictchat.lock")
	if err := os.WriteFile(path, []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}

	lock := New(path)
	if err := lock.Acquire("tui", ""); err != nil {
		t.Fatalf("Expected corrupt lock to be replaced, got %v", err)
	}
	lock.Release()
}
