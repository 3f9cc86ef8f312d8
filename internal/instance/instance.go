// Package instance keeps one ictchat process per state directory, so a
// persisted token never drives two live connections at once.
package instance

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrRunning is returned when another live process holds the lock.
var ErrRunning = errors.New("ictchat is already running")

// Owner describes the process holding the lock.
type Owner struct {
	PID     int       `json:"pid"`
	Mode    string    `json:"mode"`
	Addr    string    `json:"addr,omitempty"`
	Started time.Time `json:"started"`
}

// Lock is an exclusive lock file.
type Lock struct {
	path   string
	file   *os.File
	owner  Owner
	locked bool
}

// New creates a lock at path.
func New(path string) *Lock {
	return &Lock{path: path}
}

// Acquire takes the lock for mode (and the bridge address, if any). A lock
// left by a dead process is replaced.
func (l *Lock) Acquire(mode, addr string) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if os.IsExist(err) {
		holder, readErr := Read(l.path)
		if readErr == nil && isProcessRunning(holder.PID) {
			return fmt.Errorf("%w: pid %d (%s)", ErrRunning, holder.PID, holder.Mode)
		}
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove stale lock: %w", err)
		}
		file, err = os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	}
	if err != nil {
		return fmt.Errorf("failed to create lock: %w", err)
	}

	l.file = file
	l.locked = true
	l.owner = Owner{PID: os.Getpid(), Mode: mode, Addr: addr, Started: time.Now().UTC()}

	if err := json.NewEncoder(file).Encode(l.owner); err != nil {
		_ = l.Release()
		return fmt.Errorf("failed to write lock: %w", err)
	}
	if err := file.Sync(); err != nil {
		_ = l.Release()
		return fmt.Errorf("failed to sync lock: %w", err)
	}
	return nil
}

// Release drops the lock. Releasing an unheld lock is a no-op.
func (l *Lock) Release() error {
	if !l.locked {
		return nil
	}
	l.locked = false

	var errs []error
	if l.file != nil {
		errs = append(errs, l.file.Close())
		l.file = nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("failed to remove lock: %w", err))
	}
	return errors.Join(errs...)
}

// Owner returns the holder recorded by Acquire.
func (l *Lock) Owner() Owner {
	return l.owner
}

// Locked reports whether the lock is held.
func (l *Lock) Locked() bool {
	return l.locked
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Read returns the owner recorded in the lock file at path.
func Read(path string) (Owner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Owner{}, err
	}
	var o Owner
	if err := json.Unmarshal(data, &o); err != nil {
		return Owner{}, fmt.Errorf("invalid lock file: %w", err)
	}
	return o, nil
}
