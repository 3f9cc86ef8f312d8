package tokenstore

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/codefionn/ictchat/internal/logger"
)

// Watcher reports tokens written to a hand-off file. The parent directory is
// watched so the file may be created, replaced or rewritten in place.
type Watcher struct {
	path     string
	onToken  func(string)
	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once

	mu   sync.Mutex
	last string
	log  *logger.Logger
}

// Watch starts watching path. onToken is called from the watcher goroutine
// with each distinct non-empty token found in the file.
func Watch(path string, onToken func(string)) (*Watcher, error) {
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		_ = fw.Close()
		return nil, err
	}

	w := &Watcher{
		path:    path,
		onToken: onToken,
		watcher: fw,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		log:     logger.Global().WithPrefix("tokenstore"),
	}
	// A token already present at startup counts as seen, not as a replacement.
	w.last = w.read()

	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer close(w.doneCh)
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.check()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("hand-off watcher error: %v", err)
		}
	}
}

func (w *Watcher) check() {
	token := w.read()
	if token == "" {
		return
	}

	w.mu.Lock()
	if token == w.last {
		w.mu.Unlock()
		return
	}
	w.last = token
	w.mu.Unlock()

	w.log.Info("new token delivered through %s", filepath.Base(w.path))
	w.onToken(token)
}

func (w *Watcher) read() string {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopCh)
		err = w.watcher.Close()
		<-w.doneCh
	})
	return err
}
