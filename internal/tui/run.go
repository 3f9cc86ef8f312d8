package tui

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"
)

// Notifier coalesces change notifications into a channel the model reads.
type Notifier struct {
	ch chan struct{}
}

// NewNotifier creates a notifier.
func NewNotifier() *Notifier {
	return &Notifier{ch: make(chan struct{}, 1)}
}

// Notify signals a change without blocking.
func (n *Notifier) Notify() {
	select {
	case n.ch <- struct{}{}:
	default:
	}
}

// Changes is the channel passed as Options.Changes.
func (n *Notifier) Changes() <-chan struct{} {
	return n.ch
}

// Run shows the UI until the user quits or ctx ends. It reports whether the
// user logged out.
func Run(ctx context.Context, client Client, opts Options) (bool, error) {
	m := New(ctx, client, opts)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return false, err
	}
	return m.LoggedOut(), nil
}
