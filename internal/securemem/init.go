// Package securemem keeps the bearer token in memguard-locked memory so it is
// not swapped to disk or left behind in heap dumps.
//
// Call Init once from main and Cleanup on exit.
package securemem

import (
	"sync"

	"github.com/awnumar/memguard"
)

var initOnce sync.Once

// Init installs memguard's interrupt handler, which purges every locked
// buffer on SIGINT. Safe to call more than once.
func Init() {
	initOnce.Do(memguard.CatchInterrupt)
}

// Cleanup destroys every locked buffer. Tokens are unusable afterwards.
func Cleanup() {
	memguard.Purge()
}
