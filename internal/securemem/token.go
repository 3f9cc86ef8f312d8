package securemem

import (
	"crypto/subtle"
	"strconv"
	"sync"

	"github.com/awnumar/memguard"
	"github.com/cespare/xxhash/v2"
)

// Token is a bearer token held in an encrypted memguard enclave. The zero
// value and a nil *Token are both empty.
type Token struct {
	mu      sync.RWMutex
	enclave *memguard.Enclave
	size    int
	sum     uint64
}

// NewToken seals plaintext into a Token. An empty plaintext yields an empty
// token without allocating an enclave.
func NewToken(plaintext string) *Token {
	t := &Token{}
	if plaintext == "" {
		return t
	}
	b := []byte(plaintext)
	t.size = len(b)
	t.sum = xxhash.Sum64(b)
	// NewEnclave wipes b.
	t.enclave = memguard.NewEnclave(b)
	return t
}

// Reveal returns a plaintext copy. The copy lives in ordinary memory, so keep
// it on the stack of the request that needs it.
func (t *Token) Reveal() string {
	if t == nil {
		return ""
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.enclave == nil {
		return ""
	}
	buf, err := t.enclave.Open()
	if err != nil {
		return ""
	}
	defer buf.Destroy()
	return string(buf.Bytes())
}

// IsEmpty reports whether the token holds no value.
func (t *Token) IsEmpty() bool {
	if t == nil {
		return true
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enclave == nil
}

// Len returns the plaintext length.
func (t *Token) Len() int {
	if t == nil {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.size
}

// Fingerprint is a non-reversible key for the token, used to index live
// connections without holding the plaintext in a map.
func (t *Token) Fingerprint() string {
	if t.IsEmpty() {
		return ""
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return strconv.FormatUint(t.sum, 16)
}

// Equal compares against a plaintext in constant time.
func (t *Token) Equal(other string) bool {
	if t.IsEmpty() {
		return other == ""
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	buf, err := t.enclave.Open()
	if err != nil {
		return false
	}
	defer buf.Destroy()
	return subtle.ConstantTimeCompare(buf.Bytes(), []byte(other)) == 1
}

// Destroy drops the enclave. The token is empty afterwards.
func (t *Token) Destroy() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enclave = nil
	t.size = 0
	t.sum = 0
}

// String never prints the secret.
func (t *Token) String() string {
	if t.IsEmpty() {
		return "Token(empty)"
	}
	return "Token(" + strconv.Itoa(t.Len()) + " bytes)"
}
