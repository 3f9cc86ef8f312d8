// Package chaterr defines the error taxonomy shared by the chat core.
//
// Every failure that crosses a component boundary is an *Error carrying a
// Kind. Callers branch on the kind with errors.Is(err, chaterr.Transport)
// and never on message text.
package chaterr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure by how the caller must react to it.
type Kind int

const (
	// KindUnknown is the zero value and never produced deliberately.
	KindUnknown Kind = iota
	// KindAuthentication failures fail closed with a reason and a login URL.
	KindAuthentication
	// KindTransport failures are network or non-2xx responses. Never retried.
	KindTransport
	// KindProtocol failures are malformed payloads.
	KindProtocol
	// KindLiveChannel failures come from the socket. Logged, the UI stays up.
	KindLiveChannel
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindLiveChannel:
		return "live_channel"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is matching on kind.
var (
	Authentication = &Error{Kind: KindAuthentication}
	Transport      = &Error{Kind: KindTransport}
	Protocol       = &Error{Kind: KindProtocol}
	LiveChannel    = &Error{Kind: KindLiveChannel}
)

// Error is a classified failure.
type Error struct {
	Kind Kind
	// Op names the operation that failed, e.g. "api.history".
	Op      string
	Message string
	// Status is the HTTP status for transport failures, 0 otherwise.
	Status int
	Cause  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String() + " error"
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports a match when target is an *Error of the same kind with no
// Op, which is how the package sentinels are shaped.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Op != "" || t.Message != "" {
		return e == t
	}
	return e.Kind == t.Kind
}

// New creates an error of the given kind.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap creates an error of the given kind around cause. A nil cause yields nil.
func Wrap(kind Kind, op string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Cause: cause}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(kind Kind, op string, cause error, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// HTTPStatus builds a transport error for a non-2xx response.
func HTTPStatus(op string, status int) *Error {
	return &Error{Kind: KindTransport, Op: op, Status: status, Message: fmt.Sprintf("unexpected status %d", status)}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
