// Package authz turns a bearer token into an authorized Identity, or a
// rejection with a reason and the login URL. Nothing is rendered until
// Authorize returns StateAuthorized.
package authz

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/codefionn/ictchat/internal/chaterr"
	"github.com/codefionn/ictchat/internal/jwtinspect"
	"github.com/codefionn/ictchat/internal/logger"
	"github.com/codefionn/ictchat/internal/metrics"
	"github.com/codefionn/ictchat/internal/models"
	"github.com/codefionn/ictchat/internal/securemem"
	"github.com/codefionn/ictchat/internal/tokenstore"
)

// State is the position of an authorization run.
type State int

const (
	StateIdle State = iota
	StateLocallyChecked
	StateRemotelyValidating
	StateAuthorized
	StateRejected
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLocallyChecked:
		return "locally_checked"
	case StateRemotelyValidating:
		return "remotely_validating"
	case StateAuthorized:
		return "authorized"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// RejectCode classifies a rejection.
type RejectCode string

const (
	CodeNoToken           RejectCode = "no_token"
	CodeExpired           RejectCode = "expired"
	CodeServerUnreachable RejectCode = "server_unreachable"
	CodeInvalidToken      RejectCode = "invalid_token"
	CodeInvalidRole       RejectCode = "invalid_role"
	CodeInvalidApp        RejectCode = "invalid_app"
	CodeInvalidAccess     RejectCode = "invalid_access"
)

// Identity is the validated user of a session.
type Identity struct {
	ID       models.ID
	Role     Role
	App      AppKind
	AppName  string
	Access   []string
	Username string
	Email    string
}

// HasAccess reports whether the identity carries the capability.
func (i *Identity) HasAccess(capability string) bool {
	for _, a := range i.Access {
		if a == capability {
			return true
		}
	}
	return false
}

// Verdict is the terminal result of Authorize.
type Verdict struct {
	State    State
	Identity *Identity
	// Token is the validated token, set only when authorized.
	Token    *securemem.Token
	Code     RejectCode
	Reason   string
	LoginURL string
}

// Authorized reports whether the verdict grants access.
func (v Verdict) Authorized() bool { return v.State == StateAuthorized }

// Err returns nil for an authorized verdict and an authentication error
// carrying the reason otherwise.
func (v Verdict) Err() error {
	if v.Authorized() {
		return nil
	}
	return chaterr.New(chaterr.KindAuthentication, "authz."+string(v.Code), v.Reason)
}

// Authorizer runs the authorization state machine.
type Authorizer struct {
	store    tokenstore.Store
	verifier Verifier
	loginURL string
	now      func() time.Time
	metrics  *metrics.Metrics
	log      *logger.Logger

	mu           sync.Mutex
	state        State
	onTransition func(State)
}

// Option configures an Authorizer.
type Option func(*Authorizer)

// WithClock injects the clock used for the local expiry check.
func WithClock(now func() time.Time) Option {
	return func(a *Authorizer) { a.now = now }
}

// WithMetrics records verdicts on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Authorizer) { a.metrics = m }
}

// WithTransitionHook calls fn on every state change.
func WithTransitionHook(fn func(State)) Option {
	return func(a *Authorizer) { a.onTransition = fn }
}

// New creates an Authorizer.
func New(store tokenstore.Store, verifier Verifier, loginURL string, opts ...Option) *Authorizer {
	a := &Authorizer{
		store:    store,
		verifier: verifier,
		loginURL: loginURL,
		now:      time.Now,
		log:      logger.Global().WithPrefix("authz"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// State returns the current state.
func (a *Authorizer) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Authorizer) transition(s State) {
	a.mu.Lock()
	a.state = s
	hook := a.onTransition
	a.mu.Unlock()
	if hook != nil {
		hook(s)
	}
}

// Authorize runs one authorization pass. urlToken takes precedence over the
// persisted token and is persisted before any check. Any rejection clears the
// persisted token.
func (a *Authorizer) Authorize(ctx context.Context, urlToken string) Verdict {
	start := a.now()
	a.transition(StateIdle)

	token := urlToken
	if token != "" {
		if err := a.store.Save(ctx, token); err != nil {
			a.log.Warn("failed to persist token: %v", err)
		}
	} else {
		stored, err := a.store.Load(ctx)
		if err != nil {
			a.log.Warn("failed to load persisted token: %v", err)
		}
		token = stored
	}

	if token == "" {
		return a.reject(ctx, CodeNoToken, "Access denied: No token provided.", start)
	}

	a.transition(StateLocallyChecked)
	if jwtinspect.IsExpired(token, a.now().UTC().UnixMilli()) {
		reason := "Token expired. Please log in again."
		if jwtinspect.Decode(token) == nil {
			reason = "Invalid token structure."
		}
		return a.reject(ctx, CodeExpired, reason, start)
	}

	a.transition(StateRemotelyValidating)
	resp, err := a.verifier.Verify(ctx, token)
	if err != nil {
		a.log.Warn("verification failed: %v", err)
		if chaterr.KindOf(err) == chaterr.KindProtocol {
			return a.reject(ctx, CodeInvalidToken, "Access denied: Token validation failed.", start)
		}
		return a.reject(ctx, CodeServerUnreachable, "Authentication server not reachable.", start)
	}
	if !resp.Valid {
		reason := resp.Error
		if reason == "" {
			reason = "Unknown error"
		}
		return a.reject(ctx, CodeInvalidToken, "Invalid token: "+reason, start)
	}

	details := resp.UserDetails
	grant, code, reason := Evaluate(details.Role, details.App, details.Access)
	if code != "" {
		return a.reject(ctx, code, reason, start)
	}

	identity := &Identity{
		ID:       resp.UserID,
		Role:     grant.Role,
		App:      grant.App,
		AppName:  grant.AppName,
		Access:   grant.Access,
		Username: details.Username,
		Email:    details.Email,
	}
	a.transition(StateAuthorized)
	a.metrics.ObserveVerdict(StateAuthorized.String(), "", a.now().Sub(start))
	a.log.Info("authorized user %s role=%s app=%s", identity.ID, identity.Role, identity.AppName)

	return Verdict{
		State:    StateAuthorized,
		Identity: identity,
		Token:    securemem.NewToken(token),
	}
}

func (a *Authorizer) reject(ctx context.Context, code RejectCode, reason string, start time.Time) Verdict {
	if err := a.store.Clear(ctx); err != nil {
		a.log.Warn("failed to clear persisted token: %v", err)
	}
	a.transition(StateRejected)
	a.metrics.ObserveVerdict(StateRejected.String(), string(code), a.now().Sub(start))
	a.log.Info("rejected (%s): %s", code, reason)

	return Verdict{
		State:    StateRejected,
		Code:     code,
		Reason:   reason,
		LoginURL: a.loginURL,
	}
}

// Logout forgets the persisted token.
func (a *Authorizer) Logout(ctx context.Context) error {
	if err := a.store.Clear(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	a.transition(StateIdle)
	return nil
}

// IsRejection reports whether err came from a rejected verdict.
func IsRejection(err error) bool {
	return errors.Is(err, chaterr.Authentication)
}
