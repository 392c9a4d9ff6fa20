package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/example/optical-storefront/internal/logger"
)

var (
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrInvalidTransition  = errors.New("invalid session transition")
	ErrInvalidAction      = errors.New("invalid session action")
	ErrTokensExpired      = errors.New("tokens already expired")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// TokenStore persists the credentials of the session
type TokenStore interface {
	Read(ctx context.Context) (*Tokens, error)
	Write(ctx context.Context, tokens Tokens) error
	Clear(ctx context.Context) error
	// OnExternalChange registers fn for changes made by other handles
	OnExternalChange(fn func()) (unsubscribe func())
}

type State int

const (
	Anonymous State = iota
	Authenticated
)

func (s State) String() string {
	if s == Authenticated {
		return "Authenticated"
	}
	return "Anonymous"
}

type ActionType string

const (
	ActionLoginSuccess        ActionType = "LOGIN_SUCCESS"
	ActionRefreshTokenSuccess ActionType = "REFRESH_TOKEN_SUCCESS"
	ActionSessionRestore      ActionType = "SESSION_RESTORE"
	ActionLogout              ActionType = "LOGOUT"
)

// Action is the only way to change a Session
type Action struct {
	Type   ActionType
	Tokens *Tokens
}

func LoginSuccess(t Tokens) Action        { return Action{Type: ActionLoginSuccess, Tokens: &t} }
func RefreshTokenSuccess(t Tokens) Action { return Action{Type: ActionRefreshTokenSuccess, Tokens: &t} }
func SessionRestore(t Tokens) Action      { return Action{Type: ActionSessionRestore, Tokens: &t} }
func Logout() Action                      { return Action{Type: ActionLogout} }

// Status is a read-only view of the session
type Status struct {
	IsAuthenticated bool
	Tokens          *Tokens
}

func (s Status) State() State {
	if s.IsAuthenticated {
		return Authenticated
	}
	return Anonymous
}

// Session is the authentication state machine. Its state changes only
// through Dispatch and through changes made to the TokenStore by other handles.
type Session struct {
	store TokenStore
	now   func() time.Time

	// dispatchMu serializes transitions, mu guards the fields below
	dispatchMu sync.Mutex
	mu         sync.RWMutex
	tokens     *Tokens
	epoch      uint64
	listeners  map[int]func(Status)
	nextID     int
	expiry     *time.Timer
	closed     bool

	unsubscribeStore func()
}

type SessionOption func(*Session)

// WithClock replaces time.Now for expiry checks
func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

// NewSession creates a session whose initial state comes from the store.
// Expired tokens found in the store are cleared, and a store that cannot be
// read leaves the session Anonymous.
func NewSession(ctx context.Context, store TokenStore, opts ...SessionOption) *Session {
	s := &Session{
		store:     store,
		now:       time.Now,
		listeners: make(map[int]func(Status)),
	}
	for _, opt := range opts {
		opt(s)
	}

	tokens, err := store.Read(ctx)
	switch {
	case err != nil:
		logger.Warn("[Session] token store unavailable, starting anonymous", "error", err)
	case tokens == nil:
	case tokens.Valid(s.now()):
		s.tokens = tokens.Clone()
		s.epoch = 1
		s.armExpiryLocked()
		logger.Info("[Session] restored authenticated session")
	default:
		logger.Info("[Session] stored tokens expired, clearing")
		if err := store.Clear(ctx); err != nil {
			logger.Warn("[Session] failed to clear expired tokens", "error", err)
		}
	}

	s.unsubscribeStore = store.OnExternalChange(s.syncFromStore)
	return s
}

// Close stops listening for external token changes and disarms the
// expiry timer
func (s *Session) Close() {
	if s.unsubscribeStore != nil {
		s.unsubscribeStore()
	}
	s.mu.Lock()
	s.closed = true
	s.armExpiryLocked()
	s.mu.Unlock()
}

// Status returns the current authentication status. Tokens that expired
// since the last transition report as unauthenticated.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statusLocked()
}

func (s *Session) statusLocked() Status {
	if !s.tokens.Valid(s.now()) {
		return Status{}
	}
	return Status{IsAuthenticated: true, Tokens: s.tokens.Clone()}
}

func (s *Session) IsAuthenticated() bool {
	return s.Status().IsAuthenticated
}

// Epoch changes whenever the identity behind the session changes (login,
// logout, restore from anonymous). Work started under one epoch must be
// discarded if the epoch moved before it completed.
func (s *Session) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// BearerToken returns the access token to send with authenticated requests.
// Finding expired tokens logs the session out before it returns, so it must
// not be called from a listener.
func (s *Session) BearerToken(ctx context.Context) (string, error) {
	s.mu.RLock()
	tokens := s.tokens.Clone()
	s.mu.RUnlock()

	if tokens.Valid(s.now()) {
		return tokens.AccessToken, nil
	}
	if tokens != nil {
		s.expireIfDue(ctx)
	}
	return "", ErrUnauthenticated
}

// expireIfDue dispatches LOGOUT when the held tokens have expired. It
// reports whether the session is still authenticated afterwards.
func (s *Session) expireIfDue(ctx context.Context) bool {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.RLock()
	tokens := s.tokens
	s.mu.RUnlock()
	if tokens == nil {
		return false
	}
	if tokens.Valid(s.now()) {
		return true
	}
	logger.Info("[Session] access token expired, logging out")
	s.logout(ctx)
	return false
}

// armExpiryLocked replaces the expiry timer with one for the held tokens.
// s.mu must be held.
func (s *Session) armExpiryLocked() {
	if s.expiry != nil {
		s.expiry.Stop()
		s.expiry = nil
	}
	if s.closed || s.tokens == nil || s.tokens.ExpiresAt == nil {
		return
	}
	s.expiry = time.AfterFunc(s.tokens.ExpiresAt.Sub(s.now()), s.onExpiry)
}

func (s *Session) onExpiry() {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.expireIfDue(ctx) {
		// tokens were replaced, or the clock has not reached the deadline yet
		s.mu.Lock()
		s.armExpiryLocked()
		s.mu.Unlock()
	}
}

// Subscribe registers fn to run after every transition. Listeners run
// synchronously on the dispatching goroutine and must not call Dispatch.
func (s *Session) Subscribe(fn func(Status)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Dispatch applies an action. No transition performs network I/O; the
// caller is expected to have talked to the API already.
func (s *Session) Dispatch(ctx context.Context, a Action) error {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	switch a.Type {
	case ActionLoginSuccess, ActionSessionRestore:
		return s.authenticate(ctx, a)
	case ActionRefreshTokenSuccess:
		return s.refresh(ctx, a)
	case ActionLogout:
		s.logout(ctx)
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidAction, a.Type)
}

func (s *Session) authenticate(ctx context.Context, a Action) error {
	if a.Tokens == nil || a.Tokens.AccessToken == "" {
		return fmt.Errorf("%w: %s without tokens", ErrInvalidAction, a.Type)
	}
	tokens := a.Tokens.withDerivedExpiry()
	if !tokens.Valid(s.now()) {
		return fmt.Errorf("%s: %w", a.Type, ErrTokensExpired)
	}

	wasAuthenticated := s.Status().IsAuthenticated
	if err := s.store.Write(ctx, tokens); err != nil {
		logger.Error("[Session] failed to persist tokens", "action", string(a.Type), "error", err)
		s.setTokens(nil, wasAuthenticated)
		return storageError(err)
	}

	// A login always starts a new identity, a restore only when coming from anonymous
	bump := a.Type == ActionLoginSuccess || !wasAuthenticated
	s.setTokens(&tokens, bump)
	logger.Info("[Session] authenticated", "action", string(a.Type))
	return nil
}

func (s *Session) refresh(ctx context.Context, a Action) error {
	if !s.Status().IsAuthenticated {
		logger.Warn("[Session] REFRESH_TOKEN_SUCCESS dispatched while anonymous, ignoring")
		return ErrInvalidTransition
	}
	if a.Tokens == nil || a.Tokens.AccessToken == "" {
		return fmt.Errorf("%w: %s without tokens", ErrInvalidAction, a.Type)
	}
	tokens := a.Tokens.withDerivedExpiry()
	if !tokens.Valid(s.now()) {
		return fmt.Errorf("%s: %w", a.Type, ErrTokensExpired)
	}

	if err := s.store.Write(ctx, tokens); err != nil {
		logger.Error("[Session] failed to persist refreshed tokens", "error", err)
		s.setTokens(nil, true)
		return storageError(err)
	}
	s.setTokens(&tokens, false)
	logger.Debug("[Session] tokens refreshed")
	return nil
}

func (s *Session) logout(ctx context.Context) {
	if err := s.store.Clear(ctx); err != nil {
		logger.Error("[Session] failed to clear token store", "error", err)
	}
	s.mu.RLock()
	hadTokens := s.tokens != nil
	s.mu.RUnlock()
	s.setTokens(nil, hadTokens)
	logger.Info("[Session] logged out")
}

// syncFromStore applies a change made through another handle without
// writing back to the store.
func (s *Session) syncFromStore() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	tokens, err := s.store.Read(ctx)
	wasAuthenticated := s.Status().IsAuthenticated
	if err != nil {
		logger.Warn("[Session] token store unavailable after external change", "error", err)
		s.setTokens(nil, wasAuthenticated)
		return
	}
	if !tokens.Valid(s.now()) {
		if wasAuthenticated {
			logger.Info("[Session] logged out by another client")
		}
		s.setTokens(nil, wasAuthenticated)
		return
	}
	if !wasAuthenticated {
		logger.Info("[Session] logged in by another client")
	}
	s.setTokens(tokens, !wasAuthenticated)
}

// setTokens swaps the state and notifies listeners outside mu
func (s *Session) setTokens(tokens *Tokens, bumpEpoch bool) {
	s.mu.Lock()
	s.tokens = tokens.Clone()
	if bumpEpoch {
		s.epoch++
	}
	s.armExpiryLocked()
	status := s.statusLocked()
	listeners := make([]func(Status), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(status)
	}
}

func storageError(err error) error {
	if errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}
