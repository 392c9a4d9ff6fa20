package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/example/optical-storefront/internal/auth"
	"github.com/example/optical-storefront/internal/logger"
	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("key not found")
	// ErrStorageUnavailable is shared with the session so callers can test
	// for it without importing this package
	ErrStorageUnavailable = auth.ErrStorageUnavailable
)

// Backend persists opaque values under a key
type Backend interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// Change announces that the value under Key was written or cleared by the
// handle identified by Origin. An empty Key means any key may have changed.
type Change struct {
	Key    string `json:"key"`
	Origin string `json:"origin"`
}

// Notifier carries change announcements between handles
type Notifier interface {
	Publish(ctx context.Context, c Change) error
	Subscribe(fn func(Change)) (unsubscribe func(), err error)
}

// TokenStore persists session tokens in a Backend and tells other handles
// about changes through a Notifier.
type TokenStore struct {
	backend  Backend
	notifier Notifier
	key      string
	origin   string

	mu          sync.Mutex
	listeners   map[int]func()
	nextID      int
	unsubscribe func()
}

func NewTokenStore(backend Backend, notifier Notifier, key string) (*TokenStore, error) {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	s := &TokenStore{
		backend:   backend,
		notifier:  notifier,
		key:       key,
		origin:    uuid.New().String(),
		listeners: make(map[int]func()),
	}

	unsubscribe, err := notifier.Subscribe(s.handleChange)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to token changes: %w", err)
	}
	s.unsubscribe = unsubscribe
	return s, nil
}

// Origin identifies this handle in change notifications
func (s *TokenStore) Origin() string {
	return s.origin
}

// Read returns the stored tokens, or nil when nothing usable is stored
func (s *TokenStore) Read(ctx context.Context) (*auth.Tokens, error) {
	data, err := s.backend.Load(ctx, s.key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load tokens: %w", ErrStorageUnavailable, err)
	}

	var tokens auth.Tokens
	if err := json.Unmarshal(data, &tokens); err != nil || tokens.AccessToken == "" {
		logger.Warn("[TokenStore] stored tokens are corrupt, treating as absent", "key", s.key)
		return nil, nil
	}
	return &tokens, nil
}

func (s *TokenStore) Write(ctx context.Context, tokens auth.Tokens) error {
	data, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("failed to encode tokens: %w", err)
	}
	if err := s.backend.Save(ctx, s.key, data); err != nil {
		return fmt.Errorf("%w: failed to save tokens: %w", ErrStorageUnavailable, err)
	}
	s.publish(ctx)
	return nil
}

func (s *TokenStore) Clear(ctx context.Context) error {
	if err := s.backend.Delete(ctx, s.key); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: failed to delete tokens: %w", ErrStorageUnavailable, err)
	}
	s.publish(ctx)
	return nil
}

// OnExternalChange registers fn for changes made through other handles
func (s *TokenStore) OnExternalChange(fn func()) func() {
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

// Close stops receiving notifications
func (s *TokenStore) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

// publish failures are only logged, the write itself already succeeded
func (s *TokenStore) publish(ctx context.Context) {
	if err := s.notifier.Publish(ctx, Change{Key: s.key, Origin: s.origin}); err != nil {
		logger.Warn("[TokenStore] failed to publish change", "key", s.key, "error", err)
	}
}

func (s *TokenStore) handleChange(c Change) {
	if c.Origin == s.origin || (c.Key != "" && c.Key != s.key) {
		return
	}

	s.mu.Lock()
	listeners := make([]func(), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

// NopNotifier drops every notification
type NopNotifier struct{}

func (NopNotifier) Publish(ctx context.Context, c Change) error { return nil }

func (NopNotifier) Subscribe(fn func(Change)) (func(), error) { return func() {}, nil }
