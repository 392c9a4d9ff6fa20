package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/example/optical-storefront/internal/auth"
	"github.com/example/optical-storefront/internal/logger"
	"github.com/example/optical-storefront/internal/readmodel"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidQuantity = errors.New("invalid quantity")
	ErrSessionChanged  = errors.New("session changed while the cart request was in flight")
	ErrNoCart          = errors.New("cart request succeeded without returning a cart")
)

// API is the subset of the remote client the cart needs
type API interface {
	GetCart(ctx context.Context, token string) (*readmodel.Cart, error)
	AddToCart(ctx context.Context, token string, variantID int64, quantity int) (*readmodel.Cart, error)
	UpdateCartItem(ctx context.Context, token string, itemID int64, quantity int) (*readmodel.Cart, error)
	RemoveCartItem(ctx context.Context, token string, itemID int64) error
	ClearCart(ctx context.Context, token string) error
}

// Store mirrors the remote cart of the current session. Requests run one at
// a time in call order; every successful response replaces the snapshot.
type Store struct {
	api     API
	session *auth.Session

	// queue holds one token per request in flight
	queue chan struct{}

	mu        sync.RWMutex
	cart      *readmodel.Cart
	err       error
	pending   int
	seenEpoch uint64
	closed    bool
	listeners map[int]func(*readmodel.Cart)
	nextID    int

	notifyMu sync.Mutex

	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	unsubscribe func()
}

// NewStore binds a cart to the session. An authenticated session has its
// cart fetched in the background right away.
func NewStore(api API, session *auth.Session) *Store {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		api:       api,
		session:   session,
		queue:     make(chan struct{}, 1),
		listeners: make(map[int]func(*readmodel.Cart)),
		ctx:       ctx,
		cancel:    cancel,
	}
	s.unsubscribe = session.Subscribe(s.onSession)

	if session.IsAuthenticated() {
		s.mu.Lock()
		s.seenEpoch = session.Epoch()
		s.mu.Unlock()
		s.refreshInBackground()
	}
	return s
}

// Close detaches from the session and waits for background refreshes
func (s *Store) Close() {
	s.unsubscribe()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

// onSession runs on the dispatching goroutine and must not block on I/O
func (s *Store) onSession(status auth.Status) {
	if !status.IsAuthenticated {
		s.mu.Lock()
		had := s.cart != nil
		s.cart = nil
		s.err = nil
		s.seenEpoch = 0
		s.mu.Unlock()
		if had {
			logger.Info("[Cart] session ended, cart cleared")
			s.notify(nil)
		}
		return
	}

	epoch := s.session.Epoch()
	s.mu.Lock()
	changed := epoch != s.seenEpoch
	s.seenEpoch = epoch
	s.mu.Unlock()
	if changed {
		s.refreshInBackground()
	}
}

func (s *Store) refreshInBackground() {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Refresh(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("[Cart] background refresh failed", "error", err)
		}
	}()
}

// Cart returns the current snapshot, nil when there is none
func (s *Store) Cart() *readmodel.Cart {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cart.Clone()
}

// Err is the error of the last failed operation, nil after a success
func (s *Store) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Pending reports whether any cart request is queued or in flight
func (s *Store) Pending() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pending > 0
}

func (s *Store) CartCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cart == nil {
		return 0
	}
	return s.cart.TotalItems
}

func (s *Store) TotalPrice() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cart == nil {
		return decimal.Zero
	}
	return s.cart.TotalPrice
}

// CanIncrement is a hint for enabling "+" controls. The server still
// decides whether the quantity is available.
func (s *Store) CanIncrement(itemID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cart.CanIncrement(itemID)
}

// Subscribe registers fn to receive every new snapshot, nil included
func (s *Store) Subscribe(fn func(*readmodel.Cart)) (unsubscribe func()) {
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

func (s *Store) AddItem(ctx context.Context, variantID int64, quantity int) error {
	if quantity <= 0 {
		return s.fail(fmt.Errorf("%w: %d, must be positive", ErrInvalidQuantity, quantity))
	}
	return s.run(ctx, "add item", func(ctx context.Context, token string) (*readmodel.Cart, error) {
		return s.api.AddToCart(ctx, token, variantID, quantity)
	})
}

// UpdateItemQuantity sets a line's quantity. Zero asks the server to drop
// the line.
func (s *Store) UpdateItemQuantity(ctx context.Context, itemID int64, quantity int) error {
	if quantity < 0 {
		return s.fail(fmt.Errorf("%w: %d, must not be negative", ErrInvalidQuantity, quantity))
	}
	return s.run(ctx, "update item", func(ctx context.Context, token string) (*readmodel.Cart, error) {
		return s.api.UpdateCartItem(ctx, token, itemID, quantity)
	})
}

func (s *Store) RemoveItem(ctx context.Context, itemID int64) error {
	return s.run(ctx, "remove item", func(ctx context.Context, token string) (*readmodel.Cart, error) {
		if err := s.api.RemoveCartItem(ctx, token, itemID); err != nil {
			return nil, err
		}
		return s.api.GetCart(ctx, token)
	})
}

func (s *Store) Clear(ctx context.Context) error {
	return s.run(ctx, "clear", func(ctx context.Context, token string) (*readmodel.Cart, error) {
		if err := s.api.ClearCart(ctx, token); err != nil {
			return nil, err
		}
		return s.api.GetCart(ctx, token)
	})
}

// Refresh re-fetches the cart. Without a session the snapshot is dropped.
func (s *Store) Refresh(ctx context.Context) error {
	err := s.run(ctx, "refresh", func(ctx context.Context, token string) (*readmodel.Cart, error) {
		return s.api.GetCart(ctx, token)
	})
	if errors.Is(err, auth.ErrUnauthenticated) {
		s.drop()
	}
	return err
}

type requestFunc func(ctx context.Context, token string) (*readmodel.Cart, error)

// run waits for the previous request to settle, then performs fn under the
// session that is current at that point
func (s *Store) run(ctx context.Context, op string, fn requestFunc) error {
	// BearerToken logs out a session whose tokens expired, which drops the cart
	if _, err := s.session.BearerToken(ctx); err != nil {
		return s.fail(err)
	}

	s.mu.Lock()
	s.pending++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.pending--
		s.mu.Unlock()
	}()

	select {
	case s.queue <- struct{}{}:
	case <-ctx.Done():
		return s.fail(ctx.Err())
	}
	defer func() { <-s.queue }()

	epoch := s.session.Epoch()
	token, err := s.session.BearerToken(ctx)
	if err != nil {
		return s.fail(err)
	}

	cart, err := fn(ctx, token)
	if s.session.Epoch() != epoch {
		logger.Debug("[Cart] discarding response from a previous session", "op", op)
		return ErrSessionChanged
	}
	if err == nil && cart == nil {
		err = ErrNoCart
	}
	if err != nil {
		logger.Warn("[Cart] request failed", "op", op, "error", err)
		return s.fail(err)
	}

	s.replace(cart)
	logger.Debug("[Cart] snapshot replaced", "op", op, "total_items", s.CartCount())
	return nil
}

// fail records err as the store's last error and returns it
func (s *Store) fail(err error) error {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	return err
}

// drop forgets the snapshot but keeps the last error
func (s *Store) drop() {
	s.mu.Lock()
	had := s.cart != nil
	s.cart = nil
	s.mu.Unlock()
	if had {
		s.notify(nil)
	}
}

// replace swaps in a new snapshot and clears the last error
func (s *Store) replace(cart *readmodel.Cart) {
	s.mu.Lock()
	s.cart = cart.Clone()
	s.err = nil
	s.mu.Unlock()
	s.notify(cart)
}

func (s *Store) notify(cart *readmodel.Cart) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.RLock()
	listeners := make([]func(*readmodel.Cart), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.RUnlock()

	for _, fn := range listeners {
		fn(cart.Clone())
	}
}
