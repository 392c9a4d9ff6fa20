package cart

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/example/optical-storefront/internal/api"
	"github.com/example/optical-storefront/internal/apitest"
	"github.com/example/optical-storefront/internal/auth"
	"github.com/example/optical-storefront/internal/infrastructure/store"
	"github.com/example/optical-storefront/internal/readmodel"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	srv       *apitest.Server
	transport *apitest.CountingTransport
	tokens    *store.TokenStore
	session   *auth.Session
	store     *Store
}

func newHarness(t *testing.T, opts ...auth.SessionOption) *harness {
	t.Helper()
	srv, ts := apitest.NewTestServer(t)
	transport := &apitest.CountingTransport{}
	client := api.NewClient(api.Config{BaseURL: ts.URL, Transport: transport})

	tokens, err := store.NewTokenStore(store.NewMemoryBackend(), nil, "storefront.tokens")
	require.NoError(t, err)
	t.Cleanup(tokens.Close)

	session := auth.NewSession(context.Background(), tokens, opts...)
	t.Cleanup(session.Close)

	s := NewStore(client, session)
	t.Cleanup(s.Close)

	return &harness{srv: srv, transport: transport, tokens: tokens, session: session, store: s}
}

// login dispatches LOGIN_SUCCESS for a fresh user and waits for the refresh
// it triggers, then resets the request counter
func (h *harness) login(t *testing.T, email string) {
	t.Helper()
	userID, err := h.srv.CreateUser(email, "s3cret", "")
	require.NoError(t, err)
	access, refresh, err := h.srv.IssueTokens(userID)
	require.NoError(t, err)

	require.NoError(t, h.session.Dispatch(context.Background(), auth.LoginSuccess(auth.Tokens{
		AccessToken:  access,
		RefreshToken: refresh,
	})))
	h.store.wg.Wait()
	h.transport.Reset()
}

func jsonStub(body string) apitest.Stub {
	return apitest.Stub{Status: http.StatusOK, Body: body, ContentType: "application/json"}
}

// testClock is a session clock the test moves by hand
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// ============================================
// Authentication gating
// ============================================

func TestStore_AnonymousMutationsAreRejectedWithoutNetwork(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	calls := []struct {
		name string
		fn   func() error
	}{
		{"add", func() error { return h.store.AddItem(ctx, 7, 2) }},
		{"update", func() error { return h.store.UpdateItemQuantity(ctx, 10, 3) }},
		{"remove", func() error { return h.store.RemoveItem(ctx, 10) }},
		{"clear", func() error { return h.store.Clear(ctx) }},
		{"refresh", func() error { return h.store.Refresh(ctx) }},
	}
	for _, tc := range calls {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.fn()
			assert.ErrorIs(t, err, auth.ErrUnauthenticated)
		})
	}

	assert.Zero(t, h.transport.Count())
	assert.Nil(t, h.store.Cart())
	assert.False(t, h.store.Pending())
	assert.ErrorIs(t, h.store.Err(), auth.ErrUnauthenticated)
}

func TestStore_InvalidQuantity(t *testing.T) {
	h := newHarness(t)
	h.login(t, "qty@example.com")
	ctx := context.Background()

	assert.ErrorIs(t, h.store.AddItem(ctx, 12, 0), ErrInvalidQuantity)
	assert.ErrorIs(t, h.store.AddItem(ctx, 12, -1), ErrInvalidQuantity)
	assert.ErrorIs(t, h.store.UpdateItemQuantity(ctx, 1, -1), ErrInvalidQuantity)
	assert.ErrorIs(t, h.store.Err(), ErrInvalidQuantity)
	assert.Zero(t, h.transport.Count())

	require.NoError(t, h.store.Refresh(ctx))
	assert.NoError(t, h.store.Err())
}

func TestStore_ExpiredSessionDropsCart(t *testing.T) {
	clock := &testClock{now: time.Now()}
	h := newHarness(t, auth.WithClock(clock.Now))
	h.login(t, "expiry@example.com")
	ctx := context.Background()

	require.NoError(t, h.store.AddItem(ctx, 12, 2))
	require.Equal(t, 2, h.store.CartCount())

	var mu sync.Mutex
	var seen []*readmodel.Cart
	unsubscribe := h.store.Subscribe(func(c *readmodel.Cart) {
		mu.Lock()
		seen = append(seen, c)
		mu.Unlock()
	})
	defer unsubscribe()

	// access tokens from the fake API live 15 minutes
	clock.Advance(time.Hour)
	h.transport.Reset()
	err := h.store.AddItem(ctx, 12, 1)

	assert.ErrorIs(t, err, auth.ErrUnauthenticated)
	assert.ErrorIs(t, h.store.Err(), auth.ErrUnauthenticated)
	assert.Zero(t, h.transport.Count())
	assert.False(t, h.session.IsAuthenticated())
	assert.Nil(t, h.store.Cart())
	assert.Zero(t, h.store.CartCount())

	stored, err := h.tokens.Read(ctx)
	require.NoError(t, err)
	assert.Nil(t, stored)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 1)
	assert.Nil(t, seen[0])
}

// ============================================
// Scenarios
// ============================================

func TestStore_AddToCartScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	err := h.store.AddItem(ctx, 7, 2)
	require.ErrorIs(t, err, auth.ErrUnauthenticated)
	assert.Zero(t, h.transport.Count())

	h.login(t, "scenario@example.com")
	h.srv.Stub(http.MethodPost, "/api/cart/add", jsonStub(`{
		"id": 1,
		"items": [{"id": 10, "product_variant_id": 7, "qty": 2, "unit_price": 135.00,
			"variant": {"id": 7, "stock_qty": 5, "product": {"id": 1, "name": "Aviator"}}}],
		"total_items": 2,
		"total_price": 270.00
	}`))

	require.NoError(t, h.store.AddItem(ctx, 7, 2))

	assert.Equal(t, 2, h.store.CartCount())
	assert.True(t, decimal.RequireFromString("270.00").Equal(h.store.TotalPrice()))
	assert.True(t, h.store.CanIncrement(10))
	assert.NoError(t, h.store.Err())
	assert.Equal(t, []string{"POST /api/cart/add"}, h.transport.Requests())
}

func TestStore_LogoutClearsCart(t *testing.T) {
	h := newHarness(t)
	h.login(t, "logout@example.com")
	ctx := context.Background()

	require.NoError(t, h.store.AddItem(ctx, 12, 2))
	require.NotNil(t, h.store.Cart())
	require.Equal(t, 2, h.store.CartCount())

	require.NoError(t, h.session.Dispatch(ctx, auth.Logout()))

	assert.Nil(t, h.store.Cart())
	assert.Zero(t, h.store.CartCount())
	assert.True(t, h.store.TotalPrice().IsZero())

	h.transport.Reset()
	assert.ErrorIs(t, h.store.AddItem(ctx, 12, 1), auth.ErrUnauthenticated)
	assert.Zero(t, h.transport.Count())
}

// ============================================
// Snapshot replacement
// ============================================

func TestStore_ResponseReplacesWholeCart(t *testing.T) {
	h := newHarness(t)
	h.login(t, "replace@example.com")
	ctx := context.Background()

	require.NoError(t, h.store.AddItem(ctx, 12, 1))
	before := h.store.Cart()
	require.NotNil(t, before)
	require.NotZero(t, before.UserID)
	require.Equal(t, "active", before.Status)
	require.Len(t, before.Items, 1)

	h.srv.Stub(http.MethodPost, "/api/cart/add", jsonStub(`{"id": 99, "items": [], "total_items": 0, "total_price": "0"}`))
	require.NoError(t, h.store.AddItem(ctx, 21, 1))

	after := h.store.Cart()
	require.NotNil(t, after)
	assert.Equal(t, int64(99), after.ID)
	assert.Zero(t, after.UserID)
	assert.Empty(t, after.Status)
	assert.Empty(t, after.Items)
	assert.True(t, after.CreatedAt.IsZero())
	assert.Zero(t, h.store.CartCount())
}

func TestStore_SnapshotsAreCopies(t *testing.T) {
	h := newHarness(t)
	h.login(t, "copies@example.com")

	require.NoError(t, h.store.AddItem(context.Background(), 12, 1))
	snapshot := h.store.Cart()
	snapshot.Items[0].Qty = 50
	snapshot.TotalItems = 50

	assert.Equal(t, 1, h.store.CartCount())
	assert.Equal(t, 1, h.store.Cart().Items[0].Qty)
}

func TestStore_UpdateRemoveAndClear(t *testing.T) {
	h := newHarness(t)
	h.login(t, "lines@example.com")
	ctx := context.Background()

	require.NoError(t, h.store.AddItem(ctx, 12, 1))
	require.NoError(t, h.store.AddItem(ctx, 21, 1))
	cart := h.store.Cart()
	require.Len(t, cart.Items, 2)
	first, second := cart.Items[0].ID, cart.Items[1].ID

	require.NoError(t, h.store.UpdateItemQuantity(ctx, first, 3))
	assert.Equal(t, 4, h.store.CartCount())

	h.transport.Reset()
	require.NoError(t, h.store.RemoveItem(ctx, second))
	assert.Equal(t, 3, h.store.CartCount())
	_, ok := h.store.Cart().Item(second)
	assert.False(t, ok)
	assert.Equal(t, []string{"DELETE /api/cart/items/" + strconv.FormatInt(second, 10), "GET /api/cart"}, h.transport.Requests())

	require.NoError(t, h.store.UpdateItemQuantity(ctx, first, 0))
	assert.Empty(t, h.store.Cart().Items)

	require.NoError(t, h.store.AddItem(ctx, 12, 2))
	h.transport.Reset()
	require.NoError(t, h.store.Clear(ctx))
	assert.Empty(t, h.store.Cart().Items)
	assert.Zero(t, h.store.CartCount())
	assert.Equal(t, []string{"DELETE /api/cart/clear", "GET /api/cart"}, h.transport.Requests())
}

func TestStore_FailureKeepsSnapshot(t *testing.T) {
	h := newHarness(t)
	h.login(t, "failure@example.com")
	ctx := context.Background()

	require.NoError(t, h.store.AddItem(ctx, 12, 1))
	before := h.store.Cart()

	// variant 71 belongs to a product without stock
	err := h.store.AddItem(ctx, 71, 1)

	var re *api.RemoteError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, http.StatusBadRequest, re.StatusCode())
	assert.Equal(t, err, h.store.Err())
	assert.Equal(t, before, h.store.Cart())

	require.NoError(t, h.store.Refresh(ctx))
	assert.NoError(t, h.store.Err())
}

func TestStore_EmptySuccessKeepsSnapshot(t *testing.T) {
	h := newHarness(t)
	h.login(t, "empty@example.com")
	ctx := context.Background()

	require.NoError(t, h.store.AddItem(ctx, 12, 3))
	before := h.store.Cart()
	itemID := before.Items[0].ID
	h.srv.Stub(http.MethodPut, "/api/cart/items/"+strconv.FormatInt(itemID, 10), apitest.Stub{Status: http.StatusOK})

	err := h.store.UpdateItemQuantity(ctx, itemID, 1)

	assert.ErrorIs(t, err, api.ErrMalformedResponse)
	assert.Equal(t, err, h.store.Err())
	assert.Equal(t, before, h.store.Cart())
	assert.Equal(t, 3, h.store.CartCount())
}

// ============================================
// Queue and session binding
// ============================================

func TestStore_RequestsRunOneAtATime(t *testing.T) {
	h := newHarness(t)
	h.login(t, "queue@example.com")
	ctx := context.Background()

	gate := make(chan struct{})
	stub := jsonStub(`{"id": 1, "items": [], "total_items": 0, "total_price": "0"}`)
	stub.Wait = gate
	h.srv.Stub(http.MethodGet, "/api/cart", stub)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs[0] = h.store.Refresh(ctx)
	}()
	require.Eventually(t, func() bool { return h.transport.Count() == 1 }, time.Second, 5*time.Millisecond)

	wg.Add(1)
	go func() {
		defer wg.Done()
		errs[1] = h.store.AddItem(ctx, 12, 1)
	}()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, h.transport.Count(), "add must wait for the refresh to settle")
	assert.True(t, h.store.Pending())

	close(gate)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, []string{"GET /api/cart", "POST /api/cart/add"}, h.transport.Requests())
	assert.Equal(t, 1, h.store.CartCount())
	assert.False(t, h.store.Pending())
}

func TestStore_QueuedCallHonoursContext(t *testing.T) {
	h := newHarness(t)
	h.login(t, "cancel@example.com")

	gate := make(chan struct{})
	defer close(gate)
	stub := jsonStub(`{"id": 1, "items": [], "total_items": 0, "total_price": "0"}`)
	stub.Wait = gate
	h.srv.Stub(http.MethodGet, "/api/cart", stub)

	refreshCtx, cancelRefresh := context.WithCancel(context.Background())
	defer cancelRefresh()
	go func() { _ = h.store.Refresh(refreshCtx) }()
	require.Eventually(t, func() bool { return h.transport.Count() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := h.store.AddItem(ctx, 12, 1)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, h.transport.Count())
}

func TestStore_DiscardsResponseFromPreviousSession(t *testing.T) {
	h := newHarness(t)
	h.login(t, "stale@example.com")
	ctx := context.Background()

	gate := make(chan struct{})
	stub := jsonStub(`{"id": 1, "items": [{"id": 10, "product_variant_id": 7, "qty": 2, "unit_price": "135"}], "total_items": 2, "total_price": "270"}`)
	stub.Wait = gate
	h.srv.Stub(http.MethodGet, "/api/cart", stub)

	done := make(chan error, 1)
	go func() { done <- h.store.Refresh(ctx) }()
	require.Eventually(t, func() bool { return h.srv.Hits(http.MethodGet, "/api/cart") > 0 }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.session.Dispatch(ctx, auth.Logout()))
	close(gate)

	assert.ErrorIs(t, <-done, ErrSessionChanged)
	assert.Nil(t, h.store.Cart())
	assert.NoError(t, h.store.Err())
}

func TestStore_LoginTriggersRefresh(t *testing.T) {
	h := newHarness(t)

	var mu sync.Mutex
	var seen []*readmodel.Cart
	unsubscribe := h.store.Subscribe(func(c *readmodel.Cart) {
		mu.Lock()
		seen = append(seen, c)
		mu.Unlock()
	})
	defer unsubscribe()

	userID, err := h.srv.CreateUser("refresh@example.com", "s3cret", "")
	require.NoError(t, err)
	access, refresh, err := h.srv.IssueTokens(userID)
	require.NoError(t, err)
	require.NoError(t, h.session.Dispatch(context.Background(), auth.LoginSuccess(auth.Tokens{AccessToken: access, RefreshToken: refresh})))
	h.store.wg.Wait()

	assert.Equal(t, []string{"GET /api/cart"}, h.transport.Requests())
	cart := h.store.Cart()
	require.NotNil(t, cart)
	assert.Equal(t, userID, cart.UserID)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 1)
	assert.Equal(t, cart.ID, seen[0].ID)
}

func TestStore_RestoredSessionFetchesOnStart(t *testing.T) {
	srv, ts := apitest.NewTestServer(t)
	transport := &apitest.CountingTransport{}
	client := api.NewClient(api.Config{BaseURL: ts.URL, Transport: transport})

	userID, err := srv.CreateUser("restored@example.com", "s3cret", "")
	require.NoError(t, err)
	access, refresh, err := srv.IssueTokens(userID)
	require.NoError(t, err)

	tokens, err := store.NewTokenStore(store.NewMemoryBackend(), nil, "storefront.tokens")
	require.NoError(t, err)
	defer tokens.Close()
	require.NoError(t, tokens.Write(context.Background(), auth.Tokens{AccessToken: access, RefreshToken: refresh}))

	session := auth.NewSession(context.Background(), tokens)
	defer session.Close()
	require.True(t, session.IsAuthenticated())

	s := NewStore(client, session)
	defer s.Close()
	s.wg.Wait()

	assert.Equal(t, []string{"GET /api/cart"}, transport.Requests())
	require.NotNil(t, s.Cart())
	assert.Equal(t, userID, s.Cart().UserID)
}
