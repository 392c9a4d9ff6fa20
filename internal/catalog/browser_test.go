package catalog

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/example/optical-storefront/internal/readmodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFetcher answers with one product whose id is the category filter (or
// 1). Queries whose category has a gate block until the gate is closed.
type fakeFetcher struct {
	mu    sync.Mutex
	calls []url.Values
	gates map[string]chan struct{}
	err   error
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{gates: map[string]chan struct{}{}}
}

func (f *fakeFetcher) gate(category string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[category] = ch
	return ch
}

func (f *fakeFetcher) ListProducts(ctx context.Context, query url.Values) (*readmodel.ProductsPage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, query)
	gate := f.gates[query.Get(FieldCategory)]
	err := f.err
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	id := int64(1)
	if c, perr := strconv.ParseInt(query.Get(FieldCategory), 10, 64); perr == nil {
		id = c
	}
	page, _ := strconv.Atoi(query.Get(FieldPage))
	return &readmodel.ProductsPage{
		Products:   []readmodel.Product{{ID: id, Name: "p" + query.Get(FieldSearch)}},
		Total:      30,
		Page:       page,
		Limit:      12,
		TotalPages: 3,
	}, nil
}

func (f *fakeFetcher) Calls() []url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]url.Values(nil), f.calls...)
}

func newTestBrowser(t *testing.T, f ProductFetcher, opts ...BrowserOption) (*Browser, *MemoryLocation) {
	t.Helper()
	loc := NewMemoryLocation("")
	opts = append([]BrowserOption{WithLocation(loc), WithDebounce(40 * time.Millisecond)}, opts...)
	b := NewBrowser(f, NewQueryCache(), opts...)
	t.Cleanup(b.Close)
	return b, loc
}

func waitLoaded(t *testing.T, b *Browser) Snapshot {
	t.Helper()
	require.Eventually(t, func() bool {
		s := b.Snapshot()
		return !s.Loading && (s.Page != nil || s.Err != nil)
	}, time.Second, 2*time.Millisecond)
	return b.Snapshot()
}

func TestBrowser_InitialStateFromLocation(t *testing.T) {
	loc := NewMemoryLocation("?search=ray&category=2&page=3")
	b := NewBrowser(newFakeFetcher(), nil, WithLocation(loc))
	defer b.Close()

	s := b.Snapshot()
	assert.Equal(t, "ray", s.Filters.Search)
	assert.Equal(t, "2", s.Filters.Category)
	assert.Equal(t, 3, s.Filters.Page)
	assert.Nil(t, s.Page)
}

func TestBrowser_ImmediateFetchForNonSearchFields(t *testing.T) {
	f := newFakeFetcher()
	b, loc := newTestBrowser(t, f)

	require.NoError(t, b.Set(FieldCategory, "2"))
	snap := waitLoaded(t, b)

	require.Len(t, f.Calls(), 1)
	assert.Equal(t, "2", f.Calls()[0].Get(FieldCategory))
	assert.Equal(t, int64(2), snap.Page.Products[0].ID)
	assert.Equal(t, "category=2", loc.Query())
}

func TestBrowser_DebouncedSearchFetchesOnce(t *testing.T) {
	f := newFakeFetcher()
	b, loc := newTestBrowser(t, f)

	for _, term := range []string{"o", "oc", "ocu"} {
		require.NoError(t, b.Set(FieldSearch, term))
		time.Sleep(10 * time.Millisecond)
	}
	assert.Empty(t, f.Calls(), "no fetch while typing")
	assert.Equal(t, []string{"search=o", "search=oc", "search=ocu"}, loc.History())

	time.Sleep(150 * time.Millisecond)

	calls := f.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "ocu", calls[0].Get(FieldSearch))
	snap := waitLoaded(t, b)
	assert.Equal(t, "pocu", snap.Page.Products[0].Name)
}

func TestBrowser_OtherFieldsUseSettledSearch(t *testing.T) {
	f := newFakeFetcher()
	b, _ := newTestBrowser(t, f)

	require.NoError(t, b.Set(FieldSearch, "ray"))
	require.NoError(t, b.Set(FieldCategory, "2"))

	require.Eventually(t, func() bool { return len(f.Calls()) == 2 }, time.Second, 2*time.Millisecond)
	calls := f.Calls()
	assert.Equal(t, "", calls[0].Get(FieldSearch))
	assert.Equal(t, "2", calls[0].Get(FieldCategory))
	assert.Equal(t, "ray", calls[1].Get(FieldSearch))
	assert.Equal(t, "2", calls[1].Get(FieldCategory))
}

func TestBrowser_StaleResponseIsDiscarded(t *testing.T) {
	f := newFakeFetcher()
	gateA := f.gate("1")
	b, _ := newTestBrowser(t, f)

	require.NoError(t, b.Set(FieldCategory, "1"))
	require.Eventually(t, func() bool { return len(f.Calls()) == 1 }, time.Second, time.Millisecond)
	require.NoError(t, b.Set(FieldCategory, "2"))

	snap := waitLoaded(t, b)
	require.Equal(t, int64(2), snap.Page.Products[0].ID)

	close(gateA)
	b.wg.Wait()

	snap = b.Snapshot()
	assert.Equal(t, int64(2), snap.Page.Products[0].ID, "older request must not overwrite the newer result")
	assert.Equal(t, "2", snap.Filters.Category)
}

func TestBrowser_CachedStateIsNotRefetched(t *testing.T) {
	f := newFakeFetcher()
	b, _ := newTestBrowser(t, f)

	b.Refetch()
	waitLoaded(t, b)
	require.NoError(t, b.Set(FieldCategory, "3"))
	waitLoaded(t, b)
	require.NoError(t, b.Set(FieldCategory, ""))
	require.Eventually(t, func() bool {
		s := b.Snapshot()
		return !s.Loading && s.Page != nil && s.Page.Products[0].ID == 1
	}, time.Second, 2*time.Millisecond)

	assert.Len(t, f.Calls(), 2)
}

func TestBrowser_FetchErrorIsRecorded(t *testing.T) {
	f := newFakeFetcher()
	f.err = errors.New("erro ao carregar produtos")
	b, _ := newTestBrowser(t, f)

	b.Refetch()
	snap := waitLoaded(t, b)

	assert.EqualError(t, snap.Err, "erro ao carregar produtos")
	assert.Nil(t, snap.Page)
}

func TestBrowser_GoToPage(t *testing.T) {
	f := newFakeFetcher()
	b, loc := newTestBrowser(t, f)

	assert.ErrorIs(t, b.GoToPage(2), ErrInvalidValue, "no result yet")

	b.Refetch()
	waitLoaded(t, b)

	require.NoError(t, b.GoToPage(3))
	assert.Equal(t, 3, b.Snapshot().Filters.Page)
	assert.Equal(t, "page=3", loc.Query())

	assert.ErrorIs(t, b.GoToPage(4), ErrInvalidValue)
	assert.ErrorIs(t, b.GoToPage(0), ErrInvalidValue)
}

func TestBrowser_Clear(t *testing.T) {
	f := newFakeFetcher()
	b, loc := newTestBrowser(t, f)

	require.NoError(t, b.Set(FieldCategory, "2"))
	require.NoError(t, b.Set(FieldSearch, "pending"))
	b.Clear()

	assert.Equal(t, DefaultFilterState(), b.Snapshot().Filters)
	assert.Equal(t, "", loc.Query())

	time.Sleep(100 * time.Millisecond)
	for _, call := range f.Calls() {
		assert.Empty(t, call.Get(FieldSearch), "cleared search must never be fetched")
	}
}

func TestBrowser_RejectsInvalidChange(t *testing.T) {
	f := newFakeFetcher()
	b, loc := newTestBrowser(t, f)

	assert.ErrorIs(t, b.Set("colour", "red"), ErrUnknownField)
	assert.ErrorIs(t, b.Set(FieldLimit, "7"), ErrInvalidValue)
	assert.Empty(t, loc.History())
	assert.Empty(t, f.Calls())
}

func TestBrowser_CloseCancelsPendingSearch(t *testing.T) {
	f := newFakeFetcher()
	b := NewBrowser(f, nil, WithDebounce(20*time.Millisecond))

	require.NoError(t, b.Set(FieldSearch, "ocu"))
	b.Close()
	time.Sleep(60 * time.Millisecond)

	assert.Empty(t, f.Calls())
	assert.NoError(t, b.Set(FieldSearch, "after close"))
	assert.Empty(t, f.Calls())
}

func TestBrowser_CloseAbandonsInFlightFetch(t *testing.T) {
	f := newFakeFetcher()
	f.gate("1")
	b := NewBrowser(f, nil)

	var seen []Snapshot
	var mu sync.Mutex
	b.Subscribe(func(s Snapshot) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	require.NoError(t, b.Set(FieldCategory, "1"))
	require.Eventually(t, func() bool { return len(f.Calls()) == 1 }, time.Second, time.Millisecond)
	b.Close()

	mu.Lock()
	defer mu.Unlock()
	for _, s := range seen {
		assert.Nil(t, s.Page)
	}
}

func TestBrowser_SubscribeAndUnsubscribe(t *testing.T) {
	f := newFakeFetcher()
	b, _ := newTestBrowser(t, f)

	var mu sync.Mutex
	var loadingSeen, loadedSeen bool
	unsubscribe := b.Subscribe(func(s Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		if s.Loading {
			loadingSeen = true
		}
		if s.Page != nil {
			loadedSeen = true
		}
	})

	b.Refetch()
	waitLoaded(t, b)

	mu.Lock()
	assert.True(t, loadingSeen)
	assert.True(t, loadedSeen)
	loadingSeen, loadedSeen = false, false
	mu.Unlock()

	unsubscribe()
	require.NoError(t, b.Set(FieldCategory, "3"))
	waitLoaded(t, b)

	mu.Lock()
	defer mu.Unlock()
	assert.False(t, loadingSeen)
}
