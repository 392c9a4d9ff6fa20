package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/example/optical-storefront/internal/logger"
	"github.com/example/optical-storefront/internal/readmodel"
)

// ErrStaleResponse marks a fetch result superseded by a newer request. The
// Browser drops such results and never returns this error to callers.
var ErrStaleResponse = errors.New("stale response")

// ProductFetcher loads one page of the catalog. api.Client satisfies it.
type ProductFetcher interface {
	ListProducts(ctx context.Context, query url.Values) (*readmodel.ProductsPage, error)
}

// Location is the address bar: the Browser replaces its query on every
// filter change without navigating
type Location interface {
	Query() string
	Replace(query string)
}

// MemoryLocation is a Location held in memory. It records every
// replacement.
type MemoryLocation struct {
	mu      sync.Mutex
	query   string
	history []string
}

func NewMemoryLocation(query string) *MemoryLocation {
	return &MemoryLocation{query: query}
}

func (l *MemoryLocation) Query() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.query
}

func (l *MemoryLocation) Replace(query string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.query = query
	l.history = append(l.history, query)
}

// History returns every query passed to Replace, oldest first
func (l *MemoryLocation) History() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.history...)
}

// Snapshot is the observable state of a Browser. Page must be treated as
// read-only.
type Snapshot struct {
	Filters FilterState
	Page    *readmodel.ProductsPage
	Loading bool
	Err     error
}

type BrowserOption func(*Browser)

func WithDebounce(d time.Duration) BrowserOption {
	return func(b *Browser) { b.debouncer = NewDebouncer(d) }
}

func WithLocation(loc Location) BrowserOption {
	return func(b *Browser) { b.location = loc }
}

// Browser is the live filter engine. Search edits are debounced, other
// edits fetch at once with the last settled search. Only the result of the
// latest request is applied.
type Browser struct {
	fetcher   ProductFetcher
	cache     *QueryCache
	location  Location
	debouncer *Debouncer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	state         FilterState
	settledSearch string
	page          *readmodel.ProductsPage
	loading       bool
	err           error
	latest        uint64
	closed        bool
	listeners     map[int]func(Snapshot)
	nextListener  int

	// notifyMu keeps listener deliveries in state order
	notifyMu sync.Mutex
}

// NewBrowser starts from the filter state found in the location. Nothing is
// fetched until Refetch or the first change.
func NewBrowser(fetcher ProductFetcher, cache *QueryCache, opts ...BrowserOption) *Browser {
	b := &Browser{
		fetcher:   fetcher,
		cache:     cache,
		listeners: map[int]func(Snapshot){},
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.cache == nil {
		b.cache = NewQueryCache()
	}
	if b.location == nil {
		b.location = NewMemoryLocation("")
	}
	if b.debouncer == nil {
		b.debouncer = NewDebouncer(DefaultDebounce)
	}
	b.ctx, b.cancel = context.WithCancel(context.Background())

	b.state = FromQueryString(b.location.Query())
	b.settledSearch = b.state.Search
	return b
}

// Set applies one field change
func (b *Browser) Set(key, value string) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	next, err := b.state.Set(key, value)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	b.state = next
	b.mu.Unlock()

	b.location.Replace(ToQueryString(next))
	b.notify()

	if key == FieldSearch {
		b.debouncer.Trigger(b.settleSearch)
		return nil
	}
	b.fetch()
	return nil
}

// Clear resets every filter and fetches at once
func (b *Browser) Clear() {
	b.debouncer.Cancel()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.state = DefaultFilterState()
	b.settledSearch = ""
	b.mu.Unlock()

	b.location.Replace("")
	b.notify()
	b.fetch()
}

// GoToPage moves to page n of the last applied result
func (b *Browser) GoToPage(n int) error {
	b.mu.Lock()
	total := 0
	if b.page != nil {
		total = b.page.TotalPages
	}
	b.mu.Unlock()

	if n < 1 || n > total {
		return fmt.Errorf("%w: page %d of %d", ErrInvalidValue, n, total)
	}
	return b.Set(FieldPage, strconv.Itoa(n))
}

// Refetch fetches the current state at once
func (b *Browser) Refetch() {
	b.fetch()
}

func (b *Browser) settleSearch() {
	b.mu.Lock()
	b.settledSearch = b.state.Search
	b.mu.Unlock()
	b.fetch()
}

// fetch issues a request for the current state with the settled search
func (b *Browser) fetch() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.latest++
	token := b.latest
	query := b.state
	query.Search = b.settledSearch
	b.loading = true
	b.wg.Add(1)
	b.mu.Unlock()

	b.notify()

	go func() {
		defer b.wg.Done()
		page, err := b.cache.Fetch(b.ctx, CacheKey(query), func(ctx context.Context) (*readmodel.ProductsPage, error) {
			return b.fetcher.ListProducts(ctx, query.APIValues())
		})
		if err := b.apply(token, page, err); errors.Is(err, ErrStaleResponse) {
			logger.Debug("[Catalog] dropped stale response", "request", token, "key", CacheKey(query))
		}
	}()
}

func (b *Browser) apply(token uint64, page *readmodel.ProductsPage, fetchErr error) error {
	b.mu.Lock()
	if b.closed || token != b.latest {
		b.mu.Unlock()
		return ErrStaleResponse
	}
	b.loading = false
	if fetchErr != nil {
		b.page = nil
		b.err = fetchErr
	} else {
		b.page = page
		b.err = nil
	}
	b.mu.Unlock()

	if fetchErr != nil {
		logger.Warn("[Catalog] failed to load products", "error", fetchErr)
	}
	b.notify()
	return nil
}

// Snapshot returns the current state
func (b *Browser) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{Filters: b.state, Page: b.page, Loading: b.loading, Err: b.err}
}

// Subscribe registers fn for every state change. fn runs synchronously and
// must not call back into the Browser's mutating methods.
func (b *Browser) Subscribe(fn func(Snapshot)) func() {
	b.mu.Lock()
	id := b.nextListener
	b.nextListener++
	b.listeners[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

func (b *Browser) notify() {
	b.notifyMu.Lock()
	defer b.notifyMu.Unlock()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	snap := Snapshot{Filters: b.state, Page: b.page, Loading: b.loading, Err: b.err}
	fns := make([]func(Snapshot), 0, len(b.listeners))
	for _, fn := range b.listeners {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

// Close cancels the pending debounce and abandons in-flight fetches
func (b *Browser) Close() {
	b.debouncer.Cancel()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
}
