package apitest

import (
	"net/http"
	"sync"
)

// CountingTransport records every request that passes through it
type CountingTransport struct {
	Base http.RoundTripper

	mu       sync.Mutex
	requests []string
}

func (t *CountingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	t.mu.Lock()
	t.requests = append(t.requests, r.Method+" "+r.URL.Path)
	t.mu.Unlock()

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(r)
}

// Count returns the number of requests sent so far
func (t *CountingTransport) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.requests)
}

// Requests returns "METHOD /path" for every request in order
func (t *CountingTransport) Requests() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.requests...)
}

func (t *CountingTransport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requests = nil
}
