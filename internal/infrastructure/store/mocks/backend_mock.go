package mocks

import (
	"context"
	"sync"

	"github.com/example/optical-storefront/internal/infrastructure/store"
)

// MockBackend is a mock implementation of store.Backend for testing
type MockBackend struct {
	mu   sync.RWMutex
	data map[string][]byte

	// For tracking calls in tests
	LoadCalls   []string
	SaveCalls   []SaveCall
	DeleteCalls []string

	LoadErr   error
	SaveErr   error
	DeleteErr error
}

// SaveCall records parameters passed to Save
type SaveCall struct {
	Key  string
	Data []byte
}

// NewMockBackend creates a new MockBackend
func NewMockBackend() *MockBackend {
	return &MockBackend{
		data:        make(map[string][]byte),
		LoadCalls:   make([]string, 0),
		SaveCalls:   make([]SaveCall, 0),
		DeleteCalls: make([]string, 0),
	}
}

func (m *MockBackend) Load(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.LoadCalls = append(m.LoadCalls, key)
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	v, ok := m.data[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *MockBackend) Save(ctx context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SaveCalls = append(m.SaveCalls, SaveCall{Key: key, Data: append([]byte(nil), data...)})
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.data[key] = append([]byte(nil), data...)
	return nil
}

func (m *MockBackend) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.DeleteCalls = append(m.DeleteCalls, key)
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	delete(m.data, key)
	return nil
}

// SetRaw stores a value directly, bypassing call tracking
func (m *MockBackend) SetRaw(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = data
}

// Reset clears all data and recorded calls
func (m *MockBackend) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string][]byte)
	m.LoadCalls = make([]string, 0)
	m.SaveCalls = make([]SaveCall, 0)
	m.DeleteCalls = make([]string, 0)
	m.LoadErr = nil
	m.SaveErr = nil
	m.DeleteErr = nil
}
