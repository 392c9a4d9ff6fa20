package store

import (
	"context"
	"sync"
)

// MemoryBackend keeps values in process memory. Several TokenStores sharing
// one MemoryBackend and MemoryBroker behave like browser tabs sharing storage.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string][]byte)}
}

func (b *MemoryBackend) Load(ctx context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (b *MemoryBackend) Save(ctx context.Context, key string, data []byte) error {
	b.mu.Lock()
	b.data[key] = append([]byte(nil), data...)
	b.mu.Unlock()
	return nil
}

func (b *MemoryBackend) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	delete(b.data, key)
	b.mu.Unlock()
	return nil
}

// MemoryBroker delivers changes to every subscriber on a goroutine of its
// own, in publish order, the way the Redis and Postgres listeners do.
type MemoryBroker struct {
	mu     sync.RWMutex
	subs   map[int]*memorySub
	nextID int
}

type memorySub struct {
	fn     func(Change)
	mu     sync.Mutex
	queue  []Change
	wake   chan struct{}
	done   chan struct{}
	idle   *sync.Cond
	active bool
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[int]*memorySub)}
}

func (m *MemoryBroker) Publish(ctx context.Context, c Change) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, sub := range m.subs {
		sub.push(c)
	}
	return nil
}

func (m *MemoryBroker) Subscribe(fn func(Change)) (func(), error) {
	sub := &memorySub{
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	sub.idle = sync.NewCond(&sub.mu)
	go sub.loop()

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = sub
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
			close(sub.done)
		})
	}, nil
}

// Flush blocks until every change published so far has been handled
func (m *MemoryBroker) Flush() {
	m.mu.RLock()
	subs := make([]*memorySub, 0, len(m.subs))
	for _, sub := range m.subs {
		subs = append(subs, sub)
	}
	m.mu.RUnlock()

	for _, sub := range subs {
		sub.mu.Lock()
		for len(sub.queue) > 0 || sub.active {
			sub.idle.Wait()
		}
		sub.mu.Unlock()
	}
}

func (s *memorySub) push(c Change) {
	s.mu.Lock()
	s.queue = append(s.queue, c)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *memorySub) loop() {
	for {
		select {
		case <-s.done:
			s.mu.Lock()
			s.queue = nil
			s.idle.Broadcast()
			s.mu.Unlock()
			return
		case <-s.wake:
		}

		s.mu.Lock()
		for len(s.queue) > 0 {
			c := s.queue[0]
			s.queue = s.queue[1:]
			s.active = true
			s.mu.Unlock()

			s.fn(c)

			s.mu.Lock()
			s.active = false
		}
		s.idle.Broadcast()
		s.mu.Unlock()
	}
}
