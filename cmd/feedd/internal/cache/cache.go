package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Store is the narrow cache contract used by the aggregation layer. Values
// are opaque payloads (the service stores JSON-encoded quote sets); a miss is
// reported via the bool, an error only on a corrupt or unreachable backend.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

type entry struct {
	key      string
	value    []byte
	cachedAt time.Time
	ttl      time.Duration
}

// Memory is a bounded in-process Store. Reads are lock-protected and prune
// expired entries lazily; writes evict oldest-first once capacity is reached.
type Memory struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List // front = most recently written

	now func() time.Time
}

// NewMemory creates an in-memory store holding at most capacity entries.
func NewMemory(capacity int) *Memory {
	return &Memory{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		now:      time.Now,
	}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}

	e := el.Value.(*entry)
	if m.now().Sub(e.cachedAt) >= e.ttl {
		m.order.Remove(el)
		delete(m.entries, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (m *Memory) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.entries[key]; ok {
		e := el.Value.(*entry)
		e.value = value
		e.cachedAt = m.now()
		e.ttl = ttl
		m.order.MoveToFront(el)
		return nil
	}

	m.entries[key] = m.order.PushFront(&entry{
		key:      key,
		value:    value,
		cachedAt: m.now(),
		ttl:      ttl,
	})

	for len(m.entries) > m.capacity {
		oldest := m.order.Back()
		if oldest == nil {
			break
		}
		m.order.Remove(oldest)
		delete(m.entries, oldest.Value.(*entry).key)
	}
	return nil
}

// Len reports the current entry count.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Memory) Close() error { return nil }
