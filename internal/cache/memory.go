package cache

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process TTL cache. When full, expired entries are swept
// first and then the entry closest to expiry is evicted.
type Memory struct {
	mu         sync.Mutex
	maxEntries int
	data       map[string]memoryEntry
	now        func() time.Time
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func NewMemory(maxEntries int) *Memory {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &Memory{
		maxEntries: maxEntries,
		data:       make(map[string]memoryEntry),
		now:        time.Now,
	}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.data[key]
	if !ok {
		return nil, ErrMiss
	}
	if !m.now().Before(entry.expiresAt) {
		delete(m.data, key)
		return nil, ErrMiss
	}
	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	stored := make([]byte, len(value))
	copy(stored, value)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.data[key]; !exists && len(m.data) >= m.maxEntries {
		m.cleanupLocked()
		if len(m.data) >= m.maxEntries {
			m.evictOneLocked()
		}
	}
	m.data[key] = memoryEntry{value: stored, expiresAt: m.now().Add(ttl)}
	return nil
}

// Len reports the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string]memoryEntry)
	return nil
}

func (m *Memory) cleanupLocked() {
	now := m.now()
	for k, v := range m.data {
		if !now.Before(v.expiresAt) {
			delete(m.data, k)
		}
	}
}

func (m *Memory) evictOneLocked() {
	var (
		victim string
		first  = true
		oldest time.Time
	)
	for k, v := range m.data {
		if first || v.expiresAt.Before(oldest) {
			victim, oldest, first = k, v.expiresAt, false
		}
	}
	if !first {
		delete(m.data, victim)
	}
}
