package kv

import (
	"context"
	"sync"
	"time"
)

// Compile-time interface check.
var _ Store = (*memoryStore)(nil)

type memoryEntry struct {
	value     string
	count     int64
	expiresAt time.Time
}

type memoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     Clock
}

// NewMemoryStore creates a process-local Store. Entries are not shared
// between server instances and do not survive restarts.
func NewMemoryStore(now Clock) Store {
	if now == nil {
		now = time.Now
	}

	return &memoryStore{
		entries: make(map[string]*memoryEntry, 64),
		now:     now,
	}
}

func (m *memoryStore) Incr(
	_ context.Context, key string, ttl time.Duration,
) (int64, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()

	entry, ok := m.entries[key]
	if !ok || !now.Before(entry.expiresAt) {
		entry = &memoryEntry{expiresAt: now.Add(ttl)}
		m.entries[key] = entry
	}

	entry.count++

	return entry.count, entry.expiresAt, nil
}

func (m *memoryStore) Set(
	_ context.Context, key, value string, ttl time.Duration,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = &memoryEntry{
		value:     value,
		expiresAt: m.now().Add(ttl),
	}

	return nil
}

func (m *memoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return "", false, nil
	}

	if !m.now().Before(entry.expiresAt) {
		delete(m.entries, key)

		return "", false, nil
	}

	return entry.value, true, nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)

	return nil
}

func (m *memoryStore) DeleteExpired(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()

	var removed int64

	for key, entry := range m.entries {
		if !now.Before(entry.expiresAt) {
			delete(m.entries, key)
			removed++
		}
	}

	return removed, nil
}
