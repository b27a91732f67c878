package kvstore

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Store used by tests and local development.
// Expired entries are dropped lazily on read and swept on every write so
// the map stays bounded.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	sweepAt time.Time
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memoryEntry)}
}

// Get retrieves the value for key.
func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	data, _, err := m.GetWithMetadata(ctx, key)
	return data, err
}

// GetWithMetadata retrieves the value and its expiry metadata.
func (m *Memory) GetWithMetadata(_ context.Context, key string) ([]byte, Metadata, error) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	now := time.Now()
	if !ok || entry.expired(now) {
		if ok {
			m.mu.Lock()
			delete(m.entries, key)
			m.mu.Unlock()
		}
		storeMisses.Inc()
		return nil, Metadata{}, ErrNotFound
	}

	storeHits.WithLabelValues("memory").Inc()
	value := make([]byte, len(entry.value))
	copy(value, entry.value)
	return value, Metadata{ExpiresAt: entry.expiresAt}, nil
}

// Put stores value under key with the given TTL.
func (m *Memory) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	entry := memoryEntry{value: stored}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}

	m.mu.Lock()
	m.sweepLocked()
	m.entries[key] = entry
	m.mu.Unlock()
	storeBytesWritten.Add(float64(len(value)))
	return nil
}

// Delete removes key.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Len reports the number of live entries. Test helper.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	now := time.Now()
	for _, e := range m.entries {
		if !e.expired(now) {
			n++
		}
	}
	return n
}

// sweepLocked drops expired entries at most once per minute. Caller holds mu.
func (m *Memory) sweepLocked() {
	now := time.Now()
	if now.Before(m.sweepAt) {
		return
	}
	m.sweepAt = now.Add(time.Minute)
	for key, entry := range m.entries {
		if entry.expired(now) {
			delete(m.entries, key)
		}
	}
}
