// Package kvstore defines the key/value store contract the proxy caches
// against, plus Redis and in-memory implementations. The store provides
// per-key atomicity and TTL-based expiry but no cross-key transactions;
// multi-key invariants are the callers' responsibility.
package kvstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates the requested key does not exist or has expired.
var ErrNotFound = errors.New("key not found")

// Metadata carries store-level information about an entry.
type Metadata struct {
	// ExpiresAt is when the entry will be evicted. Zero if the entry has
	// no expiry.
	ExpiresAt time.Time
}

// TTL returns the time until eviction, or 0 if already expired or if the
// entry never expires.
func (m Metadata) TTL() time.Duration {
	if m.ExpiresAt.IsZero() {
		return 0
	}
	ttl := time.Until(m.ExpiresAt)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// Store is the eventually-consistent, TTL-aware key/value contract.
// Implementations must return ErrNotFound for missing or expired keys.
type Store interface {
	// Get retrieves the value for key.
	Get(ctx context.Context, key string) ([]byte, error)

	// GetWithMetadata retrieves the value and its expiry metadata.
	GetWithMetadata(ctx context.Context, key string) ([]byte, Metadata, error)

	// Put stores value under key. A ttl of 0 stores without expiry.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
