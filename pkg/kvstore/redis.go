package kvstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Store backed by a Redis instance.
type Redis struct {
	client *redis.Client
}

// NewRedis creates a Redis-backed store.
func NewRedis(client *redis.Client) *Redis {
	if client == nil {
		panic("redis client cannot be nil")
	}
	return &Redis{client: client}
}

// Get retrieves the value for key.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			storeMisses.Inc()
			return nil, ErrNotFound
		}
		storeErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}
	storeHits.WithLabelValues("redis").Inc()
	return data, nil
}

// GetWithMetadata retrieves the value and derives its expiry from PTTL.
func (r *Redis) GetWithMetadata(ctx context.Context, key string) ([]byte, Metadata, error) {
	data, err := r.Get(ctx, key)
	if err != nil {
		return nil, Metadata{}, err
	}

	var md Metadata
	ttl, err := r.client.PTTL(ctx, key).Result()
	if err != nil {
		storeErrors.WithLabelValues("pttl").Inc()
		return nil, Metadata{}, fmt.Errorf("redis pttl: %w", err)
	}
	// PTTL returns a negative duration for keys without expiry or keys that
	// vanished between the GET and the PTTL; both map to a zero ExpiresAt.
	if ttl > 0 {
		md.ExpiresAt = time.Now().Add(ttl)
	}
	return data, md, nil
}

// Put stores value under key with the given TTL.
func (r *Redis) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		storeErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("redis set: %w", err)
	}
	storeBytesWritten.Add(float64(len(value)))
	return nil
}

// Delete removes key.
func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		storeErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
