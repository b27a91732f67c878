package kvstore

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// setupTestRedis creates a test Redis client, skipping when no local Redis
// is available. Integration coverage with a containerized Redis lives in
// tests/integration.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use a separate DB for tests
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func TestNewRedis_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewRedis should panic with nil client")
		}
	}()
	NewRedis(nil)
}

func TestRedis_PutAndGet(t *testing.T) {
	store := NewRedis(setupTestRedis(t))
	ctx := context.Background()

	if err := store.Put(ctx, "featured:ids", []byte(`["101","102"]`), time.Minute); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	data, err := store.Get(ctx, "featured:ids")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(data) != `["101","102"]` {
		t.Errorf("Data mismatch: got %s", data)
	}
}

func TestRedis_Get_Missing(t *testing.T) {
	store := NewRedis(setupTestRedis(t))

	_, err := store.Get(context.Background(), "missing")
	if err != ErrNotFound {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestRedis_GetWithMetadata(t *testing.T) {
	store := NewRedis(setupTestRedis(t))
	ctx := context.Background()

	if err := store.Put(ctx, "key", []byte("v"), time.Hour); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	_, md, err := store.GetWithMetadata(ctx, "key")
	if err != nil {
		t.Fatalf("GetWithMetadata failed: %v", err)
	}
	ttl := md.TTL()
	if ttl <= 55*time.Minute || ttl > time.Hour {
		t.Errorf("Expected TTL close to 1h, got %s", ttl)
	}
}

func TestRedis_Delete(t *testing.T) {
	store := NewRedis(setupTestRedis(t))
	ctx := context.Background()

	if err := store.Put(ctx, "key", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Delete(ctx, "key"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "key"); err != ErrNotFound {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
}
