package storage

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rl1809/stockledger/internal/core/domain"
)

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func TestSetIdempotency_Success(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client, nil)

	// Setup
	client.Del(ctx, idempotencyKeyPrefix+"test-idem-key")

	// First call should succeed
	ok, err := adapter.SetIdempotency(ctx, "test-idem-key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected first call to succeed")
	}

	// Second call should fail (key exists)
	ok, err = adapter.SetIdempotency(ctx, "test-idem-key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected second call to fail")
	}

	ttl := client.TTL(ctx, idempotencyKeyPrefix+"test-idem-key").Val()
	if ttl <= 0 || ttl > idempotencyKeyTTL {
		t.Errorf("unexpected ttl %v", ttl)
	}
}

func TestReleaseIdempotency(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client, nil)

	// Setup
	client.Del(ctx, idempotencyKeyPrefix+"release-idem-key")

	ok, err := adapter.SetIdempotency(ctx, "release-idem-key")
	if err != nil || !ok {
		t.Fatalf("expected claim to succeed, got %v, %v", ok, err)
	}
	if err := adapter.ReleaseIdempotency(ctx, "release-idem-key"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Released key can be claimed again
	ok, err = adapter.SetIdempotency(ctx, "release-idem-key")
	if err != nil || !ok {
		t.Fatalf("expected claim after release to succeed, got %v, %v", ok, err)
	}
	client.Del(ctx, idempotencyKeyPrefix+"release-idem-key")
}

func TestSetIdempotency_Concurrent(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client, nil)

	// Setup
	client.Del(ctx, idempotencyKeyPrefix+"concurrent-idem-key")

	var successCount atomic.Int32
	var wg sync.WaitGroup
	concurrency := 100

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := adapter.SetIdempotency(ctx, "concurrent-idem-key")
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if ok {
				successCount.Add(1)
			}
		}()
	}

	wg.Wait()

	// Only one should succeed
	if successCount.Load() != 1 {
		t.Errorf("expected exactly 1 success, got %d", successCount.Load())
	}
}

type sinkFunc func(context.Context, domain.ChangeEvent) error

func (f sinkFunc) Publish(ctx context.Context, e domain.ChangeEvent) error { return f(ctx, e) }

func TestPublishForward_RoundTrip(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	adapter := NewRedisAdapter(client, nil)
	adapter.channel = "stockledger:test:" + uuid.NewString()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan domain.ChangeEvent, 4)
	done := make(chan error, 1)
	go func() {
		done <- adapter.Forward(ctx, sinkFunc(func(_ context.Context, e domain.ChangeEvent) error {
			received <- e
			return nil
		}))
	}()

	// Wait until the subscription is registered.
	deadline := time.Now().Add(2 * time.Second)
	for {
		n := client.PubSubNumSub(ctx, adapter.channel).Val()[adapter.channel]
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("forwarder never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// A malformed payload is skipped.
	client.Publish(ctx, adapter.channel, "not json")

	item := domain.Item{ID: "item-1", Name: "Corn", SKU: "C", Category: domain.CategoryFeeds, CurrentStock: 3, Version: 1}
	if err := adapter.Publish(ctx, domain.InsertEvent(item)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case e := <-received:
		if e.EventType != domain.EventInsert || e.ItemID() != "item-1" || e.New.CurrentStock != 3 {
			t.Errorf("unexpected event %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event not forwarded")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("forward returned %v", err)
	}
}
