package notification

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"ridehail/internal/types"
)

func TestRedisDeduper(t *testing.T) {
	addr := os.Getenv("RIDEHAIL_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("RIDEHAIL_TEST_REDIS_ADDR not set; skipping Redis-backed dedupe test")
	}
	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })

	key := string(types.NewID()) + ":trip.accepted"
	d := NewRedisDeduper(rdb, time.Minute)
	t.Cleanup(func() { _ = d.Release(ctx, key) })

	first, err := d.Claim(ctx, key)
	if err != nil || !first {
		t.Fatalf("first claim: %v %v", first, err)
	}
	again, err := d.Claim(ctx, key)
	if err != nil || again {
		t.Fatalf("second claim: %v %v", again, err)
	}
	if ttl := rdb.TTL(ctx, dedupeKeyPrefix+key).Val(); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("ttl = %v", ttl)
	}
	if err := d.Release(ctx, key); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := d.Claim(ctx, key); !ok {
		t.Fatalf("claim after release should succeed")
	}
}
