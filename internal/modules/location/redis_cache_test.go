package location

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"ridehail/internal/geo"
	"ridehail/internal/modules/driver"
	"ridehail/internal/types"
)

func setupRedisCache(t *testing.T) (*RedisCache, *redis.Client) {
	t.Helper()
	addr := os.Getenv("RIDEHAIL_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("RIDEHAIL_TEST_REDIS_ADDR not set; skipping Redis-backed cache tests")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Fatalf("ping redis: %v", err)
	}
	members, _ := rdb.ZRange(ctx, driverGeoKey, 0, -1).Result()
	for _, m := range members {
		rdb.Del(ctx, driverKey(types.ID(m)))
	}
	rdb.Del(ctx, driverGeoKey)
	return NewRedisCache(rdb, Options{TTL: time.Hour, RadiusKm: 5}), rdb
}

func TestRedisCache_Flow(t *testing.T) {
	c, rdb := setupRedisCache(t)
	ctx := context.Background()

	_ = c.UpdateLocation(ctx, "r1", offset(1), driver.StatusOnline)
	_ = c.UpdateLocation(ctx, "r2", offset(2), driver.StatusBusy)
	_ = c.UpdateLocation(ctx, "r3", offset(30), driver.StatusOnline)

	got, err := c.FindNearby(ctx, origin, 10)
	if err != nil {
		t.Fatalf("find nearby: %v", err)
	}
	if len(got) != 1 || got[0].DriverID != "r1" {
		t.Fatalf("expected r1 only, got %+v", got)
	}

	ttl, err := rdb.TTL(ctx, driverKey("r1")).Result()
	if err != nil || ttl <= 0 || ttl > time.Hour {
		t.Fatalf("hash should carry the cache ttl, got %v (%v)", ttl, err)
	}

	if err := c.UpdateStatus(ctx, "r1", driver.StatusBusy); err != nil {
		t.Fatalf("update status: %v", err)
	}
	if got, _ := c.FindNearby(ctx, origin, 10); len(got) != 0 {
		t.Fatalf("busy driver returned: %+v", got)
	}
	if err := c.UpdateStatus(ctx, "ghost", driver.StatusOnline); err != nil {
		t.Fatalf("status on missing record: %v", err)
	}
	if n, _ := rdb.Exists(ctx, driverKey("ghost")).Result(); n != 0 {
		t.Fatalf("status update must not create a record")
	}

	n, err := c.CountOnlineInCells(ctx, geo.Neighborhood(offset(30), 5))
	if err != nil || n != 1 {
		t.Fatalf("count in cells = %d (%v), want 1", n, err)
	}

	// Simulate key expiry: the hash is gone but the GEO member lingers.
	rdb.Del(ctx, driverKey("r3"))
	dropped, err := c.Sweep(ctx)
	if err != nil || dropped != 1 {
		t.Fatalf("sweep dropped %d (%v), want 1", dropped, err)
	}

	_ = c.RemoveLocation(ctx, "r2")
	if _, err := c.Get(ctx, "r2"); err != ErrNotFound {
		t.Fatalf("removed record still readable: %v", err)
	}
}
