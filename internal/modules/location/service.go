// README: Cache construction from config and the background expiry sweeper.
package location

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ridehail/internal/config"
)

// New builds the cache backend selected in cfg. rdb may be nil unless the
// redis backend is selected.
func New(cfg config.LocationConfig, rdb *redis.Client) (Cache, error) {
	opts := Options{TTL: cfg.TTL, RadiusKm: cfg.RadiusKm}
	switch cfg.Backend {
	case config.LocationBackendMemory, "":
		return NewMemoryCache(opts), nil
	case config.LocationBackendRTree:
		return NewRTreeCache(opts), nil
	case config.LocationBackendRedis:
		if rdb == nil {
			return nil, fmt.Errorf("location backend %q needs a redis client", cfg.Backend)
		}
		return NewRedisCache(rdb, opts), nil
	}
	return nil, fmt.Errorf("unknown location backend %q", cfg.Backend)
}

func RunSweeper(ctx context.Context, c Cache, every time.Duration, log *zap.Logger) {
	if every <= 0 {
		return
	}
	if log == nil {
		log = zap.NewNop()
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := c.Sweep(ctx)
			if err != nil {
				log.Warn("location sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				log.Debug("expired driver locations purged", zap.Int("count", n))
			}
		}
	}
}
