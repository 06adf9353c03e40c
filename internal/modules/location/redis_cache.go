package location

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"ridehail/internal/geo"
	"ridehail/internal/modules/driver"
	"ridehail/internal/types"
)

const (
	driverGeoKey      = "driver:locations"
	driverKeyPrefix   = "driver:location:%s"
	nearbyFetchBatch  = 64
	statusFieldUpdate = `
if redis.call('EXISTS', KEYS[1]) == 1 then
  redis.call('HSET', KEYS[1], 'status', ARGV[1])
  return 1
end
return 0`
)

var setStatusScript = redis.NewScript(statusFieldUpdate)

// RedisCache keeps one hash per driver (expiring after the TTL) and a GEO set
// used as the scan source. GEO members whose hash has expired are stale and
// are dropped lazily and by Sweep.
type RedisCache struct {
	redis *redis.Client
	opts  Options
}

func NewRedisCache(rdb *redis.Client, opts Options) *RedisCache {
	return &RedisCache{redis: rdb, opts: opts.withDefaults()}
}

func driverKey(id types.ID) string {
	return fmt.Sprintf(driverKeyPrefix, string(id))
}

func (c *RedisCache) UpdateLocation(ctx context.Context, id types.ID, p types.Point, status driver.Status) error {
	key := driverKey(id)
	_, err := c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"lat", strconv.FormatFloat(p.Lat, 'f', -1, 64),
			"lng", strconv.FormatFloat(p.Lng, 'f', -1, 64),
			"status", string(status),
			"updated_at", strconv.FormatInt(c.opts.Now().UnixMilli(), 10),
		)
		pipe.Expire(ctx, key, c.opts.TTL)
		pipe.GeoAdd(ctx, driverGeoKey, &redis.GeoLocation{
			Name:      string(id),
			Longitude: p.Lng,
			Latitude:  p.Lat,
		})
		return nil
	})
	return err
}

func (c *RedisCache) UpdateStatus(ctx context.Context, id types.ID, status driver.Status) error {
	return setStatusScript.Run(ctx, c.redis, []string{driverKey(id)}, string(status)).Err()
}

func (c *RedisCache) RemoveLocation(ctx context.Context, id types.ID) error {
	_, err := c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, driverKey(id))
		pipe.ZRem(ctx, driverGeoKey, string(id))
		return nil
	})
	return err
}

func (c *RedisCache) Get(ctx context.Context, id types.ID) (*Record, error) {
	fields, err := c.redis.HGetAll(ctx, driverKey(id)).Result()
	if err != nil {
		return nil, err
	}
	rec, ok := c.decode(id, fields)
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

// decode rejects partial or expired hashes.
func (c *RedisCache) decode(id types.ID, fields map[string]string) (*Record, bool) {
	if len(fields) == 0 {
		return nil, false
	}
	lat, err1 := strconv.ParseFloat(fields["lat"], 64)
	lng, err2 := strconv.ParseFloat(fields["lng"], 64)
	ms, err3 := strconv.ParseInt(fields["updated_at"], 10, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return nil, false
	}
	rec := &Record{
		DriverID:  id,
		Position:  types.Point{Lat: lat, Lng: lng},
		Status:    driver.Status(fields["status"]),
		UpdatedAt: time.UnixMilli(ms),
	}
	if c.opts.expired(rec) {
		return nil, false
	}
	return rec, true
}

// fetch loads the hashes for ids and reports the GEO members that had none.
func (c *RedisCache) fetch(ctx context.Context, ids []string) ([]*Record, []string, error) {
	pipe := c.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, driverKey(types.ID(id)))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, nil, err
	}
	recs := make([]*Record, len(ids))
	var stale []string
	for i, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil && err != redis.Nil {
			return nil, nil, err
		}
		rec, ok := c.decode(types.ID(ids[i]), fields)
		if !ok {
			if len(fields) == 0 {
				stale = append(stale, ids[i])
			}
			continue
		}
		recs[i] = rec
	}
	return recs, stale, nil
}

func (c *RedisCache) dropStale(ctx context.Context, stale []string) {
	if len(stale) == 0 {
		return
	}
	members := make([]interface{}, len(stale))
	for i, s := range stale {
		members[i] = s
	}
	_ = c.redis.ZRem(ctx, driverGeoKey, members...).Err()
}

func (c *RedisCache) FindNearby(ctx context.Context, p types.Point, maxResults int) ([]Record, error) {
	if maxResults <= 0 {
		return nil, nil
	}
	ids, err := c.redis.GeoSearch(ctx, driverGeoKey, &redis.GeoSearchQuery{
		Longitude:  p.Lng,
		Latitude:   p.Lat,
		Radius:     c.opts.RadiusKm,
		RadiusUnit: "km",
	}).Result()
	if err != nil {
		return nil, err
	}

	out := make([]Record, 0, maxResults)
	var stale []string
	for start := 0; start < len(ids) && len(out) < maxResults; start += nearbyFetchBatch {
		end := start + nearbyFetchBatch
		if end > len(ids) {
			end = len(ids)
		}
		recs, gone, err := c.fetch(ctx, ids[start:end])
		if err != nil {
			return nil, err
		}
		stale = append(stale, gone...)
		for _, rec := range recs {
			if rec == nil || rec.Status != driver.StatusOnline {
				continue
			}
			d := geo.DistanceKm(p, rec.Position)
			if d > c.opts.RadiusKm {
				continue
			}
			rec.DistanceKm = d
			out = append(out, *rec)
			if len(out) == maxResults {
				break
			}
		}
	}
	c.dropStale(ctx, stale)
	return out, nil
}

func (c *RedisCache) CountOnlineInCells(ctx context.Context, cells []string) (int64, error) {
	if len(cells) == 0 {
		return 0, nil
	}
	minLat, maxLat, minLng, maxLng := geo.CellsBounds(cells)
	center := types.Point{Lat: (minLat + maxLat) / 2, Lng: (minLng + maxLng) / 2}
	radius := geo.DistanceKm(center, types.Point{Lat: maxLat, Lng: maxLng})

	locs, err := c.redis.GeoSearchLocation(ctx, driverGeoKey, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  center.Lng,
			Latitude:   center.Lat,
			Radius:     radius,
			RadiusUnit: "km",
		},
		WithCoord: true,
	}).Result()
	if err != nil {
		return 0, err
	}

	ids := make([]string, 0, len(locs))
	for _, l := range locs {
		if geo.InCells(types.Point{Lat: l.Latitude, Lng: l.Longitude}, cells) {
			ids = append(ids, l.Name)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	recs, _, err := c.fetch(ctx, ids)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, rec := range recs {
		if rec != nil && rec.Status == driver.StatusOnline {
			n++
		}
	}
	return n, nil
}

func (c *RedisCache) Sweep(ctx context.Context) (int, error) {
	members, err := c.redis.ZRange(ctx, driverGeoKey, 0, -1).Result()
	if err != nil {
		return 0, err
	}
	dropped := 0
	for start := 0; start < len(members); start += nearbyFetchBatch {
		end := start + nearbyFetchBatch
		if end > len(members) {
			end = len(members)
		}
		batch := members[start:end]
		pipe := c.redis.Pipeline()
		cmds := make([]*redis.IntCmd, len(batch))
		for i, m := range batch {
			cmds[i] = pipe.Exists(ctx, driverKey(types.ID(m)))
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return dropped, err
		}
		var stale []string
		for i, cmd := range cmds {
			if cmd.Val() == 0 {
				stale = append(stale, batch[i])
			}
		}
		c.dropStale(ctx, stale)
		dropped += len(stale)
	}
	return dropped, nil
}
