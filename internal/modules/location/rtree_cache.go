package location

import (
	"context"
	"sync"

	"github.com/dhconnelly/rtreego"

	"ridehail/internal/geo"
	"ridehail/internal/modules/driver"
	"ridehail/internal/types"
)

const pointTolerance = 1e-9

// rtreeEntry wraps a record so it satisfies rtreego.Spatial. Entries are
// replaced, never mutated in place, so the tree never holds stale bounds.
type rtreeEntry struct {
	rec  Record
	rect rtreego.Rect
}

func (e *rtreeEntry) Bounds() rtreego.Rect {
	return e.rect
}

// RTreeCache pre-filters candidates with a bounding-box search before the
// great-circle check. Boxes do not wrap the antimeridian.
type RTreeCache struct {
	mu      sync.RWMutex
	tree    *rtreego.Rtree
	entries map[types.ID]*rtreeEntry
	opts    Options
}

func NewRTreeCache(opts Options) *RTreeCache {
	return &RTreeCache{
		tree:    rtreego.NewTree(2, 25, 50),
		entries: make(map[types.ID]*rtreeEntry),
		opts:    opts.withDefaults(),
	}
}

func (c *RTreeCache) put(rec Record) {
	if old, ok := c.entries[rec.DriverID]; ok {
		c.tree.Delete(old)
	}
	e := &rtreeEntry{rec: rec, rect: rtreego.Point{rec.Position.Lat, rec.Position.Lng}.ToRect(pointTolerance)}
	c.entries[rec.DriverID] = e
	c.tree.Insert(e)
}

func (c *RTreeCache) UpdateLocation(_ context.Context, id types.ID, p types.Point, status driver.Status) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(Record{DriverID: id, Position: p, Status: status, UpdatedAt: c.opts.Now()})
	return nil
}

func (c *RTreeCache) UpdateStatus(_ context.Context, id types.ID, status driver.Status) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok || c.opts.expired(&e.rec) {
		return nil
	}
	rec := e.rec
	rec.Status = status
	c.put(rec)
	return nil
}

func (c *RTreeCache) RemoveLocation(_ context.Context, id types.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[id]; ok {
		c.tree.Delete(e)
		delete(c.entries, id)
	}
	return nil
}

func (c *RTreeCache) Get(_ context.Context, id types.ID) (*Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	if !ok || c.opts.expired(&e.rec) {
		return nil, ErrNotFound
	}
	cp := e.rec
	return &cp, nil
}

func (c *RTreeCache) FindNearby(_ context.Context, p types.Point, maxResults int) ([]Record, error) {
	if maxResults <= 0 {
		return nil, nil
	}
	dLat, dLng := geo.DegreesForKm(p.Lat, c.opts.RadiusKm)
	box, err := rtreego.NewRect(rtreego.Point{p.Lat - dLat, p.Lng - dLng}, []float64{2 * dLat, 2 * dLng})
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Record, 0, maxResults)
	for _, s := range c.tree.SearchIntersect(box) {
		rec := s.(*rtreeEntry).rec
		if rec.Status != driver.StatusOnline || c.opts.expired(&rec) {
			continue
		}
		d := geo.DistanceKm(p, rec.Position)
		if d > c.opts.RadiusKm {
			continue
		}
		rec.DistanceKm = d
		out = append(out, rec)
		if len(out) == maxResults {
			break
		}
	}
	return out, nil
}

func (c *RTreeCache) CountOnlineInCells(_ context.Context, cells []string) (int64, error) {
	if len(cells) == 0 {
		return 0, nil
	}
	minLat, maxLat, minLng, maxLng := geo.CellsBounds(cells)
	box, err := rtreego.NewRect(rtreego.Point{minLat, minLng}, []float64{maxLat - minLat, maxLng - minLng})
	if err != nil {
		return 0, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	var n int64
	for _, s := range c.tree.SearchIntersect(box) {
		rec := s.(*rtreeEntry).rec
		if rec.Status == driver.StatusOnline && !c.opts.expired(&rec) && geo.InCells(rec.Position, cells) {
			n++
		}
	}
	return n, nil
}

func (c *RTreeCache) Sweep(_ context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	dropped := 0
	for id, e := range c.entries {
		if c.opts.expired(&e.rec) {
			c.tree.Delete(e)
			delete(c.entries, id)
			dropped++
		}
	}
	return dropped, nil
}
