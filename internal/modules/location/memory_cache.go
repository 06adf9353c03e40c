package location

import (
	"context"
	"sync"

	"ridehail/internal/geo"
	"ridehail/internal/modules/driver"
	"ridehail/internal/types"
)

// MemoryCache scans records linearly in first-insert order.
type MemoryCache struct {
	mu      sync.RWMutex
	order   []types.ID
	records map[types.ID]*Record
	opts    Options
}

func NewMemoryCache(opts Options) *MemoryCache {
	return &MemoryCache{records: make(map[types.ID]*Record), opts: opts.withDefaults()}
}

func (c *MemoryCache) UpdateLocation(_ context.Context, id types.ID, p types.Point, status driver.Status) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.records[id]; !ok {
		c.order = append(c.order, id)
	}
	c.records[id] = &Record{DriverID: id, Position: p, Status: status, UpdatedAt: c.opts.Now()}
	return nil
}

func (c *MemoryCache) UpdateStatus(_ context.Context, id types.ID, status driver.Status) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.records[id]; ok && !c.opts.expired(r) {
		r.Status = status
	}
	return nil
}

func (c *MemoryCache) RemoveLocation(_ context.Context, id types.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.records[id]; !ok {
		return nil
	}
	delete(c.records, id)
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return nil
}

func (c *MemoryCache) Get(_ context.Context, id types.ID) (*Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.records[id]
	if !ok || c.opts.expired(r) {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (c *MemoryCache) FindNearby(_ context.Context, p types.Point, maxResults int) ([]Record, error) {
	if maxResults <= 0 {
		return nil, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Record, 0, maxResults)
	for _, id := range c.order {
		r := c.records[id]
		if r.Status != driver.StatusOnline || c.opts.expired(r) {
			continue
		}
		d := geo.DistanceKm(p, r.Position)
		if d > c.opts.RadiusKm {
			continue
		}
		cp := *r
		cp.DistanceKm = d
		out = append(out, cp)
		if len(out) == maxResults {
			break
		}
	}
	return out, nil
}

func (c *MemoryCache) CountOnlineInCells(_ context.Context, cells []string) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var n int64
	for _, r := range c.records {
		if r.Status == driver.StatusOnline && !c.opts.expired(r) && geo.InCells(r.Position, cells) {
			n++
		}
	}
	return n, nil
}

func (c *MemoryCache) Sweep(_ context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.order[:0]
	dropped := 0
	for _, id := range c.order {
		if c.opts.expired(c.records[id]) {
			delete(c.records, id)
			dropped++
			continue
		}
		kept = append(kept, id)
	}
	c.order = kept
	return dropped, nil
}
