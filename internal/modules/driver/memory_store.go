package driver

import (
	"context"
	"sync"
	"time"

	"ridehail/internal/types"
)

// MemoryStore keeps drivers in process. Flip lets the in-memory trip store
// change a driver inside its own critical section.
type MemoryStore struct {
	mu      sync.RWMutex
	drivers map[types.ID]*Driver
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{drivers: make(map[types.ID]*Driver), now: time.Now}
}

func (m *MemoryStore) Create(_ context.Context, d *Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.drivers[d.ID]; ok {
		return nil
	}
	cp := *d
	m.drivers[d.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id types.ID) (*Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, id types.ID, from, to Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok || d.Status != from {
		return false, nil
	}
	d.Status = to
	d.UpdatedAt = m.now()
	return true, nil
}

func (m *MemoryStore) CountByStatus(_ context.Context, status Status) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, d := range m.drivers {
		if d.Status == status {
			n++
		}
	}
	return n, nil
}

// Flip sets the driver's status to `to` when the current status equals
// *from (any status when from is nil) and optionally bumps TotalTrips.
// It reports false when the precondition does not hold.
func (m *MemoryStore) Flip(id types.ID, from *Status, to Status, incrementTrips bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return false, ErrNotFound
	}
	if from != nil && d.Status != *from {
		return false, nil
	}
	d.Status = to
	if incrementTrips {
		d.TotalTrips++
	}
	d.UpdatedAt = m.now()
	return true, nil
}
