package trip

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"ridehail/internal/modules/driver"
	"ridehail/internal/types"
)

// DriverLedger is the driver side of a MemoryStore transition.
type DriverLedger interface {
	Flip(id types.ID, from *driver.Status, to driver.Status, incrementTrips bool) (bool, error)
}

// MemoryStore is the in-process Store. Driver flips happen while the trip
// lock is held so a transition and its driver change are observed together.
type MemoryStore struct {
	mu          sync.Mutex
	drivers     DriverLedger
	trips       map[types.ID]*Trip
	order       []types.ID
	transitions map[types.ID][]Transition
	seq         int64
}

func NewMemoryStore(drivers DriverLedger) *MemoryStore {
	return &MemoryStore{
		drivers:     drivers,
		trips:       make(map[types.ID]*Trip),
		transitions: make(map[types.ID][]Transition),
	}
}

func (m *MemoryStore) Create(_ context.Context, t *Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.trips {
		if existing.RiderID == t.RiderID && existing.Status.Active() {
			return ErrActiveTrip
		}
	}
	cp := cloneTrip(t)
	m.trips[t.ID] = cp
	m.order = append(m.order, t.ID)
	rider := t.RiderID
	m.appendLocked(Transition{
		TripID: t.ID, From: StatusNone, To: t.Status, ActorType: ActorRider, ActorID: &rider, CreatedAt: t.RequestedAt,
	})
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id types.ID) (*Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTrip(t), nil
}

func (m *MemoryStore) AssignDriver(_ context.Context, id, driverID types.ID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[id]
	if !ok || t.Status != StatusRequested || t.DriverID != nil {
		return false, nil
	}
	d := driverID
	t.DriverID = &d
	return true, nil
}

func (m *MemoryStore) Apply(_ context.Context, c Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.trips[c.TripID]
	if !ok || t.Status != c.From || t.Version != c.Version {
		return ErrConflict
	}
	if c.To == StatusAccepted && c.DriverID != nil {
		for id, other := range m.trips {
			if id != t.ID && other.Status.Engaged() && other.DriverID != nil && *other.DriverID == *c.DriverID {
				return ErrDriverUnavailable
			}
		}
	}
	if d := c.Driver; d != nil {
		flipped, err := m.drivers.Flip(d.DriverID, d.From, d.To, d.IncrementTrips)
		if err != nil {
			if d.Required {
				return err
			}
		} else if !flipped && d.Required {
			return ErrDriverUnavailable
		}
	}

	t.Status = c.To
	t.Version++
	if c.DriverID != nil {
		d := *c.DriverID
		t.DriverID = &d
	}
	at := c.At
	switch c.To {
	case StatusAccepted:
		t.AcceptedAt = &at
	case StatusInProgress:
		t.StartedAt = &at
	case StatusCompleted:
		t.CompletedAt = &at
	case StatusCancelled:
		t.CancelledAt = &at
	}
	if c.FinalFare != nil {
		f := *c.FinalFare
		t.FinalFare = &f
	}
	if c.PaymentStatus != nil {
		t.PaymentStatus = *c.PaymentStatus
	}
	if c.CancelReason != nil {
		r := *c.CancelReason
		t.CancelReason = &r
	}
	m.appendLocked(Transition{
		TripID: c.TripID, From: c.From, To: c.To, ActorType: c.ActorType, ActorID: c.ActorID, CreatedAt: c.At,
	})
	return nil
}

func (m *MemoryStore) appendLocked(e Transition) {
	m.seq++
	e.ID = m.seq
	if e.ActorID != nil {
		a := *e.ActorID
		e.ActorID = &a
	}
	m.transitions[e.TripID] = append(m.transitions[e.TripID], e)
}

func (m *MemoryStore) ActiveByRider(_ context.Context, riderID types.ID) (*Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.order) - 1; i >= 0; i-- {
		t := m.trips[m.order[i]]
		if t.RiderID == riderID && t.Status.Active() {
			return cloneTrip(t), nil
		}
	}
	return nil, ErrNotFound
}

func driverRank(s Status) int {
	switch s {
	case StatusInProgress:
		return 0
	case StatusAccepted:
		return 1
	default:
		return 2
	}
}

func (m *MemoryStore) ActiveByDriver(_ context.Context, driverID types.ID) (*Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *Trip
	for _, id := range m.order {
		t := m.trips[id]
		if t.DriverID == nil || *t.DriverID != driverID || !t.Status.Active() {
			continue
		}
		if best == nil ||
			driverRank(t.Status) < driverRank(best.Status) ||
			(driverRank(t.Status) == driverRank(best.Status) && !t.RequestedAt.Before(best.RequestedAt)) {
			best = t
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return cloneTrip(best), nil
}

func (m *MemoryStore) list(match func(*Trip) bool, p Page) []*Trip {
	p = p.normalize()
	m.mu.Lock()
	var out []*Trip
	for _, id := range m.order {
		if t := m.trips[id]; match(t) {
			out = append(out, cloneTrip(t))
		}
	}
	m.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].RequestedAt.After(out[j].RequestedAt) })
	if p.Offset >= len(out) {
		return nil
	}
	out = out[p.Offset:]
	if len(out) > p.Limit {
		out = out[:p.Limit]
	}
	return out
}

func (m *MemoryStore) ListByRider(_ context.Context, riderID types.ID, p Page) ([]*Trip, error) {
	return m.list(func(t *Trip) bool { return t.RiderID == riderID }, p), nil
}

func (m *MemoryStore) ListByDriver(_ context.Context, driverID types.ID, p Page) ([]*Trip, error) {
	return m.list(func(t *Trip) bool { return t.DriverID != nil && *t.DriverID == driverID }, p), nil
}

func (m *MemoryStore) ListUnmatched(_ context.Context, limit int) ([]*Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Trip
	for _, id := range m.order {
		if limit > 0 && len(out) >= limit {
			break
		}
		if t := m.trips[id]; t.Status == StatusRequested && t.DriverID == nil {
			out = append(out, cloneTrip(t))
		}
	}
	return out, nil
}

func (m *MemoryStore) CountActiveRequests(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, t := range m.trips {
		if t.Status == StatusRequested {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CountActiveRequestsInCells(_ context.Context, cells []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, t := range m.trips {
		if t.Status != StatusRequested {
			continue
		}
		for _, c := range cells {
			if strings.HasPrefix(t.OriginCell, c) {
				n++
				break
			}
		}
	}
	return n, nil
}

func (m *MemoryStore) History(_ context.Context, id types.ID) ([]Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trips[id]; !ok {
		return nil, ErrNotFound
	}
	src := m.transitions[id]
	out := make([]Transition, len(src))
	copy(out, src)
	return out, nil
}

func cloneTrip(t *Trip) *Trip {
	cp := *t
	if t.DriverID != nil {
		d := *t.DriverID
		cp.DriverID = &d
	}
	if t.FinalFare != nil {
		f := *t.FinalFare
		cp.FinalFare = &f
	}
	cp.AcceptedAt = copyTime(t.AcceptedAt)
	cp.StartedAt = copyTime(t.StartedAt)
	cp.CompletedAt = copyTime(t.CompletedAt)
	cp.CancelledAt = copyTime(t.CancelledAt)
	if t.CancelReason != nil {
		r := *t.CancelReason
		cp.CancelReason = &r
	}
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
