package trip

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ridehail/internal/config"
	"ridehail/internal/events"
	"ridehail/internal/infra"
	"ridehail/internal/modules/driver"
	"ridehail/internal/modules/pricing"
	"ridehail/internal/types"
)

var (
	taipei101 = types.Point{Lat: 25.033, Lng: 121.565}
	mainStn   = types.Point{Lat: 25.0478, Lng: 121.5170}
)

type stubMatcher struct {
	mu  sync.Mutex
	id  types.ID
	ok  bool
	err error
}

func (m *stubMatcher) set(id types.ID, ok bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.id, m.ok, m.err = id, ok, err
}

func (m *stubMatcher) FindNearestDriver(context.Context, types.Point) (types.ID, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id, m.ok, m.err
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.TripEvent
}

func (p *recordingPublisher) Publish(_ context.Context, e events.TripEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) kinds() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

func (p *recordingPublisher) event(i int) events.TripEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[i]
}

type recordingMirror struct {
	mu    sync.Mutex
	calls map[types.ID]driver.Status
}

func (m *recordingMirror) UpdateStatus(_ context.Context, id types.ID, status driver.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[types.ID]driver.Status)
	}
	m.calls[id] = status
	return nil
}

func (m *recordingMirror) last(id types.ID) driver.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[id]
}

// stepClock advances one second per call so orderings are deterministic.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type harness struct {
	svc       *Service
	trips     Store
	drivers   driver.Store
	matcher   *stubMatcher
	publisher *recordingPublisher
	mirror    *recordingMirror
}

func referencePricer() *pricing.Service {
	return pricing.NewService(config.PricingConfig{
		BaseFare:  decimal.RequireFromString("2.50"),
		PerKmRate: decimal.RequireFromString("1.20"),
		Currency:  "USD",
	}, nil, nil)
}

func newHarness(trips Store, drivers driver.Store) *harness {
	h := &harness{
		trips:     trips,
		drivers:   drivers,
		matcher:   &stubMatcher{},
		publisher: &recordingPublisher{},
		mirror:    &recordingMirror{},
	}
	clock := &stepClock{now: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)}
	h.svc = NewService(trips, referencePricer(), h.matcher,
		WithPublisher(h.publisher),
		WithStatusMirror(h.mirror),
		WithClock(clock.Now),
	)
	return h
}

func newMemoryHarness(t *testing.T) *harness {
	t.Helper()
	drivers := driver.NewMemoryStore()
	return newHarness(NewMemoryStore(drivers), drivers)
}

func newPgHarness(t *testing.T) *harness {
	t.Helper()

	dsn := os.Getenv("RIDEHAIL_TEST_DSN")
	if dsn == "" {
		t.Skip("RIDEHAIL_TEST_DSN not set; skipping Postgres-backed trip tests")
	}
	if err := infra.Migrate(dsn, nil); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ctx := context.Background()
	db, err := infra.NewDB(ctx, dsn, 8)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(db.Close)
	if _, err := db.Exec(ctx, "TRUNCATE TABLE trip_transitions, trips, drivers"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
	return newHarness(NewPgStore(db), driver.NewPgStore(db))
}

// eachStore runs fn against the memory store and, when configured, Postgres.
func eachStore(t *testing.T, fn func(t *testing.T, h *harness)) {
	t.Run("memory", func(t *testing.T) { fn(t, newMemoryHarness(t)) })
	t.Run("postgres", func(t *testing.T) { fn(t, newPgHarness(t)) })
}

func (h *harness) addDriver(t *testing.T, id types.ID, status driver.Status) {
	t.Helper()
	now := time.Now()
	if err := h.drivers.Create(context.Background(), &driver.Driver{ID: id, Status: status, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("create driver %s: %v", id, err)
	}
}

func (h *harness) loadDriver(t *testing.T, id types.ID) *driver.Driver {
	t.Helper()
	d, err := h.drivers.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get driver %s: %v", id, err)
	}
	return d
}

func (h *harness) request(t *testing.T, rider types.ID) *Trip {
	t.Helper()
	o, d := taipei101, mainStn
	tr, err := h.svc.RequestTrip(context.Background(), RequestCommand{RiderID: rider, Origin: &o, Destination: &d})
	if err != nil {
		t.Fatalf("request trip: %v", err)
	}
	return tr
}

func (h *harness) get(t *testing.T, id types.ID) *Trip {
	t.Helper()
	tr, err := h.trips.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get trip: %v", err)
	}
	return tr
}

// assertValidPath checks the audit trail is a walk through AllowedTransitions
// starting at NONE.
func assertValidPath(t *testing.T, hist []Transition) {
	t.Helper()
	if len(hist) == 0 {
		t.Fatalf("empty history")
	}
	prev := StatusNone
	for i, e := range hist {
		if e.From != prev {
			t.Fatalf("history[%d] from %s, expected %s", i, e.From, prev)
		}
		if !CanTransition(e.From, e.To) {
			t.Fatalf("history[%d] %s -> %s is not allowed", i, e.From, e.To)
		}
		prev = e.To
	}
}
