package driver

import (
	"context"
	"errors"
	"sync"
	"testing"

	"ridehail/internal/types"
)

type fakeLocations struct {
	mu      sync.Mutex
	pos     map[types.ID]types.Point
	status  map[types.ID]Status
	removed []types.ID
}

func newFakeLocations() *fakeLocations {
	return &fakeLocations{pos: map[types.ID]types.Point{}, status: map[types.ID]Status{}}
}

func (f *fakeLocations) UpdateLocation(_ context.Context, id types.ID, p types.Point, s Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pos[id] = p
	f.status[id] = s
	return nil
}

func (f *fakeLocations) RemoveLocation(_ context.Context, id types.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pos, id)
	delete(f.status, id)
	f.removed = append(f.removed, id)
	return nil
}

func TestDriverOnlineOfflineFlow(t *testing.T) {
	ctx := context.Background()
	locs := newFakeLocations()
	svc := NewService(NewMemoryStore(), locs, nil)

	if _, err := svc.Register(ctx, "d1"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := svc.UpdateLocation(ctx, "d1", types.Point{Lat: 1, Lng: 1}); !errors.Is(err, types.ErrConflict) {
		t.Fatalf("ping while offline: expected conflict, got %v", err)
	}

	d, err := svc.GoOnline(ctx, "d1")
	if err != nil || d.Status != StatusOnline {
		t.Fatalf("go online: %v %+v", err, d)
	}
	if _, err := svc.GoOnline(ctx, "d1"); err != nil {
		t.Fatalf("second go online should be a no-op: %v", err)
	}

	if err := svc.UpdateLocation(ctx, "d1", types.Point{Lat: 40.7, Lng: -74}); err != nil {
		t.Fatalf("update location: %v", err)
	}
	if locs.status["d1"] != StatusOnline {
		t.Fatalf("cache status = %s", locs.status["d1"])
	}

	n, _ := svc.CountOnline(ctx)
	if n != 1 {
		t.Fatalf("online count = %d", n)
	}

	if _, err := svc.GoOffline(ctx, "d1"); err != nil {
		t.Fatalf("go offline: %v", err)
	}
	if _, ok := locs.pos["d1"]; ok {
		t.Fatalf("location should be removed on offline")
	}
}

func TestDriverBusyCannotGoOffline(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc := NewService(store, newFakeLocations(), nil)
	_, _ = svc.Register(ctx, "d1")
	_, _ = svc.GoOnline(ctx, "d1")
	busy := StatusOnline
	if ok, err := store.Flip("d1", &busy, StatusBusy, false); !ok || err != nil {
		t.Fatalf("flip: %v %v", ok, err)
	}

	if _, err := svc.GoOffline(ctx, "d1"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if err := svc.UpdateLocation(ctx, "d1", types.Point{Lat: 1, Lng: 2}); err != nil {
		t.Fatalf("busy driver can still ping: %v", err)
	}
}

func TestDriverUpdateLocationValidation(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore(), newFakeLocations(), nil)
	_, _ = svc.Register(ctx, "d1")
	_, _ = svc.GoOnline(ctx, "d1")

	cases := []types.Point{{Lat: 91, Lng: 0}, {Lat: 0, Lng: -181}}
	for _, p := range cases {
		if err := svc.UpdateLocation(ctx, "d1", p); !errors.Is(err, types.ErrValidation) {
			t.Errorf("%v: expected validation error, got %v", p, err)
		}
	}
	if err := svc.UpdateLocation(ctx, "missing", types.Point{}); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("unknown driver: expected not found, got %v", err)
	}
}

func TestMemoryStoreFlip(t *testing.T) {
	store := NewMemoryStore()
	_ = store.Create(context.Background(), &Driver{ID: "d1", Status: StatusBusy})

	online := StatusOnline
	if ok, _ := store.Flip("d1", &online, StatusBusy, false); ok {
		t.Fatal("flip should fail when precondition does not hold")
	}
	if ok, _ := store.Flip("d1", nil, StatusOnline, true); !ok {
		t.Fatal("unconditional flip should succeed")
	}
	d, _ := store.Get(context.Background(), "d1")
	if d.Status != StatusOnline || d.TotalTrips != 1 {
		t.Fatalf("unexpected driver %+v", d)
	}
	if _, err := store.Flip("nope", nil, StatusOnline, false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
