// README: Driver location records and the cache contract shared by every backend.
package location

import (
	"context"
	"fmt"
	"time"

	"ridehail/internal/modules/driver"
	"ridehail/internal/types"
)

type Record struct {
	DriverID  types.ID
	Position  types.Point
	Status    driver.Status
	UpdatedAt time.Time
	// DistanceKm is filled by FindNearby only.
	DistanceKm float64
}

// Cache holds the last known position of each driver. Records older than the
// TTL are treated as absent by every read.
type Cache interface {
	UpdateLocation(ctx context.Context, id types.ID, p types.Point, status driver.Status) error
	// UpdateStatus rewrites the status of a live record and leaves its
	// position and timestamp alone. Missing records are ignored.
	UpdateStatus(ctx context.Context, id types.ID, status driver.Status) error
	RemoveLocation(ctx context.Context, id types.ID) error
	Get(ctx context.Context, id types.ID) (*Record, error)
	// FindNearby returns up to maxResults ONLINE drivers inside the configured
	// radius in backend scan order.
	FindNearby(ctx context.Context, p types.Point, maxResults int) ([]Record, error)
	CountOnlineInCells(ctx context.Context, cells []string) (int64, error)
	// Sweep purges expired records and returns how many were dropped.
	Sweep(ctx context.Context) (int, error)
}

type Options struct {
	TTL      time.Duration
	RadiusKm float64
	Now      func() time.Time
}

const (
	DefaultTTL      = time.Hour
	DefaultRadiusKm = 5.0
)

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.RadiusKm <= 0 {
		o.RadiusKm = DefaultRadiusKm
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

func (o Options) expired(r *Record) bool {
	return o.Now().Sub(r.UpdatedAt) > o.TTL
}

var ErrNotFound = fmt.Errorf("driver location not found: %w", types.ErrNotFound)
