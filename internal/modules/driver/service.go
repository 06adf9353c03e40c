// README: Driver service handles availability changes and location pings.
package driver

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ridehail/internal/types"
)

// Locations is the subset of the location cache the driver flow writes to.
type Locations interface {
	UpdateLocation(ctx context.Context, id types.ID, p types.Point, status Status) error
	RemoveLocation(ctx context.Context, id types.ID) error
}

type Service struct {
	store     Store
	locations Locations
	log       *zap.Logger
	now       func() time.Time
}

func NewService(store Store, locations Locations, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, locations: locations, log: log, now: time.Now}
}

// Register creates an OFFLINE driver record; existing drivers are left as-is.
func (s *Service) Register(ctx context.Context, id types.ID) (*Driver, error) {
	if id == "" {
		return nil, ErrBadRequest
	}
	now := s.now()
	if err := s.store.Create(ctx, &Driver{ID: id, Status: StatusOffline, CreatedAt: now, UpdatedAt: now}); err != nil {
		return nil, fmt.Errorf("register driver: %w", err)
	}
	return s.store.Get(ctx, id)
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Driver, error) {
	return s.store.Get(ctx, id)
}

// GoOnline makes an OFFLINE driver available. A driver already ONLINE is a no-op;
// a BUSY driver stays BUSY until the trip ends.
func (s *Service) GoOnline(ctx context.Context, id types.ID) (*Driver, error) {
	d, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch d.Status {
	case StatusOnline:
		return d, nil
	case StatusBusy:
		return nil, ErrBusy
	}
	ok, err := s.store.UpdateStatus(ctx, id, StatusOffline, StatusOnline)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrStatusChanged
	}
	s.log.Info("driver online", zap.String("driver_id", string(id)))
	d.Status = StatusOnline
	return d, nil
}

// GoOffline takes an ONLINE driver off the market and drops its location.
func (s *Service) GoOffline(ctx context.Context, id types.ID) (*Driver, error) {
	d, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch d.Status {
	case StatusBusy:
		return nil, ErrBusy
	case StatusOnline:
		ok, err := s.store.UpdateStatus(ctx, id, StatusOnline, StatusOffline)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrStatusChanged
		}
		d.Status = StatusOffline
	}
	if s.locations != nil {
		if err := s.locations.RemoveLocation(ctx, id); err != nil {
			s.log.Warn("remove location failed", zap.String("driver_id", string(id)), zap.Error(err))
		}
	}
	s.log.Info("driver offline", zap.String("driver_id", string(id)))
	return d, nil
}

// UpdateLocation records a position ping for an ONLINE or BUSY driver.
func (s *Service) UpdateLocation(ctx context.Context, id types.ID, p types.Point) error {
	if id == "" {
		return ErrBadRequest
	}
	if err := p.Validate(); err != nil {
		return err
	}
	d, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if d.Status != StatusOnline && d.Status != StatusBusy {
		return ErrNotAvailable
	}
	if s.locations == nil {
		return nil
	}
	return s.locations.UpdateLocation(ctx, id, p, d.Status)
}

func (s *Service) CountOnline(ctx context.Context) (int64, error) {
	return s.store.CountByStatus(ctx, StatusOnline)
}
