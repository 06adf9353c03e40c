// README: Matching service finds a driver for a pickup point from the location cache.
package matching

import (
	"context"

	"go.uber.org/zap"

	"ridehail/internal/config"
	"ridehail/internal/modules/location"
	"ridehail/internal/types"
)

type Nearby interface {
	FindNearby(ctx context.Context, p types.Point, maxResults int) ([]location.Record, error)
}

type Service struct {
	cache         Nearby
	selector      Selector
	maxCandidates int
	log           *zap.Logger
}

func NewService(cache Nearby, cfg config.MatchingConfig, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	limit := cfg.MaxCandidates
	if limit <= 0 {
		limit = defaultMaxCandidates
	}
	return &Service{cache: cache, selector: SelectorFor(cfg.Policy), maxCandidates: limit, log: log}
}

// FindNearestDriver returns a candidate driver for the pickup, or false when
// nobody eligible is nearby.
func (s *Service) FindNearestDriver(ctx context.Context, origin types.Point) (types.ID, bool, error) {
	cands, err := s.cache.FindNearby(ctx, origin, s.maxCandidates)
	if err != nil {
		return "", false, err
	}
	rec, ok := s.selector.Select(cands)
	if !ok {
		s.log.Debug("no driver nearby", zap.Float64("lat", origin.Lat), zap.Float64("lng", origin.Lng))
		return "", false, nil
	}
	s.log.Debug("driver candidate selected",
		zap.String("driver_id", string(rec.DriverID)),
		zap.Int("candidates", len(cands)),
		zap.Float64("distance_km", rec.DistanceKm),
	)
	return rec.DriverID, true, nil
}
