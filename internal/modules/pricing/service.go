// README: Pricing service computes fare estimates and the surge multiplier.
package pricing

import (
	"context"
	"math"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"ridehail/internal/config"
	"ridehail/internal/geo"
	"ridehail/internal/types"
)

type SurgeCalculator struct {
	enabled  bool
	max      decimal.Decimal
	provider Provider
}

func NewSurgeCalculator(cfg config.SurgeConfig, provider Provider) *SurgeCalculator {
	return &SurgeCalculator{enabled: cfg.Enabled, max: cfg.MaxMultiplier, provider: provider}
}

// CalculateSurge returns 1.00 when surge is disabled or no provider is set.
func (s *SurgeCalculator) CalculateSurge(ctx context.Context, p types.Point) (decimal.Decimal, error) {
	if s == nil || !s.enabled || s.provider == nil {
		return one.Round(2), nil
	}
	active, online, err := s.provider.Counts(ctx, p)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return Multiplier(active, online, s.max), nil
}

// Router measures the driving distance between two points.
type Router interface {
	DistanceKm(ctx context.Context, from, to types.Point) (float64, error)
}

type Service struct {
	cfg    config.PricingConfig
	surge  *SurgeCalculator
	router Router
	log    *zap.Logger
}

type Option func(*Service)

// WithRouter quotes on road distance instead of great-circle distance.
func WithRouter(r Router) Option {
	return func(s *Service) { s.router = r }
}

func NewService(cfg config.PricingConfig, surge *SurgeCalculator, log *zap.Logger, opts ...Option) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{cfg: cfg, surge: surge, log: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Distance returns the routed distance when a router is configured and
// answers, and the great-circle distance otherwise.
func (s *Service) Distance(ctx context.Context, origin, dest types.Point) float64 {
	if s.router != nil {
		km, err := s.router.DistanceKm(ctx, origin, dest)
		if err == nil && validDistance(km) {
			return km
		}
		s.log.Warn("route lookup failed, using great-circle distance", zap.Float64("routed_km", km), zap.Error(err))
	}
	return geo.DistanceKm(origin, dest)
}

// CalculatePrice quotes a trip whose distance is already known.
func (s *Service) CalculatePrice(ctx context.Context, origin, dest types.Point, distanceKm float64) (Quote, error) {
	if !validDistance(distanceKm) {
		return Quote{}, ErrBadRequest
	}
	if err := origin.Validate(); err != nil {
		return Quote{}, err
	}
	surge, err := s.surge.CalculateSurge(ctx, origin)
	if err != nil {
		return Quote{}, err
	}
	dist := decimal.NewFromFloat(distanceKm)
	fare := Fare(s.cfg.BaseFare, s.cfg.PerKmRate, dist, surge)

	s.log.Debug("fare calculated",
		zap.String("fare", fare.StringFixed(2)),
		zap.String("surge", surge.StringFixed(2)),
		zap.Float64("distance_km", distanceKm),
	)
	return Quote{
		EstimatedFare:   types.NewMoney(fare, s.cfg.Currency),
		DistanceKm:      dist.Round(2),
		BaseFare:        s.cfg.BaseFare,
		PerKmRate:       s.cfg.PerKmRate,
		SurgeMultiplier: surge,
	}, nil
}

// Estimate measures the distance itself before quoting.
func (s *Service) Estimate(ctx context.Context, origin, dest types.Point) (Quote, error) {
	if err := origin.Validate(); err != nil {
		return Quote{}, err
	}
	if err := dest.Validate(); err != nil {
		return Quote{}, err
	}
	return s.CalculatePrice(ctx, origin, dest, s.Distance(ctx, origin, dest))
}

// CalculateSurge exposes the multiplier for a pickup point on its own.
func (s *Service) CalculateSurge(ctx context.Context, p types.Point) (decimal.Decimal, error) {
	return s.surge.CalculateSurge(ctx, p)
}

func validDistance(km float64) bool {
	return km >= 0 && !math.IsInf(km, 1)
}
