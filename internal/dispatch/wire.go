package dispatch

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ridehail/internal/config"
	"ridehail/internal/events"
	"ridehail/internal/infra"
	"ridehail/internal/modules/driver"
	"ridehail/internal/modules/location"
	"ridehail/internal/modules/matching"
	"ridehail/internal/modules/pricing"
	"ridehail/internal/modules/trip"
)

// Deps are the external handles a Stack is built on. A nil DB selects the
// in-memory stores; a nil Publisher logs events instead; a nil Router prices
// on great-circle distance.
type Deps struct {
	DB        *pgxpool.Pool
	Redis     *redis.Client
	Publisher events.Publisher
	Verifier  infra.TokenVerifier
	Router    pricing.Router
	Log       *zap.Logger
}

// Stack is the fully wired engine.
type Stack struct {
	Engine    *Engine
	Trips     *trip.Service
	Drivers   *driver.Service
	Pricing   *pricing.Service
	Matching  *matching.Service
	Locations location.Cache
	TripStore trip.Store
}

func Build(cfg config.Config, deps Deps) (*Stack, error) {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}

	var (
		driverStore driver.Store
		tripStore   trip.Store
	)
	if deps.DB != nil {
		driverStore = driver.NewPgStore(deps.DB)
		tripStore = trip.NewPgStore(deps.DB)
	} else {
		mem := driver.NewMemoryStore()
		driverStore = mem
		tripStore = trip.NewMemoryStore(mem)
	}

	locations, err := location.New(cfg.Location, deps.Redis)
	if err != nil {
		return nil, fmt.Errorf("location cache: %w", err)
	}
	drivers := driver.NewService(driverStore, locations, log.Named("driver"))

	var provider pricing.Provider
	switch cfg.Surge.Scope {
	case config.SurgeScopeCell:
		provider = pricing.CellProvider{Requests: tripStore, Drivers: locations, Precision: cfg.Surge.CellPrecision}
	default:
		provider = pricing.GlobalProvider{Requests: tripStore, Drivers: drivers}
	}
	var priceOpts []pricing.Option
	if deps.Router != nil {
		priceOpts = append(priceOpts, pricing.WithRouter(deps.Router))
	}
	prices := pricing.NewService(cfg.Pricing, pricing.NewSurgeCalculator(cfg.Surge, provider), log.Named("pricing"), priceOpts...)
	matcher := matching.NewService(locations, cfg.Matching, log.Named("matching"))

	publisher := deps.Publisher
	if publisher == nil {
		publisher = events.LogPublisher{Log: log.Named("events")}
	}
	trips := trip.NewService(tripStore, prices, matcher,
		trip.WithPublisher(publisher),
		trip.WithStatusMirror(locations),
		trip.WithLogger(log.Named("trip")),
	)

	return &Stack{
		Engine:    New(deps.Verifier, trips, drivers, prices, log.Named("dispatch")),
		Trips:     trips,
		Drivers:   drivers,
		Pricing:   prices,
		Matching:  matcher,
		Locations: locations,
		TripStore: tripStore,
	}, nil
}
