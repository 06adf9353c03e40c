// README: Entry point; loads config, wires the dispatch engine and runs its background workers.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ridehail/internal/config"
	"ridehail/internal/dispatch"
	"ridehail/internal/events"
	"ridehail/internal/infra"
	"ridehail/internal/maps"
	"ridehail/internal/modules/location"
	"ridehail/internal/types"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := infra.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("dispatchd stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	deps := dispatch.Deps{Log: logger}

	if cfg.DB.Migrate {
		if err := infra.Migrate(cfg.DB.DSN, logger.Named("migrate")); err != nil {
			return err
		}
	}
	db, err := infra.NewDB(ctx, cfg.DB.DSN, cfg.DB.MaxConns)
	if err != nil {
		return err
	}
	defer db.Close()
	deps.DB = db

	if cfg.Location.Backend == config.LocationBackendRedis {
		rdb, err := infra.NewRedis(ctx, cfg.Redis.Addr)
		if err != nil {
			return err
		}
		defer func() { _ = rdb.Close() }()
		deps.Redis = rdb
	}

	if cfg.Firebase.ProjectID != "" {
		app, err := infra.NewFirebaseApp(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
		if err != nil {
			return err
		}
		if deps.Verifier, err = infra.NewFirebaseVerifier(ctx, app); err != nil {
			return err
		}
	} else {
		logger.Warn("firebase project not configured; identity-checked calls will be rejected")
	}

	if cfg.Maps.APIKey != "" {
		routes, err := maps.NewRouteService(cfg.Maps.APIKey)
		if err != nil {
			return err
		}
		deps.Router = routes
	}

	var mq *infra.RabbitMQ
	if cfg.AMQP.URL != "" {
		mq, err = infra.DialRabbitMQ(ctx, cfg.AMQP.URL, logger.Named("amqp"))
		if err != nil {
			return err
		}
		defer mq.Close()
		ch, err := mq.Channel()
		if err != nil {
			return err
		}
		if deps.Publisher, err = events.NewRabbitPublisher(ch, cfg.AMQP.Exchange, logger.Named("events")); err != nil {
			return err
		}
	} else {
		logger.Info("amqp not configured; trip events are logged only")
	}

	stack, err := dispatch.Build(cfg, deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		location.RunSweeper(ctx, stack.Locations, cfg.Location.SweepInterval, logger.Named("sweeper"))
		return nil
	})
	g.Go(func() error {
		stack.Trips.RunRematchTicker(ctx, cfg.Matching.RematchInterval)
		return nil
	})
	if mq != nil {
		ch, err := mq.Channel()
		if err != nil {
			return err
		}
		g.Go(func() error {
			return events.Consume(ctx, ch, events.ConsumerConfig{
				Exchange: cfg.AMQP.Exchange,
				Queue:    cfg.AMQP.LocationQueue,
				Bindings: []string{"driver.location"},
				Prefetch: 64,
			}, logger.Named("ingest"), func(ctx context.Context, ping events.LocationPing) error {
				return ingestPing(ctx, stack, ping)
			})
		})
	}

	logger.Info("dispatchd started",
		zap.String("location_backend", cfg.Location.Backend),
		zap.String("surge_scope", cfg.Surge.Scope),
		zap.String("matching_policy", cfg.Matching.Policy),
	)
	return g.Wait()
}

// ingestPing feeds one driver position into the location cache. Pings that
// can never apply are dropped rather than requeued.
func ingestPing(ctx context.Context, stack *dispatch.Stack, ping events.LocationPing) error {
	err := stack.Drivers.UpdateLocation(ctx, types.ID(ping.DriverID), types.Point{Lat: ping.Lat, Lng: ping.Lng})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, types.ErrValidation), errors.Is(err, types.ErrNotFound), errors.Is(err, types.ErrConflict):
		return fmt.Errorf("%w: %v", events.ErrPoison, err)
	default:
		return err
	}
}
