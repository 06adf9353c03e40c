package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"ridehail/internal/config"
	"ridehail/internal/dispatch"
	"ridehail/internal/infra"
	"ridehail/internal/modules/driver"
	"ridehail/internal/modules/pricing"
	"ridehail/internal/modules/trip"
	"ridehail/internal/types"
)

type Runner struct {
	cfg   Config
	db    *pgxpool.Pool
	rdb   *redis.Client
	stack *dispatch.Stack
	run   string
	seq   atomic.Int64
}

type Result struct {
	Name    string
	Status  string
	Details string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

var (
	pickup  = types.Point{Lat: 25.0330, Lng: 121.5654}
	dropoff = types.Point{Lat: 25.0478, Lng: 121.5170}
)

func NewRunner(ctx context.Context, cfg Config) (*Runner, error) {
	r := &Runner{cfg: cfg, run: string(types.NewID())[:8]}

	if cfg.DSN != "" {
		if err := infra.Migrate(cfg.DSN, nil); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		db, err := infra.NewDB(ctx, cfg.DSN, int32(cfg.Concurrency+4))
		if err != nil {
			return nil, err
		}
		r.db = db
	}
	if cfg.RedisAddr != "" {
		rdb, err := infra.NewRedis(ctx, cfg.RedisAddr)
		if err != nil {
			r.Close()
			return nil, err
		}
		r.rdb = rdb
	}

	engineCfg := config.Defaults()
	engineCfg.Location.Backend = cfg.LocationBackend
	if err := engineCfg.Validate(); err != nil {
		r.Close()
		return nil, err
	}
	stack, err := dispatch.Build(engineCfg, dispatch.Deps{DB: r.db, Redis: r.rdb})
	if err != nil {
		r.Close()
		return nil, err
	}
	r.stack = stack
	return r, nil
}

func (r *Runner) Close() {
	if r.db != nil {
		r.db.Close()
	}
	if r.rdb != nil {
		_ = r.rdb.Close()
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	results := make([]Result, 0, 32)
	for _, tc := range cases() {
		res := tc.Run(ctx, r)
		if res.Name == "" {
			res.Name = tc.Name
		}
		results = append(results, res)
		fmt.Printf("[%s] %s", res.Status, res.Name)
		if res.Details != "" {
			fmt.Printf(" - %s", res.Details)
		}
		fmt.Println()
	}
	return results
}

func cases() []TestCase {
	return []TestCase{
		{Name: "Env: Postgres connectivity", Run: checkPostgres},
		{Name: "Env: Redis connectivity", Run: checkRedis},
		{Name: "Migration: schema tables exist", Run: checkSchema},
		{Name: "Pricing: reference fare", Run: referenceFare},
		{Name: "Pricing: surge multiplier", Run: surgeMultiplier},
		{Name: "Consistency: lifecycle path and versions", Run: lifecyclePath},
		{Name: "Consistency: cancelled trip cannot complete", Run: cancelledCannotComplete},
		{Name: "Consistency: one active trip per rider", Run: oneActivePerRider},
		{Name: "Concurrency: multi-accept same trip", Run: concurrentAccept},
		{Name: "Concurrency: cancel vs accept", Run: cancelVsAccept},
		{Name: "Perf: location updates", Run: perfLocations},
		{Name: "Perf: request trip", Run: perfRequests},
		manualCase("Security: token verification against live identity provider", "needs a Firebase project"),
		manualCase("Notification: FCM delivery to a device", "needs a registered device token"),
	}
}

func manualCase(name, detail string) TestCase {
	return TestCase{
		Name: name,
		Run: func(_ context.Context, _ *Runner) Result {
			return Result{Status: "PENDING", Details: detail}
		},
	}
}

func pass(details string) Result { return Result{Status: "PASS", Details: details} }

func fail(format string, args ...any) Result {
	return Result{Status: "FAIL", Details: fmt.Sprintf(format, args...)}
}

func skip(details string) Result { return Result{Status: "SKIP", Details: details} }

// id returns a run-scoped identifier so repeated runs against one database do
// not collide.
func (r *Runner) id(prefix string) types.ID {
	return types.ID(fmt.Sprintf("bench-%s-%s-%d", r.run, prefix, r.seq.Add(1)))
}

func (r *Runner) onlineDriver(ctx context.Context, at types.Point) (types.ID, error) {
	id := r.id("d")
	if _, err := r.stack.Drivers.Register(ctx, id); err != nil {
		return "", err
	}
	if _, err := r.stack.Drivers.GoOnline(ctx, id); err != nil {
		return "", err
	}
	return id, r.stack.Drivers.UpdateLocation(ctx, id, at)
}

func (r *Runner) request(ctx context.Context) (*trip.Trip, error) {
	o, d := pickup, dropoff
	return r.stack.Trips.RequestTrip(ctx, trip.RequestCommand{RiderID: r.id("r"), Origin: &o, Destination: &d})
}

func checkPostgres(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return skip("no DSN configured, using in-memory stores")
	}
	if err := r.db.Ping(ctx); err != nil {
		return fail("ping: %v", err)
	}
	return pass("")
}

func checkRedis(ctx context.Context, r *Runner) Result {
	if r.rdb == nil {
		return skip("no Redis address configured")
	}
	if err := r.rdb.Ping(ctx).Err(); err != nil {
		return fail("ping: %v", err)
	}
	return pass("")
}

func checkSchema(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return skip("no DSN configured")
	}
	var missing []string
	for _, table := range []string{"drivers", "trips", "trip_transitions"} {
		var ok bool
		if err := r.db.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, table).Scan(&ok); err != nil {
			return fail("lookup %s: %v", table, err)
		}
		if !ok {
			missing = append(missing, table)
		}
	}
	if len(missing) > 0 {
		return fail("missing tables: %v", missing)
	}
	return pass("")
}

func referenceFare(_ context.Context, _ *Runner) Result {
	got := pricing.Fare(decimal.RequireFromString("2.50"), decimal.RequireFromString("1.20"),
		decimal.NewFromInt(10), decimal.NewFromInt(1))
	if !got.Equal(decimal.RequireFromString("14.50")) {
		return fail("fare for 10 km = %s, want 14.50", got)
	}
	return pass(got.StringFixed(2))
}

func surgeMultiplier(_ context.Context, _ *Runner) Result {
	limit := decimal.RequireFromString("3.0")
	checks := []struct {
		active, online int64
		want           string
	}{
		{0, 0, "1.00"},
		{10, 5, "2.00"},
		{5, 0, "3.00"},
	}
	for _, c := range checks {
		if got := pricing.Multiplier(c.active, c.online, limit); got.StringFixed(2) != c.want {
			return fail("surge(%d/%d) = %s, want %s", c.active, c.online, got.StringFixed(2), c.want)
		}
	}
	return pass("")
}

func lifecyclePath(ctx context.Context, r *Runner) Result {
	d, err := r.onlineDriver(ctx, pickup)
	if err != nil {
		return fail("driver: %v", err)
	}
	tr, err := r.request(ctx)
	if err != nil {
		return fail("request: %v", err)
	}
	versions := []int{tr.Version}
	steps := []func() (*trip.Trip, error){
		func() (*trip.Trip, error) {
			return r.stack.Trips.AcceptTrip(ctx, trip.AcceptCommand{TripID: tr.ID, DriverID: d})
		},
		func() (*trip.Trip, error) {
			return r.stack.Trips.StartTrip(ctx, trip.StartCommand{TripID: tr.ID, DriverID: d})
		},
		func() (*trip.Trip, error) {
			return r.stack.Trips.CompleteTrip(ctx, trip.CompleteCommand{TripID: tr.ID, DriverID: d})
		},
	}
	for _, step := range steps {
		next, err := step()
		if err != nil {
			return fail("transition: %v", err)
		}
		versions = append(versions, next.Version)
	}
	for i := 1; i < len(versions); i++ {
		if versions[i] != versions[i-1]+1 {
			return fail("versions not monotonic: %v", versions)
		}
	}

	hist, err := r.stack.TripStore.History(ctx, tr.ID)
	if err != nil {
		return fail("history: %v", err)
	}
	if len(hist) != 4 || hist[0].From != trip.StatusNone {
		return fail("expected 4 audit rows from NONE, got %d", len(hist))
	}
	for i, h := range hist {
		if i > 0 && h.From != hist[i-1].To {
			return fail("audit gap at row %d: %s after %s", i, h.From, hist[i-1].To)
		}
		if i > 0 && !trip.CanTransition(h.From, h.To) {
			return fail("illegal audit row %s -> %s", h.From, h.To)
		}
	}
	dr, err := r.stack.Drivers.Get(ctx, d)
	if err != nil || dr.Status != driver.StatusOnline {
		return fail("driver after completion: %+v %v", dr, err)
	}
	return pass(fmt.Sprintf("versions=%v", versions))
}

func cancelledCannotComplete(ctx context.Context, r *Runner) Result {
	d, err := r.onlineDriver(ctx, pickup)
	if err != nil {
		return fail("driver: %v", err)
	}
	tr, err := r.request(ctx)
	if err != nil {
		return fail("request: %v", err)
	}
	if _, err := r.stack.Trips.AcceptTrip(ctx, trip.AcceptCommand{TripID: tr.ID, DriverID: d}); err != nil {
		return fail("accept: %v", err)
	}
	if _, err := r.stack.Trips.CancelTrip(ctx, trip.CancelCommand{TripID: tr.ID, ActorID: tr.RiderID, Reason: "bench"}); err != nil {
		return fail("cancel: %v", err)
	}
	_, err = r.stack.Trips.CompleteTrip(ctx, trip.CompleteCommand{TripID: tr.ID, DriverID: d})
	if !errors.Is(err, types.ErrConflict) {
		return fail("complete after cancel returned %v", err)
	}
	return pass("")
}

func oneActivePerRider(ctx context.Context, r *Runner) Result {
	tr, err := r.request(ctx)
	if err != nil {
		return fail("request: %v", err)
	}
	o, d := pickup, dropoff
	_, err = r.stack.Trips.RequestTrip(ctx, trip.RequestCommand{RiderID: tr.RiderID, Origin: &o, Destination: &d})
	if !errors.Is(err, trip.ErrActiveTrip) {
		return fail("second request returned %v", err)
	}
	_, _ = r.stack.Trips.CancelTrip(ctx, trip.CancelCommand{TripID: tr.ID, ActorID: tr.RiderID})
	return pass("")
}

func concurrentAccept(ctx context.Context, r *Runner) Result {
	n := r.cfg.Concurrency
	drivers := make([]types.ID, 0, n)
	for i := 0; i < n; i++ {
		d, err := r.onlineDriver(ctx, pickup)
		if err != nil {
			return fail("driver: %v", err)
		}
		drivers = append(drivers, d)
	}
	tr, err := r.request(ctx)
	if err != nil {
		return fail("request: %v", err)
	}

	var (
		wg        sync.WaitGroup
		successes atomic.Int64
		conflicts atomic.Int64
		others    atomic.Int64
	)
	start := make(chan struct{})
	for _, d := range drivers {
		wg.Add(1)
		go func(d types.ID) {
			defer wg.Done()
			<-start
			_, err := r.stack.Trips.AcceptTrip(ctx, trip.AcceptCommand{TripID: tr.ID, DriverID: d})
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, types.ErrConflict):
				conflicts.Add(1)
			default:
				others.Add(1)
			}
		}(d)
	}
	close(start)
	wg.Wait()

	details := fmt.Sprintf("success=%d conflict=%d other=%d", successes.Load(), conflicts.Load(), others.Load())
	if successes.Load() != 1 || others.Load() != 0 {
		return fail("%s", details)
	}
	busy := 0
	for _, d := range drivers {
		dr, err := r.stack.Drivers.Get(ctx, d)
		if err != nil {
			return fail("load driver: %v", err)
		}
		if dr.Status == driver.StatusBusy {
			busy++
		}
	}
	if busy != 1 {
		return fail("%d drivers left BUSY", busy)
	}
	return pass(details)
}

func cancelVsAccept(ctx context.Context, r *Runner) Result {
	d, err := r.onlineDriver(ctx, pickup)
	if err != nil {
		return fail("driver: %v", err)
	}
	tr, err := r.request(ctx)
	if err != nil {
		return fail("request: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	start := make(chan struct{})
	wg.Add(2)
	go func() {
		defer wg.Done()
		<-start
		_, errs[0] = r.stack.Trips.AcceptTrip(ctx, trip.AcceptCommand{TripID: tr.ID, DriverID: d})
	}()
	go func() {
		defer wg.Done()
		<-start
		_, errs[1] = r.stack.Trips.CancelTrip(ctx, trip.CancelCommand{TripID: tr.ID, ActorID: tr.RiderID, Reason: "bench"})
	}()
	close(start)
	wg.Wait()

	for _, err := range errs {
		if err != nil && !errors.Is(err, types.ErrConflict) {
			return fail("unexpected error: %v", err)
		}
	}
	got, err := r.stack.TripStore.Get(ctx, tr.ID)
	if err != nil {
		return fail("get: %v", err)
	}
	dr, err := r.stack.Drivers.Get(ctx, d)
	if err != nil {
		return fail("load driver: %v", err)
	}
	switch got.Status {
	case trip.StatusCancelled:
		if dr.Status != driver.StatusOnline {
			return fail("driver left %s after cancel", dr.Status)
		}
	case trip.StatusAccepted:
		if dr.Status != driver.StatusBusy {
			return fail("accepted trip with driver %s", dr.Status)
		}
	default:
		return fail("unexpected final status %s", got.Status)
	}
	return pass(fmt.Sprintf("final=%s", got.Status))
}

func perfLocations(ctx context.Context, r *Runner) Result {
	n := r.cfg.Concurrency
	drivers := make([]types.ID, 0, n)
	for i := 0; i < n; i++ {
		d, err := r.onlineDriver(ctx, pickup)
		if err != nil {
			return fail("driver: %v", err)
		}
		drivers = append(drivers, d)
	}
	var ops, errCount atomic.Int64
	deadline := time.Now().Add(r.cfg.Duration)
	var wg sync.WaitGroup
	for i, d := range drivers {
		wg.Add(1)
		go func(i int, d types.ID) {
			defer wg.Done()
			step := 0
			for time.Now().Before(deadline) && ctx.Err() == nil {
				p := types.Point{Lat: pickup.Lat + float64(step%100)*0.0001, Lng: pickup.Lng + float64(i)*0.0001}
				if err := r.stack.Drivers.UpdateLocation(ctx, d, p); err != nil {
					errCount.Add(1)
				} else {
					ops.Add(1)
				}
				step++
			}
		}(i, d)
	}
	wg.Wait()
	return throughput(ops.Load(), errCount.Load(), r.cfg.Duration)
}

func perfRequests(ctx context.Context, r *Runner) Result {
	var ops, errCount atomic.Int64
	deadline := time.Now().Add(r.cfg.Duration)
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(deadline) && ctx.Err() == nil {
				tr, err := r.request(ctx)
				if err != nil {
					errCount.Add(1)
					continue
				}
				ops.Add(1)
				_, _ = r.stack.Trips.CancelTrip(ctx, trip.CancelCommand{TripID: tr.ID, ActorID: tr.RiderID, Reason: "bench"})
			}
		}()
	}
	wg.Wait()
	return throughput(ops.Load(), errCount.Load(), r.cfg.Duration)
}

func throughput(ops, errs int64, d time.Duration) Result {
	details := fmt.Sprintf("ops=%d errors=%d rps=%.1f", ops, errs, float64(ops)/d.Seconds())
	if ops == 0 || errs > 0 {
		return Result{Status: "FAIL", Details: details}
	}
	return pass(details)
}
