package pricing

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"ridehail/internal/config"
	"ridehail/internal/geo"
	"ridehail/internal/types"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type staticProvider struct {
	active, online int64
	err            error
}

func (p staticProvider) Counts(context.Context, types.Point) (int64, int64, error) {
	return p.active, p.online, p.err
}

func newTestService(surgeOn bool, p Provider) *Service {
	surge := NewSurgeCalculator(config.SurgeConfig{Enabled: surgeOn, MaxMultiplier: d("3.0")}, p)
	return NewService(config.PricingConfig{BaseFare: d("2.50"), PerKmRate: d("1.20"), Currency: "USD"}, surge, nil)
}

func TestFare(t *testing.T) {
	tests := []struct {
		name                   string
		base, perKm, km, surge string
		want                   string
	}{
		{"reference fare", "2.50", "1.20", "10", "1.00", "14.50"},
		{"zero distance", "2.50", "1.20", "0", "1.00", "2.50"},
		{"surge doubles", "2.50", "1.20", "10", "2.00", "29.00"},
		{"half cent rounds up", "0", "0.05", "0.1", "1", "0.01"},
		{"fractional km", "2.50", "1.20", "3.333", "1.25", "8.12"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Fare(d(tt.base), d(tt.perKm), d(tt.km), d(tt.surge))
			if !got.Equal(d(tt.want)) {
				t.Errorf("Fare() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestMultiplier(t *testing.T) {
	tests := []struct {
		name           string
		active, online int64
		want           string
	}{
		{"no demand", 0, 5, "1.00"},
		{"no demand no supply", 0, 0, "1.00"},
		{"ten requests five drivers", 10, 5, "2.00"},
		{"balanced", 4, 4, "1.50"},
		{"no drivers uses raw demand", 3, 0, "2.50"},
		{"capped", 10, 0, "3.00"},
		{"repeating ratio rounds", 1, 3, "1.17"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Multiplier(tt.active, tt.online, d("3.0"))
			if !got.Equal(d(tt.want)) {
				t.Errorf("Multiplier(%d, %d) = %s, want %s", tt.active, tt.online, got, tt.want)
			}
		})
	}
}

func TestCalculatePrice_ReferenceQuote(t *testing.T) {
	svc := newTestService(true, staticProvider{active: 0, online: 3})
	q, err := svc.CalculatePrice(context.Background(), types.Point{}, types.Point{}, 10)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if q.EstimatedFare.Amount.StringFixed(2) != "14.50" || q.EstimatedFare.Currency != "USD" {
		t.Errorf("fare = %s", q.EstimatedFare)
	}
	if !q.SurgeMultiplier.Equal(d("1")) || !q.DistanceKm.Equal(d("10")) {
		t.Errorf("unexpected quote %+v", q)
	}
	if !q.BaseFare.Equal(d("2.50")) || !q.PerKmRate.Equal(d("1.20")) {
		t.Errorf("rates not echoed: %+v", q)
	}
}

func TestCalculatePrice_SurgeApplied(t *testing.T) {
	svc := newTestService(true, staticProvider{active: 10, online: 5})
	q, err := svc.CalculatePrice(context.Background(), types.Point{}, types.Point{}, 10)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if q.SurgeMultiplier.StringFixed(2) != "2.00" || q.EstimatedFare.Amount.StringFixed(2) != "29.00" {
		t.Errorf("unexpected quote %+v", q)
	}
}

func TestCalculateSurge_Disabled(t *testing.T) {
	svc := newTestService(false, staticProvider{active: 100, online: 1})
	s, err := svc.CalculateSurge(context.Background(), types.Point{})
	if err != nil || s.StringFixed(2) != "1.00" {
		t.Fatalf("disabled surge = %s (%v)", s, err)
	}
}

func TestCalculatePrice_ProviderError(t *testing.T) {
	boom := errors.New("db down")
	svc := newTestService(true, staticProvider{err: boom})
	if _, err := svc.CalculatePrice(context.Background(), types.Point{}, types.Point{}, 1); !errors.Is(err, boom) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if _, err := svc.CalculatePrice(context.Background(), types.Point{}, types.Point{}, -1); !errors.Is(err, types.ErrValidation) {
		t.Fatalf("negative distance: expected validation error, got %v", err)
	}
}

func TestEstimate_MeasuresDistance(t *testing.T) {
	svc := newTestService(false, nil)
	a := types.Point{Lat: 0, Lng: 0}
	b := types.Point{Lat: 0.1, Lng: 0}
	q, err := svc.Estimate(context.Background(), a, b)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	want := decimal.NewFromFloat(geo.DistanceKm(a, b)).Round(2)
	if !q.DistanceKm.Equal(want) {
		t.Errorf("distance = %s, want %s", q.DistanceKm, want)
	}
	if _, err := svc.Estimate(context.Background(), types.Point{Lat: 100}, b); !errors.Is(err, types.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestNonFiniteInputsAreRejected(t *testing.T) {
	svc := newTestService(true, staticProvider{active: 1, online: 1})
	ctx := context.Background()
	ok := types.Point{Lat: 25.03, Lng: 121.56}

	for _, km := range []float64{math.NaN(), math.Inf(1), math.Inf(-1), -1} {
		if _, err := svc.CalculatePrice(ctx, ok, ok, km); !errors.Is(err, types.ErrValidation) {
			t.Errorf("distance %v: expected validation error, got %v", km, err)
		}
	}
	points := []types.Point{
		{Lat: math.NaN(), Lng: 0},
		{Lat: 0, Lng: math.NaN()},
		{Lat: math.Inf(-1), Lng: 0},
	}
	for _, p := range points {
		if _, err := svc.Estimate(ctx, ok, p); !errors.Is(err, types.ErrValidation) {
			t.Errorf("estimate to %v: expected validation error, got %v", p, err)
		}
		if _, err := svc.CalculatePrice(ctx, p, ok, 1); !errors.Is(err, types.ErrValidation) {
			t.Errorf("price from %v: expected validation error, got %v", p, err)
		}
	}
}

type fixedRouter struct {
	km  float64
	err error
}

func (r fixedRouter) DistanceKm(context.Context, types.Point, types.Point) (float64, error) {
	return r.km, r.err
}

func TestEstimate_Router(t *testing.T) {
	cfg := config.PricingConfig{BaseFare: d("2.50"), PerKmRate: d("1.20"), Currency: "USD"}
	a := types.Point{Lat: 0, Lng: 0}
	b := types.Point{Lat: 0.1, Lng: 0}

	routed := NewService(cfg, nil, nil, WithRouter(fixedRouter{km: 10}))
	q, err := routed.Estimate(context.Background(), a, b)
	if err != nil || q.EstimatedFare.Amount.StringFixed(2) != "14.50" {
		t.Fatalf("routed quote %+v (%v)", q, err)
	}

	broken := NewService(cfg, nil, nil, WithRouter(fixedRouter{err: errors.New("quota")}))
	if got := broken.Distance(context.Background(), a, b); got != geo.DistanceKm(a, b) {
		t.Fatalf("fallback distance = %f", got)
	}

	for _, km := range []float64{math.NaN(), math.Inf(1)} {
		odd := NewService(cfg, nil, nil, WithRouter(fixedRouter{km: km}))
		q, err := odd.Estimate(context.Background(), a, b)
		if err != nil {
			t.Fatalf("router returned %v: %v", km, err)
		}
		if want := decimal.NewFromFloat(geo.DistanceKm(a, b)).Round(2); !q.DistanceKm.Equal(want) {
			t.Fatalf("router returned %v: distance %s, want %s", km, q.DistanceKm, want)
		}
	}
}

type countStub struct {
	n     int64
	cells []string
}

func (c *countStub) CountActiveRequests(context.Context) (int64, error) { return c.n, nil }
func (c *countStub) CountOnline(context.Context) (int64, error)         { return c.n, nil }
func (c *countStub) CountActiveRequestsInCells(_ context.Context, cells []string) (int64, error) {
	c.cells = cells
	return c.n, nil
}
func (c *countStub) CountOnlineInCells(_ context.Context, cells []string) (int64, error) {
	c.cells = cells
	return c.n, nil
}

func TestProviders(t *testing.T) {
	ctx := context.Background()
	p := types.Point{Lat: 40.7128, Lng: -74.0060}

	active, online, err := GlobalProvider{Requests: &countStub{n: 10}, Drivers: &countStub{n: 5}}.Counts(ctx, p)
	if err != nil || active != 10 || online != 5 {
		t.Fatalf("global counts = %d/%d (%v)", active, online, err)
	}

	reqs, drvs := &countStub{n: 2}, &countStub{n: 1}
	active, online, err = CellProvider{Requests: reqs, Drivers: drvs, Precision: 5}.Counts(ctx, p)
	if err != nil || active != 2 || online != 1 {
		t.Fatalf("cell counts = %d/%d (%v)", active, online, err)
	}
	if len(reqs.cells) != 9 || reqs.cells[0] != geo.Cell(p, 5) {
		t.Fatalf("unexpected cells %v", reqs.cells)
	}
}
