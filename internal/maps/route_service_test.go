package maps

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"googlemaps.github.io/maps"

	"ridehail/internal/types"
)

func newTestRoutes(t *testing.T, body string) (*RouteService, *http.Request) {
	t.Helper()
	var seen http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = *r
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	svc, err := NewRouteService("test-key", maps.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("new route service: %v", err)
	}
	return svc, &seen
}

func TestDistanceKm(t *testing.T) {
	svc, seen := newTestRoutes(t, `{"status":"OK","routes":[{"legs":[
		{"distance":{"value":7250,"text":"7.3 km"},"duration":{"value":900,"text":"15 mins"}},
		{"distance":{"value":750,"text":"0.8 km"},"duration":{"value":60,"text":"1 min"}}
	]}]}`)

	km, err := svc.DistanceKm(context.Background(),
		types.Point{Lat: 25.0330, Lng: 121.5654}, types.Point{Lat: 25.0478, Lng: 121.5170})
	if err != nil {
		t.Fatalf("distance: %v", err)
	}
	if km != 8 {
		t.Fatalf("distance = %f, want 8", km)
	}
	if got := seen.URL.Query().Get("origin"); got != "25.033000,121.565400" {
		t.Fatalf("origin sent as %q", got)
	}
}

func TestDistanceKm_NoRoute(t *testing.T) {
	svc, _ := newTestRoutes(t, `{"status":"OK","routes":[]}`)
	if _, err := svc.DistanceKm(context.Background(), types.Point{}, types.Point{Lat: 1}); !errors.Is(err, ErrNoRoute) {
		t.Fatalf("expected ErrNoRoute, got %v", err)
	}
}

func TestDistanceKm_APIError(t *testing.T) {
	svc, _ := newTestRoutes(t, `{"status":"REQUEST_DENIED","error_message":"bad key"}`)
	if _, err := svc.DistanceKm(context.Background(), types.Point{}, types.Point{Lat: 1}); err == nil {
		t.Fatal("expected an error for a denied request")
	}
}
