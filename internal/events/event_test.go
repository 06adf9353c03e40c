package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestTripEventJSON(t *testing.T) {
	ts := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	e := TripEvent{Type: TripRequested, TripID: "t1", RiderID: "r1", Status: "REQUESTED", Timestamp: ts}

	body, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]any
	_ = json.Unmarshal(body, &raw)
	for _, k := range []string{"trip_id", "rider_id", "driver_id", "status", "timestamp"} {
		if _, ok := raw[k]; !ok {
			t.Errorf("payload missing %q: %s", k, body)
		}
	}
	if raw["driver_id"] != nil {
		t.Errorf("unassigned driver should encode as null, got %v", raw["driver_id"])
	}
	if e.Key() != "t1:trip.requested" {
		t.Errorf("key = %s", e.Key())
	}
}

func TestLogPublisher(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	pub := LogPublisher{Log: zap.New(core)}
	driverID := "d1"

	err := pub.Publish(context.Background(), TripEvent{Type: TripAccepted, TripID: "t1", RiderID: "r1", DriverID: &driverID, Status: "ACCEPTED"})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	entries := logs.FilterMessage("trip event").All()
	if len(entries) != 1 {
		t.Fatalf("expected one log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["event"] != "trip.accepted" || fields["driver_id"] != "d1" {
		t.Fatalf("unexpected fields %v", fields)
	}

	if err := (LogPublisher{}).Publish(context.Background(), TripEvent{}); err != nil {
		t.Fatalf("nil logger publish: %v", err)
	}
}
