// README: Trip lifecycle event contract shared by the publisher and consumers.
package events

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type Type string

const (
	TripRequested Type = "trip.requested"
	// TripMatched marks a tentative driver stamped on a REQUESTED trip; the
	// status does not change.
	TripMatched   Type = "trip.matched"
	TripAccepted  Type = "trip.accepted"
	TripStarted   Type = "trip.started"
	TripCompleted Type = "trip.completed"
	TripCancelled Type = "trip.cancelled"
)

// TripEvent is emitted once per successful transition. Delivery is
// at-least-once; consumers dedupe on (TripID, Type).
type TripEvent struct {
	Type      Type      `json:"type"`
	TripID    string    `json:"trip_id"`
	RiderID   string    `json:"rider_id"`
	DriverID  *string   `json:"driver_id"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

func (e TripEvent) Key() string {
	return e.TripID + ":" + string(e.Type)
}

type Publisher interface {
	Publish(ctx context.Context, e TripEvent) error
}

// LogPublisher writes events to the log; used when no broker is configured.
type LogPublisher struct {
	Log *zap.Logger
}

func (p LogPublisher) Publish(_ context.Context, e TripEvent) error {
	if p.Log == nil {
		return nil
	}
	fields := []zap.Field{
		zap.String("event", string(e.Type)),
		zap.String("trip_id", e.TripID),
		zap.String("rider_id", e.RiderID),
		zap.String("status", e.Status),
	}
	if e.DriverID != nil {
		fields = append(fields, zap.String("driver_id", *e.DriverID))
	}
	p.Log.Info("trip event", fields...)
	return nil
}

// LocationPing is the inbound driver position message.
type LocationPing struct {
	DriverID  string    `json:"driver_id"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp"`
}
