// README: Push notification contract and the per-event message catalogue.
package notification

import (
	"context"

	"ridehail/internal/events"
	"ridehail/internal/types"
)

type Notification struct {
	UserID types.ID
	Title  string
	Body   string
	Data   map[string]string
}

type Pusher interface {
	Push(ctx context.Context, n Notification) error
}

// Deduper remembers which (trip, event) pairs were already delivered.
type Deduper interface {
	// Claim reports true the first time key is seen.
	Claim(ctx context.Context, key string) (bool, error)
	// Release forgets key so a redelivered event is sent again.
	Release(ctx context.Context, key string) error
}

// Messages maps a trip event to the pushes it triggers. Parties that are
// unknown (no driver yet) are skipped.
func Messages(e events.TripEvent) []Notification {
	rider := types.ID(e.RiderID)
	var drv types.ID
	if e.DriverID != nil {
		drv = types.ID(*e.DriverID)
	}
	data := map[string]string{
		"type":    string(e.Type),
		"trip_id": e.TripID,
		"status":  e.Status,
	}

	var out []Notification
	add := func(user types.ID, title, body string) {
		if user == "" {
			return
		}
		out = append(out, Notification{UserID: user, Title: title, Body: body, Data: data})
	}
	switch e.Type {
	case events.TripMatched:
		add(drv, "New trip request nearby!", "Tap to accept")
	case events.TripAccepted:
		add(rider, "Driver accepted your request!", "Your driver is on the way")
	case events.TripStarted:
		add(rider, "Trip started!", "Enjoy your ride")
	case events.TripCompleted:
		add(rider, "Trip completed!", "Please rate your driver")
		add(drv, "Trip completed!", "Please rate your rider")
	case events.TripCancelled:
		add(rider, "Trip cancelled", "Your trip has been cancelled")
		add(drv, "Trip cancelled", "The trip has been cancelled")
	}
	return out
}
