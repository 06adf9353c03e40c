// README: Trip aggregate, status definitions and the transition table.
package trip

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"ridehail/internal/types"
)

type Status string

const (
	// StatusNone is only used as the origin of the first audit row.
	StatusNone       Status = "NONE"
	StatusRequested  Status = "REQUESTED"
	StatusAccepted   Status = "ACCEPTED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"

	// Reserved: part of the stored vocabulary, never produced by a transition.
	StatusDriverAssigned Status = "DRIVER_ASSIGNED"
	StatusRejected       Status = "REJECTED"
)

// Active reports whether the trip still occupies its rider.
func (s Status) Active() bool {
	switch s {
	case StatusRequested, StatusAccepted, StatusInProgress:
		return true
	case StatusNone, StatusCompleted, StatusCancelled, StatusDriverAssigned, StatusRejected:
		return false
	}
	return false
}

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled:
		return true
	case StatusNone, StatusRequested, StatusAccepted, StatusInProgress, StatusDriverAssigned, StatusRejected:
		return false
	}
	return false
}

// Engaged reports whether an assigned driver is committed to the trip.
func (s Status) Engaged() bool {
	return s == StatusAccepted || s == StatusInProgress
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
)

type ActorType string

const (
	ActorRider  ActorType = "rider"
	ActorDriver ActorType = "driver"
	ActorSystem ActorType = "system"
)

type Trip struct {
	ID              types.ID
	RiderID         types.ID
	DriverID        *types.ID
	Status          Status
	PaymentStatus   PaymentStatus
	Version         int
	Origin          types.Point
	Destination     types.Point
	OriginCell      string
	DistanceKm      decimal.Decimal
	SurgeMultiplier decimal.Decimal
	EstimatedFare   types.Money
	FinalFare       *types.Money
	RequestedAt     time.Time
	AcceptedAt      *time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
	CancelledAt     *time.Time
	CancelReason    *string
}

// IsParty reports whether user is the rider or the (possibly tentative) driver.
func (t *Trip) IsParty(user types.ID) bool {
	if user == "" {
		return false
	}
	return t.RiderID == user || (t.DriverID != nil && *t.DriverID == user)
}

// Transition is one row of the append-only audit trail.
type Transition struct {
	ID        int64
	TripID    types.ID
	From      Status
	To        Status
	ActorType ActorType
	ActorID   *types.ID
	CreatedAt time.Time
}

// AllowedTransitions represents the trip state flow as code.
var AllowedTransitions = map[Status][]Status{
	StatusNone:       {StatusRequested},
	StatusRequested:  {StatusAccepted, StatusCancelled},
	StatusAccepted:   {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	for _, s := range AllowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Page struct {
	Limit  int
	Offset int
}

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

func (p Page) normalize() Page {
	if p.Limit <= 0 {
		p.Limit = defaultPageLimit
	}
	if p.Limit > maxPageLimit {
		p.Limit = maxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

var (
	ErrNotFound          = fmt.Errorf("trip not found: %w", types.ErrNotFound)
	ErrInvalidState      = fmt.Errorf("invalid trip state transition: %w", types.ErrConflict)
	ErrConflict          = fmt.Errorf("trip state conflict: %w", types.ErrConflict)
	ErrActiveTrip        = fmt.Errorf("rider has an active trip: %w", types.ErrConflict)
	ErrDriverMismatch    = fmt.Errorf("trip is not assigned to this driver: %w", types.ErrConflict)
	ErrDriverUnavailable = fmt.Errorf("driver is not available: %w", types.ErrConflict)
	ErrBadRequest        = fmt.Errorf("bad trip request: %w", types.ErrValidation)
	ErrForbidden         = fmt.Errorf("not a party to this trip: %w", types.ErrUnauthorized)
)
