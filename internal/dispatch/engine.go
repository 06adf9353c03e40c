// README: Identity-aware entry point: resolves the caller from a Firebase ID
// token, checks the role, then calls into the trip, driver and pricing services.
package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"ridehail/internal/infra"
	"ridehail/internal/modules/driver"
	"ridehail/internal/modules/pricing"
	"ridehail/internal/modules/trip"
	"ridehail/internal/types"
)

type Role string

const (
	RoleRider  Role = "rider"
	RoleDriver Role = "driver"
)

// roleClaim is the Firebase custom claim carrying the caller's role. Users
// without it are riders.
const roleClaim = "role"

type Actor struct {
	UserID types.ID
	Role   Role
}

var (
	ErrUnauthenticated = fmt.Errorf("missing or invalid id token: %w", types.ErrUnauthorized)
	ErrWrongRole       = fmt.Errorf("caller role not permitted: %w", types.ErrUnauthorized)
)

type Engine struct {
	verifier infra.TokenVerifier
	trips    *trip.Service
	drivers  *driver.Service
	pricing  *pricing.Service
	log      *zap.Logger
}

func New(verifier infra.TokenVerifier, trips *trip.Service, drivers *driver.Service, pricing *pricing.Service, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{verifier: verifier, trips: trips, drivers: drivers, pricing: pricing, log: log}
}

// Authenticate verifies idToken (a bare token or "Bearer <token>").
func (e *Engine) Authenticate(ctx context.Context, idToken string) (Actor, error) {
	idToken = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(idToken), "Bearer "))
	if idToken == "" || e.verifier == nil {
		return Actor{}, ErrUnauthenticated
	}
	tok, err := e.verifier.VerifyIDToken(ctx, idToken)
	if err != nil {
		e.log.Info("token rejected", zap.Error(err))
		return Actor{}, ErrUnauthenticated
	}
	if tok == nil || tok.UID == "" {
		return Actor{}, ErrUnauthenticated
	}
	role := RoleRider
	if r, _ := tok.Claims[roleClaim].(string); Role(r) == RoleDriver {
		role = RoleDriver
	}
	return Actor{UserID: types.ID(tok.UID), Role: role}, nil
}

func (e *Engine) require(ctx context.Context, idToken string, role Role) (Actor, error) {
	a, err := e.Authenticate(ctx, idToken)
	if err != nil {
		return Actor{}, err
	}
	if a.Role != role {
		return Actor{}, ErrWrongRole
	}
	return a, nil
}

func (e *Engine) RequestTrip(ctx context.Context, idToken string, origin, dest *types.Point) (*trip.Trip, error) {
	a, err := e.require(ctx, idToken, RoleRider)
	if err != nil {
		return nil, err
	}
	return e.trips.RequestTrip(ctx, trip.RequestCommand{RiderID: a.UserID, Origin: origin, Destination: dest})
}

func (e *Engine) AcceptTrip(ctx context.Context, idToken string, tripID types.ID) (*trip.Trip, error) {
	a, err := e.require(ctx, idToken, RoleDriver)
	if err != nil {
		return nil, err
	}
	return e.trips.AcceptTrip(ctx, trip.AcceptCommand{TripID: tripID, DriverID: a.UserID})
}

func (e *Engine) StartTrip(ctx context.Context, idToken string, tripID types.ID) (*trip.Trip, error) {
	a, err := e.require(ctx, idToken, RoleDriver)
	if err != nil {
		return nil, err
	}
	return e.trips.StartTrip(ctx, trip.StartCommand{TripID: tripID, DriverID: a.UserID})
}

func (e *Engine) CompleteTrip(ctx context.Context, idToken string, tripID types.ID) (*trip.Trip, error) {
	a, err := e.require(ctx, idToken, RoleDriver)
	if err != nil {
		return nil, err
	}
	return e.trips.CompleteTrip(ctx, trip.CompleteCommand{TripID: tripID, DriverID: a.UserID})
}

// CancelTrip is open to both roles; the trip service checks the caller is a party.
func (e *Engine) CancelTrip(ctx context.Context, idToken string, tripID types.ID, reason string) (*trip.Trip, error) {
	a, err := e.Authenticate(ctx, idToken)
	if err != nil {
		return nil, err
	}
	return e.trips.CancelTrip(ctx, trip.CancelCommand{TripID: tripID, ActorID: a.UserID, Reason: reason})
}

func (e *Engine) ActiveTrip(ctx context.Context, idToken string) (*trip.Trip, bool, error) {
	a, err := e.Authenticate(ctx, idToken)
	if err != nil {
		return nil, false, err
	}
	as := trip.ActorRider
	if a.Role == RoleDriver {
		as = trip.ActorDriver
	}
	return e.trips.GetActiveTrip(ctx, a.UserID, as)
}

func (e *Engine) GetTrip(ctx context.Context, idToken string, tripID types.ID) (*trip.Trip, error) {
	a, err := e.Authenticate(ctx, idToken)
	if err != nil {
		return nil, err
	}
	return e.trips.Get(ctx, tripID, a.UserID)
}

func (e *Engine) TripTransitions(ctx context.Context, idToken string, tripID types.ID) ([]trip.Transition, error) {
	a, err := e.Authenticate(ctx, idToken)
	if err != nil {
		return nil, err
	}
	return e.trips.History(ctx, tripID, a.UserID)
}

// MyTrips pages through the caller's trips, newest first.
func (e *Engine) MyTrips(ctx context.Context, idToken string, p trip.Page) ([]*trip.Trip, error) {
	a, err := e.Authenticate(ctx, idToken)
	if err != nil {
		return nil, err
	}
	if a.Role == RoleDriver {
		return e.trips.DriverHistory(ctx, a.UserID, p)
	}
	return e.trips.RiderHistory(ctx, a.UserID, p)
}

func (e *Engine) EstimateFare(ctx context.Context, idToken string, origin, dest types.Point) (pricing.Quote, error) {
	if _, err := e.Authenticate(ctx, idToken); err != nil {
		return pricing.Quote{}, err
	}
	return e.pricing.Estimate(ctx, origin, dest)
}

func (e *Engine) Surge(ctx context.Context, idToken string, p types.Point) (decimal.Decimal, error) {
	if _, err := e.Authenticate(ctx, idToken); err != nil {
		return decimal.Decimal{}, err
	}
	return e.pricing.CalculateSurge(ctx, p)
}

// GoOnline registers the driver on first use and marks it available.
func (e *Engine) GoOnline(ctx context.Context, idToken string) (*driver.Driver, error) {
	a, err := e.require(ctx, idToken, RoleDriver)
	if err != nil {
		return nil, err
	}
	if _, err := e.drivers.Register(ctx, a.UserID); err != nil {
		return nil, err
	}
	return e.drivers.GoOnline(ctx, a.UserID)
}

func (e *Engine) GoOffline(ctx context.Context, idToken string) (*driver.Driver, error) {
	a, err := e.require(ctx, idToken, RoleDriver)
	if err != nil {
		return nil, err
	}
	return e.drivers.GoOffline(ctx, a.UserID)
}

func (e *Engine) UpdateLocation(ctx context.Context, idToken string, p types.Point) error {
	a, err := e.require(ctx, idToken, RoleDriver)
	if err != nil {
		return err
	}
	return e.drivers.UpdateLocation(ctx, a.UserID, p)
}
