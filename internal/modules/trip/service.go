// README: Trip service implements the lifecycle state machine on top of a Store.
package trip

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"ridehail/internal/events"
	"ridehail/internal/geo"
	"ridehail/internal/modules/driver"
	"ridehail/internal/modules/pricing"
	"ridehail/internal/types"
)

type Pricer interface {
	Distance(ctx context.Context, origin, dest types.Point) float64
	CalculatePrice(ctx context.Context, origin, dest types.Point, distanceKm float64) (pricing.Quote, error)
}

type Matcher interface {
	FindNearestDriver(ctx context.Context, origin types.Point) (types.ID, bool, error)
}

// StatusMirror keeps the location cache's copy of a driver's status in step
// with the committed driver row.
type StatusMirror interface {
	UpdateStatus(ctx context.Context, id types.ID, status driver.Status) error
}

type Service struct {
	store     Store
	pricer    Pricer
	matcher   Matcher
	publisher events.Publisher
	mirror    StatusMirror
	log       *zap.Logger
	now       func() time.Time
}

type Option func(*Service)

func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithStatusMirror(m StatusMirror) Option {
	return func(s *Service) { s.mirror = m }
}

func WithLogger(log *zap.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, pricer Pricer, matcher Matcher, opts ...Option) *Service {
	s := &Service{
		store:   store,
		pricer:  pricer,
		matcher: matcher,
		log:     zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type RequestCommand struct {
	RiderID     types.ID
	Origin      *types.Point
	Destination *types.Point
}

type AcceptCommand struct {
	TripID   types.ID
	DriverID types.ID
}

type StartCommand struct {
	TripID   types.ID
	DriverID types.ID
}

type CompleteCommand struct {
	TripID   types.ID
	DriverID types.ID
}

type CancelCommand struct {
	TripID  types.ID
	ActorID types.ID
	Reason  string
}

func (s *Service) RequestTrip(ctx context.Context, cmd RequestCommand) (*Trip, error) {
	if cmd.RiderID == "" || cmd.Origin == nil || cmd.Destination == nil {
		return nil, ErrBadRequest
	}
	if err := cmd.Origin.Validate(); err != nil {
		return nil, err
	}
	if err := cmd.Destination.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.store.ActiveByRider(ctx, cmd.RiderID); err == nil {
		return nil, ErrActiveTrip
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	origin, dest := *cmd.Origin, *cmd.Destination
	dist := s.pricer.Distance(ctx, origin, dest)
	quote, err := s.pricer.CalculatePrice(ctx, origin, dest, dist)
	if err != nil {
		return nil, err
	}

	t := &Trip{
		ID:              types.NewID(),
		RiderID:         cmd.RiderID,
		Status:          StatusRequested,
		PaymentStatus:   PaymentPending,
		Origin:          origin,
		Destination:     dest,
		OriginCell:      geo.Cell(origin, geo.StoredCellPrecision),
		DistanceKm:      quote.DistanceKm,
		SurgeMultiplier: quote.SurgeMultiplier,
		EstimatedFare:   quote.EstimatedFare,
		RequestedAt:     s.now(),
	}
	if err := s.store.Create(ctx, t); err != nil {
		return nil, err
	}
	s.log.Info("trip requested",
		zap.String("trip_id", string(t.ID)),
		zap.String("rider_id", string(t.RiderID)),
		zap.String("fare", t.EstimatedFare.String()),
		zap.String("surge", t.SurgeMultiplier.StringFixed(2)),
	)
	s.publish(ctx, events.TripRequested, t)
	s.tryMatch(ctx, t)
	return t, nil
}

// tryMatch stamps a tentative driver on a REQUESTED trip and announces it to
// that driver. Failures are logged.
func (s *Service) tryMatch(ctx context.Context, t *Trip) (types.ID, bool) {
	if s.matcher == nil {
		return "", false
	}
	id, found, err := s.matcher.FindNearestDriver(ctx, t.Origin)
	if err != nil {
		s.log.Warn("matching failed", zap.String("trip_id", string(t.ID)), zap.Error(err))
		return "", false
	}
	if !found {
		return "", false
	}
	ok, err := s.store.AssignDriver(ctx, t.ID, id)
	if err != nil {
		s.log.Warn("assign driver failed", zap.String("trip_id", string(t.ID)), zap.Error(err))
		return "", false
	}
	if !ok {
		return "", false
	}
	t.DriverID = &id
	s.log.Info("driver matched", zap.String("trip_id", string(t.ID)), zap.String("driver_id", string(id)))
	s.publish(ctx, events.TripMatched, t)
	return id, true
}

func (s *Service) AcceptTrip(ctx context.Context, cmd AcceptCommand) (*Trip, error) {
	if cmd.TripID == "" || cmd.DriverID == "" {
		return nil, ErrBadRequest
	}
	t, err := s.store.Get(ctx, cmd.TripID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(t.Status, StatusAccepted) {
		return nil, ErrInvalidState
	}
	online := driver.StatusOnline
	driverID := cmd.DriverID
	err = s.apply(ctx, t, Change{
		To:        StatusAccepted,
		DriverID:  &driverID,
		ActorType: ActorDriver,
		ActorID:   &driverID,
		Driver: &DriverChange{
			DriverID: driverID,
			From:     &online,
			To:       driver.StatusBusy,
			Required: true,
		},
	})
	if err != nil {
		return nil, err
	}
	s.mirrorStatus(ctx, driverID, driver.StatusBusy)
	s.publish(ctx, events.TripAccepted, t)
	return t, nil
}

func (s *Service) StartTrip(ctx context.Context, cmd StartCommand) (*Trip, error) {
	t, err := s.assigned(ctx, cmd.TripID, cmd.DriverID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(t.Status, StatusInProgress) {
		return nil, ErrInvalidState
	}
	driverID := cmd.DriverID
	if err := s.apply(ctx, t, Change{To: StatusInProgress, ActorType: ActorDriver, ActorID: &driverID}); err != nil {
		return nil, err
	}
	s.publish(ctx, events.TripStarted, t)
	return t, nil
}

func (s *Service) CompleteTrip(ctx context.Context, cmd CompleteCommand) (*Trip, error) {
	t, err := s.assigned(ctx, cmd.TripID, cmd.DriverID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(t.Status, StatusCompleted) {
		return nil, ErrInvalidState
	}
	driverID := cmd.DriverID
	fare := t.EstimatedFare
	paid := PaymentCompleted
	err = s.apply(ctx, t, Change{
		To:            StatusCompleted,
		FinalFare:     &fare,
		PaymentStatus: &paid,
		ActorType:     ActorDriver,
		ActorID:       &driverID,
		Driver: &DriverChange{
			DriverID:       driverID,
			To:             driver.StatusOnline,
			IncrementTrips: true,
			Required:       true,
		},
	})
	if err != nil {
		return nil, err
	}
	s.mirrorStatus(ctx, driverID, driver.StatusOnline)
	s.publish(ctx, events.TripCompleted, t)
	return t, nil
}

func (s *Service) CancelTrip(ctx context.Context, cmd CancelCommand) (*Trip, error) {
	if cmd.TripID == "" || cmd.ActorID == "" {
		return nil, ErrBadRequest
	}
	t, err := s.store.Get(ctx, cmd.TripID)
	if err != nil {
		return nil, err
	}
	if !t.IsParty(cmd.ActorID) {
		return nil, ErrForbidden
	}
	if !CanTransition(t.Status, StatusCancelled) {
		return nil, ErrInvalidState
	}

	actor := cmd.ActorID
	actorType := ActorRider
	if actor != t.RiderID {
		actorType = ActorDriver
	}
	c := Change{To: StatusCancelled, ActorType: actorType, ActorID: &actor}
	if reason := strings.TrimSpace(cmd.Reason); reason != "" {
		c.CancelReason = &reason
	}
	releasing := t.Status.Engaged() && t.DriverID != nil
	if releasing {
		busy := driver.StatusBusy
		c.Driver = &DriverChange{DriverID: *t.DriverID, From: &busy, To: driver.StatusOnline}
	}
	if err := s.apply(ctx, t, c); err != nil {
		return nil, err
	}
	if releasing {
		s.mirrorStatus(ctx, *t.DriverID, driver.StatusOnline)
	}
	s.publish(ctx, events.TripCancelled, t)
	return t, nil
}

// GetActiveTrip returns the party's trip in REQUESTED, ACCEPTED or IN_PROGRESS.
func (s *Service) GetActiveTrip(ctx context.Context, partyID types.ID, as ActorType) (*Trip, bool, error) {
	var (
		t   *Trip
		err error
	)
	switch as {
	case ActorRider:
		t, err = s.store.ActiveByRider(ctx, partyID)
	case ActorDriver:
		t, err = s.store.ActiveByDriver(ctx, partyID)
	default:
		return nil, false, ErrBadRequest
	}
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return t, true, nil
}

func (s *Service) Get(ctx context.Context, id, actorID types.ID) (*Trip, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !t.IsParty(actorID) {
		return nil, ErrForbidden
	}
	return t, nil
}

func (s *Service) History(ctx context.Context, id, actorID types.ID) ([]Transition, error) {
	if _, err := s.Get(ctx, id, actorID); err != nil {
		return nil, err
	}
	return s.store.History(ctx, id)
}

func (s *Service) RiderHistory(ctx context.Context, riderID types.ID, p Page) ([]*Trip, error) {
	return s.store.ListByRider(ctx, riderID, p)
}

func (s *Service) DriverHistory(ctx context.Context, driverID types.ID, p Page) ([]*Trip, error) {
	return s.store.ListByDriver(ctx, driverID, p)
}

// Rematch retries matching for a REQUESTED trip that has no driver yet.
func (s *Service) Rematch(ctx context.Context, id types.ID) (types.ID, bool, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return "", false, err
	}
	if t.Status != StatusRequested || t.DriverID != nil {
		return "", false, nil
	}
	driverID, ok := s.tryMatch(ctx, t)
	return driverID, ok, nil
}

const rematchBatch = 50

func (s *Service) RunRematchTicker(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			trips, err := s.store.ListUnmatched(ctx, rematchBatch)
			if err != nil {
				s.log.Warn("list unmatched trips", zap.Error(err))
				continue
			}
			matched := 0
			for _, t := range trips {
				if _, ok := s.tryMatch(ctx, t); ok {
					matched++
				}
			}
			if len(trips) > 0 {
				s.log.Debug("rematch pass", zap.Int("pending", len(trips)), zap.Int("matched", matched))
			}
		}
	}
}

func (s *Service) assigned(ctx context.Context, tripID, driverID types.ID) (*Trip, error) {
	if tripID == "" || driverID == "" {
		return nil, ErrBadRequest
	}
	t, err := s.store.Get(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if t.DriverID == nil || *t.DriverID != driverID {
		return nil, ErrDriverMismatch
	}
	return t, nil
}

// apply commits c against the observed t and, on success, updates t in place
// to the committed state.
func (s *Service) apply(ctx context.Context, t *Trip, c Change) error {
	c.TripID = t.ID
	c.From = t.Status
	c.Version = t.Version
	c.At = s.now()
	if err := s.store.Apply(ctx, c); err != nil {
		s.log.Info("transition rejected",
			zap.String("trip_id", string(t.ID)),
			zap.String("from", string(c.From)),
			zap.String("to", string(c.To)),
			zap.Error(err),
		)
		return err
	}

	t.Status = c.To
	t.Version++
	if c.DriverID != nil {
		t.DriverID = c.DriverID
	}
	at := c.At
	switch c.To {
	case StatusAccepted:
		t.AcceptedAt = &at
	case StatusInProgress:
		t.StartedAt = &at
	case StatusCompleted:
		t.CompletedAt = &at
	case StatusCancelled:
		t.CancelledAt = &at
	}
	if c.FinalFare != nil {
		t.FinalFare = c.FinalFare
	}
	if c.PaymentStatus != nil {
		t.PaymentStatus = *c.PaymentStatus
	}
	if c.CancelReason != nil {
		t.CancelReason = c.CancelReason
	}
	s.log.Info("trip transitioned",
		zap.String("trip_id", string(t.ID)),
		zap.String("from", string(c.From)),
		zap.String("to", string(c.To)),
	)
	return nil
}

func (s *Service) mirrorStatus(ctx context.Context, id types.ID, status driver.Status) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.UpdateStatus(ctx, id, status); err != nil {
		s.log.Warn("mirror driver status", zap.String("driver_id", string(id)), zap.Error(err))
	}
}

func (s *Service) publish(ctx context.Context, typ events.Type, t *Trip) {
	if s.publisher == nil {
		return
	}
	e := events.TripEvent{
		Type:      typ,
		TripID:    string(t.ID),
		RiderID:   string(t.RiderID),
		Status:    string(t.Status),
		Timestamp: s.now(),
	}
	if t.DriverID != nil {
		d := string(*t.DriverID)
		e.DriverID = &d
	}
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.log.Warn("publish trip event", zap.String("event", string(typ)), zap.String("trip_id", e.TripID), zap.Error(err))
	}
}
