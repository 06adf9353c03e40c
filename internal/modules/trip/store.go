// README: Trip store contract and its PostgreSQL implementation.
package trip

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"ridehail/internal/modules/driver"
	"ridehail/internal/types"
)

// Change is one guarded status transition. The trip must still be in From at
// Version; the optional driver change commits or fails with it.
type Change struct {
	TripID        types.ID
	From          Status
	To            Status
	Version       int
	At            time.Time
	DriverID      *types.ID
	FinalFare     *types.Money
	PaymentStatus *PaymentStatus
	CancelReason  *string
	Driver        *DriverChange
	ActorType     ActorType
	ActorID       *types.ID
}

// DriverChange moves a driver to To when its status is *From (any when nil).
// When Required is set a failed precondition aborts the whole change.
type DriverChange struct {
	DriverID       types.ID
	From           *driver.Status
	To             driver.Status
	IncrementTrips bool
	Required       bool
}

type Store interface {
	// Create persists a REQUESTED trip; ErrActiveTrip if the rider already has one.
	Create(ctx context.Context, t *Trip) error
	Get(ctx context.Context, id types.ID) (*Trip, error)
	// AssignDriver stamps a tentative driver on a REQUESTED trip without one.
	AssignDriver(ctx context.Context, id, driverID types.ID) (bool, error)
	// Apply returns ErrConflict when the trip moved on since it was read.
	Apply(ctx context.Context, c Change) error
	ActiveByRider(ctx context.Context, riderID types.ID) (*Trip, error)
	ActiveByDriver(ctx context.Context, driverID types.ID) (*Trip, error)
	ListByRider(ctx context.Context, riderID types.ID, p Page) ([]*Trip, error)
	ListByDriver(ctx context.Context, driverID types.ID, p Page) ([]*Trip, error)
	ListUnmatched(ctx context.Context, limit int) ([]*Trip, error)
	CountActiveRequests(ctx context.Context) (int64, error)
	CountActiveRequestsInCells(ctx context.Context, cells []string) (int64, error)
	History(ctx context.Context, id types.ID) ([]Transition, error)
}

const (
	uniqueViolation        = "23505"
	foreignKeyViolation    = "23503"
	riderActiveConstraint  = "trips_one_active_per_rider"
	driverActiveConstraint = "trips_one_engaged_per_driver"
	driverFKConstraint     = "trips_driver_id_fkey"
)

type PgStore struct {
	db *pgxpool.Pool
}

func NewPgStore(db *pgxpool.Pool) *PgStore {
	return &PgStore{db: db}
}

const tripColumns = `id, rider_id, driver_id, status, payment_status, version,
	origin_lat, origin_lng, dest_lat, dest_lng, origin_cell,
	distance_km::text, surge_multiplier::text, estimated_fare::text, final_fare::text, currency,
	requested_at, accepted_at, started_at, completed_at, cancelled_at, cancel_reason`

func scanTrip(row pgx.Row) (*Trip, error) {
	var t Trip
	var id, riderID, status, payment, dist, surge, est string
	var driverID, finalFare *string
	err := row.Scan(
		&id, &riderID, &driverID, &status, &payment, &t.Version,
		&t.Origin.Lat, &t.Origin.Lng, &t.Destination.Lat, &t.Destination.Lng, &t.OriginCell,
		&dist, &surge, &est, &finalFare, &t.EstimatedFare.Currency,
		&t.RequestedAt, &t.AcceptedAt, &t.StartedAt, &t.CompletedAt, &t.CancelledAt, &t.CancelReason,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.ID = types.ID(id)
	t.RiderID = types.ID(riderID)
	t.Status = Status(status)
	t.PaymentStatus = PaymentStatus(payment)
	if driverID != nil {
		d := types.ID(*driverID)
		t.DriverID = &d
	}
	if t.DistanceKm, err = decimal.NewFromString(dist); err != nil {
		return nil, err
	}
	if t.SurgeMultiplier, err = decimal.NewFromString(surge); err != nil {
		return nil, err
	}
	if t.EstimatedFare.Amount, err = decimal.NewFromString(est); err != nil {
		return nil, err
	}
	if finalFare != nil {
		amt, err := decimal.NewFromString(*finalFare)
		if err != nil {
			return nil, err
		}
		t.FinalFare = &types.Money{Amount: amt, Currency: t.EstimatedFare.Currency}
	}
	return &t, nil
}

func collectTrips(rows pgx.Rows) ([]*Trip, error) {
	defer rows.Close()
	var out []*Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error, constraint string) bool {
	return isViolation(err, uniqueViolation, constraint)
}

// isUnknownDriver reports a driver_id that has no drivers row.
func isUnknownDriver(err error) bool {
	return isViolation(err, foreignKeyViolation, driverFKConstraint)
}

func isViolation(err error, code, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code && pgErr.ConstraintName == constraint
}

func (s *PgStore) Create(ctx context.Context, t *Trip) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO trips (
			id, rider_id, driver_id, status, payment_status, version,
			origin_lat, origin_lng, dest_lat, dest_lng, origin_cell,
			distance_km, surge_multiplier, estimated_fare, currency, requested_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12::numeric, $13::numeric, $14::numeric, $15, $16
		)`,
		string(t.ID), string(t.RiderID), toStringPtr(t.DriverID), string(t.Status), string(t.PaymentStatus), t.Version,
		t.Origin.Lat, t.Origin.Lng, t.Destination.Lat, t.Destination.Lng, t.OriginCell,
		t.DistanceKm.String(), t.SurgeMultiplier.String(), t.EstimatedFare.Amount.StringFixed(2), t.EstimatedFare.Currency, t.RequestedAt,
	)
	if isUniqueViolation(err, riderActiveConstraint) {
		return ErrActiveTrip
	}
	if err != nil {
		return err
	}
	rider := t.RiderID
	if err := appendTransition(ctx, tx, Transition{
		TripID: t.ID, From: StatusNone, To: t.Status, ActorType: ActorRider, ActorID: &rider, CreatedAt: t.RequestedAt,
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PgStore) Get(ctx context.Context, id types.ID) (*Trip, error) {
	return scanTrip(s.db.QueryRow(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = $1`, string(id)))
}

func (s *PgStore) AssignDriver(ctx context.Context, id, driverID types.ID) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE trips SET driver_id = $1
		WHERE id = $2 AND status = 'REQUESTED' AND driver_id IS NULL`,
		string(driverID), string(id),
	)
	if isUnknownDriver(err) {
		return false, driver.ErrNotFound
	}
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PgStore) Apply(ctx context.Context, c Change) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var finalFare, payment *string
	if c.FinalFare != nil {
		v := c.FinalFare.Amount.StringFixed(2)
		finalFare = &v
	}
	if c.PaymentStatus != nil {
		v := string(*c.PaymentStatus)
		payment = &v
	}
	tag, err := tx.Exec(ctx, `
		UPDATE trips
		SET status = $1::text,
			version = version + 1,
			driver_id = COALESCE($2::text, driver_id),
			accepted_at = CASE WHEN $1::text = 'ACCEPTED' THEN $3::timestamptz ELSE accepted_at END,
			started_at = CASE WHEN $1::text = 'IN_PROGRESS' THEN $3::timestamptz ELSE started_at END,
			completed_at = CASE WHEN $1::text = 'COMPLETED' THEN $3::timestamptz ELSE completed_at END,
			cancelled_at = CASE WHEN $1::text = 'CANCELLED' THEN $3::timestamptz ELSE cancelled_at END,
			final_fare = COALESCE($4::numeric, final_fare),
			payment_status = COALESCE($5::text, payment_status),
			cancel_reason = COALESCE($6::text, cancel_reason)
		WHERE id = $7 AND status = $8 AND version = $9`,
		string(c.To), toStringPtr(c.DriverID), c.At, finalFare, payment, c.CancelReason,
		string(c.TripID), string(c.From), c.Version,
	)
	if isUniqueViolation(err, driverActiveConstraint) {
		return ErrDriverUnavailable
	}
	if isUnknownDriver(err) {
		return driver.ErrNotFound
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return ErrConflict
	}

	if d := c.Driver; d != nil {
		var from *string
		if d.From != nil {
			v := string(*d.From)
			from = &v
		}
		inc := 0
		if d.IncrementTrips {
			inc = 1
		}
		tag, err := tx.Exec(ctx, `
			UPDATE drivers
			SET status = $1, total_trips = total_trips + $2, updated_at = $3
			WHERE id = $4 AND ($5::text IS NULL OR status = $5::text)`,
			string(d.To), inc, c.At, string(d.DriverID), from,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 && d.Required {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM drivers WHERE id = $1)`, string(d.DriverID)).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return driver.ErrNotFound
			}
			return ErrDriverUnavailable
		}
	}

	if err := appendTransition(ctx, tx, Transition{
		TripID: c.TripID, From: c.From, To: c.To, ActorType: c.ActorType, ActorID: c.ActorID, CreatedAt: c.At,
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func appendTransition(ctx context.Context, tx pgx.Tx, e Transition) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO trip_transitions (trip_id, from_status, to_status, actor_type, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		string(e.TripID), string(e.From), string(e.To), string(e.ActorType), toStringPtr(e.ActorID), e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append transition: %w", err)
	}
	return nil
}

func (s *PgStore) ActiveByRider(ctx context.Context, riderID types.ID) (*Trip, error) {
	return scanTrip(s.db.QueryRow(ctx, `
		SELECT `+tripColumns+` FROM trips
		WHERE rider_id = $1 AND status IN ('REQUESTED','ACCEPTED','IN_PROGRESS')
		ORDER BY requested_at DESC
		LIMIT 1`, string(riderID),
	))
}

func (s *PgStore) ActiveByDriver(ctx context.Context, driverID types.ID) (*Trip, error) {
	return scanTrip(s.db.QueryRow(ctx, `
		SELECT `+tripColumns+` FROM trips
		WHERE driver_id = $1 AND status IN ('REQUESTED','ACCEPTED','IN_PROGRESS')
		ORDER BY CASE status WHEN 'IN_PROGRESS' THEN 0 WHEN 'ACCEPTED' THEN 1 ELSE 2 END, requested_at DESC
		LIMIT 1`, string(driverID),
	))
}

func (s *PgStore) ListByRider(ctx context.Context, riderID types.ID, p Page) ([]*Trip, error) {
	p = p.normalize()
	rows, err := s.db.Query(ctx, `
		SELECT `+tripColumns+` FROM trips
		WHERE rider_id = $1
		ORDER BY requested_at DESC
		LIMIT $2 OFFSET $3`, string(riderID), p.Limit, p.Offset,
	)
	if err != nil {
		return nil, err
	}
	return collectTrips(rows)
}

func (s *PgStore) ListByDriver(ctx context.Context, driverID types.ID, p Page) ([]*Trip, error) {
	p = p.normalize()
	rows, err := s.db.Query(ctx, `
		SELECT `+tripColumns+` FROM trips
		WHERE driver_id = $1
		ORDER BY requested_at DESC
		LIMIT $2 OFFSET $3`, string(driverID), p.Limit, p.Offset,
	)
	if err != nil {
		return nil, err
	}
	return collectTrips(rows)
}

func (s *PgStore) ListUnmatched(ctx context.Context, limit int) ([]*Trip, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+tripColumns+` FROM trips
		WHERE status = 'REQUESTED' AND driver_id IS NULL
		ORDER BY requested_at
		LIMIT $1`, limit,
	)
	if err != nil {
		return nil, err
	}
	return collectTrips(rows)
}

func (s *PgStore) CountActiveRequests(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM trips WHERE status = 'REQUESTED'`).Scan(&n)
	return n, err
}

func (s *PgStore) CountActiveRequestsInCells(ctx context.Context, cells []string) (int64, error) {
	if len(cells) == 0 {
		return 0, nil
	}
	var n int64
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM trips t
		WHERE t.status = 'REQUESTED'
		  AND EXISTS (SELECT 1 FROM unnest($1::text[]) AS c(prefix) WHERE t.origin_cell LIKE c.prefix || '%')`,
		cells,
	).Scan(&n)
	return n, err
}

func (s *PgStore) History(ctx context.Context, id types.ID) ([]Transition, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, trip_id, from_status, to_status, actor_type, actor_id, created_at
		FROM trip_transitions
		WHERE trip_id = $1
		ORDER BY id`, string(id),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var e Transition
		var tripID, from, to, actorType string
		var actorID *string
		if err := rows.Scan(&e.ID, &tripID, &from, &to, &actorType, &actorID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.TripID = types.ID(tripID)
		e.From, e.To = Status(from), Status(to)
		e.ActorType = ActorType(actorType)
		if actorID != nil {
			a := types.ID(*actorID)
			e.ActorID = &a
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
