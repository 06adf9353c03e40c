// README: Driver availability aggregate referenced by dispatch.
package driver

import (
	"fmt"
	"time"

	"ridehail/internal/types"
)

type Status string

const (
	StatusOffline Status = "OFFLINE"
	StatusOnline  Status = "ONLINE"
	StatusBusy    Status = "BUSY"
)

func (s Status) Valid() bool {
	switch s {
	case StatusOffline, StatusOnline, StatusBusy:
		return true
	}
	return false
}

type Driver struct {
	ID         types.ID
	Status     Status
	TotalTrips int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

var (
	ErrNotFound      = fmt.Errorf("driver not found: %w", types.ErrNotFound)
	ErrBusy          = fmt.Errorf("driver is on a trip: %w", types.ErrConflict)
	ErrNotAvailable  = fmt.Errorf("driver is not online: %w", types.ErrConflict)
	ErrStatusChanged = fmt.Errorf("driver status changed concurrently: %w", types.ErrConflict)
	ErrBadRequest    = fmt.Errorf("bad driver request: %w", types.ErrValidation)
)
