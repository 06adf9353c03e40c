// README: Demand/supply providers feeding the surge calculator.
package pricing

import (
	"context"
	"fmt"

	"ridehail/internal/geo"
	"ridehail/internal/types"
)

// Provider reports demand (open trip requests) and supply (online drivers)
// relevant to a pickup point.
type Provider interface {
	Counts(ctx context.Context, p types.Point) (active, online int64, err error)
}

type ActiveRequestCounter interface {
	CountActiveRequests(ctx context.Context) (int64, error)
}

type OnlineDriverCounter interface {
	CountOnline(ctx context.Context) (int64, error)
}

// GlobalProvider counts platform-wide, ignoring the pickup point.
type GlobalProvider struct {
	Requests ActiveRequestCounter
	Drivers  OnlineDriverCounter
}

func (g GlobalProvider) Counts(ctx context.Context, _ types.Point) (int64, int64, error) {
	active, err := g.Requests.CountActiveRequests(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("count active requests: %w", err)
	}
	online, err := g.Drivers.CountOnline(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("count online drivers: %w", err)
	}
	return active, online, nil
}

type CellRequestCounter interface {
	CountActiveRequestsInCells(ctx context.Context, cells []string) (int64, error)
}

type CellDriverCounter interface {
	CountOnlineInCells(ctx context.Context, cells []string) (int64, error)
}

// CellProvider counts inside the pickup's geohash cell and its neighbours.
type CellProvider struct {
	Requests  CellRequestCounter
	Drivers   CellDriverCounter
	Precision uint
}

func (c CellProvider) Counts(ctx context.Context, p types.Point) (int64, int64, error) {
	cells := geo.Neighborhood(p, c.Precision)
	active, err := c.Requests.CountActiveRequestsInCells(ctx, cells)
	if err != nil {
		return 0, 0, fmt.Errorf("count active requests in cells: %w", err)
	}
	online, err := c.Drivers.CountOnlineInCells(ctx, cells)
	if err != nil {
		return 0, 0, fmt.Errorf("count online drivers in cells: %w", err)
	}
	return active, online, nil
}
