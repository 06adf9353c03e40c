// README: Fare quote returned by the pricing engine.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"ridehail/internal/types"
)

type Quote struct {
	EstimatedFare   types.Money
	DistanceKm      decimal.Decimal
	BaseFare        decimal.Decimal
	PerKmRate       decimal.Decimal
	SurgeMultiplier decimal.Decimal
}

var ErrBadRequest = fmt.Errorf("bad pricing request: %w", types.ErrValidation)

var (
	one       = decimal.NewFromInt(1)
	surgeStep = decimal.RequireFromString("0.5")
)

// Fare is round2((base + distanceKm*perKm) * surge), half-up.
func Fare(base, perKm, distanceKm, surge decimal.Decimal) decimal.Decimal {
	return base.Add(distanceKm.Mul(perKm)).Mul(surge).Round(2)
}

// Multiplier is min(1 + 0.5*active/max(online,1), max) rounded to 2 dp.
func Multiplier(active, online int64, max decimal.Decimal) decimal.Decimal {
	if active <= 0 {
		return one.Round(2)
	}
	if online < 1 {
		online = 1
	}
	ratio := decimal.NewFromInt(active).Div(decimal.NewFromInt(online))
	m := one.Add(surgeStep.Mul(ratio))
	if m.GreaterThan(max) {
		m = max
	}
	return m.Round(2)
}
