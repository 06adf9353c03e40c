// README: Candidate selection policies for matching.
package matching

import (
	"ridehail/internal/config"
	"ridehail/internal/geo"
	"ridehail/internal/modules/location"
)

// Selector picks one driver from the candidates the cache returned.
type Selector interface {
	Select(cands []location.Record) (location.Record, bool)
}

// FirstCandidate takes the first record of the cache scan.
type FirstCandidate struct{}

func (FirstCandidate) Select(cands []location.Record) (location.Record, bool) {
	if len(cands) == 0 {
		return location.Record{}, false
	}
	return cands[0], true
}

// NearestCandidate takes the closest record; ties keep scan order.
type NearestCandidate struct{}

func (NearestCandidate) Select(cands []location.Record) (location.Record, bool) {
	if len(cands) == 0 {
		return location.Record{}, false
	}
	sorted := make([]location.Record, len(cands))
	copy(sorted, cands)
	geo.SortByDistance(sorted, func(r location.Record) float64 { return r.DistanceKm })
	return sorted[0], true
}

func SelectorFor(policy string) Selector {
	if policy == config.PolicyNearest {
		return NearestCandidate{}
	}
	return FirstCandidate{}
}

const defaultMaxCandidates = 10
