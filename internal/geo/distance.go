// Package geo contains pure geographic computation helpers.
package geo

import (
	"math"

	"ridehail/internal/types"
)

const earthRadiusKm = 6371.0

// DistanceKm returns the great-circle (haversine) distance in kilometres
// between two points.
func DistanceKm(a, b types.Point) float64 {
	dLat := degreesToRadians(b.Lat - a.Lat)
	dLng := degreesToRadians(b.Lng - a.Lng)

	rLat1 := degreesToRadians(a.Lat)
	rLat2 := degreesToRadians(b.Lat)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusKm * c
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// SortByDistance is a stable insertion sort (candidate lists are short)
// over any slice whose elements expose a distance via the accessor.
func SortByDistance[T any](items []T, dist func(T) float64) {
	for i := 1; i < len(items); i++ {
		key := items[i]
		j := i - 1
		for j >= 0 && dist(items[j]) > dist(key) {
			items[j+1] = items[j]
			j--
		}
		items[j+1] = key
	}
}

// DegreesForKm converts a distance to an angular span usable as a bounding
// box half-width around lat. Longitude spans widen towards the poles.
func DegreesForKm(lat, km float64) (dLat, dLng float64) {
	dLat = km / earthRadiusKm * 180 / math.Pi
	cos := math.Cos(degreesToRadians(lat))
	if cos < 1e-6 {
		return dLat, 180
	}
	dLng = dLat / cos
	if dLng > 180 {
		dLng = 180
	}
	return dLat, dLng
}
