package geo

import (
	"strings"

	"github.com/mmcloughlin/geohash"

	"ridehail/internal/types"
)

// StoredCellPrecision is the geohash length persisted with trip origins.
// Shorter cells are matched by prefix.
const StoredCellPrecision = 9

func Cell(p types.Point, precision uint) string {
	return geohash.EncodeWithPrecision(p.Lat, p.Lng, precision)
}

// Neighborhood returns the cell containing p followed by its eight neighbours.
func Neighborhood(p types.Point, precision uint) []string {
	center := Cell(p, precision)
	return append([]string{center}, geohash.Neighbors(center)...)
}

// InCells reports whether p falls in any of cells. Cells may differ in length.
func InCells(p types.Point, cells []string) bool {
	if len(cells) == 0 {
		return false
	}
	full := Cell(p, StoredCellPrecision)
	for _, c := range cells {
		if strings.HasPrefix(full, c) {
			return true
		}
	}
	return false
}

// CellsBounds returns the smallest box covering all cells.
func CellsBounds(cells []string) (minLat, maxLat, minLng, maxLng float64) {
	minLat, minLng = 90, 180
	maxLat, maxLng = -90, -180
	for _, c := range cells {
		box := geohash.BoundingBox(c)
		if box.MinLat < minLat {
			minLat = box.MinLat
		}
		if box.MaxLat > maxLat {
			maxLat = box.MaxLat
		}
		if box.MinLng < minLng {
			minLng = box.MinLng
		}
		if box.MaxLng > maxLng {
			maxLng = box.MaxLng
		}
	}
	return minLat, maxLat, minLng, maxLng
}
