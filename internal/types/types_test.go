package types

import (
	"errors"
	"math"
	"testing"
)

func TestPointValidate(t *testing.T) {
	cases := []struct {
		name string
		p    Point
		ok   bool
	}{
		{"origin", Point{}, true},
		{"corners", Point{Lat: -90, Lng: 180}, true},
		{"latitude too high", Point{Lat: 90.5}, false},
		{"longitude too low", Point{Lng: -180.1}, false},
		{"NaN latitude", Point{Lat: math.NaN()}, false},
		{"NaN longitude", Point{Lng: math.NaN()}, false},
		{"infinite latitude", Point{Lat: math.Inf(1)}, false},
		{"infinite longitude", Point{Lng: math.Inf(-1)}, false},
	}
	for _, tc := range cases {
		err := tc.p.Validate()
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && !errors.Is(err, ErrValidation) {
			t.Errorf("%s: expected validation error, got %v", tc.name, err)
		}
	}
}
