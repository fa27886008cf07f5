package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistanceMeters(t *testing.T) {
	tests := []struct {
		name      string
		lat1      float64
		lon1      float64
		lat2      float64
		lon2      float64
		want      float64
		tolerance float64
	}{
		{"identical points", 40.0, -73.0, 40.0, -73.0, 0, 0},
		{"one degree of latitude", 0, 0, 1, 0, 111_194.93, 1},
		{"one degree of longitude at equator", 0, 0, 0, 1, 111_194.93, 1},
		{"antipodal points", 0, 0, 0, 180, math.Pi * EarthRadiusMeters, 1},
		{"pole to pole", 90, 0, -90, 0, math.Pi * EarthRadiusMeters, 1},
		{"london to paris", 51.5074, -0.1278, 48.8566, 2.3522, 343_556, 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DistanceMeters(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			assert.InDelta(t, tt.want, got, tt.tolerance)
			assert.False(t, math.IsNaN(got))
		})
	}
}

func TestDistanceMeters_Symmetric(t *testing.T) {
	a := DistanceMeters(40.0, -73.0, 40.0045, -73.0)
	b := DistanceMeters(40.0045, -73.0, 40.0, -73.0)
	assert.InDelta(t, a, b, 1e-9)
}

func TestWithin_BoundaryInclusive(t *testing.T) {
	originLat, originLon := 40.0, -73.0
	lat := 40.0 + 100.0/111_194.93 // ~100 m north
	d := DistanceMeters(originLat, originLon, lat, originLon)

	assert.True(t, Within(originLat, originLon, d, lat, originLon), "exactly on the boundary")
	assert.False(t, Within(originLat, originLon, d-0.01, lat, originLon))
	assert.True(t, Within(originLat, originLon, 100, originLat, originLon))
}

func TestWithin_FiveHundredMetresOutside(t *testing.T) {
	lat := 40.0 + 500.0/111_194.93
	assert.False(t, Within(40.0, -73.0, 100, lat, -73.0))
}

func TestValidCoordinate(t *testing.T) {
	assert.True(t, ValidCoordinate(90, 180))
	assert.True(t, ValidCoordinate(-90, -180))
	assert.False(t, ValidCoordinate(90.0001, 0))
	assert.False(t, ValidCoordinate(0, -180.5))
	assert.False(t, ValidCoordinate(math.NaN(), 0))
}
