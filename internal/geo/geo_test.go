package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoundsForRadiusContainsCircle(t *testing.T) {
	lat, lon := -36.8485, 174.7633
	box := BoundsForRadius(lat, lon, 1000)

	for bearing := 0.0; bearing < 360; bearing += 15 {
		plat, plon := destinationPoint(lat, lon, 1000, bearing)
		assert.GreaterOrEqualf(t, plat, box.MinLat, "bearing %v lat below box", bearing)
		assert.LessOrEqualf(t, plat, box.MaxLat, "bearing %v lat above box", bearing)
		assert.GreaterOrEqualf(t, plon, box.MinLon, "bearing %v lon below box", bearing)
		assert.LessOrEqualf(t, plon, box.MaxLon, "bearing %v lon above box", bearing)
	}
}

func TestHaversineMetersKnownDistance(t *testing.T) {
	// Auckland CBD area, ~1.4km apart
	d := HaversineMeters(-36.8485, 174.7633, -36.8600, 174.7700)
	require.Greater(t, d, 1000.0)
	require.Less(t, d, 1800.0)
}

func TestSquaredDeltaOrdersByNearness(t *testing.T) {
	origin := [2]float64{-36.8485, 174.7633}
	near := SquaredDelta(origin[0], origin[1], -36.8486, 174.7634)
	far := SquaredDelta(origin[0], origin[1], -36.9000, 174.9000)
	assert.Less(t, near, far)
	assert.False(t, math.IsNaN(near))
}
