package geo

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHaversineKm_OneDegreeAtEquator(t *testing.T) {
	d := HaversineKm(0, 0, 0, 1)
	require.InDelta(t, 111.19, d, 0.5)
}

func TestHaversineKm_IdenticalPoints(t *testing.T) {
	require.Zero(t, HaversineKm(52.52, 13.405, 52.52, 13.405))
}

func TestHaversineKm_Symmetric(t *testing.T) {
	a := HaversineKm(59.437, 24.7536, 59.3293, 18.0686)
	b := HaversineKm(59.3293, 18.0686, 59.437, 24.7536)
	require.InDelta(t, a, b, 1e-9)
	// Tallinn to Stockholm is roughly 380 km.
	require.InDelta(t, 380, a, 15)
}

func TestETALabel_UnderOneMinute(t *testing.T) {
	require.Equal(t, "<1 min", ETALabel(0.1, DefaultSpeedKmh))
}

func TestETALabel_Minutes(t *testing.T) {
	require.Equal(t, "12 mins", ETALabel(5, DefaultSpeedKmh))
	require.Equal(t, "30 mins", ETALabel(12.5, DefaultSpeedKmh))
}

func TestETALabel_HourBoundary(t *testing.T) {
	// 25 km at 25 km/h is exactly 60 minutes and must roll over to hours.
	require.Equal(t, "1h 0m", ETALabel(25, 25))
	require.Equal(t, "1h 30m", ETALabel(37.5, 25))
	require.Equal(t, "2h 24m", ETALabel(60, 25))
}

func TestETALabel_FallsBackToDefaultSpeed(t *testing.T) {
	require.Equal(t, ETALabel(10, DefaultSpeedKmh), ETALabel(10, 0))
	require.Equal(t, ETALabel(10, DefaultSpeedKmh), ETALabel(10, -3))
}

func TestETALabel_UsesVehicleSpeed(t *testing.T) {
	require.Equal(t, "10 mins", ETALabel(10, 60))
}
