package ranking

import (
	"math"
	"testing"

	"github.com/CityHopper/fleetsync/internal/models"
	"github.com/stretchr/testify/require"
)

// Rider sits at the equator; one degree of longitude is ~111.19 km, so
// vehicles can be planted at precise distances by offsetting longitude.
var rider = models.Position{Latitude: 0, Longitude: 0}

func vehicleAtKm(id string, km float64) models.Vehicle {
	return models.Vehicle{
		ID:       id,
		Status:   models.StatusActive,
		Position: &models.Position{Latitude: 0, Longitude: km / 111.19},
	}
}

func TestRank_BoundAndOrder(t *testing.T) {
	in := []models.Vehicle{
		vehicleAtKm("a", 3),
		vehicleAtKm("b", 1),
		vehicleAtKm("c", 4),
		vehicleAtKm("d", 1.5),
		vehicleAtKm("e", 2),
	}

	out := Rank(in, rider, 3)
	require.Len(t, out, 3)
	require.Equal(t, "b", out[0].VehicleID)
	require.Equal(t, "d", out[1].VehicleID)
	require.Equal(t, "e", out[2].VehicleID)
	require.InDelta(t, 1.0, out[0].DistanceKm, 0.05)
	require.InDelta(t, 1.5, out[1].DistanceKm, 0.05)
	require.InDelta(t, 2.0, out[2].DistanceKm, 0.05)
}

func TestRank_FiltersInactiveAndInvalid(t *testing.T) {
	closest := vehicleAtKm("inactive", 0.1)
	closest.Status = models.StatusInactive

	maintenance := vehicleAtKm("maintenance", 0.2)
	maintenance.Status = models.StatusMaintenance

	noFix := models.Vehicle{ID: "nofix", Status: models.StatusActive}

	nan := models.Vehicle{
		ID:       "nan",
		Status:   models.StatusActive,
		Position: &models.Position{Latitude: math.NaN(), Longitude: 0},
	}

	outOfRange := models.Vehicle{
		ID:       "range",
		Status:   models.StatusActive,
		Position: &models.Position{Latitude: 91, Longitude: 0},
	}

	ok := vehicleAtKm("ok", 5)

	out := Rank([]models.Vehicle{closest, maintenance, noFix, nan, outOfRange, ok}, rider, 10)
	require.Len(t, out, 1)
	require.Equal(t, "ok", out[0].VehicleID)
}

func TestRank_MovingWithoutPositionIsNoLocation(t *testing.T) {
	v := models.Vehicle{ID: "ghost", Status: models.StatusActive, TrackingStatus: models.TrackingMoving}
	out := Rank([]models.Vehicle{v}, rider, 3)
	require.Empty(t, out)
}

func TestRank_EmptyInput(t *testing.T) {
	require.Empty(t, Rank(nil, rider, 3))
	require.Empty(t, Rank([]models.Vehicle{}, rider, 3))
}

func TestRank_StableOnTies(t *testing.T) {
	a := vehicleAtKm("first", 2)
	b := vehicleAtKm("second", 2)
	out := Rank([]models.Vehicle{a, b}, rider, 5)
	require.Len(t, out, 2)
	require.Equal(t, "first", out[0].VehicleID)
	require.Equal(t, "second", out[1].VehicleID)
}

func TestRank_DefaultMaxResults(t *testing.T) {
	in := []models.Vehicle{
		vehicleAtKm("a", 1),
		vehicleAtKm("b", 2),
		vehicleAtKm("c", 3),
		vehicleAtKm("d", 4),
	}
	out := Rank(in, rider, 0)
	require.Len(t, out, DefaultMaxResults)
}

func TestRank_UsesVehicleSpeedForETA(t *testing.T) {
	fast := vehicleAtKm("fast", 10)
	speed := 60.0
	fast.SpeedKmh = &speed

	slow := vehicleAtKm("slow", 10)

	out := Rank([]models.Vehicle{fast, slow}, rider, 5)
	require.Len(t, out, 2)
	require.Equal(t, "10 mins", out[0].ETA) // 10 km at 60 km/h
	require.Equal(t, "24 mins", out[1].ETA) // 10 km at assumed 25 km/h
}
