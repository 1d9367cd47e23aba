// Package ranking turns a synchronized vehicle snapshot plus a rider
// coordinate into a bounded, distance-ordered shortlist. It is a pure
// transformation: no network, no state of its own.
package ranking

import (
	"sort"
	"time"

	"github.com/CityHopper/fleetsync/internal/geo"
	"github.com/CityHopper/fleetsync/internal/models"
)

// DefaultMaxResults bounds the shortlist when the caller passes no limit.
const DefaultMaxResults = 3

type Result struct {
	VehicleID   string    `json:"vehicle_id"`
	VehicleName string    `json:"vehicle_name,omitempty"`
	DistanceKm  float64   `json:"distance_km"`
	ETA         string    `json:"eta"`
	SnapshotAt  time.Time `json:"snapshot_at"`
}

// Rank filters vehicles to active ones with a valid live position,
// computes distance and ETA to the rider, and returns at most
// maxResults entries ordered by ascending distance. Ties keep input
// order. An empty result is a valid answer, not an error.
//
// The rider coordinate must be a real fix; Rank never substitutes a
// fallback position, so callers without one must not invoke it.
func Rank(vehicles []models.Vehicle, rider models.Position, maxResults int) []Result {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	now := time.Now().UTC()

	out := make([]Result, 0, len(vehicles))
	for i := range vehicles {
		v := &vehicles[i]
		if v.Status != models.StatusActive || !v.HasFix() {
			continue
		}
		dist := geo.HaversineKm(rider.Latitude, rider.Longitude, v.Position.Latitude, v.Position.Longitude)
		speed := 0.0
		if v.SpeedKmh != nil {
			speed = *v.SpeedKmh
		}
		out = append(out, Result{
			VehicleID:   v.ID,
			VehicleName: v.Name,
			DistanceKm:  dist,
			ETA:         geo.ETALabel(dist, speed),
			SnapshotAt:  now,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DistanceKm < out[j].DistanceKm
	})

	if len(out) > maxResults {
		out = out[:maxResults]
	}
	return out
}
