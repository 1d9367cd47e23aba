// Package geo contains pure geographic computation helpers.
package geo

import (
	"fmt"
	"math"
)

const earthRadiusKm = 6371.0

// DefaultSpeedKmh is the assumed speed used for ETA estimation when a
// vehicle has no usable live speed.
const DefaultSpeedKmh = 25.0

// HaversineKm returns the great-circle distance in kilometres between
// two points specified in decimal degrees.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := degreesToRadians(lat2 - lat1)
	dLng := degreesToRadians(lng2 - lng1)

	rLat1 := degreesToRadians(lat1)
	rLat2 := degreesToRadians(lat2)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

// ETALabel renders the estimated travel time for distanceKm at
// speedKmh as a human-readable label: "<1 min" below one minute,
// "N mins" below an hour, "Hh Mm" otherwise. A non-positive speed
// falls back to DefaultSpeedKmh.
func ETALabel(distanceKm, speedKmh float64) string {
	if speedKmh <= 0 {
		speedKmh = DefaultSpeedKmh
	}
	minutes := distanceKm / speedKmh * 60

	if minutes < 1 {
		return "<1 min"
	}
	m := int(math.Round(minutes))
	if m < 60 {
		return fmt.Sprintf("%d mins", m)
	}
	return fmt.Sprintf("%dh %dm", m/60, m%60)
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}
