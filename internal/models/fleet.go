package models

import (
	"math"
	"time"
)

// Operational status of a vehicle (coarse, admin-controlled).
const (
	StatusActive      = "active"
	StatusInactive    = "inactive"
	StatusMaintenance = "maintenance"
)

// Tracking status (fine-grained, reported live). Informational only:
// it never gates ranking eligibility, Status does.
const (
	TrackingMoving  = "moving"
	TrackingStopped = "stopped"
	TrackingAtStop  = "at_stop"
)

// Watched tables of the remote store.
const (
	TableVehicles = "vehicles"
	TableRoutes   = "routes"
	TableDrivers  = "drivers"
)

type Position struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid reports whether both coordinates are finite and inside the
// latitude/longitude ranges.
func (p Position) Valid() bool {
	if math.IsNaN(p.Latitude) || math.IsInf(p.Latitude, 0) {
		return false
	}
	if math.IsNaN(p.Longitude) || math.IsInf(p.Longitude, 0) {
		return false
	}
	return p.Latitude >= -90 && p.Latitude <= 90 && p.Longitude >= -180 && p.Longitude <= 180
}

type Vehicle struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	Position *Position `json:"position,omitempty"`
	SpeedKmh *float64  `json:"speed_kmh,omitempty"`
	Heading  *float64  `json:"heading,omitempty"`

	Status         string `json:"status"`
	TrackingStatus string `json:"tracking_status"`

	RouteID  *string `json:"route_id,omitempty"`
	DriverID *string `json:"driver_id,omitempty"`

	LastPositionAt *time.Time `json:"last_position_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasFix reports whether the vehicle has a usable live position.
// A vehicle marked moving but missing its position is treated as
// having no location, never as an error.
func (v *Vehicle) HasFix() bool {
	return v.Position != nil && v.Position.Valid()
}

type Route struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Driver struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	VehicleID *string `json:"vehicle_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PositionUpdate is the mutation issued by the position reporter.
type PositionUpdate struct {
	VehicleID string
	Latitude  float64
	Longitude float64
	AccuracyM float64
	SpeedKmh  float64
	Heading   *float64
}
