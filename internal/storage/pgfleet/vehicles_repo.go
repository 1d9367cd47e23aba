package pgfleet

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/CityHopper/fleetsync/internal/broker/messages"
	"github.com/CityHopper/fleetsync/internal/models"
)

// A vehicle reporting below this speed is considered stopped.
const movingThresholdKmh = 3.0

const vehicleColumns = `
  id, name, status, tracking_status,
  latitude, longitude, speed_kmh, heading,
  route_id, driver_id, last_position_at,
  created_at, updated_at`

func scanVehicle(row pgx.Row) (*models.Vehicle, error) {
	var v models.Vehicle
	var lat, lng *float64
	if err := row.Scan(
		&v.ID, &v.Name, &v.Status, &v.TrackingStatus,
		&lat, &lng, &v.SpeedKmh, &v.Heading,
		&v.RouteID, &v.DriverID, &v.LastPositionAt,
		&v.CreatedAt, &v.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if lat != nil && lng != nil {
		v.Position = &models.Position{Latitude: *lat, Longitude: *lng}
	}
	return &v, nil
}

func (s *Storage) FetchVehicles(ctx context.Context) ([]models.Vehicle, error) {
	rows, err := s.db.Query(ctx, `SELECT `+vehicleColumns+` FROM vehicles ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "select vehicles")
	}
	defer rows.Close()

	var out []models.Vehicle
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan vehicle")
		}
		out = append(out, *v)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) GetVehicle(ctx context.Context, id string) (*models.Vehicle, error) {
	v, err := scanVehicle(s.db.QueryRow(ctx, `SELECT `+vehicleColumns+` FROM vehicles WHERE id = $1`, id))
	if err != nil {
		return nil, errors.Wrap(err, "select vehicle")
	}
	return v, nil
}

// CreateVehicle registers a vehicle (admin surface). Emits an insert
// change event.
func (s *Storage) CreateVehicle(ctx context.Context, v models.Vehicle) (*models.Vehicle, error) {
	if v.ID == "" {
		return nil, errors.New("vehicle id is required")
	}
	if v.Status == "" {
		v.Status = models.StatusInactive
	}
	if v.TrackingStatus == "" {
		v.TrackingStatus = models.TrackingStopped
	}
	now := time.Now().UTC()

	row := s.db.QueryRow(ctx, `
INSERT INTO vehicles (id, name, status, tracking_status, route_id, driver_id, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
RETURNING `+vehicleColumns, v.ID, v.Name, v.Status, v.TrackingStatus, v.RouteID, v.DriverID, now)
	created, err := scanVehicle(row)
	if err != nil {
		return nil, errors.Wrap(err, "insert vehicle")
	}

	s.emitChange(ctx, models.TableVehicles, messages.OpInsert, nil, created)
	return created, nil
}

// UpdateVehicle replaces the admin-editable fields. Emits an update
// change event carrying before and after.
func (s *Storage) UpdateVehicle(ctx context.Context, v models.Vehicle) (*models.Vehicle, error) {
	before, err := s.GetVehicle(ctx, v.ID)
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRow(ctx, `
UPDATE vehicles
SET name = $2, status = $3, route_id = $4, driver_id = $5, updated_at = now()
WHERE id = $1
RETURNING `+vehicleColumns, v.ID, v.Name, v.Status, v.RouteID, v.DriverID)
	after, err := scanVehicle(row)
	if err != nil {
		return nil, errors.Wrap(err, "update vehicle")
	}

	s.emitChange(ctx, models.TableVehicles, messages.OpUpdate, before, after)
	return after, nil
}

// DeleteVehicle removes a vehicle and emits a delete change event with
// the prior record.
func (s *Storage) DeleteVehicle(ctx context.Context, id string) error {
	before, err := s.GetVehicle(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, `DELETE FROM vehicles WHERE id = $1`, id); err != nil {
		return errors.Wrap(err, "delete vehicle")
	}

	s.emitChange(ctx, models.TableVehicles, messages.OpDelete, before, nil)
	return nil
}

// UpdateVehiclePosition applies a location report from a position
// reporter. Tracking status is derived from the reported speed.
func (s *Storage) UpdateVehiclePosition(ctx context.Context, upd models.PositionUpdate) (*models.Vehicle, error) {
	if upd.VehicleID == "" {
		return nil, errors.New("vehicle id is required")
	}
	tracking := models.TrackingStopped
	if upd.SpeedKmh >= movingThresholdKmh {
		tracking = models.TrackingMoving
	}

	row := s.db.QueryRow(ctx, `
UPDATE vehicles
SET latitude = $2, longitude = $3, speed_kmh = $4, heading = $5,
    tracking_status = $6, last_position_at = now(), updated_at = now()
WHERE id = $1
RETURNING `+vehicleColumns, upd.VehicleID, upd.Latitude, upd.Longitude, upd.SpeedKmh, upd.Heading, tracking)
	after, err := scanVehicle(row)
	if err != nil {
		return nil, errors.Wrap(err, "update vehicle position")
	}

	s.emitChange(ctx, models.TableVehicles, messages.OpUpdate, nil, after)
	return after, nil
}

// ClearVehiclePosition drops the live position fields when a vehicle
// goes off duty, so riders do not see it parked at its last fix forever.
func (s *Storage) ClearVehiclePosition(ctx context.Context, vehicleID string) error {
	row := s.db.QueryRow(ctx, `
UPDATE vehicles
SET latitude = NULL, longitude = NULL, speed_kmh = NULL, heading = NULL,
    tracking_status = $2, last_position_at = now(), updated_at = now()
WHERE id = $1
RETURNING `+vehicleColumns, vehicleID, models.TrackingStopped)
	after, err := scanVehicle(row)
	if err != nil {
		return errors.Wrap(err, "clear vehicle position")
	}

	s.emitChange(ctx, models.TableVehicles, messages.OpUpdate, nil, after)
	return nil
}
