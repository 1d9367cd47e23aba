package pgfleet

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/CityHopper/fleetsync/internal/broker/messages"
	"github.com/CityHopper/fleetsync/internal/models"
)

func (s *Storage) FetchRoutes(ctx context.Context) ([]models.Route, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, name, active, created_at, updated_at
FROM routes
ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "select routes")
	}
	defer rows.Close()

	var out []models.Route
	for rows.Next() {
		var r models.Route
		if err := rows.Scan(&r.ID, &r.Name, &r.Active, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "scan route")
		}
		out = append(out, r)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) FetchDrivers(ctx context.Context) ([]models.Driver, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, name, vehicle_id, created_at, updated_at
FROM drivers
ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "select drivers")
	}
	defer rows.Close()

	var out []models.Driver
	for rows.Next() {
		var d models.Driver
		if err := rows.Scan(&d.ID, &d.Name, &d.VehicleID, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "scan driver")
		}
		out = append(out, d)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) UpsertRoute(ctx context.Context, r models.Route) (*models.Route, error) {
	if r.ID == "" {
		return nil, errors.New("route id is required")
	}
	now := time.Now().UTC()

	var out models.Route
	var inserted bool
	err := s.db.QueryRow(ctx, `
INSERT INTO routes (id, name, active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$4)
ON CONFLICT (id)
DO UPDATE SET name = EXCLUDED.name, active = EXCLUDED.active, updated_at = now()
RETURNING id, name, active, created_at, updated_at, (created_at = updated_at)
`, r.ID, r.Name, r.Active, now).Scan(&out.ID, &out.Name, &out.Active, &out.CreatedAt, &out.UpdatedAt, &inserted)
	if err != nil {
		return nil, errors.Wrap(err, "upsert route")
	}

	op := messages.OpUpdate
	if inserted {
		op = messages.OpInsert
	}
	s.emitChange(ctx, models.TableRoutes, op, nil, &out)
	return &out, nil
}

func (s *Storage) UpsertDriver(ctx context.Context, d models.Driver) (*models.Driver, error) {
	if d.ID == "" {
		return nil, errors.New("driver id is required")
	}
	now := time.Now().UTC()

	var out models.Driver
	var inserted bool
	err := s.db.QueryRow(ctx, `
INSERT INTO drivers (id, name, vehicle_id, created_at, updated_at)
VALUES ($1,$2,$3,$4,$4)
ON CONFLICT (id)
DO UPDATE SET name = EXCLUDED.name, vehicle_id = EXCLUDED.vehicle_id, updated_at = now()
RETURNING id, name, vehicle_id, created_at, updated_at, (created_at = updated_at)
`, d.ID, d.Name, d.VehicleID, now).Scan(&out.ID, &out.Name, &out.VehicleID, &out.CreatedAt, &out.UpdatedAt, &inserted)
	if err != nil {
		return nil, errors.Wrap(err, "upsert driver")
	}

	op := messages.OpUpdate
	if inserted {
		op = messages.OpInsert
	}
	s.emitChange(ctx, models.TableDrivers, op, nil, &out)
	return &out, nil
}
