package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/CityHopper/fleetsync/config"
	"github.com/CityHopper/fleetsync/internal/broker/kafka"
	"github.com/CityHopper/fleetsync/internal/cache/rediscache"
	"github.com/CityHopper/fleetsync/internal/positioning"
	"github.com/CityHopper/fleetsync/internal/positioning/sim"
	"github.com/CityHopper/fleetsync/internal/services/reporter"
	"github.com/CityHopper/fleetsync/internal/storage/pgfleet"
)

type reporterFactories struct {
	newStorage     func(cfg *config.Config) (store reporter.Mutator, closeFn func(), err error)
	newProvider    func(cfg *config.Config) positioning.Provider
	newRateLimiter func(cfg *config.Config) reporter.RateLimiter
}

func defaultReporterFactories() reporterFactories {
	return reporterFactories{
		newStorage: func(cfg *config.Config) (reporter.Mutator, func(), error) {
			sslMode := cfg.Database.SSLMode
			if sslMode == "" {
				sslMode = "disable"
			}
			connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)

			// This binary mutates vehicle positions, so the store gets
			// a producer to emit change-feed events for the API side.
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			producer := kafka.NewProducer(brokers)

			st, err := pgfleet.New(connString, producer)
			if err != nil {
				return nil, nil, err
			}
			return st, func() {
				st.Close()
				_ = producer.Close()
			}, nil
		},
		newProvider: func(cfg *config.Config) positioning.Provider {
			p := sim.New(cfg.Fleet.ReporterVehicleID)
			if cfg.Fleet.ReporterSimulatedSpeedKmh > 0 {
				p.SpeedKmh = cfg.Fleet.ReporterSimulatedSpeedKmh
			}
			return p
		},
		newRateLimiter: func(cfg *config.Config) reporter.RateLimiter {
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.NewRateLimiter(redisAddr)
		},
	}
}

func RunFleetReporter(ctx context.Context, cfg *config.Config, opts reporterHTTPOpts, f reporterFactories) error {
	store, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	minInterval := time.Duration(cfg.Fleet.ReporterMinIntervalSeconds) * time.Second
	rep := reporter.New(store, f.newProvider(cfg), f.newRateLimiter(cfg)).
		WithSettings(minInterval, cfg.Fleet.ReporterMinDistanceMeters, int64(cfg.Fleet.ReporterRateLimitPerMinute))

	if cfg.Fleet.ReporterAutostart {
		vid := cfg.Fleet.ReporterVehicleID
		if vid == "" {
			slog.Warn("reporter autostart set but reporter_vehicle_id is empty")
		} else if err := rep.Start(ctx, vid); err != nil {
			// Denied permission or a broken provider leaves the ops
			// server up so the operator can see and retry via /start.
			if errors.Is(err, reporter.ErrPermissionDenied) {
				slog.Warn("positioning permission denied, reporting disabled", "vehicle_id", vid)
			} else {
				slog.Error("start position reporting", "vehicle_id", vid, "error", err.Error())
			}
		}
	}
	defer rep.Stop(context.Background())

	opts.rep = rep
	opts.cfg = cfg
	return runReporterHTTPServer(ctx, opts)
}
