package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CityHopper/fleetsync/config"
	"github.com/CityHopper/fleetsync/internal/broker/kafka"
	"github.com/CityHopper/fleetsync/internal/cache/rediscache"
	"github.com/CityHopper/fleetsync/internal/services/fleetsync"
	"github.com/CityHopper/fleetsync/internal/storage/pgfleet"
)

type fleetAPIApp struct {
	ctx     context.Context
	cancel  context.CancelFunc
	opts    fleetAPIOpts
	sync    *fleetsync.Synchronizer
	cache   *rediscache.RedisCache
	closeDB func()
}

func mustBootstrapFleetAPI() *fleetAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	httpAddr := cfg.Fleet.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.Fleet.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "fleet-api"
	}

	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
	st := mustOpenPostgresWithRetry(connString, 60*time.Second)

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	factory := func(table string) fleetsync.FeedConsumer {
		return kafka.NewConsumer(brokers, kafka.TopicForTable(table), consumerGroup)
	}

	sync := fleetsync.New(st, factory).WithSettings(
		time.Duration(cfg.Fleet.SyncReconcileIntervalSeconds)*time.Second,
		time.Duration(cfg.Fleet.SyncPollTimeoutSeconds)*time.Second,
	)

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &fleetAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: fleetAPIOpts{
			httpAddr:         httpAddr,
			swaggerPath:      swaggerPath,
			nearbyCacheTTL:   time.Duration(cfg.Fleet.NearbyCacheTTLSeconds) * time.Second,
			nearbyMaxResults: cfg.Fleet.NearbyMaxResults,
		},
		sync:    sync,
		cache:   rc,
		closeDB: st.Close,
	}
}

// mustOpenPostgresWithRetry keeps dialing until postgres accepts;
// compose environments bring the database up after the service.
func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgfleet.Storage {
	// The store publishes change events for its own mutations; the API
	// binary only reads, so no producer is wired here.
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgfleet.New(connString, nil)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *fleetAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *fleetAPIApp) Run() error {
	return runFleetAPI(a.ctx, a.opts, a.sync, a.cache)
}
