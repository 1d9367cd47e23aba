package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/CityHopper/fleetsync/internal/api/fleet_api"
	"github.com/CityHopper/fleetsync/internal/cache"
	"github.com/CityHopper/fleetsync/internal/services/fleetsync"
)

type fleetAPIOpts struct {
	httpAddr    string
	swaggerPath string
	onListen    func(httpAddr string)

	nearbyCacheTTL   time.Duration
	nearbyMaxResults int
}

// fleetSynchronizer is what the HTTP layer needs from the
// synchronizer; the concrete type is *fleetsync.Synchronizer.
type fleetSynchronizer interface {
	fleet_api.FleetSource
	Start(ctx context.Context)
	Stop()
}

func runFleetAPI(ctx context.Context, opts fleetAPIOpts, sync fleetSynchronizer, nearbyCache cache.BytesCache) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8080"
	}
	if opts.swaggerPath == "" {
		return fmt.Errorf("swaggerPath env var is required")
	}
	if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
		return fmt.Errorf("swagger file not found: %s", opts.swaggerPath)
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	sync.Start(ctx)
	defer sync.Stop()

	api := fleet_api.New(sync, nearbyCache, opts.nearbyCacheTTL, opts.nearbyMaxResults)

	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		// Ready as soon as the synchronizer left the disconnected
		// state; degraded still serves (stale) reads.
		if h := sync.Health(); h == fleetsync.HealthDisconnected {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"not ready"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	api.Routes(r)

	r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		http.ServeFile(w, r, opts.swaggerPath)
	})
	swaggerURL := "/swagger.json"
	if fi, err := os.Stat(opts.swaggerPath); err == nil {
		swaggerURL = fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
	}
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))

	srv := &http.Server{Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	err = srv.Serve(lis)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
