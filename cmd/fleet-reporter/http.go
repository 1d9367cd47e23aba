package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/CityHopper/fleetsync/config"
	"github.com/CityHopper/fleetsync/internal/services/reporter"
)

type reporterHTTPOpts struct {
	httpAddr    string
	swaggerPath string
	onListen    func(httpAddr string)

	rep *reporter.Reporter
	cfg *config.Config
}

func runReporterHTTPServer(ctx context.Context, opts reporterHTTPOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8081"
	}
	if opts.swaggerPath == "" {
		return fmt.Errorf("reporter swaggerPath env var is required")
	}
	if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
		return fmt.Errorf("reporter swagger file not found: %s", opts.swaggerPath)
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.rep == nil {
			_, _ = w.Write([]byte(`{"error":"reporter not wired"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(opts.rep.Stats())
	})

	r.Post("/start", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.rep == nil {
			_, _ = w.Write([]byte(`{"error":"reporter not wired"}`))
			return
		}
		var req struct {
			VehicleID string `json:"vehicleId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.VehicleID == "" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"vehicleId is required"}`))
			return
		}
		if err := opts.rep.Start(r.Context(), req.VehicleID); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, reporter.ErrPermissionDenied) {
				status = http.StatusForbidden
			}
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		_, _ = w.Write([]byte(`{"started":true}`))
	})

	r.Post("/stop", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.rep == nil {
			_, _ = w.Write([]byte(`{"error":"reporter not wired"}`))
			return
		}
		opts.rep.Stop(r.Context())
		_, _ = w.Write([]byte(`{"stopped":true}`))
	})

	r.Get("/config", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.cfg == nil {
			_, _ = w.Write([]byte(`{"error":"config not wired"}`))
			return
		}
		// Only operational reporter settings; no credentials.
		out := map[string]any{
			"vehicleId":          opts.cfg.Fleet.ReporterVehicleID,
			"autostart":          opts.cfg.Fleet.ReporterAutostart,
			"minIntervalSeconds": opts.cfg.Fleet.ReporterMinIntervalSeconds,
			"minDistanceMeters":  opts.cfg.Fleet.ReporterMinDistanceMeters,
			"rateLimitPerMinute": opts.cfg.Fleet.ReporterRateLimitPerMinute,
			"simulatedSpeedKmh":  opts.cfg.Fleet.ReporterSimulatedSpeedKmh,
		}
		_ = json.NewEncoder(w).Encode(out)
	})

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
