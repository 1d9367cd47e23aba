// Package fleet_api exposes the synchronized fleet view over HTTP:
// vehicle listings, the proximity shortlist, and operational handles.
package fleet_api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/CityHopper/fleetsync/internal/cache"
	"github.com/CityHopper/fleetsync/internal/models"
	"github.com/CityHopper/fleetsync/internal/ranking"
	"github.com/CityHopper/fleetsync/internal/services/fleetsync"
)

// FleetSource is the synchronizer surface the API reads from. Reads
// are always served from the in-memory snapshot, never the store.
type FleetSource interface {
	Snapshot() fleetsync.Snapshot
	Health() fleetsync.Health
	Stats() fleetsync.Stats
	Trigger()
}

type FleetAPI struct {
	src        FleetSource
	cache      cache.BytesCache
	cacheTTL   time.Duration
	maxResults int
}

// New wires the API. cache may be nil (nearby responses are then
// recomputed per request). maxResults <= 0 falls back to the ranking
// default.
func New(src FleetSource, c cache.BytesCache, cacheTTL time.Duration, maxResults int) *FleetAPI {
	if cacheTTL <= 0 {
		cacheTTL = 3 * time.Second
	}
	return &FleetAPI{src: src, cache: c, cacheTTL: cacheTTL, maxResults: maxResults}
}

func (a *FleetAPI) Routes(r chi.Router) {
	r.Get("/vehicles", a.listVehicles)
	r.Get("/vehicles/{vehicleID}", a.getVehicle)
	r.Get("/nearby", a.nearby)
	r.Get("/health", a.health)
	r.Post("/reconcile", a.reconcile)
}

func (a *FleetAPI) listVehicles(w http.ResponseWriter, r *http.Request) {
	snap := a.src.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"vehicles": snap.Vehicles,
		"count":    len(snap.Vehicles),
		"takenAt":  snap.TakenAt,
	})
}

func (a *FleetAPI) getVehicle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "vehicleID")
	snap := a.src.Snapshot()
	for i := range snap.Vehicles {
		if snap.Vehicles[i].ID == id {
			writeJSON(w, http.StatusOK, snap.Vehicles[i])
			return
		}
	}
	writeError(w, http.StatusNotFound, "vehicle not found")
}

// nearby ranks active vehicles around the rider coordinate. A missing
// or out-of-range coordinate is a client error; the rider position is
// never substituted with a default.
func (a *FleetAPI) nearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "lat query param is required and must be a number")
		return
	}
	lon, err := strconv.ParseFloat(q.Get("lon"), 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "lon query param is required and must be a number")
		return
	}
	rider := models.Position{Latitude: lat, Longitude: lon}
	if !rider.Valid() {
		writeError(w, http.StatusBadRequest, "lat/lon out of range")
		return
	}

	maxResults := a.maxResults
	if raw := q.Get("max"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "max must be a non-negative integer")
			return
		}
		if n == 0 {
			// An explicit zero means zero, not the default bound.
			writeJSON(w, http.StatusOK, map[string]any{
				"results": []ranking.Result{},
				"count":   0,
			})
			return
		}
		maxResults = n
	}

	// Coordinates rounded to ~10m so nearby riders share cache entries.
	key := fmt.Sprintf("nearby:%.4f:%.4f:%d", lat, lon, maxResults)
	if a.cache != nil {
		if b, ok, err := a.cache.Get(r.Context(), key); err == nil && ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(b)
			return
		}
	}

	snap := a.src.Snapshot()
	results := ranking.Rank(snap.Vehicles, rider, maxResults)
	body, err := json.Marshal(map[string]any{
		"results": results,
		"count":   len(results),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encode response")
		return
	}
	if a.cache != nil {
		_ = a.cache.Set(r.Context(), key, body, a.cacheTTL)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (a *FleetAPI) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.src.Stats())
}

func (a *FleetAPI) reconcile(w http.ResponseWriter, r *http.Request) {
	a.src.Trigger()
	writeJSON(w, http.StatusAccepted, map[string]any{"triggered": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
