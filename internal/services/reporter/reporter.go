// Package reporter runs on a vehicle operator's device and turns the
// continuous positioning stream into throttled, validated location
// reports against the fleet store.
package reporter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/CityHopper/fleetsync/internal/models"
	"github.com/CityHopper/fleetsync/internal/positioning"
)

// ErrPermissionDenied is returned by Start when the device refuses
// location access. Not fatal to the host: reporting simply never
// starts.
var ErrPermissionDenied = errors.New("positioning permission denied")

type Mutator interface {
	UpdateVehiclePosition(ctx context.Context, upd models.PositionUpdate) (*models.Vehicle, error)
	ClearVehiclePosition(ctx context.Context, vehicleID string) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Reporter struct {
	store    Mutator
	provider positioning.Provider
	rl       RateLimiter

	minInterval        time.Duration
	minDistanceM       float64
	rateLimitPerMinute int64

	mu        sync.Mutex
	watch     positioning.Watch
	vehicleID string
	active    bool
	starting  bool
	runCancel context.CancelFunc

	startedAtUnixNano int64
	reported          atomic.Int64
	dropped           atomic.Int64
	failed            atomic.Int64
	throttled         atomic.Int64
	lastErrorMu       sync.Mutex
	lastError         string
}

func New(store Mutator, provider positioning.Provider, rl RateLimiter) *Reporter {
	return &Reporter{
		store:              store,
		provider:           provider,
		rl:                 rl,
		minInterval:        time.Second,
		minDistanceM:       1,
		rateLimitPerMinute: 120,
		startedAtUnixNano:  time.Now().UTC().UnixNano(),
	}
}

func (r *Reporter) WithSettings(minInterval time.Duration, minDistanceM float64, rlPerMin int64) *Reporter {
	if minInterval > 0 {
		r.minInterval = minInterval
	}
	if minDistanceM > 0 {
		r.minDistanceM = minDistanceM
	}
	if rlPerMin > 0 {
		r.rateLimitPerMinute = rlPerMin
	}
	return r
}

// Start opens the positioning subscription for vehicleID. Idempotent:
// starting a running reporter is a no-op, and exactly one subscription
// exists at any time.
//
// ctx only scopes the Start call itself (the authorization round-trip).
// The subscription runs on its own lifecycle context ended by Stop, so
// a short-lived caller context, an HTTP request's for instance, does
// not kill tracking the moment it is cancelled.
func (r *Reporter) Start(ctx context.Context, vehicleID string) error {
	if vehicleID == "" {
		return errors.New("vehicleId is required")
	}

	r.mu.Lock()
	if r.active || r.starting {
		r.mu.Unlock()
		return nil
	}
	r.starting = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.starting = false
		r.mu.Unlock()
	}()

	granted, err := r.provider.RequestAuthorization(ctx)
	if err != nil {
		return errors.Wrap(err, "request positioning authorization")
	}
	if !granted {
		return ErrPermissionDenied
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	// Marked active before Watch: the provider may deliver the first
	// sample synchronously, and onSample must not run under r.mu.
	r.mu.Lock()
	r.vehicleID = vehicleID
	r.active = true
	r.runCancel = cancel
	r.mu.Unlock()

	w, err := r.provider.Watch(runCtx, positioning.WatchOptions{
		MinInterval:  r.minInterval,
		MinDistanceM: r.minDistanceM,
	}, func(s positioning.Sample) {
		r.onSample(runCtx, s)
	})
	if err != nil {
		cancel()
		r.mu.Lock()
		r.vehicleID = ""
		r.active = false
		r.runCancel = nil
		r.mu.Unlock()
		return errors.Wrap(err, "open positioning watch")
	}

	r.mu.Lock()
	if !r.active {
		// Stop raced the startup; the watch must not outlive it.
		r.mu.Unlock()
		w.Stop()
		return nil
	}
	r.watch = w
	r.mu.Unlock()

	slog.Info("position reporting started", "vehicle_id", vehicleID)
	return nil
}

// Stop cancels the subscription and issues one final mutation clearing
// the vehicle's position, so an off-duty vehicle does not appear stuck
// at its last fix. The clearing request's failure is tolerated.
// Idempotent.
func (r *Reporter) Stop(ctx context.Context) {
	r.mu.Lock()
	w := r.watch
	vid := r.vehicleID
	cancel := r.runCancel
	active := r.active
	r.watch = nil
	r.vehicleID = ""
	r.runCancel = nil
	r.active = false
	r.mu.Unlock()

	if !active {
		return
	}
	if cancel != nil {
		cancel()
	}
	if w != nil {
		w.Stop()
	}

	if err := r.store.ClearVehiclePosition(ctx, vid); err != nil {
		r.setLastError(err)
		slog.Error("clear vehicle position", "vehicle_id", vid, "error", err.Error())
	}
	slog.Info("position reporting stopped", "vehicle_id", vid)
}

// onSample is the streaming callback. It never panics or propagates:
// invalid samples are dropped, throttled samples skipped, mutation
// failures logged. One failed report must not end tracking.
func (r *Reporter) onSample(ctx context.Context, s positioning.Sample) {
	if !(models.Position{Latitude: s.Latitude, Longitude: s.Longitude}).Valid() {
		r.dropped.Add(1)
		return
	}

	r.mu.Lock()
	vid := r.vehicleID
	active := r.active
	r.mu.Unlock()
	if !active || vid == "" {
		// Stopped between delivery and handling.
		return
	}

	if r.rl != nil && r.rateLimitPerMinute > 0 {
		key := fmt.Sprintf("rl:report:%s:%s", vid, time.Now().UTC().Format("200601021504"))
		allowed, n, err := r.rl.Allow(ctx, key, r.rateLimitPerMinute, 70*time.Second)
		if err != nil {
			// Limiter outage fails open: reports keep flowing.
			slog.Warn("report rate limiter unavailable", "error", err.Error())
		} else if !allowed {
			r.throttled.Add(1)
			slog.Warn("report rate limit exceeded", "vehicle_id", vid, "count", n)
			return
		}
	}

	upd := models.PositionUpdate{
		VehicleID: vid,
		Latitude:  s.Latitude,
		Longitude: s.Longitude,
		AccuracyM: s.AccuracyM,
		SpeedKmh:  s.SpeedMS * 3.6,
		Heading:   s.Heading,
	}
	if _, err := r.store.UpdateVehiclePosition(ctx, upd); err != nil {
		r.failed.Add(1)
		r.setLastError(err)
		slog.Error("report position", "vehicle_id", vid, "error", err.Error())
		return
	}
	r.reported.Add(1)
}

func (r *Reporter) setLastError(err error) {
	r.lastErrorMu.Lock()
	r.lastError = err.Error()
	r.lastErrorMu.Unlock()
}

type Stats struct {
	StartedAt time.Time `json:"startedAt"`
	Active    bool      `json:"active"`
	VehicleID string    `json:"vehicleId,omitempty"`
	Reported  int64     `json:"reported"`
	Dropped   int64     `json:"dropped"`
	Failed    int64     `json:"failed"`
	Throttled int64     `json:"throttled"`
	LastError string    `json:"lastError,omitempty"`
}

func (r *Reporter) Stats() Stats {
	r.mu.Lock()
	st := Stats{
		StartedAt: time.Unix(0, r.startedAtUnixNano).UTC(),
		Active:    r.active,
		VehicleID: r.vehicleID,
	}
	r.mu.Unlock()

	st.Reported = r.reported.Load()
	st.Dropped = r.dropped.Load()
	st.Failed = r.failed.Load()
	st.Throttled = r.throttled.Load()
	r.lastErrorMu.Lock()
	st.LastError = r.lastError
	r.lastErrorMu.Unlock()
	return st
}
