// Package fleetsync maintains the authoritative in-memory view of the
// fleet on a connected client. Two independently unreliable sources
// feed it: the push change feed and a periodic reconciliation poll.
// All writes serialize on one mutex; consumers only ever see copies.
package fleetsync

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CityHopper/fleetsync/internal/broker/messages"
	"github.com/CityHopper/fleetsync/internal/models"
)

// Health of the synchronized view. Degraded and Disconnected never
// block reads; they only weaken the recency guarantee to "at most one
// reconcile interval stale".
type Health string

const (
	HealthDisconnected Health = "disconnected"
	HealthConnecting   Health = "connecting"
	HealthLive         Health = "live"
	HealthDegraded     Health = "degraded"
)

type Store interface {
	FetchVehicles(ctx context.Context) ([]models.Vehicle, error)
	FetchRoutes(ctx context.Context) ([]models.Route, error)
	FetchDrivers(ctx context.Context) ([]models.Driver, error)
}

// FeedConsumer is one change-feed subscription (per watched table).
type FeedConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
	Close() error
}

// ConsumerFactory opens a change-feed subscription for a table.
type ConsumerFactory func(table string) FeedConsumer

type Synchronizer struct {
	store       Store
	newConsumer ConsumerFactory

	tables            []string
	reconcileInterval time.Duration
	pollTimeout       time.Duration
	backoff           *Backoff

	triggerCh chan struct{}

	mu       sync.Mutex
	vehicles map[string]models.Vehicle
	routes   map[string]models.Route
	drivers  map[string]models.Driver
	epoch    int64
	health   Health
	cancel   context.CancelFunc
	done     chan struct{}

	startedAtUnixNano  int64
	lastReconcileNano  atomic.Int64
	eventsApplied      atomic.Int64
	eventsDroppedStale atomic.Int64
	eventsInvalid      atomic.Int64
	reconcilesOK       atomic.Int64
	reconcilesFailed   atomic.Int64
	lastErrorMu        sync.Mutex
	lastError          string
}

func New(store Store, newConsumer ConsumerFactory) *Synchronizer {
	return &Synchronizer{
		store:             store,
		newConsumer:       newConsumer,
		tables:            []string{models.TableVehicles, models.TableRoutes, models.TableDrivers},
		reconcileInterval: 30 * time.Second,
		pollTimeout:       10 * time.Second,
		backoff:           NewBackoff(DefaultBackoffConfig(), nil),
		triggerCh:         make(chan struct{}, 1),
		vehicles:          map[string]models.Vehicle{},
		routes:            map[string]models.Route{},
		drivers:           map[string]models.Driver{},
		health:            HealthDisconnected,
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (s *Synchronizer) WithSettings(reconcileInterval, pollTimeout time.Duration) *Synchronizer {
	if reconcileInterval > 0 {
		s.reconcileInterval = reconcileInterval
	}
	if pollTimeout > 0 {
		s.pollTimeout = pollTimeout
	}
	return s
}

func (s *Synchronizer) WithBackoff(cfg BackoffConfig, r Rand) *Synchronizer {
	s.backoff = NewBackoff(cfg, r)
	return s
}

// Start opens the change-feed subscriptions and the reconcile loop.
// Idempotent: calling Start on a running synchronizer is a no-op.
// Feed failures never surface here; they degrade health and retry.
func (s *Synchronizer) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.health = HealthConnecting
	s.mu.Unlock()

	go func() {
		defer close(done)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.runFeed(runCtx)
		}()
		go func() {
			defer wg.Done()
			s.runReconcile(runCtx)
		}()
		wg.Wait()
	}()
}

// Stop tears everything down. The epoch bump turns any in-flight feed
// callback into a no-op. Idempotent.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.epoch++
	s.health = HealthDisconnected
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Trigger forces an immediate reconcile (best-effort, non-blocking).
func (s *Synchronizer) Trigger() {
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

func (s *Synchronizer) Health() Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.health
}

// Snapshot is a deep read-only copy of the current state. Callers can
// never corrupt the synchronized view through it, and never observe a
// half-applied merge.
type Snapshot struct {
	Vehicles []models.Vehicle `json:"vehicles"`
	Routes   []models.Route   `json:"routes"`
	Drivers  []models.Driver  `json:"drivers"`
	TakenAt  time.Time        `json:"taken_at"`
}

func (s *Synchronizer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Vehicles: make([]models.Vehicle, 0, len(s.vehicles)),
		Routes:   make([]models.Route, 0, len(s.routes)),
		Drivers:  make([]models.Driver, 0, len(s.drivers)),
		TakenAt:  time.Now().UTC(),
	}
	for _, v := range s.vehicles {
		snap.Vehicles = append(snap.Vehicles, copyVehicle(v))
	}
	for _, r := range s.routes {
		snap.Routes = append(snap.Routes, r)
	}
	for _, d := range s.drivers {
		snap.Drivers = append(snap.Drivers, copyDriver(d))
	}
	sortSnapshot(&snap)
	return snap
}

type Stats struct {
	StartedAt          time.Time  `json:"startedAt"`
	LastReconcileAt    *time.Time `json:"lastReconcileAt,omitempty"`
	Health             Health     `json:"health"`
	Epoch              int64      `json:"epoch"`
	VehicleCount       int        `json:"vehicleCount"`
	EventsApplied      int64      `json:"eventsApplied"`
	EventsDroppedStale int64      `json:"eventsDroppedStale"`
	EventsInvalid      int64      `json:"eventsInvalid"`
	ReconcilesOK       int64      `json:"reconcilesOk"`
	ReconcilesFailed   int64      `json:"reconcilesFailed"`
	LastError          string     `json:"lastError,omitempty"`
}

func (s *Synchronizer) Stats() Stats {
	s.mu.Lock()
	st := Stats{
		StartedAt:    time.Unix(0, s.startedAtUnixNano).UTC(),
		Health:       s.health,
		Epoch:        s.epoch,
		VehicleCount: len(s.vehicles),
	}
	s.mu.Unlock()

	st.EventsApplied = s.eventsApplied.Load()
	st.EventsDroppedStale = s.eventsDroppedStale.Load()
	st.EventsInvalid = s.eventsInvalid.Load()
	st.ReconcilesOK = s.reconcilesOK.Load()
	st.ReconcilesFailed = s.reconcilesFailed.Load()
	if n := s.lastReconcileNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastReconcileAt = &t
	}
	s.lastErrorMu.Lock()
	st.LastError = s.lastError
	s.lastErrorMu.Unlock()
	return st
}

func (s *Synchronizer) runReconcile(ctx context.Context) {
	// Initial load before the first tick so consumers do not stare at
	// an empty fleet for a whole interval.
	s.reconcileOnce(ctx)

	t := time.NewTicker(s.reconcileInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.reconcileOnce(ctx)
		case <-s.triggerCh:
			s.reconcileOnce(ctx)
		}
	}
}

// reconcileOnce pulls a full snapshot per table and replaces the local
// collections wholesale, except a vehicle whose in-memory position is
// fresher than the polled one keeps its in-memory record: the poll may
// have been issued before a faster feed update landed.
func (s *Synchronizer) reconcileOnce(ctx context.Context) {
	pollCtx, cancel := context.WithTimeout(ctx, s.pollTimeout)
	defer cancel()

	vehicles, err := s.store.FetchVehicles(pollCtx)
	if err != nil {
		s.reconcileFailed("fetch vehicles", err)
		return
	}
	routes, err := s.store.FetchRoutes(pollCtx)
	if err != nil {
		s.reconcileFailed("fetch routes", err)
		return
	}
	drivers, err := s.store.FetchDrivers(pollCtx)
	if err != nil {
		s.reconcileFailed("fetch drivers", err)
		return
	}

	s.mu.Lock()
	freshVehicles := make(map[string]models.Vehicle, len(vehicles))
	for _, v := range vehicles {
		if cur, ok := s.vehicles[v.ID]; ok && positionNewer(cur.LastPositionAt, v.LastPositionAt) {
			freshVehicles[v.ID] = cur
			continue
		}
		freshVehicles[v.ID] = v
	}
	s.vehicles = freshVehicles

	freshRoutes := make(map[string]models.Route, len(routes))
	for _, r := range routes {
		freshRoutes[r.ID] = r
	}
	s.routes = freshRoutes

	freshDrivers := make(map[string]models.Driver, len(drivers))
	for _, d := range drivers {
		freshDrivers[d.ID] = d
	}
	s.drivers = freshDrivers
	s.mu.Unlock()

	s.reconcilesOK.Add(1)
	s.lastReconcileNano.Store(time.Now().UTC().UnixNano())
}

// reconcileFailed logs and skips the cycle; stale-but-valid data beats
// an empty collection.
func (s *Synchronizer) reconcileFailed(op string, err error) {
	s.reconcilesFailed.Add(1)
	s.setLastError(err)
	slog.Error("reconcile skipped", "op", op, "error", err.Error())
}

func (s *Synchronizer) setLastError(err error) {
	s.lastErrorMu.Lock()
	s.lastError = err.Error()
	s.lastErrorMu.Unlock()
}

// applyEvent folds one change-feed event into state. Events from a
// superseded subscription generation are discarded wholesale, and
// application is idempotent under duplication and reordering:
// a replayed insert is a no-op, an update for an unknown id heals into
// an insert, a delete for an absent id is a no-op.
func (s *Synchronizer) applyEvent(ev messages.ChangeEvent, epoch int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if epoch != s.epoch {
		s.eventsDroppedStale.Add(1)
		return
	}

	switch ev.Table {
	case models.TableVehicles:
		s.applyVehicleEvent(ev)
	case models.TableRoutes:
		s.applyRouteEvent(ev)
	case models.TableDrivers:
		s.applyDriverEvent(ev)
	default:
		s.eventsInvalid.Add(1)
	}
}

func (s *Synchronizer) applyVehicleEvent(ev messages.ChangeEvent) {
	switch ev.Op {
	case messages.OpInsert, messages.OpUpdate:
		var v models.Vehicle
		if err := json.Unmarshal(ev.After, &v); err != nil || v.ID == "" {
			s.eventsInvalid.Add(1)
			return
		}
		if ev.Op == messages.OpInsert {
			if _, exists := s.vehicles[v.ID]; exists {
				return // duplicate-insert replay
			}
		}
		s.vehicles[v.ID] = v
		s.eventsApplied.Add(1)
	case messages.OpDelete:
		id := ev.RecordID()
		if id == "" {
			s.eventsInvalid.Add(1)
			return
		}
		delete(s.vehicles, id)
		s.eventsApplied.Add(1)
	default:
		s.eventsInvalid.Add(1)
	}
}

func (s *Synchronizer) applyRouteEvent(ev messages.ChangeEvent) {
	switch ev.Op {
	case messages.OpInsert, messages.OpUpdate:
		var r models.Route
		if err := json.Unmarshal(ev.After, &r); err != nil || r.ID == "" {
			s.eventsInvalid.Add(1)
			return
		}
		if ev.Op == messages.OpInsert {
			if _, exists := s.routes[r.ID]; exists {
				return
			}
		}
		s.routes[r.ID] = r
		s.eventsApplied.Add(1)
	case messages.OpDelete:
		id := ev.RecordID()
		if id == "" {
			s.eventsInvalid.Add(1)
			return
		}
		delete(s.routes, id)
		s.eventsApplied.Add(1)
	default:
		s.eventsInvalid.Add(1)
	}
}

func (s *Synchronizer) applyDriverEvent(ev messages.ChangeEvent) {
	switch ev.Op {
	case messages.OpInsert, messages.OpUpdate:
		var d models.Driver
		if err := json.Unmarshal(ev.After, &d); err != nil || d.ID == "" {
			s.eventsInvalid.Add(1)
			return
		}
		if ev.Op == messages.OpInsert {
			if _, exists := s.drivers[d.ID]; exists {
				return
			}
		}
		s.drivers[d.ID] = d
		s.eventsApplied.Add(1)
	case messages.OpDelete:
		id := ev.RecordID()
		if id == "" {
			s.eventsInvalid.Add(1)
			return
		}
		delete(s.drivers, id)
		s.eventsApplied.Add(1)
	default:
		s.eventsInvalid.Add(1)
	}
}

func sortSnapshot(snap *Snapshot) {
	sort.Slice(snap.Vehicles, func(i, j int) bool { return snap.Vehicles[i].ID < snap.Vehicles[j].ID })
	sort.Slice(snap.Routes, func(i, j int) bool { return snap.Routes[i].ID < snap.Routes[j].ID })
	sort.Slice(snap.Drivers, func(i, j int) bool { return snap.Drivers[i].ID < snap.Drivers[j].ID })
}

func positionNewer(a, b *time.Time) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return a.After(*b)
}

func copyVehicle(v models.Vehicle) models.Vehicle {
	if v.Position != nil {
		p := *v.Position
		v.Position = &p
	}
	if v.SpeedKmh != nil {
		s := *v.SpeedKmh
		v.SpeedKmh = &s
	}
	if v.Heading != nil {
		h := *v.Heading
		v.Heading = &h
	}
	if v.RouteID != nil {
		r := *v.RouteID
		v.RouteID = &r
	}
	if v.DriverID != nil {
		d := *v.DriverID
		v.DriverID = &d
	}
	if v.LastPositionAt != nil {
		t := *v.LastPositionAt
		v.LastPositionAt = &t
	}
	return v
}

func copyDriver(d models.Driver) models.Driver {
	if d.VehicleID != nil {
		v := *d.VehicleID
		d.VehicleID = &v
	}
	return d
}
