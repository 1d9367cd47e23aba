package fleetsync

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/CityHopper/fleetsync/internal/broker/messages"
	"github.com/CityHopper/fleetsync/internal/models"
)

type fakeStore struct {
	mu       sync.Mutex
	vehicles []models.Vehicle
	routes   []models.Route
	drivers  []models.Driver
	err      error
	fetches  int
}

func (f *fakeStore) FetchVehicles(ctx context.Context) ([]models.Vehicle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.err != nil {
		return nil, f.err
	}
	return append([]models.Vehicle(nil), f.vehicles...), nil
}

func (f *fakeStore) FetchRoutes(ctx context.Context) ([]models.Route, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]models.Route(nil), f.routes...), nil
}

func (f *fakeStore) FetchDrivers(ctx context.Context) ([]models.Driver, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]models.Driver(nil), f.drivers...), nil
}

func (f *fakeStore) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeStore) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

func vehicleEvent(t *testing.T, op string, v models.Vehicle) messages.ChangeEvent {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	ev := messages.ChangeEvent{Table: models.TableVehicles, Op: op, EmittedAt: time.Now().UTC()}
	switch op {
	case messages.OpDelete:
		ev.Before = b
	default:
		ev.After = b
	}
	return ev
}

func vehicleIDs(s *Synchronizer) []string {
	snap := s.Snapshot()
	out := make([]string, 0, len(snap.Vehicles))
	for _, v := range snap.Vehicles {
		out = append(out, v.ID)
	}
	return out
}

func TestApplyEvent_InsertIsIdempotent(t *testing.T) {
	s := New(&fakeStore{}, nil)
	v := models.Vehicle{ID: "bus-1", Name: "Line 1", Status: models.StatusActive}

	ev := vehicleEvent(t, messages.OpInsert, v)
	s.applyEvent(ev, 0)
	once := s.Snapshot()

	// Replaying the same insert must not change the collection, and a
	// replay carrying a diverging payload must not overwrite either.
	s.applyEvent(ev, 0)
	v.Name = "tampered"
	s.applyEvent(vehicleEvent(t, messages.OpInsert, v), 0)

	twice := s.Snapshot()
	require.Equal(t, once.Vehicles, twice.Vehicles)
	require.Equal(t, "Line 1", twice.Vehicles[0].Name)
}

func TestApplyEvent_UpdateHealsIntoInsert(t *testing.T) {
	s := New(&fakeStore{}, nil)

	// Out-of-order delivery: the delete for bus-2 lands before the
	// update. The update must behave as a fresh insert, not resurrect
	// a partial record or crash.
	s.applyEvent(vehicleEvent(t, messages.OpDelete, models.Vehicle{ID: "bus-2"}), 0)
	s.applyEvent(vehicleEvent(t, messages.OpUpdate, models.Vehicle{ID: "bus-2", Name: "Line 2"}), 0)

	require.Equal(t, []string{"bus-2"}, vehicleIDs(s))
	require.Equal(t, "Line 2", s.Snapshot().Vehicles[0].Name)
}

func TestApplyEvent_DeleteAbsentIsNoop(t *testing.T) {
	s := New(&fakeStore{}, nil)
	s.applyEvent(vehicleEvent(t, messages.OpDelete, models.Vehicle{ID: "ghost"}), 0)
	require.Empty(t, s.Snapshot().Vehicles)
}

func TestApplyEvent_StaleEpochDiscarded(t *testing.T) {
	s := New(&fakeStore{}, nil)
	s.applyEvent(vehicleEvent(t, messages.OpInsert, models.Vehicle{ID: "bus-1"}), 0)
	before := s.Snapshot()

	s.bumpEpoch()
	s.applyEvent(vehicleEvent(t, messages.OpInsert, models.Vehicle{ID: "bus-99"}), 0)
	s.applyEvent(vehicleEvent(t, messages.OpDelete, models.Vehicle{ID: "bus-1"}), 0)

	after := s.Snapshot()
	require.Equal(t, before.Vehicles, after.Vehicles)
	require.Equal(t, int64(2), s.Stats().EventsDroppedStale)
}

func TestApplyEvent_MalformedPayloadDropped(t *testing.T) {
	s := New(&fakeStore{}, nil)
	s.applyEvent(messages.ChangeEvent{
		Table: models.TableVehicles,
		Op:    messages.OpUpdate,
		After: json.RawMessage(`{"id":`),
	}, 0)
	s.applyEvent(messages.ChangeEvent{Table: "unknown", Op: messages.OpInsert}, 0)

	require.Empty(t, s.Snapshot().Vehicles)
	require.Equal(t, int64(2), s.Stats().EventsInvalid)
}

func TestReconcile_KeepsFresherInMemoryPosition(t *testing.T) {
	t1 := time.Now().UTC().Add(-time.Minute)
	t2 := t1.Add(30 * time.Second)

	store := &fakeStore{vehicles: []models.Vehicle{{
		ID:             "bus-1",
		Position:       &models.Position{Latitude: 1, Longitude: 1},
		LastPositionAt: &t1,
	}}}
	s := New(store, nil)

	// The feed already delivered a fresher position than the poll
	// snapshot carries.
	s.applyEvent(vehicleEvent(t, messages.OpUpdate, models.Vehicle{
		ID:             "bus-1",
		Position:       &models.Position{Latitude: 2, Longitude: 2},
		LastPositionAt: &t2,
	}), 0)

	s.reconcileOnce(context.Background())

	snap := s.Snapshot()
	require.Len(t, snap.Vehicles, 1)
	require.InDelta(t, 2.0, snap.Vehicles[0].Position.Latitude, 1e-9)
	require.True(t, snap.Vehicles[0].LastPositionAt.Equal(t2))
}

func TestReconcile_TakesNewerPolledPosition(t *testing.T) {
	t1 := time.Now().UTC().Add(-time.Minute)
	t3 := t1.Add(2 * time.Minute)

	store := &fakeStore{vehicles: []models.Vehicle{{
		ID:             "bus-1",
		Position:       &models.Position{Latitude: 3, Longitude: 3},
		LastPositionAt: &t3,
	}}}
	s := New(store, nil)
	s.applyEvent(vehicleEvent(t, messages.OpUpdate, models.Vehicle{
		ID:             "bus-1",
		Position:       &models.Position{Latitude: 2, Longitude: 2},
		LastPositionAt: &t1,
	}), 0)

	s.reconcileOnce(context.Background())
	require.InDelta(t, 3.0, s.Snapshot().Vehicles[0].Position.Latitude, 1e-9)
}

func TestReconcile_ReplacesWholesale(t *testing.T) {
	store := &fakeStore{
		vehicles: []models.Vehicle{{ID: "bus-1"}},
		routes:   []models.Route{{ID: "r1"}},
	}
	s := New(store, nil)
	s.applyEvent(vehicleEvent(t, messages.OpInsert, models.Vehicle{ID: "bus-gone"}), 0)

	s.reconcileOnce(context.Background())

	require.Equal(t, []string{"bus-1"}, vehicleIDs(s))
	require.Len(t, s.Snapshot().Routes, 1)
}

func TestReconcile_FailureKeepsPriorState(t *testing.T) {
	store := &fakeStore{vehicles: []models.Vehicle{{ID: "bus-1"}}}
	s := New(store, nil)
	s.reconcileOnce(context.Background())
	require.Len(t, s.Snapshot().Vehicles, 1)

	store.setErr(errors.New("store down"))
	s.reconcileOnce(context.Background())

	require.Len(t, s.Snapshot().Vehicles, 1)
	st := s.Stats()
	require.Equal(t, int64(1), st.ReconcilesOK)
	require.Equal(t, int64(1), st.ReconcilesFailed)
	require.Contains(t, st.LastError, "store down")
}

func TestSnapshot_IsADeepCopy(t *testing.T) {
	s := New(&fakeStore{}, nil)
	s.applyEvent(vehicleEvent(t, messages.OpInsert, models.Vehicle{
		ID:       "bus-1",
		Position: &models.Position{Latitude: 1, Longitude: 1},
	}), 0)

	snap := s.Snapshot()
	snap.Vehicles[0].Position.Latitude = 99
	snap.Vehicles[0].Name = "scribbled"

	fresh := s.Snapshot()
	require.InDelta(t, 1.0, fresh.Vehicles[0].Position.Latitude, 1e-9)
	require.Empty(t, fresh.Vehicles[0].Name)
}
