package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/CityHopper/fleetsync/internal/models"
	"github.com/CityHopper/fleetsync/internal/services/fleetsync"
)

type fakeSync struct {
	mu     sync.Mutex
	snap   fleetsync.Snapshot
	health fleetsync.Health
}

func (f *fakeSync) Snapshot() fleetsync.Snapshot { return f.snap }

func (f *fakeSync) Health() fleetsync.Health {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.health
}

func (f *fakeSync) Stats() fleetsync.Stats { return fleetsync.Stats{Health: f.Health()} }
func (f *fakeSync) Trigger()               {}

func (f *fakeSync) setHealth(h fleetsync.Health) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.health = h
}

func (f *fakeSync) Start(ctx context.Context) { f.setHealth(fleetsync.HealthLive) }
func (f *fakeSync) Stop()                     { f.setHealth(fleetsync.HealthDisconnected) }

func startApp(t *testing.T, sync fleetSynchronizer) (string, context.CancelFunc, chan error) {
	t.Helper()

	dir := t.TempDir()
	sw := filepath.Join(dir, "swagger.json")
	require.NoError(t, os.WriteFile(sw, []byte(`{"swagger":"2.0"}`), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	addrCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- runFleetAPI(ctx, fleetAPIOpts{
			httpAddr:    "127.0.0.1:0",
			swaggerPath: sw,
			onListen:    func(addr string) { addrCh <- addr },
		}, sync, nil)
	}()

	select {
	case addr := <-addrCh:
		return addr, cancel, errCh
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for listener")
		return "", cancel, errCh
	}
}

func TestRunFleetAPI_ServesAndStops(t *testing.T) {
	sync := &fakeSync{snap: fleetsync.Snapshot{Vehicles: []models.Vehicle{{
		ID:       "bus-1",
		Status:   models.StatusActive,
		Position: &models.Position{Latitude: 59.43, Longitude: 24.75},
	}}}}

	addr, cancel, errCh := startApp(t, sync)
	defer cancel()

	resp, err := http.Get("http://" + addr + "/swagger.json")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)
	require.Contains(t, string(body), `"swagger"`)

	resp, err = http.Get("http://" + addr + "/vehicles")
	require.NoError(t, err)
	var out struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	resp.Body.Close()
	require.Equal(t, 1, out.Count)

	resp, err = http.Get("http://" + addr + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)

	cancel()
	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting server to stop")
	}
	require.Equal(t, fleetsync.HealthDisconnected, sync.Health())
}

func TestRunFleetAPI_NotReadyWhenDisconnected(t *testing.T) {
	sync := &fakeSync{}
	addr, cancel, _ := startApp(t, sync)
	defer cancel()

	// Force the disconnected state the probe reports on.
	sync.setHealth(fleetsync.HealthDisconnected)
	resp, err := http.Get("http://" + addr + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestRunFleetAPI_RequiresSwagger(t *testing.T) {
	err := runFleetAPI(context.Background(), fleetAPIOpts{httpAddr: "127.0.0.1:0"}, &fakeSync{}, nil)
	require.Error(t, err)

	err = runFleetAPI(context.Background(), fleetAPIOpts{
		httpAddr:    "127.0.0.1:0",
		swaggerPath: filepath.Join(t.TempDir(), "missing.json"),
	}, &fakeSync{}, nil)
	require.Error(t, err)
}
