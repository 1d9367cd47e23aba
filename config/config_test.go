package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
database:
  host: "localhost"
  port: 5432
  username: "u"
  password: "p"
  name: "fleet"
kafka:
  host: "localhost"
  port: 9092
redis:
  host: "localhost"
  port: 6379
fleet:
  http_addr: ":8080"
  kafka_consumer_group: "fleet-api"
  sync_reconcile_interval_seconds: 30
  sync_poll_timeout_seconds: 10
  nearby_max_results: 3
  reporter_http_addr: ":8081"
  reporter_vehicle_id: "bus-7"
  reporter_autostart: true
`), 0o600))

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	require.Equal(t, "u", cfg.Database.Username)
	require.Equal(t, 9092, cfg.Kafka.Port)
	require.Equal(t, 6379, cfg.Redis.Port)
	require.Equal(t, ":8080", cfg.Fleet.HTTPAddr)
	require.Equal(t, 30, cfg.Fleet.SyncReconcileIntervalSeconds)
	require.Equal(t, "bus-7", cfg.Fleet.ReporterVehicleID)
	require.True(t, cfg.Fleet.ReporterAutostart)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
