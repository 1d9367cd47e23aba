package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Fleet    FleetConfig    `yaml:"fleet"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type FleetConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`

	// Synchronizer timing. Zero values fall back to the built-in
	// defaults (30s reconcile, 10s poll timeout).
	SyncReconcileIntervalSeconds int `yaml:"sync_reconcile_interval_seconds"`
	SyncPollTimeoutSeconds       int `yaml:"sync_poll_timeout_seconds"`

	NearbyCacheTTLSeconds int `yaml:"nearby_cache_ttl_seconds"`
	NearbyMaxResults      int `yaml:"nearby_max_results"`

	ReporterHTTPAddr             string  `yaml:"reporter_http_addr"`
	ReporterVehicleID            string  `yaml:"reporter_vehicle_id"`
	ReporterMinIntervalSeconds   int     `yaml:"reporter_min_interval_seconds"`
	ReporterMinDistanceMeters    float64 `yaml:"reporter_min_distance_meters"`
	ReporterRateLimitPerMinute   int     `yaml:"reporter_rate_limit_per_minute"`
	ReporterAutostart            bool    `yaml:"reporter_autostart"`
	ReporterSimulatedSpeedKmh    float64 `yaml:"reporter_simulated_speed_kmh"`
	ReporterSimulatedRouteRadius float64 `yaml:"reporter_simulated_route_radius_m"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
