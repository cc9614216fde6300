package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the station simulator.
// Values come from defaults, an optional YAML file and environment variables.
type Config struct {
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Fleet      FleetConfig      `yaml:"fleet"`
	Simulation SimulationConfig `yaml:"simulation"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Database   DatabaseConfig   `yaml:"database"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// StatusTopic enables retained online/offline status messages and a
	// Last Will on this topic. Empty disables them.
	StatusTopic string `yaml:"status_topic"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains reconnection backoff settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay float64 `yaml:"initial_delay"`
	MaxDelay     float64 `yaml:"max_delay"`
}

// FleetConfig describes the simulated stations.
type FleetConfig struct {
	StreetID     string  `yaml:"street_id"`
	Count        int     `yaml:"count"`
	Interval     float64 `yaml:"interval"` // seconds between publishes per station
	Seed         int64   `yaml:"seed"`
	SensorType   string  `yaml:"sensor_type"`
	SensorPrefix string  `yaml:"sensor_prefix"`
}

// SimulationConfig contains scheduler and drift settings.
type SimulationConfig struct {
	// PollInterval is the scheduler tick period in milliseconds.
	PollInterval int `yaml:"poll_interval"`

	// Targets are the base values every station drifts toward.
	Targets TargetsConfig `yaml:"targets"`
}

// TargetsConfig holds the drift attractor for each quantity.
type TargetsConfig struct {
	Temperature float64 `yaml:"temperature"`
	Humidity    float64 `yaml:"humidity"`
	AirQuality  float64 `yaml:"air_quality"`
	Illuminance float64 `yaml:"illuminance"`
	Sound       float64 `yaml:"sound_db"`
	Pressure    float64 `yaml:"pressure_hpa"`
	UVIndex     float64 `yaml:"uv_index"`
}

// InfluxDBConfig contains InfluxDB connection settings for the telemetry mirror.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// DatabaseConfig contains SQLite settings for the alert journal.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (skipped when path is empty)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: ESTATION_SECTION_KEY
// For example: ESTATION_MQTT_HOST, ESTATION_FLEET_COUNT
//
// Parameters:
//   - path: Path to the YAML configuration file, or "" for defaults only
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with the reference deployment's defaults.
func Default() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "192.168.2.156",
				Port: 1883,
			},
			QoS: 0,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1.0,
				MaxDelay:     60.0,
			},
		},
		Fleet: FleetConfig{
			StreetID:     "ST_0777",
			Count:        5,
			Interval:     1.5,
			Seed:         1234,
			SensorType:   "weather",
			SensorPrefix: "LABJAV09-G",
		},
		Simulation: SimulationConfig{
			PollInterval: 100,
			Targets: TargetsConfig{
				Temperature: 22.0,
				Humidity:    45.0,
				AirQuality:  55.0,
				Illuminance: 300.0,
				Sound:       48.0,
				Pressure:    1012.0,
				UVIndex:     2.0,
			},
		},
		InfluxDB: InfluxDBConfig{
			URL:           "http://localhost:8086",
			Org:           "estation",
			Bucket:        "telemetry",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Database: DatabaseConfig{
			Path:        "./data/estation.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: ESTATION_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	// MQTT
	if v := os.Getenv("ESTATION_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("ESTATION_MQTT_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ESTATION_MQTT_PORT: %w", err)
		}
		cfg.MQTT.Broker.Port = port
	}
	if v := os.Getenv("ESTATION_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("ESTATION_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Fleet
	if v := os.Getenv("ESTATION_FLEET_STREET_ID"); v != "" {
		cfg.Fleet.StreetID = v
	}
	if v := os.Getenv("ESTATION_FLEET_COUNT"); v != "" {
		count, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ESTATION_FLEET_COUNT: %w", err)
		}
		cfg.Fleet.Count = count
	}

	// InfluxDB
	if v := os.Getenv("ESTATION_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Database
	if v := os.Getenv("ESTATION_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Logging
	if v := os.Getenv("ESTATION_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return nil
}

// Validate checks the configuration for errors.
// All problems are reported together.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// MQTT validation
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Reconnect.InitialDelay <= 0 {
		errs = append(errs, "mqtt.reconnect.initial_delay must be positive")
	}
	if c.MQTT.Reconnect.MaxDelay < c.MQTT.Reconnect.InitialDelay {
		errs = append(errs, "mqtt.reconnect.max_delay must not be less than initial_delay")
	}

	// Fleet validation
	if c.Fleet.StreetID == "" {
		errs = append(errs, "fleet.street_id is required")
	}
	if strings.ContainsAny(c.Fleet.StreetID, "/+#") {
		errs = append(errs, "fleet.street_id must not contain MQTT topic separators or wildcards")
	}
	if strings.ContainsAny(c.Fleet.SensorPrefix, "/+#") {
		errs = append(errs, "fleet.sensor_prefix must not contain MQTT topic separators or wildcards")
	}
	if c.Fleet.Count < 1 {
		errs = append(errs, "fleet.count must be at least 1")
	}
	if c.Fleet.Interval <= 0 {
		errs = append(errs, "fleet.interval must be positive")
	}

	// Simulation validation
	if c.Simulation.PollInterval <= 0 {
		errs = append(errs, "simulation.poll_interval must be positive")
	}

	// Optional sinks
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when the journal is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// PublishInterval returns the per-station publish interval as a Duration.
func (c *Config) PublishInterval() time.Duration {
	return secondsToDuration(c.Fleet.Interval)
}

// PollInterval returns the scheduler tick period as a Duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Simulation.PollInterval) * time.Millisecond
}

// ReconnectFloor returns the initial reconnect delay as a Duration.
func (c *Config) ReconnectFloor() time.Duration {
	return secondsToDuration(c.MQTT.Reconnect.InitialDelay)
}

// ReconnectCeiling returns the maximum reconnect delay as a Duration.
func (c *Config) ReconnectCeiling() time.Duration {
	return secondsToDuration(c.MQTT.Reconnect.MaxDelay)
}

// BrokerAddress returns host:port for log output.
func (c *Config) BrokerAddress() string {
	return fmt.Sprintf("%s:%d", c.MQTT.Broker.Host, c.MQTT.Broker.Port)
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
