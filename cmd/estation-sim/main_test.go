package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/estation-sim/internal/infrastructure/database"
)

// clearEnv blanks every variable Load consults so the host environment
// cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		configEnv,
		"ESTATION_MQTT_HOST",
		"ESTATION_MQTT_PORT",
		"ESTATION_MQTT_USERNAME",
		"ESTATION_MQTT_PASSWORD",
		"ESTATION_FLEET_STREET_ID",
		"ESTATION_FLEET_COUNT",
		"ESTATION_INFLUXDB_TOKEN",
		"ESTATION_DATABASE_PATH",
		"ESTATION_LOG_LEVEL",
	} {
		t.Setenv(name, "")
	}
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	clearEnv(t)
	t.Setenv(configEnv, "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, nil, &bytes.Buffer{})
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("error = %v, want loading config failure", err)
	}
}

func TestRun_StartupErrors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"zero stations", []string{"--count", "0"}, "fleet.count"},
		{"negative interval", []string{"--interval", "-1"}, "fleet.interval"},
		{"port out of range", []string{"--port", "70000"}, "mqtt.broker.port"},
		{"unknown flag", []string{"--bogus"}, "bogus"},
		{"positional argument", []string{"extra"}, "unexpected argument"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			err := run(ctx, tt.args, &bytes.Buffer{})
			if err == nil {
				t.Fatalf("run(%v) should fail", tt.args)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestRun_HelpAndVersion(t *testing.T) {
	clearEnv(t)

	var out bytes.Buffer
	if err := run(context.Background(), []string{"--help"}, &out); err != nil {
		t.Fatalf("run(--help) error = %v", err)
	}
	for _, want := range []string{"Usage:", "--street-id", "--interval"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("help output missing %q", want)
		}
	}

	out.Reset()
	if err := run(context.Background(), []string{"--version"}, &out); err != nil {
		t.Fatalf("run(--version) error = %v", err)
	}
	if !strings.HasPrefix(out.String(), "estation-sim "+version) {
		t.Errorf("version output = %q", out.String())
	}
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	clearEnv(t)

	configPath := filepath.Join(t.TempDir(), "estation.yaml")
	configContent := `
mqtt:
  broker:
    host: "file-broker"
    port: 1884
fleet:
  street_id: "ST_FILE"
  count: 2
  interval: 3
logging:
  level: info
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	flags := newFlags("test", &bytes.Buffer{})
	err := flags.parse([]string{
		"--config", configPath,
		"--host", "flag-broker",
		"--count", "4",
		"--log", "WARNING",
		"--user", "alice",
	})
	if err != nil {
		t.Fatalf("parse() error = %v", err)
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}

	if cfg.MQTT.Broker.Host != "flag-broker" {
		t.Errorf("host = %q, want flag-broker", cfg.MQTT.Broker.Host)
	}
	if cfg.MQTT.Broker.Port != 1884 {
		t.Errorf("port = %d, want 1884 from file", cfg.MQTT.Broker.Port)
	}
	if cfg.Fleet.Count != 4 {
		t.Errorf("count = %d, want 4", cfg.Fleet.Count)
	}
	if cfg.Fleet.StreetID != "ST_FILE" {
		t.Errorf("street_id = %q, want ST_FILE", cfg.Fleet.StreetID)
	}
	if cfg.Fleet.Interval != 3 {
		t.Errorf("interval = %v, want 3", cfg.Fleet.Interval)
	}
	if cfg.Logging.Level != "warning" {
		t.Errorf("log level = %q, want warning", cfg.Logging.Level)
	}
	if cfg.MQTT.Auth.Username != "alice" {
		t.Errorf("username = %q, want alice", cfg.MQTT.Auth.Username)
	}
}

func TestLoadConfig_EnvPath(t *testing.T) {
	clearEnv(t)

	configPath := filepath.Join(t.TempDir(), "estation.yaml")
	if err := os.WriteFile(configPath, []byte("fleet:\n  street_id: ST_ENV\n"), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	t.Setenv(configEnv, configPath)

	flags := newFlags("test", &bytes.Buffer{})
	if err := flags.parse(nil); err != nil {
		t.Fatalf("parse() error = %v", err)
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Fleet.StreetID != "ST_ENV" {
		t.Errorf("street_id = %q, want ST_ENV", cfg.Fleet.StreetID)
	}
	if cfg.Fleet.Count != 5 {
		t.Errorf("count = %d, want default 5", cfg.Fleet.Count)
	}
}

// TestRun_StopsOnCancel starts the simulator against an unreachable broker
// and checks that cancellation is a clean shutdown.
func TestRun_StopsOnCancel(t *testing.T) {
	clearEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	args := []string{"--host", "127.0.0.1", "--port", "1", "--count", "2", "--log", "ERROR"}
	if err := run(ctx, args, &bytes.Buffer{}); err != nil {
		t.Fatalf("run() error = %v, want nil on cancellation", err)
	}
}

func TestHealthCheck(t *testing.T) {
	if err := healthCheck(context.Background(), nil, nil); err != nil {
		t.Fatalf("healthCheck(nil, nil) error = %v", err)
	}

	db, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "journal.db")})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	if err := healthCheck(context.Background(), db, nil); err != nil {
		t.Errorf("healthCheck(open db) error = %v", err)
	}

	db.Close()
	err = healthCheck(context.Background(), db, nil)
	if err == nil || !strings.Contains(err.Error(), "database") {
		t.Errorf("healthCheck(closed db) error = %v, want database failure", err)
	}
}

// TestRun_WithJournal starts with the alert journal enabled and checks that
// the database is created, migrated and passes the startup health check.
func TestRun_WithJournal(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "journal.db")
	configPath := filepath.Join(dir, "estation.yaml")
	configContent := "database:\n  enabled: true\n  path: \"" + dbPath + "\"\n"
	if err := os.WriteFile(configPath, []byte(configContent), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	args := []string{"--config", configPath, "--host", "127.0.0.1", "--port", "1", "--log", "ERROR"}
	if err := run(ctx, args, &bytes.Buffer{}); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("journal database not created: %v", err)
	}
}
