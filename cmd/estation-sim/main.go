// estation-sim runs a fleet of simulated environmental sensor stations.
//
// Every station publishes a JSON telemetry record to its MQTT topic on a
// fixed interval and reacts to operator alerts (WTH001 enters error mode,
// WTH002 leaves it). The broker connection is supervised and re-established
// with capped exponential backoff, so the simulator can be started before
// the broker.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	_ "github.com/nerrad567/estation-sim/migrations"

	"github.com/nerrad567/estation-sim/internal/infrastructure/config"
	"github.com/nerrad567/estation-sim/internal/infrastructure/database"
	"github.com/nerrad567/estation-sim/internal/infrastructure/influxdb"
	"github.com/nerrad567/estation-sim/internal/infrastructure/logging"
	"github.com/nerrad567/estation-sim/internal/infrastructure/mqtt"
	"github.com/nerrad567/estation-sim/internal/journal"
	"github.com/nerrad567/estation-sim/internal/simulator"
	"github.com/nerrad567/estation-sim/internal/station"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// configEnv names the environment variable holding the config file path.
const configEnv = "ESTATION_CONFIG"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
// It returns nil on a clean shutdown after ctx is cancelled.
func run(ctx context.Context, args []string, stdout io.Writer) error {
	flags := newFlags("estation-sim", stdout)
	if err := flags.parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			flags.printHelp(stdout)
			return nil
		}
		return err
	}
	if flags.version {
		fmt.Fprintf(stdout, "estation-sim %s (commit %s, built %s)\n", version, commit, date)
		return nil
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	log := logging.New(cfg.Logging, version)
	log.Info("starting station simulator",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	fleet, err := station.NewFleet(station.FleetOptions{
		Count:      cfg.Fleet.Count,
		StreetID:   cfg.Fleet.StreetID,
		Interval:   cfg.PublishInterval(),
		Seed:       cfg.Fleet.Seed,
		SensorType: cfg.Fleet.SensorType,
		Prefix:     cfg.Fleet.SensorPrefix,
	})
	if err != nil {
		return fmt.Errorf("building fleet: %w", err)
	}
	log.Info("fleet created",
		"stations", fleet.Len(),
		"street_id", cfg.Fleet.StreetID,
		"interval", cfg.PublishInterval(),
		"seed", cfg.Fleet.Seed,
	)

	transport := mqtt.NewClient(cfg.MQTT)
	transport.SetLogger(log)
	log.Info("MQTT transport configured",
		"broker", cfg.BrokerAddress(),
		"client_id", transport.ClientID(),
	)

	opts := simulator.Options{
		Fleet:        fleet,
		Transport:    transport,
		Targets:      station.Targets(cfg.Simulation.Targets),
		Interval:     cfg.PublishInterval(),
		PollInterval: cfg.PollInterval(),
		InitialDelay: cfg.ReconnectFloor(),
		MaxDelay:     cfg.ReconnectCeiling(),
		QoS:          byte(cfg.MQTT.QoS), //nolint:gosec // G115: validated to 0..2
		Logger:       log,
	}

	// Telemetry mirror (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		opts.Mirror = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Alert journal (optional)
	var db *database.DB
	if cfg.Database.Enabled {
		db, err = openJournal(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		opts.Journal = journal.NewSQLiteRepository(db.DB)
		log.Info("alert journal ready", "path", cfg.Database.Path)
	} else {
		log.Info("alert journal disabled")
	}

	// The broker may come up later, so only the optional sinks are checked.
	if err := healthCheck(ctx, db, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("startup health checks passed",
		"influxdb", influxClient != nil,
		"journal", db != nil,
	)

	sim, err := simulator.New(opts)
	if err != nil {
		return fmt.Errorf("creating simulator: %w", err)
	}

	if err := sim.Run(ctx); err != nil {
		return fmt.Errorf("running simulator: %w", err)
	}

	log.Info("station simulator stopped")
	return nil
}

// loadConfig reads the config file named by --config or ESTATION_CONFIG,
// then applies flag overrides and validates the result.
func loadConfig(flags *cliFlags) (*config.Config, error) {
	path := flags.configPath
	if path == "" {
		path = os.Getenv(configEnv)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	flags.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openJournal opens the SQLite database and applies pending migrations.
func openJournal(ctx context.Context, cfg config.DatabaseConfig) (*database.DB, error) {
	db, err := database.Open(database.Config{
		Path:        cfg.Path,
		WALMode:     cfg.WALMode,
		BusyTimeout: cfg.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck // migration error takes precedence
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// healthCheck verifies the optional sinks that were opened. Either may be
// nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
