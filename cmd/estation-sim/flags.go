package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/pflag"

	"github.com/nerrad567/estation-sim/internal/infrastructure/config"
)

// cliFlags holds the command-line options. Only flags the user actually
// set override the loaded configuration.
type cliFlags struct {
	set *pflag.FlagSet

	configPath string
	host       string
	port       int
	user       string
	password   string
	streetID   string
	interval   float64
	count      int
	seed       int64
	logLevel   string
	version    bool
}

// newFlags registers every flag on a fresh FlagSet. Defaults shown in
// --help come from config.Default.
func newFlags(name string, output io.Writer) *cliFlags {
	def := config.Default()
	f := &cliFlags{set: pflag.NewFlagSet(name, pflag.ContinueOnError)}
	f.set.SetOutput(output)

	f.set.StringVar(&f.configPath, "config", "", "path to YAML config file (env "+configEnv+")")
	f.set.StringVar(&f.host, "host", def.MQTT.Broker.Host, "MQTT broker host")
	f.set.IntVar(&f.port, "port", def.MQTT.Broker.Port, "MQTT broker port")
	f.set.StringVar(&f.user, "user", "", "MQTT username")
	f.set.StringVar(&f.password, "password", "", "MQTT password")
	f.set.StringVar(&f.streetID, "street-id", def.Fleet.StreetID, "street identifier used in topics")
	f.set.Float64Var(&f.interval, "interval", def.Fleet.Interval, "seconds between publishes per station")
	f.set.IntVar(&f.count, "count", def.Fleet.Count, "number of simulated stations")
	f.set.Int64Var(&f.seed, "seed", def.Fleet.Seed, "base random seed (station i uses seed+i)")
	f.set.StringVar(&f.logLevel, "log", def.Logging.Level, "log level: DEBUG, INFO, WARNING or ERROR")
	f.set.BoolVar(&f.version, "version", false, "print version and exit")
	f.set.BoolP("help", "h", false, "show help")

	return f
}

func (f *cliFlags) parse(args []string) error {
	if err := f.set.Parse(args); err != nil {
		return err
	}
	if help, _ := f.set.GetBool("help"); help {
		return pflag.ErrHelp
	}
	if rest := f.set.Args(); len(rest) > 0 {
		return fmt.Errorf("unexpected argument: %s", rest[0])
	}
	return nil
}

// apply copies explicitly set flags over cfg.
func (f *cliFlags) apply(cfg *config.Config) {
	if f.set.Changed("host") {
		cfg.MQTT.Broker.Host = f.host
	}
	if f.set.Changed("port") {
		cfg.MQTT.Broker.Port = f.port
	}
	if f.set.Changed("user") {
		cfg.MQTT.Auth.Username = f.user
	}
	if f.set.Changed("password") {
		cfg.MQTT.Auth.Password = f.password
	}
	if f.set.Changed("street-id") {
		cfg.Fleet.StreetID = f.streetID
	}
	if f.set.Changed("interval") {
		cfg.Fleet.Interval = f.interval
	}
	if f.set.Changed("count") {
		cfg.Fleet.Count = f.count
	}
	if f.set.Changed("seed") {
		cfg.Fleet.Seed = f.seed
	}
	if f.set.Changed("log") {
		cfg.Logging.Level = strings.ToLower(f.logLevel)
	}
}

func (f *cliFlags) printHelp(w io.Writer) {
	fmt.Fprintf(w, `estation-sim simulates a fleet of environmental sensor stations.

Each station publishes JSON telemetry to sensors/<street>/<sensor> and
listens for alerts on sensors/<street>/<sensor>/alerts/#. WTH001 puts a
station into error mode, WTH002 restores it.

Usage:
  estation-sim [flags]

Examples:
  # Five stations against a local broker
  estation-sim --count 5

  # Reproducible run with a config file
  estation-sim --config configs/estation.yaml --seed 42

Flags:
`)
	f.set.SetOutput(w)
	f.set.PrintDefaults()
}
