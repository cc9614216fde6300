// estation-alert publishes an operator alert to one simulated station, or
// prints the alert journal recorded by estation-sim.
//
//	estation-alert --sensor LABJAV09-G1 --code WTH001    # enter error mode
//	estation-alert --sensor LABJAV09-G1 --code WTH002    # back to normal
//	estation-alert --history --sensor LABJAV09-G1
//	estation-alert --watch --telemetry                    # follow the street
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	_ "github.com/nerrad567/estation-sim/migrations"

	"github.com/nerrad567/estation-sim/internal/alert"
	"github.com/nerrad567/estation-sim/internal/infrastructure/config"
	"github.com/nerrad567/estation-sim/internal/infrastructure/database"
	"github.com/nerrad567/estation-sim/internal/infrastructure/mqtt"
	"github.com/nerrad567/estation-sim/internal/journal"
)

const (
	configEnv      = "ESTATION_CONFIG"
	clientIDPrefix = "estation-alert-"
	publishTimeout = 10 * time.Second
)

var errNoPayload = errors.New("exactly one of --code, --message or --raw is required")

type options struct {
	configPath string
	host       string
	port       int
	user       string
	password   string
	streetID   string
	sensorID   string
	code       string
	message    string
	raw        string
	qos        int
	history    bool
	dbPath     string
	limit      int
	watch      bool
	telemetry  bool
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	var opts options
	flagSet := pflag.NewFlagSet("estation-alert", pflag.ContinueOnError)
	flagSet.SetOutput(stdout)
	flagSet.StringVar(&opts.configPath, "config", "", "path to YAML config file (env "+configEnv+")")
	flagSet.StringVar(&opts.host, "host", "", "MQTT broker host")
	flagSet.IntVar(&opts.port, "port", 0, "MQTT broker port")
	flagSet.StringVar(&opts.user, "user", "", "MQTT username")
	flagSet.StringVar(&opts.password, "password", "", "MQTT password")
	flagSet.StringVar(&opts.streetID, "street-id", "", "street identifier used in topics")
	flagSet.StringVar(&opts.sensorID, "sensor", "", "target station id, e.g. LABJAV09-G1")
	flagSet.StringVar(&opts.code, "code", "", `alert code sent as {"alerta":"<code>"}`)
	flagSet.StringVar(&opts.message, "message", "", `free text sent as {"message":"<text>"}`)
	flagSet.StringVar(&opts.raw, "raw", "", "payload sent verbatim")
	flagSet.IntVar(&opts.qos, "qos", -1, "publish QoS (default from config)")
	flagSet.BoolVar(&opts.history, "history", false, "print the alert journal instead of publishing")
	flagSet.StringVar(&opts.dbPath, "db", "", "journal database path (default from config)")
	flagSet.IntVar(&opts.limit, "limit", 20, "number of journal entries to print")
	flagSet.BoolVar(&opts.watch, "watch", false, "print alerts sent to every station on the street until interrupted")
	flagSet.BoolVar(&opts.telemetry, "telemetry", false, "with --watch, also print station telemetry")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet, stdout)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet, stdout)
		return nil
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return fmt.Errorf("unexpected argument: %s", rest[0])
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	if opts.history {
		return printHistory(ctx, cfg, opts, stdout)
	}
	if opts.watch {
		return watch(ctx, cfg.MQTT, watchFilters(cfg.Fleet.StreetID, opts.telemetry), stdout)
	}

	payload, err := buildPayload(opts)
	if err != nil {
		return err
	}
	if opts.sensorID == "" {
		return errors.New("--sensor is required")
	}

	topic := mqtt.Topics{}.Alert(cfg.Fleet.StreetID, opts.sensorID)
	if err := publish(ctx, cfg.MQTT, topic, payload); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "published %d bytes to %s\n", len(payload), topic)
	return nil
}

// loadConfig reads the shared simulator configuration and applies the
// connection flags that were set.
func loadConfig(opts options) (*config.Config, error) {
	path := opts.configPath
	if path == "" {
		path = os.Getenv(configEnv)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if opts.host != "" {
		cfg.MQTT.Broker.Host = opts.host
	}
	if opts.port != 0 {
		cfg.MQTT.Broker.Port = opts.port
	}
	if opts.user != "" {
		cfg.MQTT.Auth.Username = opts.user
	}
	if opts.password != "" {
		cfg.MQTT.Auth.Password = opts.password
	}
	if opts.streetID != "" {
		cfg.Fleet.StreetID = opts.streetID
	}
	if opts.qos >= 0 {
		cfg.MQTT.QoS = opts.qos
	}
	if opts.dbPath != "" {
		cfg.Database.Path = opts.dbPath
	}

	// The tool is a short-lived publisher: no status topic, its own id.
	cfg.MQTT.StatusTopic = ""
	cfg.MQTT.Broker.ClientID = clientIDPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildPayload encodes the single payload flag that was given.
func buildPayload(opts options) ([]byte, error) {
	var payloads []alert.Payload
	if opts.code != "" {
		payloads = append(payloads, alert.Payload{Kind: alert.KindAlerta, Text: opts.code})
	}
	if opts.message != "" {
		payloads = append(payloads, alert.Payload{Kind: alert.KindMessage, Text: opts.message})
	}
	if opts.raw != "" {
		payloads = append(payloads, alert.Payload{Kind: alert.KindPlainText, Text: opts.raw})
	}
	if len(payloads) != 1 {
		return nil, errNoPayload
	}
	return payloads[0].Encode()
}

func publish(ctx context.Context, cfg config.MQTTConfig, topic string, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	client := mqtt.NewClient(cfg)
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer client.Close() //nolint:errcheck // best-effort disconnect after publish

	if err := client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	qos := byte(cfg.QoS) //nolint:gosec // G115: validated to 0..2
	if err := client.Publish(topic, payload, qos, false); err != nil {
		return fmt.Errorf("publishing alert: %w", err)
	}
	return nil
}

// watchFilters returns the subscriptions for --watch.
func watchFilters(streetID string, telemetry bool) []string {
	topics := mqtt.Topics{}
	filters := []string{topics.AllAlerts(streetID)}
	if telemetry {
		filters = append(filters, topics.AllTelemetry(streetID))
	}
	return filters
}

// watch prints every message on filters until ctx is cancelled.
func watch(ctx context.Context, cfg config.MQTTConfig, filters []string, stdout io.Writer) error {
	client := mqtt.NewClient(cfg)

	connectCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	err := client.Connect(connectCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer client.Close() //nolint:errcheck // best-effort disconnect on exit

	if err := client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	printer := &watchPrinter{w: stdout, now: time.Now}
	qos := byte(cfg.QoS) //nolint:gosec // G115: validated to 0..2
	for _, filter := range filters {
		if err := client.Subscribe(filter, qos, printer.handle); err != nil {
			return fmt.Errorf("subscribing to %s: %w", filter, err)
		}
	}
	fmt.Fprintf(stdout, "watching %s\n", strings.Join(filters, ", "))

	<-ctx.Done()
	return nil
}

// watchPrinter writes one line per message. paho may call handle from
// several goroutines.
type watchPrinter struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

func (p *watchPrinter) handle(topic string, payload []byte) error {
	line := topic + " " + string(payload)
	if strings.HasSuffix(topic, "/alerts") || strings.Contains(topic, "/alerts/") {
		decoded := alert.DecodePayload(payload)
		line = fmt.Sprintf("%s %s=%q", topic, decoded.Kind, decoded.Text)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := fmt.Fprintf(p.w, "%s %s\n", p.now().UTC().Format(time.RFC3339), line)
	return err
}

func printHistory(ctx context.Context, cfg *config.Config, opts options, stdout io.Writer) error {
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close() //nolint:errcheck // read-only use

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	repo := journal.NewSQLiteRepository(db.DB)
	result, err := repo.List(ctx, journal.Filter{SensorID: opts.sensorID, Limit: opts.limit})
	if err != nil {
		return fmt.Errorf("listing journal: %w", err)
	}

	writeHistory(stdout, result)
	return nil
}

func writeHistory(w io.Writer, result *journal.ListResult) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RECEIVED\tSENSOR\tKIND\tALERT\tMODE")
	for _, e := range result.Entries {
		mode := e.ToMode
		if e.ModeChanged {
			mode = e.FromMode + " -> " + e.ToMode
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.ReceivedAt.Format(time.RFC3339), e.SensorID, e.PayloadKind, e.AlertText, mode)
	}
	tw.Flush() //nolint:errcheck // output errors surface on the caller's writer
	fmt.Fprintf(w, "%d of %d entries\n", len(result.Entries), result.Total)
}

func printHelp(flagSet *pflag.FlagSet, w io.Writer) {
	fmt.Fprintf(w, `estation-alert sends an alert to one simulated station.

The alert is published to sensors/<street>/<sensor>/alerts. WTH001 puts the
station into error mode and WTH002 restores normal operation. Broker and
street settings default to the simulator's configuration.

Usage:
  estation-alert --sensor <id> (--code <code> | --message <text> | --raw <text>)
  estation-alert --history [--sensor <id>] [--limit n]
  estation-alert --watch [--telemetry]

Flags:
`)
	flagSet.SetOutput(w)
	flagSet.PrintDefaults()
}
