// Package simulator wires the fleet, the alert router, the connection
// manager and the publish scheduler into one process-lifetime run.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/estation-sim/internal/alert"
	"github.com/nerrad567/estation-sim/internal/connection"
	"github.com/nerrad567/estation-sim/internal/infrastructure/mqtt"
	"github.com/nerrad567/estation-sim/internal/journal"
	"github.com/nerrad567/estation-sim/internal/scheduler"
	"github.com/nerrad567/estation-sim/internal/station"
)

const (
	// journalTimeout bounds a single journal write.
	journalTimeout = 2 * time.Second

	// journalBuffer is how many routed alerts may wait for the journal
	// writer before new ones are dropped.
	journalBuffer = 64
)

// Logger is the logging surface shared by every component.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Journal appends routed alerts. *journal.SQLiteRepository satisfies it.
type Journal interface {
	Record(ctx context.Context, entry *journal.Entry) error
}

// Mirror receives every successfully published record.
// *influxdb.Client satisfies it.
type Mirror interface {
	WriteStationRecord(rec station.Record)
}

// Options configures a Simulator.
type Options struct {
	Fleet     *station.Fleet
	Transport connection.Transport
	Targets   station.Targets

	// Interval is the fallback publish period for stations without one.
	Interval     time.Duration
	PollInterval time.Duration

	// InitialDelay and MaxDelay bound the reconnect backoff.
	InitialDelay time.Duration
	MaxDelay     time.Duration

	QoS byte

	Logger  Logger
	Journal Journal // optional
	Mirror  Mirror  // optional
}

// Simulator is a running fleet.
type Simulator struct {
	fleet     *station.Fleet
	router    *alert.Router
	manager   *connection.Manager
	scheduler *scheduler.Scheduler
	journal   Journal
	entries   chan journal.Entry
	mirror    Mirror
	logger    Logger
}

// New wires the components. No network activity happens until Run.
func New(opts Options) (*Simulator, error) {
	if opts.Fleet == nil || opts.Fleet.Len() == 0 {
		return nil, fmt.Errorf("simulator: %w", station.ErrInvalidCount)
	}
	if opts.Transport == nil {
		return nil, errors.New("simulator: transport is required")
	}

	s := &Simulator{
		fleet:   opts.Fleet,
		router:  alert.NewRouter(opts.Fleet),
		journal: opts.Journal,
		mirror:  opts.Mirror,
		logger:  opts.Logger,
	}
	if s.logger == nil {
		s.logger = nopLogger{}
	}
	if s.journal != nil {
		s.entries = make(chan journal.Entry, journalBuffer)
	}

	topics := mqtt.Topics{}
	filters := make([]string, 0, opts.Fleet.Len())
	for _, st := range opts.Fleet.Stations() {
		cfg := st.Config()
		filters = append(filters, topics.AlertFilter(cfg.StreetID, cfg.SensorID))
	}

	s.manager = connection.New(opts.Transport, connection.Options{
		Filters:      filters,
		QoS:          opts.QoS,
		InitialDelay: opts.InitialDelay,
		MaxDelay:     opts.MaxDelay,
		Logger:       s.logger,
	}, s.HandleMessage)

	s.scheduler = scheduler.New(opts.Fleet.Stations(), s.manager, scheduler.Options{
		Interval:     opts.Interval,
		PollInterval: opts.PollInterval,
		Targets:      opts.Targets,
		Logger:       s.logger,
		OnPublished:  s.mirrorRecord,
	}, time.Now())

	return s, nil
}

// Run drives the connection manager and the scheduler until ctx is
// cancelled. It returns once both have stopped and the transport is closed.
func (s *Simulator) Run(ctx context.Context) error {
	s.logger.Info("starting station fleet", "stations", s.fleet.Len())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.manager.Run(gctx) })
	g.Go(func() error { return s.scheduler.Run(gctx) })
	if s.entries != nil {
		g.Go(func() error { return s.writeJournal(gctx) })
	}

	err := g.Wait()

	stats := s.scheduler.Stats()
	s.logger.Info("station fleet stopped",
		"published", stats.Published,
		"failed", stats.Failed,
		"connect_attempts", s.manager.Stats().ConnectAttempts,
	)
	return err
}

// HandleMessage routes one inbound message and applies it to its station.
// Malformed topics and unknown stations are logged and dropped.
func (s *Simulator) HandleMessage(topic string, payload []byte) {
	a, err := s.router.Route(topic, payload)
	switch {
	case errors.Is(err, alert.ErrMalformedTopic):
		s.logger.Warn("dropping alert with malformed topic", "topic", topic)
		return
	case errors.Is(err, alert.ErrUnknownStation):
		s.logger.Warn("dropping alert for unknown station", "topic", topic, "sensor_id", a.StationID)
		return
	case err != nil:
		s.logger.Error("routing alert failed", "topic", topic, "error", err)
		return
	}

	st, ok := s.fleet.Get(a.StationID)
	if !ok {
		return
	}

	tr := st.ApplyAlert(a.Payload.Text)
	s.logger.Info("alert received",
		"sensor_id", a.StationID,
		"alert", a.Payload.Text,
		"payload_kind", a.Payload.Kind.String(),
		"mode", tr.To.String(),
		"mode_changed", tr.Changed(),
	)

	s.recordAlert(st.Config(), a, tr)
}

// recordAlert queues the alert for writeJournal. It never blocks the
// message delivery goroutine; a full queue drops the entry.
func (s *Simulator) recordAlert(cfg station.Config, a alert.Alert, tr station.Transition) {
	if s.entries == nil {
		return
	}

	entry := journal.Entry{
		SensorID:    cfg.SensorID,
		StreetID:    cfg.StreetID,
		Topic:       a.Topic,
		PayloadKind: a.Payload.Kind.String(),
		AlertText:   a.Payload.Text,
		FromMode:    tr.From.String(),
		ToMode:      tr.To.String(),
		ModeChanged: tr.Changed(),
		ReceivedAt:  time.Now().UTC(),
	}

	select {
	case s.entries <- entry:
	default:
		s.logger.Warn("journal queue full, dropping alert", "sensor_id", cfg.SensorID, "alert", a.Payload.Text)
	}
}

// writeJournal appends queued alerts until ctx is cancelled, then writes
// whatever is still queued.
func (s *Simulator) writeJournal(ctx context.Context) error {
	for {
		select {
		case entry := <-s.entries:
			s.writeEntry(&entry)
		case <-ctx.Done():
			for {
				select {
				case entry := <-s.entries:
					s.writeEntry(&entry)
				default:
					return nil
				}
			}
		}
	}
}

func (s *Simulator) writeEntry(entry *journal.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()

	if err := s.journal.Record(ctx, entry); err != nil {
		s.logger.Warn("journaling alert failed", "sensor_id", entry.SensorID, "error", err)
	}
}

func (s *Simulator) mirrorRecord(rec station.Record, _ station.Mode) {
	if s.mirror != nil {
		s.mirror.WriteStationRecord(rec)
	}
}

// Connected reports whether the broker session is up.
func (s *Simulator) Connected() bool {
	return s.manager.Connected()
}

// Stats returns the scheduler's publish counters.
func (s *Simulator) Stats() scheduler.Stats {
	return s.scheduler.Stats()
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
