// Package scheduler decides when each station publishes.
//
// Every station carries its own next-due time on the monotonic clock. A
// station is due when that time has passed, or when an out-of-cycle
// publish is pending and the broker is connected. The next due time is
// always computed from the tick time so late ticks do not accumulate
// drift.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/estation-sim/internal/infrastructure/mqtt"
	"github.com/nerrad567/estation-sim/internal/station"
)

// Defaults.
const (
	DefaultPollInterval  = 100 * time.Millisecond
	DefaultStaggerWindow = 300 * time.Millisecond
)

// Publisher delivers encoded records. connection.Manager satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte) error
	Connected() bool
}

// Logger is the logging surface the scheduler needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options configures a Scheduler.
type Options struct {
	// Interval is the regular publish period of every station.
	Interval time.Duration

	// PollInterval is how often Run checks for due stations.
	PollInterval time.Duration

	// StaggerWindow bounds the random initial offset per station.
	StaggerWindow time.Duration

	// Targets are the drift attractors passed to every tick.
	Targets station.Targets

	// Logger receives per-publish outcomes (optional).
	Logger Logger

	// OnPublished is called after each successful publish (optional).
	OnPublished func(rec station.Record, mode station.Mode)
}

// Stats counts publish outcomes since construction.
type Stats struct {
	Published uint64
	Failed    uint64
}

type entry struct {
	station *station.Station
	topic   string
	nextDue time.Time
}

// Scheduler drives tick, render and publish for a set of stations.
//
// Step is not safe for concurrent use with itself; Run serialises calls.
type Scheduler struct {
	entries   []*entry
	publisher Publisher
	opts      Options
	logger    Logger

	statsMu sync.Mutex
	stats   Stats
}

// New creates a Scheduler. Initial due times are start plus a per-station
// offset drawn from each station's own random source.
func New(stations []*station.Station, publisher Publisher, opts Options, start time.Time) *Scheduler {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.StaggerWindow <= 0 {
		opts.StaggerWindow = DefaultStaggerWindow
	}

	s := &Scheduler{
		publisher: publisher,
		opts:      opts,
		logger:    opts.Logger,
	}
	if s.logger == nil {
		s.logger = nopLogger{}
	}

	topics := mqtt.Topics{}
	for _, st := range stations {
		cfg := st.Config()
		s.entries = append(s.entries, &entry{
			station: st,
			topic:   topics.Telemetry(cfg.StreetID, cfg.SensorID),
			nextDue: start.Add(st.Stagger(opts.StaggerWindow)),
		})
	}

	return s
}

// interval returns the publish period for a station, falling back to the
// scheduler default when the station has none.
func (s *Scheduler) interval(st *station.Station) time.Duration {
	if d := st.Config().Interval; d > 0 {
		return d
	}
	return s.opts.Interval
}

// Step publishes every station due at now and returns how many were
// attempted. It stops early, without publishing, once ctx is done.
func (s *Scheduler) Step(ctx context.Context, now time.Time) int {
	attempted := 0
	connected := s.publisher.Connected()

	for _, e := range s.entries {
		if ctx.Err() != nil {
			return attempted
		}

		due := !now.Before(e.nextDue) || (connected && e.station.ForcePublish())
		if !due {
			continue
		}

		rec, ticket := e.station.Advance(s.opts.Targets, now)
		e.nextDue = now.Add(s.interval(e.station))

		payload, err := rec.Marshal()
		if err != nil {
			s.logger.Error("encoding telemetry record failed", "sensor_id", rec.SensorID, "error", err)
			continue
		}

		if ctx.Err() != nil {
			return attempted
		}

		attempted++
		errorMode := rec.ErrorMode()
		if err := s.publisher.Publish(e.topic, payload); err != nil {
			e.station.RequestPublish()
			s.count(false)
			s.logger.Warn("publish failed",
				"topic", e.topic,
				"bytes", len(payload),
				"error_mode", errorMode,
				"error", err,
			)
			continue
		}

		e.station.Acknowledge(ticket)
		s.count(true)
		s.logger.Info("published",
			"topic", e.topic,
			"bytes", len(payload),
			"error_mode", errorMode,
		)

		if s.opts.OnPublished != nil {
			mode := station.ModeNormal
			if errorMode {
				mode = station.ModeError
			}
			s.opts.OnPublished(rec, mode)
		}
	}

	return attempted
}

// Run calls Step every poll interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	s.logger.Info("scheduler started",
		"stations", len(s.entries),
		"poll_interval", s.opts.PollInterval.String(),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case now := <-ticker.C:
			s.Step(ctx, now)
		}
	}
}

// NextDue returns the next regular due time of a station.
func (s *Scheduler) NextDue(sensorID string) (time.Time, bool) {
	for _, e := range s.entries {
		if e.station.ID() == sensorID {
			return e.nextDue, true
		}
	}
	return time.Time{}, false
}

// Stats returns a copy of the publish counters.
func (s *Scheduler) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

func (s *Scheduler) count(ok bool) {
	s.statsMu.Lock()
	if ok {
		s.stats.Published++
	} else {
		s.stats.Failed++
	}
	s.statsMu.Unlock()
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
