package station

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Station is the simulation engine of one sensor unit.
type Station struct {
	cfg Config

	mu    sync.Mutex
	state State
	rng   *rand.Rand

	// alertSeq counts alerts applied; it lets Acknowledge detect alerts
	// that arrived while a record was in flight.
	alertSeq uint64
}

// New creates a station in its initial state. The random source is seeded
// from seed alone, so two stations built with the same seed and fed the
// same calls produce identical output.
func New(cfg Config, seed int64) *Station {
	return &Station{
		cfg:   cfg,
		state: initialState(),
		rng:   newRand(seed),
	}
}

// newRand returns a deterministic PCG source for seed.
func newRand(seed int64) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x5deece66d)) // #nosec G404 -- simulation noise, not security
}

// Config returns the station's immutable configuration.
func (s *Station) Config() Config {
	return s.cfg
}

// ID returns the sensor identifier.
func (s *Station) ID() string {
	return s.cfg.SensorID
}

// Tick advances every drifting scalar one step toward base and updates the
// smoothed IAQ.
func (s *Station) Tick(base Targets) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickLocked(base)
}

func (s *Station) tickLocked(base Targets) {
	st := &s.state
	st.Temperature = TemperatureDrift.Apply(st.Temperature, base.Temperature, s.rng)
	st.Humidity = HumidityDrift.Apply(st.Humidity, base.Humidity, s.rng)
	st.AirQuality = AirQualityDrift.Apply(st.AirQuality, base.AirQuality, s.rng)
	st.Illuminance = IlluminanceDrift.Apply(st.Illuminance, base.Illuminance, s.rng)
	st.Sound = SoundDrift.Apply(st.Sound, base.Sound, s.rng)
	st.Pressure = PressureDrift.Apply(st.Pressure, base.Pressure, s.rng)
	st.UVIndex = UVIndexDrift.Apply(st.UVIndex, base.UVIndex, s.rng)

	st.StaticIAQ = 0.9*st.StaticIAQ + 0.1*st.AirQuality
}

// Render snapshots the current state into a telemetry record stamped with
// at. In ModeError it consumes four random draws for the jittered
// diagnostic fields.
func (s *Station) Render(at time.Time) Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.renderLocked(at)
}

// Advance ticks and renders under a single lock acquisition, so an alert
// cannot land between the two. The returned Ticket must be passed to
// Acknowledge once the record has been published.
func (s *Station) Advance(base Targets, at time.Time) (Record, Ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tickLocked(base)
	return s.renderLocked(at), Ticket{seq: s.alertSeq}
}

// ApplyAlert runs the mode state machine for one alert text, records the
// text and requests an out-of-cycle publish.
func (s *Station) ApplyAlert(text string) Transition {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := Transition{From: s.state.Mode, To: s.state.Mode}
	switch text {
	case AlertEnterError:
		t.To = ModeError
	case AlertClearError:
		t.To = ModeNormal
	}

	s.state.Mode = t.To
	s.state.LastAlert = text
	s.state.ForcePublish = true
	s.alertSeq++

	return t
}

// Acknowledge marks a successful publish of the record issued with ticket.
// The force-publish flag is cleared only if no alert was applied after the
// record was rendered; it reports whether the flag was cleared.
func (s *Station) Acknowledge(ticket Ticket) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ticket.seq != s.alertSeq || !s.state.ForcePublish {
		return false
	}
	s.state.ForcePublish = false
	return true
}

// RequestPublish sets the force-publish flag so the station is published
// again at the next opportunity. Used when a publish attempt fails.
func (s *Station) RequestPublish() {
	s.mu.Lock()
	s.state.ForcePublish = true
	s.mu.Unlock()
}

// ForcePublish reports whether an out-of-cycle publish is pending.
func (s *Station) ForcePublish() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.ForcePublish
}

// Mode returns the current operating mode.
func (s *Station) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Mode
}

// Snapshot returns a copy of the current state.
func (s *Station) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stagger draws a uniform offset in [0, window) from the station's random
// source. The scheduler uses it once per station to spread initial
// publishes.
func (s *Station) Stagger(window time.Duration) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Duration(s.rng.Float64() * float64(window))
}
