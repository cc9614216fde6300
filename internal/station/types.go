package station

import "time"

// Alert codes understood by the mode state machine.
const (
	// AlertEnterError switches a station into ModeError.
	AlertEnterError = "WTH001"

	// AlertClearError switches a station back to ModeNormal.
	AlertClearError = "WTH002"
)

// Defaults for generated fleets.
const (
	DefaultSensorType   = "weather"
	DefaultSensorPrefix = "LABJAV09-G"
	DefaultDistrict     = "Arganzuela"
	DefaultNeighborhood = "Imperial"
)

// Mode is the operating mode of a station.
type Mode int

const (
	// ModeNormal publishes the standard data block only.
	ModeNormal Mode = iota

	// ModeError additionally publishes the extended diagnostic block.
	ModeError
)

// String returns the mode name used in logs and journal rows.
func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeError:
		return "error"
	default:
		return "unknown"
	}
}

// Location is the fixed placement of a station.
type Location struct {
	Latitude     float64
	Longitude    float64
	Altitude     float64 // meters
	District     string
	Neighborhood string
}

// Config is the immutable identity and schedule of one station.
type Config struct {
	SensorID   string
	SensorType string
	StreetID   string
	Location   Location

	// Interval is the nominal time between two scheduled publishes.
	Interval time.Duration
}

// Targets are the attractor values all stations drift toward.
// One Targets value is shared read-only by the whole fleet.
type Targets struct {
	Temperature float64 `yaml:"temperature"`
	Humidity    float64 `yaml:"humidity"`
	AirQuality  float64 `yaml:"air_quality"`
	Illuminance float64 `yaml:"illuminance"`
	Sound       float64 `yaml:"sound_db"`
	Pressure    float64 `yaml:"pressure_hpa"`
	UVIndex     float64 `yaml:"uv_index"`
}

// DefaultTargets returns the base targets of the reference deployment.
func DefaultTargets() Targets {
	return Targets{
		Temperature: 22.0,
		Humidity:    45.0,
		AirQuality:  55.0,
		Illuminance: 300.0,
		Sound:       48.0,
		Pressure:    1012.0,
		UVIndex:     2.0,
	}
}

// State is a copy of a station's mutable simulation state.
type State struct {
	Temperature float64 // °C
	Humidity    float64 // %RH
	AirQuality  float64 // IAQ index 0-500
	Illuminance float64 // lux
	Sound       float64 // dB
	Pressure    float64 // hPa
	UVIndex     float64

	// StaticIAQ is an exponentially smoothed AirQuality, reported in
	// ModeError only.
	StaticIAQ float64

	Mode         Mode
	LastAlert    string
	ForcePublish bool
}

// initialState is the state every station starts from.
func initialState() State {
	return State{
		Temperature: 22.0,
		Humidity:    45.0,
		AirQuality:  40.0,
		Illuminance: 250.0,
		Sound:       45.0,
		Pressure:    1013.0,
		UVIndex:     2.0,
		StaticIAQ:   40.0,
		Mode:        ModeNormal,
	}
}

// Transition reports the effect of an alert on a station's mode.
type Transition struct {
	From Mode
	To   Mode
}

// Changed reports whether the alert switched the mode.
func (t Transition) Changed() bool {
	return t.From != t.To
}

// Ticket identifies the alert generation a rendered record was built from.
// Passing it back to Acknowledge clears the pending force-publish only if
// no newer alert has arrived since.
type Ticket struct {
	seq uint64
}
