package station

import (
	"errors"
	"fmt"
	"time"
)

// Fleet construction errors.
var (
	ErrInvalidCount    = errors.New("station: count must be at least 1")
	ErrInvalidInterval = errors.New("station: publish interval must be positive")
)

// Station placement of the reference deployment: the first station sits at
// baseLatitude/baseLongitude, each following one is offset by the steps.
const (
	baseLatitude    = 40.3971536
	baseLongitude   = -3.6734246
	latitudeStep    = 0.41255
	longitudeStep   = 0.31000
	defaultAltitude = 650.0
)

// FleetOptions configures NewFleet.
type FleetOptions struct {
	Count      int
	StreetID   string
	Interval   time.Duration
	Seed       int64
	SensorType string // defaults to DefaultSensorType
	Prefix     string // defaults to DefaultSensorPrefix
}

// Fleet is the fixed set of simulated stations, in creation order.
// It is never resized after NewFleet.
type Fleet struct {
	stations []*Station
	byID     map[string]*Station
}

// NewFleet builds Count stations. Station i is named Prefix+(i+1) and its
// random source is seeded with Seed+i.
func NewFleet(opts FleetOptions) (*Fleet, error) {
	if opts.Count < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCount, opts.Count)
	}
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidInterval, opts.Interval)
	}
	if opts.SensorType == "" {
		opts.SensorType = DefaultSensorType
	}
	if opts.Prefix == "" {
		opts.Prefix = DefaultSensorPrefix
	}

	f := &Fleet{
		stations: make([]*Station, 0, opts.Count),
		byID:     make(map[string]*Station, opts.Count),
	}

	for i := range opts.Count {
		cfg := Config{
			SensorID:   fmt.Sprintf("%s%d", opts.Prefix, i+1),
			SensorType: opts.SensorType,
			StreetID:   opts.StreetID,
			Interval:   opts.Interval,
			Location: Location{
				Latitude:     baseLatitude + float64(i)*latitudeStep,
				Longitude:    baseLongitude + float64(i)*longitudeStep,
				Altitude:     defaultAltitude,
				District:     DefaultDistrict,
				Neighborhood: DefaultNeighborhood,
			},
		}
		st := New(cfg, opts.Seed+int64(i))
		f.stations = append(f.stations, st)
		f.byID[cfg.SensorID] = st
	}

	return f, nil
}

// Get returns the station with the given sensor identifier.
func (f *Fleet) Get(sensorID string) (*Station, bool) {
	st, ok := f.byID[sensorID]
	return st, ok
}

// Has reports whether sensorID belongs to the fleet.
func (f *Fleet) Has(sensorID string) bool {
	_, ok := f.byID[sensorID]
	return ok
}

// Stations returns the stations in creation order. The slice must not be
// modified.
func (f *Fleet) Stations() []*Station {
	return f.stations
}

// Len returns the fleet size.
func (f *Fleet) Len() int {
	return len(f.stations)
}
