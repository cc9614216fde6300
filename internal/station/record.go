package station

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// TimestampFormat renders UTC timestamps with millisecond precision,
// e.g. 2025-12-20T14:22:33.123Z.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// Fixed values reported in the diagnostic block.
const (
	bsecStatus          = 0
	stabilizationStatus = 3
	runInStatus         = 1
)

// Record is one telemetry message. Field order matches the wire schema.
type Record struct {
	SensorID   string         `json:"sensor_id"`
	SensorType string         `json:"sensor_type"`
	StreetID   string         `json:"street_id"`
	Timestamp  string         `json:"timestamp"`
	Location   RecordLocation `json:"location"`
	Data       Readings       `json:"data"`
	Extra      *Diagnostics   `json:"extra,omitempty"`
}

// RecordLocation is the location block of a record.
type RecordLocation struct {
	Lat          float64 `json:"lat"`
	Long         float64 `json:"long"`
	Alt          float64 `json:"alt"`
	District     string  `json:"district"`
	Neighborhood string  `json:"neighborhood"`
}

// Readings is the data block of a record.
type Readings struct {
	Temp    float64 `json:"temp"`
	Humid   float64 `json:"humid"`
	AQI     int     `json:"aqi"`
	Lux     float64 `json:"lux"`
	SoundDB float64 `json:"sound_db"`
	AtmHPa  float64 `json:"atmhpa"`
	UVIndex int     `json:"uv_index"`
}

// Diagnostics is the extended block present only in ModeError.
type Diagnostics struct {
	BSECStatus          int     `json:"bsec_status"`
	IAQ                 float64 `json:"iaq"`
	StaticIAQ           float64 `json:"static_iaq"`
	CO2Eq               float64 `json:"co2_eq"`
	BreathVOCEq         float64 `json:"breath_voc_eq"`
	RawTemperature      float64 `json:"raw_temperature"`
	RawHumidity         float64 `json:"raw_humidity"`
	PressureHPa         float64 `json:"pressure_hpa"`
	GasResistanceOhm    float64 `json:"gas_resistance_ohm"`
	GasPercentage       float64 `json:"gas_percentage"`
	StabilizationStatus int     `json:"stabilization_status"`
	RunInStatus         int     `json:"run_in_status"`
	SensorHeatCompTemp  float64 `json:"sensor_heat_comp_temp"`
	SensorHeatCompHum   float64 `json:"sensor_heat_comp_hum"`
}

// Marshal encodes the record as compact JSON without HTML escaping and
// without a trailing newline.
func (r Record) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r); err != nil {
		return nil, fmt.Errorf("encoding record for %s: %w", r.SensorID, err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// ErrorMode reports whether the record carries the diagnostic block.
func (r Record) ErrorMode() bool {
	return r.Extra != nil
}

func (s *Station) renderLocked(at time.Time) Record {
	st := s.state
	loc := s.cfg.Location

	rec := Record{
		SensorID:   s.cfg.SensorID,
		SensorType: s.cfg.SensorType,
		StreetID:   s.cfg.StreetID,
		Timestamp:  at.UTC().Format(TimestampFormat),
		Location: RecordLocation{
			Lat:          roundTo(loc.Latitude, 6),
			Long:         roundTo(loc.Longitude, 6),
			Alt:          roundTo(loc.Altitude, 1),
			District:     loc.District,
			Neighborhood: loc.Neighborhood,
		},
		Data: Readings{
			Temp:    roundTo(st.Temperature, 2),
			Humid:   roundTo(st.Humidity, 2),
			AQI:     roundInt(st.AirQuality),
			Lux:     roundTo(st.Illuminance, 2),
			SoundDB: roundTo(st.Sound, 2),
			AtmHPa:  roundTo(st.Pressure, 2),
			UVIndex: roundInt(st.UVIndex),
		},
	}

	if st.Mode == ModeError {
		rec.Extra = s.diagnosticsLocked()
	}
	return rec
}

// diagnosticsLocked derives the BSEC-style block. The formulas have no
// physical derivation; consumers depend on them as they are. Random draws
// happen in field order: raw temperature, raw humidity, gas resistance,
// gas percentage.
func (s *Station) diagnosticsLocked() *Diagnostics {
	st := s.state

	co2 := clamp(400.0+st.AirQuality*3.0, 400, 5000)
	voc := clamp(0.5+st.AirQuality/120.0, 0, 10)
	rawTemp := st.Temperature + s.rng.NormFloat64()*0.25
	rawHum := st.Humidity + s.rng.NormFloat64()*1.0
	gasOhm := clamp(5000+(500-st.AirQuality)*30+s.rng.NormFloat64()*250, 500, 200000)
	gasPct := clamp(100.0-st.AirQuality/5.0+s.rng.NormFloat64()*1.5, 0, 100)

	return &Diagnostics{
		BSECStatus:          bsecStatus,
		IAQ:                 roundTo(st.AirQuality, 2),
		StaticIAQ:           roundTo(st.StaticIAQ, 2),
		CO2Eq:               roundTo(co2, 2),
		BreathVOCEq:         roundTo(voc, 2),
		RawTemperature:      roundTo(rawTemp, 2),
		RawHumidity:         roundTo(rawHum, 2),
		PressureHPa:         roundTo(st.Pressure, 2),
		GasResistanceOhm:    roundTo(gasOhm, 2),
		GasPercentage:       roundTo(gasPct, 2),
		StabilizationStatus: stabilizationStatus,
		RunInStatus:         runInStatus,
		SensorHeatCompTemp:  roundTo(st.Temperature, 2),
		SensorHeatCompHum:   roundTo(st.Humidity, 2),
	}
}

// roundTo rounds the exact binary value of x to places decimals, ties to
// even. Scaling by a power of ten first would move some values onto a tie.
func roundTo(x float64, places int) float64 {
	v, err := strconv.ParseFloat(strconv.FormatFloat(x, 'f', places, 64), 64)
	if err != nil {
		return x
	}
	return v
}

// roundInt rounds half to even, matching how the reference firmware
// reports integer indices.
func roundInt(x float64) int {
	return int(math.RoundToEven(x))
}
