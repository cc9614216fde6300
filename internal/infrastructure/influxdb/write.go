package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/estation-sim/internal/station"
)

// MeasurementStationTelemetry is the measurement every record is written to.
const MeasurementStationTelemetry = "station_telemetry"

// StationPoint converts a published record into an InfluxDB point.
//
// The point time is the record timestamp. Records with an unparseable
// timestamp fall back to the current time.
func StationPoint(rec station.Record) *write.Point {
	mode := station.ModeNormal
	if rec.ErrorMode() {
		mode = station.ModeError
	}

	tags := map[string]string{
		"sensor_id":   rec.SensorID,
		"street_id":   rec.StreetID,
		"sensor_type": rec.SensorType,
		"mode":        mode.String(),
	}

	fields := map[string]interface{}{
		"temp":     rec.Data.Temp,
		"humid":    rec.Data.Humid,
		"aqi":      rec.Data.AQI,
		"lux":      rec.Data.Lux,
		"sound_db": rec.Data.SoundDB,
		"atmhpa":   rec.Data.AtmHPa,
		"uv_index": rec.Data.UVIndex,
	}
	if rec.Extra != nil {
		fields["static_iaq"] = rec.Extra.StaticIAQ
	}

	ts, err := time.Parse(station.TimestampFormat, rec.Timestamp)
	if err != nil {
		ts = time.Now()
	}

	return write.NewPoint(MeasurementStationTelemetry, tags, fields, ts)
}

// WriteStationRecord queues one record for the next batch.
// It is a no-op when the client is not connected.
func (c *Client) WriteStationRecord(rec station.Record) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(StationPoint(rec))
}
