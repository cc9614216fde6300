// Package station simulates a single environmental sensor station.
//
// A Station owns the drifting scalars of one unit (temperature, humidity,
// air quality, illuminance, sound level, pressure, UV index), its operating
// mode and its private random source. Each scheduled tick moves every
// scalar toward a shared set of base targets with gaussian noise and clamps
// it to the quantity's range; Render snapshots the state into the JSON
// telemetry record consumed by downstream ingestion.
//
// # Modes
//
// A station starts in ModeNormal. Alert code "WTH001" switches it to
// ModeError, in which rendered records carry an extra BME680/BSEC-style
// diagnostic block. Alert code "WTH002" switches it back. Every alert,
// recognised or not, requests an out-of-cycle publish.
//
// # Thread Safety
//
// A Station is mutated by the publish scheduler and by inbound alert
// delivery. Every exported method takes the station's own mutex, so a tick
// and an alert on the same station never interleave. Different stations
// share nothing but the read-only Targets.
package station
