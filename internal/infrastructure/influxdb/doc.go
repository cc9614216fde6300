// Package influxdb mirrors published station telemetry into InfluxDB v2.
//
// The mirror is optional and off by default. Every record the simulator
// publishes successfully can also be written as one point of the
// station_telemetry measurement:
//
//	station_telemetry,mode=normal,sensor_id=LABJAV09-G1,sensor_type=weather,street_id=ST_0777 \
//	    temp=22.1,humid=45.3,aqi=41i,lux=251.2,sound_db=45.1,atmhpa=1012.9,uv_index=2i
//
// In error mode static_iaq is added as a field.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteStationRecord(rec)
//
// # Error Handling
//
// Writes are non-blocking and batched. Failures are delivered to the
// callback set with SetOnError and never reach the MQTT publish path.
package influxdb
