// Package mqtt provides the broker transport for the station simulator.
//
// This package manages:
//   - A single paho client identified as weather-sim-<suffix>
//   - Telemetry publishing with the configured QoS
//   - Alert topic subscriptions with wildcard support
//   - Optional Last Will and retained online/offline status
//
// Reconnection is NOT handled here. Paho's auto-reconnect is disabled so
// that the connection package owns the backoff schedule and decides when
// subscriptions are re-established.
//
// # Topic Layout
//
//	sensors/<street_id>/<sensor_id>            telemetry (outbound)
//	sensors/<street_id>/<sensor_id>/alerts/#   alerts (inbound)
//
// # Usage
//
//	client := mqtt.NewClient(cfg.MQTT)
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topic := mqtt.Topics{}.Telemetry("ST_0777", "LABJAV09-G1")
//	err := client.Publish(topic, payload, 0, false)
package mqtt
