package mqtt

import "fmt"

// TopicPrefixSensors is the root of every station topic.
const TopicPrefixSensors = "sensors"

// Topics provides builders for station MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.Telemetry("ST_0777", "LABJAV09-G1")
//	// Returns: "sensors/ST_0777/LABJAV09-G1"
type Topics struct{}

// Telemetry returns the topic a station publishes its records on.
//
// Example: sensors/ST_0777/LABJAV09-G1
func (Topics) Telemetry(streetID, sensorID string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefixSensors, streetID, sensorID)
}

// Alert returns the topic operators publish alerts to for one station.
//
// Example: sensors/ST_0777/LABJAV09-G1/alerts
func (Topics) Alert(streetID, sensorID string) string {
	return fmt.Sprintf("%s/%s/%s/alerts", TopicPrefixSensors, streetID, sensorID)
}

// AlertFilter returns the subscription filter covering a station's alert
// topic and everything below it.
//
// Example: sensors/ST_0777/LABJAV09-G1/alerts/#
func (Topics) AlertFilter(streetID, sensorID string) string {
	return fmt.Sprintf("%s/%s/%s/alerts/#", TopicPrefixSensors, streetID, sensorID)
}

// AllAlerts returns a filter matching every station's alerts on a street.
//
// Example: sensors/ST_0777/+/alerts/#
func (Topics) AllAlerts(streetID string) string {
	return fmt.Sprintf("%s/%s/+/alerts/#", TopicPrefixSensors, streetID)
}

// AllTelemetry returns a filter matching every station's telemetry on a street.
//
// Example: sensors/ST_0777/+
func (Topics) AllTelemetry(streetID string) string {
	return fmt.Sprintf("%s/%s/+", TopicPrefixSensors, streetID)
}
