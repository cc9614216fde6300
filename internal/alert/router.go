// Package alert maps inbound alert messages to stations.
//
// Alerts arrive on topics shaped sensors/<streetId>/<sensorId>/alerts[/...].
// The sensor identifier is the third topic segment. Payloads are decoded
// into a tagged Payload: a JSON object carrying "alerta" or "message", or
// plain text for anything else.
package alert

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Routing errors. Both are expected in normal operation and are logged and
// dropped by callers rather than treated as failures.
var (
	// ErrMalformedTopic is returned when the topic has fewer than three segments.
	ErrMalformedTopic = errors.New("alert: malformed topic")

	// ErrUnknownStation is returned when the topic addresses a station
	// that is not part of the fleet.
	ErrUnknownStation = errors.New("alert: unknown station")
)

// sensorSegment is the zero-based topic segment holding the sensor id.
const sensorSegment = 2

// Kind tags how the alert text was obtained from the payload.
type Kind int

const (
	// KindPlainText means the payload was not a JSON object with a known
	// key; the text is the trimmed payload.
	KindPlainText Kind = iota

	// KindAlerta means the text came from the "alerta" key.
	KindAlerta

	// KindMessage means the text came from the "message" key.
	KindMessage
)

// String returns the kind name used in logs.
func (k Kind) String() string {
	switch k {
	case KindAlerta:
		return "alerta"
	case KindMessage:
		return "message"
	default:
		return "plain"
	}
}

// Payload is a decoded alert payload.
type Payload struct {
	Kind Kind
	Text string
}

// Alert is a routed alert ready to be applied to a station.
type Alert struct {
	StationID string
	Topic     string
	Payload   Payload
}

// Fleet is the membership lookup the router needs.
type Fleet interface {
	Has(sensorID string) bool
}

// Router resolves alert topics against a fleet.
type Router struct {
	fleet Fleet
}

// NewRouter creates a router for fleet.
func NewRouter(fleet Fleet) *Router {
	return &Router{fleet: fleet}
}

// Route resolves the addressed station and decodes the payload.
//
// Returns:
//   - Alert: station id, raw topic and decoded payload
//   - error: ErrMalformedTopic or ErrUnknownStation (wrapped); the decoded
//     payload is still filled in so callers can log it
func (r *Router) Route(topic string, payload []byte) (Alert, error) {
	a := Alert{Topic: topic, Payload: DecodePayload(payload)}

	id, ok := StationFromTopic(topic)
	if !ok {
		return a, fmt.Errorf("%w: %q", ErrMalformedTopic, topic)
	}
	a.StationID = id

	if !r.fleet.Has(id) {
		return a, fmt.Errorf("%w: %q", ErrUnknownStation, id)
	}
	return a, nil
}

// StationFromTopic extracts the sensor identifier from an alert topic.
func StationFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) <= sensorSegment {
		return "", false
	}
	return parts[sensorSegment], true
}

// DecodePayload applies the fallback chain: "alerta" key, then "message"
// key, then the whitespace-trimmed raw text. Invalid UTF-8 is replaced
// before decoding.
func DecodePayload(payload []byte) Payload {
	raw := strings.TrimSpace(toValidUTF8(payload))

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &obj); err != nil || obj == nil {
		return Payload{Kind: KindPlainText, Text: raw}
	}

	if v, ok := obj["alerta"]; ok {
		return Payload{Kind: KindAlerta, Text: valueText(v)}
	}
	if v, ok := obj["message"]; ok {
		return Payload{Kind: KindMessage, Text: valueText(v)}
	}
	return Payload{Kind: KindPlainText, Text: raw}
}

// Encode renders the payload the way an operator publishes it. Plain text
// is sent as is.
func (p Payload) Encode() ([]byte, error) {
	switch p.Kind {
	case KindAlerta:
		return json.Marshal(struct {
			Alerta string `json:"alerta"`
		}{p.Text})
	case KindMessage:
		return json.Marshal(struct {
			Message string `json:"message"`
		}{p.Text})
	default:
		return []byte(p.Text), nil
	}
}

// valueText renders a JSON value as alert text: strings are unquoted, the
// literals true, false and null read True, False and None, and anything
// else is kept as its JSON source.
func valueText(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}

	src := string(bytes.TrimSpace(v))
	switch src {
	case "true":
		return "True"
	case "false":
		return "False"
	case "null":
		return "None"
	}
	return src
}

func toValidUTF8(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return string(bytes.ToValidUTF8(b, []byte("�")))
}
