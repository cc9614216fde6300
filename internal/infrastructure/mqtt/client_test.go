package mqtt

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/estation-sim/internal/infrastructure/config"
)

// testConfig returns a valid MQTT configuration for testing.
// Broker tests require a running Mosquitto broker at 127.0.0.1:1883 and
// are skipped when none is reachable.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "",
			TLS:      false,
		},
		QoS: 0,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// connectOrSkip connects a client to the local broker or skips the test.
func connectOrSkip(t *testing.T, cfg config.MQTTConfig) *Client {
	t.Helper()

	client := NewClient(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Skipf("no MQTT broker at %s: %v", BrokerURL(cfg), err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// =============================================================================
// Offline Tests
// =============================================================================

func TestNewClientID(t *testing.T) {
	id := NewClientID()
	if !strings.HasPrefix(id, ClientIDPrefix) {
		t.Fatalf("NewClientID() = %q, want prefix %q", id, ClientIDPrefix)
	}
	suffix := strings.TrimPrefix(id, ClientIDPrefix)
	if len(suffix) != 8 {
		t.Errorf("suffix %q length = %d, want 8", suffix, len(suffix))
	}
	for _, r := range suffix {
		if !strings.ContainsRune("0123456789abcdef", r) {
			t.Errorf("suffix %q contains non-hex rune %q", suffix, r)
		}
	}
	if NewClientID() == id {
		t.Error("NewClientID() returned the same id twice")
	}
}

func TestNewClientKeepsConfiguredID(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "weather-sim-fixed"

	client := NewClient(cfg)
	if client.ClientID() != "weather-sim-fixed" {
		t.Errorf("ClientID() = %q, want weather-sim-fixed", client.ClientID())
	}
}

func TestNewClientGeneratesID(t *testing.T) {
	client := NewClient(testConfig())
	if !strings.HasPrefix(client.ClientID(), ClientIDPrefix) {
		t.Errorf("ClientID() = %q, want generated id", client.ClientID())
	}
}

func TestBrokerURL(t *testing.T) {
	tests := []struct {
		name string
		tls  bool
		want string
	}{
		{"plain", false, "tcp://127.0.0.1:1883"},
		{"tls", true, "ssl://127.0.0.1:1883"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Broker.TLS = tt.tls
			if got := BrokerURL(cfg); got != tt.want {
				t.Errorf("BrokerURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildClientOptionsDisablesAutoReconnect(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "sim"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg, "weather-sim-test")
	if opts.AutoReconnect {
		t.Error("AutoReconnect = true, want false")
	}
	if opts.ConnectRetry {
		t.Error("ConnectRetry = true, want false")
	}
	if opts.ClientID != "weather-sim-test" {
		t.Errorf("ClientID = %q, want weather-sim-test", opts.ClientID)
	}
	if opts.Username != "sim" || opts.Password != "secret" {
		t.Errorf("credentials = %q/%q, want sim/secret", opts.Username, opts.Password)
	}
	if !opts.CleanSession {
		t.Error("CleanSession = false, want true")
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(testConfig(), "weather-sim-test")
	configureLWT(opts, "sensors/ST_0777/status", "weather-sim-test")

	if !opts.WillEnabled {
		t.Fatal("WillEnabled = false, want true")
	}
	if opts.WillTopic != "sensors/ST_0777/status" {
		t.Errorf("WillTopic = %q", opts.WillTopic)
	}
	if !opts.WillRetained {
		t.Error("WillRetained = false, want true")
	}
	if !strings.Contains(string(opts.WillPayload), `"status":"offline"`) {
		t.Errorf("WillPayload = %s, want offline status", opts.WillPayload)
	}
}

func TestIsConnected_InitialState(t *testing.T) {
	client := NewClient(testConfig())
	if client.IsConnected() {
		t.Error("IsConnected() = true before Connect(), want false")
	}
}

func TestCloseNil(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v, want nil", err)
	}
}

func TestCloseNeverConnected(t *testing.T) {
	client := NewClient(testConfig())
	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v, want nil", err)
	}
}

func TestHealthCheckDisconnected(t *testing.T) {
	client := NewClient(testConfig())
	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestHealthCheckCancelled(t *testing.T) {
	client := NewClient(testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := client.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() error = %v, want context.Canceled", err)
	}
}

func TestPublishValidation(t *testing.T) {
	client := NewClient(testConfig())

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		want    error
	}{
		{"empty topic", "", []byte("x"), 0, ErrInvalidTopic},
		{"invalid qos", "sensors/ST_0777/G1", []byte("x"), 3, ErrInvalidQoS},
		{"oversized", "sensors/ST_0777/G1", make([]byte, maxPayloadSize+1), 0, ErrPublishFailed},
		{"disconnected", "sensors/ST_0777/G1", []byte("x"), 0, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSubscribeValidation(t *testing.T) {
	client := NewClient(testConfig())
	handler := func(string, []byte) error { return nil }

	tests := []struct {
		name    string
		topic   string
		qos     byte
		handler MessageHandler
		want    error
	}{
		{"empty topic", "", 0, handler, ErrInvalidTopic},
		{"invalid qos", "sensors/#", 3, handler, ErrInvalidQoS},
		{"nil handler", "sensors/#", 0, nil, ErrSubscribeFailed},
		{"disconnected", "sensors/#", 0, handler, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.Subscribe(tt.topic, tt.qos, tt.handler)
			if !errors.Is(err, tt.want) {
				t.Errorf("Subscribe() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestConnectCancelled(t *testing.T) {
	cfg := testConfig()
	// TEST-NET-1, never routable.
	cfg.Broker.Host = "192.0.2.1"

	client := NewClient(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := client.Connect(ctx)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after failed Connect()")
	}
}

// readPacket reads one MQTT control packet and returns its type nibble.
func readPacket(r io.Reader) (byte, error) {
	var header [1]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, err
	}

	length, multiplier := 0, 1
	for {
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		length += int(b[0]&0x7f) * multiplier
		if b[0]&0x80 == 0 {
			break
		}
		multiplier *= 128
	}

	if _, err := io.CopyN(io.Discard, r, int64(length)); err != nil {
		return 0, err
	}
	return header[0] >> 4, nil
}

// TestConnectCancelledReleasesLateSession covers a broker that accepts the
// CONNECT but only acknowledges it after the caller has given up. The late
// session must be closed without announcing the client online.
func TestConnectCancelledReleasesLateSession(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type outcome struct {
		published bool
		closed    bool
	}
	release := make(chan struct{})
	result := make(chan outcome, 1)

	go func() {
		conn, acceptErr := ln.Accept()
		if acceptErr != nil {
			result <- outcome{}
			return
		}
		defer conn.Close()

		if kind, readErr := readPacket(conn); readErr != nil || kind != 1 {
			result <- outcome{}
			return
		}
		cancel()
		<-release

		// CONNACK, session not present, accepted.
		if _, writeErr := conn.Write([]byte{0x20, 0x02, 0x00, 0x00}); writeErr != nil {
			result <- outcome{}
			return
		}

		var out outcome
		conn.SetReadDeadline(time.Now().Add(5 * time.Second)) //nolint:errcheck // test deadline
		for {
			kind, readErr := readPacket(conn)
			if readErr != nil {
				var netErr net.Error
				out.closed = !(errors.As(readErr, &netErr) && netErr.Timeout())
				result <- out
				return
			}
			switch kind {
			case 3: // PUBLISH
				out.published = true
			case 14: // DISCONNECT
				out.closed = true
				result <- out
				return
			}
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	cfg := testConfig()
	cfg.Broker.Port = addr.Port
	cfg.StatusTopic = "sensors/ST_0777/status"

	client := NewClient(cfg)
	err = client.Connect(ctx)
	if !errors.Is(err, ErrConnectionFailed) || !errors.Is(err, context.Canceled) {
		t.Fatalf("Connect() error = %v, want ErrConnectionFailed wrapping context.Canceled", err)
	}
	close(release)

	select {
	case out := <-result:
		if !out.closed {
			t.Error("late session was left open")
		}
		if out.published {
			t.Error("abandoned session published an online status")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("broker goroutine did not finish")
	}

	if client.IsConnected() {
		t.Error("IsConnected() = true after abandoned Connect()")
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

type recordingLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func TestDispatchRecoversPanic(t *testing.T) {
	client := NewClient(testConfig())
	logger := &recordingLogger{}
	client.SetLogger(logger)

	client.dispatch(func(string, []byte) error {
		panic("boom")
	}, "sensors/ST_0777/G1/alerts", nil)

	if len(logger.errors) != 1 {
		t.Errorf("logged errors = %d, want 1", len(logger.errors))
	}
}

func TestDispatchLogsHandlerError(t *testing.T) {
	client := NewClient(testConfig())
	logger := &recordingLogger{}
	client.SetLogger(logger)

	client.dispatch(func(string, []byte) error {
		return errors.New("bad payload")
	}, "sensors/ST_0777/G1/alerts", nil)

	if len(logger.warns) != 1 {
		t.Errorf("logged warnings = %d, want 1", len(logger.warns))
	}
}

func TestHandleConnectionLostInvokesCallback(t *testing.T) {
	client := NewClient(testConfig())
	client.setConnected(true)

	got := make(chan error, 1)
	client.SetConnectionLostHandler(func(err error) { got <- err })

	cause := errors.New("EOF")
	client.handleConnectionLost(cause)

	select {
	case err := <-got:
		if !errors.Is(err, cause) {
			t.Errorf("callback error = %v, want %v", err, cause)
		}
	default:
		t.Fatal("connection lost callback not invoked")
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after connection lost")
	}
}

// =============================================================================
// Topic Tests
// =============================================================================

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"Telemetry", topics.Telemetry("ST_0777", "LABJAV09-G1"), "sensors/ST_0777/LABJAV09-G1"},
		{"Alert", topics.Alert("ST_0777", "LABJAV09-G1"), "sensors/ST_0777/LABJAV09-G1/alerts"},
		{"AlertFilter", topics.AlertFilter("ST_0777", "LABJAV09-G1"), "sensors/ST_0777/LABJAV09-G1/alerts/#"},
		{"AllAlerts", topics.AllAlerts("ST_0777"), "sensors/ST_0777/+/alerts/#"},
		{"AllTelemetry", topics.AllTelemetry("ST_0777"), "sensors/ST_0777/+"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
			}
		})
	}
}

// =============================================================================
// Broker Tests
// =============================================================================

func TestConnectAndClose(t *testing.T) {
	client := connectOrSkip(t, testConfig())

	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close(), want false")
	}
}

func TestPublishSubscribeRoundtrip(t *testing.T) {
	sub := connectOrSkip(t, testConfig())
	pub := connectOrSkip(t, testConfig())

	topics := Topics{}
	received := make(chan string, 1)

	err := sub.Subscribe(topics.AlertFilter("ST_TEST", "G1"), 1, func(topic string, payload []byte) error {
		received <- topic + " " + string(payload)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := pub.Publish(topics.Alert("ST_TEST", "G1")+"/ops", []byte(`{"alerta":"WTH001"}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case got := <-received:
		want := `sensors/ST_TEST/G1/alerts/ops {"alerta":"WTH001"}`
		if got != want {
			t.Errorf("received %q, want %q", got, want)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestReconnectSameClient(t *testing.T) {
	client := connectOrSkip(t, testConfig())

	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}
	if !client.IsConnected() {
		t.Error("IsConnected() = false after second Connect()")
	}
}
