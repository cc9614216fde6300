package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/estation-sim/internal/infrastructure/config"
)

// Client wraps paho.mqtt.golang as a single-session broker transport.
//
// A Client can be connected, lost, and connected again any number of times.
// It never reconnects on its own.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	client   pahomqtt.Client
	cfg      config.MQTTConfig
	clientID string

	// connected tracks current connection state.
	connected bool
	connMu    sync.RWMutex

	// abandoned is set when Connect gave up on an attempt paho is still
	// completing. That session is torn down as soon as it comes up.
	abandoned atomic.Bool

	// onConnectionLost is invoked when the broker link drops unexpectedly.
	onConnectionLost func(err error)
	callbackMu       sync.RWMutex

	// logger for error/panic logging (optional, set via SetLogger).
	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// MessageHandler is the callback signature for received messages.
//
// Parameters:
//   - topic: The topic the message was received on (wildcards expanded)
//   - payload: The raw message payload
//
// Returns:
//   - error: Logged but does not affect message acknowledgment
type MessageHandler func(topic string, payload []byte) error

// NewClient builds a client from config without touching the network.
//
// An empty cfg.Broker.ClientID is replaced with a generated
// weather-sim-xxxxxxxx id. When cfg.StatusTopic is set the client
// registers a Last Will on it.
func NewClient(cfg config.MQTTConfig) *Client {
	clientID := cfg.Broker.ClientID
	if clientID == "" {
		clientID = NewClientID()
	}

	opts := buildClientOptions(cfg, clientID)
	if cfg.StatusTopic != "" {
		configureLWT(opts, cfg.StatusTopic, clientID)
	}

	c := &Client{
		cfg:      cfg,
		clientID: clientID,
	}

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})

	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleConnectionLost(err)
	})

	c.client = pahomqtt.NewClient(opts)
	return c
}

// Connect performs one connection attempt.
//
// It returns when the broker acknowledges, the attempt fails, the connect
// timeout elapses, or ctx is cancelled, whichever comes first.
//
// Returns:
//   - error: wraps ErrConnectionFailed on any failure
func (c *Client) Connect(ctx context.Context) error {
	c.abandoned.Store(false)
	token := c.client.Connect()

	timer := time.NewTimer(defaultConnectTimeout)
	defer timer.Stop()

	select {
	case <-token.Done():
	case <-ctx.Done():
		c.abandon()
		return fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
	case <-timer.C:
		c.abandon()
		return fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}

	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// OnConnectHandler runs asynchronously and may not have executed yet.
	c.setConnected(true)
	return nil
}

// abandon releases an attempt that is still in flight. paho's Disconnect
// waits in the background for the attempt to finish and then closes the
// network connection, so a late CONNACK never leaves a session open.
func (c *Client) abandon() {
	c.abandoned.Store(true)
	c.client.Disconnect(0)
	c.setConnected(false)
}

// handleConnect is called by paho when the connection is established.
func (c *Client) handleConnect() {
	if c.abandoned.Load() {
		return
	}
	c.setConnected(true)
	c.publishStatus("online", "")
}

// handleConnectionLost is called by paho when the connection drops.
func (c *Client) handleConnectionLost(err error) {
	c.setConnected(false)

	c.callbackMu.RLock()
	callback := c.onConnectionLost
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// publishStatus publishes a retained status message when a status topic is configured.
func (c *Client) publishStatus(status, reason string) {
	if c.cfg.StatusTopic == "" {
		return
	}
	token := c.client.Publish(c.cfg.StatusTopic, 1, true, buildStatusPayload(status, c.clientID, reason))
	token.WaitTimeout(defaultPublishTimeout)
}

// Close gracefully disconnects from the MQTT broker.
//
// A graceful offline status is published first when a status topic is
// configured. Closing a client that is not connected is not an error.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		c.publishStatus("offline", "graceful_shutdown")
	}

	if c.client.IsConnectionOpen() || c.IsConnected() {
		c.client.Disconnect(defaultDisconnectQuiesce)
	}

	c.setConnected(false)
	return nil
}

// HealthCheck verifies the MQTT connection is alive.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	return nil
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	if c.client == nil {
		return false
	}
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client.IsConnectionOpen()
}

// ClientID returns the identifier presented to the broker.
func (c *Client) ClientID() string {
	return c.clientID
}

// SetConnectionLostHandler sets a callback invoked when the connection drops
// unexpectedly. It is not called for Close.
func (c *Client) SetConnectionLostHandler(callback func(err error)) {
	c.callbackMu.Lock()
	c.onConnectionLost = callback
	c.callbackMu.Unlock()
}

// SetLogger sets a logger for error and panic logging.
// If not set, errors in handlers are silently ignored.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) setConnected(v bool) {
	c.connMu.Lock()
	c.connected = v
	c.connMu.Unlock()
}

// getLogger returns the current logger (may be nil).
func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// wrapHandler wraps a MessageHandler with panic recovery and optional logging.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.dispatch(handler, msg.Topic(), msg.Payload())
	}
}

// dispatch invokes handler, recovering from panics.
func (c *Client) dispatch(handler MessageHandler, topic string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Error("MQTT handler panic recovered",
					"topic", topic,
					"panic", r,
				)
			}
		}
	}()

	if err := handler(topic, payload); err != nil {
		if logger := c.getLogger(); logger != nil {
			logger.Warn("MQTT handler returned error",
				"topic", topic,
				"error", err,
			)
		}
	}
}
