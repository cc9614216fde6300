package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nerrad567/estation-sim/internal/infrastructure/mqtt"
)

// Default reconnect bounds.
const (
	DefaultInitialDelay = 1 * time.Second
	DefaultMaxDelay     = 60 * time.Second
)

var (
	// ErrNotConnected is returned by Publish while the manager is not Connected.
	ErrNotConnected = errors.New("connection: not connected")

	// ErrConnectFailed wraps a failed connect or subscribe attempt.
	ErrConnectFailed = errors.New("connection: connect failed")

	// ErrReconnectInProgress is returned when a reconnect loop is already running.
	ErrReconnectInProgress = errors.New("connection: reconnect already in progress")
)

// State is the connection state of a Manager.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Transport is the broker client a Manager drives.
// *mqtt.Client satisfies it.
type Transport interface {
	Connect(ctx context.Context) error
	Close() error
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	SetConnectionLostHandler(callback func(err error))
}

// Logger is the logging surface the manager needs.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// MessageFunc receives inbound messages verbatim.
type MessageFunc func(topic string, payload []byte)

// WaitFunc blocks for d or until ctx is done.
type WaitFunc func(ctx context.Context, d time.Duration) error

// Options configures a Manager.
type Options struct {
	// Filters are subscribed on every successful connect.
	Filters []string

	// QoS is used for publishes and subscriptions.
	QoS byte

	// InitialDelay and MaxDelay bound the reconnect backoff.
	InitialDelay time.Duration
	MaxDelay     time.Duration

	// Logger receives state transitions and attempt outcomes (optional).
	Logger Logger

	// Wait overrides the backoff sleep (optional, used by tests).
	Wait WaitFunc
}

// Stats is a point-in-time view of the manager.
type Stats struct {
	State             State
	Reconnecting      bool
	ConnectAttempts   uint64
	ConnectionsLost   uint64
	SubscribedFilters int
}

// Manager runs the connect / reconnect state machine over a Transport.
//
// Thread Safety:
//   - Publish, Connected, State and Stats are safe for concurrent use.
//   - Run must be called once.
type Manager struct {
	transport Transport
	opts      Options
	onMessage MessageFunc
	logger    Logger
	wait      WaitFunc

	state        atomic.Int32
	reconnecting atomic.Bool
	attempts     atomic.Uint64
	lostCount    atomic.Uint64

	// lost carries connection-lost notifications from the transport to Run.
	lost chan error

	bo   *backoff.ExponentialBackOff
	boMu sync.Mutex
}

// New creates a Manager. onMessage may be nil.
func New(transport Transport, opts Options, onMessage MessageFunc) *Manager {
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = DefaultInitialDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = DefaultMaxDelay
	}
	if opts.MaxDelay < opts.InitialDelay {
		opts.MaxDelay = opts.InitialDelay
	}

	m := &Manager{
		transport: transport,
		opts:      opts,
		onMessage: onMessage,
		logger:    opts.Logger,
		wait:      opts.Wait,
		lost:      make(chan error, 1),
		bo:        newBackOff(opts.InitialDelay, opts.MaxDelay),
	}
	if m.logger == nil {
		m.logger = nopLogger{}
	}
	if m.wait == nil {
		m.wait = sleep
	}

	transport.SetConnectionLostHandler(m.handleConnectionLost)
	return m
}

// newBackOff returns a deterministic doubling backoff that never gives up.
func newBackOff(initial, ceiling time.Duration) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initial
	bo.MaxInterval = ceiling
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// Run connects and keeps the session alive until ctx is cancelled.
//
// The first attempt is made immediately. After a failed attempt or a lost
// connection the manager waits the current backoff delay before trying
// again. On return the transport is closed and the state is Disconnected.
func (m *Manager) Run(ctx context.Context) error {
	defer m.shutdown()

	connected := m.connect(ctx) == nil
	for {
		if !connected {
			if err := m.reconnect(ctx); err != nil {
				return nil //nolint:nilerr // cancellation is a clean stop
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case cause := <-m.lost:
			m.logger.Warn("MQTT connection lost", "error", cause)
			connected = false
		}
	}
}

// reconnect waits and retries until connected or ctx is done.
// Only one reconnect loop may run at a time.
func (m *Manager) reconnect(ctx context.Context) error {
	if !m.reconnecting.CompareAndSwap(false, true) {
		return ErrReconnectInProgress
	}
	defer m.reconnecting.Store(false)

	for {
		delay := m.nextDelay()
		m.logger.Info("reconnecting to MQTT broker",
			"delay", delay.String(),
			"attempt", m.attempts.Load()+1,
		)

		if err := m.wait(ctx, delay); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := m.connect(ctx); err == nil {
			return nil
		}
	}
}

// connect performs one attempt: connect, subscribe every filter, reset backoff.
func (m *Manager) connect(ctx context.Context) error {
	// Drop a stale notification from a previous session.
	select {
	case <-m.lost:
	default:
	}

	m.setState(StateConnecting)
	m.attempts.Add(1)

	if err := m.transport.Connect(ctx); err != nil {
		m.setState(StateDisconnected)
		m.logger.Warn("MQTT connect failed", "error", err)
		return fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	for _, filter := range m.opts.Filters {
		if err := m.transport.Subscribe(filter, m.opts.QoS, m.deliver); err != nil {
			m.logger.Warn("MQTT subscribe failed", "filter", filter, "error", err)
			m.transport.Close() //nolint:errcheck // retried on next attempt
			m.setState(StateDisconnected)
			return fmt.Errorf("%w: subscribe %s: %w", ErrConnectFailed, filter, err)
		}
		m.logger.Debug("subscribed", "filter", filter)
	}

	m.resetDelay()
	m.setState(StateConnected)
	return nil
}

// handleConnectionLost is registered with the transport.
func (m *Manager) handleConnectionLost(err error) {
	if State(m.state.Load()) == StateDisconnected {
		return
	}
	m.lostCount.Add(1)
	m.setState(StateDisconnected)

	select {
	case m.lost <- err:
	default:
	}
}

// deliver forwards inbound messages unless the manager is Disconnected.
// Messages arriving while the session's subscriptions are being set up
// are delivered.
func (m *Manager) deliver(topic string, payload []byte) error {
	if State(m.state.Load()) == StateDisconnected || m.onMessage == nil {
		return nil
	}
	m.onMessage(topic, payload)
	return nil
}

// Publish sends payload on topic. It never blocks waiting for a connection.
//
// Returns:
//   - error: wraps ErrNotConnected when not Connected or when the transport
//     reports the link is down
func (m *Manager) Publish(topic string, payload []byte) error {
	if !m.Connected() {
		return ErrNotConnected
	}

	if err := m.transport.Publish(topic, payload, m.opts.QoS, false); err != nil {
		if errors.Is(err, mqtt.ErrNotConnected) {
			return fmt.Errorf("%w: %w", ErrNotConnected, err)
		}
		return fmt.Errorf("connection: publish %s: %w", topic, err)
	}
	return nil
}

// Connected reports whether the manager is in the Connected state.
func (m *Manager) Connected() bool {
	return m.State() == StateConnected
}

// State returns the current state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Stats returns a snapshot of manager counters.
func (m *Manager) Stats() Stats {
	return Stats{
		State:             m.State(),
		Reconnecting:      m.reconnecting.Load(),
		ConnectAttempts:   m.attempts.Load(),
		ConnectionsLost:   m.lostCount.Load(),
		SubscribedFilters: len(m.opts.Filters),
	}
}

// nextDelay returns the current delay and advances the backoff.
func (m *Manager) nextDelay() time.Duration {
	m.boMu.Lock()
	defer m.boMu.Unlock()
	return m.bo.NextBackOff()
}

func (m *Manager) resetDelay() {
	m.boMu.Lock()
	m.bo.Reset()
	m.boMu.Unlock()
}

func (m *Manager) setState(s State) {
	prev := State(m.state.Swap(int32(s)))
	if prev != s {
		m.logger.Info("MQTT connection state changed", "from", prev.String(), "to", s.String())
	}
}

func (m *Manager) shutdown() {
	m.setState(StateDisconnected)
	if err := m.transport.Close(); err != nil {
		m.logger.Warn("MQTT close failed", "error", err)
	}
}

// sleep is the default WaitFunc.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
