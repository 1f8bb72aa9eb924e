// Package connection owns the lifecycle of the single broker session
package connection

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"execution_client/internal/audit"
	"execution_client/internal/broker"
	"execution_client/internal/config"
	"execution_client/internal/core"
	apperrors "execution_client/pkg/errors"
	"execution_client/pkg/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "DISCONNECTED"
	}
}

// Config holds the session parameters and the reconnect policy
type Config struct {
	Host          string
	Port          int
	ClientID      int
	ReadOnly      bool
	MaxAttempts   int
	Backoff       time.Duration
	MaxBackoff    time.Duration // zero means uncapped
	AutoReconnect bool
}

func ConfigFromBroker(b config.BrokerConfig) Config {
	return Config{
		Host:          b.Host,
		Port:          b.Port,
		ClientID:      b.ClientID,
		ReadOnly:      b.ReadOnly,
		MaxAttempts:   b.MaxReconnectAttempts,
		Backoff:       b.ReconnectBackoff(),
		MaxBackoff:    b.ReconnectMaxBackoff(),
		AutoReconnect: b.AutoReconnect,
	}
}

// Manager connects, disconnects and supervises the broker session.
// Connect attempts are serialized; IsConnected never blocks on one.
type Manager struct {
	cfg     Config
	addr    string
	factory broker.SessionFactory
	audit   *audit.Logger
	logger  core.ILogger
	alerter core.IAlerter

	connMu sync.Mutex

	mu           sync.RWMutex
	state        State
	session      broker.Session
	wantSession  bool
	eventHandler broker.EventHandler
	handlers     []core.ConnectionEventHandler

	sleep           func(ctx context.Context, d time.Duration) error
	connectAttempts metric.Int64Counter
}

func NewManager(cfg Config, factory broker.SessionFactory, auditLog *audit.Logger, logger core.ILogger) *Manager {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if auditLog == nil {
		auditLog = audit.NewNop()
	}
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	meter := telemetry.GetMeter("connection")
	attempts, _ := meter.Int64Counter(telemetry.MetricConnectAttemptsTotal,
		metric.WithDescription("Broker connect attempts by outcome"))

	m := &Manager{
		cfg:             cfg,
		addr:            addr,
		factory:         factory,
		audit:           auditLog,
		logger:          logger.WithField("component", "connection_manager").WithField("gateway", addr),
		sleep:           sleepCtx,
		connectAttempts: attempts,
	}
	telemetry.GetGlobalMetrics().SetConnectionState(addr, int64(StateDisconnected))
	return m
}

// SetAlerter sets where reconnect exhaustion is escalated
func (m *Manager) SetAlerter(a core.IAlerter) {
	m.alerter = a
}

// SetEventHandler attaches h to the current and every future session
func (m *Manager) SetEventHandler(h broker.EventHandler) {
	m.mu.Lock()
	m.eventHandler = h
	s := m.session
	m.mu.Unlock()
	if s != nil {
		s.SetEventHandler(h)
	}
}

func (m *Manager) AddConnectionHandler(h core.ConnectionEventHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// Address returns host:port of the gateway
func (m *Manager) Address() string {
	return m.addr
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsConnected reports whether the session is established and its transport alive.
// It does not change state.
func (m *Manager) IsConnected() bool {
	m.mu.RLock()
	state, s := m.state, m.session
	m.mu.RUnlock()
	return state == StateConnected && s != nil && s.IsConnected()
}

// Connect makes a single connection attempt. A no-op when already connected.
func (m *Manager) Connect(ctx context.Context) error {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	return m.connectLocked(ctx)
}

func (m *Manager) connectLocked(ctx context.Context) error {
	if m.IsConnected() {
		return nil
	}
	m.dropDeadSession("transport lost")

	m.setState(StateConnecting)
	m.mu.RLock()
	h := m.eventHandler
	m.mu.RUnlock()

	s := m.factory()
	if h != nil {
		s.SetEventHandler(h)
	}

	m.logger.Info("Connecting to broker gateway", "client_id", m.cfg.ClientID, "readonly", m.cfg.ReadOnly)
	err := s.Connect(ctx, m.cfg.Host, m.cfg.Port, m.cfg.ClientID, m.cfg.ReadOnly)
	if err != nil {
		m.connectAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "failure")))
		m.setState(StateDisconnected)
		m.logger.Warn("Broker connect failed", "error", err)
		m.audit.LogConnectionEvent("CONNECT_FAILED", m.details("error", err.Error()))
		return &apperrors.ConnectionError{Op: "connect", Address: m.addr, Err: err}
	}

	m.connectAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "success")))
	m.mu.Lock()
	m.session = s
	m.state = StateConnected
	m.wantSession = true
	handlers := append([]core.ConnectionEventHandler(nil), m.handlers...)
	m.mu.Unlock()
	telemetry.GetGlobalMetrics().SetConnectionState(m.addr, int64(StateConnected))

	m.logger.Info("Connected to broker gateway")
	m.audit.LogConnectionEvent("CONNECTED", m.details())
	for _, ch := range handlers {
		ch.OnConnected()
	}
	return nil
}

// Disconnect closes the session. Safe to call when already disconnected.
func (m *Manager) Disconnect() error {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	m.mu.Lock()
	m.wantSession = false
	s, state := m.session, m.state
	m.mu.Unlock()
	if s == nil || state == StateDisconnected {
		return nil
	}

	err := s.Disconnect()
	if err != nil {
		m.logger.Warn("Session disconnect reported an error", "error", err)
	}
	m.markDisconnected("requested")
	return err
}

// EnsureConnected returns nil when connected, otherwise makes one connect attempt
func (m *Manager) EnsureConnected(ctx context.Context) error {
	if m.IsConnected() {
		return nil
	}
	return m.Connect(ctx)
}

// ConnectWithRetry attempts up to MaxAttempts connects, doubling the delay between attempts
func (m *Manager) ConnectWithRetry(ctx context.Context) error {
	var lastErr error
	delay := m.cfg.Backoff
	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		lastErr = m.Connect(ctx)
		if lastErr == nil {
			if attempt > 1 {
				m.logger.Info("Reconnected to broker gateway", "attempt", attempt)
			}
			return nil
		}
		if attempt == m.cfg.MaxAttempts {
			break
		}

		if m.cfg.MaxBackoff > 0 && delay > m.cfg.MaxBackoff {
			delay = m.cfg.MaxBackoff
		}
		m.logger.Warn("Connect attempt failed, backing off",
			"attempt", attempt, "max_attempts", m.cfg.MaxAttempts, "backoff", delay.String())
		if err := m.sleep(ctx, delay); err != nil {
			return &apperrors.ConnectionError{Op: "connect", Address: m.addr, Err: err}
		}
		delay *= 2
	}

	m.logger.Error("Giving up on broker connection", "attempts", m.cfg.MaxAttempts, "error", lastErr)
	m.audit.LogConnectionEvent("RECONNECT_EXHAUSTED", m.details("attempts", m.cfg.MaxAttempts))
	if m.alerter != nil {
		m.alerter.Escalate(ctx, "Broker reconnect exhausted",
			fmt.Sprintf("gave up after %d attempts: %v", m.cfg.MaxAttempts, lastErr),
			map[string]string{"gateway": m.addr})
	}
	return &apperrors.ConnectionError{
		Op:      "connect",
		Address: m.addr,
		Err:     fmt.Errorf("failed after %d attempts: %w", m.cfg.MaxAttempts, lastErr),
	}
}

// Session returns the live session or a ConnectionError
func (m *Manager) Session() (broker.Session, error) {
	m.mu.RLock()
	state, s := m.state, m.session
	m.mu.RUnlock()
	if state != StateConnected || s == nil || !s.IsConnected() {
		return nil, &apperrors.ConnectionError{Op: "session", Address: m.addr, Err: apperrors.ErrNotConnected}
	}
	return s, nil
}

// Monitor checks transport liveness every interval until ctx is done.
// A lost transport is marked disconnected and, with AutoReconnect, reconnected.
// A non-positive interval disables checking.
func (m *Manager) Monitor(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.checkLiveness(ctx)
		}
	}
}

func (m *Manager) checkLiveness(ctx context.Context) {
	if m.IsConnected() {
		return
	}

	m.connMu.Lock()
	m.dropDeadSession("transport lost")
	m.connMu.Unlock()

	m.mu.RLock()
	want := m.wantSession
	m.mu.RUnlock()
	if !m.cfg.AutoReconnect || !want {
		return
	}
	if err := m.ConnectWithRetry(ctx); err != nil && ctx.Err() == nil {
		m.logger.Error("Automatic reconnect failed", "error", err)
	}
}

// CheckHealth reports the connection for the health endpoint
func (m *Manager) CheckHealth(context.Context) error {
	if m.IsConnected() {
		return nil
	}
	return &apperrors.ConnectionError{Op: "health", Address: m.addr, Err: apperrors.ErrNotConnected}
}

// dropDeadSession transitions a connected manager whose transport died. Caller holds connMu.
func (m *Manager) dropDeadSession(reason string) {
	m.mu.RLock()
	state, s := m.state, m.session
	m.mu.RUnlock()
	if state != StateConnected || s == nil || s.IsConnected() {
		return
	}
	m.logger.Warn("Broker transport lost")
	_ = s.Disconnect()
	m.markDisconnected(reason)
}

func (m *Manager) markDisconnected(reason string) {
	m.mu.Lock()
	m.session = nil
	m.state = StateDisconnected
	handlers := append([]core.ConnectionEventHandler(nil), m.handlers...)
	m.mu.Unlock()
	telemetry.GetGlobalMetrics().SetConnectionState(m.addr, int64(StateDisconnected))

	m.logger.Info("Disconnected from broker gateway", "reason", reason)
	m.audit.LogConnectionEvent("DISCONNECTED", m.details("reason", reason))
	for _, ch := range handlers {
		ch.OnDisconnected(reason)
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
	telemetry.GetGlobalMetrics().SetConnectionState(m.addr, int64(s))
}

func (m *Manager) details(kv ...interface{}) map[string]interface{} {
	d := map[string]interface{}{
		"host":      m.cfg.Host,
		"port":      m.cfg.Port,
		"client_id": m.cfg.ClientID,
		"readonly":  m.cfg.ReadOnly,
	}
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			d[k] = kv[i+1]
		}
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
