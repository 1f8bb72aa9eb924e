package connection

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"execution_client/internal/audit"
	"execution_client/internal/broker"
	"execution_client/internal/logging"
	"execution_client/internal/mock"
	apperrors "execution_client/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu           sync.Mutex
	connected    int
	disconnected []string
}

func (h *recordingHandler) OnConnected() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connected++
}

func (h *recordingHandler) OnDisconnected(reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnected = append(h.disconnected, reason)
}

type recordingAlerter struct {
	mu     sync.Mutex
	titles []string
}

func (a *recordingAlerter) Escalate(ctx context.Context, title, message string, fields map[string]string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.titles = append(a.titles, title)
}

func testConfig() Config {
	return Config{
		Host:        "127.0.0.1",
		Port:        7497,
		ClientID:    3,
		MaxAttempts: 3,
		Backoff:     100 * time.Millisecond,
	}
}

func newTestManager(t *testing.T, cfg Config) (*Manager, *mock.MockSession, *[]time.Duration) {
	t.Helper()
	session := mock.NewMockSession()
	m := NewManager(cfg, func() broker.Session { return session }, audit.NewNop(), logging.NewNop())
	var sleeps []time.Duration
	m.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return m, session, &sleeps
}

func TestManager_ConnectAndDisconnect(t *testing.T) {
	m, session, _ := newTestManager(t, testConfig())
	h := &recordingHandler{}
	m.AddConnectionHandler(h)
	ctx := context.Background()

	assert.False(t, m.IsConnected())
	require.NoError(t, m.Connect(ctx))
	assert.True(t, m.IsConnected())
	assert.Equal(t, StateConnected, m.State())
	assert.Equal(t, mock.ConnectArgs{Host: "127.0.0.1", Port: 7497, ClientID: 3}, session.LastConnect())

	// already connected is a no-op
	require.NoError(t, m.Connect(ctx))
	assert.Equal(t, 1, session.CallCount("Connect"))

	require.NoError(t, m.Disconnect())
	require.NoError(t, m.Disconnect())
	assert.False(t, m.IsConnected())
	assert.Equal(t, 1, session.CallCount("Disconnect"))

	assert.Equal(t, 1, h.connected)
	assert.Equal(t, []string{"requested"}, h.disconnected)
}

func TestManager_ConnectFailureIsConnectionError(t *testing.T) {
	m, session, _ := newTestManager(t, testConfig())
	session.FailConnect(errors.New("connection refused"))

	err := m.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConnection)
	var connErr *apperrors.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "127.0.0.1:7497", connErr.Address)
	assert.Equal(t, StateDisconnected, m.State())
}

func TestManager_ConnectWithRetry_BacksOffThenSucceeds(t *testing.T) {
	m, session, sleeps := newTestManager(t, testConfig())
	session.FailConnect(errors.New("refused"), errors.New("refused"))

	require.NoError(t, m.ConnectWithRetry(context.Background()))

	assert.True(t, m.IsConnected())
	assert.Equal(t, 3, session.CallCount("Connect"))
	require.Len(t, *sleeps, 2)
	assert.Equal(t, 100*time.Millisecond, (*sleeps)[0])
	assert.Equal(t, 200*time.Millisecond, (*sleeps)[1])
}

func TestManager_ConnectWithRetry_Exhausted(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 4
	cfg.MaxBackoff = 250 * time.Millisecond
	m, session, sleeps := newTestManager(t, cfg)
	alerter := &recordingAlerter{}
	m.SetAlerter(alerter)
	session.FailConnect(errors.New("a"), errors.New("b"), errors.New("c"), errors.New("d"))

	err := m.ConnectWithRetry(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConnection)
	assert.Contains(t, err.Error(), "failed after 4 attempts")
	assert.Equal(t, 4, session.CallCount("Connect"))
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 250 * time.Millisecond}, *sleeps)
	assert.Equal(t, []string{"Broker reconnect exhausted"}, alerter.titles)
}

func TestManager_ConnectWithRetry_ContextCancelled(t *testing.T) {
	m, session, _ := newTestManager(t, testConfig())
	session.FailConnect(errors.New("refused"))
	m.sleep = sleepCtx

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := m.ConnectWithRetry(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, apperrors.ErrConnection)
}

func TestManager_SessionRequiresConnection(t *testing.T) {
	m, _, _ := newTestManager(t, testConfig())
	_, err := m.Session()
	assert.ErrorIs(t, err, apperrors.ErrNotConnected)
	assert.Error(t, m.CheckHealth(context.Background()))

	require.NoError(t, m.Connect(context.Background()))
	s, err := m.Session()
	require.NoError(t, err)
	assert.NotNil(t, s)
	assert.NoError(t, m.CheckHealth(context.Background()))
}

func TestManager_IsConnectedIsPure(t *testing.T) {
	m, session, _ := newTestManager(t, testConfig())
	require.NoError(t, m.Connect(context.Background()))

	session.Drop()
	assert.False(t, m.IsConnected())
	assert.Equal(t, StateConnected, m.State(), "a query never transitions state")
}

func TestManager_EnsureConnectedReplacesDeadTransport(t *testing.T) {
	m, session, _ := newTestManager(t, testConfig())
	h := &recordingHandler{}
	m.AddConnectionHandler(h)
	ctx := context.Background()
	require.NoError(t, m.EnsureConnected(ctx))
	require.NoError(t, m.EnsureConnected(ctx))
	assert.Equal(t, 1, session.CallCount("Connect"))

	session.Drop()
	require.NoError(t, m.EnsureConnected(ctx))
	assert.Equal(t, 2, session.CallCount("Connect"))
	assert.True(t, m.IsConnected())
	assert.Equal(t, []string{"transport lost"}, h.disconnected)
	assert.Equal(t, 2, h.connected)
}

func TestManager_MonitorReconnects(t *testing.T) {
	cfg := testConfig()
	cfg.AutoReconnect = true
	m, session, _ := newTestManager(t, cfg)
	require.NoError(t, m.Connect(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Monitor(ctx, 10*time.Millisecond) }()

	session.Drop()
	assert.Eventually(t, func() bool {
		return session.CallCount("Connect") == 2 && m.IsConnected()
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestManager_MonitorHonoursExplicitDisconnect(t *testing.T) {
	cfg := testConfig()
	cfg.AutoReconnect = true
	m, session, _ := newTestManager(t, cfg)
	require.NoError(t, m.Connect(context.Background()))
	require.NoError(t, m.Disconnect())

	m.checkLiveness(context.Background())
	assert.Equal(t, 1, session.CallCount("Connect"))
}

func TestManager_AuditsConnectionEvents(t *testing.T) {
	var buf bytes.Buffer
	auditLog, err := audit.NewLogger(audit.Options{Writer: &buf}, logging.NewNop())
	require.NoError(t, err)
	session := mock.NewMockSession()
	m := NewManager(testConfig(), func() broker.Session { return session }, auditLog, logging.NewNop())

	require.NoError(t, m.Connect(context.Background()))
	require.NoError(t, m.Disconnect())

	out := buf.String()
	assert.Contains(t, out, `"event":"CONNECTION_EVENT"`)
	assert.Contains(t, out, `"connection_event":"CONNECTED"`)
	assert.Contains(t, out, `"connection_event":"DISCONNECTED"`)
}
