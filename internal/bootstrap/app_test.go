package bootstrap

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"execution_client/internal/audit"
	"execution_client/internal/config"
	"execution_client/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mockConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Broker.Transport = "mock"
	cfg.Execution.AckGraceMs = 0
	cfg.Audit.Output = filepath.Join(dir, "audit.jsonl")
	cfg.Audit.SQLitePath = filepath.Join(dir, "audit.db")
	cfg.Risk.Enabled = true
	cfg.Risk.MaxOrderQuantity = "100"
	cfg.Telemetry.EnableMetrics = false
	return cfg
}

func TestBuild_MockTransportEndToEnd(t *testing.T) {
	cfg := mockConfig(t)
	app, err := Build(cfg, Options{})
	require.NoError(t, err)

	ctx := context.Background()
	req, err := model.NewOrderRequest("AAPL", decimal.NewFromInt(10), model.SideBuy, model.Market{}, "")
	require.NoError(t, err)
	order, err := app.Executor.SubmitOrder(ctx, req.WithClientOrderID("cid-boot"))
	require.NoError(t, err)
	assert.NotEmpty(t, order.OrderID)
	assert.True(t, app.Health.IsHealthy(ctx))

	big, err := model.NewOrderRequest("AAPL", decimal.NewFromInt(1000), model.SideBuy, model.Market{}, "")
	require.NoError(t, err)
	_, err = app.Executor.SubmitOrder(ctx, big)
	assert.Error(t, err, "risk limits come from config")

	require.NoError(t, app.Close())
	assert.False(t, app.Conn.IsConnected())

	store, err := audit.NewSQLiteSink(cfg.Audit.SQLitePath)
	require.NoError(t, err)
	defer store.Close()
	orderID, err := store.OrderIDForClientOrderID(ctx, "cid-boot")
	require.NoError(t, err)
	assert.Equal(t, order.OrderID, orderID)

	data, err := os.ReadFile(cfg.Audit.Output)
	require.NoError(t, err)
	assert.Contains(t, string(data), "RISK_CHECK_FAILED")
}

func TestRunContext(t *testing.T) {
	app, err := Build(mockConfig(t), Options{})
	require.NoError(t, err)
	defer app.Close()

	boom := errors.New("boom")
	err = app.RunContext(context.Background(),
		RunnerFunc(func(ctx context.Context) error { return boom }),
		RunnerFunc(func(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }),
	)
	assert.ErrorIs(t, err, boom)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.NoError(t, app.RunContext(ctx, app.Runners()...))
	assert.True(t, app.Conn.IsConnected())
}

func TestLoadConfig_PreFlight(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("audit:\n  output: "+filepath.Join(dir, "missing", "audit.jsonl")+"\n"), 0o600))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pre-flight")

	require.NoError(t, os.WriteFile(path, []byte("broker:\n  transport: mock\n"), 0o600))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "mock", cfg.Broker.Transport)
}
