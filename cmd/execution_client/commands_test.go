package main

import (
	"testing"

	"execution_client/internal/model"
	apperrors "execution_client/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOrderRequest_StopLimit(t *testing.T) {
	req, err := parseOrderRequest([]string{
		"-symbol", "TSLA", "-qty", "50", "-side", "sell", "-type", "STOP_LIMIT",
		"-stop", "240", "-limit", "239.5", "-tif", "gtc", "-account", "DU1", "-cid", "abc",
	})
	require.NoError(t, err)

	assert.Equal(t, "TSLA", req.Symbol)
	assert.Equal(t, model.SideSell, req.Side)
	assert.Equal(t, model.OrderTypeStopLimit, req.Type())
	assert.Equal(t, model.TimeInForceGTC, req.TimeInForce)
	assert.Equal(t, "DU1", req.Account)
	assert.Equal(t, "abc", req.ClientOrderID)

	stop, ok := req.Pricing.StopPrice()
	require.True(t, ok)
	assert.True(t, stop.Equal(decimal.NewFromInt(240)))
}

func TestParseOrderRequest_Defaults(t *testing.T) {
	req, err := parseOrderRequest([]string{"-symbol", "AAPL", "-qty", "10"})
	require.NoError(t, err)
	assert.Equal(t, model.SideBuy, req.Side)
	assert.Equal(t, model.OrderTypeMarket, req.Type())
	assert.Equal(t, model.TimeInForceDay, req.TimeInForce)
	assert.Empty(t, req.ClientOrderID)
}

func TestParseOrderRequest_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing limit", []string{"-symbol", "AAPL", "-qty", "10", "-type", "LIMIT"}},
		{"bad side", []string{"-symbol", "AAPL", "-qty", "10", "-side", "HOLD"}},
		{"zero quantity", []string{"-symbol", "AAPL", "-qty", "0"}},
		{"bad type", []string{"-symbol", "AAPL", "-qty", "1", "-type", "TRAIL"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseOrderRequest(tt.args)
			assert.ErrorIs(t, err, apperrors.ErrInvalidOrder)
		})
	}

	_, err := parseOrderRequest([]string{"-symbol", "AAPL", "-qty", "ten"})
	assert.Error(t, err)
}

func TestRun_UsageAndVersion(t *testing.T) {
	assert.Equal(t, 2, run(nil))
	assert.Equal(t, 2, run([]string{"bogus"}))
	assert.Equal(t, 0, run([]string{"-version"}))
	assert.Equal(t, 1, run([]string{"-config", "/nonexistent/config.yaml", "open"}))
}
