package risk

import (
	"testing"

	"execution_client/internal/config"
	"execution_client/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func request(t *testing.T, qty int64, pricing model.Pricing) model.OrderRequest {
	t.Helper()
	req, err := model.NewOrderRequest("AAPL", decimal.NewFromInt(qty), model.SideBuy, pricing, model.TimeInForceDay)
	require.NoError(t, err)
	return req
}

func TestLimitsGate(t *testing.T) {
	gate := LimitsGate{MaxQuantity: decimal.NewFromInt(1000), MaxNotional: decimal.NewFromInt(100000)}
	price := decimal.NewFromInt(150)

	tests := []struct {
		name    string
		req     model.OrderRequest
		approve bool
	}{
		{"within limits", request(t, 100, model.Limit{Price: price}), true},
		{"quantity too large", request(t, 1001, model.Market{}), false},
		{"limit notional too large", request(t, 700, model.Limit{Price: price}), false},
		{"stop notional uses trigger", request(t, 700, model.Stop{Trigger: price}), false},
		{"stop limit uses limit price", request(t, 600, model.StopLimit{Trigger: decimal.NewFromInt(500), Price: price}), true},
		{"market skips notional", request(t, 1000, model.Market{}), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.approve, gate.Approve(tt.req))
			if !tt.approve {
				assert.Error(t, gate.Check(tt.req))
			}
		})
	}
}

func TestLimitsGate_ZeroDisables(t *testing.T) {
	gate := LimitsGate{}
	assert.True(t, gate.Approve(request(t, 1_000_000, model.Limit{Price: decimal.NewFromInt(1_000)})))
}

func TestNewLimitsGateFromConfig(t *testing.T) {
	gate, err := NewLimitsGateFromConfig(config.RiskConfig{Enabled: true, MaxOrderQuantity: "500", MaxOrderValue: "25000.50"})
	require.NoError(t, err)
	assert.True(t, gate.MaxQuantity.Equal(decimal.NewFromInt(500)))
	assert.True(t, gate.MaxNotional.Equal(decimal.RequireFromString("25000.50")))

	_, err = NewLimitsGateFromConfig(config.RiskConfig{MaxOrderQuantity: "lots"})
	assert.Error(t, err)
}

func TestAllOf(t *testing.T) {
	calls := 0
	deny := GateFunc(func(model.OrderRequest) bool { calls++; return false })
	allow := GateFunc(func(model.OrderRequest) bool { calls++; return true })
	req := request(t, 10, model.Market{})

	assert.True(t, AllOf(allow, nil, allow).Approve(req))
	assert.Equal(t, 2, calls)

	calls = 0
	assert.False(t, AllOf(deny, allow).Approve(req))
	assert.Equal(t, 1, calls)

	limits := LimitsGate{MaxQuantity: decimal.NewFromInt(5)}
	err := AllOf(allow, limits).(Checker).Check(req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max order quantity")
}
