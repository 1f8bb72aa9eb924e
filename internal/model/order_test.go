package model

import (
	"errors"
	"testing"
	"time"

	apperrors "execution_client/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOrderRequest_Market(t *testing.T) {
	req, err := NewOrderRequest("AAPL", decimal.NewFromInt(100), SideBuy, Market{}, "")
	require.NoError(t, err)

	assert.Equal(t, OrderTypeMarket, req.Type())
	assert.Equal(t, TimeInForceDay, req.TimeInForce)
	_, hasLimit := req.Pricing.LimitPrice()
	assert.False(t, hasLimit)
}

func TestNewOrderRequest_PriceRequirements(t *testing.T) {
	qty := decimal.NewFromInt(10)
	tests := []struct {
		name    string
		pricing Pricing
		wantErr bool
	}{
		{"limit with price", Limit{Price: decimal.RequireFromString("250.50")}, false},
		{"limit without price", Limit{}, true},
		{"limit with negative price", Limit{Price: decimal.NewFromInt(-1)}, true},
		{"stop with trigger", Stop{Trigger: decimal.NewFromInt(90)}, false},
		{"stop without trigger", Stop{}, true},
		{"stop limit complete", StopLimit{Trigger: decimal.NewFromInt(95), Price: decimal.NewFromInt(94)}, false},
		{"stop limit without limit", StopLimit{Trigger: decimal.NewFromInt(95)}, true},
		{"stop limit without trigger", StopLimit{Price: decimal.NewFromInt(94)}, true},
		{"nil pricing", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewOrderRequest("TSLA", qty, SideSell, tt.pricing, TimeInForceGTC)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, apperrors.ErrInvalidOrder))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestNewOrderRequest_RejectsBadFields(t *testing.T) {
	_, err := NewOrderRequest("", decimal.NewFromInt(1), SideBuy, Market{}, "")
	assert.ErrorIs(t, err, apperrors.ErrInvalidOrder)

	_, err = NewOrderRequest("AAPL", decimal.Zero, SideBuy, Market{}, "")
	assert.ErrorIs(t, err, apperrors.ErrInvalidOrder)

	_, err = NewOrderRequest("AAPL", decimal.NewFromInt(1), Side("HOLD"), Market{}, "")
	assert.ErrorIs(t, err, apperrors.ErrInvalidOrder)

	_, err = NewOrderRequest("AAPL", decimal.NewFromInt(1), SideBuy, Market{}, TimeInForce("GTD"))
	assert.ErrorIs(t, err, apperrors.ErrInvalidOrder)
}

func TestNewPricing(t *testing.T) {
	price := decimal.NewNullDecimal(decimal.RequireFromString("150.00"))
	none := decimal.NullDecimal{}

	p, err := NewPricing(OrderTypeLimit, price, none)
	require.NoError(t, err)
	assert.Equal(t, Limit{Price: price.Decimal}, p)

	// Lower case kinds come from CLI flags
	p, err = NewPricing("stop_limit", price, price)
	require.NoError(t, err)
	assert.Equal(t, OrderTypeStopLimit, p.Type())

	_, err = NewPricing(OrderTypeLimit, none, none)
	assert.ErrorIs(t, err, apperrors.ErrInvalidOrder)

	_, err = NewPricing(OrderTypeStopLimit, price, none)
	assert.ErrorIs(t, err, apperrors.ErrInvalidOrder)

	_, err = NewPricing("TRAIL", price, none)
	assert.ErrorIs(t, err, apperrors.ErrInvalidOrder)

	// Prices unused by the kind are ignored
	p, err = NewPricing(OrderTypeMarket, price, price)
	require.NoError(t, err)
	assert.Equal(t, Market{}, p)
}

func TestOrder_SnapshotsAreCopies(t *testing.T) {
	req, err := NewOrderRequest("TSLA", decimal.NewFromInt(100), SideSell,
		StopLimit{Trigger: decimal.NewFromInt(240), Price: decimal.NewFromInt(239)}, TimeInForceGTC)
	require.NoError(t, err)
	req = req.WithClientOrderID("cid-1").WithAccount("DU123")

	submitted := NewOrderFromRequest("42", req, OrderStatusSubmitted, time.Now())
	assert.Equal(t, "cid-1", submitted.ClientOrderID)
	assert.Equal(t, "DU123", submitted.Account)
	assert.True(t, submitted.LimitPrice.Valid)
	assert.True(t, submitted.StopPrice.Valid)
	assert.Equal(t, time.UTC, submitted.SubmittedAt.Location())
	assert.True(t, submitted.FilledQuantity.IsZero())

	partial := submitted.WithExecution(OrderStatusPartiallyFilled, decimal.NewFromInt(50),
		decimal.NewNullDecimal(decimal.NewFromInt(239)))

	assert.Equal(t, OrderStatusSubmitted, submitted.Status)
	assert.Equal(t, OrderStatusPartiallyFilled, partial.Status)
	assert.True(t, partial.RemainingQuantity().Equal(decimal.NewFromInt(50)))
}

func TestOrderStatus_IsTerminal(t *testing.T) {
	assert.False(t, OrderStatusPending.IsTerminal())
	assert.False(t, OrderStatusSubmitted.IsTerminal())
	assert.False(t, OrderStatusPartiallyFilled.IsTerminal())
	assert.True(t, OrderStatusFilled.IsTerminal())
	assert.True(t, OrderStatusCancelled.IsTerminal())
	assert.True(t, OrderStatusRejected.IsTerminal())
}

func TestParseHelpers(t *testing.T) {
	side, err := ParseSide("sell")
	require.NoError(t, err)
	assert.Equal(t, SideSell, side)

	_, err = ParseSide("short")
	assert.ErrorIs(t, err, apperrors.ErrInvalidOrder)

	tif, err := ParseTimeInForce("")
	require.NoError(t, err)
	assert.Equal(t, TimeInForceDay, tif)

	tif, err = ParseTimeInForce("ioc")
	require.NoError(t, err)
	assert.Equal(t, TimeInForceIOC, tif)
}

func TestPosition_Direction(t *testing.T) {
	assert.True(t, Position{Quantity: decimal.NewFromInt(10)}.IsLong())
	assert.True(t, Position{Quantity: decimal.NewFromInt(-10)}.IsShort())
	assert.True(t, Position{Quantity: decimal.Zero}.IsFlat())
}

func TestFill_Notional(t *testing.T) {
	f := Fill{Quantity: decimal.NewFromInt(50), Price: decimal.RequireFromString("250.50")}
	assert.True(t, f.Notional().Equal(decimal.RequireFromString("12525")))
}
