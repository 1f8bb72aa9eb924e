package mock

import (
	"context"
	"errors"
	"sync"
	"testing"

	"execution_client/internal/broker"
	apperrors "execution_client/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu      sync.Mutex
	updates []broker.Trade
	fills   []broker.NativeFill
}

func (h *recordingHandler) OnTradeUpdate(trade broker.Trade) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.updates = append(h.updates, trade)
}

func (h *recordingHandler) OnFill(trade broker.Trade, fill broker.NativeFill) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fills = append(h.fills, fill)
}

func limitOrder(qty int64, price string) broker.NativeOrder {
	return broker.NativeOrder{
		Action:        broker.ActionBuy,
		TotalQuantity: decimal.NewFromInt(qty),
		Class:         broker.ClassLimit,
		LmtPrice:      decimal.NewNullDecimal(decimal.RequireFromString(price)),
		TIF:           "DAY",
	}
}

func TestMockSession_ConnectErrorsAreQueued(t *testing.T) {
	s := NewMockSession()
	s.FailConnect(errors.New("refused"), errors.New("refused again"))
	ctx := context.Background()

	assert.Error(t, s.Connect(ctx, "127.0.0.1", 7497, 1, false))
	assert.Error(t, s.Connect(ctx, "127.0.0.1", 7497, 1, false))
	require.NoError(t, s.Connect(ctx, "127.0.0.1", 7497, 1, false))

	assert.Equal(t, 3, s.CallCount("Connect"))
	assert.Equal(t, ConnectArgs{Host: "127.0.0.1", Port: 7497, ClientID: 1}, s.LastConnect())
	assert.True(t, s.IsConnected())
}

func TestMockSession_PlaceRequiresConnection(t *testing.T) {
	s := NewMockSession()
	_, err := s.PlaceOrder(context.Background(), broker.Stock("AAPL"), limitOrder(10, "100"))
	assert.ErrorIs(t, err, apperrors.ErrConnection)
	assert.Equal(t, 1, s.CallCount("PlaceOrder"))
}

func TestMockSession_ReadOnlyRefusesMutations(t *testing.T) {
	s := NewMockSession()
	require.NoError(t, s.Connect(context.Background(), "h", 1, 1, true))

	_, err := s.PlaceOrder(context.Background(), broker.Stock("AAPL"), limitOrder(10, "100"))
	assert.Error(t, err)
}

func TestMockSession_LifecycleAndEvents(t *testing.T) {
	s := NewMockSession()
	h := &recordingHandler{}
	s.SetEventHandler(h)
	ctx := context.Background()
	require.NoError(t, s.Connect(ctx, "h", 1, 1, false))

	trade, err := s.PlaceOrder(ctx, broker.Stock("AAPL"), limitOrder(100, "150"))
	require.NoError(t, err)
	assert.NotZero(t, trade.Order.OrderID)
	assert.Equal(t, broker.StatusSubmitted, trade.OrderStatus.Status)
	assert.True(t, trade.OrderStatus.Remaining.Equal(decimal.NewFromInt(100)))

	_, err = s.Execute(trade.Order.OrderID, decimal.NewFromInt(40), decimal.RequireFromString("150"), decimal.NullDecimal{})
	require.NoError(t, err)
	_, err = s.Execute(trade.Order.OrderID, decimal.NewFromInt(60), decimal.RequireFromString("149"), decimal.NullDecimal{})
	require.NoError(t, err)

	final, ok := s.Trade(trade.Order.OrderID)
	require.True(t, ok)
	assert.Equal(t, broker.StatusFilled, final.OrderStatus.Status)
	assert.True(t, final.OrderStatus.AvgFillPrice.Equal(decimal.RequireFromString("149.4")))
	assert.Len(t, final.Fills, 2)

	open, err := s.OpenTrades(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)

	err = s.CancelOrder(ctx, final.Order)
	assert.Error(t, err)

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Len(t, h.fills, 2)
	assert.Len(t, h.updates, 3)
	assert.Equal(t, broker.StatusPartiallyFilled, h.updates[1].OrderStatus.Status)
}

func TestMockSession_TradesAreCopies(t *testing.T) {
	s := NewMockSession()
	ctx := context.Background()
	require.NoError(t, s.Connect(ctx, "h", 1, 1, false))
	trade, err := s.PlaceOrder(ctx, broker.Stock("AAPL"), limitOrder(10, "1"))
	require.NoError(t, err)
	_, err = s.Execute(trade.Order.OrderID, decimal.NewFromInt(1), decimal.NewFromInt(1), decimal.NullDecimal{})
	require.NoError(t, err)

	trades, err := s.Trades(ctx)
	require.NoError(t, err)
	trades[0].Fills[0].ExecID = "mutated"

	again, _ := s.Trade(trade.Order.OrderID)
	assert.NotEqual(t, "mutated", again.Fills[0].ExecID)
}

func TestMockSession_Positions(t *testing.T) {
	s := NewMockSession()
	ctx := context.Background()
	require.NoError(t, s.Connect(ctx, "h", 1, 1, false))

	s.SetPosition("DU1", "TSLA", decimal.NewFromInt(-10), decimal.NewFromInt(250), decimal.NullDecimal{})
	s.SetPosition("DU1", "AAPL", decimal.NewFromInt(5), decimal.NewFromInt(150), decimal.NullDecimal{})
	s.SetPosition("DU1", "AAPL", decimal.Zero, decimal.NewFromInt(150), decimal.NullDecimal{})

	positions, err := s.Positions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 2)
	assert.Equal(t, "AAPL", positions[0].Contract.Symbol)
	assert.True(t, positions[0].Position.IsZero())
}
