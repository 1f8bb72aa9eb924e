// Package mock provides an in-memory broker session and a WebSocket gateway simulator
package mock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"execution_client/internal/broker"
	apperrors "execution_client/pkg/errors"

	"github.com/shopspring/decimal"
)

// ConnectArgs records the arguments of the last Connect call
type ConnectArgs struct {
	Host     string
	Port     int
	ClientID int
	ReadOnly bool
}

// MockSession implements broker.Session in memory and counts every call
type MockSession struct {
	mu             sync.Mutex
	connected      bool
	readonly       bool
	connectErrs    []error
	placeErr       error
	cancelErr      error
	initialStatus  string
	orderIDCounter int64
	execCounter    int64
	trades         map[int64]*broker.Trade
	tradeOrder     []int64
	positions      []broker.NativePosition
	handler        broker.EventHandler
	calls          map[string]int
	lastConnect    ConnectArgs
}

var _ broker.Session = (*MockSession)(nil)

// NewMockSession creates a session that acknowledges orders as Submitted
func NewMockSession() *MockSession {
	return &MockSession{
		initialStatus: broker.StatusSubmitted,
		trades:        make(map[int64]*broker.Trade),
		calls:         make(map[string]int),
	}
}

// FailConnect queues errors returned by the next Connect calls, one per call
func (m *MockSession) FailConnect(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectErrs = append(m.connectErrs, errs...)
}

func (m *MockSession) SetPlaceError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.placeErr = err
}

func (m *MockSession) SetCancelError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelErr = err
}

// SetInitialStatus sets the native status new orders are acknowledged with
func (m *MockSession) SetInitialStatus(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initialStatus = status
}

// CallCount returns how often method was invoked
func (m *MockSession) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// Calls returns a copy of all call counters
func (m *MockSession) Calls() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make(map[string]int, len(m.calls))
	for k, v := range m.calls {
		res[k] = v
	}
	return res
}

// TotalCalls sums every counted broker call
func (m *MockSession) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, v := range m.calls {
		total += v
	}
	return total
}

func (m *MockSession) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = make(map[string]int)
}

func (m *MockSession) LastConnect() ConnectArgs {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastConnect
}

func (m *MockSession) SetEventHandler(h broker.EventHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

func (m *MockSession) Connect(ctx context.Context, host string, port int, clientID int, readonly bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["Connect"]++
	m.lastConnect = ConnectArgs{Host: host, Port: port, ClientID: clientID, ReadOnly: readonly}

	if len(m.connectErrs) > 0 {
		err := m.connectErrs[0]
		m.connectErrs = m.connectErrs[1:]
		if err != nil {
			return err
		}
	}
	m.connected = true
	m.readonly = readonly
	return nil
}

func (m *MockSession) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["Disconnect"]++
	m.connected = false
	return nil
}

func (m *MockSession) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["IsConnected"]++
	return m.connected
}

// Drop simulates the transport dying underneath the session
func (m *MockSession) Drop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
}

func (m *MockSession) requireConnected(op string) error {
	if !m.connected {
		return &apperrors.ConnectionError{Op: op, Address: "mock", Err: apperrors.ErrNotConnected}
	}
	return nil
}

func (m *MockSession) PlaceOrder(ctx context.Context, contract broker.Contract, order broker.NativeOrder) (broker.Trade, error) {
	m.mu.Lock()
	m.calls["PlaceOrder"]++
	if err := m.requireConnected("place_order"); err != nil {
		m.mu.Unlock()
		return broker.Trade{}, err
	}
	if m.readonly {
		m.mu.Unlock()
		return broker.Trade{}, errors.New("session is read-only")
	}
	if m.placeErr != nil {
		err := m.placeErr
		m.mu.Unlock()
		return broker.Trade{}, err
	}

	m.orderIDCounter++
	if order.OrderID == 0 {
		order.OrderID = m.orderIDCounter
	}
	if _, exists := m.trades[order.OrderID]; exists {
		m.mu.Unlock()
		return broker.Trade{}, fmt.Errorf("duplicate order id %d", order.OrderID)
	}

	trade := &broker.Trade{
		Contract: contract,
		Order:    order,
		OrderStatus: broker.TradeStatus{
			Status:       m.initialStatus,
			Filled:       decimal.Zero,
			Remaining:    order.TotalQuantity,
			AvgFillPrice: decimal.Zero,
		},
	}
	m.trades[order.OrderID] = trade
	m.tradeOrder = append(m.tradeOrder, order.OrderID)
	snapshot := trade.Clone()
	handler := m.handler
	m.mu.Unlock()

	if handler != nil {
		handler.OnTradeUpdate(snapshot)
	}
	return snapshot, nil
}

func (m *MockSession) CancelOrder(ctx context.Context, order broker.NativeOrder) error {
	m.mu.Lock()
	m.calls["CancelOrder"]++
	if err := m.requireConnected("cancel_order"); err != nil {
		m.mu.Unlock()
		return err
	}
	if m.readonly {
		m.mu.Unlock()
		return errors.New("session is read-only")
	}
	if m.cancelErr != nil {
		err := m.cancelErr
		m.mu.Unlock()
		return err
	}

	trade, ok := m.trades[order.OrderID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("order not found: %d", order.OrderID)
	}
	if trade.IsDone() {
		status := trade.OrderStatus.Status
		m.mu.Unlock()
		return fmt.Errorf("cannot cancel order in status %s", status)
	}

	trade.OrderStatus.Status = broker.StatusCancelled
	snapshot := trade.Clone()
	handler := m.handler
	m.mu.Unlock()

	if handler != nil {
		handler.OnTradeUpdate(snapshot)
	}
	return nil
}

func (m *MockSession) Trades(ctx context.Context) ([]broker.Trade, error) {
	return m.listTrades("Trades", false)
}

func (m *MockSession) OpenTrades(ctx context.Context) ([]broker.Trade, error) {
	return m.listTrades("OpenTrades", true)
}

func (m *MockSession) listTrades(method string, openOnly bool) ([]broker.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[method]++
	if err := m.requireConnected(method); err != nil {
		return nil, err
	}

	res := make([]broker.Trade, 0, len(m.tradeOrder))
	for _, id := range m.tradeOrder {
		t := m.trades[id]
		if openOnly && t.IsDone() {
			continue
		}
		res = append(res, t.Clone())
	}
	return res, nil
}

func (m *MockSession) Positions(ctx context.Context) ([]broker.NativePosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["Positions"]++
	if err := m.requireConnected("positions"); err != nil {
		return nil, err
	}
	res := make([]broker.NativePosition, len(m.positions))
	copy(res, m.positions)
	return res, nil
}

// Trade returns the current state of a placed order, bypassing call counting
func (m *MockSession) Trade(orderID int64) (broker.Trade, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trades[orderID]
	if !ok {
		return broker.Trade{}, false
	}
	return t.Clone(), true
}

// AddTrade seeds a trade the client did not place, e.g. from another session
func (m *MockSession) AddTrade(trade broker.Trade) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.trades[trade.Order.OrderID]; !exists {
		m.tradeOrder = append(m.tradeOrder, trade.Order.OrderID)
	}
	t := trade.Clone()
	m.trades[trade.Order.OrderID] = &t
	if trade.Order.OrderID > m.orderIDCounter {
		m.orderIDCounter = trade.Order.OrderID
	}
}

// SetTradeStatus overwrites an order's execution state and pushes the update
func (m *MockSession) SetTradeStatus(orderID int64, status string, filled, avgPrice decimal.Decimal) error {
	m.mu.Lock()
	trade, ok := m.trades[orderID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("order not found: %d", orderID)
	}
	trade.OrderStatus.Status = status
	trade.OrderStatus.Filled = filled
	trade.OrderStatus.Remaining = trade.Order.TotalQuantity.Sub(filled)
	trade.OrderStatus.AvgFillPrice = avgPrice
	snapshot := trade.Clone()
	handler := m.handler
	m.mu.Unlock()

	if handler != nil {
		handler.OnTradeUpdate(snapshot)
	}
	return nil
}

// Execute records an execution against an order and pushes the fill and the
// resulting trade update
func (m *MockSession) Execute(orderID int64, shares, price decimal.Decimal, commission decimal.NullDecimal) (broker.NativeFill, error) {
	m.mu.Lock()
	trade, ok := m.trades[orderID]
	if !ok {
		m.mu.Unlock()
		return broker.NativeFill{}, fmt.Errorf("order not found: %d", orderID)
	}

	m.execCounter++
	fill := broker.NativeFill{
		ExecID:     fmt.Sprintf("%08d.%02d", orderID, m.execCounter),
		Time:       time.Now().UTC(),
		Shares:     shares,
		Price:      price,
		Side:       trade.Order.Action,
		Commission: commission,
	}
	trade.Fills = append(trade.Fills, fill)

	prevFilled := trade.OrderStatus.Filled
	filled := prevFilled.Add(shares)
	notional := trade.OrderStatus.AvgFillPrice.Mul(prevFilled).Add(price.Mul(shares))
	trade.OrderStatus.Filled = filled
	trade.OrderStatus.AvgFillPrice = notional.Div(filled)
	trade.OrderStatus.Remaining = trade.Order.TotalQuantity.Sub(filled)
	if trade.OrderStatus.Remaining.IsPositive() {
		trade.OrderStatus.Status = broker.StatusPartiallyFilled
	} else {
		trade.OrderStatus.Remaining = decimal.Zero
		trade.OrderStatus.Status = broker.StatusFilled
	}

	snapshot := trade.Clone()
	handler := m.handler
	m.mu.Unlock()

	if handler != nil {
		handler.OnFill(snapshot, fill)
		handler.OnTradeUpdate(snapshot)
	}
	return fill, nil
}

// SetPosition replaces the holding for symbol; a zero quantity is still reported
func (m *MockSession) SetPosition(account, symbol string, qty, avgCost decimal.Decimal, marketPrice decimal.NullDecimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos := broker.NativePosition{
		Account:     account,
		Contract:    broker.Stock(symbol),
		Position:    qty,
		AvgCost:     avgCost,
		MarketPrice: marketPrice,
	}
	for i := range m.positions {
		if m.positions[i].Contract.Symbol == symbol && m.positions[i].Account == account {
			m.positions[i] = pos
			return
		}
	}
	m.positions = append(m.positions, pos)
	sort.Slice(m.positions, func(i, j int) bool {
		return m.positions[i].Contract.Symbol < m.positions[j].Contract.Symbol
	})
}
