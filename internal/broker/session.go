package broker

import "context"

// Session is the broker gateway session boundary.
// Implementations never build order semantics; they only move native representations.
type Session interface {
	Connect(ctx context.Context, host string, port int, clientID int, readonly bool) error
	Disconnect() error
	IsConnected() bool

	PlaceOrder(ctx context.Context, contract Contract, order NativeOrder) (Trade, error)
	CancelOrder(ctx context.Context, order NativeOrder) error

	// Trades returns every trade known to the session, done or not
	Trades(ctx context.Context) ([]Trade, error)
	OpenTrades(ctx context.Context) ([]Trade, error)
	Positions(ctx context.Context) ([]NativePosition, error)

	SetEventHandler(h EventHandler)
}

// EventHandler receives pushed trade updates and executions.
// Callbacks run on the session's reader and must not block.
type EventHandler interface {
	OnTradeUpdate(trade Trade)
	OnFill(trade Trade, fill NativeFill)
}

// SessionFactory creates a fresh, unconnected session
type SessionFactory func() Session
