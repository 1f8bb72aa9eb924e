package mock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"execution_client/internal/broker"
	"execution_client/internal/core"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const gatewayWriteWait = 5 * time.Second

var errReadOnly = errors.New("order mutations refused on read-only session")

// Gateway serves the broker session protocol over WebSocket, backed by a MockSession book
type Gateway struct {
	book     *MockSession
	logger   core.ILogger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*gatewayClient]struct{}
}

type gatewayClient struct {
	conn     *websocket.Conn
	writeMu  sync.Mutex
	readonly bool
	hello    atomic.Bool
}

var _ broker.EventHandler = (*Gateway)(nil)

// NewGateway creates a simulator that trades against book
func NewGateway(book *MockSession, logger core.ILogger) *Gateway {
	g := &Gateway{
		book:    book,
		logger:  logger.WithField("component", "gateway_sim"),
		clients: make(map[*gatewayClient]struct{}),
	}
	_ = book.Connect(context.Background(), "gateway", 0, 0, false)
	book.SetEventHandler(g)
	return g
}

// Book returns the backing order book for scripting fills and statuses
func (g *Gateway) Book() *MockSession {
	return g.book
}

// ClientCount returns the number of attached sessions
func (g *Gateway) ClientCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.clients)
}

// ServeHTTP upgrades the request and serves one session
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("Upgrade failed", "error", err)
		return
	}

	c := &gatewayClient{conn: conn}
	g.mu.Lock()
	g.clients[c] = struct{}{}
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.clients, c)
		g.mu.Unlock()
		conn.Close()
	}()

	for {
		var env broker.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.logger.Debug("Session read ended", "error", err)
			}
			return
		}
		g.handle(r.Context(), c, env)
	}
}

// DropClients closes every attached connection, as a gateway restart would
func (g *Gateway) DropClients() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for c := range g.clients {
		c.conn.Close()
	}
}

func (g *Gateway) handle(ctx context.Context, c *gatewayClient, env broker.Envelope) {
	result, err := g.dispatch(ctx, c, env)
	resp, encErr := broker.NewEnvelope(env.ID, env.Type, result)
	if encErr != nil {
		resp = broker.Envelope{ID: env.ID, Type: env.Type}
		err = encErr
	}
	if err != nil {
		resp.Payload = nil
		resp.Error = err.Error()
	}
	g.write(c, resp)
}

func (g *Gateway) dispatch(ctx context.Context, c *gatewayClient, env broker.Envelope) (interface{}, error) {
	if env.Type != broker.MsgHello && !c.hello.Load() {
		return nil, fmt.Errorf("hello required before %s", env.Type)
	}

	switch env.Type {
	case broker.MsgHello:
		var req broker.HelloRequest
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			return nil, fmt.Errorf("bad hello: %w", err)
		}
		c.readonly = req.ReadOnly
		c.hello.Store(true)
		g.logger.Info("Client attached", "client_id", req.ClientID, "readonly", req.ReadOnly)
		return broker.HelloResponse{SessionID: uuid.NewString()}, nil

	case broker.MsgPlaceOrder:
		if c.readonly {
			return nil, errReadOnly
		}
		var req broker.PlaceOrderRequest
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			return nil, fmt.Errorf("bad place_order: %w", err)
		}
		return g.book.PlaceOrder(ctx, req.Contract, req.Order)

	case broker.MsgCancelOrder:
		if c.readonly {
			return nil, errReadOnly
		}
		var req broker.CancelOrderRequest
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			return nil, fmt.Errorf("bad cancel_order: %w", err)
		}
		trade, ok := g.book.Trade(req.OrderID)
		if !ok {
			return nil, fmt.Errorf("order not found: %d", req.OrderID)
		}
		return nil, g.book.CancelOrder(ctx, trade.Order)

	case broker.MsgTrades:
		return g.book.Trades(ctx)
	case broker.MsgOpenTrades:
		return g.book.OpenTrades(ctx)
	case broker.MsgPositions:
		return g.book.Positions(ctx)
	}
	return nil, fmt.Errorf("unknown message type %q", env.Type)
}

func (g *Gateway) write(c *gatewayClient, env broker.Envelope) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(gatewayWriteWait))
	if err := c.conn.WriteJSON(env); err != nil {
		g.logger.Debug("Write to client failed", "type", env.Type, "error", err)
	}
}

func (g *Gateway) broadcast(msgType string, payload interface{}) {
	env, err := broker.NewEnvelope("", msgType, payload)
	if err != nil {
		g.logger.Error("Failed to encode push", "type", msgType, "error", err)
		return
	}

	g.mu.Lock()
	targets := make([]*gatewayClient, 0, len(g.clients))
	for c := range g.clients {
		if c.hello.Load() {
			targets = append(targets, c)
		}
	}
	g.mu.Unlock()

	for _, c := range targets {
		g.write(c, env)
	}
}

func (g *Gateway) OnTradeUpdate(trade broker.Trade) {
	g.broadcast(broker.MsgTradeUpdate, trade)
}

func (g *Gateway) OnFill(trade broker.Trade, fill broker.NativeFill) {
	g.broadcast(broker.MsgFill, broker.FillEvent{Trade: trade, Fill: fill})
}
