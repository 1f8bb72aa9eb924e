package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"execution_client/internal/core"
	apperrors "execution_client/pkg/errors"
	"execution_client/pkg/telemetry"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// SessionPath is the gateway endpoint serving the session protocol
const SessionPath = "/session"

// WSConfig tunes the WebSocket session
type WSConfig struct {
	DialTimeout    time.Duration
	RequestTimeout time.Duration
	PingInterval   time.Duration
	WriteWait      time.Duration
}

// DefaultWSConfig returns the standard session timings
func DefaultWSConfig() WSConfig {
	return WSConfig{
		DialTimeout:    5 * time.Second,
		RequestTimeout: 10 * time.Second,
		PingInterval:   15 * time.Second,
		WriteWait:      5 * time.Second,
	}
}

// WSSession is a Session speaking the JSON envelope protocol over gorilla/websocket
type WSSession struct {
	cfg    WSConfig
	logger core.ILogger

	mu      sync.Mutex // guards conn, pending, handler, addr, stop
	conn    *websocket.Conn
	pending map[string]chan Envelope
	handler EventHandler
	addr    string
	stop    chan struct{}

	writeMu   sync.Mutex
	connected atomic.Bool
	wg        sync.WaitGroup

	tracer     trace.Tracer
	reqCounter metric.Int64Counter
	pushCount  metric.Int64Counter
}

// NewWSSession creates an unconnected session
func NewWSSession(cfg WSConfig, logger core.ILogger) *WSSession {
	def := DefaultWSConfig()
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = def.WriteWait
	}

	meter := telemetry.GetMeter("broker-session")
	reqCounter, _ := meter.Int64Counter("broker_session_requests_total",
		metric.WithDescription("Total requests sent to the broker gateway"))
	pushCount, _ := meter.Int64Counter("broker_session_pushes_total",
		metric.WithDescription("Total server pushes received from the broker gateway"))

	return &WSSession{
		cfg:        cfg,
		logger:     logger.WithField("component", "ws_session"),
		pending:    make(map[string]chan Envelope),
		tracer:     telemetry.GetTracer("broker-session"),
		reqCounter: reqCounter,
		pushCount:  pushCount,
	}
}

// SetEventHandler registers the push receiver
func (s *WSSession) SetEventHandler(h EventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// IsConnected reports whether the transport is open
func (s *WSSession) IsConnected() bool {
	return s.connected.Load()
}

// Connect dials the gateway and performs the hello handshake
func (s *WSSession) Connect(ctx context.Context, host string, port int, clientID int, readonly bool) error {
	if s.IsConnected() {
		return nil
	}
	// Drop any transport left behind by a dead session
	_ = s.Disconnect()

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	u := url.URL{Scheme: "ws", Host: addr, Path: SessionPath}

	ctx, span := s.tracer.Start(ctx, "Session Connect",
		trace.WithAttributes(attribute.String("gateway.addr", addr), attribute.Int("client_id", clientID)))
	defer span.End()

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.DialTimeout}
	conn, _, err := dialer.DialContext(dialCtx, u.String(), nil)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("dial %s: %w", u.String(), err)
	}

	stop := make(chan struct{})
	s.mu.Lock()
	s.conn = conn
	s.addr = addr
	s.stop = stop
	s.mu.Unlock()

	if s.cfg.PingInterval > 0 {
		pongWait := 2 * s.cfg.PingInterval
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
	}

	s.connected.Store(true)
	s.wg.Add(1)
	go s.readLoop(conn)
	if s.cfg.PingInterval > 0 {
		s.wg.Add(1)
		go s.heartbeat(conn, stop)
	}

	var hello HelloResponse
	if err := s.roundTrip(ctx, MsgHello, HelloRequest{ClientID: clientID, ReadOnly: readonly}, &hello); err != nil {
		span.RecordError(err)
		_ = s.Disconnect()
		return fmt.Errorf("hello handshake: %w", err)
	}

	s.logger.Info("Gateway session established", "addr", addr, "session_id", hello.SessionID, "readonly", readonly)
	return nil
}

// Disconnect closes the transport. Safe to call repeatedly.
func (s *WSSession) Disconnect() error {
	s.mu.Lock()
	conn := s.conn
	stop := s.stop
	s.conn = nil
	s.stop = nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}

	close(stop)
	s.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(s.cfg.WriteWait))
	s.writeMu.Unlock()
	// The reader may already have closed the conn after the close handshake
	_ = conn.Close()

	s.wg.Wait()
	s.markClosed()
	return nil
}

func (s *WSSession) PlaceOrder(ctx context.Context, contract Contract, order NativeOrder) (Trade, error) {
	var trade Trade
	err := s.roundTrip(ctx, MsgPlaceOrder, PlaceOrderRequest{Contract: contract, Order: order}, &trade)
	return trade, err
}

func (s *WSSession) CancelOrder(ctx context.Context, order NativeOrder) error {
	return s.roundTrip(ctx, MsgCancelOrder, CancelOrderRequest{OrderID: order.OrderID}, nil)
}

func (s *WSSession) Trades(ctx context.Context) ([]Trade, error) {
	var trades []Trade
	err := s.roundTrip(ctx, MsgTrades, nil, &trades)
	return trades, err
}

func (s *WSSession) OpenTrades(ctx context.Context) ([]Trade, error) {
	var trades []Trade
	err := s.roundTrip(ctx, MsgOpenTrades, nil, &trades)
	return trades, err
}

func (s *WSSession) Positions(ctx context.Context) ([]NativePosition, error) {
	var positions []NativePosition
	err := s.roundTrip(ctx, MsgPositions, nil, &positions)
	return positions, err
}

func (s *WSSession) notConnected(op string) error {
	s.mu.Lock()
	addr := s.addr
	s.mu.Unlock()
	return &apperrors.ConnectionError{Op: op, Address: addr, Err: apperrors.ErrNotConnected}
}

// roundTrip sends one request and waits for the response with the same id
func (s *WSSession) roundTrip(ctx context.Context, msgType string, payload, out interface{}) error {
	if !s.IsConnected() {
		return s.notConnected(msgType)
	}

	id := uuid.NewString()
	env, err := NewEnvelope(id, msgType, payload)
	if err != nil {
		return err
	}

	ch := make(chan Envelope, 1)
	s.mu.Lock()
	conn, addr := s.conn, s.addr
	if conn == nil {
		s.mu.Unlock()
		return s.notConnected(msgType)
	}
	s.pending[id] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}()

	s.reqCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("type", msgType)))

	s.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
	err = conn.WriteJSON(env)
	s.writeMu.Unlock()
	if err != nil {
		_ = conn.Close()
		return &apperrors.ConnectionError{Op: msgType, Address: addr, Err: err}
	}

	timer := time.NewTimer(s.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return s.notConnected(msgType)
		}
		if resp.Error != "" {
			return &GatewayError{Op: msgType, Message: resp.Error}
		}
		if out == nil || len(resp.Payload) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.Payload, out); err != nil {
			return fmt.Errorf("decode %s response: %w", msgType, err)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("%s: no response within %s", msgType, s.cfg.RequestTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *WSSession) readLoop(conn *websocket.Conn) {
	defer s.wg.Done()
	defer s.markClosed()
	defer conn.Close()

	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("Gateway session read failed", "error", err)
			}
			return
		}

		if env.ID != "" {
			s.deliver(env)
			continue
		}
		s.dispatchPush(env)
	}
}

func (s *WSSession) deliver(env Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.pending[env.ID]; ok {
		delete(s.pending, env.ID)
		ch <- env
	}
}

func (s *WSSession) dispatchPush(env Envelope) {
	s.mu.Lock()
	handler := s.handler
	s.mu.Unlock()

	s.pushCount.Add(context.Background(), 1, metric.WithAttributes(attribute.String("type", env.Type)))
	if handler == nil {
		return
	}

	switch env.Type {
	case MsgTradeUpdate:
		var trade Trade
		if err := json.Unmarshal(env.Payload, &trade); err != nil {
			s.logger.Warn("Malformed trade update", "error", err)
			return
		}
		handler.OnTradeUpdate(trade)
	case MsgFill:
		var ev FillEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			s.logger.Warn("Malformed fill push", "error", err)
			return
		}
		handler.OnFill(ev.Trade, ev.Fill)
	default:
		s.logger.Debug("Ignoring unknown push", "type", env.Type)
	}
}

func (s *WSSession) heartbeat(conn *websocket.Conn, stop <-chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteWait)); err != nil {
				s.logger.Warn("Gateway ping failed, closing session", "error", err)
				_ = conn.Close()
				return
			}
		}
	}
}

// markClosed flips the session to closed and fails every waiting request
func (s *WSSession) markClosed() {
	s.connected.Store(false)
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.pending {
		close(ch)
		delete(s.pending, id)
	}
}
