// Package execution turns order requests into broker orders and keeps them queryable
package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"execution_client/internal/audit"
	"execution_client/internal/broker"
	"execution_client/internal/config"
	"execution_client/internal/core"
	"execution_client/internal/model"
	"execution_client/internal/risk"
	"execution_client/pkg/concurrency"
	apperrors "execution_client/pkg/errors"
	"execution_client/pkg/telemetry"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const defaultCancelReason = "User requested cancellation"

// Connector is the part of the connection manager the executor relies on
type Connector interface {
	EnsureConnected(ctx context.Context) error
	Session() (broker.Session, error)
	SetEventHandler(h broker.EventHandler)
}

// Config tunes submission behaviour
type Config struct {
	AckGrace            time.Duration
	OrdersPerSecond     float64 // zero disables pacing
	Burst               int
	DefaultCancelReason string
	HandlerQueue        int
}

func ConfigFromExecution(c config.ExecutionConfig) Config {
	return Config{
		AckGrace:            c.AckGrace(),
		OrdersPerSecond:     c.OrdersPerSecond,
		Burst:               c.OrderBurst,
		DefaultCancelReason: c.DefaultCancelReason,
		HandlerQueue:        c.HandlerQueue,
	}
}

// journalEntry keeps the request behind a broker order and its last observed snapshot
type journalEntry struct {
	req        model.OrderRequest
	hasRequest bool
	order      model.Order
}

// OrderExecutor submits, cancels and queries orders through the connection manager.
// It is also the broker event handler for the sessions the manager creates.
type OrderExecutor struct {
	conn    Connector
	gate    core.IRiskGate
	audit   *audit.Logger
	logger  core.ILogger
	cfg     Config
	limiter *rate.Limiter
	events  *concurrency.WorkerPool
	now     func() time.Time

	mu       sync.Mutex
	journal  map[string]*journalEntry
	pending  map[string]model.OrderRequest // by client order id, while placement is in flight
	handlers []core.OrderEventHandler

	tracer          trace.Tracer
	submitted       metric.Int64Counter
	rejected        metric.Int64Counter
	riskRejections  metric.Int64Counter
	cancels         metric.Int64Counter
	brokerLatencyMs metric.Float64Histogram
}

var _ broker.EventHandler = (*OrderExecutor)(nil)

// NewOrderExecutor wires the executor to conn. gate may be nil to disable risk checks.
func NewOrderExecutor(conn Connector, gate core.IRiskGate, auditLog *audit.Logger, logger core.ILogger, cfg Config) *OrderExecutor {
	if cfg.DefaultCancelReason == "" {
		cfg.DefaultCancelReason = defaultCancelReason
	}
	if auditLog == nil {
		auditLog = audit.NewNop()
	}
	limit := rate.Inf
	if cfg.OrdersPerSecond > 0 {
		limit = rate.Limit(cfg.OrdersPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	execLogger := logger.WithField("component", "order_executor")
	e := &OrderExecutor{
		conn:    conn,
		gate:    gate,
		audit:   auditLog,
		logger:  execLogger,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
		events: concurrency.NewWorkerPool(concurrency.PoolConfig{
			Name:        "order_events",
			MaxWorkers:  1,
			MaxCapacity: cfg.HandlerQueue,
			NonBlocking: true,
		}, logger),
		now:     time.Now,
		journal: make(map[string]*journalEntry),
		pending: make(map[string]model.OrderRequest),
		tracer:  telemetry.GetTracer("execution"),
	}

	meter := telemetry.GetMeter("execution")
	e.submitted, _ = meter.Int64Counter(telemetry.MetricOrdersSubmittedTotal,
		metric.WithDescription("Orders acknowledged by the broker"))
	e.rejected, _ = meter.Int64Counter(telemetry.MetricOrdersRejectedTotal,
		metric.WithDescription("Orders rejected by the broker or failing placement"))
	e.riskRejections, _ = meter.Int64Counter(telemetry.MetricRiskRejectionsTotal,
		metric.WithDescription("Orders refused by the risk gate"))
	e.cancels, _ = meter.Int64Counter(telemetry.MetricCancelsTotal,
		metric.WithDescription("Cancellation requests sent to the broker"))
	e.brokerLatencyMs, _ = meter.Float64Histogram(telemetry.MetricBrokerLatency,
		metric.WithDescription("Broker round-trip latency in milliseconds"),
		metric.WithUnit("ms"))

	conn.SetEventHandler(e)
	return e
}

// AddOrderEventHandler registers h for status, fill and rejection notifications.
// Notifications are delivered in order on a single worker.
func (e *OrderExecutor) AddOrderEventHandler(h core.OrderEventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, h)
}

// SubmitOrder runs the risk gate, places the order and returns the acknowledged snapshot.
// Errors are one of: invalid order, *RiskCheckError, *ConnectionError or *OrderRejectedError.
func (e *OrderExecutor) SubmitOrder(ctx context.Context, req model.OrderRequest) (model.Order, error) {
	ctx, span := e.tracer.Start(ctx, "SubmitOrder", trace.WithAttributes(
		attribute.String("symbol", req.Symbol),
		attribute.String("side", string(req.Side)),
		attribute.String("order_type", string(req.Type())),
	))
	defer span.End()

	order, err := e.submit(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return model.Order{}, err
	}
	span.SetAttributes(attribute.String("order_id", order.OrderID), attribute.String("status", string(order.Status)))
	return order, nil
}

func (e *OrderExecutor) submit(ctx context.Context, req model.OrderRequest) (model.Order, error) {
	if err := req.Validate(); err != nil {
		return model.Order{}, err
	}
	if req.ClientOrderID == "" {
		req = req.WithClientOrderID(uuid.NewString())
	}
	logger := e.logger.WithFields(map[string]interface{}{
		"symbol":          req.Symbol,
		"client_order_id": req.ClientOrderID,
	})

	if reason := e.checkRisk(req); reason != "" {
		e.riskRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("symbol", req.Symbol)))
		e.audit.LogRiskCheckFailure(req, reason)
		logger.Warn("Order refused by risk gate", "reason", reason)
		return model.Order{}, &apperrors.RiskCheckError{Symbol: req.Symbol, ClientOrderID: req.ClientOrderID, Reason: reason}
	}

	if err := e.conn.EnsureConnected(ctx); err != nil {
		return model.Order{}, err
	}

	contract, native, err := buildNativeOrder(req)
	if err != nil {
		return model.Order{}, err
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return model.Order{}, fmt.Errorf("order pacing: %w", err)
	}

	session, err := e.conn.Session()
	if err != nil {
		return model.Order{}, err
	}

	e.mu.Lock()
	e.pending[req.ClientOrderID] = req
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.pending, req.ClientOrderID)
		e.mu.Unlock()
	}()

	start := time.Now()
	trade, err := session.PlaceOrder(ctx, contract, native)
	e.recordLatency(ctx, "place_order", start)
	if err != nil {
		return model.Order{}, e.placementFailed(ctx, req, err, logger)
	}

	trade = e.awaitAck(ctx, session, trade, logger)

	order := model.NewOrderFromRequest(trade.Order.Key(), req, MapStatus(trade.OrderStatus.Status), e.now())
	order = order.WithExecution(order.Status, trade.OrderStatus.Filled, positiveOrNull(trade.OrderStatus.AvgFillPrice))

	e.mu.Lock()
	entry, ok := e.journal[order.OrderID]
	if !ok {
		entry = &journalEntry{}
		e.journal[order.OrderID] = entry
	}
	entry.req, entry.hasRequest = req, true
	entry.order = order
	e.mu.Unlock()

	e.submitted.Add(ctx, 1, metric.WithAttributes(attribute.String("order_type", string(order.Type))))
	e.audit.LogOrderSubmitted(req, order)
	logger.Info("Order submitted", "order_id", order.OrderID, "status", order.Status)

	if order.Status == model.OrderStatusRejected {
		reason := trade.OrderStatus.WhyHeld
		if reason == "" {
			reason = "rejected by broker"
		}
		e.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", "acknowledgement")))
		e.audit.LogOrderRejected(order, reason)
		return model.Order{}, &apperrors.OrderRejectedError{
			Symbol:        req.Symbol,
			ClientOrderID: req.ClientOrderID,
			Err:           fmt.Errorf("order %s: %s", order.OrderID, reason),
		}
	}
	return order, nil
}

// checkRisk returns the rejection reason, or "" when the request is approved.
// A panicking gate rejects the order.
func (e *OrderExecutor) checkRisk(req model.OrderRequest) (reason string) {
	if e.gate == nil {
		return ""
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Risk gate panicked", "symbol", req.Symbol, "panic", r)
			reason = fmt.Sprintf("risk gate failed: %v", r)
		}
	}()
	if c, ok := e.gate.(risk.Checker); ok {
		if err := c.Check(req); err != nil {
			return err.Error()
		}
		return ""
	}
	if !e.gate.Approve(req) {
		return "rejected by risk gate"
	}
	return ""
}

// placementFailed classifies a PlaceOrder error. Transport and contract errors pass through.
func (e *OrderExecutor) placementFailed(ctx context.Context, req model.OrderRequest, err error, logger core.ILogger) error {
	var connErr *apperrors.ConnectionError
	if errors.As(err, &connErr) || apperrors.IsContractViolation(err) || ctx.Err() != nil {
		logger.Warn("Order placement failed", "error", err)
		return err
	}

	e.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", "placement")))
	rejected := model.NewOrderFromRequest("", req, model.OrderStatusRejected, e.now())
	e.audit.LogOrderRejected(rejected, err.Error())
	logger.Error("Order rejected by broker", "error", err)
	return &apperrors.OrderRejectedError{Symbol: req.Symbol, ClientOrderID: req.ClientOrderID, Err: err}
}

// awaitAck gives the broker a short window to acknowledge, then re-reads the trade.
// The placement response is used when the window is cut short or the re-read fails.
func (e *OrderExecutor) awaitAck(ctx context.Context, session broker.Session, trade broker.Trade, logger core.ILogger) broker.Trade {
	if e.cfg.AckGrace <= 0 {
		return trade
	}
	timer := time.NewTimer(e.cfg.AckGrace)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return trade
	case <-timer.C:
	}

	trades, err := session.Trades(ctx)
	if err != nil {
		logger.Warn("Could not refresh order after placement", "order_id", trade.Order.Key(), "error", err)
		return trade
	}
	for _, t := range trades {
		if t.Order.OrderID == trade.Order.OrderID {
			return t
		}
	}
	return trade
}

// CancelOrder cancels a live order. An empty reason uses the configured default.
func (e *OrderExecutor) CancelOrder(ctx context.Context, orderID, reason string) error {
	ctx, span := e.tracer.Start(ctx, "CancelOrder", trace.WithAttributes(attribute.String("order_id", orderID)))
	defer span.End()

	if err := e.cancel(ctx, orderID, reason); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (e *OrderExecutor) cancel(ctx context.Context, orderID, reason string) error {
	if reason == "" {
		reason = e.cfg.DefaultCancelReason
	}
	if err := e.conn.EnsureConnected(ctx); err != nil {
		return err
	}
	session, err := e.conn.Session()
	if err != nil {
		return err
	}

	trade, err := e.findTrade(ctx, session, orderID)
	if err != nil {
		return err
	}
	if native := trade.OrderStatus.Status; trade.IsDone() || MapStatus(native).IsTerminal() {
		return fmt.Errorf("%w: order %s is %s (broker status %s)",
			apperrors.ErrOrderNotCancellable, orderID, MapStatus(native), native)
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("order pacing: %w", err)
	}

	start := time.Now()
	err = session.CancelOrder(ctx, trade.Order)
	e.recordLatency(ctx, "cancel_order", start)
	if err != nil {
		var connErr *apperrors.ConnectionError
		if errors.As(err, &connErr) || ctx.Err() != nil {
			return err
		}
		e.logger.Error("Cancel refused by broker", "order_id", orderID, "error", err)
		return &apperrors.OrderRejectedError{Symbol: trade.Contract.Symbol, ClientOrderID: trade.Order.OrderRef, Err: err}
	}

	e.cancels.Add(ctx, 1)
	e.audit.LogOrderCancelled(e.snapshot(trade), reason)
	e.logger.Info("Order cancelled", "order_id", orderID, "reason", reason)
	return nil
}

// GetOrderStatus returns the broker's current view of an order
func (e *OrderExecutor) GetOrderStatus(ctx context.Context, orderID string) (model.Order, error) {
	session, err := e.session(ctx)
	if err != nil {
		return model.Order{}, err
	}
	trade, err := e.findTrade(ctx, session, orderID)
	if err != nil {
		return model.Order{}, err
	}
	return e.snapshot(trade), nil
}

// GetOpenOrders returns every order the broker still works
func (e *OrderExecutor) GetOpenOrders(ctx context.Context) ([]model.Order, error) {
	session, err := e.session(ctx)
	if err != nil {
		return nil, err
	}
	trades, err := session.OpenTrades(ctx)
	if err != nil {
		return nil, fmt.Errorf("open orders: %w", err)
	}

	orders := make([]model.Order, 0, len(trades))
	bySymbol := make(map[string]int64)
	for _, t := range trades {
		orders = append(orders, e.snapshot(t))
		bySymbol[t.Contract.Symbol]++
	}
	telemetry.GetGlobalMetrics().SetOpenOrders(bySymbol)
	return orders, nil
}

// GetPositions returns the account holdings reported by the broker
func (e *OrderExecutor) GetPositions(ctx context.Context) ([]model.Position, error) {
	session, err := e.session(ctx)
	if err != nil {
		return nil, err
	}
	natives, err := session.Positions(ctx)
	if err != nil {
		return nil, fmt.Errorf("positions: %w", err)
	}
	now := e.now()
	positions := make([]model.Position, 0, len(natives))
	for _, p := range natives {
		positions = append(positions, positionFromNative(p, now))
	}
	return positions, nil
}

// GetFills returns the executions recorded against an order
func (e *OrderExecutor) GetFills(ctx context.Context, orderID string) ([]model.Fill, error) {
	session, err := e.session(ctx)
	if err != nil {
		return nil, err
	}
	trade, err := e.findTrade(ctx, session, orderID)
	if err != nil {
		return nil, err
	}
	fills := make([]model.Fill, 0, len(trade.Fills))
	for _, f := range trade.Fills {
		fills = append(fills, fillFromNative(trade, f))
	}
	return fills, nil
}

// CheckHealth reports whether the broker session is usable
func (e *OrderExecutor) CheckHealth(context.Context) error {
	_, err := e.conn.Session()
	return err
}

// Close drains pending event notifications
func (e *OrderExecutor) Close() {
	e.events.Stop()
}

func (e *OrderExecutor) session(ctx context.Context) (broker.Session, error) {
	if err := e.conn.EnsureConnected(ctx); err != nil {
		return nil, err
	}
	return e.conn.Session()
}

func (e *OrderExecutor) findTrade(ctx context.Context, session broker.Session, orderID string) (broker.Trade, error) {
	start := time.Now()
	trades, err := session.Trades(ctx)
	e.recordLatency(ctx, "trades", start)
	if err != nil {
		return broker.Trade{}, fmt.Errorf("trades: %w", err)
	}
	for _, t := range trades {
		if t.Order.Key() == orderID {
			return t, nil
		}
	}
	return broker.Trade{}, fmt.Errorf("%w: %s", apperrors.ErrOrderNotFound, orderID)
}

// snapshot maps a trade, preferring the journaled request over kind inference
func (e *OrderExecutor) snapshot(trade broker.Trade) model.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.journal[trade.Order.Key()]
	if !ok {
		entry = &journalEntry{}
	}
	return e.mapLocked(trade, entry)
}

func (e *OrderExecutor) recordLatency(ctx context.Context, op string, start time.Time) {
	e.brokerLatencyMs.Record(ctx, float64(time.Since(start).Microseconds())/1000.0,
		metric.WithAttributes(attribute.String("op", op)))
}
