package audit

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync/atomic"
	"time"

	"execution_client/internal/core"
	"execution_client/internal/logging"
	"execution_client/internal/model"
	"execution_client/pkg/concurrency"
	"execution_client/pkg/telemetry"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures the audit stream
type Options struct {
	// Output is "stdout", "stderr" or a file path. Ignored when Writer is set.
	Output string
	Writer io.Writer

	Sink        Sink
	SinkWorkers int
	SinkQueue   int
	Alerter     core.IAlerter
}

// Logger writes one JSON object per event. Recording never returns an error
// and never panics into the caller; sink failures are counted, logged and escalated.
type Logger struct {
	out     *zap.Logger
	closeFn func()
	logger  core.ILogger

	sink     Sink
	pool     *concurrency.WorkerPool
	alerter  core.IAlerter
	degraded atomic.Bool

	sinkFailures metric.Int64Counter
	now          func() time.Time
}

func NewLogger(opts Options, logger core.ILogger) (*Logger, error) {
	var (
		ws      zapcore.WriteSyncer
		closeFn = func() {}
	)
	switch {
	case opts.Writer != nil:
		ws = zapcore.Lock(zapcore.AddSync(opts.Writer))
	default:
		output := opts.Output
		if output == "" {
			output = "stdout"
		}
		sink, closer, err := zap.Open(output)
		if err != nil {
			return nil, fmt.Errorf("open audit output %q: %w", output, err)
		}
		ws, closeFn = sink, closer
	}

	encCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		MessageKey:     "event",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
	out := zap.New(zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), ws, zapcore.InfoLevel))

	return newLogger(out, closeFn, opts, logger), nil
}

// NewNop returns a Logger that drops every event
func NewNop() *Logger {
	return newLogger(zap.NewNop(), func() {}, Options{}, logging.NewNop())
}

func newLogger(out *zap.Logger, closeFn func(), opts Options, logger core.ILogger) *Logger {
	l := &Logger{
		out:     out,
		closeFn: closeFn,
		logger:  logger.WithField("component", "audit"),
		sink:    opts.Sink,
		alerter: opts.Alerter,
		now:     time.Now,
	}
	if opts.Sink != nil {
		l.pool = concurrency.NewWorkerPool(concurrency.PoolConfig{
			Name:        "audit_sink",
			MaxWorkers:  opts.SinkWorkers,
			MaxCapacity: opts.SinkQueue,
			NonBlocking: true,
		}, logger)
	}

	meter := telemetry.GetMeter("audit")
	l.sinkFailures, _ = meter.Int64Counter(telemetry.MetricAuditSinkFailures,
		metric.WithDescription("Audit events the durable sink failed to store"))
	return l
}

func (l *Logger) LogOrderSubmitted(req model.OrderRequest, order model.Order) {
	fields := map[string]interface{}{
		"order_type":    string(order.Type),
		"side":          string(order.Side),
		"quantity":      order.Quantity.String(),
		"time_in_force": string(order.TimeInForce),
		"status":        string(order.Status),
		"submitted_at":  order.SubmittedAt.Format(time.RFC3339Nano),
	}
	putNullDecimal(fields, "limit_price", order.LimitPrice)
	putNullDecimal(fields, "stop_price", order.StopPrice)
	if order.Account != "" {
		fields["account"] = order.Account
	}
	clientID := order.ClientOrderID
	if clientID == "" {
		clientID = req.ClientOrderID
	}
	l.record(Event{
		Kind:          EventOrderSubmitted,
		OrderID:       order.OrderID,
		ClientOrderID: clientID,
		Symbol:        order.Symbol,
		Fields:        fields,
	})
}

func (l *Logger) LogOrderStatusChange(order model.Order, old model.OrderStatus) {
	fields := map[string]interface{}{
		"old_status":      string(old),
		"new_status":      string(order.Status),
		"filled_quantity": order.FilledQuantity.String(),
	}
	putNullDecimal(fields, "average_fill_price", order.AverageFillPrice)
	l.record(Event{
		Kind:          EventOrderStatusChange,
		OrderID:       order.OrderID,
		ClientOrderID: order.ClientOrderID,
		Symbol:        order.Symbol,
		Fields:        fields,
	})
}

// LogFill records an execution; clientOrderID may be empty for orders this process did not submit
func (l *Logger) LogFill(fill model.Fill, clientOrderID string) {
	fields := map[string]interface{}{
		"fill_id":   fill.FillID,
		"quantity":  fill.Quantity.String(),
		"price":     fill.Price.String(),
		"side":      string(fill.Side),
		"fill_time": fill.Timestamp.Format(time.RFC3339Nano),
	}
	putNullDecimal(fields, "commission", fill.Commission)
	l.record(Event{
		Kind:          EventOrderFill,
		OrderID:       fill.OrderID,
		ClientOrderID: clientOrderID,
		Symbol:        fill.Symbol,
		Fields:        fields,
	})
}

func (l *Logger) LogOrderCancelled(order model.Order, reason string) {
	l.record(Event{
		Kind:          EventOrderCancelled,
		OrderID:       order.OrderID,
		ClientOrderID: order.ClientOrderID,
		Symbol:        order.Symbol,
		Fields:        map[string]interface{}{"reason": reason},
	})
}

func (l *Logger) LogOrderRejected(order model.Order, reason string) {
	fields := map[string]interface{}{
		"reason":     reason,
		"order_type": string(order.Type),
		"side":       string(order.Side),
		"quantity":   order.Quantity.String(),
	}
	l.record(Event{
		Kind:          EventOrderRejected,
		OrderID:       order.OrderID,
		ClientOrderID: order.ClientOrderID,
		Symbol:        order.Symbol,
		Fields:        fields,
	})
}

func (l *Logger) LogConnectionEvent(event string, details map[string]interface{}) {
	fields := make(map[string]interface{}, len(details)+1)
	for k, v := range details {
		fields[k] = v
	}
	fields["connection_event"] = event
	l.record(Event{Kind: EventConnection, Fields: fields})
}

func (l *Logger) LogRiskCheckFailure(req model.OrderRequest, reason string) {
	fields := map[string]interface{}{
		"reason":     reason,
		"order_type": string(req.Type()),
		"side":       string(req.Side),
		"quantity":   req.Quantity.String(),
	}
	if req.Pricing != nil {
		if p, ok := req.Pricing.LimitPrice(); ok {
			fields["limit_price"] = p.String()
		}
		if p, ok := req.Pricing.StopPrice(); ok {
			fields["stop_price"] = p.String()
		}
	}
	l.record(Event{
		Kind:          EventRiskCheckFailed,
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Fields:        fields,
	})
}

func (l *Logger) record(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Audit record panicked", "event", ev.Kind, "panic", r)
		}
	}()

	ev.ID = uuid.NewString()
	ev.Timestamp = l.now().UTC()

	zf := make([]zap.Field, 0, len(ev.Fields)+5)
	zf = append(zf, zap.String("event_id", ev.ID))
	if ev.OrderID != "" {
		zf = append(zf, zap.String("order_id", ev.OrderID))
	}
	if ev.ClientOrderID != "" {
		zf = append(zf, zap.String("client_order_id", ev.ClientOrderID))
	}
	if ev.Symbol != "" {
		zf = append(zf, zap.String("symbol", ev.Symbol))
	}
	keys := make([]string, 0, len(ev.Fields))
	for k := range ev.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		zf = append(zf, zap.Any(k, ev.Fields[k]))
	}
	l.out.Info(string(ev.Kind), zf...)

	if l.sink != nil {
		l.persist(ev)
	}
}

func (l *Logger) persist(ev Event) {
	err := l.pool.Submit(func() {
		if err := l.sink.Write(context.Background(), ev); err != nil {
			l.sinkFailed(ev, err)
			return
		}
		if l.degraded.Swap(false) {
			l.logger.Info("Audit sink recovered")
		}
	})
	if err != nil {
		l.sinkFailed(ev, err)
	}
}

func (l *Logger) sinkFailed(ev Event, err error) {
	l.sinkFailures.Add(context.Background(), 1, metric.WithAttributes(attribute.String("event", string(ev.Kind))))
	l.logger.Error("Audit sink write failed", "event", ev.Kind, "event_id", ev.ID, "order_id", ev.OrderID, "error", err)
	if l.degraded.Swap(true) || l.alerter == nil {
		return
	}
	l.alerter.Escalate(context.Background(), "Audit sink degraded", err.Error(), map[string]string{
		"event":    string(ev.Kind),
		"order_id": ev.OrderID,
	})
}

// Degraded reports whether the last sink write failed
func (l *Logger) Degraded() bool {
	return l.degraded.Load()
}

// CheckHealth fails while the durable sink is degraded
func (l *Logger) CheckHealth(context.Context) error {
	if l.Degraded() {
		return fmt.Errorf("audit sink degraded (%d writes queued)", l.pool.Backlog())
	}
	return nil
}

// Close drains pending sink writes and releases outputs
func (l *Logger) Close() error {
	var err error
	if l.pool != nil {
		l.pool.Stop()
	}
	if l.sink != nil {
		err = l.sink.Close()
	}
	_ = l.out.Sync()
	l.closeFn()
	return err
}

func putNullDecimal(fields map[string]interface{}, key string, v decimal.NullDecimal) {
	if v.Valid {
		fields[key] = v.Decimal.String()
	}
}
