package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricOrdersSubmittedTotal = "execution_orders_submitted_total"
	MetricOrdersRejectedTotal  = "execution_orders_rejected_total"
	MetricRiskRejectionsTotal  = "execution_risk_rejections_total"
	MetricCancelsTotal         = "execution_cancels_total"
	MetricBrokerLatency        = "execution_broker_latency_ms"
	MetricConnectAttemptsTotal = "execution_connect_attempts_total"
	MetricConnectionState      = "execution_connection_state"
	MetricOrdersOpen           = "execution_orders_open"
	MetricAuditSinkFailures    = "execution_audit_sink_failures_total"
)

// MetricsHolder keeps the state behind the observable gauges.
// Counters and histograms are created by the components that record them.
type MetricsHolder struct {
	ConnectionState metric.Int64ObservableGauge
	OrdersOpen      metric.Int64ObservableGauge

	mu              sync.RWMutex
	connectionState map[string]int64
	openOrders      map[string]int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			connectionState: make(map[string]int64),
			openOrders:      make(map[string]int64),
		}
	})
	return globalMetrics
}

// InitMetrics registers the observable gauges on meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.ConnectionState, err = meter.Int64ObservableGauge(MetricConnectionState,
		metric.WithDescription("Broker connection state (0=disconnected, 1=connecting, 2=connected)"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for addr, val := range m.connectionState {
				obs.Observe(val, metric.WithAttributes(attribute.String("gateway", addr)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.OrdersOpen, err = meter.Int64ObservableGauge(MetricOrdersOpen,
		metric.WithDescription("Orders last reported open by the broker"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, val := range m.openOrders {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	return err
}

func (m *MetricsHolder) SetConnectionState(gateway string, state int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectionState[gateway] = state
}

// SetOpenOrders replaces the per-symbol open order counts
func (m *MetricsHolder) SetOpenOrders(counts map[string]int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openOrders = make(map[string]int64, len(counts))
	for k, v := range counts {
		m.openOrders[k] = v
	}
}

func (m *MetricsHolder) GetConnectionState() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]int64, len(m.connectionState))
	for k, v := range m.connectionState {
		res[k] = v
	}
	return res
}

func (m *MetricsHolder) GetOpenOrders() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]int64, len(m.openOrders))
	for k, v := range m.openOrders {
		res[k] = v
	}
	return res
}
