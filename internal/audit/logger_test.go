package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"execution_client/internal/logging"
	"execution_client/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingAlerter struct {
	mu     sync.Mutex
	titles []string
}

func (a *recordingAlerter) Escalate(ctx context.Context, title, message string, fields map[string]string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.titles = append(a.titles, title)
}

func (a *recordingAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.titles)
}

type failingSink struct {
	mu     sync.Mutex
	writes int
	err    error
}

func (s *failingSink) Write(ctx context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	return s.err
}

func (s *failingSink) Close() error { return nil }

func (s *failingSink) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	sc := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	for sc.Scan() {
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	return out
}

func limitRequest(t *testing.T) model.OrderRequest {
	t.Helper()
	req, err := model.NewOrderRequest("AAPL", decimal.NewFromInt(100), model.SideBuy,
		model.Limit{Price: decimal.RequireFromString("150.25")}, model.TimeInForceDay)
	require.NoError(t, err)
	return req.WithClientOrderID("cid-1")
}

func TestLogger_OrderSubmittedCorrelatesIds(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogger(Options{Writer: &buf}, logging.NewNop())
	require.NoError(t, err)

	req := limitRequest(t)
	order := model.NewOrderFromRequest("42", req, model.OrderStatusSubmitted, time.Now())
	l.LogOrderSubmitted(req, order)
	l.LogOrderStatusChange(order.WithExecution(model.OrderStatusFilled, decimal.NewFromInt(100), decimal.NewNullDecimal(decimal.RequireFromString("150.1"))), model.OrderStatusSubmitted)
	require.NoError(t, l.Close())

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)

	submitted := lines[0]
	assert.Equal(t, "ORDER_SUBMITTED", submitted["event"])
	assert.Equal(t, "42", submitted["order_id"])
	assert.Equal(t, "cid-1", submitted["client_order_id"])
	assert.Equal(t, "LIMIT", submitted["order_type"])
	assert.Equal(t, "150.25", submitted["limit_price"])
	assert.NotContains(t, submitted, "stop_price")
	assert.NotEmpty(t, submitted["event_id"])

	change := lines[1]
	assert.Equal(t, "ORDER_STATUS_CHANGE", change["event"])
	assert.Equal(t, "SUBMITTED", change["old_status"])
	assert.Equal(t, "FILLED", change["new_status"])
	assert.Equal(t, "150.1", change["average_fill_price"])
}

func TestLogger_AllEventKinds(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogger(Options{Writer: &buf}, logging.NewNop())
	require.NoError(t, err)

	req := limitRequest(t)
	order := model.NewOrderFromRequest("7", req, model.OrderStatusSubmitted, time.Now())
	l.LogFill(model.Fill{FillID: "e1", OrderID: "7", Symbol: "AAPL", Quantity: decimal.NewFromInt(10), Price: decimal.NewFromInt(150), Side: model.SideBuy, Timestamp: time.Now()}, "cid-1")
	l.LogOrderCancelled(order, "User requested cancellation")
	l.LogOrderRejected(order, "insufficient margin")
	l.LogConnectionEvent("CONNECTED", map[string]interface{}{"host": "127.0.0.1", "port": 7497})
	l.LogRiskCheckFailure(req, "max quantity exceeded")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 5)
	kinds := make([]string, 0, len(lines))
	for _, line := range lines {
		kinds = append(kinds, line["event"].(string))
	}
	assert.Equal(t, []string{"ORDER_FILL", "ORDER_CANCELLED", "ORDER_REJECTED", "CONNECTION_EVENT", "RISK_CHECK_FAILED"}, kinds)
	assert.Equal(t, "User requested cancellation", lines[1]["reason"])
	assert.Equal(t, "CONNECTED", lines[3]["connection_event"])
	assert.Equal(t, "cid-1", lines[4]["client_order_id"])
	assert.NotContains(t, lines[4], "order_id")
}

func TestLogger_SinkFailureEscalatesOnce(t *testing.T) {
	sink := &failingSink{err: errors.New("disk full")}
	alerter := &recordingAlerter{}
	l, err := NewLogger(Options{Writer: &bytes.Buffer{}, Sink: sink, SinkWorkers: 1, Alerter: alerter}, logging.NewNop())
	require.NoError(t, err)

	l.LogConnectionEvent("CONNECTED", nil)
	l.LogConnectionEvent("DISCONNECTED", nil)

	assert.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return sink.writes == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, alerter.count())
	assert.True(t, l.Degraded())
	assert.Error(t, l.CheckHealth(context.Background()))

	sink.setErr(nil)
	l.LogConnectionEvent("CONNECTED", nil)
	require.NoError(t, l.Close())
	assert.False(t, l.Degraded())
}

func TestLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	l, err := NewLogger(Options{Output: path}, logging.NewNop())
	require.NoError(t, err)
	l.LogConnectionEvent("CONNECTED", nil)
	require.NoError(t, l.Close())
	assert.FileExists(t, path)
}

func TestLogger_NopNeverPanics(t *testing.T) {
	l := NewNop()
	assert.NotPanics(t, func() {
		l.LogRiskCheckFailure(model.OrderRequest{}, "invalid")
		l.LogOrderRejected(model.Order{}, "")
	})
	assert.NoError(t, l.Close())
}
