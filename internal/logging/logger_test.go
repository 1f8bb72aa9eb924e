package logging

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, zap.DebugLevel, lvl)

	lvl, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, zap.InfoLevel, lvl)

	_, err = ParseLevel("VERBOSE")
	assert.Error(t, err)
}

func TestZapLogger_FieldsAndChildren(t *testing.T) {
	obsCore, logs := observer.New(zapcore.DebugLevel)
	logger := NewFromZap(zap.New(obsCore))

	child := logger.WithField("component", "order_executor")
	child.Info("Order submitted", "order_id", "42", "symbol", "AAPL")
	child.WithFields(map[string]interface{}{"client_order_id": "cid-1"}).
		Error("Placement failed", "error", errors.New("boom"))

	entries := logs.All()
	require.Len(t, entries, 2)

	first := entries[0].ContextMap()
	assert.Equal(t, "order_executor", first["component"])
	assert.Equal(t, "42", first["order_id"])
	assert.Equal(t, "AAPL", first["symbol"])

	second := entries[1].ContextMap()
	assert.Equal(t, "cid-1", second["client_order_id"])
	assert.Equal(t, "boom", second["error"])
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
}

func TestZapLogger_OddFieldCountDropsDangling(t *testing.T) {
	obsCore, logs := observer.New(zapcore.InfoLevel)
	logger := NewFromZap(zap.New(obsCore))

	logger.Info("msg", "key", "value", "dangling")
	logger.Debug("filtered")

	require.Len(t, logs.All(), 1)
	assert.Len(t, logs.All()[0].Context, 1)
}

func TestNewZapLogger(t *testing.T) {
	l, err := NewZapLogger("WARN")
	require.NoError(t, err)
	require.NotNil(t, l)

	_, err = NewZapLogger("loud")
	assert.Error(t, err)
}
