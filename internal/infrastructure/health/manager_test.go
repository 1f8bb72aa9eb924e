package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthManager_Aggregation(t *testing.T) {
	hm := NewHealthManager(nil)
	ctx := context.Background()

	assert.True(t, hm.IsHealthy(ctx), "no checks means healthy")

	hm.Register("executor", func(context.Context) error { return nil })
	assert.True(t, hm.IsHealthy(ctx))

	hm.Register("connection", func(context.Context) error { return errors.New("not connected") })
	report := hm.Check(ctx)
	assert.False(t, report.Healthy)
	require.Len(t, report.Components, 2)
	assert.Equal(t, "connection", report.Components[0].Name)
	assert.Equal(t, StatusUnhealthy, report.Components[0].Status)
	assert.Equal(t, "not connected", report.Components[0].Error)
	assert.Equal(t, StatusHealthy, report.Components[1].Status)
}

func TestHealthManager_Handler(t *testing.T) {
	hm := NewHealthManager(nil)
	healthy := true
	hm.Register("connection", func(context.Context) error {
		if healthy {
			return nil
		}
		return errors.New("down")
	})

	rec := httptest.NewRecorder()
	hm.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	healthy = false
	rec = httptest.NewRecorder()
	hm.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var report Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.False(t, report.Healthy)
}
