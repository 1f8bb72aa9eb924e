// Package health aggregates component liveness checks
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"execution_client/internal/core"
)

// CheckFunc reports nil when the component is usable
type CheckFunc func(ctx context.Context) error

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

type ComponentStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type Report struct {
	Healthy    bool              `json:"healthy"`
	CheckedAt  time.Time         `json:"checked_at"`
	Components []ComponentStatus `json:"components"`
}

// HealthManager aggregates health status from registered components
type HealthManager struct {
	logger core.ILogger
	mu     sync.RWMutex
	checks map[string]CheckFunc
}

func NewHealthManager(logger core.ILogger) *HealthManager {
	hm := &HealthManager{checks: make(map[string]CheckFunc)}
	if logger != nil {
		hm.logger = logger.WithField("component", "health_manager")
	}
	return hm
}

// Register adds or replaces the check for component
func (hm *HealthManager) Register(component string, check CheckFunc) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checks[component] = check
}

// Check runs every registered check, sorted by component name
func (hm *HealthManager) Check(ctx context.Context) Report {
	hm.mu.RLock()
	names := make([]string, 0, len(hm.checks))
	for name := range hm.checks {
		names = append(names, name)
	}
	checks := make(map[string]CheckFunc, len(hm.checks))
	for k, v := range hm.checks {
		checks[k] = v
	}
	hm.mu.RUnlock()
	sort.Strings(names)

	report := Report{Healthy: true, CheckedAt: time.Now().UTC(), Components: make([]ComponentStatus, 0, len(names))}
	for _, name := range names {
		st := ComponentStatus{Name: name, Status: StatusHealthy}
		if err := checks[name](ctx); err != nil {
			st.Status = StatusUnhealthy
			st.Error = err.Error()
			report.Healthy = false
			if hm.logger != nil {
				hm.logger.Warn("Health check failed", "check", name, "error", err)
			}
		}
		report.Components = append(report.Components, st)
	}
	return report
}

// IsHealthy returns true if all components pass
func (hm *HealthManager) IsHealthy(ctx context.Context) bool {
	return hm.Check(ctx).Healthy
}

// Handler serves the report as JSON, 503 when any component is unhealthy
func (hm *HealthManager) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		report := hm.Check(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if !report.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(report)
	})
}
