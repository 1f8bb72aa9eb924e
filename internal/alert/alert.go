// Package alert fans operator alerts out to external channels
package alert

import (
	"context"
	"sync"
	"time"

	"execution_client/internal/core"
)

type AlertLevel string

const (
	Info     AlertLevel = "INFO"
	Warning  AlertLevel = "WARNING"
	Error    AlertLevel = "ERROR"
	Critical AlertLevel = "CRITICAL"
)

type AlertPayload struct {
	Level     AlertLevel
	Title     string
	Message   string
	Timestamp time.Time
	Fields    map[string]string
}

type AlertChannel interface {
	Send(ctx context.Context, alert AlertPayload) error
	Name() string
}

// AlertManager delivers alerts to every registered channel without blocking the caller
type AlertManager struct {
	channels    []AlertChannel
	logger      core.ILogger
	sendTimeout time.Duration
	mu          sync.RWMutex
	inflight    sync.WaitGroup
}

var _ core.IAlerter = (*AlertManager)(nil)

func NewAlertManager(logger core.ILogger) *AlertManager {
	return &AlertManager{
		channels:    make([]AlertChannel, 0),
		logger:      logger.WithField("component", "alert_manager"),
		sendTimeout: 10 * time.Second,
	}
}

func (am *AlertManager) AddChannel(ch AlertChannel) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.channels = append(am.channels, ch)
	am.logger.Info("Added alert channel", "name", ch.Name())
}

// Alert sends asynchronously; delivery failures are logged only
func (am *AlertManager) Alert(ctx context.Context, title, message string, level AlertLevel, fields map[string]string) {
	payload := AlertPayload{
		Level:     level,
		Title:     title,
		Message:   message,
		Timestamp: time.Now().UTC(),
		Fields:    fields,
	}

	am.logger.Warn("Triggering alert", "title", title, "level", level)

	am.mu.RLock()
	defer am.mu.RUnlock()

	// Detached from ctx so an alert raised during shutdown is still delivered
	base := context.WithoutCancel(ctx)
	for _, ch := range am.channels {
		am.inflight.Add(1)
		go func(c AlertChannel) {
			defer am.inflight.Done()
			timeoutCtx, cancel := context.WithTimeout(base, am.sendTimeout)
			defer cancel()

			if err := c.Send(timeoutCtx, payload); err != nil {
				am.logger.Error("Failed to send alert", "channel", c.Name(), "error", err)
			}
		}(ch)
	}
}

// Escalate raises a critical alert
func (am *AlertManager) Escalate(ctx context.Context, title, message string, fields map[string]string) {
	am.Alert(ctx, title, message, Critical, fields)
}

// Wait blocks until in-flight deliveries finish
func (am *AlertManager) Wait() {
	am.inflight.Wait()
}
