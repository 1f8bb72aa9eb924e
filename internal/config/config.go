// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	Broker    BrokerConfig    `yaml:"broker"`
	Execution ExecutionConfig `yaml:"execution"`
	Risk      RiskConfig      `yaml:"risk"`
	Audit     AuditConfig     `yaml:"audit"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	System    SystemConfig    `yaml:"system"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// BrokerConfig describes the gateway session and reconnect policy
type BrokerConfig struct {
	Host                       string `yaml:"host"`
	Port                       int    `yaml:"port"`
	ClientID                   int    `yaml:"client_id"`
	ReadOnly                   bool   `yaml:"readonly"`
	Transport                  string `yaml:"transport"` // websocket or mock
	ConnectTimeoutMs           int    `yaml:"connect_timeout_ms"`
	RequestTimeoutMs           int    `yaml:"request_timeout_ms"`
	PingIntervalSeconds        int    `yaml:"ping_interval_seconds"`
	MaxReconnectAttempts       int    `yaml:"max_reconnect_attempts"`
	ReconnectBackoffSeconds    int    `yaml:"reconnect_backoff_seconds"`
	ReconnectMaxBackoffSeconds int    `yaml:"reconnect_max_backoff_seconds"` // 0 = uncapped
	LivenessIntervalSeconds    int    `yaml:"liveness_interval_seconds"`
	AutoReconnect              bool   `yaml:"auto_reconnect"`
}

// ExecutionConfig tunes the order executor
type ExecutionConfig struct {
	AckGraceMs          int     `yaml:"ack_grace_ms"`
	OrdersPerSecond     float64 `yaml:"orders_per_second"` // 0 disables pacing
	OrderBurst          int     `yaml:"order_burst"`
	DefaultCancelReason string  `yaml:"default_cancel_reason"`
	HandlerQueue        int     `yaml:"handler_queue"` // pending order events; delivery is in order on one worker
}

// RiskConfig configures the limits gate. Limits are decimal strings; empty or zero disables a check.
type RiskConfig struct {
	Enabled          bool   `yaml:"enabled"`
	MaxOrderQuantity string `yaml:"max_order_quantity"`
	MaxOrderValue    string `yaml:"max_order_value"`
}

// AuditConfig selects the audit stream target and the durable store
type AuditConfig struct {
	Output      string `yaml:"output"`      // "stdout", "stderr" or a file path
	SQLitePath  string `yaml:"sqlite_path"` // empty disables the durable store
	SinkWorkers int    `yaml:"sink_workers"`
	SinkQueue   int    `yaml:"sink_queue"`
}

// AlertsConfig contains escalation channels
type AlertsConfig struct {
	SlackWebhookURL  Secret `yaml:"slack_webhook_url"`
	TelegramBotToken Secret `yaml:"telegram_bot_token"`
	TelegramChatID   string `yaml:"telegram_chat_id"`
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel string `yaml:"log_level"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	ServiceName   string `yaml:"service_name"`
	MetricsPort   int    `yaml:"metrics_port"`
	EnableMetrics bool   `yaml:"enable_metrics"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable expansion.
// Unset keys keep their DefaultConfig values.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	config := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expandedData), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errs []string

	for _, validate := range []func() error{
		c.validateBrokerConfig,
		c.validateExecutionConfig,
		c.validateRiskConfig,
		c.validateAuditConfig,
		c.validateSystemConfig,
		c.validateTelemetryConfig,
	} {
		if err := validate(); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}

func (c *Config) validateBrokerConfig() error {
	b := c.Broker
	if b.Host == "" {
		return ValidationError{Field: "broker.host", Message: "gateway host is required"}
	}
	if b.Port <= 0 || b.Port > 65535 {
		return ValidationError{Field: "broker.port", Value: b.Port, Message: "must be between 1 and 65535"}
	}
	if !contains([]string{"websocket", "mock"}, b.Transport) {
		return ValidationError{Field: "broker.transport", Value: b.Transport, Message: "must be one of: websocket, mock"}
	}
	if b.MaxReconnectAttempts < 1 {
		return ValidationError{Field: "broker.max_reconnect_attempts", Value: b.MaxReconnectAttempts, Message: "must be at least 1"}
	}
	if b.ReconnectBackoffSeconds < 0 {
		return ValidationError{Field: "broker.reconnect_backoff_seconds", Value: b.ReconnectBackoffSeconds, Message: "must not be negative"}
	}
	if b.ReconnectMaxBackoffSeconds != 0 && b.ReconnectMaxBackoffSeconds < b.ReconnectBackoffSeconds {
		return ValidationError{
			Field:   "broker.reconnect_max_backoff_seconds",
			Value:   b.ReconnectMaxBackoffSeconds,
			Message: "must be zero or at least reconnect_backoff_seconds",
		}
	}
	if b.LivenessIntervalSeconds < 0 {
		return ValidationError{Field: "broker.liveness_interval_seconds", Value: b.LivenessIntervalSeconds, Message: "must not be negative"}
	}
	return nil
}

func (c *Config) validateExecutionConfig() error {
	e := c.Execution
	if e.AckGraceMs < 0 || e.AckGraceMs > 10000 {
		return ValidationError{Field: "execution.ack_grace_ms", Value: e.AckGraceMs, Message: "must be between 0 and 10000"}
	}
	if e.OrdersPerSecond < 0 {
		return ValidationError{Field: "execution.orders_per_second", Value: e.OrdersPerSecond, Message: "must not be negative"}
	}
	if e.OrdersPerSecond > 0 && e.OrderBurst < 1 {
		return ValidationError{Field: "execution.order_burst", Value: e.OrderBurst, Message: "must be at least 1 when pacing is enabled"}
	}
	return nil
}

func (c *Config) validateRiskConfig() error {
	if !c.Risk.Enabled {
		return nil
	}
	if _, _, err := c.Risk.Limits(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateAuditConfig() error {
	if c.Audit.Output == "" {
		return ValidationError{Field: "audit.output", Message: "audit output is required (stdout, stderr or a file path)"}
	}
	return nil
}

func (c *Config) validateSystemConfig() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	return nil
}

func (c *Config) validateTelemetryConfig() error {
	if c.Telemetry.EnableMetrics && (c.Telemetry.MetricsPort <= 0 || c.Telemetry.MetricsPort > 65535) {
		return ValidationError{Field: "telemetry.metrics_port", Value: c.Telemetry.MetricsPort, Message: "must be between 1 and 65535"}
	}
	return nil
}

// Limits parses the configured risk limits
func (r RiskConfig) Limits() (maxQty, maxValue decimal.Decimal, err error) {
	maxQty, err = parseLimit("risk.max_order_quantity", r.MaxOrderQuantity)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	maxValue, err = parseLimit("risk.max_order_value", r.MaxOrderValue)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return maxQty, maxValue, nil
}

func parseLimit(field, raw string) (decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		return decimal.Zero, nil
	}
	v, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, ValidationError{Field: field, Value: raw, Message: "must be a decimal number"}
	}
	if v.IsNegative() {
		return decimal.Zero, ValidationError{Field: field, Value: raw, Message: "must not be negative"}
	}
	return v, nil
}

// Address returns host:port of the gateway
func (b BrokerConfig) Address() string {
	return fmt.Sprintf("%s:%d", b.Host, b.Port)
}

func (b BrokerConfig) ReconnectBackoff() time.Duration {
	return time.Duration(b.ReconnectBackoffSeconds) * time.Second
}

func (b BrokerConfig) ReconnectMaxBackoff() time.Duration {
	return time.Duration(b.ReconnectMaxBackoffSeconds) * time.Second
}

func (b BrokerConfig) LivenessInterval() time.Duration {
	return time.Duration(b.LivenessIntervalSeconds) * time.Second
}

func (e ExecutionConfig) AckGrace() time.Duration {
	return time.Duration(e.AckGraceMs) * time.Millisecond
}

// String returns the config as YAML with secrets redacted
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// Helper functions

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// DefaultConfig returns the configuration used when a key is not set
func DefaultConfig() *Config {
	return &Config{
		Broker: BrokerConfig{
			Host:                    "127.0.0.1",
			Port:                    7497,
			ClientID:                1,
			Transport:               "websocket",
			ConnectTimeoutMs:        5000,
			RequestTimeoutMs:        10000,
			PingIntervalSeconds:     15,
			MaxReconnectAttempts:    5,
			ReconnectBackoffSeconds: 5,
			LivenessIntervalSeconds: 10,
		},
		Execution: ExecutionConfig{
			AckGraceMs:          500,
			OrdersPerSecond:     40,
			OrderBurst:          10,
			DefaultCancelReason: "User requested cancellation",
			HandlerQueue:        1024,
		},
		Risk: RiskConfig{
			Enabled: false,
		},
		Audit: AuditConfig{
			Output:      "stdout",
			SinkWorkers: 2,
			SinkQueue:   1024,
		},
		System: SystemConfig{
			LogLevel: "INFO",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "execution_client",
			MetricsPort: 9090,
		},
	}
}
