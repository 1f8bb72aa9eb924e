// Package bootstrap wires the execution client from configuration and runs its long-lived components
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"execution_client/internal/alert"
	"execution_client/internal/audit"
	"execution_client/internal/broker"
	"execution_client/internal/config"
	"execution_client/internal/connection"
	"execution_client/internal/core"
	"execution_client/internal/execution"
	"execution_client/internal/infrastructure/health"
	"execution_client/internal/infrastructure/metrics"
	"execution_client/internal/logging"
	"execution_client/internal/mock"
	"execution_client/internal/risk"
	"execution_client/pkg/telemetry"

	"golang.org/x/sync/errgroup"
)

// Options adjusts wiring that depends on how the process is used
type Options struct {
	// Serve enables the stdout OTel exporters; CLI commands keep stdout for results
	Serve bool
	// Session overrides the configured transport, mostly for tests
	Session broker.SessionFactory
}

// App holds the wired components
type App struct {
	Cfg       *config.Config
	Logger    *logging.ZapLogger
	Telemetry *telemetry.Telemetry
	Alerts    *alert.AlertManager
	Audit     *audit.Logger
	AuditDB   *audit.SQLiteSink
	Health    *health.HealthManager
	Conn      *connection.Manager
	Executor  *execution.OrderExecutor
}

// NewApp loads configPath and builds the application
func NewApp(configPath string, opts Options) (*App, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Build(cfg, opts)
}

// Build wires every component from cfg
func Build(cfg *config.Config, opts Options) (*App, error) {
	app := &App{Cfg: cfg}

	if cfg.Telemetry.EnableMetrics {
		tel, err := telemetry.Setup(telemetry.Options{
			ServiceName:  cfg.Telemetry.ServiceName,
			StdoutTraces: opts.Serve,
			StdoutLogs:   opts.Serve,
		})
		if err != nil {
			return nil, fmt.Errorf("telemetry: %w", err)
		}
		app.Telemetry = tel
	}

	logger, err := logging.NewZapLogger(cfg.System.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	app.Logger = logger

	app.Alerts = alert.NewAlertManager(logger)
	if url := cfg.Alerts.SlackWebhookURL.Reveal(); url != "" {
		app.Alerts.AddChannel(alert.NewSlackChannel(url))
	}
	if token := cfg.Alerts.TelegramBotToken.Reveal(); token != "" && cfg.Alerts.TelegramChatID != "" {
		app.Alerts.AddChannel(alert.NewTelegramChannel(token, cfg.Alerts.TelegramChatID))
	}

	auditOpts := audit.Options{
		Output:      cfg.Audit.Output,
		SinkWorkers: cfg.Audit.SinkWorkers,
		SinkQueue:   cfg.Audit.SinkQueue,
		Alerter:     app.Alerts,
	}
	if cfg.Audit.SQLitePath != "" {
		sink, err := audit.NewSQLiteSink(cfg.Audit.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("audit store: %w", err)
		}
		app.AuditDB = sink
		auditOpts.Sink = sink
	}
	app.Audit, err = audit.NewLogger(auditOpts, logger)
	if err != nil {
		if app.AuditDB != nil {
			_ = app.AuditDB.Close()
		}
		return nil, fmt.Errorf("audit: %w", err)
	}

	factory := opts.Session
	if factory == nil {
		factory = sessionFactory(cfg.Broker, logger)
	}
	app.Conn = connection.NewManager(connection.ConfigFromBroker(cfg.Broker), factory, app.Audit, logger)
	app.Conn.SetAlerter(app.Alerts)

	var gate core.IRiskGate
	if cfg.Risk.Enabled {
		limits, err := risk.NewLimitsGateFromConfig(cfg.Risk)
		if err != nil {
			return nil, fmt.Errorf("risk: %w", err)
		}
		gate = limits
	}
	app.Executor = execution.NewOrderExecutor(app.Conn, gate, app.Audit, logger, execution.ConfigFromExecution(cfg.Execution))

	app.Health = health.NewHealthManager(logger)
	app.Health.Register("broker_connection", app.Conn.CheckHealth)
	app.Health.Register("audit", app.Audit.CheckHealth)

	return app, nil
}

func sessionFactory(b config.BrokerConfig, logger core.ILogger) broker.SessionFactory {
	if b.Transport == "mock" {
		// one in-process book for the lifetime of the process
		book := mock.NewMockSession()
		return func() broker.Session { return book }
	}
	wsCfg := broker.WSConfig{
		DialTimeout:    time.Duration(b.ConnectTimeoutMs) * time.Millisecond,
		RequestTimeout: time.Duration(b.RequestTimeoutMs) * time.Millisecond,
		PingInterval:   time.Duration(b.PingIntervalSeconds) * time.Second,
	}
	return func() broker.Session { return broker.NewWSSession(wsCfg, logger) }
}

// Runner is a component that runs until ctx is cancelled
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a function to Runner
type RunnerFunc func(ctx context.Context) error

func (f RunnerFunc) Run(ctx context.Context) error { return f(ctx) }

// Run starts runners and blocks until a signal arrives or one of them fails
func (a *App) Run(runners ...Runner) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx, runners...)
}

// RunContext is Run with a caller-supplied context
func (a *App) RunContext(ctx context.Context, runners ...Runner) error {
	g, ctx := errgroup.WithContext(ctx)

	a.Logger.Info("Starting execution client", "gateway", a.Conn.Address())
	for _, r := range runners {
		r := r
		g.Go(func() error {
			return r.Run(ctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error("Execution client stopped with error", "error", err)
		return err
	}
	a.Logger.Info("Execution client shut down gracefully")
	return nil
}

// Runners returns the long-lived components of serve mode
func (a *App) Runners() []Runner {
	runners := []Runner{
		RunnerFunc(func(ctx context.Context) error {
			if err := a.Conn.ConnectWithRetry(ctx); err != nil {
				// the monitor keeps trying when auto_reconnect is set
				if !a.Cfg.Broker.AutoReconnect {
					return err
				}
				a.Logger.Warn("Initial connect failed", "error", err)
			}
			return a.Conn.Monitor(ctx, a.Cfg.Broker.LivenessInterval())
		}),
	}
	if a.Cfg.Telemetry.EnableMetrics {
		srv := metrics.NewServer(a.Cfg.Telemetry.MetricsPort, a.Health, a.Logger)
		runners = append(runners, srv)
	}
	return runners
}

// Close releases components, broker session first
func (a *App) Close() error {
	var errs []error
	// the session stops pushing order events before the executor's queue closes
	if a.Conn != nil {
		if err := a.Conn.Disconnect(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Executor != nil {
		a.Executor.Close()
	}
	if a.Audit != nil {
		if err := a.Audit.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Alerts != nil {
		a.Alerts.Wait()
	}
	if a.Telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
	return errors.Join(errs...)
}

// LoadConfig loads the configuration and runs environment checks
func LoadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := checkPreFlight(cfg); err != nil {
		return nil, fmt.Errorf("pre-flight checks failed: %w", err)
	}
	return cfg, nil
}

// checkPreFlight performs environment checks beyond schema validation
func checkPreFlight(cfg *config.Config) error {
	paths := []string{cfg.Audit.SQLitePath}
	if out := cfg.Audit.Output; out != "stdout" && out != "stderr" {
		paths = append(paths, out)
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		dir := filepath.Dir(p)
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("audit directory %s: %w", dir, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("audit directory %s is not a directory", dir)
		}
	}
	return nil
}
