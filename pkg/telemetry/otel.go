package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	tracetype "go.opentelemetry.io/otel/trace"
)

// Options selects which providers Setup installs
type Options struct {
	ServiceName string
	// StdoutTraces exports spans to stdout; off for CLI commands whose stdout is parsed
	StdoutTraces bool
	StdoutLogs   bool
}

// Telemetry owns the installed OTel providers
type Telemetry struct {
	tp *trace.TracerProvider
	mp *sdkmetric.MeterProvider
	lp *sdklog.LoggerProvider
}

// Setup installs the trace, metric and log providers globally.
// Metrics always go to the Prometheus exporter.
func Setup(opts Options) (*Telemetry, error) {
	ctx := context.Background()

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(opts.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tpOpts := []trace.TracerProviderOption{trace.WithResource(res)}
	if opts.StdoutTraces {
		traceExporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		tpOpts = append(tpOpts, trace.WithBatcher(traceExporter))
	}
	tp := trace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)

	metricExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(metricExporter),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	if err := GetGlobalMetrics().InitMetrics(mp.Meter(opts.ServiceName)); err != nil {
		return nil, fmt.Errorf("failed to init metrics: %w", err)
	}

	lpOpts := []sdklog.LoggerProviderOption{sdklog.WithResource(res)}
	if opts.StdoutLogs {
		logExporter, err := stdoutlog.New(stdoutlog.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create log exporter: %w", err)
		}
		lpOpts = append(lpOpts, sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)))
	}
	lp := sdklog.NewLoggerProvider(lpOpts...)
	global.SetLoggerProvider(lp)

	return &Telemetry{tp: tp, mp: mp, lp: lp}, nil
}

// Shutdown flushes and stops the providers, logs last so shutdown errors still reach them
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	for _, p := range []struct {
		name     string
		shutdown func(context.Context) error
	}{
		{"trace", t.tp.Shutdown},
		{"meter", t.mp.Shutdown},
		{"log", t.lp.Shutdown},
	} {
		if err := p.shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s provider: %w", p.name, err))
		}
	}
	return errors.Join(errs...)
}

// GetMeter returns a meter for the given name
func GetMeter(name string) metric.Meter {
	return otel.GetMeterProvider().Meter(name)
}

// GetTracer returns a tracer for the given name
func GetTracer(name string) tracetype.Tracer {
	return otel.GetTracerProvider().Tracer(name)
}
