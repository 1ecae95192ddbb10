package telemetry

import (
	"context"
	"errors"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/relevanced/internal/config"
)

// Telemetry owns the OpenTelemetry trace and metric providers for the
// process. A provider that fails to initialize degrades the instance
// instead of failing startup: spans and metrics become no-ops and the
// degradation is reported through Health.
type Telemetry struct {
	config config.TelemetryConfig
	logger *zap.Logger

	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider

	healthy  atomic.Bool
	degraded atomic.Bool
}

// HealthStatus reports the current state of the telemetry subsystem.
type HealthStatus struct {
	Healthy  bool
	Degraded bool
	Message  string
}

// Option overrides pieces of provider construction, primarily so tests
// can capture exported spans and metrics without a collector.
type Option func(*options)

type options struct {
	traceExporter  sdktrace.SpanExporter
	metricExporter sdkmetric.Exporter
}

// WithTraceExporter replaces the OTLP span exporter.
func WithTraceExporter(exp sdktrace.SpanExporter) Option {
	return func(o *options) { o.traceExporter = exp }
}

// WithMetricExporter replaces the OTLP metric exporter.
func WithMetricExporter(exp sdkmetric.Exporter) Option {
	return func(o *options) { o.metricExporter = exp }
}

// New builds a Telemetry instance from cfg. The config must already be
// validated; New trusts field values and only reacts to exporter and
// provider construction failures.
//
// When cfg.Enabled is false the returned instance hands out no-op
// tracers and meters and Shutdown is free. When a provider cannot be
// constructed the instance is marked degraded and the failure is
// logged, but New still succeeds: telemetry must never take the
// service down with it.
func New(ctx context.Context, cfg config.TelemetryConfig, logger *zap.Logger, opts ...Option) (*Telemetry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	t := &Telemetry{
		config: cfg,
		logger: logger,
	}
	t.healthy.Store(true)

	if !cfg.Enabled {
		return t, nil
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	res := newResource(cfg)

	tp, err := newTracerProvider(ctx, cfg, res, o.traceExporter)
	if err != nil {
		t.setDegraded("tracer provider", err)
	} else {
		t.tracerProvider = tp
		otel.SetTracerProvider(tp)
	}

	mp, err := newMeterProvider(ctx, cfg, res, o.metricExporter)
	if err != nil {
		t.setDegraded("meter provider", err)
	} else {
		t.meterProvider = mp
		otel.SetMeterProvider(mp)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return t, nil
}

// Tracer returns a tracer for the given instrumentation scope. Safe to
// call on a nil or degraded instance; callers always get a usable
// tracer.
func (t *Telemetry) Tracer(name string) trace.Tracer {
	if t == nil || t.tracerProvider == nil {
		return tracenoop.NewTracerProvider().Tracer(name)
	}
	return t.tracerProvider.Tracer(name)
}

// Meter returns a meter for the given instrumentation scope, no-op when
// metrics are unavailable.
func (t *Telemetry) Meter(name string) metric.Meter {
	if t == nil || t.meterProvider == nil {
		return metricnoop.NewMeterProvider().Meter(name)
	}
	return t.meterProvider.Meter(name)
}

// IsEnabled reports whether telemetry was enabled in configuration.
func (t *Telemetry) IsEnabled() bool {
	return t != nil && t.config.Enabled
}

// Health reports whether the providers initialized cleanly.
func (t *Telemetry) Health() HealthStatus {
	if t == nil {
		return HealthStatus{Message: "telemetry not initialized"}
	}
	s := HealthStatus{
		Healthy:  t.healthy.Load(),
		Degraded: t.degraded.Load(),
	}
	switch {
	case !s.Healthy:
		s.Message = "telemetry shut down"
	case s.Degraded:
		s.Message = "telemetry degraded, see startup logs"
	default:
		s.Message = "ok"
	}
	return s
}

// ForceFlush exports all buffered spans and metrics immediately.
func (t *Telemetry) ForceFlush(ctx context.Context) error {
	if t == nil {
		return nil
	}
	var errs []error
	if t.tracerProvider != nil {
		if err := t.tracerProvider.ForceFlush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if t.meterProvider != nil {
		if err := t.meterProvider.ForceFlush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Shutdown flushes and stops both providers. If ctx carries no deadline
// the configured shutdown timeout is applied so a hung collector cannot
// stall process exit.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	t.healthy.Store(false)

	if _, ok := ctx.Deadline(); !ok && t.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.ShutdownTimeout.Duration())
		defer cancel()
	}

	var errs []error
	if t.tracerProvider != nil {
		if err := t.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if t.meterProvider != nil {
		if err := t.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t *Telemetry) setDegraded(component string, err error) {
	t.degraded.Store(true)
	t.logger.Warn("telemetry provider init failed, continuing without it",
		zap.String("component", component),
		zap.Error(err),
	)
}
