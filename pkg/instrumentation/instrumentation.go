// Package instrumentation wires OpenTelemetry tracing and metrics for the
// token engine. With instrumentation disabled every provider is a no-op.
package instrumentation

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const scopePrefix = "github.com/azzlack/Sentinel.OAuth/"

// Config holds instrumentation configuration
type Config struct {
	ServiceName    string
	ServiceVersion string

	// Enabled controls whether instrumentation is active. When false,
	// no-op providers are used.
	Enabled bool

	// MeterProvider defaults to the global provider when enabled.
	MeterProvider metric.MeterProvider

	// TracerProvider defaults to an SDK provider tagged with the service
	// resource when enabled.
	TracerProvider trace.TracerProvider
}

// Instrumentation provides OpenTelemetry instrumentation components
type Instrumentation struct {
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	metrics        *Metrics

	shutdownFuncs []func(context.Context) error
	shutdownOnce  sync.Once
}

// New creates a new instrumentation instance
func New(cfg Config) (*Instrumentation, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "sentinel"
	}
	if cfg.ServiceVersion == "" {
		cfg.ServiceVersion = "unknown"
	}

	inst := &Instrumentation{}

	switch {
	case !cfg.Enabled:
		inst.meterProvider = noop.NewMeterProvider()
		inst.tracerProvider = tracenoop.NewTracerProvider()

	default:
		inst.meterProvider = cfg.MeterProvider
		if inst.meterProvider == nil {
			inst.meterProvider = otel.GetMeterProvider()
		}

		inst.tracerProvider = cfg.TracerProvider
		if inst.tracerProvider == nil {
			res, err := resource.New(context.Background(), resource.WithAttributes(
				semconv.ServiceName(cfg.ServiceName),
				semconv.ServiceVersion(cfg.ServiceVersion),
			))
			if err != nil {
				return nil, fmt.Errorf("instrumentation: create resource: %w", err)
			}
			tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
			inst.tracerProvider = tp
			inst.shutdownFuncs = append(inst.shutdownFuncs, tp.Shutdown)
		}
	}

	m, err := newMetrics(inst.Meter("manager"))
	if err != nil {
		return nil, fmt.Errorf("instrumentation: create metrics: %w", err)
	}
	inst.metrics = m

	return inst, nil
}

// Noop returns instrumentation that records nothing.
func Noop() *Instrumentation {
	inst, _ := New(Config{})
	return inst
}

// Shutdown flushes and stops providers created by New. It is safe to call
// more than once.
func (i *Instrumentation) Shutdown(ctx context.Context) error {
	var shutdownErr error
	i.shutdownOnce.Do(func() {
		for _, fn := range i.shutdownFuncs {
			if err := fn(ctx); err != nil && shutdownErr == nil {
				shutdownErr = err
			}
		}
	})
	return shutdownErr
}

// Meter returns a named meter for the given scope, e.g. "manager".
func (i *Instrumentation) Meter(scope string) metric.Meter {
	return i.meterProvider.Meter(scopePrefix + scope)
}

// Tracer returns a named tracer for the given scope.
func (i *Instrumentation) Tracer(scope string) trace.Tracer {
	return i.tracerProvider.Tracer(scopePrefix + scope)
}

// Metrics returns the metrics holder for recording metric values
func (i *Instrumentation) Metrics() *Metrics {
	return i.metrics
}
